package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/amishk599/recruitwatch/internal/model"
)

const (
	caumcBaseURL         = "https://caumc.recruiter.co.kr"
	caumcDefaultPageSize = 100
)

type caumcTime struct {
	Time int64 `json:"time"` // epoch milliseconds
}

type caumcNotice struct {
	JobnoticeSn    int64      `json:"jobnoticeSn"`
	JobnoticeName  string     `json:"jobnoticeName"`
	SystemKindCode string     `json:"systemKindCode"`
	ApplyStartDate *caumcTime `json:"applyStartDate"`
	ApplyEndDate   *caumcTime `json:"applyEndDate"`
	ReceiptState   string     `json:"receiptState"`
}

type caumcResponse struct {
	PageUtil *struct {
		LastPage    int `json:"lastPage"`
		CurrentPage int `json:"currentPage"`
	} `json:"pageUtil"`
	List []caumcNotice `json:"list"`
}

// CAUMCAdapter reads the Chung-Ang University Medical Center recruiter API.
type CAUMCAdapter struct {
	client *http.Client
	cursor model.CursorReader
	opts   APIOptions
	logger *slog.Logger
}

var _ model.SourceAdapter = (*CAUMCAdapter)(nil)

// NewCAUMCAdapter creates the adapter.
func NewCAUMCAdapter(client *http.Client, cursor model.CursorReader, opts APIOptions, logger *slog.Logger) *CAUMCAdapter {
	return &CAUMCAdapter{
		client: client,
		cursor: cursor,
		opts:   opts.withDefaults(caumcBaseURL, caumcDefaultPageSize),
		logger: logger.With("source", SourceCAUMC),
	}
}

func (a *CAUMCAdapter) Source() string { return SourceCAUMC }

// Scrape returns postings newer than the stored cursor, oldest first.
func (a *CAUMCAdapter) Scrape(ctx context.Context) ([]model.Posting, error) {
	cursor, err := cursorFor(ctx, a.cursor, SourceCAUMC)
	if err != nil {
		return nil, err
	}
	return walkPages(ctx, SourceCAUMC, a.opts, cursor, a.fetchPage, a.logger)
}

func (a *CAUMCAdapter) fetchPage(ctx context.Context, page int) (apiPage, error) {
	req, err := newRequest(http.MethodPost, a.opts.BaseURL, "/app/jobnotice/list.json", url.Values{
		"pageSize":    {strconv.Itoa(a.opts.PageSize)},
		"currentPage": {strconv.Itoa(page)},
	})
	if err != nil {
		return apiPage{}, fmt.Errorf("caumc: build request: %w", err)
	}

	var resp caumcResponse
	if err := fetchJSON(ctx, a.client, SourceCAUMC, req, &resp); err != nil {
		return apiPage{}, err
	}
	if resp.PageUtil == nil {
		return apiPage{}, &model.StructuralChangeError{Source: SourceCAUMC, Detail: "response has no pageUtil"}
	}

	res := apiPage{lastPage: resp.PageUtil.LastPage}
	for _, n := range resp.List {
		p, err := a.toPosting(n)
		if err != nil {
			return apiPage{}, err
		}
		res.postings = append(res.postings, p)
	}
	return res, nil
}

func (a *CAUMCAdapter) toPosting(n caumcNotice) (model.Posting, error) {
	if n.JobnoticeSn == 0 || n.JobnoticeName == "" {
		return model.Posting{}, &model.StructuralChangeError{Source: SourceCAUMC, Detail: fmt.Sprintf("notice %d: missing id or name", n.JobnoticeSn)}
	}
	if n.ApplyStartDate == nil {
		return model.Posting{}, &model.StructuralChangeError{Source: SourceCAUMC, Detail: fmt.Sprintf("notice %d: missing applyStartDate", n.JobnoticeSn)}
	}

	sn := strconv.FormatInt(n.JobnoticeSn, 10)
	link := a.opts.BaseURL + "/app/jobnotice/view?" + url.Values{
		"systemKindCode": {n.SystemKindCode},
		"jobnoticeSn":    {sn},
	}.Encode()

	p := model.Posting{
		SourceID:   SourceCAUMC,
		ExternalID: sn,
		Title:      extractText(n.JobnoticeName),
		URL:        link,
		StartAt:    time.UnixMilli(n.ApplyStartDate.Time).In(seoul),
	}
	if n.ApplyEndDate != nil && n.ApplyEndDate.Time > 0 {
		end := time.UnixMilli(n.ApplyEndDate.Time).In(seoul)
		p.EndAt = &end
	} else {
		p.IsOpenUntilFilled = true
	}
	return p, nil
}
