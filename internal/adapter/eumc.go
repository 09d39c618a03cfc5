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
	eumcBaseURL         = "https://eumc.applyin.co.kr"
	eumcDefaultPageSize = 50
	eumcOpenCategory    = "수시"
)

type eumcJob struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Status struct {
		Code string `json:"code"`
		Text string `json:"text"`
	} `json:"status"`
	Categories []struct {
		Text string `json:"text"`
	} `json:"categories"`
	Start string            `json:"start"`
	End   string            `json:"end"`
	Links map[string]string `json:"links"`
}

type eumcResponse struct {
	Data []eumcJob `json:"data"`
	Meta *struct {
		CurrentPage int `json:"current_page"`
		LastPage    int `json:"last_page"`
	} `json:"meta"`
}

// EUMCAdapter reads the Ewha Womans University Medical Center job API.
type EUMCAdapter struct {
	client *http.Client
	cursor model.CursorReader
	opts   APIOptions
	now    func() time.Time
	logger *slog.Logger
}

var _ model.SourceAdapter = (*EUMCAdapter)(nil)

// NewEUMCAdapter creates the adapter.
func NewEUMCAdapter(client *http.Client, cursor model.CursorReader, opts APIOptions, logger *slog.Logger) *EUMCAdapter {
	return &EUMCAdapter{
		client: client,
		cursor: cursor,
		opts:   opts.withDefaults(eumcBaseURL, eumcDefaultPageSize),
		now:    time.Now,
		logger: logger.With("source", SourceEUMC),
	}
}

func (a *EUMCAdapter) Source() string { return SourceEUMC }

// Scrape returns postings newer than the stored cursor, oldest first.
func (a *EUMCAdapter) Scrape(ctx context.Context) ([]model.Posting, error) {
	cursor, err := cursorFor(ctx, a.cursor, SourceEUMC)
	if err != nil {
		return nil, err
	}
	return walkPages(ctx, SourceEUMC, a.opts, cursor, a.fetchPage, a.logger)
}

func (a *EUMCAdapter) fetchPage(ctx context.Context, page int) (apiPage, error) {
	req, err := newRequest(http.MethodGet, a.opts.BaseURL, "/jobs/", url.Values{
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(a.opts.PageSize)},
	})
	if err != nil {
		return apiPage{}, fmt.Errorf("eumc: build request: %w", err)
	}

	var resp eumcResponse
	if err := fetchJSON(ctx, a.client, SourceEUMC, req, &resp); err != nil {
		return apiPage{}, err
	}
	if resp.Data == nil {
		return apiPage{}, &model.StructuralChangeError{Source: SourceEUMC, Detail: "response has no data field"}
	}

	res := apiPage{lastPage: 1}
	if resp.Meta != nil && resp.Meta.LastPage > 0 {
		res.lastPage = resp.Meta.LastPage
	}
	for _, j := range resp.Data {
		p, err := a.toPosting(j)
		if err != nil {
			return apiPage{}, err
		}
		res.postings = append(res.postings, p)
	}
	return res, nil
}

func (a *EUMCAdapter) toPosting(j eumcJob) (model.Posting, error) {
	if j.ID == 0 || j.Title == "" {
		return model.Posting{}, &model.StructuralChangeError{Source: SourceEUMC, Detail: fmt.Sprintf("job %d: missing id or title", j.ID)}
	}

	openEnded := false
	for _, c := range j.Categories {
		if c.Text == eumcOpenCategory {
			openEnded = true
			break
		}
	}

	p := model.Posting{
		SourceID:          SourceEUMC,
		ExternalID:        strconv.FormatInt(j.ID, 10),
		Title:             extractText(j.Title),
		URL:               j.Links["jobs.show"],
		IsOpenUntilFilled: openEnded,
	}

	// Postings without a start date are open from the moment we see them.
	p.StartAt = a.now()
	if j.Start != "" {
		start, err := parseSiteDate(j.Start)
		if err != nil {
			return model.Posting{}, &model.StructuralChangeError{Source: SourceEUMC, Detail: fmt.Sprintf("job %d: start: %v", j.ID, err)}
		}
		p.StartAt = start
	}

	if !openEnded && j.End != "" {
		end, err := parseSiteDate(j.End)
		if err != nil {
			return model.Posting{}, &model.StructuralChangeError{Source: SourceEUMC, Detail: fmt.Sprintf("job %d: end: %v", j.ID, err)}
		}
		p.EndAt = &end
	}
	return p, nil
}
