package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/amishk599/recruitwatch/internal/model"
)

var _ model.Alerter = (*SlackAlerter)(nil)

// SlackAlerter posts source failures that need an operator to a Slack
// channel via Incoming Webhooks.
type SlackAlerter struct {
	webhookURL string
	httpClient *http.Client
	links      map[string]string // source id -> listing page
	loc        *time.Location
	logger     *slog.Logger
}

// NewSlackAlerter returns an alerter posting to webhookURL. links maps a
// source id to its public listing page and may be nil.
func NewSlackAlerter(webhookURL string, httpClient *http.Client, links map[string]string, loc *time.Location, logger *slog.Logger) *SlackAlerter {
	if loc == nil {
		loc = time.UTC
	}
	return &SlackAlerter{
		webhookURL: webhookURL,
		httpClient: httpClient,
		links:      links,
		loc:        loc,
		logger:     logger,
	}
}

// Alert sends one message describing err for sourceID. A 429 is retried
// once after the advertised Retry-After.
func (s *SlackAlerter) Alert(ctx context.Context, sourceID string, err error) error {
	payload := buildAlertPayload(sourceID, err, s.links[sourceID], time.Now().In(s.loc))

	body, merr := json.Marshal(payload)
	if merr != nil {
		return fmt.Errorf("marshal slack payload: %w", merr)
	}

	status, retryAfter, perr := s.post(ctx, body)
	if perr != nil {
		return perr
	}

	if status == http.StatusTooManyRequests {
		s.logger.Warn("slack rate limited, retrying", "retry_after", retryAfter)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryAfter):
		}

		status, _, perr = s.post(ctx, body)
		if perr != nil {
			return fmt.Errorf("post to slack (retry): %w", perr)
		}
		if status != http.StatusOK {
			return fmt.Errorf("slack returned %d on retry", status)
		}
		s.logger.Info("slack alert sent", "source", sourceID, "retried", true)
		return nil
	}

	if status != http.StatusOK {
		return fmt.Errorf("slack returned %d", status)
	}
	s.logger.Info("slack alert sent", "source", sourceID)
	return nil
}

func (s *SlackAlerter) post(ctx context.Context, body []byte) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("building slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
	if secs <= 0 {
		secs = 1
	}
	return resp.StatusCode, time.Duration(secs) * time.Second, nil
}

// Block Kit payload types.

type slackPayload struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string         `json:"type"`
	Text     *slackText     `json:"text,omitempty"`
	Fields   []slackText    `json:"fields,omitempty"`
	Elements []slackElement `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackElement struct {
	Type  string    `json:"type"`
	Text  slackText `json:"text"`
	URL   string    `json:"url"`
	Style string    `json:"style"`
}

// SendTestAlert posts a sample alert to verify the webhook works.
func SendTestAlert(ctx context.Context, a model.Alerter) error {
	return a.Alert(ctx, "test", &model.StructuralChangeError{Source: "test", Detail: "integration check, no action needed"})
}

func alertKind(err error) string {
	var structural *model.StructuralChangeError
	if errors.As(err, &structural) {
		return "Markup changed"
	}
	return "Scrape failed"
}

func buildAlertPayload(sourceID string, err error, link string, at time.Time) slackPayload {
	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: "⚠️ " + alertKind(err) + ": " + sourceID},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: "*Source:*\n" + sourceID},
				{Type: "mrkdwn", Text: "*Detected:*\n" + at.Format(time.RFC1123)},
			},
		},
		{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: "```" + err.Error() + "```"},
		},
	}

	if link != "" {
		blocks = append(blocks, slackBlock{
			Type: "actions",
			Elements: []slackElement{
				{
					Type:  "button",
					Text:  slackText{Type: "plain_text", Text: "Open listing"},
					URL:   link,
					Style: "danger",
				},
			},
		})
	}
	blocks = append(blocks, slackBlock{Type: "divider"})

	return slackPayload{Blocks: blocks}
}
