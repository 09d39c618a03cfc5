package notifier

import (
	"context"
	"log/slog"

	"github.com/amishk599/recruitwatch/internal/model"
)

var (
	_ model.Mailer  = (*LogMailer)(nil)
	_ model.Alerter = (*LogAlerter)(nil)
)

// LogMailer is the non-production mailer: it logs each message instead of
// sending it.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer returns a mailer that logs each message via slog.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send logs recipient and subject. It never fails.
func (m *LogMailer) Send(_ context.Context, recipient, subject, body string) error {
	m.logger.Info("email (not sent)", "recipient", recipient, "subject", subject, "body_bytes", len(body))
	return nil
}

// LogAlerter reports structural changes to the log only. It is used when no
// Slack webhook is configured.
type LogAlerter struct {
	logger *slog.Logger
}

func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) Alert(_ context.Context, sourceID string, err error) error {
	a.logger.Error("source needs attention", "source", sourceID, "error", err)
	return nil
}
