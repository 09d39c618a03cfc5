package notifier

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wneessen/go-mail"

	"github.com/amishk599/recruitwatch/internal/model"
)

var _ model.Mailer = (*SMTPMailer)(nil)

// SMTPConfig holds the relay settings for SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer delivers HTML email through an SMTP relay. STARTTLS is
// required.
type SMTPMailer struct {
	mu     sync.Mutex
	client *mail.Client
	from   string
	logger *slog.Logger
}

// NewSMTPMailer validates cfg and prepares a client. No connection is made
// until the first Send.
func NewSMTPMailer(cfg SMTPConfig, logger *slog.Logger) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, &model.ConfigurationError{Component: "smtp", Detail: "SMTP_HOST is required"}
	}
	if cfg.From == "" {
		return nil, &model.ConfigurationError{Component: "smtp", Detail: "EMAIL_FROM is required"}
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, &model.ConfigurationError{Component: "smtp", Detail: err.Error()}
	}
	return &SMTPMailer{client: client, from: cfg.From, logger: logger}, nil
}

// Send delivers one HTML message. Every failure is a *model.DeliveryError.
func (m *SMTPMailer) Send(ctx context.Context, recipient, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return &model.DeliveryError{Recipient: recipient, Err: err}
	}
	if err := msg.To(recipient); err != nil {
		return &model.DeliveryError{Recipient: recipient, Err: err}
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, body)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return &model.DeliveryError{Recipient: recipient, Err: err}
	}
	m.logger.Debug("email sent", "recipient", recipient, "subject", subject)
	return nil
}

// SendTestEmail sends a fixed message to recipient to verify delivery works.
func SendTestEmail(ctx context.Context, m model.Mailer, recipient string) error {
	return m.Send(ctx, recipient, "[recruitwatch] Test notification",
		"<p>Delivery is configured correctly. You will receive new postings that match your keywords.</p>")
}
