// Package email sends transactional mail over SMTP.
package email

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/docmeter/pkg/config"
	"github.com/platinummonkey/docmeter/pkg/observability"
	"github.com/wneessen/go-mail"
)

// Message is a plain-text email with an optional HTML alternative
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

const (
	retentionSubject = "We hate to see you go :("
	retentionText    = "We hate to see you go. Here is a sweet offer..."
	retentionHTML    = "<p>We hate to see you go. Here is a sweet offer...</p>"
)

// RetentionMessage is the offer sent when a subscription is set to cancel
func RetentionMessage(to string) Message {
	return Message{To: to, Subject: retentionSubject, Text: retentionText, HTML: retentionHTML}
}

type sendFunc func(ctx context.Context, msg *mail.Msg) error

// SMTPSender delivers messages through an SMTP relay
type SMTPSender struct {
	from string
	send sendFunc
	now  func() time.Time
}

// NewSMTPSender creates a sender for the configured relay. STARTTLS is used
// when the relay offers it.
func NewSMTPSender(cfg config.SMTPConfig) (*SMTPSender, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(30 * time.Second),
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
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}
	return &SMTPSender{
		from: cfg.From,
		send: func(ctx context.Context, msg *mail.Msg) error {
			return client.DialAndSendWithContext(ctx, msg)
		},
		now: time.Now,
	}, nil
}

// Send delivers one message
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := s.build(msg)
	if err != nil {
		return err
	}
	if err := s.send(ctx, m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// SendRetentionEmail sends the cancel-at-period-end offer
func (s *SMTPSender) SendRetentionEmail(ctx context.Context, to string) error {
	return s.Send(ctx, RetentionMessage(to))
}

func (s *SMTPSender) build(msg Message) (*mail.Msg, error) {
	if msg.To == "" {
		return nil, errors.New("email recipient is required")
	}

	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetDateWithValue(s.now())
	m.SetMessageID()

	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	return m, nil
}

// LogSender writes messages to the log instead of sending them. It stands
// in for SMTP in development.
type LogSender struct {
	logger *observability.Logger
}

// NewLogSender creates a new LogSender
func NewLogSender(logger *observability.Logger) *LogSender {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogSender{logger: logger}
}

// SendRetentionEmail logs the retention offer
func (s *LogSender) SendRetentionEmail(_ context.Context, to string) error {
	msg := RetentionMessage(to)
	s.logger.WithFields(map[string]interface{}{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("Email not sent: SMTP is not configured")
	return nil
}
