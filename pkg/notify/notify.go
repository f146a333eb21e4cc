// Package notify sends transactional email.
package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	gomail "gopkg.in/gomail.v2"

	"github.com/platinummonkey/paywall/pkg/observability"
)

// Message is one outbound email.
type Message struct {
	// Kind labels the message for metrics, e.g. "meeting_admin" or
	// "call_confirmation".
	Kind    string
	To      []string
	ReplyTo string
	Subject string
	Body    string
}

// Sender delivers messages and returns a message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// SMTPSender delivers mail over SMTP.
type SMTPSender struct {
	dialer  *gomail.Dialer
	from    string
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewSMTPSender creates an SMTP sender. metrics may be nil.
func NewSMTPSender(host string, port int, username, password, from string, logger *observability.Logger, metrics *observability.Metrics) *SMTPSender {
	return &SMTPSender{
		dialer:  gomail.NewDialer(host, port, username, password),
		from:    from,
		logger:  logger,
		metrics: metrics,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To...)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", fmt.Sprintf("<%s@cvplus>", id))
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetBody("text/plain", msg.Body)

	if err := s.dialer.DialAndSend(m); err != nil {
		s.observe(msg.Kind, "error")
		return "", fmt.Errorf("sending %s email: %w", msg.Kind, err)
	}

	s.observe(msg.Kind, "sent")
	s.logger.WithFields(map[string]interface{}{
		"kind":       msg.Kind,
		"message_id": id,
	}).Info("email sent")
	return id, nil
}

func (s *SMTPSender) observe(kind, outcome string) {
	if s.metrics != nil {
		s.metrics.EmailsSentTotal.WithLabelValues(kind, outcome).Inc()
	}
}

// NopSender discards messages. Used when email delivery is disabled.
type NopSender struct {
	logger *observability.Logger
}

func NewNopSender(logger *observability.Logger) *NopSender {
	return &NopSender{logger: logger}
}

func (s *NopSender) Send(ctx context.Context, msg Message) (string, error) {
	s.logger.WithFields(map[string]interface{}{
		"kind":    msg.Kind,
		"subject": msg.Subject,
	}).Debug("email delivery disabled, dropping message")
	return uuid.NewString(), nil
}
