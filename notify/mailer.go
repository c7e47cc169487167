// Package notify emails traders when an enrollment opens or a task unlocks.
package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

const senderName = "TMS Mark-to-Market"

type Message struct {
	ToName  string
	ToEmail string
	Subject string
	HTML    string
	Text    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type SendGridMailer struct {
	client *sendgrid.Client
	from   *mail.Email
}

func NewSendGridMailer(apiKey, sender string) *SendGridMailer {
	return &SendGridMailer{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail(senderName, sender),
	}
}

func (m *SendGridMailer) Send(_ context.Context, msg Message) error {
	email := mail.NewSingleEmail(m.from, msg.Subject, mail.NewEmail(msg.ToName, msg.ToEmail), msg.Text, msg.HTML)
	resp, err := m.client.Send(email)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// LogMailer only logs; it stands in when no SendGrid key is configured.
type LogMailer struct {
	Logger *zap.Logger
}

func (m LogMailer) Send(_ context.Context, msg Message) error {
	if m.Logger != nil {
		m.Logger.Info("[EMAIL] not sent, no provider configured",
			zap.String("to", msg.ToEmail),
			zap.String("subject", msg.Subject))
	}
	return nil
}

// NewMailer returns SendGrid when apiKey is set and LogMailer otherwise.
func NewMailer(apiKey, sender string, logger *zap.Logger) Mailer {
	if apiKey == "" {
		return LogMailer{Logger: logger}
	}
	return NewSendGridMailer(apiKey, sender)
}
