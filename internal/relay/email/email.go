// Package email delivers transactional mail through sendgrid.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

var (
	ErrKeyMissing           = errors.New("sendgrid api key is not set")
	ErrInvalidMailSender    = errors.New("invalid mail sender")
	ErrInvalidMailRecipient = errors.New("invalid mail recipient")
)

type Service interface {
	IsEnabled() bool
	Send(ctx context.Context, data *MailInfo) error
}

type SendgridService struct {
	config *Config
}

func NewService(config *Config) *SendgridService {
	return &SendgridService{config: config}
}

func (s *SendgridService) IsEnabled() bool {
	return s.config.Enabled
}

func (s *SendgridService) Send(ctx context.Context, data *MailInfo) error {
	if s.config.SendgridAPIKey == "" {
		return ErrKeyMissing
	}

	if data.FromEmail == "" {
		data.FromEmail = s.config.FromEmail
	}
	if data.FromName == "" {
		data.FromName = s.config.FromName
	}
	if data.FromEmail == "" {
		return ErrInvalidMailSender
	}
	if data.ToEmail == "" {
		return ErrInvalidMailRecipient
	}
	if data.ToName == "" {
		data.ToName = data.ToEmail
	}

	from := mail.NewEmail(data.FromName, data.FromEmail)
	to := mail.NewEmail(data.ToName, data.ToEmail)

	message := mail.NewSingleEmail(from, data.Subject, to, "", data.HTMLBody)
	client := sendgrid.NewSendClient(s.config.SendgridAPIKey)

	resp, err := client.SendWithContext(ctx, message)
	if err != nil {
		slog.Error("failed to send email", "error", err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	slog.Debug("email sent", "to", data.ToEmail, "status", resp.StatusCode, "messageId", resp.Headers["X-Message-Id"])
	return nil
}

var _ Service = (*SendgridService)(nil)
