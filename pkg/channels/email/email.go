// Package email delivers SEND_EMAIL actions through an SMTP relay.
package email

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/followup/pkg/config"
	"github.com/dukex/followup/pkg/protocol"
	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// Dialer sends composed messages. *gomail.Dialer implements it.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type Sender struct {
	dialer   Dialer
	from     string
	fromName string
	domain   string
	logger   *slog.Logger
}

// NewSender builds an SMTP sender from configuration.
func NewSender(cfg config.EmailConfig, logger *slog.Logger) *Sender {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)

	return NewSenderWithDialer(dialer, cfg.From, cfg.FromName, logger)
}

func NewSenderWithDialer(dialer Dialer, from, fromName string, logger *slog.Logger) *Sender {
	return &Sender{
		dialer:   dialer,
		from:     from,
		fromName: fromName,
		domain:   domainOf(from),
		logger:   logger.With("module", "email_sender"),
	}
}

func (s *Sender) SendEmail(ctx context.Context, email protocol.Email) (protocol.Receipt, error) {
	err := ctx.Err()
	if err != nil {
		return protocol.Receipt{}, err
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), s.domain)

	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(s.from, s.fromName))
	msg.SetHeader("To", email.To)
	msg.SetHeader("Subject", email.Subject)
	msg.SetHeader("Message-ID", messageID)
	msg.SetBody("text/html", email.HTML)

	err = s.dialer.DialAndSend(msg)
	if err != nil {
		return protocol.Receipt{}, fmt.Errorf("failed to send email to %s: %w", email.To, err)
	}

	s.logger.DebugContext(ctx, "email sent", "to", email.To, "message_id", messageID)

	return protocol.Receipt{MessageID: messageID}, nil
}

func domainOf(address string) string {
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == '@' {
			return address[i+1:]
		}
	}

	return "localhost"
}
