package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/md-rashed-zaman/careslot/internal/model"
)

// SMTPChannel delivers email reminders via unauthenticated SMTP
// (Mailpit-compatible).
type SMTPChannel struct {
	addr string
	from string
}

func NewSMTPChannel(host, port, from string) *SMTPChannel {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@careslot.local"
	}
	return &SMTPChannel{
		addr: fmt.Sprintf("%s:%s", host, port),
		from: from,
	}
}

func (c *SMTPChannel) Send(_ context.Context, task model.NotificationTask) error {
	msg := buildMessage(c.from, task.Recipient, "Appointment reminder", task.Message)
	if err := smtp.SendMail(c.addr, nil, c.from, []string{task.Recipient}, []byte(msg)); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

func buildMessage(from, to, subject, body string) string {
	// Minimal RFC 5322 message; enough for Mailpit and most SMTP relays.
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from,
		to,
		subject,
		body,
	)
}
