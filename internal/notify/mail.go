package notify

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

// mailDialer is the part of *gomail.Dialer used here.
type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// MailNotifier sends notifications as plain text email.
type MailNotifier struct {
	dialer mailDialer
	from   string
	to     []string
}

// NewMailNotifier creates a MailNotifier for an SMTP server.
func NewMailNotifier(host string, port int, username, password, from string, to []string) *MailNotifier {
	if port == 0 {
		port = 587
	}
	return &MailNotifier{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
		to:     to,
	}
}

// Notify implements Notifier.
func (n *MailNotifier) Notify(_ context.Context, title, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", n.from)
	msg.SetHeader("To", n.to...)
	msg.SetHeader("Subject", "[sitewatch] "+title)
	msg.SetBody("text/plain", body)

	err := n.dialer.DialAndSend(msg)
	if err != nil {
		err = fmt.Errorf("failed to send mail: %w", err)
	}
	return record("mail", err)
}
