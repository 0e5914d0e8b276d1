// Package email renders and delivers the CRM's notification mail.
//
// Delivery goes through the Sender interface so that workflows never
// depend on a transport:
//   - SMTPSender talks to a relay (Gmail by default) with STARTTLS.
//   - KafkaSender publishes the rendered message for an external mailer.
//   - LogSender writes the message to the log when no credentials exist.
//
// Templates live in templates.go and are rendered by Composer.
package email

import (
	"context"
	"fmt"
	"net/mail"
)

// Message is a fully rendered email. Text is optional; when present the
// mail is sent as multipart/alternative.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text,omitempty"`
}

// Sender delivers one message. Implementations must honour ctx.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Address is the From identity, e.g. "FK CRM" <crm@example.com>.
type Address struct {
	Name  string
	Email string
}

func (a Address) String() string {
	return (&mail.Address{Name: a.Name, Address: a.Email}).String()
}

func validate(msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("email: message has no recipient")
	}
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return fmt.Errorf("email: invalid recipient %q: %w", msg.To, err)
	}
	if msg.Subject == "" {
		return fmt.Errorf("email: message has no subject")
	}
	return nil
}
