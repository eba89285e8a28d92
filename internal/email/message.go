package email

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
)

// Sender delivers exactly one message. Implementations never retry.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is a fully rendered email addressed to a single recipient.
type Message struct {
	To          string
	ToName      string
	FromName    string
	FromAddress string
	Subject     string
	HTML        string
	Tag         string
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidMessage)
	}
	if _, err := mail.ParseAddress(m.To); err != nil {
		return fmt.Errorf("%w: invalid recipient %q", ErrInvalidMessage, m.To)
	}
	if strings.TrimSpace(m.FromAddress) == "" {
		return fmt.Errorf("%w: sender address is required", ErrInvalidMessage)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	}
	return nil
}

// from formats the sender as an RFC 5322 address.
func (m Message) from() string {
	return (&mail.Address{Name: m.FromName, Address: m.FromAddress}).String()
}

func (m Message) to() string {
	return (&mail.Address{Name: m.ToName, Address: m.To}).String()
}
