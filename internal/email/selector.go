package email

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"lmsmail/internal/models"
)

// TransportKind names the delivery mechanism chosen for a batch.
type TransportKind string

const (
	TransportNone     TransportKind = "none"
	TransportSMTP     TransportKind = "smtp"
	TransportPostmark TransportKind = "postmark"
)

// SelectTransport applies the selection policy: SMTP when the settings carry
// a complete SMTP configuration, Postmark when an API key is present,
// otherwise none.
func SelectTransport(s models.CompanySettings, pm PostmarkConfig) TransportKind {
	switch {
	case s.HasSMTP():
		return TransportSMTP
	case pm.Configured():
		return TransportPostmark
	default:
		return TransportNone
	}
}

// Selector resolves the sender for a set of company settings. Resolved
// senders are wrapped with the rate limiter and per-send timeout.
type Selector struct {
	Postmark PostmarkConfig
	Limiter  *rate.Limiter
	Timeout  time.Duration
}

func (sel *Selector) Resolve(s models.CompanySettings) (Sender, TransportKind, error) {
	kind := SelectTransport(s, sel.Postmark)

	var (
		sender Sender
		err    error
	)
	switch kind {
	case TransportSMTP:
		sender, err = NewSMTPSender(s)
	case TransportPostmark:
		sender, err = NewPostmarkSender(sel.Postmark)
	default:
		return nil, kind, ErrNoTransport
	}
	if err != nil {
		return nil, kind, fmt.Errorf("build %s transport: %w", kind, err)
	}

	return Throttle(sender, sel.Limiter, sel.Timeout), kind, nil
}
