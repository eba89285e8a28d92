package email

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gopkg.in/gomail.v2"

	"lmsmail/internal/models"
)

// SMTPSender delivers mail through the SMTP server configured in the
// company settings. Each Send opens one connection and always closes it.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
	SSL      bool

	dial  func() (gomail.SendCloser, error)
	grace time.Duration
}

// AbortGrace bounds how long Send waits for an attempt abandoned at the
// context deadline.
const AbortGrace = 10 * time.Second

// NewSMTPSender builds a sender from the SMTP fields of s.
func NewSMTPSender(s models.CompanySettings) (*SMTPSender, error) {
	if !s.HasSMTP() {
		return nil, fmt.Errorf("%w: smtp host, username and password are required", ErrInvalidConfig)
	}

	port := s.SMTPPort
	if port == 0 {
		port = 587
		if s.SMTPSecure {
			port = 465
		}
	}

	return &SMTPSender{
		Host:     s.SMTPHost,
		Port:     port,
		Username: s.SMTPUsername,
		Password: s.SMTPPassword,
		SSL:      s.SMTPSecure,
	}, nil
}

func (s *SMTPSender) dialer() func() (gomail.SendCloser, error) {
	if s.dial != nil {
		return s.dial
	}
	return func() (gomail.SendCloser, error) {
		d := gomail.NewDialer(s.Host, s.Port, s.Username, s.Password)
		d.SSL = s.SSL
		return d.Dial()
	}
}

// Send renders msg into a MIME message and sends it over a fresh connection.
// gomail has no context support, so the exchange runs in its own goroutine.
// When ctx ends first the connection is closed and Send waits for the
// attempt to settle: a message the server accepted in the meantime is
// reported as sent.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", msg.FromAddress, msg.FromName)
	m.SetAddressHeader("To", msg.To, msg.ToName)
	m.SetHeader("Subject", msg.Subject)
	if msg.Tag != "" {
		m.SetHeader("X-Email-Type", msg.Tag)
	}
	m.SetBody("text/html", msg.HTML)

	sess := &session{}
	done := make(chan error, 1)
	go func() {
		done <- s.deliver(sess, m)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	sess.abort()

	grace := time.NewTimer(s.abortGrace())
	defer grace.Stop()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		return errors.Join(ErrFailedToSendEmail, fmt.Errorf("smtp send: %w", ctx.Err()), err)
	case <-grace.C:
		return errors.Join(ErrDeliveryUnknown, fmt.Errorf("smtp send to %s:%d still running after %w", s.Host, s.Port, ctx.Err()))
	}
}

func (s *SMTPSender) abortGrace() time.Duration {
	if s.grace > 0 {
		return s.grace
	}
	return AbortGrace
}

// deliver ignores the QUIT error: once the server accepted the message a
// failed close must not trigger a resend.
func (s *SMTPSender) deliver(sess *session, m *gomail.Message) error {
	sc, err := s.dialer()()
	if err != nil {
		return errors.Join(ErrFailedToSendEmail, fmt.Errorf("smtp dial %s:%d: %w", s.Host, s.Port, err))
	}
	if !sess.attach(sc) {
		_ = sc.Close()
		return fmt.Errorf("%w: smtp session aborted before send", ErrFailedToSendEmail)
	}
	defer sess.abort()

	if err := gomail.Send(sc, m); err != nil {
		return errors.Join(ErrFailedToSendEmail, fmt.Errorf("smtp send error: %w", err))
	}
	return nil
}

// session closes the connection of one Send exactly once, from either the
// delivering goroutine or the caller giving up on it.
type session struct {
	mu      sync.Mutex
	sc      gomail.SendCloser
	aborted bool
	once    sync.Once
}

func (s *session) attach(sc gomail.SendCloser) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return false
	}
	s.sc = sc
	return true
}

func (s *session) abort() {
	s.mu.Lock()
	s.aborted = true
	sc := s.sc
	s.mu.Unlock()

	if sc != nil {
		s.once.Do(func() { _ = sc.Close() })
	}
}
