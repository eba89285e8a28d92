package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

// postmarkAPI is the subset of *postmark.Client used for delivery.
type postmarkAPI interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkConfig holds the environment-supplied API credentials of the
// fallback provider.
type PostmarkConfig struct {
	ServerToken  string
	AccountToken string
}

func (c PostmarkConfig) Configured() bool {
	return c.ServerToken != ""
}

// PostmarkSender delivers mail with a single call to the Postmark API.
type PostmarkSender struct {
	client postmarkAPI
}

func NewPostmarkSender(cfg PostmarkConfig) (*PostmarkSender, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("%w: postmark server token is required", ErrInvalidConfig)
	}
	return &PostmarkSender{client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken)}, nil
}

// Send turns a transport failure or a non-zero Postmark error code into an
// error carrying the provider's message.
func (p *PostmarkSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:       msg.from(),
		To:         msg.to(),
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		HTMLBody:   msg.HTML,
		TrackOpens: true,
		TrackLinks: "HtmlOnly",
	})
	if err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(
			ErrFailedToSendEmail,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		)
	}
	return nil
}
