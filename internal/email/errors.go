package email

import "errors"

var (
	ErrNoTransport       = errors.New("no email transport configured: set SMTP credentials in company settings or POSTMARK_SERVER_TOKEN")
	ErrInvalidConfig     = errors.New("invalid email configuration")
	ErrUnknownEmailType  = errors.New("unknown email type")
	ErrInvalidPayload    = errors.New("invalid template data")
	ErrInvalidMessage    = errors.New("invalid email message")
	ErrFailedToSendEmail = errors.New("failed to send email")

	// ErrDeliveryUnknown means the attempt could not be confirmed either way;
	// retrying it may deliver the message twice.
	ErrDeliveryUnknown = errors.New("email delivery outcome unknown")
)
