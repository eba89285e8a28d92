package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EmailStatus string

const (
	StatusPending EmailStatus = "pending"
	StatusSending EmailStatus = "sending"
	StatusSent    EmailStatus = "sent"
	StatusFailed  EmailStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s EmailStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// EmailType selects the template branch and sender identity of a queue item.
type EmailType string

const (
	EmailTypeStudentWelcome EmailType = "student_welcome"
	EmailTypeStaffWelcome   EmailType = "staff_welcome"
	EmailTypeInvoice        EmailType = "invoice"
)

func (t EmailType) Valid() bool {
	switch t {
	case EmailTypeStudentWelcome, EmailTypeStaffWelcome, EmailTypeInvoice:
		return true
	}
	return false
}

// QueueItem is one row of the email_queue table.
type QueueItem struct {
	ID             uuid.UUID       `json:"id"`
	UserID         *uuid.UUID      `json:"user_id,omitempty"`
	EmailType      EmailType       `json:"email_type"`
	RecipientEmail string          `json:"recipient_email"`
	RecipientName  string          `json:"recipient_name"`
	TemplateData   json.RawMessage `json:"template_data"`

	Status       EmailStatus `json:"status"`
	RetryCount   int         `json:"retry_count"`
	MaxRetries   int         `json:"max_retries"`
	ErrorMessage *string     `json:"error_message,omitempty"`

	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
