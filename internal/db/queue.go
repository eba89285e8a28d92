package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lmsmail/internal/models"
)

const queueColumns = `id, user_id, email_type, recipient_email, recipient_name, template_data,
	status, retry_count, max_retries, error_message, scheduled_at, sent_at, created_at, updated_at`

// InsertEmail adds a pending item. ID, timestamps and status are filled in
// on job.
func (s *Store) InsertEmail(ctx context.Context, job *models.QueueItem) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	data := job.TemplateData
	if len(data) == 0 {
		data = []byte("{}")
	}

	job.Status = models.StatusPending
	job.RetryCount = 0

	return s.Pool.QueryRow(ctx,
		`INSERT INTO email_queue
		 (id, user_id, email_type, recipient_email, recipient_name, template_data,
		  status, retry_count, max_retries, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,0,$8,NOW(),NOW())
		 RETURNING created_at, updated_at`,
		job.ID,
		job.UserID,
		job.EmailType,
		job.RecipientEmail,
		job.RecipientName,
		data,
		models.StatusPending,
		job.MaxRetries,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

// FetchPending returns up to limit pending items whose retry budget is not
// exhausted and whose backoff has elapsed, oldest first.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]models.QueueItem, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+queueColumns+`
		 FROM email_queue
		 WHERE status = $1
		   AND retry_count <= max_retries
		   AND (scheduled_at IS NULL OR scheduled_at <= NOW())
		 ORDER BY created_at ASC
		 LIMIT $2`,
		models.StatusPending,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending emails: %w", err)
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		var it models.QueueItem
		if err := rows.Scan(
			&it.ID,
			&it.UserID,
			&it.EmailType,
			&it.RecipientEmail,
			&it.RecipientName,
			&it.TemplateData,
			&it.Status,
			&it.RetryCount,
			&it.MaxRetries,
			&it.ErrorMessage,
			&it.ScheduledAt,
			&it.SentAt,
			&it.CreatedAt,
			&it.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		items = append(items, it)
	}

	return items, rows.Err()
}

// MarkSending moves a pending item to sending. It reports false when the
// item is no longer pending, i.e. another drainer claimed it first.
func (s *Store) MarkSending(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE email_queue
		 SET status=$1,
		     updated_at=NOW()
		 WHERE id=$2 AND status=$3`,
		models.StatusSending,
		id,
		models.StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("mark email %s sending: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE email_queue
		 SET status=$1,
		     sent_at=$2,
		     error_message=NULL,
		     updated_at=NOW()
		 WHERE id=$3 AND status=$4`,
		models.StatusSent,
		sentAt,
		id,
		models.StatusSending,
	)
	if err != nil {
		return fmt.Errorf("mark email %s sent: %w", id, err)
	}
	return nil
}

// MarkRetry returns a sending item to pending with a new retry count and
// the time it becomes eligible again.
func (s *Store) MarkRetry(
	ctx context.Context,
	id uuid.UUID,
	retryCount int,
	scheduledAt time.Time,
	errorMsg string,
) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE email_queue
		 SET status=$1,
		     retry_count=$2,
		     scheduled_at=$3,
		     error_message=$4,
		     updated_at=NOW()
		 WHERE id=$5 AND status=$6`,
		models.StatusPending,
		retryCount,
		scheduledAt,
		errorMsg,
		id,
		models.StatusSending,
	)
	if err != nil {
		return fmt.Errorf("reschedule email %s: %w", id, err)
	}
	return nil
}

func (s *Store) MarkFailed(
	ctx context.Context,
	id uuid.UUID,
	retryCount int,
	errorMsg string,
) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE email_queue
		 SET status=$1,
		     retry_count=$2,
		     error_message=$3,
		     updated_at=NOW()
		 WHERE id=$4 AND status=$5`,
		models.StatusFailed,
		retryCount,
		errorMsg,
		id,
		models.StatusSending,
	)
	if err != nil {
		return fmt.Errorf("mark email %s failed: %w", id, err)
	}
	return nil
}
