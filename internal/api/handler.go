package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lmsmail/internal/csvparser"
	"lmsmail/internal/email"
	"lmsmail/internal/lock"
	"lmsmail/internal/models"
	"lmsmail/internal/queue"
)

const maxImportBytes = 10 << 20

type Processor interface {
	ProcessBatch(ctx context.Context) (queue.Result, error)
}

// Enqueuer inserts pending queue items.
type Enqueuer interface {
	InsertEmail(ctx context.Context, job *models.QueueItem) error
}

type Handler struct {
	Drainer Processor
	Store   Enqueuer
	Ping    func(ctx context.Context) error
	Log     *zap.Logger

	DefaultMaxRetries int
	ImportMaxRows     int
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// ProcessQueue drains one batch. Individual item failures are reported in
// the body of a 200 response; only a batch-level failure is a 500.
func (h *Handler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	res, err := h.Drainer.ProcessBatch(r.Context())
	if errors.Is(err, lock.ErrNotAcquired) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.Log.Error("email queue processing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type enqueueRequest struct {
	UserID         *uuid.UUID       `json:"user_id"`
	EmailType      models.EmailType `json:"email_type"`
	RecipientEmail string           `json:"recipient_email"`
	RecipientName  string           `json:"recipient_name"`
	TemplateData   json.RawMessage  `json:"template_data"`
	MaxRetries     *int             `json:"max_retries"`
}

func (h *Handler) EnqueueEmail(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := email.DecodePayload(req.EmailType, req.TemplateData); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(req.RecipientEmail))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid recipient_email: %v", err))
		return
	}

	maxRetries := h.DefaultMaxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			writeError(w, http.StatusBadRequest, "max_retries must not be negative")
			return
		}
		maxRetries = *req.MaxRetries
	}

	job := models.QueueItem{
		UserID:         req.UserID,
		EmailType:      req.EmailType,
		RecipientEmail: addr.Address,
		RecipientName:  firstNonEmpty(req.RecipientName, addr.Name),
		TemplateData:   req.TemplateData,
		MaxRetries:     maxRetries,
	}

	if err := h.Store.InsertEmail(r.Context(), &job); err != nil {
		h.Log.Error("failed to enqueue email", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id": job.ID,
	})
}

// importResponse reports every data row: queued, skipped as invalid, or
// beyond the row limit (overflow, not queued).
type importResponse struct {
	Queued   int         `json:"queued"`
	Skipped  int         `json:"skipped"`
	Overflow int         `json:"overflow"`
	IDs      []uuid.UUID `json:"ids"`
}

// ImportStudents enqueues one student_welcome email per valid CSV row. The
// CSV is read from the multipart field "file" or from the raw body.
func (h *Handler) ImportStudents(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)

	body, loginURL, err := importSource(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer body.Close()

	batch, err := csvparser.ParseStudents(body, h.ImportMaxRows)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := importResponse{
		Skipped:  batch.Skipped,
		Overflow: batch.Overflow,
		IDs:      make([]uuid.UUID, 0, len(batch.Students)),
	}
	for _, st := range batch.Students {
		data, err := json.Marshal(st.WelcomeData(loginURL))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		job := models.QueueItem{
			EmailType:      models.EmailTypeStudentWelcome,
			RecipientEmail: st.Email,
			RecipientName:  st.Name,
			TemplateData:   data,
			MaxRetries:     h.DefaultMaxRetries,
		}
		if err := h.Store.InsertEmail(r.Context(), &job); err != nil {
			h.Log.Error("student import stopped",
				zap.Int("line", st.Line),
				zap.Int("queued", resp.Queued),
				zap.Error(err),
			)
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":    fmt.Sprintf("line %d: %v", st.Line, err),
				"queued":   resp.Queued,
				"overflow": resp.Overflow,
				"ids":      resp.IDs,
			})
			return
		}

		resp.Queued++
		resp.IDs = append(resp.IDs, job.ID)
	}

	if resp.Overflow > 0 {
		h.Log.Warn("student import truncated at row limit",
			zap.Int("limit", h.ImportMaxRows),
			zap.Int("overflow", resp.Overflow),
		)
	}
	h.Log.Info("students imported",
		zap.Int("queued", resp.Queued),
		zap.Int("skipped", resp.Skipped),
		zap.Int("overflow", resp.Overflow),
	)
	writeJSON(w, http.StatusOK, resp)
}

func importSource(r *http.Request) (io.ReadCloser, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return r.Body, r.URL.Query().Get("login_url"), nil
	}

	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		return nil, "", fmt.Errorf("parse multipart form: %w", err)
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, "", fmt.Errorf("file field: %w", err)
	}
	return f, r.FormValue("login_url"), nil
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
