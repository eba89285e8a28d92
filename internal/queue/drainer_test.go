package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lmsmail/internal/email"
	"lmsmail/internal/lock"
	"lmsmail/internal/models"
	"lmsmail/internal/queue"
)

var fixedNow = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

// memStore is an in-memory email_queue that applies the same guards as the
// SQL store.
type memStore struct {
	mu       sync.Mutex
	items    map[uuid.UUID]*models.QueueItem
	fetchErr error
	claimed  map[uuid.UUID]bool // ids another drainer already took
	limit    int
	sequence []string // status writes in order

	// strictCtx makes writes fail on a done context, as pgx does.
	strictCtx bool
}

func newMemStore(items ...models.QueueItem) *memStore {
	s := &memStore{items: map[uuid.UUID]*models.QueueItem{}, claimed: map[uuid.UUID]bool{}}
	for i := range items {
		it := items[i]
		s.items[it.ID] = &it
	}
	return s
}

func (s *memStore) FetchPending(_ context.Context, limit int) ([]models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = limit
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}

	var out []models.QueueItem
	for _, it := range s.items {
		if it.Status != models.StatusPending || it.RetryCount > it.MaxRetries {
			continue
		}
		if it.ScheduledAt != nil && it.ScheduledAt.After(fixedNow) {
			continue
		}
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) MarkSending(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkCtx(ctx); err != nil {
		return false, err
	}
	it := s.items[id]
	if s.claimed[id] || it.Status != models.StatusPending {
		return false, nil
	}
	it.Status = models.StatusSending
	s.sequence = append(s.sequence, id.String()+":sending")
	return true, nil
}

func (s *memStore) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkCtx(ctx); err != nil {
		return err
	}
	it := s.items[id]
	it.Status = models.StatusSent
	it.SentAt = &sentAt
	it.ErrorMessage = nil
	s.sequence = append(s.sequence, id.String()+":sent")
	return nil
}

func (s *memStore) MarkRetry(ctx context.Context, id uuid.UUID, retryCount int, scheduledAt time.Time, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkCtx(ctx); err != nil {
		return err
	}
	it := s.items[id]
	it.Status = models.StatusPending
	it.RetryCount = retryCount
	it.ScheduledAt = &scheduledAt
	it.ErrorMessage = &msg
	s.sequence = append(s.sequence, id.String()+":retry")
	return nil
}

func (s *memStore) MarkFailed(ctx context.Context, id uuid.UUID, retryCount int, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkCtx(ctx); err != nil {
		return err
	}
	it := s.items[id]
	it.Status = models.StatusFailed
	it.RetryCount = retryCount
	it.ErrorMessage = &msg
	s.sequence = append(s.sequence, id.String()+":failed")
	return nil
}

func (s *memStore) checkCtx(ctx context.Context) error {
	if s.strictCtx {
		return ctx.Err()
	}
	return nil
}

func (s *memStore) get(id uuid.UUID) models.QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.items[id]
}

type staticSettings struct {
	settings models.CompanySettings
	err      error
}

func (s staticSettings) Load(context.Context) (models.CompanySettings, error) {
	return s.settings, s.err
}

type recordingSender struct {
	mu   sync.Mutex
	err  func(msg email.Message) error
	sent []email.Message
}

func (r *recordingSender) Send(_ context.Context, msg email.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	if r.err != nil {
		return r.err(msg)
	}
	return nil
}

type fixedResolver struct {
	sender email.Sender
	kind   email.TransportKind
	err    error
}

func (f fixedResolver) Resolve(models.CompanySettings) (email.Sender, email.TransportKind, error) {
	return f.sender, f.kind, f.err
}

type fakeLease struct {
	err      error
	acquired int
	released int
}

func (f *fakeLease) Acquire(context.Context) (lock.Release, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.acquired++
	return func(context.Context) error {
		f.released++
		return nil
	}, nil
}

func settingsFixture() models.CompanySettings {
	return models.CompanySettings{
		CompanyName:      "Acme Academy",
		LMSFromEmail:     "learn@acme.test",
		InvoiceFromEmail: "billing@acme.test",
		SMTPHost:         "smtp.acme.test",
		SMTPPort:         587,
		SMTPUsername:     "mailer",
		SMTPPassword:     "secret",
	}
}

func pendingItem(typ models.EmailType, retry, max int, created time.Time) models.QueueItem {
	data, _ := json.Marshal(map[string]string{"student_name": "Jane", "password": "pw"})
	return models.QueueItem{
		ID:             uuid.New(),
		EmailType:      typ,
		RecipientEmail: "jane@example.com",
		RecipientName:  "Jane",
		TemplateData:   data,
		Status:         models.StatusPending,
		RetryCount:     retry,
		MaxRetries:     max,
		CreatedAt:      created,
	}
}

func newDrainer(store queue.Store, sender email.Sender, resolveErr error) *queue.Drainer {
	return queue.NewDrainer(
		store,
		staticSettings{settings: settingsFixture()},
		fixedResolver{sender: sender, kind: email.TransportSMTP, err: resolveErr},
		zap.NewNop(),
	).WithClock(func() time.Time { return fixedNow })
}

func failWith(msg string) func(email.Message) error {
	return func(email.Message) error { return errors.New(msg) }
}

func TestProcessBatch_SendsPendingItem(t *testing.T) {
	t.Parallel()

	item := pendingItem(models.EmailTypeStudentWelcome, 0, 3, fixedNow.Add(-time.Minute))
	store := newMemStore(item)
	sender := &recordingSender{}

	res, err := newDrainer(store, sender, nil).ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, queue.Result{Success: true, Processed: 1, Errors: 0, ErrorDetails: []string{}}, res)

	got := store.get(item.ID)
	assert.Equal(t, models.StatusSent, got.Status)
	require.NotNil(t, got.SentAt)
	assert.Equal(t, fixedNow, *got.SentAt)
	assert.Nil(t, got.ErrorMessage)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "jane@example.com", sender.sent[0].To)
	assert.Equal(t, "learn@acme.test", sender.sent[0].FromAddress)
	assert.Equal(t, []string{item.ID.String() + ":sending", item.ID.String() + ":sent"}, store.sequence)
}

func TestProcessBatch_LastRetryFails(t *testing.T) {
	t.Parallel()

	item := pendingItem(models.EmailTypeStudentWelcome, 2, 3, fixedNow)
	store := newMemStore(item)
	sender := &recordingSender{err: failWith("535 authentication failed")}

	res, err := newDrainer(store, sender, nil).ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 1, res.Errors)
	require.Len(t, res.ErrorDetails, 1)
	assert.Contains(t, res.ErrorDetails[0], "535 authentication failed")

	got := store.get(item.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "535 authentication failed", *got.ErrorMessage)
	assert.Nil(t, got.ScheduledAt)
}

func TestProcessBatch_FirstFailureIsRescheduled(t *testing.T) {
	t.Parallel()

	item := pendingItem(models.EmailTypeStudentWelcome, 0, 3, fixedNow)
	store := newMemStore(item)
	sender := &recordingSender{err: failWith("connection refused")}

	res, err := newDrainer(store, sender, nil).ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)

	got := store.get(item.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.ScheduledAt)
	assert.Equal(t, fixedNow.Add(60*time.Second), *got.ScheduledAt)
}

func TestProcessBatch_NoTransportRecordedPerItem(t *testing.T) {
	t.Parallel()

	first := pendingItem(models.EmailTypeStudentWelcome, 0, 3, fixedNow.Add(-2*time.Minute))
	second := pendingItem(models.EmailTypeStaffWelcome, 0, 3, fixedNow.Add(-time.Minute))
	store := newMemStore(first, second)

	res, err := newDrainer(store, nil, email.ErrNoTransport).ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Errors)
	for _, id := range []uuid.UUID{first.ID, second.ID} {
		got := store.get(id)
		require.NotNil(t, got.ErrorMessage)
		assert.Contains(t, *got.ErrorMessage, "no email transport configured")
		assert.Equal(t, models.StatusPending, got.Status)
		assert.Equal(t, 1, got.RetryCount)
	}
}

func TestProcessBatch_UnknownTypeFollowsRetryPath(t *testing.T) {
	t.Parallel()

	item := pendingItem(models.EmailType("unknown_tag"), 0, 3, fixedNow)
	store := newMemStore(item)
	sender := &recordingSender{}

	res, err := newDrainer(store, sender, nil).ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Errors)
	assert.Empty(t, sender.sent)

	got := store.get(item.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "unknown email type")
}

func TestProcessBatch_ContinuesAfterItemFailure(t *testing.T) {
	t.Parallel()

	bad := pendingItem(models.EmailTypeStudentWelcome, 0, 3, fixedNow.Add(-3*time.Minute))
	bad.RecipientEmail = "bounce@example.com"
	good := pendingItem(models.EmailTypeStudentWelcome, 0, 3, fixedNow.Add(-2*time.Minute))
	store := newMemStore(bad, good)

	sender := &recordingSender{err: func(m email.Message) error {
		if m.To == "bounce@example.com" {
			return errors.New("invalid recipient")
		}
		return nil
	}}

	res, err := newDrainer(store, sender, nil).ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, models.StatusPending, store.get(bad.ID).Status)
	assert.Equal(t, models.StatusSent, store.get(good.ID).Status)
}

func TestProcessBatch_OldestFirstAndBounded(t *testing.T) {
	t.Parallel()

	var items []models.QueueItem
	for i := 12; i > 0; i-- {
		items = append(items, pendingItem(models.EmailTypeStudentWelcome, 0, 3, fixedNow.Add(-time.Duration(i)*time.Minute)))
	}
	store := newMemStore(items...)
	sender := &recordingSender{}

	res, err := newDrainer(store, sender, nil).ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, queue.DefaultBatchSize, store.limit)
	assert.Equal(t, 10, res.Processed)

	// items[0] is the oldest.
	for i, entry := range store.sequence[:4] {
		want := items[i/2].ID.String()
		assert.True(t, strings.HasPrefix(entry, want), "entry %d = %s", i, entry)
	}
	assert.Equal(t, models.StatusPending, store.get(items[10].ID).Status)
	assert.Equal(t, models.StatusPending, store.get(items[11].ID).Status)
}

func TestProcessBatch_SkipsItemsClaimedElsewhere(t *testing.T) {
	t.Parallel()

	item := pendingItem(models.EmailTypeStudentWelcome, 0, 3, fixedNow)
	store := newMemStore(item)
	store.claimed[item.ID] = true
	sender := &recordingSender{}

	res, err := newDrainer(store, sender, nil).ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 0, res.Errors)
	assert.Empty(t, sender.sent)
}

func TestProcessBatch_ConcurrentInvocationsSendOnce(t *testing.T) {
	t.Parallel()

	var items []models.QueueItem
	for i := 0; i < 5; i++ {
		items = append(items, pendingItem(models.EmailTypeStudentWelcome, 0, 3, fixedNow.Add(time.Duration(i)*time.Second)))
	}
	store := newMemStore(items...)
	sender := &recordingSender{}
	d := newDrainer(store, sender, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.ProcessBatch(context.Background())
		}()
	}
	wg.Wait()

	assert.Len(t, sender.sent, len(items))
	for _, it := range items {
		assert.Equal(t, models.StatusSent, store.get(it.ID).Status)
	}
}

func TestProcessBatch_ReachesFailedExactlyAtMaxRetries(t *testing.T) {
	t.Parallel()

	item := pendingItem(models.EmailTypeInvoice, 0, 3, fixedNow)
	store := newMemStore(item)
	sender := &recordingSender{err: failWith("timeout")}
	d := newDrainer(store, sender, nil)

	var delays []time.Duration
	for attempt := 1; attempt <= 5; attempt++ {
		_, err := d.ProcessBatch(context.Background())
		require.NoError(t, err)

		got := store.get(item.ID)
		assert.LessOrEqual(t, got.RetryCount, got.MaxRetries)
		if got.Status == models.StatusFailed {
			assert.Equal(t, 3, attempt)
			assert.Equal(t, 3, got.RetryCount)
			break
		}
		require.NotNil(t, got.ScheduledAt)
		delays = append(delays, got.ScheduledAt.Sub(fixedNow))

		// make the item eligible again
		store.mu.Lock()
		store.items[item.ID].ScheduledAt = nil
		store.mu.Unlock()
	}

	assert.Equal(t, models.StatusFailed, store.get(item.ID).Status)
	assert.Equal(t, []time.Duration{60 * time.Second, 120 * time.Second}, delays)
	assert.Len(t, sender.sent, 3)
}

func TestProcessBatch_TruncatesErrorMessage(t *testing.T) {
	t.Parallel()

	item := pendingItem(models.EmailTypeStudentWelcome, 0, 3, fixedNow)
	store := newMemStore(item)
	sender := &recordingSender{err: failWith(strings.Repeat("x", 800))}

	_, err := newDrainer(store, sender, nil).ProcessBatch(context.Background())
	require.NoError(t, err)

	got := store.get(item.ID)
	require.NotNil(t, got.ErrorMessage)
	assert.Len(t, *got.ErrorMessage, 500)
}

func TestProcessBatch_SettingsErrorAbortsInvocation(t *testing.T) {
	t.Parallel()

	item := pendingItem(models.EmailTypeStudentWelcome, 0, 3, fixedNow)
	store := newMemStore(item)
	d := queue.NewDrainer(
		store,
		staticSettings{err: errors.New("relation company_settings does not exist")},
		fixedResolver{sender: &recordingSender{}},
		zap.NewNop(),
	)

	_, err := d.ProcessBatch(context.Background())
	assert.ErrorIs(t, err, queue.ErrFetchSettings)
	assert.Equal(t, models.StatusPending, store.get(item.ID).Status)
	assert.Empty(t, store.sequence)
}

func TestProcessBatch_FetchErrorAbortsInvocation(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.fetchErr = errors.New("connection reset by peer")

	_, err := newDrainer(store, &recordingSender{}, nil).ProcessBatch(context.Background())
	assert.ErrorIs(t, err, queue.ErrFetchBatch)
	assert.Contains(t, err.Error(), "connection reset by peer")
}

func TestProcessBatch_EmptyQueue(t *testing.T) {
	t.Parallel()

	res, err := newDrainer(newMemStore(), &recordingSender{}, nil).ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queue.Result{Success: true, ErrorDetails: []string{}}, res)
}

func TestProcessBatch_Lease(t *testing.T) {
	t.Parallel()

	t.Run("held and released", func(t *testing.T) {
		t.Parallel()

		lease := &fakeLease{}
		d := newDrainer(newMemStore(), &recordingSender{}, nil).WithLease(lease)

		_, err := d.ProcessBatch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, lease.acquired)
		assert.Equal(t, 1, lease.released)
	})

	t.Run("busy", func(t *testing.T) {
		t.Parallel()

		item := pendingItem(models.EmailTypeStudentWelcome, 0, 3, fixedNow)
		store := newMemStore(item)
		d := newDrainer(store, &recordingSender{}, nil).WithLease(&fakeLease{err: lock.ErrNotAcquired})

		_, err := d.ProcessBatch(context.Background())
		assert.ErrorIs(t, err, lock.ErrNotAcquired)
		assert.Equal(t, models.StatusPending, store.get(item.ID).Status)
	})
}

// cancellingSender cancels the invocation while the message is in flight.
type cancellingSender struct {
	cancel context.CancelFunc
	err    error
}

func (c cancellingSender) Send(context.Context, email.Message) error {
	c.cancel()
	return c.err
}

func TestProcessBatch_CancelledDuringSendStillRecordsOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		sendErr    error
		wantStatus models.EmailStatus
		wantRetry  int
	}{
		{"send failed", context.Canceled, models.StatusPending, 1},
		{"send accepted", nil, models.StatusSent, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			first := pendingItem(models.EmailTypeStudentWelcome, 0, 3, fixedNow.Add(-time.Minute))
			second := pendingItem(models.EmailTypeStudentWelcome, 0, 3, fixedNow)
			store := newMemStore(first, second)
			store.strictCtx = true

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			d := newDrainer(store, cancellingSender{cancel: cancel, err: tt.sendErr}, nil)
			_, err := d.ProcessBatch(ctx)
			require.NoError(t, err)

			got := store.get(first.ID)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantRetry, got.RetryCount)

			// the rest of the batch is left for the next invocation
			assert.Equal(t, models.StatusPending, store.get(second.ID).Status)
			assert.Equal(t, 0, store.get(second.ID).RetryCount)
		})
	}
}

func TestProcessBatch_UnknownDeliveryIsNotRetried(t *testing.T) {
	t.Parallel()

	item := pendingItem(models.EmailTypeStudentWelcome, 0, 3, fixedNow)
	store := newMemStore(item)
	sender := &recordingSender{err: func(email.Message) error {
		return errors.Join(email.ErrDeliveryUnknown, context.DeadlineExceeded)
	}}

	res, err := newDrainer(store, sender, nil).ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)

	got := store.get(item.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Nil(t, got.ScheduledAt)
}
