package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/branch-ledger/internal/jobs"
	"github.com/odyssey-erp/branch-ledger/internal/sales"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

type recordingSink struct {
	mu     sync.Mutex
	alerts []sales.LowStockWarning
	fail   error
}

func (s *recordingSink) LowStock(_ context.Context, _, _ int64, w sales.LowStockWarning) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.alerts = append(s.alerts, w)
	return nil
}

func newLowStockJob(t *testing.T) (*LowStockJob, *recordingSink, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sink := &recordingSink{}
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	return NewLowStockJob(client, sink, nil, metrics), sink, mr
}

func lowStockTask(t *testing.T, invoiceID int64, lines ...int64) *asynq.Task {
	t.Helper()
	notice := sales.LowStockNotice{InvoiceID: invoiceID, BranchID: 3}
	for _, id := range lines {
		notice.Warnings = append(notice.Warnings, sales.LowStockWarning{StockLineID: id, Name: "Flour", RemainingQty: 2})
	}
	task, err := NewLowStockTask(notice)
	require.NoError(t, err)
	return task
}

func TestLowStockJobSuppressesRepeats(t *testing.T) {
	job, sink, mr := newLowStockJob(t)
	ctx := context.Background()

	require.NoError(t, job.Handle(ctx, lowStockTask(t, 1, 10, 11)))
	require.NoError(t, job.Handle(ctx, lowStockTask(t, 2, 10, 12)))
	require.Len(t, sink.alerts, 3)
	require.True(t, mr.Exists(shared.LowStockAlertKey(3, 10)))
	require.Equal(t, DefaultAlertCooldown, mr.TTL(shared.LowStockAlertKey(3, 10)))

	mr.FastForward(DefaultAlertCooldown + time.Second)
	require.NoError(t, job.Handle(ctx, lowStockTask(t, 3, 10)))
	require.Len(t, sink.alerts, 4)
}

func TestLowStockJobReleasesClaimOnSinkFailure(t *testing.T) {
	job, sink, mr := newLowStockJob(t)
	sink.fail = errors.New("smtp down")

	err := job.Handle(context.Background(), lowStockTask(t, 1, 10))
	require.Error(t, err)
	require.False(t, mr.Exists(shared.LowStockAlertKey(3, 10)))

	sink.fail = nil
	require.NoError(t, job.Handle(context.Background(), lowStockTask(t, 1, 10)))
	require.Len(t, sink.alerts, 1)
}

func TestLowStockJobSkipsRetryOnBadPayload(t *testing.T) {
	job, _, _ := newLowStockJob(t)
	err := job.Handle(context.Background(), asynq.NewTask(TaskLowStockNotice, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func TestClientNotifyLowStockEnqueues(t *testing.T) {
	enq := &fakeEnqueuer{}
	client := NewClientWith(enq)
	var _ sales.LowStockNotifier = client

	notice := sales.LowStockNotice{InvoiceID: 9, BranchID: 2, Warnings: []sales.LowStockWarning{{StockLineID: 4, RemainingQty: 1}}}
	require.NoError(t, client.NotifyLowStock(context.Background(), notice))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskLowStockNotice, enq.tasks[0].Type())

	var decoded sales.LowStockNotice
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &decoded))
	require.Equal(t, notice, decoded)
	require.NoError(t, client.Close())
}

type fakeExpirer struct {
	today time.Time
	n     int64
}

func (f *fakeExpirer) ExpireDue(_ context.Context, today time.Time) (int64, error) {
	f.today = today
	return f.n, nil
}

func TestSubscriptionExpiryJob(t *testing.T) {
	expirer := &fakeExpirer{n: 4}
	job := NewSubscriptionExpiryJob(expirer, nil, nil)
	now := time.Date(2026, 4, 1, 1, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return now }

	task, err := NewSubscriptionsExpireTask()
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, now, expirer.today)

	pinned := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	body, _ := json.Marshal(ExpirePayload{Today: &pinned})
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskSubscriptionsExpire, body)))
	require.True(t, pinned.Equal(expirer.today))
}

type fakeCleaner struct {
	olderThan time.Duration
	err       error
}

func (f *fakeCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return 12, f.err
}

func TestIdempotencyCleanupRetention(t *testing.T) {
	cleaner := &fakeCleaner{}
	job := &IdempotencyCleanupJob{Store: cleaner}

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, DefaultIdempotencyRetention, cleaner.olderThan)

	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 48*time.Hour, cleaner.olderThan)

	cleaner.err = errors.New("db gone")
	require.Error(t, job.Handle(context.Background(), task))
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthEndpoint(t *testing.T) {
	router := chi.NewRouter()
	router.Route("/jobs", NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3}}, nil).MountRoutes)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":3,"active":0,"retry":0}`, rec.Body.String())

	router = chi.NewRouter()
	router.Route("/jobs", NewHandler(stubInspector{err: errors.New("redis down")}, nil).MountRoutes)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
