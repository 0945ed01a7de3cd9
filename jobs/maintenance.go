package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/branch-ledger/internal/jobs"
)

// Expirer flips subscriptions whose end date is before today.
type Expirer interface {
	ExpireDue(ctx context.Context, today time.Time) (int64, error)
}

// SubscriptionExpiryJob runs the nightly expiry sweep.
type SubscriptionExpiryJob struct {
	Expirer Expirer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSubscriptionExpiryJob wires the expiry handler.
func NewSubscriptionExpiryJob(expirer Expirer, logger *slog.Logger, metrics *jobmetrics.Metrics) *SubscriptionExpiryJob {
	return &SubscriptionExpiryJob{
		Expirer: expirer,
		Logger:  logger,
		Metrics: metrics,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes TaskSubscriptionsExpire tasks.
func (j *SubscriptionExpiryJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Expirer == nil {
		return errors.New("subscription expiry: handler not configured")
	}
	var payload ExpirePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode expiry payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	tracker := j.Metrics.Track(TaskSubscriptionsExpire)
	defer func() { err = tracker.End(err) }()

	today := j.clock()
	if payload.Today != nil {
		today = *payload.Today
	}
	n, err := j.Expirer.ExpireDue(ctx, today)
	if err != nil {
		return err
	}
	j.Metrics.AddItems(TaskSubscriptionsExpire, "expired", n)
	logger(j.Logger).Info("subscription expiry sweep",
		slog.String("today", today.Format(time.DateOnly)),
		slog.Int64("expired", n))
	return nil
}

// Cleaner prunes idempotency keys older than a retention window.
type Cleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// DefaultIdempotencyRetention applies when neither job nor payload sets one.
const DefaultIdempotencyRetention = 7 * 24 * time.Hour

// IdempotencyCleanupJob removes stale idempotency keys.
type IdempotencyCleanupJob struct {
	Store     Cleaner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload CleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode cleanup payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() { err = tracker.End(err) }()

	retention := j.Retention
	if payload.RetentionHours > 0 {
		retention = time.Duration(payload.RetentionHours) * time.Hour
	}
	if retention <= 0 {
		retention = DefaultIdempotencyRetention
	}
	n, err := j.Store.Cleanup(ctx, retention)
	if err != nil {
		return fmt.Errorf("cleanup idempotency keys: %w", err)
	}
	j.Metrics.AddItems(TaskIdempotencyCleanup, "deleted", n)
	logger(j.Logger).Info("idempotency keys pruned",
		slog.Duration("retention", retention),
		slog.Int64("deleted", n))
	return nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
