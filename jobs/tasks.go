package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/branch-ledger/internal/sales"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStockNotice fans a sale's low-stock warnings out to staff.
	TaskLowStockNotice = "ledger:low_stock"
	// TaskSubscriptionsExpire flips active subscriptions past their end date.
	TaskSubscriptionsExpire = "subscriptions:expire"
	// TaskIdempotencyCleanup prunes old idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// NewLowStockTask wraps a sale's low-stock notice.
func NewLowStockTask(notice sales.LowStockNotice) (*asynq.Task, error) {
	body, err := json.Marshal(notice)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockNotice, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// ExpirePayload optionally pins the day the expiry sweep runs for.
type ExpirePayload struct {
	Today *time.Time `json:"today,omitempty"`
}

// NewSubscriptionsExpireTask builds the nightly expiry sweep.
func NewSubscriptionsExpireTask() (*asynq.Task, error) {
	body, err := json.Marshal(ExpirePayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSubscriptionsExpire, body, asynq.Queue(QueueDefault)), nil
}

// CleanupPayload carries the retention window in hours. Zero uses the job
// default.
type CleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask builds the idempotency key cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(CleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
