package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/odyssey-erp/branch-ledger/internal/jobs"
	"github.com/odyssey-erp/branch-ledger/internal/sales"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// DefaultAlertCooldown keeps a line from alerting twice within the window.
const DefaultAlertCooldown = 6 * time.Hour

// AlertSink delivers one low-stock alert to staff.
type AlertSink interface {
	LowStock(ctx context.Context, branchID, invoiceID int64, warning sales.LowStockWarning) error
}

// LogSink writes alerts to the structured log.
type LogSink struct {
	Logger *slog.Logger
}

// LowStock implements AlertSink.
func (s LogSink) LowStock(_ context.Context, branchID, invoiceID int64, w sales.LowStockWarning) error {
	logger(s.Logger).Warn("low stock",
		slog.Int64("branch_id", branchID),
		slog.Int64("invoice_id", invoiceID),
		slog.Int64("stock_line_id", w.StockLineID),
		slog.String("name", w.Name),
		slog.Int64("remaining", w.RemainingQty))
	return nil
}

// LowStockJob delivers low-stock notices, suppressing repeats per line for
// Cooldown.
type LowStockJob struct {
	Redis    redis.UniversalClient
	Sink     AlertSink
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	Cooldown time.Duration
}

// NewLowStockJob wires the low-stock handler.
func NewLowStockJob(client redis.UniversalClient, sink AlertSink, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockJob {
	return &LowStockJob{Redis: client, Sink: sink, Logger: logger, Metrics: metrics, Cooldown: DefaultAlertCooldown}
}

// Handle processes TaskLowStockNotice tasks.
func (j *LowStockJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Redis == nil || j.Sink == nil {
		return errors.New("low stock: handler not configured")
	}
	var notice sales.LowStockNotice
	if err := json.Unmarshal(t.Payload(), &notice); err != nil {
		return fmt.Errorf("decode low stock notice: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskLowStockNotice)
	defer func() { err = tracker.End(err) }()

	cooldown := j.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultAlertCooldown
	}
	var sent, suppressed int64
	for _, w := range notice.Warnings {
		key := shared.LowStockAlertKey(notice.BranchID, w.StockLineID)
		fresh, err := j.Redis.SetNX(ctx, key, notice.InvoiceID, cooldown).Result()
		if err != nil {
			return fmt.Errorf("claim alert %s: %w", key, err)
		}
		if !fresh {
			suppressed++
			continue
		}
		if err := j.Sink.LowStock(ctx, notice.BranchID, notice.InvoiceID, w); err != nil {
			// let the retry deliver it
			_ = j.Redis.Del(ctx, key).Err()
			return fmt.Errorf("deliver alert %s: %w", key, err)
		}
		sent++
	}
	j.Metrics.AddItems(TaskLowStockNotice, "sent", sent)
	j.Metrics.AddItems(TaskLowStockNotice, "suppressed", suppressed)
	logger(j.Logger).Debug("low stock notice handled",
		slog.Int64("invoice_id", notice.InvoiceID),
		slog.Int64("sent", sent),
		slog.Int64("suppressed", suppressed))
	return nil
}
