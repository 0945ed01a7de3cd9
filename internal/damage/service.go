package damage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/branch-ledger/internal/catalog"
	"github.com/odyssey-erp/branch-ledger/internal/ledger"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// TxRepository writes a damage record, its stock movement and its audit row
// in one transaction.
type TxRepository interface {
	ledger.Store
	InsertRecord(ctx context.Context, rec *Record) error
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// Repository exposes damage storage.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListRecords(ctx context.Context, filter Filter) ([]Record, error)
	Totals(ctx context.Context, filter Filter) ([]Total, error)
}

// CostLookup resolves catalog cost and display name.
type CostLookup interface {
	Describe(ctx context.Context, productID, variantID int64) (catalog.Item, error)
}

// Service records damage write-offs.
type Service struct {
	repo      Repository
	ledger    *ledger.Ledger
	costs     CostLookup
	logger    *slog.Logger
	validator *validator.Validate
	now       func() time.Time
}

// NewService constructs the damage service.
func NewService(repo Repository, l *ledger.Ledger, costs CostLookup, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		ledger:    l,
		costs:     costs,
		logger:    logger,
		validator: shared.NewValidator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Report deducts the damaged quantity from the branch and records why.
func (s *Service) Report(ctx context.Context, req ReportRequest, actor shared.Actor) (*Record, error) {
	if err := shared.ValidateStruct(s.validator, req); err != nil {
		return nil, err
	}
	rec := &Record{
		ProductID:  req.ProductID,
		VariantID:  req.VariantID,
		BranchID:   req.BranchID,
		Quantity:   req.Quantity,
		Reason:     strings.TrimSpace(req.Reason),
		ReportedBy: actor.UserID,
		CreatedAt:  s.now(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertRecord(ctx, rec); err != nil {
			return fmt.Errorf("insert damage record: %w", err)
		}
		line, err := s.ledger.Apply(ctx, tx, ledger.Adjustment{
			Key:       ledger.Key{ProductID: rec.ProductID, VariantID: rec.VariantID, BranchID: rec.BranchID},
			Delta:     -rec.Quantity,
			Reason:    ledger.ReasonDamage,
			RefModule: "damage",
			RefID:     strconv.FormatInt(rec.ID, 10),
			ActorID:   actor.UserID,
			Note:      rec.Reason,
		})
		if err != nil {
			return err
		}
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.UserID,
			BranchID: rec.BranchID,
			Action:   "damage:report",
			Entity:   "damaged_item",
			EntityID: strconv.FormatInt(rec.ID, 10),
			Meta: map[string]any{
				"product_id": rec.ProductID,
				"variant_id": rec.VariantID,
				"quantity":   rec.Quantity,
				"balance":    line.Quantity,
				"reason":     rec.Reason,
			},
			At: rec.CreatedAt,
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns damage records newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Record, error) {
	if err := validateWindow(filter); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}
	return s.repo.ListRecords(ctx, filter)
}

// Summary values damage per product at current catalog cost. Products the
// catalog no longer knows count with zero cost.
func (s *Service) Summary(ctx context.Context, filter Filter) (Summary, error) {
	if err := validateWindow(filter); err != nil {
		return Summary{}, err
	}
	totals, err := s.repo.Totals(ctx, filter)
	if err != nil {
		return Summary{}, err
	}
	var out Summary
	for _, t := range totals {
		line := SummaryLine{ProductID: t.ProductID, VariantID: t.VariantID, Quantity: t.Quantity}
		if s.costs != nil {
			item, err := s.costs.Describe(ctx, t.ProductID, t.VariantID)
			switch {
			case err == nil:
				line.Name = item.DisplayName()
				line.UnitCost = item.Cost
			case errors.Is(err, shared.ErrNotFound):
				s.logger.Warn("damage summary: unknown product",
					slog.Int64("product_id", t.ProductID), slog.Int64("variant_id", t.VariantID))
			default:
				return Summary{}, fmt.Errorf("describe product %d: %w", t.ProductID, err)
			}
		}
		line.Value = line.UnitCost.Mul(decimal.NewFromInt(t.Quantity))
		out.Lines = append(out.Lines, line)
		out.TotalQuantity += t.Quantity
		out.TotalValue = out.TotalValue.Add(line.Value)
	}
	return out, nil
}

func validateWindow(filter Filter) error {
	if filter.From != nil && filter.To != nil && !filter.To.After(*filter.From) {
		return shared.Invalid("to must be after from")
	}
	return nil
}
