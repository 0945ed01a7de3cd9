package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/branch-ledger/internal/catalog"
	"github.com/odyssey-erp/branch-ledger/internal/ledger"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

const (
	refModule         = "sales"
	idempotencyModule = "sales.invoice"
	// DefaultLowStockThreshold applies when settings carry no threshold.
	DefaultLowStockThreshold int64 = 5
)

// TxRepository is the transactional view of sales storage. It embeds the
// ledger store so stock moves commit with the invoice rows.
type TxRepository interface {
	ledger.Store
	NextInvoiceSequence(ctx context.Context) (int64, error)
	InsertInvoice(ctx context.Context, inv *Invoice) error
	InsertLines(ctx context.Context, invoiceID int64, lines []Line) ([]Line, error)
	// LockInvoice reads the invoice with its lines under a row lock.
	LockInvoice(ctx context.Context, id int64) (Invoice, error)
	DeleteLines(ctx context.Context, invoiceID int64) error
	MarkCancelled(ctx context.Context, id int64, reason string, stockReturned bool, at time.Time) error
	MarkEdited(ctx context.Context, id int64, subtotal, total decimal.Decimal, editedBy int64, at time.Time) error
	InsertEdit(ctx context.Context, rec EditRecord) error
	UpdateStatus(ctx context.Context, id int64, status Status) error
	AdjustLoyalty(ctx context.Context, customerID, delta int64) error
	ReturnedQuantity(ctx context.Context, invoiceLineID int64) (int64, error)
	InsertReturn(ctx context.Context, ret *Return) error
	LockReturn(ctx context.Context, id int64) (Return, error)
	DeleteReturn(ctx context.Context, id int64) error
}

// Repository exposes sales storage.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, error)
	ListEdits(ctx context.Context, invoiceID int64) ([]EditRecord, error)
	ListReturns(ctx context.Context, invoiceID int64) ([]Return, error)
	// LowStockThreshold reads the settings value; ok is false when unset.
	LowStockThreshold(ctx context.Context) (threshold int64, ok bool, err error)
}

// StockReader reads committed stock lines.
type StockReader interface {
	Line(ctx context.Context, id int64) (ledger.StockLine, error)
}

// ProductDescriber resolves catalog names.
type ProductDescriber interface {
	Describe(ctx context.Context, productID, variantID int64) (catalog.Item, error)
}

// LowStockNotifier forwards warnings to the notification consumer.
type LowStockNotifier interface {
	NotifyLowStock(ctx context.Context, notice LowStockNotice) error
}

// IdempotencyPort claims request keys.
type IdempotencyPort interface {
	Claim(ctx context.Context, module, key string) error
	Release(ctx context.Context, module, key string) error
}

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Options groups optional collaborators.
type Options struct {
	Catalog           ProductDescriber
	Notifier          LowStockNotifier
	Idempotency       IdempotencyPort
	Audit             AuditPort
	Logger            *slog.Logger
	LowStockThreshold int64
}

// Service processes sales against the branch ledger.
type Service struct {
	repo        Repository
	ledger      *ledger.Ledger
	stock       StockReader
	catalog     ProductDescriber
	notifier    LowStockNotifier
	idempotency IdempotencyPort
	audit       AuditPort
	logger      *slog.Logger
	validator   *validator.Validate
	threshold   int64
	now         func() time.Time
}

// NewService constructs the sale processor.
func NewService(repo Repository, l *ledger.Ledger, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := opts.LowStockThreshold
	if threshold <= 0 {
		threshold = DefaultLowStockThreshold
	}
	return &Service{
		repo:        repo,
		ledger:      l,
		stock:       l,
		catalog:     opts.Catalog,
		notifier:    opts.Notifier,
		idempotency: opts.Idempotency,
		audit:       opts.Audit,
		logger:      logger,
		validator:   shared.NewValidator(),
		threshold:   threshold,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateInvoice records a sale and deducts every line from the ledger in one
// transaction. Low-stock warnings are computed after commit and never fail
// the sale.
func (s *Service) CreateInvoice(ctx context.Context, req CreateInvoiceRequest, actor shared.Actor) (CreateInvoiceResult, error) {
	if err := shared.ValidateStruct(s.validator, req); err != nil {
		return CreateInvoiceResult{}, err
	}
	lines, subtotal, err := s.buildLines(ctx, req.Lines)
	if err != nil {
		return CreateInvoiceResult{}, err
	}
	total, err := applyDiscount(subtotal, req.Discount)
	if err != nil {
		return CreateInvoiceResult{}, err
	}
	if req.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.Claim(ctx, idempotencyModule, req.IdempotencyKey); err != nil {
			return CreateInvoiceResult{}, err
		}
	}

	inv := Invoice{
		BranchID:       req.BranchID,
		CustomerID:     req.CustomerID,
		Status:         StatusInProgress,
		Subtotal:       subtotal,
		Discount:       req.Discount,
		Total:          total,
		PointsEarned:   req.PointsEarned,
		PointsRedeemed: req.PointsRedeemed,
		Notes:          req.Notes,
		CreatedBy:      actor.UserID,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number := strings.TrimSpace(req.Number)
		if number == "" {
			seq, err := tx.NextInvoiceSequence(ctx)
			if err != nil {
				return fmt.Errorf("next invoice number: %w", err)
			}
			number = fmt.Sprintf("INV-%06d", seq)
		}
		inv.Number = fmt.Sprintf("%s-B%d", number, req.BranchID)
		inv.CreatedAt = s.now()
		if err := tx.InsertInvoice(ctx, &inv); err != nil {
			return fmt.Errorf("insert invoice: %w", err)
		}
		deducted, err := s.deduct(ctx, tx, inv, lines, ledger.ReasonSale, actor, uuid.New())
		if err != nil {
			return err
		}
		if inv.Lines, err = tx.InsertLines(ctx, inv.ID, deducted); err != nil {
			return fmt.Errorf("insert lines: %w", err)
		}
		if inv.CustomerID != nil {
			if net := inv.PointsEarned - inv.PointsRedeemed; net != 0 {
				return tx.AdjustLoyalty(ctx, *inv.CustomerID, net)
			}
		}
		return nil
	})
	if err != nil {
		if req.IdempotencyKey != "" && s.idempotency != nil {
			if relErr := s.idempotency.Release(ctx, idempotencyModule, req.IdempotencyKey); relErr != nil {
				s.logger.Warn("release idempotency key", slog.Any("error", relErr))
			}
		}
		return CreateInvoiceResult{}, err
	}

	s.recordAudit(ctx, actor, "sales:create", inv.ID, inv.BranchID, map[string]any{
		"number": inv.Number,
		"total":  inv.Total.String(),
		"lines":  len(inv.Lines),
	})
	warnings := s.lowStockWarnings(ctx, inv)
	return CreateInvoiceResult{InvoiceID: inv.ID, Number: inv.Number, Total: inv.Total, LowStockWarnings: warnings}, nil
}

// CancelInvoice cancels an invoice once. With ReturnStock every line not yet
// returned goes back to its stock line. Loyalty points net-earned by the sale
// are reversed, clamped at zero.
func (s *Service) CancelInvoice(ctx context.Context, id int64, req CancelRequest, actor shared.Actor) (CancelResult, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return CancelResult{}, ErrMissingReason
	}
	var inv Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.Cancelled {
			return ErrAlreadyCancelled
		}
		if req.ReturnStock {
			batch := uuid.New()
			for i, line := range inv.Lines {
				returned, err := tx.ReturnedQuantity(ctx, line.ID)
				if err != nil {
					return err
				}
				qty := line.Quantity - returned
				if qty <= 0 {
					continue
				}
				_, err = s.ledger.Apply(ctx, tx, ledger.Adjustment{
					LineID:    line.StockLineID,
					Delta:     qty,
					Reason:    ledger.ReasonSaleCancel,
					RefModule: refModule,
					RefID:     strconv.FormatInt(inv.ID, 10),
					ActorID:   actor.UserID,
					BatchID:   batch,
					Note:      reason,
				})
				if err != nil {
					return shared.AtLine(i+1, err)
				}
			}
		}
		if err := tx.MarkCancelled(ctx, inv.ID, reason, req.ReturnStock, s.now()); err != nil {
			return err
		}
		if inv.CustomerID != nil {
			if reverse := inv.PointsRedeemed - inv.PointsEarned; reverse != 0 {
				return tx.AdjustLoyalty(ctx, *inv.CustomerID, reverse)
			}
		}
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}
	s.recordAudit(ctx, actor, "sales:cancel", inv.ID, inv.BranchID, map[string]any{
		"reason":         reason,
		"stock_returned": req.ReturnStock,
	})
	return CancelResult{StockReturned: req.ReturnStock}, nil
}

// EditInvoice replaces the line set. Old lines are all returned and new lines
// all deducted inside one transaction, so an unchanged edit nets to zero.
// Invoices with recorded returns cannot be edited.
func (s *Service) EditInvoice(ctx context.Context, id int64, req EditRequest, actor shared.Actor) (Invoice, error) {
	if err := shared.ValidateStruct(s.validator, req); err != nil {
		return Invoice{}, err
	}
	lines, subtotal, err := s.buildLines(ctx, req.Lines)
	if err != nil {
		return Invoice{}, err
	}
	var (
		inv     Invoice
		changes EditChanges
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.Cancelled {
			return ErrAlreadyCancelled
		}
		if inv.Status == StatusCompleted && !actor.Can(shared.CapInvoiceEditCompleted) {
			return ErrEditCompletedForbidden
		}
		for _, old := range inv.Lines {
			returned, err := tx.ReturnedQuantity(ctx, old.ID)
			if err != nil {
				return err
			}
			if returned > 0 {
				return fmt.Errorf("line %d: %w", old.ID, ErrEditWithReturns)
			}
		}
		total, err := applyDiscount(subtotal, inv.Discount)
		if err != nil {
			return err
		}
		changes = EditChanges{
			OldTotal:      inv.Total,
			NewTotal:      total,
			OldItemsCount: len(inv.Lines),
			NewItemsCount: len(lines),
		}

		batch := uuid.New()
		ref := strconv.FormatInt(inv.ID, 10)
		for i, old := range inv.Lines {
			_, err := s.ledger.Apply(ctx, tx, ledger.Adjustment{
				LineID:    old.StockLineID,
				Delta:     old.Quantity,
				Reason:    ledger.ReasonSaleEdit,
				RefModule: refModule,
				RefID:     ref,
				ActorID:   actor.UserID,
				BatchID:   batch,
			})
			if err != nil {
				return shared.AtLine(i+1, err)
			}
		}
		if err := tx.DeleteLines(ctx, inv.ID); err != nil {
			return err
		}
		deducted, err := s.deduct(ctx, tx, inv, lines, ledger.ReasonSaleEdit, actor, batch)
		if err != nil {
			return err
		}
		if inv.Lines, err = tx.InsertLines(ctx, inv.ID, deducted); err != nil {
			return err
		}
		now := s.now()
		if err := tx.MarkEdited(ctx, inv.ID, subtotal, total, actor.UserID, now); err != nil {
			return err
		}
		editedBy := actor.UserID
		inv.Subtotal, inv.Total = subtotal, total
		inv.EditCount++
		inv.EditedAt, inv.EditedBy = &now, &editedBy
		return tx.InsertEdit(ctx, EditRecord{InvoiceID: inv.ID, EditedBy: actor.UserID, EditedAt: now, Changes: changes})
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, actor, "sales:edit", inv.ID, inv.BranchID, map[string]any{
		"old_total":       changes.OldTotal.String(),
		"new_total":       changes.NewTotal.String(),
		"old_items_count": changes.OldItemsCount,
		"new_items_count": changes.NewItemsCount,
	})
	return inv, nil
}

// UpdateStatus moves the fulfilment status forward.
func (s *Service) UpdateStatus(ctx context.Context, id int64, req StatusRequest, actor shared.Actor) error {
	if err := shared.ValidateStruct(s.validator, req); err != nil {
		return err
	}
	var inv Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.Cancelled {
			return ErrAlreadyCancelled
		}
		if !inv.Status.CanMoveTo(req.Status) {
			return fmt.Errorf("%s to %s: %w", inv.Status, req.Status, ErrStatusTransition)
		}
		return tx.UpdateStatus(ctx, id, req.Status)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "sales:status", inv.ID, inv.BranchID, map[string]any{
		"from": string(inv.Status),
		"to":   string(req.Status),
	})
	return nil
}

// RecordReturn restocks part of a sold line.
func (s *Service) RecordReturn(ctx context.Context, req ReturnRequest, actor shared.Actor) (Return, error) {
	if err := shared.ValidateStruct(s.validator, req); err != nil {
		return Return{}, err
	}
	var ret Return
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, req.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Cancelled {
			return ErrAlreadyCancelled
		}
		var line *Line
		for i := range inv.Lines {
			if inv.Lines[i].ID == req.InvoiceLineID {
				line = &inv.Lines[i]
				break
			}
		}
		if line == nil {
			return fmt.Errorf("line %d of invoice %d: %w", req.InvoiceLineID, inv.ID, ErrInvoiceLineNotFound)
		}
		returned, err := tx.ReturnedQuantity(ctx, line.ID)
		if err != nil {
			return err
		}
		if returned+req.Quantity > line.Quantity {
			return &ReturnExceedsSoldError{InvoiceLineID: line.ID, Sold: line.Quantity, Returned: returned, Requested: req.Quantity}
		}
		if _, err := s.ledger.Apply(ctx, tx, ledger.Adjustment{
			LineID:    line.StockLineID,
			Delta:     req.Quantity,
			Reason:    ledger.ReasonReturn,
			RefModule: refModule,
			RefID:     strconv.FormatInt(inv.ID, 10),
			ActorID:   actor.UserID,
			Note:      req.Reason,
		}); err != nil {
			return err
		}
		ret = Return{
			InvoiceID:     inv.ID,
			InvoiceLineID: line.ID,
			StockLineID:   line.StockLineID,
			Quantity:      req.Quantity,
			UnitPrice:     line.UnitPrice,
			Total:         line.UnitPrice.Mul(decimal.NewFromInt(req.Quantity)),
			Reason:        req.Reason,
			CreatedBy:     actor.UserID,
			CreatedAt:     s.now(),
		}
		return tx.InsertReturn(ctx, &ret)
	})
	if err != nil {
		return Return{}, err
	}
	return ret, nil
}

// DeleteReturn removes a return and takes its quantity off the shelf again.
// Returns of a cancelled invoice are final.
func (s *Service) DeleteReturn(ctx context.Context, returnID int64, actor shared.Actor) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ret, err := tx.LockReturn(ctx, returnID)
		if err != nil {
			return err
		}
		inv, err := tx.LockInvoice(ctx, ret.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Cancelled {
			return ErrAlreadyCancelled
		}
		if _, err := s.ledger.Apply(ctx, tx, ledger.Adjustment{
			LineID:    ret.StockLineID,
			Delta:     -ret.Quantity,
			Reason:    ledger.ReasonReturnDelete,
			RefModule: refModule,
			RefID:     strconv.FormatInt(ret.InvoiceID, 10),
			ActorID:   actor.UserID,
		}); err != nil {
			return err
		}
		return tx.DeleteReturn(ctx, ret.ID)
	})
}

// GetInvoice returns an invoice with its lines.
func (s *Service) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListInvoices lists invoices newest first.
func (s *Service) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	return s.repo.ListInvoices(ctx, filter)
}

// ListEdits returns the edit history of an invoice.
func (s *Service) ListEdits(ctx context.Context, invoiceID int64) ([]EditRecord, error) {
	if _, err := s.repo.GetInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.repo.ListEdits(ctx, invoiceID)
}

// ListReturns returns the returns recorded against an invoice.
func (s *Service) ListReturns(ctx context.Context, invoiceID int64) ([]Return, error) {
	if _, err := s.repo.GetInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.repo.ListReturns(ctx, invoiceID)
}

// buildLines validates prices, resolves missing names and computes totals.
func (s *Service) buildLines(ctx context.Context, inputs []LineInput) ([]Line, decimal.Decimal, error) {
	lines := make([]Line, 0, len(inputs))
	subtotal := decimal.Zero
	for i, in := range inputs {
		if in.UnitPrice.IsNegative() {
			return nil, decimal.Zero, shared.AtLine(i+1, shared.Invalid("unit price must not be negative"))
		}
		line := Line{
			StockLineID: in.StockLineID,
			ProductID:   in.ProductID,
			VariantID:   in.VariantID,
			ProductName: in.ProductName,
			VariantName: in.VariantName,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			Total:       in.UnitPrice.Mul(decimal.NewFromInt(in.Quantity)),
		}
		if line.ProductName == "" && s.catalog != nil {
			item, err := s.catalog.Describe(ctx, in.ProductID, in.VariantID)
			if err != nil {
				return nil, decimal.Zero, shared.AtLine(i+1, err)
			}
			line.ProductName, line.VariantName = item.Name, item.VariantName
		}
		subtotal = subtotal.Add(line.Total)
		lines = append(lines, line)
	}
	return lines, subtotal, nil
}

func applyDiscount(subtotal, discount decimal.Decimal) (decimal.Decimal, error) {
	if discount.IsNegative() {
		return decimal.Zero, shared.Invalid("discount must not be negative")
	}
	if discount.GreaterThan(subtotal) {
		return decimal.Zero, shared.Invalid("discount %s exceeds subtotal %s", discount, subtotal)
	}
	return subtotal.Sub(discount), nil
}

// deduct applies -quantity per line and pins product and variant to
// the stock line actually moved.
func (s *Service) deduct(ctx context.Context, tx TxRepository, inv Invoice, lines []Line, reason ledger.Reason, actor shared.Actor, batch uuid.UUID) ([]Line, error) {
	out := make([]Line, len(lines))
	ref := strconv.FormatInt(inv.ID, 10)
	for i, line := range lines {
		stock, err := s.ledger.Apply(ctx, tx, ledger.Adjustment{
			LineID:    line.StockLineID,
			Delta:     -line.Quantity,
			Reason:    reason,
			RefModule: refModule,
			RefID:     ref,
			ActorID:   actor.UserID,
			BatchID:   batch,
		})
		if err != nil {
			return nil, shared.AtLine(i+1, err)
		}
		line.InvoiceID = inv.ID
		line.ProductID = stock.ProductID
		line.VariantID = stock.VariantID
		out[i] = line
	}
	return out, nil
}

// lowStockWarnings re-reads every touched line after commit. Failures are
// logged and yield no warnings for that line.
func (s *Service) lowStockWarnings(ctx context.Context, inv Invoice) []LowStockWarning {
	threshold := s.threshold
	if value, ok, err := s.repo.LowStockThreshold(ctx); err != nil {
		s.logger.Warn("low stock threshold", slog.Any("error", err))
	} else if ok {
		threshold = value
	}

	seen := make(map[int64]bool, len(inv.Lines))
	var touched []Line
	for _, line := range inv.Lines {
		if !seen[line.StockLineID] {
			seen[line.StockLineID] = true
			touched = append(touched, line)
		}
	}
	results := make([]*LowStockWarning, len(touched))
	var g errgroup.Group
	g.SetLimit(8)
	for i, line := range touched {
		i, line := i, line
		g.Go(func() error {
			stock, err := s.stock.Line(ctx, line.StockLineID)
			if err != nil {
				return fmt.Errorf("stock line %d: %w", line.StockLineID, err)
			}
			if stock.Quantity <= threshold {
				results[i] = &LowStockWarning{StockLineID: stock.ID, Name: line.DisplayName(), RemainingQty: stock.Quantity}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("low stock check", slog.Int64("invoice_id", inv.ID), slog.Any("error", err))
	}

	warnings := make([]LowStockWarning, 0)
	for _, w := range results {
		if w != nil {
			warnings = append(warnings, *w)
		}
	}
	if len(warnings) > 0 && s.notifier != nil {
		notice := LowStockNotice{InvoiceID: inv.ID, BranchID: inv.BranchID, Warnings: warnings}
		if err := s.notifier.NotifyLowStock(ctx, notice); err != nil {
			s.logger.Warn("notify low stock", slog.Int64("invoice_id", inv.ID), slog.Any("error", err))
		}
	}
	return warnings
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, invoiceID, branchID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		BranchID: branchID,
		Action:   action,
		Entity:   "invoice",
		EntityID: strconv.FormatInt(invoiceID, 10),
		Meta:     meta,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("sales audit", slog.String("action", action), slog.Any("error", err))
	}
}
