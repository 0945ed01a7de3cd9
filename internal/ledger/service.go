package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// Store exposes the transactional stock operations. Implementations are bound
// to one open transaction.
type Store interface {
	// LockLine returns the line and holds a row lock until commit.
	// ErrLineNotFound when the triple has no row yet.
	LockLine(ctx context.Context, key Key) (StockLine, error)
	LockLineByID(ctx context.Context, id int64) (StockLine, error)
	// IncrementLine adds delta atomically, creating the row when missing, and
	// appends noteEntry to the notes log when not empty.
	IncrementLine(ctx context.Context, key Key, delta int64, noteEntry string, at time.Time) (StockLine, error)
	// SetLine overwrites the quantity, creating the row when missing.
	SetLine(ctx context.Context, key Key, quantity int64, noteEntry string, at time.Time) (StockLine, error)
	InsertMovement(ctx context.Context, m Movement) error
}

// RepositoryPort abstracts repository usage for the ledger.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
	GetLine(ctx context.Context, key Key) (StockLine, error)
	GetLineByID(ctx context.Context, id int64) (StockLine, error)
	ListLines(ctx context.Context, filter LineFilter) ([]StockLine, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MovementObserver receives every applied movement, typically for metrics.
type MovementObserver interface {
	ObserveMovement(reason string, delta int64)
}

// Options groups optional collaborators.
type Options struct {
	Audit    AuditPort
	Observer MovementObserver
	Logger   *slog.Logger
}

// Ledger owns quantity on hand per branch. Every stock moving workflow goes
// through Apply.
type Ledger struct {
	repo      RepositoryPort
	policy    Policy
	audit     AuditPort
	observer  MovementObserver
	logger    *slog.Logger
	validator *validator.Validate
	now       func() time.Time
}

// NewLedger builds a Ledger. A nil policy means Permissive.
func NewLedger(repo RepositoryPort, policy Policy, opts Options) *Ledger {
	if policy == nil {
		policy = Permissive{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		repo:      repo,
		policy:    policy,
		audit:     opts.Audit,
		observer:  opts.Observer,
		logger:    logger,
		validator: shared.NewValidator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Policy reports the active negative stock policy.
func (l *Ledger) Policy() Policy {
	return l.policy
}

// Apply runs one adjustment inside the caller's transaction and returns the
// line after the change. A missing line is created only by a positive delta.
func (l *Ledger) Apply(ctx context.Context, store Store, adj Adjustment) (StockLine, error) {
	if adj.Delta == 0 {
		return StockLine{}, ErrZeroDelta
	}
	if adj.Reason == "" {
		return StockLine{}, ErrUnknownReason
	}
	current, err := l.lock(ctx, store, adj.LineID, adj.Key)
	if err != nil {
		return StockLine{}, err
	}
	// Lines are only created by stock arriving; nothing can be taken from a
	// triple that was never stocked, whatever the policy.
	if current.ID == 0 && adj.Delta < 0 {
		return StockLine{}, fmt.Errorf("%s: %w", current.Key, ErrLineNotFound)
	}
	if err := l.policy.Check(current, adj.Delta); err != nil {
		return StockLine{}, err
	}
	now := l.now()
	next, err := store.IncrementLine(ctx, current.Key, adj.Delta, "", now)
	if err != nil {
		return StockLine{}, err
	}
	if err := l.record(ctx, store, next, adj, now); err != nil {
		return StockLine{}, err
	}
	return next, nil
}

// Available reads the quantity of key under lock inside the caller's
// transaction. Missing lines read as zero.
func (l *Ledger) Available(ctx context.Context, store Store, key Key) (int64, error) {
	line, err := l.lock(ctx, store, 0, key)
	if err != nil {
		return 0, err
	}
	return line.Quantity, nil
}

// Adjust applies delta in its own transaction and returns the new quantity.
func (l *Ledger) Adjust(ctx context.Context, input AdjustInput) (int64, error) {
	if err := input.Key.Validate(); err != nil {
		return 0, err
	}
	if input.Reason == "" {
		input.Reason = ReasonManual
	}
	var line StockLine
	err := l.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		var err error
		line, err = l.Apply(ctx, store, Adjustment{
			Key:       input.Key,
			Delta:     input.Delta,
			Reason:    input.Reason,
			RefModule: "ledger",
			ActorID:   input.ActorID,
			Note:      input.Note,
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	l.recordAudit(ctx, input.ActorID, "ledger:adjust", line, map[string]any{
		"delta":  input.Delta,
		"reason": string(input.Reason),
		"note":   input.Note,
	})
	return line.Quantity, nil
}

// QuantityOf returns the quantity on hand, zero when no line exists.
func (l *Ledger) QuantityOf(ctx context.Context, key Key) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	line, err := l.repo.GetLine(ctx, key)
	if errors.Is(err, ErrLineNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return line.Quantity, nil
}

// SetAbsolute overwrites the quantity of a line. Reserved for manual
// distribution and corrections; automated flows use Apply.
func (l *Ledger) SetAbsolute(ctx context.Context, input SetAbsoluteInput) (StockLine, error) {
	if err := input.Key.Validate(); err != nil {
		return StockLine{}, err
	}
	if input.Quantity < 0 {
		return StockLine{}, ErrNegativeQuantity
	}
	var line StockLine
	err := l.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		current, err := l.lock(ctx, store, 0, input.Key)
		if err != nil {
			return err
		}
		now := l.now()
		delta := input.Quantity - current.Quantity
		entry := ""
		if input.Note != "" {
			entry = fmt.Sprintf("[%s] =%d: %s", now.Format("2006-01-02 15:04"), input.Quantity, input.Note)
		}
		line, err = store.SetLine(ctx, input.Key, input.Quantity, entry, now)
		if err != nil {
			return err
		}
		if delta == 0 {
			return nil
		}
		return l.record(ctx, store, line, Adjustment{
			Delta:     delta,
			Reason:    ReasonCorrection,
			RefModule: "ledger",
			ActorID:   input.ActorID,
			Note:      input.Note,
		}, now)
	})
	if err != nil {
		return StockLine{}, err
	}
	l.recordAudit(ctx, input.ActorID, "ledger:set_absolute", line, map[string]any{
		"quantity": input.Quantity,
		"note":     input.Note,
	})
	return line, nil
}

// StockIn receives goods into a branch and appends a dated entry to the
// line's notes log.
func (l *Ledger) StockIn(ctx context.Context, input StockInInput) (StockLine, error) {
	if err := input.Key.Validate(); err != nil {
		return StockLine{}, err
	}
	if err := shared.ValidateStruct(l.validator, input); err != nil {
		return StockLine{}, err
	}
	var line StockLine
	err := l.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		current, err := l.lock(ctx, store, 0, input.Key)
		if err != nil {
			return err
		}
		if err := l.policy.Check(current, input.Quantity); err != nil {
			return err
		}
		now := l.now()
		line, err = store.IncrementLine(ctx, input.Key, input.Quantity, FormatNote(now, input.Quantity, input.Note), now)
		if err != nil {
			return err
		}
		return l.record(ctx, store, line, Adjustment{
			Delta:     input.Quantity,
			Reason:    ReasonManual,
			RefModule: "ledger",
			ActorID:   input.ActorID,
			Note:      input.Note,
		}, now)
	})
	if err != nil {
		return StockLine{}, err
	}
	l.recordAudit(ctx, input.ActorID, "ledger:stock_in", line, map[string]any{
		"quantity": input.Quantity,
		"note":     input.Note,
	})
	return line, nil
}

// Line returns a stock line by id.
func (l *Ledger) Line(ctx context.Context, id int64) (StockLine, error) {
	return l.repo.GetLineByID(ctx, id)
}

// Lines lists stock lines.
func (l *Ledger) Lines(ctx context.Context, filter LineFilter) ([]StockLine, error) {
	if filter.Limit <= 0 {
		filter.Limit = 500
	}
	return l.repo.ListLines(ctx, filter)
}

// Movements lists the movement history.
func (l *Ledger) Movements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.LineID == 0 && filter.RefID == "" {
		return nil, fmt.Errorf("%w: line or reference required", shared.ErrValidation)
	}
	if filter.Limit <= 0 {
		filter.Limit = 200
	}
	return l.repo.ListMovements(ctx, filter)
}

func (l *Ledger) lock(ctx context.Context, store Store, lineID int64, key Key) (StockLine, error) {
	if lineID > 0 {
		line, err := store.LockLineByID(ctx, lineID)
		if errors.Is(err, ErrLineNotFound) {
			return StockLine{}, fmt.Errorf("stock line %d: %w", lineID, err)
		}
		return line, err
	}
	if err := key.Validate(); err != nil {
		return StockLine{}, err
	}
	line, err := store.LockLine(ctx, key)
	if errors.Is(err, ErrLineNotFound) {
		return StockLine{Key: key}, nil
	}
	if err != nil {
		return StockLine{}, err
	}
	return line, nil
}

func (l *Ledger) record(ctx context.Context, store Store, line StockLine, adj Adjustment, at time.Time) error {
	batch := adj.BatchID
	if batch == uuid.Nil {
		batch = uuid.New()
	}
	err := store.InsertMovement(ctx, Movement{
		BatchID:   batch,
		LineID:    line.ID,
		Key:       line.Key,
		Delta:     adj.Delta,
		Balance:   line.Quantity,
		Reason:    adj.Reason,
		RefModule: adj.RefModule,
		RefID:     adj.RefID,
		ActorID:   adj.ActorID,
		Note:      adj.Note,
		At:        at,
	})
	if err != nil {
		return err
	}
	if l.observer != nil {
		l.observer.ObserveMovement(string(adj.Reason), adj.Delta)
	}
	if line.Quantity < 0 {
		l.logger.Warn("stock line negative",
			slog.Int64("line_id", line.ID),
			slog.Int64("branch_id", line.BranchID),
			slog.Int64("quantity", line.Quantity),
			slog.String("reason", string(adj.Reason)))
	}
	return nil
}

func (l *Ledger) recordAudit(ctx context.Context, actorID int64, action string, line StockLine, meta map[string]any) {
	if l.audit == nil {
		return
	}
	meta["product_id"] = line.ProductID
	meta["variant_id"] = line.VariantID
	meta["branch_id"] = line.BranchID
	meta["balance"] = line.Quantity
	err := l.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		BranchID: line.BranchID,
		Action:   action,
		Entity:   "stock_line",
		EntityID: strconv.FormatInt(line.ID, 10),
		Meta:     meta,
	})
	if err != nil {
		l.logger.Warn("ledger audit", slog.String("action", action), slog.Any("error", err))
	}
}
