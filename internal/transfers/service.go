package transfers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/branch-ledger/internal/ledger"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

const approvalModule = "transfers"

// TxRepository is the transactional view of transfer storage. It embeds the
// ledger store so stock moves commit with the status change.
type TxRepository interface {
	ledger.Store
	// NextNumber returns the next sequence value, serialised across writers.
	NextNumber(ctx context.Context) (int64, error)
	InsertTransfer(ctx context.Context, t *Transfer) error
	LockTransfer(ctx context.Context, id int64) (Transfer, error)
	UpdateTransfer(ctx context.Context, t Transfer) error
	UpdateLine(ctx context.Context, line Line) error
	DeleteTransfer(ctx context.Context, id int64) error
	RecordApproval(ctx context.Context, log shared.ApprovalLog) error
}

// Repository exposes transfer storage.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetTransfer(ctx context.Context, id int64) (Transfer, error)
	ListTransfers(ctx context.Context, req ListRequest) ([]Transfer, error)
	ListApprovals(ctx context.Context, refID uuid.UUID) ([]shared.ApprovalLog, error)
	// InTransitLines returns lines of in_transit and completed transfers
	// whose approved quantity exceeds the received quantity.
	InTransitLines(ctx context.Context, branchID int64) ([]InTransitItem, error)
}

// TransitionObserver is told about every committed status change.
type TransitionObserver interface {
	ObserveTransition(from, to string)
}

// Options groups optional collaborators.
type Options struct {
	Observer TransitionObserver
	Logger   *slog.Logger
}

// Service runs the transfer workflow. Approval deducts from the sender and
// receipt credits the receiver in two separate transactions.
type Service struct {
	repo      Repository
	ledger    *ledger.Ledger
	observer  TransitionObserver
	logger    *slog.Logger
	validator *validator.Validate
	now       func() time.Time
}

// NewService constructs the workflow service.
func NewService(repo Repository, l *ledger.Ledger, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		ledger:    l,
		observer:  opts.Observer,
		logger:    logger,
		validator: shared.NewValidator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create records a pending transfer. No stock moves.
func (s *Service) Create(ctx context.Context, req CreateRequest, actor shared.Actor) (Transfer, error) {
	if err := shared.ValidateStruct(s.validator, req); err != nil {
		return Transfer{}, err
	}
	t := Transfer{
		RefID:        uuid.New(),
		FromBranchID: req.FromBranchID,
		ToBranchID:   req.ToBranchID,
		Status:       StatusPending,
		RequestedBy:  actor.UserID,
		Notes:        req.Notes,
	}
	for _, l := range req.Lines {
		t.Lines = append(t.Lines, Line{ProductID: l.ProductID, VariantID: l.VariantID, QuantityRequested: l.Quantity})
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		seq, err := tx.NextNumber(ctx)
		if err != nil {
			return fmt.Errorf("next transfer number: %w", err)
		}
		t.Number = fmt.Sprintf("TR-%05d", seq)
		t.CreatedAt = s.now()
		if err := tx.InsertTransfer(ctx, &t); err != nil {
			return fmt.Errorf("insert transfer: %w", err)
		}
		return s.log(ctx, tx, t, actor, shared.ApprovalSubmit, req.Notes)
	})
	if err != nil {
		return Transfer{}, err
	}
	s.observe("", StatusPending)
	return t, nil
}

// Approve commits quantities and deducts them from the sending branch.
func (s *Service) Approve(ctx context.Context, id int64, req ApproveRequest, actor shared.Actor) (Transfer, error) {
	if err := shared.ValidateStruct(s.validator, req); err != nil {
		return Transfer{}, err
	}
	var t Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if t, err = tx.LockTransfer(ctx, id); err != nil {
			return err
		}
		if !t.Status.CanApprove() {
			return invalidState("approve", t.Status)
		}
		if actor.BranchID != t.FromBranchID {
			return ErrNotSender
		}
		approved, err := approvedQuantities(t.Lines, req.Lines)
		if err != nil {
			return err
		}
		batch := uuid.New()
		for i := range t.Lines {
			line := &t.Lines[i]
			line.QuantityApproved = approved[line.ID]
			if err := tx.UpdateLine(ctx, *line); err != nil {
				return err
			}
			if line.QuantityApproved == 0 {
				continue
			}
			_, err := s.ledger.Apply(ctx, tx, ledger.Adjustment{
				Key:       ledger.Key{ProductID: line.ProductID, VariantID: line.VariantID, BranchID: t.FromBranchID},
				Delta:     -line.QuantityApproved,
				Reason:    ledger.ReasonTransferOut,
				RefModule: approvalModule,
				RefID:     t.Number,
				ActorID:   actor.UserID,
				BatchID:   batch,
			})
			if err != nil {
				return shared.AtLine(i+1, err)
			}
		}
		now := s.now()
		t.Status = StatusApproved
		t.ApprovedBy, t.ApprovedAt = &actor.UserID, &now
		if err := tx.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		return s.log(ctx, tx, t, actor, shared.ApprovalApprove, req.Note)
	})
	if err != nil {
		return Transfer{}, err
	}
	s.observe(StatusPending, StatusApproved)
	return t, nil
}

// approvedQuantities validates the approval lines against the stored lines.
func approvedQuantities(lines []Line, req []ApproveLine) (map[int64]int64, error) {
	requested := make(map[int64]int64, len(lines))
	for _, l := range lines {
		requested[l.ID] = l.QuantityRequested
	}
	out := make(map[int64]int64, len(req))
	for i, a := range req {
		limit, ok := requested[a.LineID]
		if !ok {
			return nil, shared.AtLine(i+1, shared.Invalid("line %d is not part of this transfer", a.LineID))
		}
		if _, dup := out[a.LineID]; dup {
			return nil, shared.AtLine(i+1, shared.Invalid("line %d approved twice", a.LineID))
		}
		if a.ApprovedQty > limit {
			return nil, shared.AtLine(i+1, shared.Invalid("approved %d exceeds requested %d", a.ApprovedQty, limit))
		}
		out[a.LineID] = a.ApprovedQty
	}
	return out, nil
}

// Reject closes a pending transfer without moving stock. State and branch are
// checked before the reason.
func (s *Service) Reject(ctx context.Context, id int64, req RejectRequest, actor shared.Actor) (Transfer, error) {
	reason := strings.TrimSpace(req.Reason)
	var t Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if t, err = tx.LockTransfer(ctx, id); err != nil {
			return err
		}
		if !t.Status.CanReject() {
			return invalidState("reject", t.Status)
		}
		if actor.BranchID != t.FromBranchID {
			return ErrNotSender
		}
		if reason == "" {
			return ErrMissingReason
		}
		now := s.now()
		t.Status = StatusRejected
		t.RejectedBy, t.RejectedAt = &actor.UserID, &now
		t.RejectionReason = reason
		if err := tx.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		return s.log(ctx, tx, t, actor, shared.ApprovalReject, reason)
	})
	if err != nil {
		return Transfer{}, err
	}
	s.observe(StatusPending, StatusRejected)
	return t, nil
}

// Pickup hands approved goods to a driver.
func (s *Service) Pickup(ctx context.Context, id int64, req PickupRequest, actor shared.Actor) (Transfer, error) {
	if err := shared.ValidateStruct(s.validator, req); err != nil {
		return Transfer{}, err
	}
	var t Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if t, err = tx.LockTransfer(ctx, id); err != nil {
			return err
		}
		if !t.Status.CanPickup() {
			return invalidState("pick up", t.Status)
		}
		if actor.BranchID != t.FromBranchID {
			return ErrNotSender
		}
		driver := req.DriverID
		if driver == 0 {
			driver = actor.UserID
		}
		now := s.now()
		t.Status = StatusInTransit
		t.DriverID, t.PickedUpAt = &driver, &now
		if err := tx.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		return s.log(ctx, tx, t, actor, shared.ApprovalPickup, req.Note)
	})
	if err != nil {
		return Transfer{}, err
	}
	s.observe(StatusApproved, StatusInTransit)
	return t, nil
}

// Receive credits the receiving branch with what actually arrived. Any gap
// to the approved quantity stays unrecovered.
func (s *Service) Receive(ctx context.Context, id int64, req ReceiveRequest, actor shared.Actor) (Transfer, error) {
	if err := shared.ValidateStruct(s.validator, req); err != nil {
		return Transfer{}, err
	}
	var t Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if t, err = tx.LockTransfer(ctx, id); err != nil {
			return err
		}
		if !t.Status.CanReceive() {
			return invalidState("receive", t.Status)
		}
		if actor.BranchID != t.ToBranchID {
			return ErrNotReceiver
		}
		received, err := receivedQuantities(t.Lines, req.Lines)
		if err != nil {
			return err
		}
		batch := uuid.New()
		for i := range t.Lines {
			line := &t.Lines[i]
			line.QuantityReceived = line.QuantityApproved
			if qty, ok := received[line.ID]; ok {
				line.QuantityReceived = qty
			}
			if err := tx.UpdateLine(ctx, *line); err != nil {
				return err
			}
			if line.QuantityReceived == 0 {
				continue
			}
			_, err := s.ledger.Apply(ctx, tx, ledger.Adjustment{
				Key:       ledger.Key{ProductID: line.ProductID, VariantID: line.VariantID, BranchID: t.ToBranchID},
				Delta:     line.QuantityReceived,
				Reason:    ledger.ReasonTransferIn,
				RefModule: approvalModule,
				RefID:     t.Number,
				ActorID:   actor.UserID,
				BatchID:   batch,
			})
			if err != nil {
				return shared.AtLine(i+1, err)
			}
		}
		now := s.now()
		t.Status = StatusCompleted
		t.ReceivedBy, t.ReceivedAt = &actor.UserID, &now
		if err := tx.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		return s.log(ctx, tx, t, actor, shared.ApprovalReceive, req.Note)
	})
	if err != nil {
		return Transfer{}, err
	}
	s.observe(StatusInTransit, StatusCompleted)
	for _, line := range t.Lines {
		if gap := line.QuantityApproved - line.QuantityReceived; gap > 0 {
			s.logger.Info("transfer shrinkage",
				slog.String("number", t.Number),
				slog.Int64("product_id", line.ProductID),
				slog.Int64("variant_id", line.VariantID),
				slog.Int64("gap", gap))
		}
	}
	return t, nil
}

// receivedQuantities validates explicit receipt lines. Receiving more than
// was approved is rejected.
func receivedQuantities(lines []Line, req []ReceiveLine) (map[int64]int64, error) {
	approved := make(map[int64]int64, len(lines))
	for _, l := range lines {
		approved[l.ID] = l.QuantityApproved
	}
	out := make(map[int64]int64, len(req))
	for i, r := range req {
		limit, ok := approved[r.LineID]
		if !ok {
			return nil, shared.AtLine(i+1, shared.Invalid("line %d is not part of this transfer", r.LineID))
		}
		if _, dup := out[r.LineID]; dup {
			return nil, shared.AtLine(i+1, shared.Invalid("line %d received twice", r.LineID))
		}
		if r.ReceivedQty == nil {
			continue
		}
		if *r.ReceivedQty > limit {
			return nil, shared.AtLine(i+1, shared.Invalid("received %d exceeds approved %d", *r.ReceivedQty, limit))
		}
		out[r.LineID] = *r.ReceivedQty
	}
	return out, nil
}

// Delete withdraws a pending or rejected request.
func (s *Service) Delete(ctx context.Context, id int64, actor shared.Actor) error {
	var from Status
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.LockTransfer(ctx, id)
		if err != nil {
			return err
		}
		if !t.Status.CanDelete() {
			return invalidState("delete", t.Status)
		}
		if actor.BranchID != t.ToBranchID {
			return ErrNotReceiver
		}
		from = t.Status
		return tx.DeleteTransfer(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info("transfer deleted", slog.Int64("transfer_id", id), slog.Int64("actor_id", actor.UserID))
	s.observe(from, "deleted")
	return nil
}

// Get returns a transfer with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Transfer, error) {
	return s.repo.GetTransfer(ctx, id)
}

// List returns transfers matching req, newest first.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Transfer, error) {
	if err := shared.ValidateStruct(s.validator, req); err != nil {
		return nil, err
	}
	if req.Direction != DirectionAny && req.BranchID == 0 {
		return nil, shared.Invalid("direction requires branch_id")
	}
	if req.Limit <= 0 || req.Limit > 200 {
		req.Limit = 200
	}
	return s.repo.ListTransfers(ctx, req)
}

// History returns the workflow log of a transfer.
func (s *Service) History(ctx context.Context, id int64) ([]shared.ApprovalLog, error) {
	t, err := s.repo.GetTransfer(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.repo.ListApprovals(ctx, t.RefID)
}

// InTransitReport lists goods deducted from a sender and not credited to the
// receiver: everything approved on in_transit transfers plus the shrinkage of
// completed ones. It is derived on read and never stored.
func (s *Service) InTransitReport(ctx context.Context, branchID int64) ([]InTransitItem, error) {
	if branchID < 0 {
		return nil, shared.Invalid("invalid branch_id")
	}
	return s.repo.InTransitLines(ctx, branchID)
}

func (s *Service) log(ctx context.Context, tx TxRepository, t Transfer, actor shared.Actor, action shared.ApprovalAction, note string) error {
	return tx.RecordApproval(ctx, shared.ApprovalLog{
		Module:   approvalModule,
		RefID:    t.RefID,
		ActorID:  actor.UserID,
		BranchID: actor.BranchID,
		Action:   action,
		Note:     note,
		At:       s.now(),
	})
}

func (s *Service) observe(from, to Status) {
	if s.observer != nil {
		s.observer.ObserveTransition(string(from), string(to))
	}
}
