package subscriptions

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

	"github.com/odyssey-erp/branch-ledger/internal/ledger"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

const refModule = "subscriptions"

// TxRepository is the transactional view of subscription storage.
type TxRepository interface {
	ledger.Store
	// LockSubscription reads the subscription FOR UPDATE, serialising
	// redemptions against the same quota.
	LockSubscription(ctx context.Context, id int64) (Subscription, error)
	SetStatus(ctx context.Context, id int64, status Status, at time.Time) error
	PlanItems(ctx context.Context, planID int64) ([]Entitlement, error)
	RedeemedTotals(ctx context.Context, subscriptionID int64) (map[ItemKey]int64, error)
	InsertRedemption(ctx context.Context, r *Redemption) error
	InsertPlan(ctx context.Context, p *Plan) error
}

// Repository exposes subscription storage.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPlan(ctx context.Context, id int64) (Plan, error)
	ListPlans(ctx context.Context, activeOnly bool) ([]Plan, error)
	GetSubscription(ctx context.Context, id int64) (Subscription, error)
	FindByCode(ctx context.Context, code string) (Subscription, error)
	CreateSubscription(ctx context.Context, s *Subscription) error
	ListRedemptions(ctx context.Context, subscriptionID int64) ([]Redemption, error)
	RedeemedTotals(ctx context.Context, subscriptionID int64) (map[ItemKey]int64, error)
	MarkExpired(ctx context.Context, id int64, at time.Time) error
	// ExpireDue flips active subscriptions whose end date is before today.
	ExpireDue(ctx context.Context, today time.Time) (int64, error)
}

// RedemptionObserver is told about every committed redemption.
type RedemptionObserver interface {
	ObserveRedemption(lines int, units int64)
}

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Options groups optional collaborators.
type Options struct {
	Observer RedemptionObserver
	Audit    AuditPort
	Logger   *slog.Logger
}

// Service guards redemptions with the plan quota before touching stock.
type Service struct {
	repo      Repository
	ledger    *ledger.Ledger
	observer  RedemptionObserver
	audit     AuditPort
	logger    *slog.Logger
	validator *validator.Validate
	now       func() time.Time
}

// NewService constructs the subscription service.
func NewService(repo Repository, l *ledger.Ledger, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		ledger:    l,
		observer:  opts.Observer,
		audit:     opts.Audit,
		logger:    logger,
		validator: shared.NewValidator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Redeem validates every line against status, plan, quota and branch stock,
// then records the redemptions and deducts stock in one transaction. Nothing
// is applied unless every line passes.
func (s *Service) Redeem(ctx context.Context, req RedeemRequest, actor shared.Actor) (*RedeemSummary, error) {
	if err := shared.ValidateStruct(s.validator, req); err != nil {
		return nil, err
	}
	now := s.now()
	var (
		summary *RedeemSummary
		expired bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sub, err := tx.LockSubscription(ctx, req.SubscriptionID)
		if err != nil {
			return err
		}
		if sub.Status != StatusActive {
			return notActive(sub.Status)
		}
		if sub.PastEnd(now) {
			// Commit the flip alone; nothing else has been written yet.
			expired = true
			return tx.SetStatus(ctx, sub.ID, StatusExpired, now)
		}
		items, err := tx.PlanItems(ctx, sub.PlanID)
		if err != nil {
			return fmt.Errorf("plan items: %w", err)
		}
		allowed := make(map[ItemKey]int64, len(items))
		for _, item := range items {
			allowed[item.Key()] = item.AllowedQuantity
		}
		redeemed, err := tx.RedeemedTotals(ctx, sub.ID)
		if err != nil {
			return fmt.Errorf("redeemed totals: %w", err)
		}

		requested := make(map[ItemKey]int64, len(req.Lines))
		for i, line := range req.Lines {
			key := ItemKey{ProductID: line.ProductID, VariantID: line.VariantID}
			limit, ok := allowed[key]
			if !ok {
				return shared.AtLine(i+1, &NotInPlanError{ProductID: key.ProductID, VariantID: key.VariantID})
			}
			requested[key] += line.Quantity
			if redeemed[key]+requested[key] > limit {
				return shared.AtLine(i+1, &QuotaError{
					ProductID: key.ProductID,
					VariantID: key.VariantID,
					Allowed:   limit,
					Redeemed:  redeemed[key],
					Requested: requested[key],
				})
			}
			stockKey := ledger.Key{ProductID: key.ProductID, VariantID: key.VariantID, BranchID: req.BranchID}
			available, err := s.ledger.Available(ctx, tx, stockKey)
			if err != nil {
				return shared.AtLine(i+1, err)
			}
			if available < requested[key] {
				return shared.AtLine(i+1, &ledger.ShortageError{Key: stockKey, Required: requested[key], Available: available})
			}
		}

		batch := uuid.New()
		ref := strconv.FormatInt(sub.ID, 10)
		summary = &RedeemSummary{SubscriptionID: sub.ID, BranchID: req.BranchID, RedeemedAt: now}
		for i, line := range req.Lines {
			r := Redemption{
				SubscriptionID: sub.ID,
				ProductID:      line.ProductID,
				VariantID:      line.VariantID,
				Quantity:       line.Quantity,
				BranchID:       req.BranchID,
				RedeemedBy:     actor.UserID,
				RedeemedAt:     now,
			}
			if err := tx.InsertRedemption(ctx, &r); err != nil {
				return fmt.Errorf("insert redemption: %w", err)
			}
			_, err := s.ledger.Apply(ctx, tx, ledger.Adjustment{
				Key:       ledger.Key{ProductID: line.ProductID, VariantID: line.VariantID, BranchID: req.BranchID},
				Delta:     -line.Quantity,
				Reason:    ledger.ReasonRedemption,
				RefModule: refModule,
				RefID:     ref,
				ActorID:   actor.UserID,
				BatchID:   batch,
			})
			if err != nil {
				return shared.AtLine(i+1, err)
			}
			key := ItemKey{ProductID: line.ProductID, VariantID: line.VariantID}
			redeemed[key] += line.Quantity
			summary.Lines = append(summary.Lines, RedeemedLine{
				ProductID: line.ProductID,
				VariantID: line.VariantID,
				Quantity:  line.Quantity,
				Remaining: allowed[key] - redeemed[key],
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		s.logger.Info("subscription expired on redeem", slog.Int64("subscription_id", req.SubscriptionID))
		return nil, ErrExpired
	}

	var units int64
	for _, line := range summary.Lines {
		units += line.Quantity
	}
	if s.observer != nil {
		s.observer.ObserveRedemption(len(summary.Lines), units)
	}
	s.recordAudit(ctx, actor, "subscriptions:redeem", req.BranchID, req.SubscriptionID, map[string]any{
		"lines": len(summary.Lines),
		"units": units,
	})
	return summary, nil
}

// Check returns the subscription with its remaining quota per entitlement.
// A subscription found past its end date is flipped to expired.
func (s *Service) Check(ctx context.Context, subscriptionID int64) (CheckResult, error) {
	sub, err := s.repo.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return CheckResult{}, err
	}
	return s.check(ctx, sub)
}

// Lookup resolves a subscription by its code and checks it.
func (s *Service) Lookup(ctx context.Context, code string) (CheckResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return CheckResult{}, shared.Invalid("code required")
	}
	sub, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return CheckResult{}, err
	}
	return s.check(ctx, sub)
}

func (s *Service) check(ctx context.Context, sub Subscription) (CheckResult, error) {
	now := s.now()
	if sub.Status == StatusActive && sub.PastEnd(now) {
		if err := s.repo.MarkExpired(ctx, sub.ID, now); err != nil {
			return CheckResult{}, fmt.Errorf("mark expired: %w", err)
		}
		sub.Status = StatusExpired
	}
	plan, err := s.repo.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return CheckResult{}, err
	}
	redeemed, err := s.repo.RedeemedTotals(ctx, sub.ID)
	if err != nil {
		return CheckResult{}, err
	}
	result := CheckResult{Subscription: sub, Active: sub.Status == StatusActive, Plan: plan}
	for _, item := range plan.Items {
		used := redeemed[item.Key()]
		result.Quota = append(result.Quota, Quota{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Allowed:   item.AllowedQuantity,
			Redeemed:  used,
			Remaining: max(0, item.AllowedQuantity-used),
		})
	}
	return result, nil
}

// History lists the redemptions of a subscription, oldest first.
func (s *Service) History(ctx context.Context, subscriptionID int64) ([]Redemption, error) {
	if _, err := s.repo.GetSubscription(ctx, subscriptionID); err != nil {
		return nil, err
	}
	return s.repo.ListRedemptions(ctx, subscriptionID)
}

// CreatePlan stores a plan with its entitlements.
func (s *Service) CreatePlan(ctx context.Context, req CreatePlanRequest, actor shared.Actor) (Plan, error) {
	if err := shared.ValidateStruct(s.validator, req); err != nil {
		return Plan{}, err
	}
	if req.DiscountPercent.IsNegative() || req.DiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
		return Plan{}, shared.Invalid("discount_percent must be between 0 and 100")
	}
	if req.Price.IsNegative() {
		return Plan{}, shared.Invalid("price must not be negative")
	}
	plan := Plan{
		Name:            strings.TrimSpace(req.Name),
		DurationDays:    req.DurationDays,
		DiscountPercent: req.DiscountPercent,
		Price:           req.Price,
		Active:          true,
	}
	seen := make(map[ItemKey]bool, len(req.Items))
	for i, item := range req.Items {
		e := Entitlement{ProductID: item.ProductID, VariantID: item.VariantID, AllowedQuantity: item.AllowedQuantity}
		if seen[e.Key()] {
			return Plan{}, shared.AtLine(i+1, shared.Invalid("product %d/%d listed twice", e.ProductID, e.VariantID))
		}
		seen[e.Key()] = true
		plan.Items = append(plan.Items, e)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertPlan(ctx, &plan)
	})
	if err != nil {
		return Plan{}, err
	}
	s.recordAudit(ctx, actor, "subscriptions:create_plan", actor.BranchID, plan.ID, map[string]any{"items": len(plan.Items)})
	return plan, nil
}

// Plan returns a plan with its entitlements.
func (s *Service) Plan(ctx context.Context, id int64) (Plan, error) {
	return s.repo.GetPlan(ctx, id)
}

// Plans lists plans.
func (s *Service) Plans(ctx context.Context, activeOnly bool) ([]Plan, error) {
	return s.repo.ListPlans(ctx, activeOnly)
}

// Subscribe enrols a customer in an active plan. The end date is the start
// date plus the plan duration.
func (s *Service) Subscribe(ctx context.Context, req SubscribeRequest, actor shared.Actor) (Subscription, error) {
	if err := shared.ValidateStruct(s.validator, req); err != nil {
		return Subscription{}, err
	}
	plan, err := s.repo.GetPlan(ctx, req.PlanID)
	if err != nil {
		return Subscription{}, err
	}
	if !plan.Active {
		return Subscription{}, fmt.Errorf("plan %d is inactive: %w", plan.ID, shared.ErrInvalidState)
	}
	start := dateOf(s.now())
	if req.StartDate != "" {
		if start, err = time.Parse(time.DateOnly, req.StartDate); err != nil {
			return Subscription{}, shared.Invalid("invalid start_date")
		}
	}
	sub := Subscription{
		Code:       strings.TrimSpace(req.Code),
		CustomerID: req.CustomerID,
		PlanID:     plan.ID,
		PricePaid:  plan.Price,
		StartDate:  start,
		EndDate:    start.AddDate(0, 0, plan.DurationDays),
		Status:     StatusActive,
	}
	if req.PricePaid != nil {
		if req.PricePaid.IsNegative() {
			return Subscription{}, shared.Invalid("price_paid must not be negative")
		}
		sub.PricePaid = *req.PricePaid
	}
	if err := s.repo.CreateSubscription(ctx, &sub); err != nil {
		return Subscription{}, err
	}
	s.recordAudit(ctx, actor, "subscriptions:subscribe", actor.BranchID, sub.ID, map[string]any{
		"plan_id":     plan.ID,
		"customer_id": sub.CustomerID,
	})
	return sub, nil
}

// Cancel ends an active subscription early.
func (s *Service) Cancel(ctx context.Context, id int64, actor shared.Actor) (Subscription, error) {
	var sub Subscription
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if sub, err = tx.LockSubscription(ctx, id); err != nil {
			return err
		}
		if sub.Status != StatusActive {
			return fmt.Errorf("cannot cancel %s subscription: %w", sub.Status, shared.ErrInvalidState)
		}
		now := s.now()
		sub.Status, sub.UpdatedAt = StatusCancelled, now
		return tx.SetStatus(ctx, id, StatusCancelled, now)
	})
	if err != nil {
		return Subscription{}, err
	}
	s.recordAudit(ctx, actor, "subscriptions:cancel", actor.BranchID, id, nil)
	return sub, nil
}

// ExpireDue flips every active subscription whose end date is before today.
func (s *Service) ExpireDue(ctx context.Context, today time.Time) (int64, error) {
	n, err := s.repo.ExpireDue(ctx, dateOf(today))
	if err != nil {
		return 0, fmt.Errorf("expire subscriptions: %w", err)
	}
	if n > 0 {
		s.logger.Info("subscriptions expired", slog.Int64("count", n))
	}
	return n, nil
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, branchID, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		BranchID: branchID,
		Action:   action,
		Entity:   "subscription",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("subscriptions audit", slog.String("action", action), slog.Any("error", err))
	}
}
