package subscriptions

import (
	"fmt"

	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

var (
	// ErrSubscriptionNotFound indicates the subscription does not exist.
	ErrSubscriptionNotFound = fmt.Errorf("subscription %w", shared.ErrNotFound)
	// ErrPlanNotFound indicates the plan does not exist.
	ErrPlanNotFound = fmt.Errorf("plan %w", shared.ErrNotFound)
	// ErrExpired is returned once the end date has passed.
	ErrExpired = fmt.Errorf("subscriptions: %w", shared.ErrSubscriptionExpired)
	// ErrDuplicateCode indicates the subscription code is taken.
	ErrDuplicateCode = fmt.Errorf("subscription code already used: %w", shared.ErrValidation)
)

func notActive(status Status) error {
	return fmt.Errorf("subscription is %s: %w", status, shared.ErrSubscriptionNotActive)
}

// NotInPlanError reports a requested product the plan does not cover.
type NotInPlanError struct {
	ProductID int64
	VariantID int64
}

func (e *NotInPlanError) Error() string {
	return fmt.Sprintf("product %d/%d is not in the plan", e.ProductID, e.VariantID)
}

func (e *NotInPlanError) Unwrap() error {
	return shared.ErrValidation
}

// QuotaError reports an entitlement that cannot cover the request. Requested
// includes earlier lines of the same request for the same product.
type QuotaError struct {
	ProductID int64
	VariantID int64
	Allowed   int64
	Redeemed  int64
	Requested int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("product %d/%d: requested %d, %d of %d already redeemed",
		e.ProductID, e.VariantID, e.Requested, e.Redeemed, e.Allowed)
}

func (e *QuotaError) Unwrap() error {
	return shared.ErrQuotaExceeded
}

// Remaining returns what is left of the entitlement.
func (e *QuotaError) Remaining() int64 {
	return max(0, e.Allowed-e.Redeemed)
}
