package subscriptions

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a customer subscription.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// ItemKey identifies an entitlement within a plan.
type ItemKey struct {
	ProductID int64 `json:"product_id"`
	VariantID int64 `json:"variant_id"`
}

// Plan is a fixed basket of entitlements sold for a duration.
type Plan struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	DurationDays    int             `json:"duration_days"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Price           decimal.Decimal `json:"price"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
	Items           []Entitlement   `json:"items"`
}

// Entitlement is the quantity of one product a subscriber may redeem over
// the life of the subscription.
type Entitlement struct {
	ID              int64 `json:"id"`
	PlanID          int64 `json:"plan_id"`
	ProductID       int64 `json:"product_id"`
	VariantID       int64 `json:"variant_id"`
	AllowedQuantity int64 `json:"allowed_quantity"`
}

// Key returns the entitlement identity.
func (e Entitlement) Key() ItemKey {
	return ItemKey{ProductID: e.ProductID, VariantID: e.VariantID}
}

// Subscription links a customer to a plan.
type Subscription struct {
	ID         int64           `json:"id"`
	Code       string          `json:"code,omitempty"`
	CustomerID int64           `json:"customer_id"`
	PlanID     int64           `json:"plan_id"`
	PricePaid  decimal.Decimal `json:"price_paid"`
	StartDate  time.Time       `json:"start_date"`
	EndDate    time.Time       `json:"end_date"`
	Status     Status          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// PastEnd reports whether today is after the end date. The end date itself
// is still redeemable.
func (s Subscription) PastEnd(today time.Time) bool {
	return dateOf(today).After(dateOf(s.EndDate))
}

// Redemption records a pickup against a subscription.
type Redemption struct {
	ID             int64     `json:"id"`
	SubscriptionID int64     `json:"subscription_id"`
	ProductID      int64     `json:"product_id"`
	VariantID      int64     `json:"variant_id"`
	Quantity       int64     `json:"quantity"`
	BranchID       int64     `json:"branch_id"`
	RedeemedBy     int64     `json:"redeemed_by"`
	RedeemedAt     time.Time `json:"redeemed_at"`
}

// RedeemLine is one requested product.
type RedeemLine struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	VariantID int64 `json:"variant_id" validate:"gte=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
}

// RedeemRequest redeems entitlements at a branch.
type RedeemRequest struct {
	SubscriptionID int64        `json:"subscription_id" validate:"required,gt=0"`
	BranchID       int64        `json:"branch_id" validate:"required,gt=0"`
	Lines          []RedeemLine `json:"lines" validate:"required,min=1,dive"`
}

// RedeemedLine reports one redeemed entitlement and what is left of it.
type RedeemedLine struct {
	ProductID int64 `json:"product_id"`
	VariantID int64 `json:"variant_id"`
	Quantity  int64 `json:"quantity"`
	Remaining int64 `json:"remaining"`
}

// RedeemSummary is the outcome of a successful redemption.
type RedeemSummary struct {
	SubscriptionID int64          `json:"subscription_id"`
	BranchID       int64          `json:"branch_id"`
	Lines          []RedeemedLine `json:"lines"`
	RedeemedAt     time.Time      `json:"redeemed_at"`
}

// Quota is the remaining entitlement for one plan item.
type Quota struct {
	ProductID int64 `json:"product_id"`
	VariantID int64 `json:"variant_id"`
	Allowed   int64 `json:"allowed"`
	Redeemed  int64 `json:"redeemed"`
	Remaining int64 `json:"remaining"`
}

// CheckResult describes a subscription and its remaining quota.
type CheckResult struct {
	Subscription Subscription `json:"subscription"`
	Active       bool         `json:"active"`
	Plan         Plan         `json:"plan"`
	Quota        []Quota      `json:"quota"`
}

// EntitlementRequest is one plan item.
type EntitlementRequest struct {
	ProductID       int64 `json:"product_id" validate:"required,gt=0"`
	VariantID       int64 `json:"variant_id" validate:"gte=0"`
	AllowedQuantity int64 `json:"allowed_quantity" validate:"required,gt=0"`
}

// CreatePlanRequest defines a plan.
type CreatePlanRequest struct {
	Name            string               `json:"name" validate:"required,max=200"`
	DurationDays    int                  `json:"duration_days" validate:"required,gt=0,lte=3660"`
	DiscountPercent decimal.Decimal      `json:"discount_percent"`
	Price           decimal.Decimal      `json:"price"`
	Items           []EntitlementRequest `json:"items" validate:"required,min=1,dive"`
}

// SubscribeRequest enrols a customer. StartDate defaults to today.
type SubscribeRequest struct {
	CustomerID int64            `json:"customer_id" validate:"required,gt=0"`
	PlanID     int64            `json:"plan_id" validate:"required,gt=0"`
	Code       string           `json:"code" validate:"max=64"`
	StartDate  string           `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	PricePaid  *decimal.Decimal `json:"price_paid"`
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
