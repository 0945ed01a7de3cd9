// Package damage writes damaged goods off branch stock.
package damage

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// ErrRecordNotFound indicates the damage record does not exist.
var ErrRecordNotFound = fmt.Errorf("damage record %w", shared.ErrNotFound)

// Record is one write-off.
type Record struct {
	ID         int64     `json:"id"`
	ProductID  int64     `json:"product_id"`
	VariantID  int64     `json:"variant_id"`
	BranchID   int64     `json:"branch_id"`
	Quantity   int64     `json:"quantity"`
	Reason     string    `json:"reason"`
	ReportedBy int64     `json:"reported_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// ReportRequest writes Quantity units off a branch.
type ReportRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	VariantID int64  `json:"variant_id" validate:"gte=0"`
	BranchID  int64  `json:"branch_id" validate:"required,gt=0"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	Reason    string `json:"reason" validate:"max=500"`
}

// Filter narrows listings and summaries. To is exclusive.
type Filter struct {
	BranchID  int64
	ProductID int64
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// Total is the damaged quantity of one product in a filter window.
type Total struct {
	ProductID int64
	VariantID int64
	Quantity  int64
}

// SummaryLine values one product's damage at catalog cost.
type SummaryLine struct {
	ProductID int64           `json:"product_id"`
	VariantID int64           `json:"variant_id"`
	Name      string          `json:"name"`
	Quantity  int64           `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Value     decimal.Decimal `json:"value"`
}

// Summary totals damage over a filter window.
type Summary struct {
	Lines         []SummaryLine   `json:"lines"`
	TotalQuantity int64           `json:"total_quantity"`
	TotalValue    decimal.Decimal `json:"total_value"`
}
