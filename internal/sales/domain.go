package sales

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the fulfilment state of an invoice.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusDelivering Status = "delivering"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// CanMoveTo reports whether a manual status update from s to next is allowed.
// Cancellation has its own operation.
func (s Status) CanMoveTo(next Status) bool {
	switch s {
	case StatusInProgress:
		return next == StatusDelivering || next == StatusCompleted
	case StatusDelivering:
		return next == StatusCompleted
	default:
		return false
	}
}

// Invoice is a sale recorded against one branch.
type Invoice struct {
	ID             int64           `json:"id"`
	Number         string          `json:"number"`
	BranchID       int64           `json:"branch_id"`
	CustomerID     *int64          `json:"customer_id,omitempty"`
	Status         Status          `json:"status"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	Total          decimal.Decimal `json:"total"`
	PointsEarned   int64           `json:"points_earned"`
	PointsRedeemed int64           `json:"points_redeemed"`
	Notes          string          `json:"notes,omitempty"`
	Cancelled      bool            `json:"cancelled"`
	CancelReason   string          `json:"cancel_reason,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	StockReturned  bool            `json:"stock_returned"`
	EditedAt       *time.Time      `json:"edited_at,omitempty"`
	EditedBy       *int64          `json:"edited_by,omitempty"`
	EditCount      int             `json:"edit_count"`
	CreatedBy      int64           `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	Lines          []Line          `json:"lines,omitempty"`
}

// Line is one sold item. UnitPrice is the snapshot taken at sale time.
type Line struct {
	ID          int64           `json:"id"`
	InvoiceID   int64           `json:"invoice_id"`
	StockLineID int64           `json:"stock_line_id"`
	ProductID   int64           `json:"product_id"`
	VariantID   int64           `json:"variant_id"`
	ProductName string          `json:"product_name"`
	VariantName string          `json:"variant_name,omitempty"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
}

// DisplayName renders "Product (Variant)".
func (l Line) DisplayName() string {
	if l.VariantName == "" {
		return l.ProductName
	}
	return fmt.Sprintf("%s (%s)", l.ProductName, l.VariantName)
}

// EditChanges summarises one full-replace edit.
type EditChanges struct {
	OldTotal      decimal.Decimal `json:"old_total"`
	NewTotal      decimal.Decimal `json:"new_total"`
	OldItemsCount int             `json:"old_items_count"`
	NewItemsCount int             `json:"new_items_count"`
}

// EditRecord is an entry of the invoice edit history.
type EditRecord struct {
	ID        int64       `json:"id"`
	InvoiceID int64       `json:"invoice_id"`
	EditedBy  int64       `json:"edited_by"`
	EditedAt  time.Time   `json:"edited_at"`
	Changes   EditChanges `json:"changes"`
}

// Return puts part of a sold line back on the shelf.
type Return struct {
	ID            int64           `json:"id"`
	InvoiceID     int64           `json:"invoice_id"`
	InvoiceLineID int64           `json:"invoice_line_id"`
	StockLineID   int64           `json:"stock_line_id"`
	Quantity      int64           `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Total         decimal.Decimal `json:"total"`
	Reason        string          `json:"reason,omitempty"`
	CreatedBy     int64           `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

// LowStockWarning flags a sold line at or below the threshold after commit.
type LowStockWarning struct {
	StockLineID  int64  `json:"stock_line_id"`
	Name         string `json:"name"`
	RemainingQty int64  `json:"remaining_qty"`
}

// LineInput is one requested sale line. StockLineID is the branch-scoped
// stock reference chosen by the client and is trusted as given.
type LineInput struct {
	StockLineID int64           `json:"stock_line_id" validate:"required,gt=0"`
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	VariantID   int64           `json:"variant_id" validate:"gte=0"`
	ProductName string          `json:"product_name"`
	VariantName string          `json:"variant_name"`
	Quantity    int64           `json:"quantity" validate:"required,gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// CreateInvoiceRequest describes a sale.
type CreateInvoiceRequest struct {
	Number         string          `json:"number" validate:"max=64"`
	BranchID       int64           `json:"branch_id" validate:"required,gt=0"`
	CustomerID     *int64          `json:"customer_id" validate:"omitempty,gt=0"`
	Discount       decimal.Decimal `json:"discount"`
	PointsEarned   int64           `json:"points_earned" validate:"gte=0"`
	PointsRedeemed int64           `json:"points_redeemed" validate:"gte=0"`
	Notes          string          `json:"notes" validate:"max=1000"`
	Lines          []LineInput     `json:"lines" validate:"required,min=1,dive"`
	IdempotencyKey string          `json:"-"`
}

// CreateInvoiceResult is returned by CreateInvoice.
type CreateInvoiceResult struct {
	InvoiceID        int64             `json:"invoice_id"`
	Number           string            `json:"number"`
	Total            decimal.Decimal   `json:"total"`
	LowStockWarnings []LowStockWarning `json:"low_stock_warnings"`
}

// CancelRequest cancels an invoice, optionally restocking it.
type CancelRequest struct {
	Reason      string `json:"reason"`
	ReturnStock bool   `json:"return_stock"`
}

// CancelResult reports whether stock went back on the shelf.
type CancelResult struct {
	StockReturned bool `json:"stock_returned"`
}

// EditRequest replaces the full line set of an invoice.
type EditRequest struct {
	Lines []LineInput `json:"lines" validate:"required,min=1,dive"`
}

// ReturnRequest records a partial return of one invoice line.
type ReturnRequest struct {
	InvoiceID     int64  `json:"-" validate:"required,gt=0"`
	InvoiceLineID int64  `json:"invoice_line_id" validate:"required,gt=0"`
	Quantity      int64  `json:"quantity" validate:"required,gt=0"`
	Reason        string `json:"reason" validate:"max=500"`
}

// StatusRequest changes fulfilment status.
type StatusRequest struct {
	Status Status `json:"status" validate:"required,oneof=in_progress delivering completed"`
}

// ListFilter narrows invoice listings.
type ListFilter struct {
	BranchID int64
	Status   Status
	Limit    int
	Offset   int
}

// LowStockNotice is handed to the notification consumer.
type LowStockNotice struct {
	InvoiceID int64             `json:"invoice_id"`
	BranchID  int64             `json:"branch_id"`
	Warnings  []LowStockWarning `json:"warnings"`
}
