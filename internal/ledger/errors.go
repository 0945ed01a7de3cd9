package ledger

import (
	"fmt"

	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

var (
	// ErrLineNotFound indicates the stock line does not exist.
	ErrLineNotFound = fmt.Errorf("ledger: stock line %w", shared.ErrNotFound)
	// ErrZeroDelta rejects adjustments that would not move stock.
	ErrZeroDelta = fmt.Errorf("%w: ledger: delta must not be zero", shared.ErrValidation)
	// ErrNegativeQuantity rejects absolute quantities below zero.
	ErrNegativeQuantity = fmt.Errorf("%w: ledger: quantity must not be negative", shared.ErrValidation)
	// ErrUnknownReason rejects adjustments without a movement reason.
	ErrUnknownReason = fmt.Errorf("%w: ledger: movement reason required", shared.ErrValidation)
)

// ShortageError reports a deduction larger than the quantity on hand.
type ShortageError struct {
	Key       Key
	Required  int64
	Available int64
}

func (e *ShortageError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: required %d, available %d", e.Key, e.Required, e.Available)
}

func (e *ShortageError) Unwrap() error {
	return shared.ErrInsufficientStock
}
