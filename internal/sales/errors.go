package sales

import (
	"fmt"

	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

var (
	// ErrInvoiceNotFound indicates the invoice does not exist.
	ErrInvoiceNotFound = fmt.Errorf("invoice %w", shared.ErrNotFound)
	// ErrInvoiceLineNotFound indicates the line is not part of the invoice.
	ErrInvoiceLineNotFound = fmt.Errorf("invoice line %w", shared.ErrNotFound)
	// ErrReturnNotFound indicates the return does not exist.
	ErrReturnNotFound = fmt.Errorf("return %w", shared.ErrNotFound)
	// ErrAlreadyCancelled is returned by every mutation of a cancelled invoice.
	ErrAlreadyCancelled = fmt.Errorf("invoice already cancelled: %w", shared.ErrInvalidState)
	// ErrMissingReason indicates a cancellation without a reason.
	ErrMissingReason = fmt.Errorf("cancel reason required: %w", shared.ErrValidation)
	// ErrEditCompletedForbidden guards edits of completed invoices.
	ErrEditCompletedForbidden = fmt.Errorf("editing a completed invoice: %w", shared.ErrForbidden)
	// ErrEditWithReturns blocks edits once part of the invoice has been returned.
	ErrEditWithReturns = fmt.Errorf("invoice has returns, delete them before editing: %w", shared.ErrInvalidState)
	// ErrStatusTransition indicates a manual status change the workflow does not allow.
	ErrStatusTransition = fmt.Errorf("status transition not allowed: %w", shared.ErrInvalidState)
)

// ReturnExceedsSoldError reports a return larger than what remains returnable.
type ReturnExceedsSoldError struct {
	InvoiceLineID int64
	Sold          int64
	Returned      int64
	Requested     int64
}

func (e *ReturnExceedsSoldError) Error() string {
	return fmt.Sprintf("return of %d exceeds line %d: sold %d, already returned %d",
		e.Requested, e.InvoiceLineID, e.Sold, e.Returned)
}

func (e *ReturnExceedsSoldError) Unwrap() error {
	return shared.ErrValidation
}
