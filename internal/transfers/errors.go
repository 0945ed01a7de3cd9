package transfers

import (
	"fmt"

	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

var (
	// ErrTransferNotFound indicates the transfer does not exist.
	ErrTransferNotFound = fmt.Errorf("transfer %w", shared.ErrNotFound)
	// ErrNotSender guards transitions reserved for the sending branch.
	ErrNotSender = fmt.Errorf("only the sending branch may do this: %w", shared.ErrForbidden)
	// ErrNotReceiver guards transitions reserved for the receiving branch.
	ErrNotReceiver = fmt.Errorf("only the receiving branch may do this: %w", shared.ErrForbidden)
	// ErrMissingReason indicates a rejection without a reason.
	ErrMissingReason = fmt.Errorf("reject reason required: %w", shared.ErrValidation)
)

func invalidState(op string, status Status) error {
	return fmt.Errorf("cannot %s transfer in status %s: %w", op, status, shared.ErrInvalidState)
}
