package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// Key identifies one stock line. VariantID zero means the base product.
type Key struct {
	ProductID int64 `json:"product_id"`
	VariantID int64 `json:"variant_id"`
	BranchID  int64 `json:"branch_id"`
}

// Validate checks the identity fields.
func (k Key) Validate() error {
	if k.ProductID <= 0 || k.BranchID <= 0 {
		return fmt.Errorf("%w: product and branch required", shared.ErrValidation)
	}
	if k.VariantID < 0 {
		return fmt.Errorf("%w: invalid variant", shared.ErrValidation)
	}
	return nil
}

func (k Key) String() string {
	if k.VariantID == 0 {
		return fmt.Sprintf("product %d at branch %d", k.ProductID, k.BranchID)
	}
	return fmt.Sprintf("product %d variant %d at branch %d", k.ProductID, k.VariantID, k.BranchID)
}

// StockLine is the quantity on hand for one (product, variant, branch).
type StockLine struct {
	ID int64 `json:"id"`
	Key
	Quantity  int64     `json:"quantity"`
	NotesLog  string    `json:"notes_log"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reason classifies a movement.
type Reason string

const (
	ReasonSale         Reason = "sale"
	ReasonSaleCancel   Reason = "sale_cancel"
	ReasonSaleEdit     Reason = "sale_edit"
	ReasonReturn       Reason = "return"
	ReasonReturnDelete Reason = "return_delete"
	ReasonDamage       Reason = "damage"
	ReasonTransferOut  Reason = "transfer_out"
	ReasonTransferIn   Reason = "transfer_in"
	ReasonRedemption   Reason = "redemption"
	ReasonManual       Reason = "manual"
	ReasonCorrection   Reason = "correction"
)

// Movement is the history row written for every applied delta.
type Movement struct {
	ID        int64     `json:"id"`
	BatchID   uuid.UUID `json:"batch_id"`
	LineID    int64     `json:"line_id"`
	Key       Key       `json:"key"`
	Delta     int64     `json:"delta"`
	Balance   int64     `json:"balance"`
	Reason    Reason    `json:"reason"`
	RefModule string    `json:"ref_module,omitempty"`
	RefID     string    `json:"ref_id,omitempty"`
	ActorID   int64     `json:"actor_id"`
	Note      string    `json:"note,omitempty"`
	At        time.Time `json:"at"`
}

// Adjustment is one delta applied inside a caller owned transaction. When
// LineID is set the line is resolved by id and Key is ignored.
type Adjustment struct {
	LineID    int64
	Key       Key
	Delta     int64
	Reason    Reason
	RefModule string
	RefID     string
	ActorID   int64
	BatchID   uuid.UUID
	Note      string
}

// AdjustInput describes a standalone adjustment.
type AdjustInput struct {
	Key     Key
	Delta   int64
	Reason  Reason
	ActorID int64
	Note    string
}

// SetAbsoluteInput describes a manual correction to an exact quantity.
type SetAbsoluteInput struct {
	Key      Key    `json:"key"`
	Quantity int64  `json:"quantity" validate:"gte=0"`
	ActorID  int64  `json:"-"`
	Note     string `json:"note"`
}

// StockInInput describes a manual receipt of goods into a branch.
type StockInInput struct {
	Key      Key    `json:"key"`
	Quantity int64  `json:"quantity" validate:"gt=0"`
	ActorID  int64  `json:"-"`
	Note     string `json:"note"`
}

// LineFilter narrows line listings.
type LineFilter struct {
	BranchID    int64
	ProductID   int64
	MaxQuantity *int64
	Limit       int
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	LineID    int64
	RefModule string
	RefID     string
	Limit     int
}

// FormatNote renders one notes log entry.
func FormatNote(at time.Time, delta int64, note string) string {
	sign := "+"
	if delta < 0 {
		sign = ""
	}
	entry := fmt.Sprintf("[%s] %s%d", at.Format("2006-01-02 15:04"), sign, delta)
	if note != "" {
		entry += ": " + note
	}
	return entry
}

// AppendNote joins a new entry onto an existing notes log.
func AppendNote(log, entry string) string {
	if entry == "" {
		return log
	}
	if log == "" {
		return entry
	}
	return log + "\n" + entry
}
