package transfers

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a transfer.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusInTransit Status = "in_transit"
	StatusCompleted Status = "completed"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusInTransit, StatusCompleted:
		return true
	}
	return false
}

// CanApprove reports whether the sending branch may approve.
func (s Status) CanApprove() bool { return s == StatusPending }

// CanReject reports whether the sending branch may reject.
func (s Status) CanReject() bool { return s == StatusPending }

// CanPickup reports whether goods may be handed to a driver.
func (s Status) CanPickup() bool { return s == StatusApproved }

// CanReceive reports whether the receiving branch may confirm receipt.
func (s Status) CanReceive() bool { return s == StatusInTransit }

// CanDelete reports whether the request may be withdrawn. Stock has never
// moved in these states.
func (s Status) CanDelete() bool { return s == StatusPending || s == StatusRejected }

// Transfer moves stock from one branch to another.
type Transfer struct {
	ID              int64      `json:"id"`
	RefID           uuid.UUID  `json:"ref_id"`
	Number          string     `json:"number"`
	FromBranchID    int64      `json:"from_branch_id"`
	ToBranchID      int64      `json:"to_branch_id"`
	Status          Status     `json:"status"`
	RequestedBy     int64      `json:"requested_by"`
	ApprovedBy      *int64     `json:"approved_by,omitempty"`
	RejectedBy      *int64     `json:"rejected_by,omitempty"`
	DriverID        *int64     `json:"driver_id,omitempty"`
	ReceivedBy      *int64     `json:"received_by,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	PickedUpAt      *time.Time `json:"picked_up_at,omitempty"`
	ReceivedAt      *time.Time `json:"received_at,omitempty"`
	Lines           []Line     `json:"lines,omitempty"`
}

// Line is one product moved by a transfer.
type Line struct {
	ID                int64 `json:"id"`
	TransferID        int64 `json:"transfer_id"`
	ProductID         int64 `json:"product_id"`
	VariantID         int64 `json:"variant_id"`
	QuantityRequested int64 `json:"quantity_requested"`
	QuantityApproved  int64 `json:"quantity_approved"`
	QuantityReceived  int64 `json:"quantity_received"`
}

// LineRequest is one requested product.
type LineRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	VariantID int64 `json:"variant_id" validate:"gte=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
}

// CreateRequest asks FromBranchID to send goods to ToBranchID.
type CreateRequest struct {
	FromBranchID int64         `json:"from_branch_id" validate:"required,gt=0"`
	ToBranchID   int64         `json:"to_branch_id" validate:"required,gt=0,nefield=FromBranchID"`
	Notes        string        `json:"notes" validate:"max=1000"`
	Lines        []LineRequest `json:"lines" validate:"required,min=1,dive"`
}

// ApproveLine sets the quantity the sender commits to ship.
type ApproveLine struct {
	LineID      int64 `json:"line_id" validate:"required,gt=0"`
	ApprovedQty int64 `json:"approved_qty" validate:"gte=0"`
}

// ApproveRequest approves a transfer. Lines left out approve zero.
type ApproveRequest struct {
	Lines []ApproveLine `json:"lines" validate:"dive"`
	Note  string        `json:"note" validate:"max=500"`
}

// RejectRequest rejects a transfer.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// PickupRequest hands goods to a driver. DriverID defaults to the actor.
type PickupRequest struct {
	DriverID int64  `json:"driver_id" validate:"gte=0"`
	Note     string `json:"note" validate:"max=500"`
}

// ReceiveLine reports the quantity that arrived. Nil means as approved.
type ReceiveLine struct {
	LineID      int64  `json:"line_id" validate:"required,gt=0"`
	ReceivedQty *int64 `json:"received_qty" validate:"omitempty,gte=0"`
}

// ReceiveRequest confirms arrival at the destination branch.
type ReceiveRequest struct {
	Lines []ReceiveLine `json:"lines" validate:"dive"`
	Note  string        `json:"note" validate:"max=500"`
}

// Direction filters transfers relative to a branch.
type Direction string

const (
	DirectionAny      Direction = ""
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// ListRequest filters transfer listings.
type ListRequest struct {
	BranchID  int64     `validate:"gte=0"`
	Status    Status    `validate:"omitempty,oneof=pending approved rejected in_transit completed"`
	Direction Direction `validate:"omitempty,oneof=incoming outgoing"`
	Limit     int
	Offset    int
}

// InTransitItem is one line of the derived in-transit report: goods that
// left the sender and are not (or were never) credited to the receiver.
type InTransitItem struct {
	TransferID   int64  `json:"transfer_id"`
	Number       string `json:"number"`
	Status       Status `json:"status"`
	FromBranchID int64  `json:"from_branch_id"`
	ToBranchID   int64  `json:"to_branch_id"`
	ProductID    int64  `json:"product_id"`
	VariantID    int64  `json:"variant_id"`
	Approved     int64  `json:"approved"`
	Received     int64  `json:"received"`
	Outstanding  int64  `json:"outstanding"`
}
