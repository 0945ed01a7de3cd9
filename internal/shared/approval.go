package shared

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ApprovalAction enumerates workflow log actions.
type ApprovalAction string

const (
	// ApprovalSubmit marks a submit action.
	ApprovalSubmit ApprovalAction = "SUBMIT"
	// ApprovalApprove marks an approve action.
	ApprovalApprove ApprovalAction = "APPROVE"
	// ApprovalReject marks a reject action.
	ApprovalReject ApprovalAction = "REJECT"
	// ApprovalPickup marks goods handed to a driver.
	ApprovalPickup ApprovalAction = "PICKUP"
	// ApprovalReceive marks goods received at destination.
	ApprovalReceive ApprovalAction = "RECEIVE"
)

// ApprovalLog represents a single workflow record.
type ApprovalLog struct {
	ID       int64
	Module   string
	RefID    uuid.UUID
	ActorID  int64
	BranchID int64
	Action   ApprovalAction
	Note     string
	At       time.Time
}

// ApprovalRecorder persists workflow history.
type ApprovalRecorder struct {
	db DBTX
}

// NewApprovalRecorder constructs ApprovalRecorder. Pass a pgx.Tx to record
// within the transaction performing the transition.
func NewApprovalRecorder(db DBTX) *ApprovalRecorder {
	return &ApprovalRecorder{db: db}
}

// Record writes approval entry to database.
func (r *ApprovalRecorder) Record(ctx context.Context, log ApprovalLog) error {
	if r == nil || r.db == nil {
		return errors.New("approval recorder not initialised")
	}
	if log.Module == "" {
		return errors.New("approval module required")
	}
	if log.ActorID == 0 {
		return errors.New("approval actor required")
	}
	if log.RefID == uuid.Nil {
		return errors.New("approval ref id required")
	}
	if log.Action == "" {
		return errors.New("approval action required")
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err := r.db.Exec(ctx, `INSERT INTO approvals (module, ref_id, actor_id, branch_id, action, note, at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`, log.Module, log.RefID, log.ActorID, log.BranchID, string(log.Action), log.Note, at)
	return err
}

// List returns approvals for module/ref.
func (r *ApprovalRecorder) List(ctx context.Context, module string, ref uuid.UUID) ([]ApprovalLog, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("approval recorder not initialised")
	}
	rows, err := r.db.Query(ctx, `SELECT id, module, ref_id, actor_id, branch_id, action, note, at
FROM approvals WHERE module=$1 AND ref_id=$2 ORDER BY at ASC, id ASC`, module, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []ApprovalLog
	for rows.Next() {
		var l ApprovalLog
		var action string
		if err := rows.Scan(&l.ID, &l.Module, &l.RefID, &l.ActorID, &l.BranchID, &action, &l.Note, &l.At); err != nil {
			return nil, err
		}
		l.Action = ApprovalAction(action)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}
