package transfers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/branch-ledger/internal/ledger"
	"github.com/odyssey-erp/branch-ledger/internal/platform/db"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// PGRepository persists transfers in PostgreSQL.
type PGRepository struct {
	pool      *pgxpool.Pool
	approvals *shared.ApprovalRecorder
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, approvals: shared.NewApprovalRecorder(pool)}
}

// WithTx runs fn in a ledger transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithLedgerTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{
			tx:        tx,
			Store:     ledger.NewTxStore(tx),
			approvals: shared.NewApprovalRecorder(tx),
		})
	})
}

const transferColumns = `id, ref_id, number, from_branch_id, to_branch_id, status, requested_by, approved_by,
rejected_by, driver_id, received_by, rejection_reason, notes, created_at, approved_at, rejected_at,
picked_up_at, received_at`

func scanTransfer(row pgx.Row) (Transfer, error) {
	var (
		t      Transfer
		status string
	)
	err := row.Scan(&t.ID, &t.RefID, &t.Number, &t.FromBranchID, &t.ToBranchID, &status, &t.RequestedBy,
		&t.ApprovedBy, &t.RejectedBy, &t.DriverID, &t.ReceivedBy, &t.RejectionReason, &t.Notes, &t.CreatedAt,
		&t.ApprovedAt, &t.RejectedAt, &t.PickedUpAt, &t.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, ErrTransferNotFound
	}
	t.Status = Status(status)
	return t, err
}

func loadLines(ctx context.Context, q shared.DBTX, transferID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, transfer_id, product_id, variant_id, quantity_requested,
quantity_approved, quantity_received FROM transfer_lines WHERE transfer_id=$1 ORDER BY id`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.TransferID, &l.ProductID, &l.VariantID, &l.QuantityRequested,
			&l.QuantityApproved, &l.QuantityReceived); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// GetTransfer loads a transfer with its lines.
func (r *PGRepository) GetTransfer(ctx context.Context, id int64) (Transfer, error) {
	t, err := scanTransfer(r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id=$1`, id))
	if err != nil {
		return Transfer{}, err
	}
	t.Lines, err = loadLines(ctx, r.pool, id)
	return t, err
}

// ListTransfers lists transfers with their lines.
func (r *PGRepository) ListTransfers(ctx context.Context, req ListRequest) ([]Transfer, error) {
	var (
		where []string
		args  []any
	)
	if req.Status != "" {
		args = append(args, string(req.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if req.BranchID > 0 {
		args = append(args, req.BranchID)
		switch req.Direction {
		case DirectionIncoming:
			where = append(where, fmt.Sprintf("to_branch_id = $%d", len(args)))
		case DirectionOutgoing:
			where = append(where, fmt.Sprintf("from_branch_id = $%d", len(args)))
		default:
			where = append(where, fmt.Sprintf("(from_branch_id = $%[1]d OR to_branch_id = $%[1]d)", len(args)))
		}
	}
	query := `SELECT ` + transferColumns + ` FROM transfers`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, req.Limit, req.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var out []Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Lines, err = loadLines(ctx, r.pool, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ListApprovals returns the workflow log of a transfer.
func (r *PGRepository) ListApprovals(ctx context.Context, refID uuid.UUID) ([]shared.ApprovalLog, error) {
	return r.approvals.List(ctx, approvalModule, refID)
}

// InTransitLines derives the in-transit report.
func (r *PGRepository) InTransitLines(ctx context.Context, branchID int64) ([]InTransitItem, error) {
	query := `SELECT t.id, t.number, t.status, t.from_branch_id, t.to_branch_id, l.product_id, l.variant_id,
l.quantity_approved, l.quantity_received
FROM transfers t JOIN transfer_lines l ON l.transfer_id = t.id
WHERE t.status IN ('in_transit', 'completed')
  AND l.quantity_approved > CASE WHEN t.status = 'in_transit' THEN 0 ELSE l.quantity_received END`
	var args []any
	if branchID > 0 {
		args = append(args, branchID)
		query += ` AND (t.from_branch_id = $1 OR t.to_branch_id = $1)`
	}
	query += ` ORDER BY t.created_at, t.id, l.id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InTransitItem
	for rows.Next() {
		var (
			item   InTransitItem
			status string
		)
		if err := rows.Scan(&item.TransferID, &item.Number, &status, &item.FromBranchID, &item.ToBranchID,
			&item.ProductID, &item.VariantID, &item.Approved, &item.Received); err != nil {
			return nil, err
		}
		item.Status = Status(status)
		item.Outstanding = item.Approved - item.Received
		out = append(out, item)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
	ledger.Store
	approvals *shared.ApprovalRecorder
}

// NextNumber takes the highest issued sequence under an advisory lock so
// concurrent creators never draw the same number. Deleted requests do not
// shift later numbers.
func (r *txRepository) NextNumber(ctx context.Context) (int64, error) {
	if err := db.AdvisoryXactLock(ctx, r.tx, shared.AdvisoryLockKey("transfers:number")); err != nil {
		return 0, err
	}
	var last int64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(MAX(CAST(SUBSTRING(number FROM 4) AS BIGINT)), 0)
FROM transfers WHERE number LIKE 'TR-%'`).Scan(&last)
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

func (r *txRepository) InsertTransfer(ctx context.Context, t *Transfer) error {
	err := r.tx.QueryRow(ctx, `INSERT INTO transfers
(ref_id, number, from_branch_id, to_branch_id, status, requested_by, notes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		t.RefID, t.Number, t.FromBranchID, t.ToBranchID, string(t.Status), t.RequestedBy, t.Notes, t.CreatedAt).Scan(&t.ID)
	if err != nil {
		return err
	}
	for i := range t.Lines {
		l := &t.Lines[i]
		l.TransferID = t.ID
		if err := r.tx.QueryRow(ctx, `INSERT INTO transfer_lines (transfer_id, product_id, variant_id, quantity_requested)
VALUES ($1, $2, $3, $4) RETURNING id`, t.ID, l.ProductID, l.VariantID, l.QuantityRequested).Scan(&l.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) LockTransfer(ctx context.Context, id int64) (Transfer, error) {
	t, err := scanTransfer(r.tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Transfer{}, err
	}
	t.Lines, err = loadLines(ctx, r.tx, id)
	return t, err
}

func (r *txRepository) UpdateTransfer(ctx context.Context, t Transfer) error {
	_, err := r.tx.Exec(ctx, `UPDATE transfers SET status=$2, approved_by=$3, rejected_by=$4, driver_id=$5,
received_by=$6, rejection_reason=$7, approved_at=$8, rejected_at=$9, picked_up_at=$10, received_at=$11,
updated_at=NOW() WHERE id=$1`,
		t.ID, string(t.Status), t.ApprovedBy, t.RejectedBy, t.DriverID, t.ReceivedBy, t.RejectionReason,
		t.ApprovedAt, t.RejectedAt, t.PickedUpAt, t.ReceivedAt)
	return err
}

func (r *txRepository) UpdateLine(ctx context.Context, line Line) error {
	_, err := r.tx.Exec(ctx, `UPDATE transfer_lines SET quantity_approved=$2, quantity_received=$3 WHERE id=$1`,
		line.ID, line.QuantityApproved, line.QuantityReceived)
	return err
}

func (r *txRepository) DeleteTransfer(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM transfers WHERE id=$1`, id)
	return err
}

func (r *txRepository) RecordApproval(ctx context.Context, log shared.ApprovalLog) error {
	return r.approvals.Record(ctx, log)
}
