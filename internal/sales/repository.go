package sales

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/branch-ledger/internal/ledger"
	"github.com/odyssey-erp/branch-ledger/internal/platform/db"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// PGRepository persists invoices in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// WithTx runs fn in a ledger transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithLedgerTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, Store: ledger.NewTxStore(tx)})
	})
}

const invoiceColumns = `id, number, branch_id, customer_id, status, subtotal, discount, total,
points_earned, points_redeemed, notes, cancelled, cancel_reason, cancelled_at, stock_returned,
edited_at, edited_by, edit_count, created_by, created_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var (
		inv    Invoice
		status string
	)
	err := row.Scan(&inv.ID, &inv.Number, &inv.BranchID, &inv.CustomerID, &status, &inv.Subtotal, &inv.Discount,
		&inv.Total, &inv.PointsEarned, &inv.PointsRedeemed, &inv.Notes, &inv.Cancelled, &inv.CancelReason,
		&inv.CancelledAt, &inv.StockReturned, &inv.EditedAt, &inv.EditedBy, &inv.EditCount, &inv.CreatedBy, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrInvoiceNotFound
	}
	inv.Status = Status(status)
	return inv, err
}

func loadLines(ctx context.Context, q shared.DBTX, invoiceID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, invoice_id, stock_line_id, product_id, variant_id, product_name,
variant_name, quantity, unit_price, total FROM invoice_lines WHERE invoice_id=$1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.StockLineID, &l.ProductID, &l.VariantID, &l.ProductName,
			&l.VariantName, &l.Quantity, &l.UnitPrice, &l.Total); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// GetInvoice loads an invoice and its lines.
func (r *PGRepository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1`, id))
	if err != nil {
		return Invoice{}, err
	}
	inv.Lines, err = loadLines(ctx, r.pool, id)
	return inv, err
}

// ListInvoices lists invoice headers newest first.
func (r *PGRepository) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, error) {
	var (
		where []string
		args  []any
	)
	if filter.BranchID > 0 {
		args = append(args, filter.BranchID)
		where = append(where, fmt.Sprintf("branch_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// ListEdits returns the edit history oldest first.
func (r *PGRepository) ListEdits(ctx context.Context, invoiceID int64) ([]EditRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, invoice_id, edited_by, edited_at, changes
FROM invoice_edits WHERE invoice_id=$1 ORDER BY edited_at, id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EditRecord
	for rows.Next() {
		var (
			rec EditRecord
			raw []byte
		)
		if err := rows.Scan(&rec.ID, &rec.InvoiceID, &rec.EditedBy, &rec.EditedAt, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &rec.Changes); err != nil {
			return nil, fmt.Errorf("decode edit %d: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const returnColumns = `id, invoice_id, invoice_line_id, stock_line_id, quantity, unit_price, total, reason, created_by, created_at`

func scanReturn(row pgx.Row) (Return, error) {
	var ret Return
	err := row.Scan(&ret.ID, &ret.InvoiceID, &ret.InvoiceLineID, &ret.StockLineID, &ret.Quantity,
		&ret.UnitPrice, &ret.Total, &ret.Reason, &ret.CreatedBy, &ret.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Return{}, ErrReturnNotFound
	}
	return ret, err
}

// ListReturns lists returns of an invoice.
func (r *PGRepository) ListReturns(ctx context.Context, invoiceID int64) ([]Return, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+returnColumns+` FROM invoice_returns WHERE invoice_id=$1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Return
	for rows.Next() {
		ret, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ret)
	}
	return out, rows.Err()
}

// LowStockThreshold reads settings.low_stock_threshold.
func (r *PGRepository) LowStockThreshold(ctx context.Context) (int64, bool, error) {
	var raw string
	err := r.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key='low_stock_threshold'`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse low_stock_threshold %q: %w", raw, err)
	}
	return value, true, nil
}

type txRepository struct {
	tx pgx.Tx
	ledger.Store
}

func (r *txRepository) NextInvoiceSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := r.tx.QueryRow(ctx, `SELECT nextval('invoice_number_seq')`).Scan(&seq)
	return seq, err
}

func (r *txRepository) InsertInvoice(ctx context.Context, inv *Invoice) error {
	return r.tx.QueryRow(ctx, `INSERT INTO invoices
(number, branch_id, customer_id, status, subtotal, discount, total, points_earned, points_redeemed, notes, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		inv.Number, inv.BranchID, inv.CustomerID, string(inv.Status), inv.Subtotal, inv.Discount, inv.Total,
		inv.PointsEarned, inv.PointsRedeemed, inv.Notes, inv.CreatedBy, inv.CreatedAt).Scan(&inv.ID)
}

func (r *txRepository) InsertLines(ctx context.Context, invoiceID int64, lines []Line) ([]Line, error) {
	out := make([]Line, len(lines))
	for i, l := range lines {
		l.InvoiceID = invoiceID
		err := r.tx.QueryRow(ctx, `INSERT INTO invoice_lines
(invoice_id, stock_line_id, product_id, variant_id, product_name, variant_name, quantity, unit_price, total)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
			invoiceID, l.StockLineID, l.ProductID, l.VariantID, l.ProductName, l.VariantName,
			l.Quantity, l.UnitPrice, l.Total).Scan(&l.ID)
		if err != nil {
			return nil, err
		}
		out[i] = l
	}
	return out, nil
}

func (r *txRepository) LockInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Invoice{}, err
	}
	inv.Lines, err = loadLines(ctx, r.tx, id)
	return inv, err
}

func (r *txRepository) DeleteLines(ctx context.Context, invoiceID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM invoice_lines WHERE invoice_id=$1`, invoiceID)
	return err
}

func (r *txRepository) MarkCancelled(ctx context.Context, id int64, reason string, stockReturned bool, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE invoices SET cancelled=TRUE, cancel_reason=$2, cancelled_at=$3,
stock_returned=$4, status=$5, updated_at=$3 WHERE id=$1`, id, reason, at, stockReturned, string(StatusCancelled))
	return err
}

func (r *txRepository) MarkEdited(ctx context.Context, id int64, subtotal, total decimal.Decimal, editedBy int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE invoices SET subtotal=$2, total=$3, edited_by=$4, edited_at=$5,
edit_count=edit_count+1, updated_at=$5 WHERE id=$1`, id, subtotal, total, editedBy, at)
	return err
}

func (r *txRepository) InsertEdit(ctx context.Context, rec EditRecord) error {
	changes, err := json.Marshal(rec.Changes)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO invoice_edits (invoice_id, edited_by, edited_at, changes)
VALUES ($1, $2, $3, $4)`, rec.InvoiceID, rec.EditedBy, rec.EditedAt, changes)
	return err
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	_, err := r.tx.Exec(ctx, `UPDATE invoices SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	return err
}

func (r *txRepository) AdjustLoyalty(ctx context.Context, customerID, delta int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE customers SET loyalty_points = GREATEST(0, loyalty_points + $2) WHERE id=$1`, customerID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("customer %d: %w", customerID, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepository) ReturnedQuantity(ctx context.Context, invoiceLineID int64) (int64, error) {
	var qty int64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM invoice_returns WHERE invoice_line_id=$1`, invoiceLineID).Scan(&qty)
	return qty, err
}

func (r *txRepository) InsertReturn(ctx context.Context, ret *Return) error {
	return r.tx.QueryRow(ctx, `INSERT INTO invoice_returns
(invoice_id, invoice_line_id, stock_line_id, quantity, unit_price, total, reason, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		ret.InvoiceID, ret.InvoiceLineID, ret.StockLineID, ret.Quantity, ret.UnitPrice, ret.Total,
		ret.Reason, ret.CreatedBy, ret.CreatedAt).Scan(&ret.ID)
}

func (r *txRepository) LockReturn(ctx context.Context, id int64) (Return, error) {
	return scanReturn(r.tx.QueryRow(ctx, `SELECT `+returnColumns+` FROM invoice_returns WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) DeleteReturn(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM invoice_returns WHERE id=$1`, id)
	return err
}
