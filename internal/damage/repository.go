package damage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/branch-ledger/internal/ledger"
	"github.com/odyssey-erp/branch-ledger/internal/platform/db"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// PGRepository persists damage records in PostgreSQL.
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
		return fn(ctx, &txRepository{
			Store: ledger.NewTxStore(tx),
			tx:    tx,
			audit: shared.NewAuditLogger(tx),
		})
	})
}

func buildWhere(filter Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if filter.BranchID > 0 {
		args = append(args, filter.BranchID)
		where = append(where, fmt.Sprintf("branch_id = $%d", len(args)))
	}
	if filter.ProductID > 0 {
		args = append(args, filter.ProductID)
		where = append(where, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

// ListRecords lists records newest first.
func (r *PGRepository) ListRecords(ctx context.Context, filter Filter) ([]Record, error) {
	where, args := buildWhere(filter)
	args = append(args, filter.Limit, filter.Offset)
	query := `SELECT id, product_id, variant_id, branch_id, quantity, reason, reported_by, created_at
FROM damaged_items` + where + fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.ProductID, &rec.VariantID, &rec.BranchID, &rec.Quantity,
			&rec.Reason, &rec.ReportedBy, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Totals sums damaged quantity per product.
func (r *PGRepository) Totals(ctx context.Context, filter Filter) ([]Total, error) {
	where, args := buildWhere(filter)
	rows, err := r.pool.Query(ctx, `SELECT product_id, variant_id, SUM(quantity) FROM damaged_items`+where+`
GROUP BY product_id, variant_id ORDER BY product_id, variant_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Total
	for rows.Next() {
		var t Total
		if err := rows.Scan(&t.ProductID, &t.VariantID, &t.Quantity); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type txRepository struct {
	ledger.Store
	tx    pgx.Tx
	audit *shared.AuditLogger
}

func (r *txRepository) InsertRecord(ctx context.Context, rec *Record) error {
	return r.tx.QueryRow(ctx, `INSERT INTO damaged_items
(product_id, variant_id, branch_id, quantity, reason, reported_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		rec.ProductID, rec.VariantID, rec.BranchID, rec.Quantity, rec.Reason, rec.ReportedBy, rec.CreatedAt,
	).Scan(&rec.ID)
}

func (r *txRepository) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return r.audit.Record(ctx, log)
}
