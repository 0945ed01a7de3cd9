package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/branch-ledger/internal/platform/db"
)

// Repository persists stock lines in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a ledger transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	return db.WithLedgerTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

const lineColumns = `id, product_id, variant_id, branch_id, quantity, notes_log, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLine(row rowScanner) (StockLine, error) {
	var line StockLine
	err := row.Scan(&line.ID, &line.ProductID, &line.VariantID, &line.BranchID, &line.Quantity, &line.NotesLog, &line.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockLine{}, ErrLineNotFound
	}
	return line, err
}

// GetLine reads a line by identity.
func (r *Repository) GetLine(ctx context.Context, key Key) (StockLine, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+lineColumns+` FROM stock_lines
WHERE product_id=$1 AND variant_id=$2 AND branch_id=$3`, key.ProductID, key.VariantID, key.BranchID)
	return scanLine(row)
}

// GetLineByID reads a line by id.
func (r *Repository) GetLineByID(ctx context.Context, id int64) (StockLine, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+lineColumns+` FROM stock_lines WHERE id=$1`, id)
	return scanLine(row)
}

// ListLines lists lines matching filter.
func (r *Repository) ListLines(ctx context.Context, filter LineFilter) ([]StockLine, error) {
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
	if filter.MaxQuantity != nil {
		args = append(args, *filter.MaxQuantity)
		where = append(where, fmt.Sprintf("quantity <= $%d", len(args)))
	}
	query := `SELECT ` + lineColumns + ` FROM stock_lines`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(` ORDER BY branch_id, product_id, variant_id LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []StockLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// ListMovements lists movement history newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	var (
		where []string
		args  []any
	)
	if filter.LineID > 0 {
		args = append(args, filter.LineID)
		where = append(where, fmt.Sprintf("line_id = $%d", len(args)))
	}
	if filter.RefModule != "" {
		args = append(args, filter.RefModule)
		where = append(where, fmt.Sprintf("ref_module = $%d", len(args)))
	}
	if filter.RefID != "" {
		args = append(args, filter.RefID)
		where = append(where, fmt.Sprintf("ref_id = $%d", len(args)))
	}
	query := `SELECT id, batch_id, line_id, product_id, variant_id, branch_id, delta, balance, reason,
ref_module, ref_id, actor_id, note, created_at FROM stock_movements`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var (
			m      Movement
			reason string
		)
		if err := rows.Scan(&m.ID, &m.BatchID, &m.LineID, &m.Key.ProductID, &m.Key.VariantID, &m.Key.BranchID,
			&m.Delta, &m.Balance, &reason, &m.RefModule, &m.RefID, &m.ActorID, &m.Note, &m.At); err != nil {
			return nil, err
		}
		m.Reason = Reason(reason)
		out = append(out, m)
	}
	return out, rows.Err()
}

// txStore implements Store over an open pgx transaction.
type txStore struct {
	tx pgx.Tx
}

// NewTxStore binds Store to tx. Other modules embed it in their transactional
// repositories so stock moves commit together with their own rows.
func NewTxStore(tx pgx.Tx) Store {
	return &txStore{tx: tx}
}

func (s *txStore) LockLine(ctx context.Context, key Key) (StockLine, error) {
	row := s.tx.QueryRow(ctx, `SELECT `+lineColumns+` FROM stock_lines
WHERE product_id=$1 AND variant_id=$2 AND branch_id=$3 FOR UPDATE`, key.ProductID, key.VariantID, key.BranchID)
	return scanLine(row)
}

func (s *txStore) LockLineByID(ctx context.Context, id int64) (StockLine, error) {
	row := s.tx.QueryRow(ctx, `SELECT `+lineColumns+` FROM stock_lines WHERE id=$1 FOR UPDATE`, id)
	return scanLine(row)
}

const notesMerge = `CASE
    WHEN EXCLUDED.notes_log = '' THEN stock_lines.notes_log
    WHEN stock_lines.notes_log = '' THEN EXCLUDED.notes_log
    ELSE stock_lines.notes_log || E'\n' || EXCLUDED.notes_log
END`

func (s *txStore) IncrementLine(ctx context.Context, key Key, delta int64, noteEntry string, at time.Time) (StockLine, error) {
	row := s.tx.QueryRow(ctx, `INSERT INTO stock_lines (product_id, variant_id, branch_id, quantity, notes_log, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (product_id, variant_id, branch_id) DO UPDATE
SET quantity = stock_lines.quantity + EXCLUDED.quantity,
    notes_log = `+notesMerge+`,
    updated_at = EXCLUDED.updated_at
RETURNING `+lineColumns, key.ProductID, key.VariantID, key.BranchID, delta, noteEntry, at)
	return scanLine(row)
}

func (s *txStore) SetLine(ctx context.Context, key Key, quantity int64, noteEntry string, at time.Time) (StockLine, error) {
	row := s.tx.QueryRow(ctx, `INSERT INTO stock_lines (product_id, variant_id, branch_id, quantity, notes_log, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (product_id, variant_id, branch_id) DO UPDATE
SET quantity = EXCLUDED.quantity,
    notes_log = `+notesMerge+`,
    updated_at = EXCLUDED.updated_at
RETURNING `+lineColumns, key.ProductID, key.VariantID, key.BranchID, quantity, noteEntry, at)
	return scanLine(row)
}

func (s *txStore) InsertMovement(ctx context.Context, m Movement) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO stock_movements
(batch_id, line_id, product_id, variant_id, branch_id, delta, balance, reason, ref_module, ref_id, actor_id, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		m.BatchID, m.LineID, m.Key.ProductID, m.Key.VariantID, m.Key.BranchID, m.Delta, m.Balance,
		string(m.Reason), m.RefModule, m.RefID, m.ActorID, m.Note, m.At)
	return err
}
