package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/branch-ledger/internal/ledger"
	"github.com/odyssey-erp/branch-ledger/internal/platform/db"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// PGRepository persists plans, subscriptions and redemptions in PostgreSQL.
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

const subscriptionColumns = `id, COALESCE(code, ''), customer_id, plan_id, price_paid, start_date, end_date,
status, created_at, updated_at`

func scanSubscription(row pgx.Row) (Subscription, error) {
	var (
		s      Subscription
		status string
	)
	err := row.Scan(&s.ID, &s.Code, &s.CustomerID, &s.PlanID, &s.PricePaid, &s.StartDate, &s.EndDate,
		&status, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Subscription{}, ErrSubscriptionNotFound
	}
	s.Status = Status(status)
	return s, err
}

const planColumns = `id, name, duration_days, discount_percent, price, active, created_at`

func scanPlan(row pgx.Row) (Plan, error) {
	var p Plan
	err := row.Scan(&p.ID, &p.Name, &p.DurationDays, &p.DiscountPercent, &p.Price, &p.Active, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Plan{}, ErrPlanNotFound
	}
	return p, err
}

func planItems(ctx context.Context, q shared.DBTX, planID int64) ([]Entitlement, error) {
	rows, err := q.Query(ctx, `SELECT id, plan_id, product_id, variant_id, allowed_quantity
FROM plan_items WHERE plan_id=$1 ORDER BY id`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Entitlement
	for rows.Next() {
		var e Entitlement
		if err := rows.Scan(&e.ID, &e.PlanID, &e.ProductID, &e.VariantID, &e.AllowedQuantity); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func redeemedTotals(ctx context.Context, q shared.DBTX, subscriptionID int64) (map[ItemKey]int64, error) {
	rows, err := q.Query(ctx, `SELECT product_id, variant_id, SUM(quantity)
FROM redemptions WHERE subscription_id=$1 GROUP BY product_id, variant_id`, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[ItemKey]int64)
	for rows.Next() {
		var (
			key   ItemKey
			total int64
		)
		if err := rows.Scan(&key.ProductID, &key.VariantID, &total); err != nil {
			return nil, err
		}
		out[key] = total
	}
	return out, rows.Err()
}

// GetPlan loads a plan with its entitlements.
func (r *PGRepository) GetPlan(ctx context.Context, id int64) (Plan, error) {
	p, err := scanPlan(r.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id=$1`, id))
	if err != nil {
		return Plan{}, err
	}
	if p.Items, err = planItems(ctx, r.pool, p.ID); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// ListPlans lists plans by price.
func (r *PGRepository) ListPlans(ctx context.Context, activeOnly bool) ([]Plan, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+planColumns+` FROM plans
WHERE ($1 = FALSE OR active) ORDER BY price, id`, activeOnly)
	if err != nil {
		return nil, err
	}
	var plans []Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		plans = append(plans, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range plans {
		if plans[i].Items, err = planItems(ctx, r.pool, plans[i].ID); err != nil {
			return nil, err
		}
	}
	return plans, nil
}

// GetSubscription loads a subscription.
func (r *PGRepository) GetSubscription(ctx context.Context, id int64) (Subscription, error) {
	return scanSubscription(r.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id=$1`, id))
}

// FindByCode loads a subscription by its code.
func (r *PGRepository) FindByCode(ctx context.Context, code string) (Subscription, error) {
	return scanSubscription(r.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE code=$1`, code))
}

// CreateSubscription inserts s and fills its id and timestamps.
func (r *PGRepository) CreateSubscription(ctx context.Context, s *Subscription) error {
	err := r.pool.QueryRow(ctx, `INSERT INTO subscriptions
(code, customer_id, plan_id, price_paid, start_date, end_date, status)
VALUES (NULLIF($1, ''), $2, $3, $4, $5, $6, $7)
RETURNING id, created_at, updated_at`,
		s.Code, s.CustomerID, s.PlanID, s.PricePaid, s.StartDate, s.EndDate, string(s.Status),
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateCode
	}
	return err
}

// ListRedemptions lists redemptions oldest first.
func (r *PGRepository) ListRedemptions(ctx context.Context, subscriptionID int64) ([]Redemption, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, subscription_id, product_id, variant_id, quantity, branch_id,
redeemed_by, redeemed_at FROM redemptions WHERE subscription_id=$1 ORDER BY redeemed_at, id`, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Redemption
	for rows.Next() {
		var rd Redemption
		if err := rows.Scan(&rd.ID, &rd.SubscriptionID, &rd.ProductID, &rd.VariantID, &rd.Quantity,
			&rd.BranchID, &rd.RedeemedBy, &rd.RedeemedAt); err != nil {
			return nil, err
		}
		out = append(out, rd)
	}
	return out, rows.Err()
}

// RedeemedTotals sums redemptions per entitlement.
func (r *PGRepository) RedeemedTotals(ctx context.Context, subscriptionID int64) (map[ItemKey]int64, error) {
	return redeemedTotals(ctx, r.pool, subscriptionID)
}

// MarkExpired flips an active subscription to expired in its own statement.
func (r *PGRepository) MarkExpired(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE subscriptions SET status='expired', updated_at=$2
WHERE id=$1 AND status='active'`, id, at)
	return err
}

// ExpireDue flips active subscriptions ending before today.
func (r *PGRepository) ExpireDue(ctx context.Context, today time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE subscriptions SET status='expired', updated_at=NOW()
WHERE status='active' AND end_date < $1`, today)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type txRepository struct {
	ledger.Store
	tx pgx.Tx
}

func (r *txRepository) LockSubscription(ctx context.Context, id int64) (Subscription, error) {
	return scanSubscription(r.tx.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) SetStatus(ctx context.Context, id int64, status Status, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE subscriptions SET status=$2, updated_at=$3 WHERE id=$1`, id, string(status), at)
	return err
}

func (r *txRepository) PlanItems(ctx context.Context, planID int64) ([]Entitlement, error) {
	return planItems(ctx, r.tx, planID)
}

func (r *txRepository) RedeemedTotals(ctx context.Context, subscriptionID int64) (map[ItemKey]int64, error) {
	return redeemedTotals(ctx, r.tx, subscriptionID)
}

func (r *txRepository) InsertRedemption(ctx context.Context, rd *Redemption) error {
	return r.tx.QueryRow(ctx, `INSERT INTO redemptions
(subscription_id, product_id, variant_id, quantity, branch_id, redeemed_by, redeemed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		rd.SubscriptionID, rd.ProductID, rd.VariantID, rd.Quantity, rd.BranchID, rd.RedeemedBy, rd.RedeemedAt,
	).Scan(&rd.ID)
}

func (r *txRepository) InsertPlan(ctx context.Context, p *Plan) error {
	err := r.tx.QueryRow(ctx, `INSERT INTO plans (name, duration_days, discount_percent, price, active)
VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		p.Name, p.DurationDays, p.DiscountPercent, p.Price, p.Active,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return err
	}
	for i := range p.Items {
		item := &p.Items[i]
		item.PlanID = p.ID
		if err := r.tx.QueryRow(ctx, `INSERT INTO plan_items (plan_id, product_id, variant_id, allowed_quantity)
VALUES ($1, $2, $3, $4) RETURNING id`, p.ID, item.ProductID, item.VariantID, item.AllowedQuantity).Scan(&item.ID); err != nil {
			return err
		}
	}
	return nil
}
