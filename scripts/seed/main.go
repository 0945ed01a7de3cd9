// Command seed loads a small demo data set: two branches, a handful of
// products with stock, one customer and a subscription plan.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/branch-ledger/internal/app"
	"github.com/odyssey-erp/branch-ledger/internal/catalog"
	"github.com/odyssey-erp/branch-ledger/internal/ledger"
	"github.com/odyssey-erp/branch-ledger/internal/platform/db"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
	"github.com/odyssey-erp/branch-ledger/internal/subscriptions"
)

const seedActor = 1

type seedProduct struct {
	sku, name, category string
	cost, price         string
	stock               map[int64]int64
}

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx := context.Background()
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	logger := app.NewLogger(cfg)
	stock := ledger.NewLedger(ledger.NewRepository(pool), ledger.PolicyFor(cfg.LedgerStrict), ledger.Options{Logger: logger})
	products := catalog.NewService(catalog.NewRepository(pool), nil, logger)
	plans := subscriptions.NewService(subscriptions.NewRepository(pool), stock, subscriptions.Options{Logger: logger})

	fmt.Println("→ Seeding branches and customers...")
	if err := seedBranches(ctx, pool); err != nil {
		log.Fatalf("seed branches: %v", err)
	}

	fmt.Println("→ Seeding products and stock...")
	ids, err := seedProducts(ctx, products, stock)
	if err != nil {
		log.Fatalf("seed products: %v", err)
	}

	fmt.Println("→ Seeding subscription plan...")
	if err := seedPlan(ctx, plans, ids); err != nil {
		log.Fatalf("seed plan: %v", err)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedBranches(ctx context.Context, pool *pgxpool.Pool) error {
	for id, name := range map[int64]string{1: "Central Warehouse", 2: "Downtown Store"} {
		if _, err := pool.Exec(ctx, `INSERT INTO branches (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, id, name); err != nil {
			return err
		}
	}
	if _, err := pool.Exec(ctx, `INSERT INTO customers (id, name, phone) VALUES (1, 'Walk-in Regular', '0800') ON CONFLICT (id) DO NOTHING`); err != nil {
		return err
	}
	for _, table := range []string{"branches", "customers"} {
		q := fmt.Sprintf(`SELECT setval(pg_get_serial_sequence('%s', 'id'), (SELECT MAX(id) FROM %s))`, table, table)
		if _, err := pool.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func seedProducts(ctx context.Context, products *catalog.Service, stock *ledger.Ledger) (map[string]int64, error) {
	seeds := []seedProduct{
		{sku: "FLR-1KG", name: "Flour 1kg", category: "pantry", cost: "0.80", price: "1.50", stock: map[int64]int64{1: 200, 2: 20}},
		{sku: "MLK-1L", name: "Milk 1L", category: "dairy", cost: "0.60", price: "1.10", stock: map[int64]int64{1: 120, 2: 30}},
		{sku: "EGG-12", name: "Eggs (12)", category: "dairy", cost: "1.90", price: "3.20", stock: map[int64]int64{1: 80, 2: 12}},
	}
	ids := make(map[string]int64, len(seeds))
	for _, s := range seeds {
		p, err := products.CreateProduct(ctx, catalog.CreateProductInput{
			SKU:      s.sku,
			Name:     s.name,
			Category: s.category,
			Cost:     decimal.RequireFromString(s.cost),
			Price:    decimal.RequireFromString(s.price),
		})
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", s.sku, err)
		}
		ids[s.sku] = p.ID
		for branch, qty := range s.stock {
			_, err := stock.StockIn(ctx, ledger.StockInInput{
				Key:      ledger.Key{ProductID: p.ID, BranchID: branch},
				Quantity: qty,
				ActorID:  seedActor,
				Note:     "opening stock",
			})
			if err != nil {
				return nil, fmt.Errorf("stock %s at branch %d: %w", s.sku, branch, err)
			}
		}
	}
	return ids, nil
}

func seedPlan(ctx context.Context, plans *subscriptions.Service, ids map[string]int64) error {
	actor := shared.Actor{UserID: seedActor, BranchID: 2}
	plan, err := plans.CreatePlan(ctx, subscriptions.CreatePlanRequest{
		Name:            "Breakfast Monthly",
		DurationDays:    30,
		DiscountPercent: decimal.NewFromInt(10),
		Price:           decimal.RequireFromString("25.00"),
		Items: []subscriptions.EntitlementRequest{
			{ProductID: ids["MLK-1L"], AllowedQuantity: 8},
			{ProductID: ids["EGG-12"], AllowedQuantity: 4},
		},
	}, actor)
	if err != nil {
		return err
	}
	_, err = plans.Subscribe(ctx, subscriptions.SubscribeRequest{CustomerID: 1, PlanID: plan.ID, Code: "DEMO-0001"}, actor)
	if errors.Is(err, subscriptions.ErrDuplicateCode) {
		return nil
	}
	return err
}
