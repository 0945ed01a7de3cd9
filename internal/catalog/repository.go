package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PGRepository reads products from PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const productColumns = `id, sku, name, category, cost, price, active, updated_at`

// GetProduct loads a product and its variants.
func (r *PGRepository) GetProduct(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.Cost, &p.Price, &p.Active, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("product %d: %w", id, ErrProductNotFound)
	}
	if err != nil {
		return Product{}, err
	}
	variants, err := r.variants(ctx, id)
	if err != nil {
		return Product{}, err
	}
	p.Variants = variants
	return p, nil
}

func (r *PGRepository) variants(ctx context.Context, productID int64) ([]Variant, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, variant_name, barcode, cost, price
FROM product_variants WHERE product_id=$1 ORDER BY id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Variant
	for rows.Next() {
		var (
			v           Variant
			cost, price decimal.NullDecimal
		)
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Name, &v.Barcode, &cost, &price); err != nil {
			return nil, err
		}
		if cost.Valid {
			v.Cost = &cost.Decimal
		}
		if price.Valid {
			v.Price = &price.Decimal
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListProducts lists products without variants.
func (r *PGRepository) ListProducts(ctx context.Context, filter ListFilter) ([]Product, error) {
	var (
		where []string
		args  []any
	)
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.ActiveOnly {
		where = append(where, "active")
	}
	query := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY name, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.Cost, &p.Price, &p.Active, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateProduct inserts a product.
func (r *PGRepository) CreateProduct(ctx context.Context, input CreateProductInput) (Product, error) {
	p := Product{SKU: input.SKU, Name: input.Name, Category: input.Category, Cost: input.Cost, Price: input.Price, Active: true}
	err := r.pool.QueryRow(ctx, `INSERT INTO products (sku, name, category, cost, price)
VALUES ($1, $2, $3, $4, $5) RETURNING id, updated_at`,
		input.SKU, input.Name, input.Category, input.Cost, input.Price).Scan(&p.ID, &p.UpdatedAt)
	return p, err
}

// CreateVariant inserts a variant.
func (r *PGRepository) CreateVariant(ctx context.Context, input CreateVariantInput) (Variant, error) {
	v := Variant{ProductID: input.ProductID, Name: input.Name, Barcode: input.Barcode, Cost: input.Cost, Price: input.Price}
	err := r.pool.QueryRow(ctx, `INSERT INTO product_variants (product_id, variant_name, barcode, cost, price)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		input.ProductID, input.Name, input.Barcode, nullable(input.Cost), nullable(input.Price)).Scan(&v.ID)
	return v, err
}

// UpdatePrices updates base cost and price.
func (r *PGRepository) UpdatePrices(ctx context.Context, id int64, input UpdatePricesInput) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET cost=$2, price=$3, updated_at=NOW() WHERE id=$1`, id, input.Cost, input.Price)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %d: %w", id, ErrProductNotFound)
	}
	return nil
}

func nullable(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
