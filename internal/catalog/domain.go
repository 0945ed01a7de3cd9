package catalog

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// ErrProductNotFound indicates the product or variant does not exist.
var ErrProductNotFound = fmt.Errorf("catalog: product %w", shared.ErrNotFound)

// Product is the base catalog entry. It holds no stock.
type Product struct {
	ID        int64           `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Cost      decimal.Decimal `json:"cost"`
	Price     decimal.Decimal `json:"price"`
	Active    bool            `json:"active"`
	Variants  []Variant       `json:"variants,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Variant overrides cost and price of its product when set.
type Variant struct {
	ID        int64            `json:"id"`
	ProductID int64            `json:"product_id"`
	Name      string           `json:"name"`
	Barcode   string           `json:"barcode,omitempty"`
	Cost      *decimal.Decimal `json:"cost,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

// Item is the resolved view of one (product, variant) pair.
type Item struct {
	ProductID   int64           `json:"product_id"`
	VariantID   int64           `json:"variant_id"`
	Name        string          `json:"name"`
	VariantName string          `json:"variant_name,omitempty"`
	Cost        decimal.Decimal `json:"cost"`
	Price       decimal.Decimal `json:"price"`
}

// DisplayName renders "Product (Variant)".
func (i Item) DisplayName() string {
	if i.VariantName == "" {
		return i.Name
	}
	return fmt.Sprintf("%s (%s)", i.Name, i.VariantName)
}

// Resolve builds the Item for variantID, zero meaning the base product.
func (p Product) Resolve(variantID int64) (Item, error) {
	item := Item{ProductID: p.ID, Name: p.Name, Cost: p.Cost, Price: p.Price}
	if variantID == 0 {
		return item, nil
	}
	for _, v := range p.Variants {
		if v.ID != variantID {
			continue
		}
		item.VariantID = v.ID
		item.VariantName = v.Name
		if v.Cost != nil {
			item.Cost = *v.Cost
		}
		if v.Price != nil {
			item.Price = *v.Price
		}
		return item, nil
	}
	return Item{}, fmt.Errorf("variant %d of product %d: %w", variantID, p.ID, ErrProductNotFound)
}

// CreateProductInput describes a new product.
type CreateProductInput struct {
	SKU      string          `json:"sku"`
	Name     string          `json:"name" validate:"required"`
	Category string          `json:"category"`
	Cost     decimal.Decimal `json:"cost"`
	Price    decimal.Decimal `json:"price"`
}

// CreateVariantInput describes a new variant.
type CreateVariantInput struct {
	ProductID int64            `json:"-" validate:"required"`
	Name      string           `json:"name" validate:"required"`
	Barcode   string           `json:"barcode"`
	Cost      *decimal.Decimal `json:"cost"`
	Price     *decimal.Decimal `json:"price"`
}
