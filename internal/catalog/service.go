package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/branch-ledger/internal/platform/cache"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// Repository abstracts product persistence.
type Repository interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context, filter ListFilter) ([]Product, error)
	CreateProduct(ctx context.Context, input CreateProductInput) (Product, error)
	CreateVariant(ctx context.Context, input CreateVariantInput) (Variant, error)
	UpdatePrices(ctx context.Context, id int64, input UpdatePricesInput) error
}

// ListFilter narrows product listings.
type ListFilter struct {
	Category   string
	ActiveOnly bool
	Limit      int
	Offset     int
}

// UpdatePricesInput changes a product's base cost and price.
type UpdatePricesInput struct {
	Cost  decimal.Decimal `json:"cost"`
	Price decimal.Decimal `json:"price"`
}

// Service serves product reads through a versioned cache.
type Service struct {
	repo      Repository
	cache     *cache.Versioned
	logger    *slog.Logger
	validator *validator.Validate
}

// NewService constructs the catalog service. A nil cache reads straight from
// the repository.
func NewService(repo Repository, c *cache.Versioned, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: c, logger: logger, validator: shared.NewValidator()}
}

// Product returns a product with its variants.
func (s *Service) Product(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, shared.Invalid("product id required")
	}
	key, err := s.cache.Key(ctx, "product", strconv.FormatInt(id, 10))
	if err != nil {
		s.logger.Warn("catalog cache key", slog.Any("error", err))
		return s.repo.GetProduct(ctx, id)
	}
	var product Product
	err = s.cache.FetchJSON(ctx, key, &product, func(ctx context.Context) (any, error) {
		return s.repo.GetProduct(ctx, id)
	})
	if err != nil {
		return Product{}, err
	}
	return product, nil
}

// Describe resolves the display name, cost and price of a (product, variant) pair.
func (s *Service) Describe(ctx context.Context, productID, variantID int64) (Item, error) {
	product, err := s.Product(ctx, productID)
	if err != nil {
		return Item{}, err
	}
	return product.Resolve(variantID)
}

// Products lists catalog entries.
func (s *Service) Products(ctx context.Context, filter ListFilter) ([]Product, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.repo.ListProducts(ctx, filter)
}

// CreateProduct adds a product.
func (s *Service) CreateProduct(ctx context.Context, input CreateProductInput) (Product, error) {
	if err := shared.ValidateStruct(s.validator, input); err != nil {
		return Product{}, err
	}
	if input.Cost.IsNegative() || input.Price.IsNegative() {
		return Product{}, shared.Invalid("cost and price must not be negative")
	}
	return s.repo.CreateProduct(ctx, input)
}

// AddVariant attaches a variant and invalidates cached products.
func (s *Service) AddVariant(ctx context.Context, input CreateVariantInput) (Variant, error) {
	if err := shared.ValidateStruct(s.validator, input); err != nil {
		return Variant{}, err
	}
	if _, err := s.repo.GetProduct(ctx, input.ProductID); err != nil {
		return Variant{}, err
	}
	variant, err := s.repo.CreateVariant(ctx, input)
	if err != nil {
		return Variant{}, fmt.Errorf("create variant: %w", err)
	}
	s.invalidate(ctx)
	return variant, nil
}

// UpdatePrices changes the base cost and price of a product.
func (s *Service) UpdatePrices(ctx context.Context, id int64, input UpdatePricesInput) error {
	if input.Cost.IsNegative() || input.Price.IsNegative() {
		return shared.Invalid("cost and price must not be negative")
	}
	if err := s.repo.UpdatePrices(ctx, id, input); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("catalog cache bump", slog.Any("error", err))
	}
}
