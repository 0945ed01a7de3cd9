package catalog

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/branch-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// Handler exposes catalog endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{productID}", h.get)
	r.Post("/{productID}/variants", h.addVariant)
	r.Put("/{productID}/prices", h.updatePrices)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Category: q.Get("category"), ActiveOnly: q.Get("active") == "true"}
	page, err := shared.ParsePagination(q.Get("page"), q.Get("per_page"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Limit = page.Limit
	filter.Offset = page.Offset
	products, err := h.service.Products(r.Context(), filter)
	if err != nil {
		h.fail(w, "list products", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": products})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.Product(r.Context(), id)
	if err != nil {
		h.fail(w, "get product", err)
		return
	}
	if raw := r.URL.Query().Get("variant_id"); raw != "" {
		variantID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("invalid variant_id"))
			return
		}
		item, err := product.Resolve(variantID)
		if err != nil {
			h.fail(w, "resolve variant", err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"item": item, "display_name": item.DisplayName()})
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateProductInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.CreateProduct(r.Context(), input)
	if err != nil {
		h.fail(w, "create product", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) addVariant(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input CreateVariantInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.ProductID = id
	variant, err := h.service.AddVariant(r.Context(), input)
	if err != nil {
		h.fail(w, "add variant", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, variant)
}

func (h *Handler) updatePrices(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input UpdatePricesInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.UpdatePrices(r.Context(), id, input); err != nil {
		h.fail(w, "update prices", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if shared.Code(err) == "" {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
