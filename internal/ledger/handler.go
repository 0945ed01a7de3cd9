package ledger

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/branch-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// Handler exposes ledger endpoints.
type Handler struct {
	logger *slog.Logger
	ledger *Ledger
}

// NewHandler builds the ledger HTTP handler.
func NewHandler(logger *slog.Logger, ledger *Ledger) *Handler {
	return &Handler{logger: logger, ledger: ledger}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listLines)
	r.Get("/quantity", h.quantityOf)
	r.Get("/{lineID}", h.getLine)
	r.Get("/{lineID}/movements", h.listMovements)
	r.Post("/in", h.stockIn)
	r.Group(func(r chi.Router) {
		r.Use(httpx.RequireCapability(shared.CapStockCorrect))
		r.Post("/adjust", h.adjust)
		r.Put("/absolute", h.setAbsolute)
	})
}

type adjustRequest struct {
	Key   Key    `json:"key"`
	Delta int64  `json:"delta"`
	Note  string `json:"note"`
}

func (h *Handler) listLines(w http.ResponseWriter, r *http.Request) {
	branchID, err := httpx.QueryInt64(r, "branch_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	productID, err := httpx.QueryInt64(r, "product_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := LineFilter{BranchID: branchID, ProductID: productID}
	if raw := r.URL.Query().Get("max_qty"); raw != "" {
		maxQty, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("invalid max_qty"))
			return
		}
		filter.MaxQuantity = &maxQty
	}
	lines, err := h.ledger.Lines(r.Context(), filter)
	if err != nil {
		h.fail(w, "list stock lines", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (h *Handler) quantityOf(w http.ResponseWriter, r *http.Request) {
	var key Key
	var err error
	if key.ProductID, err = httpx.QueryInt64(r, "product_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if key.VariantID, err = httpx.QueryInt64(r, "variant_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if key.BranchID, err = httpx.QueryInt64(r, "branch_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	qty, err := h.ledger.QuantityOf(r.Context(), key)
	if err != nil {
		h.fail(w, "quantity of", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"key": key, "quantity": qty})
}

func (h *Handler) getLine(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "lineID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	line, err := h.ledger.Line(r.Context(), id)
	if err != nil {
		h.fail(w, "get stock line", err)
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "lineID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	movements, err := h.ledger.Movements(r.Context(), MovementFilter{LineID: id})
	if err != nil {
		h.fail(w, "list movements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) stockIn(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var input StockInInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.ActorID = actor.UserID
	line, err := h.ledger.StockIn(r.Context(), input)
	if err != nil {
		h.fail(w, "stock in", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, line)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	qty, err := h.ledger.Adjust(r.Context(), AdjustInput{Key: req.Key, Delta: req.Delta, Reason: ReasonManual, ActorID: actor.UserID, Note: req.Note})
	if err != nil {
		h.fail(w, "adjust stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"key": req.Key, "quantity": qty})
}

func (h *Handler) setAbsolute(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var input SetAbsoluteInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.ActorID = actor.UserID
	line, err := h.ledger.SetAbsolute(r.Context(), input)
	if err != nil {
		h.fail(w, "set absolute", err)
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if shared.Code(err) == "" {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
