package sales

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/branch-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// HeaderIdempotencyKey lets clients retry invoice creation safely.
const HeaderIdempotencyKey = "Idempotency-Key"

// Handler exposes invoice endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the sales handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Delete("/returns/{returnID}", h.deleteReturn)
	r.Route("/{invoiceID}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Put("/", h.edit)
		r.Put("/cancel", h.cancel)
		r.Put("/status", h.updateStatus)
		r.Get("/edits", h.listEdits)
		r.Get("/returns", h.listReturns)
		r.Post("/returns", h.recordReturn)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	branchID, err := httpx.QueryInt64(r, "branch_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := shared.ParsePagination(q.Get("page"), q.Get("per_page"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	invoices, err := h.service.ListInvoices(r.Context(), ListFilter{
		BranchID: branchID,
		Status:   Status(q.Get("status")),
		Limit:    page.Limit,
		Offset:   page.Offset,
	})
	if err != nil {
		h.fail(w, "list invoices", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": invoices, "page": page.Page, "per_page": page.PerPage})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var req CreateInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.BranchID == 0 {
		req.BranchID = actor.BranchID
	}
	req.IdempotencyKey = r.Header.Get(HeaderIdempotencyKey)
	result, err := h.service.CreateInvoice(r.Context(), req, actor)
	if err != nil {
		h.fail(w, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "invoiceID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) edit(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, err := httpx.IDParam(r, "invoiceID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req EditRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.EditInvoice(r.Context(), id, req, actor)
	if err != nil {
		h.fail(w, "edit invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, err := httpx.IDParam(r, "invoiceID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req CancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.CancelInvoice(r.Context(), id, req, actor)
	if err != nil {
		h.fail(w, "cancel invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, err := httpx.IDParam(r, "invoiceID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req StatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.UpdateStatus(r.Context(), id, req, actor); err != nil {
		h.fail(w, "update invoice status", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listEdits(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "invoiceID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	edits, err := h.service.ListEdits(r.Context(), id)
	if err != nil {
		h.fail(w, "list invoice edits", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"edits": edits})
}

func (h *Handler) listReturns(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "invoiceID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	returns, err := h.service.ListReturns(r.Context(), id)
	if err != nil {
		h.fail(w, "list returns", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"returns": returns})
}

func (h *Handler) recordReturn(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, err := httpx.IDParam(r, "invoiceID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req ReturnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	req.InvoiceID = id
	ret, err := h.service.RecordReturn(r.Context(), req, actor)
	if err != nil {
		h.fail(w, "record return", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ret)
}

func (h *Handler) deleteReturn(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, err := httpx.IDParam(r, "returnID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteReturn(r.Context(), id, actor); err != nil {
		h.fail(w, "delete return", err)
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
