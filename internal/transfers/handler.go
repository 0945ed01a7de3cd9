package transfers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/branch-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// Handler exposes transfer endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the transfer handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/in-transit", h.inTransit)
	r.Route("/{transferID}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Delete("/", h.delete)
		r.Get("/history", h.history)
		r.Put("/approve", h.approve)
		r.Put("/reject", h.reject)
		r.Put("/pickup", h.pickup)
		r.Put("/receive", h.receive)
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
	transfers, err := h.service.List(r.Context(), ListRequest{
		BranchID:  branchID,
		Status:    Status(q.Get("status")),
		Direction: Direction(q.Get("direction")),
		Limit:     page.Limit,
		Offset:    page.Offset,
	})
	if err != nil {
		h.fail(w, "list transfers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transfers": transfers, "page": page.Page, "per_page": page.PerPage})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.ToBranchID == 0 {
		req.ToBranchID = actor.BranchID
	}
	t, err := h.service.Create(r.Context(), req, actor)
	if err != nil {
		h.fail(w, "create transfer", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) inTransit(w http.ResponseWriter, r *http.Request) {
	branchID, err := httpx.QueryInt64(r, "branch_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.InTransitReport(r.Context(), branchID)
	if err != nil {
		h.fail(w, "in-transit report", err)
		return
	}
	var total int64
	for _, item := range items {
		total += item.Outstanding
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "outstanding": total})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "transferID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get transfer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "transferID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	logs, err := h.service.History(r.Context(), id)
	if err != nil {
		h.fail(w, "transfer history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": logs})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, err := httpx.IDParam(r, "transferID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id, actor); err != nil {
		h.fail(w, "delete transfer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	h.transition(w, r, "approve transfer", &req, func(actor shared.Actor, id int64) (Transfer, error) {
		return h.service.Approve(r.Context(), id, req, actor)
	})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	h.transition(w, r, "reject transfer", &req, func(actor shared.Actor, id int64) (Transfer, error) {
		return h.service.Reject(r.Context(), id, req, actor)
	})
}

func (h *Handler) pickup(w http.ResponseWriter, r *http.Request) {
	var req PickupRequest
	h.transition(w, r, "pick up transfer", &req, func(actor shared.Actor, id int64) (Transfer, error) {
		return h.service.Pickup(r.Context(), id, req, actor)
	})
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	var req ReceiveRequest
	h.transition(w, r, "receive transfer", &req, func(actor shared.Actor, id int64) (Transfer, error) {
		return h.service.Receive(r.Context(), id, req, actor)
	})
}

// transition decodes an optional body into req and runs fn. An empty body is
// accepted for approve, pickup and receive.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op string, req any, fn func(shared.Actor, int64) (Transfer, error)) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, err := httpx.IDParam(r, "transferID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	t, err := fn(actor, id)
	if err != nil {
		h.fail(w, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if shared.Code(err) == "" {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
