package subscriptions

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/branch-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// Handler exposes plan, subscription and redemption endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the subscriptions handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers subscription routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/plans", h.listPlans)
	r.Post("/plans", h.createPlan)
	r.Get("/plans/{planID}", h.getPlan)
	r.Post("/", h.subscribe)
	r.Get("/lookup", h.lookup)
	r.Post("/redemptions", h.redeem)
	r.Route("/{subscriptionID}", func(r chi.Router) {
		r.Get("/", h.check)
		r.Get("/redemptions", h.history)
		r.Put("/cancel", h.cancel)
	})
}

func (h *Handler) listPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.service.Plans(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		h.fail(w, "list plans", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"plans": plans})
}

func (h *Handler) createPlan(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var req CreatePlanRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	plan, err := h.service.CreatePlan(r.Context(), req, actor)
	if err != nil {
		h.fail(w, "create plan", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, plan)
}

func (h *Handler) getPlan(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "planID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	plan, err := h.service.Plan(r.Context(), id)
	if err != nil {
		h.fail(w, "get plan", err)
		return
	}
	httpx.JSON(w, http.StatusOK, plan)
}

func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var req SubscribeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sub, err := h.service.Subscribe(r.Context(), req, actor)
	if err != nil {
		h.fail(w, "subscribe", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sub)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Lookup(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		h.fail(w, "lookup subscription", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "subscriptionID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Check(r.Context(), id)
	if err != nil {
		h.fail(w, "check subscription", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "subscriptionID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	redemptions, err := h.service.History(r.Context(), id)
	if err != nil {
		h.fail(w, "redemption history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"redemptions": redemptions})
}

func (h *Handler) redeem(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var req RedeemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.BranchID == 0 {
		req.BranchID = actor.BranchID
	}
	summary, err := h.service.Redeem(r.Context(), req, actor)
	if err != nil {
		h.fail(w, "redeem", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, summary)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, err := httpx.IDParam(r, "subscriptionID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sub, err := h.service.Cancel(r.Context(), id, actor)
	if err != nil {
		h.fail(w, "cancel subscription", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sub)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if shared.Code(err) == "" {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
