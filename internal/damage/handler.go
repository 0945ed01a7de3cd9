package damage

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/branch-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// Handler exposes damage endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the damage handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers damage routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.report)
	r.Get("/summary", h.summary)
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var req ReportRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.BranchID == 0 {
		req.BranchID = actor.BranchID
	}
	rec, err := h.service.Report(r.Context(), req, actor)
	if err != nil {
		h.fail(w, "report damage", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	page, err := shared.ParsePagination(q.Get("page"), q.Get("per_page"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Limit, filter.Offset = page.Limit, page.Offset
	records, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list damage", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": records, "page": page.Page, "per_page": page.PerPage})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	summary, err := h.service.Summary(r.Context(), filter)
	if err != nil {
		h.fail(w, "damage summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

// parseFilter reads branch_id, product_id and the inclusive date range
// from/to (YYYY-MM-DD).
func parseFilter(r *http.Request) (Filter, error) {
	var (
		filter Filter
		err    error
	)
	if filter.BranchID, err = httpx.QueryInt64(r, "branch_id"); err != nil {
		return Filter{}, err
	}
	if filter.ProductID, err = httpx.QueryInt64(r, "product_id"); err != nil {
		return Filter{}, err
	}
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return Filter{}, shared.Invalid("invalid from")
		}
		filter.From = &from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return Filter{}, shared.Invalid("invalid to")
		}
		to = to.AddDate(0, 0, 1)
		filter.To = &to
	}
	return filter, nil
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if shared.Code(err) == "" {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
