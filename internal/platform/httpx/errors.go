// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// Transport level failures not owned by a domain module.
var (
	ErrDuplicate    = errors.New("duplicate entry")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var fields shared.FieldErrors
	switch {
	case errors.As(err, &fields):
		ProblemWith(w, ProblemDetail{
			Title:  "Validation Failed",
			Status: http.StatusBadRequest,
			Code:   shared.Code(err),
			Detail: err.Error(),
			Errors: fields,
		})
	case errors.Is(err, shared.ErrValidation):
		problemCode(w, http.StatusBadRequest, "Validation Failed", err)
	case errors.Is(err, shared.ErrNotFound):
		problemCode(w, http.StatusNotFound, "Not Found", err)
	case errors.Is(err, shared.ErrForbidden):
		problemCode(w, http.StatusForbidden, "Forbidden", err)
	case errors.Is(err, shared.ErrInvalidState):
		problemCode(w, http.StatusConflict, "Invalid State", err)
	case errors.Is(err, shared.ErrQuotaExceeded),
		errors.Is(err, shared.ErrSubscriptionExpired),
		errors.Is(err, shared.ErrSubscriptionNotActive),
		errors.Is(err, shared.ErrInsufficientStock):
		problemCode(w, http.StatusUnprocessableEntity, "Business Rule Violation", err)
	case errors.Is(err, ErrDuplicate), errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func problemCode(w http.ResponseWriter, status int, title string, err error) {
	ProblemWith(w, ProblemDetail{Title: title, Status: status, Code: shared.Code(err), Detail: err.Error()})
}
