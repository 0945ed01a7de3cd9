package httpx

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// Headers set by the gateway that fronts the branch/user directory.
const (
	HeaderUserID       = "X-User-ID"
	HeaderBranchID     = "X-Branch-ID"
	HeaderUserName     = "X-User-Name"
	HeaderCapabilities = "X-Capabilities"
)

// ActorMiddleware reads the actor headers into the request context. Requests
// without a valid user id pass through without an actor.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.Header.Get(HeaderUserID), 10, 64)
		if err != nil || userID <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		branchID, _ := strconv.ParseInt(r.Header.Get(HeaderBranchID), 10, 64)
		actor := shared.Actor{
			UserID:       userID,
			BranchID:     branchID,
			Name:         r.Header.Get(HeaderUserName),
			Capabilities: shared.ParseCapabilities(r.Header.Get(HeaderCapabilities)),
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

// RequireActor extracts the actor or writes a 401 problem and reports false.
func RequireActor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		RespondError(w, ErrUnauthorized)
		return shared.Actor{}, false
	}
	return actor, true
}

// RequireCapability rejects requests whose actor lacks capability.
func RequireCapability(capability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := RequireActor(w, r)
			if !ok {
				return
			}
			if !actor.Can(capability) {
				RespondError(w, fmt.Errorf("missing capability %s: %w", capability, shared.ErrForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
