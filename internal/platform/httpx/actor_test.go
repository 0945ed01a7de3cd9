package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

func TestActorMiddleware(t *testing.T) {
	var got shared.Actor
	var found bool
	h := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, found = shared.ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "7")
	req.Header.Set(HeaderBranchID, "3")
	req.Header.Set(HeaderCapabilities, shared.CapInvoiceEditCompleted)
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, found)
	require.Equal(t, int64(7), got.UserID)
	require.Equal(t, int64(3), got.BranchID)
	require.True(t, got.Can(shared.CapInvoiceEditCompleted))

	found = false
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.False(t, found)
}

func TestRequireActorWritesUnauthorized(t *testing.T) {
	rec := httptest.NewRecorder()
	_, ok := RequireActor(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.False(t, ok)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
