package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"sitewatch-go/internal/session"
)

// nextHandler is a dummy handler that checks for a user ID in the context.
func nextHandler(t *testing.T, expectedUserID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := getUserIDFromContext(r)
		require.True(t, ok, "user ID not found in context")
		assert.Equal(t, expectedUserID, userID)
		fmt.Fprintln(w, "next handler called")
	}
}

func TestRequireSessionMiddleware(t *testing.T) {
	sessions := session.NewManager(context.Background(), zap.NewNop())
	defer sessions.Close()
	app := &Application{Sessions: sessions, Logger: zap.NewNop()}

	t.Run("without session", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/protected", nil)
		rr := httptest.NewRecorder()

		app.requireSession(nextHandler(t, "")).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.JSONEq(t, `{"error":"not logged in"}`, rr.Body.String())
	})

	t.Run("with session", func(t *testing.T) {
		sessions.Start("user-123", func(ctx context.Context, _ string) { <-ctx.Done() })

		req := httptest.NewRequest("GET", "/protected", nil)
		rr := httptest.NewRecorder()

		app.requireSession(nextHandler(t, "user-123")).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "next handler called\n", rr.Body.String())
	})

	t.Run("after session stopped", func(t *testing.T) {
		sessions.Stop("user-123")

		req := httptest.NewRequest("GET", "/protected", nil)
		rr := httptest.NewRecorder()

		app.requireSession(nextHandler(t, "")).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestGetUserIDFromContext(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	_, ok := getUserIDFromContext(req)
	assert.False(t, ok)

	userID, ok := getUserIDFromContext(withUserID(req, "alice"))
	assert.True(t, ok)
	assert.Equal(t, "alice", userID)
}

func TestLogRequests(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	app := &Application{Logger: zap.New(core)}

	h := app.logRequests(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/brew", nil))

	entries := logs.FilterMessage("HTTP request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "GET", fields["method"])
	assert.Equal(t, "/brew", fields["path"])
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
}
