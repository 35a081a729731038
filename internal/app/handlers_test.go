package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch-go/internal/auth"
	"sitewatch-go/internal/monitor"
	"sitewatch-go/internal/storage"
)

func serve(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHandlers_Health(t *testing.T) {
	app := newTestApp(t, newTestConfig(t))

	rr := serve(t, app.routes(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "ok", decode[map[string]string](t, rr)["status"])
}

func TestHandlers_WhoAmI(t *testing.T) {
	app := newTestApp(t, newTestConfig(t))
	h := app.routes()

	rr := serve(t, h, http.MethodGet, "/api/whoami", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, auth.Identity{}, decode[auth.Identity](t, rr))

	seedSession(t, app, "alice")
	rr = serve(t, h, http.MethodGet, "/api/whoami", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, auth.Identity{User: "alice", Authenticated: true}, decode[auth.Identity](t, rr))
}

func TestHandlers_Sites(t *testing.T) {
	app := newTestApp(t, newTestConfig(t))
	h := app.routes()

	steps := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
	}{
		{"add", http.MethodPost, "/api/sites", `{"url":"https://example.com","authenticated":true}`, http.StatusCreated},
		{"add duplicate", http.MethodPost, "/api/sites", `{"url":"https://example.com"}`, http.StatusConflict},
		{"add invalid url", http.MethodPost, "/api/sites", `{"url":"ftp://example.com"}`, http.StatusBadRequest},
		{"add bad body", http.MethodPost, "/api/sites", `{`, http.StatusBadRequest},
		{"remove without url", http.MethodDelete, "/api/sites", "", http.StatusBadRequest},
		{"remove unknown", http.MethodDelete, "/api/sites?url=" + url.QueryEscape("https://other.example"), "", http.StatusNotFound},
		{"wrong method", http.MethodPut, "/api/sites", "", http.StatusMethodNotAllowed},
	}
	for _, step := range steps {
		rr := serve(t, h, step.method, step.target, step.body)
		assert.Equal(t, step.wantStatus, rr.Code, "%s: %s", step.name, rr.Body.String())
	}

	rr := serve(t, h, http.MethodGet, "/api/sites", "")
	require.Equal(t, http.StatusOK, rr.Code)
	sites := decode[[]storage.Site](t, rr)
	require.Len(t, sites, 1)
	assert.Equal(t, "https://example.com", sites[0].URL)
	assert.True(t, sites[0].Authenticated)

	rr = serve(t, h, http.MethodDelete, "/api/sites?url="+url.QueryEscape("https://example.com"), "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = serve(t, h, http.MethodGet, "/api/sites", "")
	assert.Empty(t, decode[[]storage.Site](t, rr))
}

func TestHandlers_CheckAndStatus(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer up.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	app := newTestApp(t, newTestConfig(t))
	h := app.routes()
	ctx := context.Background()
	_, err := app.Monitor.Add(ctx, up.URL, false)
	require.NoError(t, err)
	_, err = app.Monitor.Add(ctx, down.URL, false)
	require.NoError(t, err)

	rr := serve(t, h, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[[]monitor.Status](t, rr))

	rr = serve(t, h, http.MethodPost, "/api/check", "")
	require.Equal(t, http.StatusOK, rr.Code)
	checked := decode[[]monitor.Status](t, rr)
	require.Len(t, checked, 2)

	byURL := map[string]monitor.Status{}
	for _, s := range checked {
		byURL[s.URL] = s
	}
	assert.True(t, byURL[up.URL].Online)
	assert.False(t, byURL[down.URL].Online)
	assert.Equal(t, http.StatusServiceUnavailable, byURL[down.URL].StatusCode)

	rr = serve(t, h, http.MethodGet, "/api/status", "")
	assert.Len(t, decode[[]monitor.Status](t, rr), 2)
}

func TestHandlers_Token(t *testing.T) {
	app := newTestApp(t, newTestConfig(t))
	h := app.routes()

	rr := serve(t, h, http.MethodGet, "/api/token", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "not logged in", decode[map[string]string](t, rr)["error"])

	seedSession(t, app, "alice")
	user, err := app.Auth.Resume(context.Background())
	require.NoError(t, err)
	require.Equal(t, "alice", user)

	rr = serve(t, h, http.MethodGet, "/api/token", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, tokenResponse{User: "alice", AccessToken: "AT-alice"}, decode[tokenResponse](t, rr))
}

func TestHandlers_Photo(t *testing.T) {
	var status atomic.Int32
	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1.0/me/photo/$value", r.URL.Path)
		assert.Equal(t, "Bearer AT-alice", r.Header.Get("Authorization"))
		if code := int(status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png"))
	}))
	defer graphServer.Close()

	cfg := newTestConfig(t)
	cfg.Auth.GraphURL = graphServer.URL
	app := newTestApp(t, cfg)
	h := app.routes()

	rr := serve(t, h, http.MethodGet, "/api/me/photo", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	seedSession(t, app, "alice")
	_, err := app.Auth.Resume(context.Background())
	require.NoError(t, err)

	status.Store(http.StatusOK)
	rr = serve(t, h, http.MethodGet, "/api/me/photo", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "data:image/png;base64,cG5n", decode[map[string]string](t, rr)["photo"])

	status.Store(http.StatusNotFound)
	rr = serve(t, h, http.MethodGet, "/api/me/photo", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlers_Stats(t *testing.T) {
	key, err := storage.GenerateKey()
	require.NoError(t, err)

	cfg := newTestConfig(t)
	cfg.Store.Backend = "sqlite"
	cfg.Store.EncryptionKey = key
	cfg.Monitor.Schedule = "0 * * * *"
	app := newTestApp(t, cfg)
	_, err = app.Monitor.Add(context.Background(), "https://example.com", false)
	require.NoError(t, err)

	rr := serve(t, app.routes(), http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decode[statsResponse](t, rr)
	assert.Equal(t, 1, resp.Worker.ActiveWorkers)
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, checkJobName, resp.Jobs[0].Name)
	require.NotNil(t, resp.Store)
	assert.Equal(t, int64(1), resp.Store.Sites)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{monitor.ErrInvalidURL, http.StatusBadRequest},
		{monitor.ErrDuplicateSite, http.StatusConflict},
		{monitor.ErrSiteNotFound, http.StatusNotFound},
		{auth.ErrNoStoredToken, http.StatusUnauthorized},
		{auth.ErrMissingRefreshToken, http.StatusUnauthorized},
		{auth.ErrProvider, http.StatusBadGateway},
		{auth.ErrNetwork, http.StatusBadGateway},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
