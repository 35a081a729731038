package app

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"sitewatch-go/internal/auth"
	"sitewatch-go/internal/graph"
	"sitewatch-go/internal/monitor"
	"sitewatch-go/internal/scheduler"
	"sitewatch-go/internal/storage"
	"sitewatch-go/internal/worker"
)

// routes builds the local API.
func (a *Application) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("GET /api/whoami", a.handleWhoAmI)
	mux.HandleFunc("GET /api/stats", a.handleStats)

	// Sites
	mux.HandleFunc("GET /api/sites", a.handleListSites)
	mux.HandleFunc("POST /api/sites", a.handleAddSite)
	mux.HandleFunc("DELETE /api/sites", a.handleRemoveSite)
	mux.HandleFunc("POST /api/check", a.handleCheck)
	mux.HandleFunc("GET /api/status", a.handleStatus)

	// Session-only
	mux.Handle("GET /api/token", a.requireSession(http.HandlerFunc(a.handleToken)))
	mux.Handle("GET /api/me/photo", a.requireSession(http.HandlerFunc(a.handlePhoto)))

	return a.logRequests(mux)
}

func (a *Application) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *Application) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	identity, err := a.Auth.WhoAmI(r.Context())
	if err != nil {
		a.writeFailure(w, "whoami", err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

type statsResponse struct {
	Worker worker.PoolStats `json:"worker"`
	Jobs   []scheduler.Job  `json:"jobs"`
	Store  *storage.Stats   `json:"store,omitempty"`
}

func (a *Application) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Worker: a.WorkerPool.Stats(),
		Jobs:   a.Scheduler.Jobs(),
	}
	if a.DB != nil {
		stats, err := a.DB.GetStats(r.Context())
		if err != nil {
			a.writeFailure(w, "store stats", err)
			return
		}
		resp.Store = stats
	}
	writeJSON(w, http.StatusOK, resp)
}

//
// Site Handlers
//

type addSiteRequest struct {
	URL           string `json:"url"`
	Authenticated bool   `json:"authenticated"`
}

func (a *Application) handleListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := a.Monitor.List(r.Context())
	if err != nil {
		a.writeFailure(w, "list sites", err)
		return
	}
	writeJSON(w, http.StatusOK, sites)
}

func (a *Application) handleAddSite(w http.ResponseWriter, r *http.Request) {
	var req addSiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	site, err := a.Monitor.Add(r.Context(), req.URL, req.Authenticated)
	if err != nil {
		a.writeFailure(w, "add site", err)
		return
	}
	writeJSON(w, http.StatusCreated, site)
}

func (a *Application) handleRemoveSite(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}

	if err := a.Monitor.Remove(r.Context(), url); err != nil {
		a.writeFailure(w, "remove site", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Application) handleCheck(w http.ResponseWriter, r *http.Request) {
	statuses, err := a.Monitor.CheckAll(r.Context())
	if err != nil {
		a.writeFailure(w, "check sites", err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (a *Application) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Monitor.Statuses())
}

//
// Session Handlers
//

type tokenResponse struct {
	User        string `json:"user"`
	AccessToken string `json:"access_token"`
}

func (a *Application) handleToken(w http.ResponseWriter, r *http.Request) {
	user, _ := getUserIDFromContext(r)

	token, err := a.Auth.AccessToken(r.Context(), user)
	if err != nil {
		a.writeFailure(w, "access token", err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{User: user, AccessToken: token})
}

func (a *Application) handlePhoto(w http.ResponseWriter, r *http.Request) {
	user, _ := getUserIDFromContext(r)

	photo, err := a.Graph.Photo(r.Context(), user)
	if err != nil {
		a.writeFailure(w, "profile photo", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user": user, "photo": photo})
}

//
// Helpers
//

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, monitor.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, monitor.ErrDuplicateSite):
		return http.StatusConflict
	case errors.Is(err, monitor.ErrSiteNotFound), errors.Is(err, graph.ErrNoPhoto):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrNoStoredToken), errors.Is(err, auth.ErrMissingRefreshToken):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrProvider), errors.Is(err, auth.ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (a *Application) writeFailure(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.Logger.Error("Request failed", zap.String("op", op), zap.Error(err))
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
