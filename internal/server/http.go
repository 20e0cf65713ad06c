package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alfredjeanlab/castboard/internal/model"
)

// NewHTTPHandler returns an http.Handler with all routes registered and the
// middleware chain applied.
func (s *Server) NewHTTPHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Auth
	mux.Handle("POST /api/auth/login", s.loginLimiter(http.HandlerFunc(s.handleLogin)))
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/me", s.handleMe)
	mux.HandleFunc("POST /api/auth/2fa/verify", s.handleVerifyTwoFactor)
	mux.HandleFunc("POST /api/auth/2fa/setup", s.handleSetupTwoFactor)
	mux.HandleFunc("POST /api/auth/2fa/enable", s.handleEnableTwoFactor)
	mux.HandleFunc("POST /api/auth/2fa/disable", s.handleDisableTwoFactor)
	mux.HandleFunc("GET /api/auth/sessions", s.handleListDevices)
	mux.HandleFunc("DELETE /api/auth/sessions/{id}", s.handleRevokeDevice)
	mux.HandleFunc("POST /api/auth/sessions/revoke-others", s.handleRevokeOtherDevices)

	// Lookup and dashboard
	mux.HandleFunc("POST /api/lookup", s.handleLookup)
	mux.HandleFunc("GET /api/hudson", s.handleDashboard)

	// Persons
	mux.HandleFunc("GET /api/person/all", s.handleListPersons)
	mux.HandleFunc("GET /api/person/{id}", s.handleGetPerson)
	mux.HandleFunc("PATCH /api/person/{id}", s.handleUpdatePerson)
	mux.HandleFunc("DELETE /api/person/{id}", s.handleDeletePerson)
	mux.HandleFunc("GET /api/person/{id}/snapshots", s.handleListSnapshots)
	mux.HandleFunc("GET /api/person/{id}/interactions", s.handlePersonInteractions)
	mux.HandleFunc("POST /api/person/{id}/interactions", s.handleAddInteraction)
	mux.HandleFunc("GET /api/person/{id}/follow-history", s.handlePersonFollowHistory)
	mux.HandleFunc("GET /api/person/{id}/images", s.handleListImages)
	mux.HandleFunc("POST /api/person/{id}/images", s.handleUploadImage)
	mux.HandleFunc("DELETE /api/person/{id}/images/{image_id}", s.handleDeleteImage)

	// Sessions
	mux.HandleFunc("POST /api/session/start", s.handleStartSession)
	mux.HandleFunc("POST /api/session/end", s.handleEndSession)
	mux.HandleFunc("GET /api/session/current", s.handleCurrentSession)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)

	// Events and presence
	mux.HandleFunc("GET /api/events/recent", s.handleRecentEvents)
	mux.HandleFunc("GET /api/events/stream", s.handleEventStream)
	mux.HandleFunc("GET /api/room/presence", s.handlePresence)

	// Broadcasts
	mux.HandleFunc("GET /api/broadcasts", s.handleListBroadcasts)
	mux.HandleFunc("GET /api/broadcasts/{id}", s.handleGetBroadcast)
	mux.HandleFunc("POST /api/broadcasts/{id}/summary/generate", s.handleGenerateSummary)

	// Followers
	mux.HandleFunc("GET /api/followers/trends", s.handleFollowerTrends)
	mux.HandleFunc("GET /api/followers/history", s.handleFollowerHistory)
	mux.HandleFunc("POST /api/followers/import", s.handleFollowerImport)

	// Settings
	mux.HandleFunc("GET /api/settings", s.handleListSettings)
	mux.HandleFunc("GET /api/settings/{key}", s.handleGetSetting)
	mux.HandleFunc("PUT /api/settings/{key}", s.handleSetSetting)
	mux.HandleFunc("DELETE /api/settings/{key}", s.handleDeleteSetting)

	// Media
	mux.HandleFunc("GET /api/media/favorites", s.handleListFavorites)
	mux.HandleFunc("POST /api/media/favorites/toggle", s.handleToggleFavorite)
	mux.HandleFunc("GET /api/media/favorites/{type}/{id}", s.handleGetFavorite)
	mux.HandleFunc("GET /api/media/images/{id}/url", s.handleImageURL)

	var h http.Handler = mux
	h = s.authMiddleware(h)
	h = s.corsMiddleware(h)
	h = recoveryMiddleware(h)
	h = instrumentMiddleware(mux, h)
	return h
}

func (s *Server) loginLimiter(next http.Handler) http.Handler {
	if s.loginRateLimit <= 0 {
		return next
	}
	return httprate.Limit(s.loginRateLimit, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			rateLimited(r)
			writeError(w, http.StatusTooManyRequests, "too many login attempts, try again later")
		}),
	)(next)
}

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// listResponse is the envelope for paginated lists.
type listResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func writeList[T any](w http.ResponseWriter, items []T, total int, page model.Page) {
	if items == nil {
		items = []T{}
	}
	page = page.Normalize()
	writeJSON(w, http.StatusOK, listResponse[T]{Items: items, Total: total, Limit: page.Limit, Offset: page.Offset})
}

// parsePage reads limit and offset query parameters. Malformed or negative
// values are rejected; oversized limits are clamped.
func parsePage(r *http.Request) (model.Page, error) {
	var p model.Page
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, inputError("limit must be a non-negative integer")
		}
		p.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, inputError("offset must be a non-negative integer")
		}
		p.Offset = n
	}
	return p.Normalize(), nil
}
