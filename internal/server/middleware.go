package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/cors"

	"github.com/alfredjeanlab/castboard/internal/auth"
	"github.com/alfredjeanlab/castboard/internal/metrics"
	"github.com/alfredjeanlab/castboard/internal/model"
)

const (
	sessionCookie = "castboard_session"
	csrfHeader    = "X-CSRF-Token"
)

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// instrumentMiddleware logs each request and records it in the HTTP metrics,
// labeled by the mux pattern that matched.
func instrumentMiddleware(mux *http.ServeMux, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		duration := time.Since(start)

		route := routeLabel(mux, r)
		metrics.RecordHTTPRequest(r.Method, route, rec.status, duration)

		level := slog.LevelInfo
		if rec.status >= 500 {
			level = slog.LevelError
		}
		if route == "GET /metrics" || route == "GET /api/health" {
			level = slog.LevelDebug
		}
		slog.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", duration,
		)
	})
}

func routeLabel(mux *http.ServeMux, r *http.Request) string {
	if _, pattern := mux.Handler(r); pattern != "" {
		return pattern
	}
	return "unmatched"
}

// recoveryMiddleware catches panics in downstream handlers, logs the stack
// trace, and answers 500 instead of crashing the server.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rv := recover(); rv != nil {
				if rv == http.ErrAbortHandler {
					panic(rv)
				}
				slog.Error("panic recovered in HTTP handler",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", fmt.Sprintf("%v", rv),
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	if len(s.corsOrigins) == 0 {
		return next
	}
	return cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", csrfHeader, "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler(next)
}

func rateLimited(r *http.Request) {
	metrics.HTTPRateLimitHits.WithLabelValues(r.URL.Path).Inc()
	slog.Warn("rate limit exceeded", "path", r.URL.Path, "remote", r.RemoteAddr)
}

type authKey struct{}

type authInfo struct {
	session *model.AuthSession
	user    *model.AuthUser
}

func withAuth(ctx context.Context, sess *model.AuthSession, u *model.AuthUser) context.Context {
	return context.WithValue(ctx, authKey{}, &authInfo{session: sess, user: u})
}

func authFrom(ctx context.Context) (*model.AuthSession, *model.AuthUser) {
	if info, ok := ctx.Value(authKey{}).(*authInfo); ok {
		return info.session, info.user
	}
	return nil, nil
}

// publicRoute reports whether a request needs no session at all.
func publicRoute(r *http.Request) bool {
	switch {
	case !strings.HasPrefix(r.URL.Path, "/api/"):
		return true
	case r.Method == http.MethodOptions:
		return true
	case r.Method == http.MethodGet && r.URL.Path == "/api/health":
		return true
	case r.Method == http.MethodPost && r.URL.Path == "/api/auth/login":
		return true
	}
	return false
}

// pendingAllowed lists the routes a two-factor pending session may use.
func pendingAllowed(r *http.Request) bool {
	switch r.URL.Path {
	case "/api/auth/2fa/verify", "/api/auth/logout", "/api/auth/me":
		return true
	}
	return false
}

func unsafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// authMiddleware resolves the session cookie. Everything under /api except
// health and login needs a fully authenticated session; unsafe methods also
// need the session's CSRF token in the X-CSRF-Token header.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicRoute(r) {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(sessionCookie)
		if err != nil || cookie.Value == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		sess, u, err := s.auth.Authenticate(r.Context(), cookie.Value)
		switch {
		case errors.Is(err, auth.ErrTwoFactorRequired):
			if !pendingAllowed(r) {
				writeError(w, http.StatusUnauthorized, "two-factor verification required")
				return
			}
		case errors.Is(err, auth.ErrUnauthenticated):
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		case err != nil:
			slog.Error("session lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		if unsafeMethod(r.Method) && !auth.CheckCSRF(sess, r.Header.Get(csrfHeader)) {
			writeError(w, http.StatusForbidden, "missing or invalid CSRF token")
			return
		}

		next.ServeHTTP(w, r.WithContext(withAuth(r.Context(), sess, u)))
	})
}
