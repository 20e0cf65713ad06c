package server

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/alfredjeanlab/castboard/internal/auth"
	"github.com/alfredjeanlab/castboard/internal/events"
	"github.com/alfredjeanlab/castboard/internal/model"
)

type loginRequest struct {
	Username   string `json:"username" validate:"required,max=64"`
	Password   string `json:"password" validate:"required,max=256"`
	DeviceName string `json:"device_name" validate:"max=64"`
}

type loginResponse struct {
	User        *model.AuthUser `json:"user"`
	CSRFToken   string          `json:"csrf_token"`
	Requires2FA bool            `json:"requires_2fa"`
}

type codeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// handleLogin handles POST /api/auth/login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.auth.Login(r.Context(), req.Username, req.Password, auth.Device{
		Name:      req.DeviceName,
		UserAgent: r.UserAgent(),
		IP:        clientIP(r),
	})
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		writeStoreError(w, r, "user", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    res.Token,
		Path:     "/",
		Expires:  res.Session.ExpiresAt,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	s.Notify(r.Context(), events.TopicAuthLogin, res.User.ID, res.User.Username, events.AuthLogin{
		UserID:   res.User.ID,
		Username: res.User.Username,
		DeviceID: res.Session.ID,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		User:        res.User,
		CSRFToken:   res.Session.CSRFToken,
		Requires2FA: res.Session.TwoFactorPending,
	})
}

// handleLogout handles POST /api/auth/logout.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, _ := authFrom(r.Context())
	if err := s.auth.Logout(r.Context(), sess); err != nil {
		writeStoreError(w, r, "session", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleMe handles GET /api/auth/me.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess, u := authFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user":         u,
		"session":      sess,
		"csrf_token":   sess.CSRFToken,
		"requires_2fa": sess.TwoFactorPending,
	})
}

// handleVerifyTwoFactor handles POST /api/auth/2fa/verify.
func (s *Server) handleVerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sess, u := authFrom(r.Context())
	if err := s.auth.VerifyTwoFactor(r.Context(), sess, u, req.Code); err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u, "requires_2fa": false})
}

// handleSetupTwoFactor handles POST /api/auth/2fa/setup.
func (s *Server) handleSetupTwoFactor(w http.ResponseWriter, r *http.Request) {
	_, u := authFrom(r.Context())
	secret, url, err := s.auth.SetupTOTP(r.Context(), u)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"secret": secret, "otpauth_url": url})
}

// handleEnableTwoFactor handles POST /api/auth/2fa/enable.
func (s *Server) handleEnableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	_, u := authFrom(r.Context())
	if err := s.auth.EnableTOTP(r.Context(), u, req.Code); err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"totp_enabled": true})
}

// handleDisableTwoFactor handles POST /api/auth/2fa/disable.
func (s *Server) handleDisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	_, u := authFrom(r.Context())
	if err := s.auth.DisableTOTP(r.Context(), u, req.Code); err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"totp_enabled": false})
}

// device is an AuthSession as listed to its owner.
type device struct {
	*model.AuthSession
	Current bool `json:"current"`
}

// handleListDevices handles GET /api/auth/sessions.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	sess, u := authFrom(r.Context())
	sessions, err := s.store.ListAuthSessions(r.Context(), u.ID)
	if err != nil {
		writeStoreError(w, r, "sessions", err)
		return
	}
	now := s.now()
	out := make([]device, 0, len(sessions))
	for _, d := range sessions {
		if d.Expired(now) {
			continue
		}
		out = append(out, device{AuthSession: d, Current: d.ID == sess.ID})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// handleRevokeDevice handles DELETE /api/auth/sessions/{id}.
func (s *Server) handleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	_, u := authFrom(r.Context())
	if err := s.store.DeleteAuthSession(r.Context(), u.ID, r.PathValue("id")); err != nil {
		writeStoreError(w, r, "session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRevokeOtherDevices handles POST /api/auth/sessions/revoke-others.
func (s *Server) handleRevokeOtherDevices(w http.ResponseWriter, r *http.Request) {
	sess, u := authFrom(r.Context())
	n, err := s.store.DeleteOtherAuthSessions(r.Context(), u.ID, sess.ID)
	if err != nil {
		writeStoreError(w, r, "sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCode):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrTOTPEnabled), errors.Is(err, auth.ErrTOTPDisabled), errors.Is(err, auth.ErrTOTPNotSetUp):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeStoreError(w, r, "user", err)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
