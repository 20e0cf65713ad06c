package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alfredjeanlab/castboard/internal/idgen"
	"github.com/alfredjeanlab/castboard/internal/model"
	"github.com/alfredjeanlab/castboard/internal/store"
)

// touchInterval limits how often an active session's last_seen_at is written.
const touchInterval = time.Minute

// Device describes the client a session is created for.
type Device struct {
	Name      string
	UserAgent string
	IP        string
}

// LoginResult is returned by a successful password check. Token is the
// cookie value; it is not recoverable from storage.
type LoginResult struct {
	User    *model.AuthUser
	Session *model.AuthSession
	Token   string
}

// Manager runs the login, session and two-factor flows on top of an AuthStore.
type Manager struct {
	store store.AuthStore
	ttl   time.Duration
	now   func() time.Time
}

// NewManager creates a Manager whose sessions live for ttl.
func NewManager(s store.AuthStore, ttl time.Duration) *Manager {
	return &Manager{store: s, ttl: ttl, now: time.Now}
}

// CreateUser adds an operator account.
func (m *Manager) CreateUser(ctx context.Context, username, password string) (*model.AuthUser, error) {
	username = model.NormalizeUsername(username)
	if !model.ValidUsername(username) {
		return nil, fmt.Errorf("invalid username %q", username)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &model.AuthUser{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
	}
	if err := m.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login checks the password and opens a new device session. When the user has
// TOTP enabled the session starts out two-factor pending.
func (m *Manager) Login(ctx context.Context, username, password string, dev Device) (*LoginResult, error) {
	u, err := m.store.GetUserByUsername(ctx, model.NormalizeUsername(username))
	if errors.Is(err, sql.ErrNoRows) {
		CheckPassword(dummyHash(), password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !CheckPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	id, err := idgen.GenerateWithPrefix(idgen.PrefixDevice)
	if err != nil {
		return nil, err
	}
	secret, err := idgen.Secret()
	if err != nil {
		return nil, err
	}
	csrf, err := idgen.Secret()
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	sess := &model.AuthSession{
		ID:               id,
		UserID:           u.ID,
		TokenHash:        HashToken(secret),
		CSRFToken:        csrf,
		DeviceName:       deviceName(dev),
		UserAgent:        dev.UserAgent,
		IP:               dev.IP,
		TwoFactorPending: u.TOTPEnabled,
		CreatedAt:        now,
		LastSeenAt:       now,
		ExpiresAt:        now.Add(m.ttl),
	}
	if err := m.store.CreateAuthSession(ctx, sess); err != nil {
		return nil, err
	}
	if err := m.store.TouchUserLogin(ctx, u.ID, now); err != nil {
		slog.Warn("auth: failed to record login time", "user", u.Username, "err", err)
	} else {
		u.LastLoginAt = &now
	}

	return &LoginResult{User: u, Session: sess, Token: FormatSessionToken(id, secret)}, nil
}

// Authenticate resolves a cookie value to its session and user. Expired
// sessions are deleted. A two-factor pending session is returned together
// with ErrTwoFactorRequired so callers can allow the verify endpoint.
func (m *Manager) Authenticate(ctx context.Context, token string) (*model.AuthSession, *model.AuthUser, error) {
	id, secret, ok := ParseSessionToken(token)
	if !ok {
		return nil, nil, ErrUnauthenticated
	}

	sess, err := m.store.GetAuthSession(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load session: %w", err)
	}
	if !TokensEqual(sess.TokenHash, HashToken(secret)) {
		return nil, nil, ErrUnauthenticated
	}

	now := m.now().UTC()
	if sess.Expired(now) {
		if err := m.store.DeleteAuthSession(ctx, sess.UserID, sess.ID); err != nil && !errors.Is(err, sql.ErrNoRows) {
			slog.Warn("auth: failed to delete expired session", "session", sess.ID, "err", err)
		}
		return nil, nil, ErrUnauthenticated
	}

	u, err := m.store.GetUser(ctx, sess.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load user: %w", err)
	}

	if now.Sub(sess.LastSeenAt) >= touchInterval {
		if err := m.store.TouchAuthSession(ctx, sess.ID, now); err == nil {
			sess.LastSeenAt = now
		}
	}

	if sess.TwoFactorPending {
		return sess, u, ErrTwoFactorRequired
	}
	return sess, u, nil
}

// CheckCSRF reports whether header carries the session's CSRF token.
func CheckCSRF(sess *model.AuthSession, header string) bool {
	return sess != nil && TokensEqual(sess.CSRFToken, header)
}

// Logout ends a session.
func (m *Manager) Logout(ctx context.Context, sess *model.AuthSession) error {
	return m.store.DeleteAuthSession(ctx, sess.UserID, sess.ID)
}

// VerifyTwoFactor completes a pending login with a TOTP code.
func (m *Manager) VerifyTwoFactor(ctx context.Context, sess *model.AuthSession, u *model.AuthUser, code string) error {
	if !sess.TwoFactorPending {
		return nil
	}
	if !u.TOTPEnabled {
		return ErrTOTPDisabled
	}
	if !ValidateTOTP(code, u.TOTPSecret, m.now()) {
		return ErrInvalidCode
	}
	if err := m.store.CompleteTwoFactor(ctx, sess.ID); err != nil {
		return err
	}
	sess.TwoFactorPending = false
	return nil
}

// SetupTOTP generates a new, not yet enabled, secret for u.
func (m *Manager) SetupTOTP(ctx context.Context, u *model.AuthUser) (secret, url string, err error) {
	if u.TOTPEnabled {
		return "", "", ErrTOTPEnabled
	}
	secret, url, err = GenerateTOTP(u.Username)
	if err != nil {
		return "", "", err
	}
	if err := m.store.UpdateUserTOTP(ctx, u.ID, secret, false); err != nil {
		return "", "", err
	}
	u.TOTPSecret = secret
	return secret, url, nil
}

// EnableTOTP turns on two-factor login once the user proves they hold the
// secret from SetupTOTP.
func (m *Manager) EnableTOTP(ctx context.Context, u *model.AuthUser, code string) error {
	if u.TOTPEnabled {
		return ErrTOTPEnabled
	}
	if u.TOTPSecret == "" {
		return ErrTOTPNotSetUp
	}
	if !ValidateTOTP(code, u.TOTPSecret, m.now()) {
		return ErrInvalidCode
	}
	if err := m.store.UpdateUserTOTP(ctx, u.ID, u.TOTPSecret, true); err != nil {
		return err
	}
	u.TOTPEnabled = true
	return nil
}

// DisableTOTP turns off two-factor login; it needs a current code.
func (m *Manager) DisableTOTP(ctx context.Context, u *model.AuthUser, code string) error {
	if !u.TOTPEnabled {
		return ErrTOTPDisabled
	}
	if !ValidateTOTP(code, u.TOTPSecret, m.now()) {
		return ErrInvalidCode
	}
	if err := m.store.UpdateUserTOTP(ctx, u.ID, "", false); err != nil {
		return err
	}
	u.TOTPEnabled = false
	u.TOTPSecret = ""
	return nil
}

// ResetTwoFactor clears a user's TOTP secret. Used by the CLI for lockouts.
func (m *Manager) ResetTwoFactor(ctx context.Context, username string) error {
	u, err := m.store.GetUserByUsername(ctx, model.NormalizeUsername(username))
	if err != nil {
		return err
	}
	return m.store.UpdateUserTOTP(ctx, u.ID, "", false)
}

// PruneExpired deletes all expired sessions and returns how many went.
func (m *Manager) PruneExpired(ctx context.Context) (int, error) {
	return m.store.DeleteExpiredAuthSessions(ctx, m.now().UTC())
}

func deviceName(dev Device) string {
	if dev.Name != "" {
		return dev.Name
	}
	if dev.UserAgent != "" {
		if len(dev.UserAgent) > 64 {
			return dev.UserAgent[:64]
		}
		return dev.UserAgent
	}
	return "unknown device"
}
