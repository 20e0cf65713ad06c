package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/alfredjeanlab/castboard/internal/model"
	"github.com/alfredjeanlab/castboard/internal/store"
)

func init() {
	BcryptCost = bcrypt.MinCost
}

// memAuthStore is an in-memory store.AuthStore.
type memAuthStore struct {
	mu       sync.Mutex
	users    map[string]*model.AuthUser
	sessions map[string]*model.AuthSession
}

var _ store.AuthStore = (*memAuthStore)(nil)

func newMemAuthStore() *memAuthStore {
	return &memAuthStore{
		users:    make(map[string]*model.AuthUser),
		sessions: make(map[string]*model.AuthSession),
	}
}

func (s *memAuthStore) CreateUser(_ context.Context, u *model.AuthUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == u.Username {
			return store.ErrDuplicate
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *memAuthStore) GetUser(_ context.Context, id string) (*model.AuthUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (s *memAuthStore) GetUserByUsername(_ context.Context, username string) (*model.AuthUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *memAuthStore) UpdateUserTOTP(_ context.Context, userID, secret string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.TOTPSecret = secret
	u.TOTPEnabled = enabled
	return nil
}

func (s *memAuthStore) TouchUserLogin(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.LastLoginAt = &at
	return nil
}

func (s *memAuthStore) CreateAuthSession(_ context.Context, sess *model.AuthSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *memAuthStore) GetAuthSession(_ context.Context, id string) (*model.AuthSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *sess
	return &cp, nil
}

func (s *memAuthStore) TouchAuthSession(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return sql.ErrNoRows
	}
	sess.LastSeenAt = at
	return nil
}

func (s *memAuthStore) CompleteTwoFactor(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return sql.ErrNoRows
	}
	sess.TwoFactorPending = false
	return nil
}

func (s *memAuthStore) ListAuthSessions(_ context.Context, userID string) ([]*model.AuthSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.AuthSession
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memAuthStore) DeleteAuthSession(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.UserID != userID {
		return sql.ErrNoRows
	}
	delete(s.sessions, id)
	return nil
}

func (s *memAuthStore) DeleteOtherAuthSessions(_ context.Context, userID, keepID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.UserID == userID && id != keepID {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *memAuthStore) DeleteExpiredAuthSessions(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func newTestManager(t *testing.T) (*Manager, *memAuthStore) {
	t.Helper()
	st := newMemAuthStore()
	m := NewManager(st, time.Hour)
	if _, err := m.CreateUser(context.Background(), "Admin", "correct-horse"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return m, st
}

func TestCreateUser(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	u, err := st.GetUserByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("user not stored: %v", err)
	}
	if u.PasswordHash == "correct-horse" || !CheckPassword(u.PasswordHash, "correct-horse") {
		t.Error("password should be stored as a bcrypt hash")
	}

	if _, err := m.CreateUser(ctx, "admin", "another-password"); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("duplicate user: got %v", err)
	}
	if _, err := m.CreateUser(ctx, "bob", "short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Errorf("short password: got %v", err)
	}
	if _, err := m.CreateUser(ctx, "bad name!", "long-enough"); err == nil {
		t.Error("expected error for invalid username")
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Login(ctx, "admin", "nope-nope", Device{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: got %v", err)
	}
	if _, err := m.Login(ctx, "ghost", "correct-horse", Device{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: got %v", err)
	}
}

func TestLoginAndAuthenticate(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	res, err := m.Login(ctx, "ADMIN", "correct-horse", Device{UserAgent: "Firefox", IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !strings.HasPrefix(res.Token, res.Session.ID+".") {
		t.Errorf("token %q should start with session id", res.Token)
	}
	if res.Session.TwoFactorPending {
		t.Error("session should not be pending without TOTP")
	}
	if res.Session.DeviceName != "Firefox" {
		t.Errorf("DeviceName = %q", res.Session.DeviceName)
	}
	if res.User.LastLoginAt == nil {
		t.Error("LastLoginAt should be set")
	}

	stored, _ := st.GetAuthSession(ctx, res.Session.ID)
	if strings.Contains(res.Token, stored.TokenHash) {
		t.Error("stored hash must not be the raw secret")
	}

	sess, u, err := m.Authenticate(ctx, res.Token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if u.Username != "admin" || sess.ID != res.Session.ID {
		t.Errorf("got user %q session %q", u.Username, sess.ID)
	}
	if !CheckCSRF(sess, res.Session.CSRFToken) || CheckCSRF(sess, "wrong") || CheckCSRF(sess, "") {
		t.Error("CSRF check mismatch")
	}
}

func TestAuthenticate_Rejects(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	res, err := m.Login(ctx, "admin", "correct-horse", Device{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	for _, token := range []string{
		"",
		"no-dot",
		res.Session.ID + ".wrong-secret",
		"dev_missing.secret",
	} {
		if _, _, err := m.Authenticate(ctx, token); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("Authenticate(%q) = %v, want ErrUnauthenticated", token, err)
		}
	}
}

func TestAuthenticate_ExpiredSessionDeleted(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	res, err := m.Login(ctx, "admin", "correct-horse", Device{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	later := time.Now().Add(2 * time.Hour)
	m.now = func() time.Time { return later }

	if _, _, err := m.Authenticate(ctx, res.Token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expired session: got %v", err)
	}
	if _, err := st.GetAuthSession(ctx, res.Session.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Error("expired session should be deleted")
	}
}

func TestTwoFactorFlow(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	res, err := m.Login(ctx, "admin", "correct-horse", Device{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	u := res.User

	if err := m.EnableTOTP(ctx, u, "123456"); !errors.Is(err, ErrTOTPNotSetUp) {
		t.Fatalf("enable before setup: got %v", err)
	}

	secret, url, err := m.SetupTOTP(ctx, u)
	if err != nil {
		t.Fatalf("SetupTOTP: %v", err)
	}
	if !strings.HasPrefix(url, "otpauth://totp/") {
		t.Errorf("url = %q", url)
	}

	if err := m.EnableTOTP(ctx, u, "000000x"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("enable with bad code: got %v", err)
	}
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if err := m.EnableTOTP(ctx, u, code); err != nil {
		t.Fatalf("EnableTOTP: %v", err)
	}
	if _, _, err := m.SetupTOTP(ctx, u); !errors.Is(err, ErrTOTPEnabled) {
		t.Errorf("setup while enabled: got %v", err)
	}

	// A new login is now pending until verified.
	res2, err := m.Login(ctx, "admin", "correct-horse", Device{})
	if err != nil {
		t.Fatalf("second Login: %v", err)
	}
	if !res2.Session.TwoFactorPending {
		t.Fatal("session should be two-factor pending")
	}
	sess, u2, err := m.Authenticate(ctx, res2.Token)
	if !errors.Is(err, ErrTwoFactorRequired) || sess == nil {
		t.Fatalf("pending session: got %v", err)
	}
	if err := m.VerifyTwoFactor(ctx, sess, u2, "999999"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("verify bad code: got %v", err)
	}
	if err := m.VerifyTwoFactor(ctx, sess, u2, code); err != nil {
		t.Fatalf("VerifyTwoFactor: %v", err)
	}
	if _, _, err := m.Authenticate(ctx, res2.Token); err != nil {
		t.Fatalf("after verify: %v", err)
	}

	if err := m.DisableTOTP(ctx, u2, code); err != nil {
		t.Fatalf("DisableTOTP: %v", err)
	}
	if u2.TOTPEnabled || u2.TOTPSecret != "" {
		t.Error("TOTP should be cleared")
	}
}

func TestResetTwoFactor(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	u, _ := st.GetUserByUsername(ctx, "admin")
	_ = st.UpdateUserTOTP(ctx, u.ID, "SECRET", true)

	if err := m.ResetTwoFactor(ctx, "admin"); err != nil {
		t.Fatalf("ResetTwoFactor: %v", err)
	}
	u, _ = st.GetUserByUsername(ctx, "admin")
	if u.TOTPEnabled || u.TOTPSecret != "" {
		t.Error("TOTP should be reset")
	}
	if err := m.ResetTwoFactor(ctx, "ghost"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("unknown user: got %v", err)
	}
}

func TestLogoutAndPrune(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	a, _ := m.Login(ctx, "admin", "correct-horse", Device{})
	b, _ := m.Login(ctx, "admin", "correct-horse", Device{})

	if err := m.Logout(ctx, a.Session); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, _, err := m.Authenticate(ctx, a.Token); !errors.Is(err, ErrUnauthenticated) {
		t.Error("logged-out token should be rejected")
	}

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err := m.PruneExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("PruneExpired = %d, %v", n, err)
	}
	if _, err := st.GetAuthSession(ctx, b.Session.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Error("expired session should be pruned")
	}
}

func TestParseSessionToken(t *testing.T) {
	for _, tc := range []struct {
		in     string
		id     string
		secret string
		ok     bool
	}{
		{"dev_abc.xyz", "dev_abc", "xyz", true},
		{"dev_abc.", "", "", false},
		{".xyz", "", "", false},
		{"nodot", "", "", false},
	} {
		id, secret, ok := ParseSessionToken(tc.in)
		if id != tc.id || secret != tc.secret || ok != tc.ok {
			t.Errorf("ParseSessionToken(%q) = %q, %q, %v", tc.in, id, secret, ok)
		}
	}
	if got := FormatSessionToken("a", "b"); got != "a.b" {
		t.Errorf("FormatSessionToken = %q", got)
	}
}

func TestValidateTOTP_Empty(t *testing.T) {
	if ValidateTOTP("", "SECRET", time.Now()) || ValidateTOTP("123456", "", time.Now()) {
		t.Error("empty code or secret must not validate")
	}
}
