package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredjeanlab/castboard/internal/model"
	"github.com/alfredjeanlab/castboard/internal/store"
)

func queryCreateUser(ctx context.Context, db executor, u *model.AuthUser) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO auth_users (id, username, password_hash)
		VALUES ($1, $2, $3)
		RETURNING created_at`,
		u.ID, u.Username, u.PasswordHash,
	).Scan(&u.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// queryGetUser looks a user up by column, which must be "id" or "username".
func queryGetUser(ctx context.Context, db executor, column, value string) (*model.AuthUser, error) {
	if column != "id" && column != "username" {
		return nil, fmt.Errorf("get user: unsupported column %q", column)
	}
	return scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM auth_users WHERE `+column+` = $1`, value))
}

func queryUpdateUserTOTP(ctx context.Context, db executor, userID, secret string, enabled bool) error {
	return execAffectingOne(ctx, db,
		`UPDATE auth_users SET totp_secret = $2, totp_enabled = $3 WHERE id = $1`,
		userID, secret, enabled)
}

func queryTouchUserLogin(ctx context.Context, db executor, userID string, at time.Time) error {
	return execAffectingOne(ctx, db, `UPDATE auth_users SET last_login_at = $2 WHERE id = $1`, userID, at)
}

func queryCreateAuthSession(ctx context.Context, db executor, s *model.AuthSession) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO auth_sessions (
			id, user_id, token_hash, csrf_token, device_name, user_agent, ip,
			two_factor_pending, created_at, last_seen_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID,
		s.UserID,
		s.TokenHash,
		s.CSRFToken,
		s.DeviceName,
		s.UserAgent,
		s.IP,
		s.TwoFactorPending,
		s.CreatedAt,
		s.LastSeenAt,
		s.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("create auth session: %w", err)
	}
	return nil
}

func queryGetAuthSession(ctx context.Context, db executor, id string) (*model.AuthSession, error) {
	return scanAuthSession(db.QueryRowContext(ctx,
		`SELECT `+authSessionColumns+` FROM auth_sessions WHERE id = $1`, id))
}

func queryTouchAuthSession(ctx context.Context, db executor, id string, at time.Time) error {
	return execAffectingOne(ctx, db, `UPDATE auth_sessions SET last_seen_at = $2 WHERE id = $1`, id, at)
}

func queryCompleteTwoFactor(ctx context.Context, db executor, id string) error {
	return execAffectingOne(ctx, db, `UPDATE auth_sessions SET two_factor_pending = FALSE WHERE id = $1`, id)
}

func queryListAuthSessions(ctx context.Context, db executor, userID string) ([]*model.AuthSession, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+authSessionColumns+` FROM auth_sessions
		WHERE user_id = $1
		ORDER BY last_seen_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list auth sessions: %w", err)
	}
	return scanAll(rows, scanAuthSession)
}

// queryDeleteAuthSession deletes one of the user's sessions. Sessions owned by
// other users are reported as not found.
func queryDeleteAuthSession(ctx context.Context, db executor, userID, id string) error {
	return execAffectingOne(ctx, db, `DELETE FROM auth_sessions WHERE id = $1 AND user_id = $2`, id, userID)
}

func queryDeleteOtherAuthSessions(ctx context.Context, db executor, userID, keepID string) (int, error) {
	return execCount(ctx, db, `DELETE FROM auth_sessions WHERE user_id = $1 AND id <> $2`, userID, keepID)
}

func queryDeleteExpiredAuthSessions(ctx context.Context, db executor, now time.Time) (int, error) {
	return execCount(ctx, db, `DELETE FROM auth_sessions WHERE expires_at <= $1`, now)
}
