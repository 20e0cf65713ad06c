package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/castboard/internal/model"
)

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// personColumns is the column list used for SELECT statements on the persons table.
const personColumns = `id, username, platform, role, notes, tags, is_following, is_follower,
	first_seen_at, last_seen_at, interaction_count, snapshot_count, created_at, updated_at`

// scanPerson scans a row into a model.Person. Any lead destinations are
// scanned first, for queries that prepend columns such as total_count.
func scanPerson(row scannable, lead ...any) (*model.Person, error) {
	var p model.Person
	var lastSeen sql.NullTime

	dest := append(lead,
		&p.ID,
		&p.Username,
		&p.Platform,
		&p.Role,
		&p.Notes,
		pq.Array(&p.Tags),
		&p.IsFollowing,
		&p.IsFollower,
		&p.FirstSeenAt,
		&lastSeen,
		&p.InteractionCount,
		&p.SnapshotCount,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	p.LastSeenAt = timePtr(lastSeen)
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return &p, nil
}

const snapshotColumns = `id, person_id, source, captured_at, data, raw`

func scanSnapshot(row scannable, lead ...any) (*model.Snapshot, error) {
	var s model.Snapshot
	var data, raw []byte
	dest := append(lead, &s.ID, &s.PersonID, &s.Source, &s.CapturedAt, &data, &raw)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	s.Data = rawJSON(data)
	s.Raw = rawJSON(raw)
	return &s, nil
}

// interactionColumns selects from interactions aliased as i joined to persons as p.
const interactionColumns = `i.id, i.person_id, p.username, i.session_id, i.type, i.content,
	i.tokens, i.timestamp, i.source, i.external_id, i.metadata`

func scanInteraction(row scannable, lead ...any) (*model.Interaction, error) {
	var in model.Interaction
	var sessionID, externalID sql.NullString
	var metadata []byte
	dest := append(lead,
		&in.ID,
		&in.PersonID,
		&in.Username,
		&sessionID,
		&in.Type,
		&in.Content,
		&in.Tokens,
		&in.Timestamp,
		&in.Source,
		&externalID,
		&metadata,
	)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	in.SessionID = sessionID.String
	in.ExternalID = externalID.String
	in.Metadata = rawJSON(metadata)
	return &in, nil
}

const sessionColumns = `id, broadcaster, platform, status, source, started_at, ended_at`

func scanSession(row scannable, lead ...any) (*model.Session, error) {
	var s model.Session
	var endedAt sql.NullTime
	dest := append(lead, &s.ID, &s.Broadcaster, &s.Platform, &s.Status, &s.Source, &s.StartedAt, &endedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	s.EndedAt = timePtr(endedAt)
	return &s, nil
}

const broadcastColumns = `id, session_id, broadcaster, started_at, ended_at, duration_minutes,
	peak_viewers, total_tokens, tip_count, chat_count, unique_chatters,
	followers_gained, followers_lost, room_subject, summary, summary_model,
	summary_generated_at, created_at`

func scanBroadcast(row scannable, lead ...any) (*model.Broadcast, error) {
	var b model.Broadcast
	var generatedAt sql.NullTime
	dest := append(lead,
		&b.ID,
		&b.SessionID,
		&b.Broadcaster,
		&b.StartedAt,
		&b.EndedAt,
		&b.DurationMinutes,
		&b.PeakViewers,
		&b.TotalTokens,
		&b.TipCount,
		&b.ChatCount,
		&b.UniqueChatters,
		&b.FollowersGained,
		&b.FollowersLost,
		&b.RoomSubject,
		&b.Summary,
		&b.SummaryModel,
		&generatedAt,
		&b.CreatedAt,
	)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	b.SummaryGeneratedAt = timePtr(generatedAt)
	return &b, nil
}

// followColumns selects from follow_history aliased as f joined to persons as p.
const followColumns = `f.id, f.person_id, p.username, f.direction, f.action, f.source, f.detected_at`

func scanFollowRecord(row scannable, lead ...any) (*model.FollowHistoryRecord, error) {
	var r model.FollowHistoryRecord
	dest := append(lead, &r.ID, &r.PersonID, &r.Username, &r.Direction, &r.Action, &r.Source, &r.DetectedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &r, nil
}

const profileImageColumns = `id, person_id, file_path, source, mime_type, size_bytes, is_primary, uploaded_at, deleted_at`

func scanProfileImage(row scannable) (*model.ProfileImage, error) {
	var img model.ProfileImage
	var deletedAt sql.NullTime
	err := row.Scan(&img.ID, &img.PersonID, &img.FilePath, &img.Source, &img.MimeType,
		&img.SizeBytes, &img.IsPrimary, &img.UploadedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	img.DeletedAt = timePtr(deletedAt)
	return &img, nil
}

const favoriteColumns = `id, media_type, media_id, person_id, created_at`

func scanFavorite(row scannable, lead ...any) (*model.FavoriteMedia, error) {
	var f model.FavoriteMedia
	var personID sql.NullString
	dest := append(lead, &f.ID, &f.MediaType, &f.MediaID, &personID, &f.CreatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	f.PersonID = personID.String
	return &f, nil
}

const userColumns = `id, username, password_hash, totp_secret, totp_enabled, created_at, last_login_at`

func scanUser(row scannable) (*model.AuthUser, error) {
	var u model.AuthUser
	var lastLogin sql.NullTime
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.TOTPSecret, &u.TOTPEnabled, &u.CreatedAt, &lastLogin)
	if err != nil {
		return nil, err
	}
	u.LastLoginAt = timePtr(lastLogin)
	return &u, nil
}

const authSessionColumns = `id, user_id, token_hash, csrf_token, device_name, user_agent, ip,
	two_factor_pending, created_at, last_seen_at, expires_at`

func scanAuthSession(row scannable) (*model.AuthSession, error) {
	var s model.AuthSession
	err := row.Scan(&s.ID, &s.UserID, &s.TokenHash, &s.CSRFToken, &s.DeviceName, &s.UserAgent, &s.IP,
		&s.TwoFactorPending, &s.CreatedAt, &s.LastSeenAt, &s.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// scanSetting scans a single row into a model.Setting.
func scanSetting(row scannable) (*model.Setting, error) {
	var s model.Setting
	var value []byte
	if err := row.Scan(&s.Key, &value, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Value = json.RawMessage(value)
	return &s, nil
}

// scanAll drains rows through scan, closing rows when done.
func scanAll[T any](rows *sql.Rows, scan func(scannable) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// scanAllWithTotal is scanAll for queries whose first column is COUNT(*) OVER().
func scanAllWithTotal[T any](rows *sql.Rows, scan func(scannable, ...any) (T, error)) ([]T, int, error) {
	defer rows.Close()
	var (
		out   []T
		total int
	)
	for rows.Next() {
		v, err := scan(rows, &total)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// listPage runs a paged SELECT whose total comes from COUNT(*) OVER(). A page
// past the end has no row to carry the window count, so an empty page at a
// non-zero offset is recounted with the same filter.
func listPage[T any](ctx context.Context, db executor, b *queryBuilder, columns, from, orderBy string, page model.Page, scan func(scannable, ...any) (T, error)) ([]T, int, error) {
	where := b.whereSQL()
	nFilter := len(b.args)
	q := "SELECT COUNT(*) OVER() AS total_count, " + columns + from + where +
		" ORDER BY " + orderBy + b.pageSQL(page)

	rows, err := db.QueryContext(ctx, q, b.args...)
	if err != nil {
		return nil, 0, err
	}
	out, total, err := scanAllWithTotal(rows, scan)
	if err != nil {
		return nil, 0, err
	}
	if len(out) == 0 && page.Normalize().Offset > 0 {
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*)"+from+where, b.args[:nFilter]...).Scan(&total); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

// timePtr converts a sql.NullTime to a *time.Time.
func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// nullTimePtr converts a *time.Time to a sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// jsonbBytes converts json.RawMessage to a []byte suitable for JSONB columns.
func jsonbBytes(m json.RawMessage) []byte {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}

// rawJSON converts a scanned JSONB column to json.RawMessage; NULL stays nil.
func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}
