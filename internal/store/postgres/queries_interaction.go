package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/castboard/internal/model"
	"github.com/alfredjeanlab/castboard/internal/store"
)

// queryAddInteraction inserts an interaction and bumps the person's
// interaction_count and last_seen_at. An interaction whose external_id was
// already recorded is skipped and reported as store.ErrDuplicate.
func queryAddInteraction(ctx context.Context, db executor, in *model.Interaction) error {
	err := db.QueryRowContext(ctx, `
		WITH ins AS (
			INSERT INTO interactions (person_id, session_id, type, content, tokens, timestamp, source, external_id, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (external_id) DO NOTHING
			RETURNING id, person_id, timestamp
		)
		UPDATE persons SET
			interaction_count = interaction_count + 1,
			last_seen_at = GREATEST(COALESCE(persons.last_seen_at, ins.timestamp), ins.timestamp)
		FROM ins WHERE persons.id = ins.person_id
		RETURNING ins.id`,
		in.PersonID,
		nullString(in.SessionID),
		string(in.Type),
		in.Content,
		in.Tokens,
		in.Timestamp,
		string(in.Source),
		nullString(in.ExternalID),
		jsonbBytes(in.Metadata),
	).Scan(&in.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("add interaction: %w", err)
	}
	return nil
}

func queryListInteractions(ctx context.Context, db executor, filter model.InteractionFilter) ([]*model.Interaction, int, error) {
	var b queryBuilder

	if filter.PersonID != "" {
		b.add("i.person_id = " + b.arg(filter.PersonID))
	}
	if filter.SessionID != "" {
		b.add("i.session_id = " + b.arg(filter.SessionID))
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		b.add("i.type = ANY(" + b.arg(pq.Array(types)) + ")")
	}
	if filter.Since != nil {
		b.add("i.timestamp >= " + b.arg(*filter.Since))
	}
	if filter.Until != nil {
		b.add("i.timestamp < " + b.arg(*filter.Until))
	}

	interactions, total, err := listPage(ctx, db, &b, interactionColumns,
		" FROM interactions i JOIN persons p ON p.id = i.person_id",
		"i.timestamp DESC, i.id DESC", filter.Page, scanInteraction)
	if err != nil {
		return nil, 0, fmt.Errorf("list interactions: %w", err)
	}
	return interactions, total, nil
}

func querySumTokens(ctx context.Context, db executor, since time.Time) (int, error) {
	var total int
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(tokens), 0) FROM interactions WHERE type = $1 AND timestamp >= $2`,
		string(model.InteractionTip), since,
	).Scan(&total)
	return total, err
}

// queryStartSession inserts a live session. A second live session violates
// the partial unique index and is reported as store.ErrConflict.
func queryStartSession(ctx context.Context, db executor, s *model.Session) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO stream_sessions (id, broadcaster, platform, status, source, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID,
		s.Broadcaster,
		string(s.Platform),
		string(model.SessionLive),
		string(s.Source),
		s.StartedAt,
	)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	s.Status = model.SessionLive
	return nil
}

func queryEndSession(ctx context.Context, db executor, id string, endedAt time.Time) (*model.Session, error) {
	return scanSession(db.QueryRowContext(ctx, `
		UPDATE stream_sessions SET status = $2, ended_at = $3
		WHERE id = $1 AND status = 'live'
		RETURNING `+sessionColumns,
		id, string(model.SessionEnded), endedAt))
}

func queryGetSession(ctx context.Context, db executor, id string) (*model.Session, error) {
	return scanSession(db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM stream_sessions WHERE id = $1`, id))
}

func queryGetLiveSession(ctx context.Context, db executor) (*model.Session, error) {
	return scanSession(db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM stream_sessions WHERE status = 'live'`))
}

func queryListSessions(ctx context.Context, db executor, page model.Page) ([]*model.Session, int, error) {
	var b queryBuilder
	sessions, total, err := listPage(ctx, db, &b, sessionColumns, " FROM stream_sessions", "started_at DESC", page, scanSession)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, total, nil
}

// queryComputeBroadcast rolls up an ended session's interactions and the
// follower changes inside its time window. The result has no ID yet.
func queryComputeBroadcast(ctx context.Context, db executor, s *model.Session) (*model.Broadcast, error) {
	if s.EndedAt == nil {
		return nil, fmt.Errorf("compute broadcast: session %s has not ended", s.ID)
	}

	b := &model.Broadcast{
		SessionID:       s.ID,
		Broadcaster:     s.Broadcaster,
		StartedAt:       s.StartedAt,
		EndedAt:         *s.EndedAt,
		DurationMinutes: int(s.Duration(*s.EndedAt).Minutes()),
	}

	err := db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(tokens) FILTER (WHERE type = 'TIP_EVENT'), 0),
			COUNT(*) FILTER (WHERE type = 'TIP_EVENT'),
			COUNT(*) FILTER (WHERE type = 'CHAT_MESSAGE'),
			COUNT(DISTINCT person_id) FILTER (WHERE type = 'CHAT_MESSAGE'),
			COUNT(DISTINCT person_id) FILTER (WHERE type = 'USER_ENTER'),
			COALESCE((
				SELECT content FROM interactions
				WHERE session_id = $1 AND type = 'ROOM_SUBJECT_CHANGE'
				ORDER BY timestamp DESC LIMIT 1
			), '')
		FROM interactions WHERE session_id = $1`,
		s.ID,
	).Scan(&b.TotalTokens, &b.TipCount, &b.ChatCount, &b.UniqueChatters, &b.PeakViewers, &b.RoomSubject)
	if err != nil {
		return nil, fmt.Errorf("compute broadcast interactions: %w", err)
	}

	err = db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE action = 'follow'),
			COUNT(*) FILTER (WHERE action = 'unfollow')
		FROM follow_history
		WHERE direction = 'follower' AND detected_at >= $1 AND detected_at <= $2`,
		s.StartedAt, *s.EndedAt,
	).Scan(&b.FollowersGained, &b.FollowersLost)
	if err != nil {
		return nil, fmt.Errorf("compute broadcast followers: %w", err)
	}

	return b, nil
}

// querySaveBroadcast inserts b, or refreshes the stats of the broadcast
// already recorded for the same session. Summaries are left untouched.
func querySaveBroadcast(ctx context.Context, db executor, b *model.Broadcast) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO broadcasts (
			id, session_id, broadcaster, started_at, ended_at, duration_minutes,
			peak_viewers, total_tokens, tip_count, chat_count, unique_chatters,
			followers_gained, followers_lost, room_subject
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (session_id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			duration_minutes = EXCLUDED.duration_minutes,
			peak_viewers = EXCLUDED.peak_viewers,
			total_tokens = EXCLUDED.total_tokens,
			tip_count = EXCLUDED.tip_count,
			chat_count = EXCLUDED.chat_count,
			unique_chatters = EXCLUDED.unique_chatters,
			followers_gained = EXCLUDED.followers_gained,
			followers_lost = EXCLUDED.followers_lost,
			room_subject = EXCLUDED.room_subject
		RETURNING id, created_at`,
		b.ID,
		b.SessionID,
		b.Broadcaster,
		b.StartedAt,
		b.EndedAt,
		b.DurationMinutes,
		b.PeakViewers,
		b.TotalTokens,
		b.TipCount,
		b.ChatCount,
		b.UniqueChatters,
		b.FollowersGained,
		b.FollowersLost,
		b.RoomSubject,
	).Scan(&b.ID, &b.CreatedAt)
}

func queryGetBroadcast(ctx context.Context, db executor, id string) (*model.Broadcast, error) {
	return scanBroadcast(db.QueryRowContext(ctx, `SELECT `+broadcastColumns+` FROM broadcasts WHERE id = $1`, id))
}

func queryListBroadcasts(ctx context.Context, db executor, page model.Page) ([]*model.Broadcast, int, error) {
	var b queryBuilder
	broadcasts, total, err := listPage(ctx, db, &b, broadcastColumns, " FROM broadcasts", "started_at DESC", page, scanBroadcast)
	if err != nil {
		return nil, 0, fmt.Errorf("list broadcasts: %w", err)
	}
	return broadcasts, total, nil
}

func queryUpdateBroadcastSummary(ctx context.Context, db executor, id, summary, summaryModel string, at time.Time) (*model.Broadcast, error) {
	return scanBroadcast(db.QueryRowContext(ctx, `
		UPDATE broadcasts SET summary = $2, summary_model = $3, summary_generated_at = $4
		WHERE id = $1
		RETURNING `+broadcastColumns,
		id, summary, summaryModel, at))
}

func queryTopTippers(ctx context.Context, db executor, sessionID string, limit int) ([]model.TopTipper, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT p.username, SUM(i.tokens) AS tokens
		FROM interactions i JOIN persons p ON p.id = i.person_id
		WHERE i.session_id = $1 AND i.type = 'TIP_EVENT'
		GROUP BY p.username
		ORDER BY tokens DESC, p.username
		LIMIT $2`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("top tippers: %w", err)
	}
	return scanAll(rows, func(row scannable) (model.TopTipper, error) {
		var t model.TopTipper
		err := row.Scan(&t.Username, &t.Tokens)
		return t, err
	})
}
