package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredjeanlab/castboard/internal/model"
)

func queryAddFollowRecord(ctx context.Context, db executor, r *model.FollowHistoryRecord) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO follow_history (person_id, direction, action, source, detected_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		r.PersonID,
		string(r.Direction),
		string(r.Action),
		string(r.Source),
		r.DetectedAt,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("add follow record: %w", err)
	}
	return nil
}

// queryListFollowHistory lists follow changes newest first. Empty personID
// or dir leave that filter off.
func queryListFollowHistory(ctx context.Context, db executor, personID string, dir model.FollowDirection, page model.Page) ([]*model.FollowHistoryRecord, int, error) {
	var b queryBuilder
	if personID != "" {
		b.add("f.person_id = " + b.arg(personID))
	}
	if dir != "" {
		b.add("f.direction = " + b.arg(string(dir)))
	}

	records, total, err := listPage(ctx, db, &b, followColumns,
		" FROM follow_history f JOIN persons p ON p.id = f.person_id",
		"f.detected_at DESC, f.id DESC", page, scanFollowRecord)
	if err != nil {
		return nil, 0, fmt.Errorf("list follow history: %w", err)
	}
	return records, total, nil
}

// queryFollowDayCounts buckets follow and unfollow records by UTC day.
// Days without records are absent; model.FollowTrend fills the gaps.
func queryFollowDayCounts(ctx context.Context, db executor, dir model.FollowDirection, since time.Time) ([]model.FollowDayCount, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT
			date_trunc('day', detected_at AT TIME ZONE 'UTC') AS day,
			COUNT(*) FILTER (WHERE action = 'follow'),
			COUNT(*) FILTER (WHERE action = 'unfollow')
		FROM follow_history
		WHERE direction = $1 AND detected_at >= $2
		GROUP BY day
		ORDER BY day`,
		string(dir), since)
	if err != nil {
		return nil, fmt.Errorf("follow day counts: %w", err)
	}
	return scanAll(rows, func(row scannable) (model.FollowDayCount, error) {
		var c model.FollowDayCount
		err := row.Scan(&c.Day, &c.Follows, &c.Unfollows)
		c.Day = time.Date(c.Day.Year(), c.Day.Month(), c.Day.Day(), 0, 0, 0, 0, time.UTC)
		return c, err
	})
}

func queryCountFollowState(ctx context.Context, db executor, dir model.FollowDirection) (int, error) {
	col, err := followColumn(dir)
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM persons WHERE `+col).Scan(&n)
	return n, err
}

func queryListFollowUsernames(ctx context.Context, db executor, dir model.FollowDirection) ([]string, error) {
	col, err := followColumn(dir)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT username FROM persons WHERE `+col+` ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list follow usernames: %w", err)
	}
	return scanAll(rows, func(row scannable) (string, error) {
		var s string
		err := row.Scan(&s)
		return s, err
	})
}
