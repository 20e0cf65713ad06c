package postgres

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/castboard/internal/model"
)

// querySetSetting creates or replaces a setting. created_at survives updates.
func querySetSetting(ctx context.Context, db executor, s *model.Setting) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO settings (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
		RETURNING created_at, updated_at`,
		s.Key, []byte(s.Value),
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func queryGetSetting(ctx context.Context, db executor, key string) (*model.Setting, error) {
	return scanSetting(db.QueryRowContext(ctx,
		`SELECT key, value, created_at, updated_at FROM settings WHERE key = $1`, key))
}

func queryListSettings(ctx context.Context, db executor) ([]*model.Setting, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value, created_at, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return scanAll(rows, scanSetting)
}

func queryDeleteSetting(ctx context.Context, db executor, key string) error {
	return execAffectingOne(ctx, db, `DELETE FROM settings WHERE key = $1`, key)
}

func queryRecordEvent(ctx context.Context, db executor, e *model.Event) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO events (topic, subject_id, actor, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		e.Topic, e.SubjectID, e.Actor, jsonbBytes(e.Payload),
	).Scan(&e.ID, &e.CreatedAt)
}
