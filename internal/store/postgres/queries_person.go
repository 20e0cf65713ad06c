package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/castboard/internal/model"
	"github.com/alfredjeanlab/castboard/internal/store"
)

var personSortColumns = []string{"username", "last_seen_at", "first_seen_at", "interaction_count", "created_at"}

func queryCreatePerson(ctx context.Context, db executor, p *model.Person) error {
	if p.Tags == nil {
		p.Tags = []string{}
	}
	row := db.QueryRowContext(ctx, `
		INSERT INTO persons (id, username, platform, role, notes, tags, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+personColumns,
		p.ID,
		p.Username,
		string(p.Platform),
		string(p.Role),
		p.Notes,
		pq.Array(p.Tags),
		p.FirstSeenAt,
		nullTimePtr(p.LastSeenAt),
	)
	got, err := scanPerson(row)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	*p = *got
	return nil
}

// queryUpsertPerson inserts p or, when (platform, username) already exists,
// advances last_seen_at and promotes the role to model if p says so. p is
// overwritten with the stored row.
func queryUpsertPerson(ctx context.Context, db executor, p *model.Person) error {
	row := db.QueryRowContext(ctx, `
		INSERT INTO persons (id, username, platform, role, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (platform, username) DO UPDATE SET
			last_seen_at = GREATEST(COALESCE(persons.last_seen_at, EXCLUDED.last_seen_at), EXCLUDED.last_seen_at),
			role = CASE WHEN EXCLUDED.role = 'model' THEN 'model' ELSE persons.role END,
			updated_at = NOW()
		RETURNING `+personColumns,
		p.ID,
		p.Username,
		string(p.Platform),
		string(p.Role),
		p.FirstSeenAt,
	)
	got, err := scanPerson(row)
	if err != nil {
		return err
	}
	*p = *got
	return nil
}

func queryGetPerson(ctx context.Context, db executor, id string) (*model.Person, error) {
	return scanPerson(db.QueryRowContext(ctx, `SELECT `+personColumns+` FROM persons WHERE id = $1`, id))
}

func queryGetPersonByUsername(ctx context.Context, db executor, platform model.Platform, username string) (*model.Person, error) {
	return scanPerson(db.QueryRowContext(ctx,
		`SELECT `+personColumns+` FROM persons WHERE platform = $1 AND username = $2`,
		string(platform), username))
}

func queryListPersons(ctx context.Context, db executor, filter model.PersonFilter) ([]*model.Person, int, error) {
	var b queryBuilder

	if filter.Search != "" {
		b.add("username ILIKE '%' || " + b.arg(filter.Search) + " || '%'")
	}
	if filter.Role != "" {
		b.add("role = " + b.arg(string(filter.Role)))
	}

	orderBy := parseSortClause(filter.Sort, personSortColumns, "last_seen_at DESC NULLS LAST") + ", id"
	persons, total, err := listPage(ctx, db, &b, personColumns, " FROM persons", orderBy, filter.Page, scanPerson)
	if err != nil {
		return nil, 0, fmt.Errorf("list persons: %w", err)
	}
	return persons, total, nil
}

func queryUpdatePerson(ctx context.Context, db executor, p *model.Person) error {
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return db.QueryRowContext(ctx, `
		UPDATE persons SET
			role = $2,
			notes = $3,
			tags = $4,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID,
		string(p.Role),
		p.Notes,
		pq.Array(p.Tags),
	).Scan(&p.UpdatedAt)
}

func queryDeletePerson(ctx context.Context, db executor, id string) error {
	return execAffectingOne(ctx, db, `DELETE FROM persons WHERE id = $1`, id)
}

func querySetFollowState(ctx context.Context, db executor, personID string, dir model.FollowDirection, on bool) error {
	col, err := followColumn(dir)
	if err != nil {
		return err
	}
	return execAffectingOne(ctx, db,
		`UPDATE persons SET `+col+` = $2, updated_at = NOW() WHERE id = $1`, personID, on)
}

// followColumn maps a direction to the persons flag column it drives.
func followColumn(dir model.FollowDirection) (string, error) {
	switch dir {
	case model.DirectionFollower:
		return "is_follower", nil
	case model.DirectionFollowing:
		return "is_following", nil
	}
	return "", fmt.Errorf("invalid follow direction %q", dir)
}

func queryAddSnapshot(ctx context.Context, db executor, s *model.Snapshot) error {
	err := db.QueryRowContext(ctx, `
		WITH ins AS (
			INSERT INTO snapshots (person_id, source, captured_at, data, raw)
			VALUES ($1, $2, $3, COALESCE($4::jsonb, '{}'), $5)
			RETURNING id, person_id
		)
		UPDATE persons SET snapshot_count = snapshot_count + 1
		FROM ins WHERE persons.id = ins.person_id
		RETURNING ins.id`,
		s.PersonID,
		string(s.Source),
		s.CapturedAt,
		jsonbBytes(s.Data),
		jsonbBytes(s.Raw),
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("add snapshot: %w", err)
	}
	return nil
}

func queryListSnapshots(ctx context.Context, db executor, personID string, page model.Page) ([]*model.Snapshot, int, error) {
	var b queryBuilder
	b.add("person_id = " + b.arg(personID))
	snapshots, total, err := listPage(ctx, db, &b, snapshotColumns, " FROM snapshots",
		"captured_at DESC, id DESC", page, scanSnapshot)
	if err != nil {
		return nil, 0, fmt.Errorf("list snapshots: %w", err)
	}
	return snapshots, total, nil
}

func queryLatestSnapshot(ctx context.Context, db executor, personID string) (*model.Snapshot, error) {
	return scanSnapshot(db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE person_id = $1 ORDER BY captured_at DESC, id DESC LIMIT 1`,
		personID))
}
