package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/alfredjeanlab/castboard/internal/model"
	"github.com/alfredjeanlab/castboard/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

var personRowColumns = []string{
	"id", "username", "platform", "role", "notes", "tags", "is_following", "is_follower",
	"first_seen_at", "last_seen_at", "interaction_count", "snapshot_count", "created_at", "updated_at",
}

func personRow(rows *sqlmock.Rows, id, username string, now time.Time) *sqlmock.Rows {
	return rows.AddRow(
		id, username, "chaturbate", "viewer", "", "{regular,whale}", false, true,
		now, now, 3, 1, now, now,
	)
}

var sessionRowColumns = []string{"id", "broadcaster", "platform", "status", "source", "started_at", "ended_at"}

var uniqueViolation = &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}

func TestParseSortClause(t *testing.T) {
	allowed := []string{"username", "last_seen_at"}
	const fallback = "last_seen_at DESC NULLS LAST"
	for _, tc := range []struct {
		input string
		want  string
	}{
		{"", fallback},
		{"username", "username ASC"},
		{"-username", "username DESC NULLS LAST"},
		{"-last_seen_at", "last_seen_at DESC NULLS LAST"},
		{"notes; DROP TABLE persons", fallback},
		{"-evil_column", fallback},
	} {
		if got := parseSortClause(tc.input, allowed, fallback); got != tc.want {
			t.Errorf("parseSortClause(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestQueryBuilder(t *testing.T) {
	var b queryBuilder
	b.add("role = " + b.arg("model"))
	b.add("username ILIKE " + b.arg("%a%"))
	if got := b.whereSQL(); got != " WHERE role = $1 AND username ILIKE $2" {
		t.Errorf("whereSQL = %q", got)
	}
	if got := b.pageSQL(model.Page{}); got != " LIMIT $3" {
		t.Errorf("pageSQL(zero) = %q", got)
	}
	if got := b.pageSQL(model.Page{Limit: 10000, Offset: 20}); got != " LIMIT $4 OFFSET $5" {
		t.Errorf("pageSQL(big) = %q", got)
	}
	if b.args[2] != model.DefaultPageLimit || b.args[3] != model.MaxPageLimit || b.args[4] != 20 {
		t.Errorf("args = %v", b.args)
	}

	var empty queryBuilder
	if empty.whereSQL() != "" {
		t.Error("empty builder should produce no WHERE clause")
	}
}

func TestScanHelpers(t *testing.T) {
	if nullTimePtr(nil).Valid {
		t.Error("nullTimePtr(nil) should be invalid")
	}
	now := time.Now()
	if nt := nullTimePtr(&now); !nt.Valid || !nt.Time.Equal(now) {
		t.Errorf("nullTimePtr(now) = %v", nt)
	}
	if timePtr(sql.NullTime{}) != nil {
		t.Error("timePtr(invalid) should be nil")
	}
	if p := timePtr(sql.NullTime{Time: now, Valid: true}); p == nil || !p.Equal(now) {
		t.Errorf("timePtr(valid) = %v", p)
	}

	if nullString("").Valid {
		t.Error("nullString(\"\") should be invalid")
	}
	if ns := nullString("hello"); !ns.Valid || ns.String != "hello" {
		t.Errorf("nullString(\"hello\") = %v", ns)
	}

	if jsonbBytes(nil) != nil {
		t.Error("jsonbBytes(nil) should be nil")
	}
	input := json.RawMessage(`{"key":"value"}`)
	if string(jsonbBytes(input)) != `{"key":"value"}` {
		t.Errorf("jsonbBytes = %s", jsonbBytes(input))
	}
	if rawJSON(nil) != nil {
		t.Error("rawJSON(nil) should be nil")
	}
}

func TestQueryCreatePerson(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	p := &model.Person{
		ID: "p-1", Username: "alice", Platform: model.PlatformChaturbate, Role: model.RoleViewer,
		FirstSeenAt: now,
	}
	mock.ExpectQuery("INSERT INTO persons").
		WithArgs("p-1", "alice", "chaturbate", "viewer", "", sqlmock.AnyArg(), now, sqlmock.AnyArg()).
		WillReturnRows(personRow(sqlmock.NewRows(personRowColumns), "p-1", "alice", now))

	if err := queryCreatePerson(context.Background(), db, p); err != nil {
		t.Fatalf("queryCreatePerson: %v", err)
	}
	if len(p.Tags) != 2 || p.Tags[0] != "regular" || p.Tags[1] != "whale" {
		t.Errorf("tags = %v", p.Tags)
	}
	if !p.IsFollower || p.InteractionCount != 3 {
		t.Errorf("person = %+v", p)
	}
}

func TestQueryCreatePerson_Duplicate(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("INSERT INTO persons").WillReturnError(uniqueViolation)

	err := queryCreatePerson(context.Background(), db, &model.Person{ID: "p-1", Username: "alice"})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestQueryUpsertPerson(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	p := &model.Person{ID: "new-id", Username: "alice", Platform: model.PlatformChaturbate, Role: model.RoleViewer, FirstSeenAt: now}
	mock.ExpectQuery("INSERT INTO persons .+ ON CONFLICT \\(platform, username\\) DO UPDATE").
		WithArgs("new-id", "alice", "chaturbate", "viewer", now).
		WillReturnRows(personRow(sqlmock.NewRows(personRowColumns), "existing-id", "alice", now))

	if err := queryUpsertPerson(context.Background(), db, p); err != nil {
		t.Fatalf("queryUpsertPerson: %v", err)
	}
	if p.ID != "existing-id" {
		t.Errorf("ID = %q, want the stored row's id", p.ID)
	}
}

func TestQueryGetPerson_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM persons WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(personRowColumns))

	_, err := queryGetPerson(context.Background(), db, "missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestQueryListPersons(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	cols := append([]string{"total_count"}, personRowColumns...)
	rows := sqlmock.NewRows(cols).
		AddRow(7, "p-1", "alice", "chaturbate", "model", "", "{}", true, false, now, nil, 0, 0, now, now).
		AddRow(7, "p-2", "alicia", "chaturbate", "model", "", nil, false, false, now, nil, 0, 0, now, now)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) OVER\\(\\) AS total_count, .+ FROM persons WHERE username ILIKE .+ AND role = \\$2 ORDER BY username ASC, id LIMIT \\$3 OFFSET \\$4").
		WithArgs("ali", "model", 2, 4).
		WillReturnRows(rows)

	persons, total, err := queryListPersons(context.Background(), db, model.PersonFilter{
		Search: "ali", Role: model.RoleModel, Sort: "username",
		Page: model.Page{Limit: 2, Offset: 4},
	})
	if err != nil {
		t.Fatalf("queryListPersons: %v", err)
	}
	if total != 7 || len(persons) != 2 {
		t.Fatalf("total=%d len=%d", total, len(persons))
	}
	if persons[1].Tags == nil || persons[0].LastSeenAt != nil {
		t.Errorf("unexpected nullable handling: %+v", persons[1])
	}
}

func TestQueryListPersons_PastLastPage(t *testing.T) {
	db, mock := newMockDB(t)
	cols := append([]string{"total_count"}, personRowColumns...)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) OVER\\(\\) AS total_count, .+ FROM persons WHERE role = \\$1 .+ LIMIT \\$2 OFFSET \\$3").
		WithArgs("viewer", 50, 1000).
		WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM persons WHERE role = \\$1$").
		WithArgs("viewer").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))

	persons, total, err := queryListPersons(context.Background(), db, model.PersonFilter{
		Role: model.RoleViewer,
		Page: model.Page{Limit: 50, Offset: 1000},
	})
	if err != nil {
		t.Fatalf("queryListPersons: %v", err)
	}
	if total != 10 || len(persons) != 0 {
		t.Fatalf("total=%d len=%d, want total=10 len=0", total, len(persons))
	}
}

func TestQueryListBroadcasts_EmptyFirstPage(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) OVER\\(\\) AS total_count, .+ FROM broadcasts ORDER BY started_at DESC LIMIT \\$1$").
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{"total_count", "id"}))

	broadcasts, total, err := queryListBroadcasts(context.Background(), db, model.Page{})
	if err != nil {
		t.Fatalf("queryListBroadcasts: %v", err)
	}
	if total != 0 || len(broadcasts) != 0 {
		t.Fatalf("total=%d len=%d", total, len(broadcasts))
	}
}

func TestQueryDeletePerson_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("DELETE FROM persons WHERE id = \\$1").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := queryDeletePerson(context.Background(), db, "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestQuerySetFollowState(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("UPDATE persons SET is_follower = \\$2").
		WithArgs("p-1", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := querySetFollowState(context.Background(), db, "p-1", model.DirectionFollower, true); err != nil {
		t.Fatalf("querySetFollowState: %v", err)
	}
	if err := querySetFollowState(context.Background(), db, "p-1", "sideways", true); err == nil {
		t.Fatal("expected error for invalid direction")
	}
}

func TestQueryAddInteraction(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	in := &model.Interaction{
		PersonID: "p-1", SessionID: "s-1", Type: model.InteractionTip, Tokens: 25,
		Timestamp: now, Source: model.SourceEventsAPI, ExternalID: "evt-1",
	}
	mock.ExpectQuery("INSERT INTO interactions .+ ON CONFLICT \\(external_id\\) DO NOTHING").
		WithArgs("p-1", "s-1", "TIP_EVENT", "", 25, now, "events_api", "evt-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	if err := queryAddInteraction(context.Background(), db, in); err != nil {
		t.Fatalf("queryAddInteraction: %v", err)
	}
	if in.ID != 42 {
		t.Errorf("ID = %d, want 42", in.ID)
	}
}

func TestQueryAddInteraction_Duplicate(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("INSERT INTO interactions").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := queryAddInteraction(context.Background(), db, &model.Interaction{PersonID: "p-1", ExternalID: "evt-1"})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestQueryListInteractions_Filters(t *testing.T) {
	db, mock := newMockDB(t)
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM interactions i JOIN persons p ON p.id = i.person_id WHERE i.person_id = \\$1 AND i.type = ANY\\(\\$2\\) AND i.timestamp >= \\$3 ORDER BY i.timestamp DESC, i.id DESC LIMIT \\$4").
		WithArgs("p-1", sqlmock.AnyArg(), since, model.DefaultPageLimit).
		WillReturnRows(sqlmock.NewRows([]string{"total_count"}))

	got, total, err := queryListInteractions(context.Background(), db, model.InteractionFilter{
		PersonID: "p-1",
		Types:    []model.InteractionType{model.InteractionTip, model.InteractionChat},
		Since:    &since,
	})
	if err != nil {
		t.Fatalf("queryListInteractions: %v", err)
	}
	if total != 0 || len(got) != 0 {
		t.Errorf("total=%d len=%d", total, len(got))
	}
}

func TestQueryStartSession_Conflict(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO stream_sessions").WillReturnError(uniqueViolation)

	err := queryStartSession(context.Background(), db, &model.Session{ID: "s-2", Broadcaster: "alice"})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestQueryEndSession(t *testing.T) {
	db, mock := newMockDB(t)
	start := time.Now().UTC().Add(-time.Hour)
	end := start.Add(time.Hour)
	mock.ExpectQuery("UPDATE stream_sessions SET status = \\$2, ended_at = \\$3 WHERE id = \\$1 AND status = 'live'").
		WithArgs("s-1", "ended", end).
		WillReturnRows(sqlmock.NewRows(sessionRowColumns).
			AddRow("s-1", "alice", "chaturbate", "ended", "manual", start, end))

	s, err := queryEndSession(context.Background(), db, "s-1", end)
	if err != nil {
		t.Fatalf("queryEndSession: %v", err)
	}
	if s.Status != model.SessionEnded || s.EndedAt == nil || !s.EndedAt.Equal(end) {
		t.Errorf("session = %+v", s)
	}
}

func TestQueryEndSession_NotLive(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("UPDATE stream_sessions").
		WillReturnRows(sqlmock.NewRows(sessionRowColumns))

	if _, err := queryEndSession(context.Background(), db, "s-1", time.Now()); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestQueryComputeBroadcast(t *testing.T) {
	db, mock := newMockDB(t)
	start := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	end := start.Add(95 * time.Minute)
	sess := &model.Session{ID: "s-1", Broadcaster: "alice", StartedAt: start, EndedAt: &end}

	mock.ExpectQuery("SUM\\(tokens\\) FILTER").
		WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows([]string{"tokens", "tips", "chats", "chatters", "viewers", "subject"}).
			AddRow(500, 4, 120, 15, 40, "goal: 1000tk"))
	mock.ExpectQuery("FROM follow_history WHERE direction = 'follower'").
		WithArgs(start, end).
		WillReturnRows(sqlmock.NewRows([]string{"gained", "lost"}).AddRow(6, 1))

	b, err := queryComputeBroadcast(context.Background(), db, sess)
	if err != nil {
		t.Fatalf("queryComputeBroadcast: %v", err)
	}
	if b.DurationMinutes != 95 || b.TotalTokens != 500 || b.TipCount != 4 || b.ChatCount != 120 {
		t.Errorf("broadcast = %+v", b)
	}
	if b.UniqueChatters != 15 || b.PeakViewers != 40 || b.FollowersGained != 6 || b.FollowersLost != 1 {
		t.Errorf("broadcast = %+v", b)
	}
	if b.RoomSubject != "goal: 1000tk" {
		t.Errorf("RoomSubject = %q", b.RoomSubject)
	}
}

func TestQueryComputeBroadcast_LiveSession(t *testing.T) {
	db, _ := newMockDB(t)
	if _, err := queryComputeBroadcast(context.Background(), db, &model.Session{ID: "s-1"}); err == nil {
		t.Fatal("expected error for a session that has not ended")
	}
}

func TestQueryFollowDayCounts(t *testing.T) {
	db, mock := newMockDB(t)
	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	day := time.Date(2026, 2, 3, 0, 0, 0, 0, time.FixedZone("", 0))
	mock.ExpectQuery("date_trunc\\('day'").
		WithArgs("follower", since).
		WillReturnRows(sqlmock.NewRows([]string{"day", "follows", "unfollows"}).AddRow(day, 5, 2))

	counts, err := queryFollowDayCounts(context.Background(), db, model.DirectionFollower, since)
	if err != nil {
		t.Fatalf("queryFollowDayCounts: %v", err)
	}
	if len(counts) != 1 || counts[0].Follows != 5 || counts[0].Unfollows != 2 {
		t.Fatalf("counts = %+v", counts)
	}
	if counts[0].Day.Location() != time.UTC || counts[0].Day.Day() != 3 {
		t.Errorf("day = %v", counts[0].Day)
	}
}

func TestQueryAddProfileImage_Duplicate(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("INSERT INTO profile_images .+ ON CONFLICT \\(file_path\\) DO NOTHING").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := queryAddProfileImage(context.Background(), db, &model.ProfileImage{ID: "img-1", FilePath: "profiles/alice/a.jpg"})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestQuerySoftDeleteProfileImage(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectExec("UPDATE profile_images SET deleted_at = \\$2, is_primary = FALSE WHERE id = \\$1 AND deleted_at IS NULL").
		WithArgs("img-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE profile_images").
		WithArgs("img-1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := querySoftDeleteProfileImage(context.Background(), db, "img-1", now); err != nil {
		t.Fatalf("first soft delete: %v", err)
	}
	if err := querySoftDeleteProfileImage(context.Background(), db, "img-1", now); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("second soft delete: expected sql.ErrNoRows, got %v", err)
	}
}

func TestQueryAddFavorite_Duplicate(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("INSERT INTO favorite_media").
		WithArgs("image", "img-1", sqlmock.AnyArg()).
		WillReturnError(uniqueViolation)

	err := queryAddFavorite(context.Background(), db, &model.FavoriteMedia{MediaType: model.MediaImage, MediaID: "img-1"})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestQueryGetUser_RejectsColumn(t *testing.T) {
	db, _ := newMockDB(t)
	if _, err := queryGetUser(context.Background(), db, "password_hash", "x"); err == nil {
		t.Fatal("expected error for unsupported column")
	}
}

func TestQueryDeleteOtherAuthSessions(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("DELETE FROM auth_sessions WHERE user_id = \\$1 AND id <> \\$2").
		WithArgs("u-1", "keep").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := queryDeleteOtherAuthSessions(context.Background(), db, "u-1", "keep")
	if err != nil {
		t.Fatalf("queryDeleteOtherAuthSessions: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted %d, want 3", n)
	}
}

func TestQuerySetSetting(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO settings .+ ON CONFLICT \\(key\\) DO UPDATE").
		WithArgs("dashboard.refresh_seconds", []byte(`60`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	s := &model.Setting{Key: "dashboard.refresh_seconds", Value: json.RawMessage(`60`)}
	if err := querySetSetting(context.Background(), db, s); err != nil {
		t.Fatalf("querySetSetting: %v", err)
	}
	if !s.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v", s.UpdatedAt)
	}
}

func TestQueryGetSetting_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT key, value, created_at, updated_at FROM settings WHERE key = \\$1").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value", "created_at", "updated_at"}))

	if _, err := queryGetSetting(context.Background(), db, "nope"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestQueryRecordEvent(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO events").
		WithArgs("castboard.person.updated", "p-1", "admin", []byte(`{"id":"p-1"}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(9), now))

	e := &model.Event{Topic: "castboard.person.updated", SubjectID: "p-1", Actor: "admin", Payload: json.RawMessage(`{"id":"p-1"}`)}
	if err := queryRecordEvent(context.Background(), db, e); err != nil {
		t.Fatalf("queryRecordEvent: %v", err)
	}
	if e.ID != 9 {
		t.Errorf("ID = %d, want 9", e.ID)
	}
}

func TestRunInTransaction_Commit(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM settings").WithArgs("a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
		return tx.DeleteSetting(context.Background(), "a")
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
}

func TestRunInTransaction_Rollback(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM settings").WithArgs("a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
		return tx.DeleteSetting(context.Background(), "a")
	})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}
