// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/alfredjeanlab/castboard/internal/model"
	"github.com/alfredjeanlab/castboard/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
// Inside RunInTransaction the same type is reused with ex bound to the *sql.Tx.
type PostgresStore struct {
	db *sql.DB
	ex executor
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an already-open database without running migrations.
func NewWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, ex: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection. It is a no-op inside a
// transaction; the parent store owns the connection.
func (s *PostgresStore) Close() error {
	if _, inTx := s.ex.(*sql.Tx); inTx {
		return nil
	}
	return s.db.Close()
}

// RunInTransaction begins a database transaction, hands fn a store bound to
// it, and commits on success or rolls back on error. Nested calls reuse the
// outer transaction.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	if _, inTx := s.ex.(*sql.Tx); inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&PostgresStore{db: s.db, ex: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Persons

func (s *PostgresStore) CreatePerson(ctx context.Context, p *model.Person) error {
	return queryCreatePerson(ctx, s.ex, p)
}

func (s *PostgresStore) UpsertPerson(ctx context.Context, p *model.Person) error {
	return queryUpsertPerson(ctx, s.ex, p)
}

func (s *PostgresStore) GetPerson(ctx context.Context, id string) (*model.Person, error) {
	return queryGetPerson(ctx, s.ex, id)
}

func (s *PostgresStore) GetPersonByUsername(ctx context.Context, platform model.Platform, username string) (*model.Person, error) {
	return queryGetPersonByUsername(ctx, s.ex, platform, username)
}

func (s *PostgresStore) ListPersons(ctx context.Context, filter model.PersonFilter) ([]*model.Person, int, error) {
	return queryListPersons(ctx, s.ex, filter)
}

func (s *PostgresStore) UpdatePerson(ctx context.Context, p *model.Person) error {
	return queryUpdatePerson(ctx, s.ex, p)
}

func (s *PostgresStore) DeletePerson(ctx context.Context, id string) error {
	return queryDeletePerson(ctx, s.ex, id)
}

func (s *PostgresStore) SetFollowState(ctx context.Context, personID string, dir model.FollowDirection, on bool) error {
	return querySetFollowState(ctx, s.ex, personID, dir, on)
}

func (s *PostgresStore) AddSnapshot(ctx context.Context, snap *model.Snapshot) error {
	return queryAddSnapshot(ctx, s.ex, snap)
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, personID string, page model.Page) ([]*model.Snapshot, int, error) {
	return queryListSnapshots(ctx, s.ex, personID, page)
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, personID string) (*model.Snapshot, error) {
	return queryLatestSnapshot(ctx, s.ex, personID)
}

// Interactions and sessions

func (s *PostgresStore) AddInteraction(ctx context.Context, in *model.Interaction) error {
	return queryAddInteraction(ctx, s.ex, in)
}

func (s *PostgresStore) ListInteractions(ctx context.Context, filter model.InteractionFilter) ([]*model.Interaction, int, error) {
	return queryListInteractions(ctx, s.ex, filter)
}

func (s *PostgresStore) SumTokens(ctx context.Context, since time.Time) (int, error) {
	return querySumTokens(ctx, s.ex, since)
}

func (s *PostgresStore) StartSession(ctx context.Context, sess *model.Session) error {
	return queryStartSession(ctx, s.ex, sess)
}

func (s *PostgresStore) EndSession(ctx context.Context, id string, endedAt time.Time) (*model.Session, error) {
	return queryEndSession(ctx, s.ex, id, endedAt)
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	return queryGetSession(ctx, s.ex, id)
}

func (s *PostgresStore) GetLiveSession(ctx context.Context) (*model.Session, error) {
	return queryGetLiveSession(ctx, s.ex)
}

func (s *PostgresStore) ListSessions(ctx context.Context, page model.Page) ([]*model.Session, int, error) {
	return queryListSessions(ctx, s.ex, page)
}

func (s *PostgresStore) ComputeBroadcast(ctx context.Context, sess *model.Session) (*model.Broadcast, error) {
	return queryComputeBroadcast(ctx, s.ex, sess)
}

func (s *PostgresStore) SaveBroadcast(ctx context.Context, b *model.Broadcast) error {
	return querySaveBroadcast(ctx, s.ex, b)
}

func (s *PostgresStore) GetBroadcast(ctx context.Context, id string) (*model.Broadcast, error) {
	return queryGetBroadcast(ctx, s.ex, id)
}

func (s *PostgresStore) ListBroadcasts(ctx context.Context, page model.Page) ([]*model.Broadcast, int, error) {
	return queryListBroadcasts(ctx, s.ex, page)
}

func (s *PostgresStore) UpdateBroadcastSummary(ctx context.Context, id, summary, summaryModel string, at time.Time) (*model.Broadcast, error) {
	return queryUpdateBroadcastSummary(ctx, s.ex, id, summary, summaryModel, at)
}

func (s *PostgresStore) TopTippers(ctx context.Context, sessionID string, limit int) ([]model.TopTipper, error) {
	return queryTopTippers(ctx, s.ex, sessionID, limit)
}

// Follow history

func (s *PostgresStore) AddFollowRecord(ctx context.Context, r *model.FollowHistoryRecord) error {
	return queryAddFollowRecord(ctx, s.ex, r)
}

func (s *PostgresStore) ListFollowHistory(ctx context.Context, personID string, dir model.FollowDirection, page model.Page) ([]*model.FollowHistoryRecord, int, error) {
	return queryListFollowHistory(ctx, s.ex, personID, dir, page)
}

func (s *PostgresStore) FollowDayCounts(ctx context.Context, dir model.FollowDirection, since time.Time) ([]model.FollowDayCount, error) {
	return queryFollowDayCounts(ctx, s.ex, dir, since)
}

func (s *PostgresStore) CountFollowState(ctx context.Context, dir model.FollowDirection) (int, error) {
	return queryCountFollowState(ctx, s.ex, dir)
}

func (s *PostgresStore) ListFollowUsernames(ctx context.Context, dir model.FollowDirection) ([]string, error) {
	return queryListFollowUsernames(ctx, s.ex, dir)
}

// Media

func (s *PostgresStore) AddProfileImage(ctx context.Context, img *model.ProfileImage) error {
	return queryAddProfileImage(ctx, s.ex, img)
}

func (s *PostgresStore) GetProfileImage(ctx context.Context, id string) (*model.ProfileImage, error) {
	return queryGetProfileImage(ctx, s.ex, id)
}

func (s *PostgresStore) ListProfileImages(ctx context.Context, personID string) ([]*model.ProfileImage, error) {
	return queryListProfileImages(ctx, s.ex, personID)
}

func (s *PostgresStore) ListAllProfileImages(ctx context.Context, includeDeleted bool) ([]*model.ProfileImage, error) {
	return queryListAllProfileImages(ctx, s.ex, includeDeleted)
}

func (s *PostgresStore) SoftDeleteProfileImage(ctx context.Context, id string, at time.Time) error {
	return querySoftDeleteProfileImage(ctx, s.ex, id, at)
}

func (s *PostgresStore) AddFavorite(ctx context.Context, f *model.FavoriteMedia) error {
	return queryAddFavorite(ctx, s.ex, f)
}

func (s *PostgresStore) GetFavorite(ctx context.Context, mediaType model.MediaType, mediaID string) (*model.FavoriteMedia, error) {
	return queryGetFavorite(ctx, s.ex, mediaType, mediaID)
}

func (s *PostgresStore) RemoveFavorite(ctx context.Context, mediaType model.MediaType, mediaID string) error {
	return queryRemoveFavorite(ctx, s.ex, mediaType, mediaID)
}

func (s *PostgresStore) ListFavorites(ctx context.Context, mediaType model.MediaType, page model.Page) ([]*model.FavoriteMedia, int, error) {
	return queryListFavorites(ctx, s.ex, mediaType, page)
}

// Auth

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.AuthUser) error {
	return queryCreateUser(ctx, s.ex, u)
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.AuthUser, error) {
	return queryGetUser(ctx, s.ex, "id", id)
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*model.AuthUser, error) {
	return queryGetUser(ctx, s.ex, "username", username)
}

func (s *PostgresStore) UpdateUserTOTP(ctx context.Context, userID, secret string, enabled bool) error {
	return queryUpdateUserTOTP(ctx, s.ex, userID, secret, enabled)
}

func (s *PostgresStore) TouchUserLogin(ctx context.Context, userID string, at time.Time) error {
	return queryTouchUserLogin(ctx, s.ex, userID, at)
}

func (s *PostgresStore) CreateAuthSession(ctx context.Context, sess *model.AuthSession) error {
	return queryCreateAuthSession(ctx, s.ex, sess)
}

func (s *PostgresStore) GetAuthSession(ctx context.Context, id string) (*model.AuthSession, error) {
	return queryGetAuthSession(ctx, s.ex, id)
}

func (s *PostgresStore) TouchAuthSession(ctx context.Context, id string, at time.Time) error {
	return queryTouchAuthSession(ctx, s.ex, id, at)
}

func (s *PostgresStore) CompleteTwoFactor(ctx context.Context, id string) error {
	return queryCompleteTwoFactor(ctx, s.ex, id)
}

func (s *PostgresStore) ListAuthSessions(ctx context.Context, userID string) ([]*model.AuthSession, error) {
	return queryListAuthSessions(ctx, s.ex, userID)
}

func (s *PostgresStore) DeleteAuthSession(ctx context.Context, userID, id string) error {
	return queryDeleteAuthSession(ctx, s.ex, userID, id)
}

func (s *PostgresStore) DeleteOtherAuthSessions(ctx context.Context, userID, keepID string) (int, error) {
	return queryDeleteOtherAuthSessions(ctx, s.ex, userID, keepID)
}

func (s *PostgresStore) DeleteExpiredAuthSessions(ctx context.Context, now time.Time) (int, error) {
	return queryDeleteExpiredAuthSessions(ctx, s.ex, now)
}

// Settings and events

func (s *PostgresStore) SetSetting(ctx context.Context, setting *model.Setting) error {
	return querySetSetting(ctx, s.ex, setting)
}

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (*model.Setting, error) {
	return queryGetSetting(ctx, s.ex, key)
}

func (s *PostgresStore) ListSettings(ctx context.Context) ([]*model.Setting, error) {
	return queryListSettings(ctx, s.ex)
}

func (s *PostgresStore) DeleteSetting(ctx context.Context, key string) error {
	return queryDeleteSetting(ctx, s.ex, key)
}

func (s *PostgresStore) RecordEvent(ctx context.Context, event *model.Event) error {
	return queryRecordEvent(ctx, s.ex, event)
}
