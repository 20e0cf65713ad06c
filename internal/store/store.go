package store

import (
	"context"
	"errors"
	"time"

	"github.com/alfredjeanlab/castboard/internal/model"
)

var (
	// ErrDuplicate is returned when an insert collides with a unique key
	// that callers treat as "already recorded" (event IDs, file paths).
	ErrDuplicate = errors.New("store: duplicate record")

	// ErrConflict is returned when a write would violate a state invariant,
	// such as starting a second live session.
	ErrConflict = errors.New("store: conflicting state")
)

// PersonStore persists tracked people and their snapshots.
type PersonStore interface {
	CreatePerson(ctx context.Context, p *model.Person) error
	UpsertPerson(ctx context.Context, p *model.Person) error // insert or bump last_seen_at by (platform, username)
	GetPerson(ctx context.Context, id string) (*model.Person, error)
	GetPersonByUsername(ctx context.Context, platform model.Platform, username string) (*model.Person, error)
	ListPersons(ctx context.Context, filter model.PersonFilter) ([]*model.Person, int, error) // returns persons, total count, error
	UpdatePerson(ctx context.Context, p *model.Person) error
	DeletePerson(ctx context.Context, id string) error
	SetFollowState(ctx context.Context, personID string, dir model.FollowDirection, on bool) error

	AddSnapshot(ctx context.Context, s *model.Snapshot) error
	ListSnapshots(ctx context.Context, personID string, page model.Page) ([]*model.Snapshot, int, error)
	LatestSnapshot(ctx context.Context, personID string) (*model.Snapshot, error)
}

// InteractionStore persists interactions and broadcast sessions.
type InteractionStore interface {
	AddInteraction(ctx context.Context, in *model.Interaction) error
	ListInteractions(ctx context.Context, filter model.InteractionFilter) ([]*model.Interaction, int, error)
	SumTokens(ctx context.Context, since time.Time) (int, error)

	StartSession(ctx context.Context, s *model.Session) error
	EndSession(ctx context.Context, id string, endedAt time.Time) (*model.Session, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	GetLiveSession(ctx context.Context) (*model.Session, error)
	ListSessions(ctx context.Context, page model.Page) ([]*model.Session, int, error)

	ComputeBroadcast(ctx context.Context, s *model.Session) (*model.Broadcast, error)
	SaveBroadcast(ctx context.Context, b *model.Broadcast) error
	GetBroadcast(ctx context.Context, id string) (*model.Broadcast, error)
	ListBroadcasts(ctx context.Context, page model.Page) ([]*model.Broadcast, int, error)
	UpdateBroadcastSummary(ctx context.Context, id, summary, summaryModel string, at time.Time) (*model.Broadcast, error)
	TopTippers(ctx context.Context, sessionID string, limit int) ([]model.TopTipper, error)
}

// FollowStore persists follower history.
type FollowStore interface {
	AddFollowRecord(ctx context.Context, r *model.FollowHistoryRecord) error
	ListFollowHistory(ctx context.Context, personID string, dir model.FollowDirection, page model.Page) ([]*model.FollowHistoryRecord, int, error)
	FollowDayCounts(ctx context.Context, dir model.FollowDirection, since time.Time) ([]model.FollowDayCount, error)
	CountFollowState(ctx context.Context, dir model.FollowDirection) (int, error)
	ListFollowUsernames(ctx context.Context, dir model.FollowDirection) ([]string, error)
}

// MediaStore persists profile images and favorites.
type MediaStore interface {
	AddProfileImage(ctx context.Context, img *model.ProfileImage) error
	GetProfileImage(ctx context.Context, id string) (*model.ProfileImage, error)
	ListProfileImages(ctx context.Context, personID string) ([]*model.ProfileImage, error)
	ListAllProfileImages(ctx context.Context, includeDeleted bool) ([]*model.ProfileImage, error)
	SoftDeleteProfileImage(ctx context.Context, id string, at time.Time) error

	AddFavorite(ctx context.Context, f *model.FavoriteMedia) error
	GetFavorite(ctx context.Context, mediaType model.MediaType, mediaID string) (*model.FavoriteMedia, error)
	RemoveFavorite(ctx context.Context, mediaType model.MediaType, mediaID string) error
	ListFavorites(ctx context.Context, mediaType model.MediaType, page model.Page) ([]*model.FavoriteMedia, int, error)
}

// AuthStore persists operator accounts and their device sessions.
type AuthStore interface {
	CreateUser(ctx context.Context, u *model.AuthUser) error
	GetUser(ctx context.Context, id string) (*model.AuthUser, error)
	GetUserByUsername(ctx context.Context, username string) (*model.AuthUser, error)
	UpdateUserTOTP(ctx context.Context, userID, secret string, enabled bool) error
	TouchUserLogin(ctx context.Context, userID string, at time.Time) error

	CreateAuthSession(ctx context.Context, s *model.AuthSession) error
	GetAuthSession(ctx context.Context, id string) (*model.AuthSession, error)
	TouchAuthSession(ctx context.Context, id string, at time.Time) error
	CompleteTwoFactor(ctx context.Context, id string) error
	ListAuthSessions(ctx context.Context, userID string) ([]*model.AuthSession, error)
	DeleteAuthSession(ctx context.Context, userID, id string) error
	DeleteOtherAuthSessions(ctx context.Context, userID, keepID string) (int, error)
	DeleteExpiredAuthSessions(ctx context.Context, now time.Time) (int, error)
}

// SettingStore persists key-value settings.
type SettingStore interface {
	SetSetting(ctx context.Context, s *model.Setting) error
	GetSetting(ctx context.Context, key string) (*model.Setting, error)
	ListSettings(ctx context.Context) ([]*model.Setting, error)
	DeleteSetting(ctx context.Context, key string) error
}

// Store defines the persistence interface for castboard.
// Lookups of missing rows return sql.ErrNoRows.
type Store interface {
	PersonStore
	InteractionStore
	FollowStore
	MediaStore
	AuthStore
	SettingStore

	// Events
	RecordEvent(ctx context.Context, event *model.Event) error

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}
