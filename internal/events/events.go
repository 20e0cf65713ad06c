package events

import (
	"context"

	"github.com/alfredjeanlab/castboard/internal/model"
)

// AllTopics matches every castboard subject on NATS.
const AllTopics = "castboard.>"

// Event topic constants
const (
	TopicPersonCreated = "castboard.person.created"
	TopicPersonUpdated = "castboard.person.updated"
	TopicPersonDeleted = "castboard.person.deleted"
	TopicSnapshotAdded = "castboard.snapshot.added"

	TopicInteractionAdded = "castboard.interaction.added"

	// Broadcast lifecycle
	TopicSessionStarted      = "castboard.session.started"
	TopicSessionEnded        = "castboard.session.ended"
	TopicBroadcastSummarized = "castboard.broadcast.summarized"

	TopicFollowChanged = "castboard.follow.changed"

	// Room presence, fed by USER_ENTER/USER_LEAVE and the reaper.
	TopicPresenceEnter = "castboard.presence.enter"
	TopicPresenceLeave = "castboard.presence.leave"

	// Media
	TopicImageAdded       = "castboard.image.added"
	TopicImageQuarantined = "castboard.image.quarantined"
	TopicFavoriteToggled  = "castboard.favorite.toggled"

	TopicSettingUpdated = "castboard.setting.updated"
	TopicSettingDeleted = "castboard.setting.deleted"

	TopicAuthLogin = "castboard.auth.login"
)

// Event types

type PersonCreated struct {
	Person *model.Person `json:"person"`
}

type PersonUpdated struct {
	Person  *model.Person  `json:"person"`
	Changes map[string]any `json:"changes"` // field name -> new value
}

type PersonDeleted struct {
	PersonID string `json:"person_id"`
}

type SnapshotAdded struct {
	Snapshot *model.Snapshot `json:"snapshot"`
}

type InteractionAdded struct {
	Interaction *model.Interaction `json:"interaction"`
}

type SessionStarted struct {
	Session *model.Session `json:"session"`
}

type SessionEnded struct {
	Session   *model.Session   `json:"session"`
	Broadcast *model.Broadcast `json:"broadcast,omitempty"`
}

type BroadcastSummarized struct {
	BroadcastID string `json:"broadcast_id"`
	Model       string `json:"model"`
}

type FollowChanged struct {
	Record *model.FollowHistoryRecord `json:"record"`
}

// PresenceChanged is published for both enter and leave; Viewers is the
// room count after the change.
type PresenceChanged struct {
	Username string `json:"username"`
	Viewers  int    `json:"viewers"`
}

type ImageAdded struct {
	Image *model.ProfileImage `json:"image"`
}

type ImageQuarantined struct {
	ImageID  string `json:"image_id"`
	FilePath string `json:"file_path"`
}

type FavoriteToggled struct {
	MediaType model.MediaType `json:"media_type"`
	MediaID   string          `json:"media_id"`
	Favorited bool            `json:"favorited"`
}

type SettingUpdated struct {
	Setting *model.Setting `json:"setting"`
}

type SettingDeleted struct {
	Key string `json:"key"`
}

type AuthLogin struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	DeviceID string `json:"device_id"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
