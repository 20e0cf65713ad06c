package model

import (
	"time"

	"github.com/google/uuid"
)

// Platform identifies the streaming site a person belongs to.
type Platform string

const (
	PlatformChaturbate Platform = "chaturbate"
)

// Role distinguishes broadcasters from the people watching them.
type Role string

const (
	RoleModel  Role = "model"
	RoleViewer Role = "viewer"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// IsValid checks whether the role is a known value.
func (r Role) IsValid() bool {
	switch r {
	case RoleModel, RoleViewer:
		return true
	}
	return false
}

// Person is a tracked account on an external platform.
type Person struct {
	ID               string     `json:"id"`
	Username         string     `json:"username"`
	Platform         Platform   `json:"platform"`
	Role             Role       `json:"role"`
	Notes            string     `json:"notes,omitempty"`
	Tags             []string   `json:"tags"`
	IsFollowing      bool       `json:"is_following"`
	IsFollower       bool       `json:"is_follower"`
	FirstSeenAt      time.Time  `json:"first_seen_at"`
	LastSeenAt       *time.Time `json:"last_seen_at,omitempty"`
	InteractionCount int        `json:"interaction_count"`
	SnapshotCount    int        `json:"snapshot_count"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// PersonFilter holds criteria for listing people.
type PersonFilter struct {
	Search string `json:"search,omitempty"` // substring match on username
	Role   Role   `json:"role,omitempty"`
	Sort   string `json:"sort,omitempty"` // e.g. "-last_seen_at", "username"
	Page
}

// NewPerson returns a Chaturbate person with a fresh ID, ready for
// UpsertPerson. username must already be normalized.
func NewPerson(username string, role Role, seen time.Time) *Person {
	return &Person{
		ID:          uuid.NewString(),
		Username:    username,
		Platform:    PlatformChaturbate,
		Role:        role,
		Tags:        []string{},
		FirstSeenAt: seen,
	}
}
