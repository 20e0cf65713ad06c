package model

import (
	"encoding/json"
	"time"
)

// InteractionType categorizes an interaction.
type InteractionType string

const (
	InteractionChat              InteractionType = "CHAT_MESSAGE"
	InteractionPrivateMessage    InteractionType = "PRIVATE_MESSAGE"
	InteractionTip               InteractionType = "TIP_EVENT"
	InteractionFollow            InteractionType = "FOLLOW"
	InteractionUnfollow          InteractionType = "UNFOLLOW"
	InteractionUserEnter         InteractionType = "USER_ENTER"
	InteractionUserLeave         InteractionType = "USER_LEAVE"
	InteractionFanclubJoin       InteractionType = "FANCLUB_JOIN"
	InteractionMediaPurchase     InteractionType = "MEDIA_PURCHASE"
	InteractionRoomSubjectChange InteractionType = "ROOM_SUBJECT_CHANGE"
)

// String returns the string representation of the interaction type.
func (t InteractionType) String() string {
	return string(t)
}

// IsValid checks whether the interaction type is a known value.
func (t InteractionType) IsValid() bool {
	switch t {
	case InteractionChat, InteractionPrivateMessage, InteractionTip,
		InteractionFollow, InteractionUnfollow, InteractionUserEnter,
		InteractionUserLeave, InteractionFanclubJoin, InteractionMediaPurchase,
		InteractionRoomSubjectChange:
		return true
	}
	return false
}

// InteractionSource records how an interaction entered the system.
type InteractionSource string

const (
	SourceEventsAPI InteractionSource = "events_api"
	SourceManual    InteractionSource = "manual"
)

// Interaction is a logged chat/tip/follow event tied to a person and
// optionally a session.
type Interaction struct {
	ID         int64             `json:"id"`
	PersonID   string            `json:"person_id"`
	Username   string            `json:"username,omitempty"` // joined from persons on read
	SessionID  string            `json:"session_id,omitempty"`
	Type       InteractionType   `json:"type"`
	Content    string            `json:"content,omitempty"`
	Tokens     int               `json:"tokens,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Source     InteractionSource `json:"source"`
	ExternalID string            `json:"external_id,omitempty"`
	Metadata   json.RawMessage   `json:"metadata,omitempty"`
}

// InteractionFilter holds criteria for listing interactions.
type InteractionFilter struct {
	PersonID  string            `json:"person_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Types     []InteractionType `json:"types,omitempty"`
	Since     *time.Time        `json:"since,omitempty"`
	Until     *time.Time        `json:"until,omitempty"`
	Page
}
