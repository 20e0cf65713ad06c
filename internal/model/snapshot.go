package model

import (
	"encoding/json"
	"time"
)

// SnapshotSource records which feed produced a snapshot.
type SnapshotSource string

const (
	SnapshotAffiliate SnapshotSource = "affiliate"
	SnapshotStatbate  SnapshotSource = "statbate"
	SnapshotManual    SnapshotSource = "manual"
)

// IsValid checks whether the source is a known value.
func (s SnapshotSource) IsValid() bool {
	switch s {
	case SnapshotAffiliate, SnapshotStatbate, SnapshotManual:
		return true
	}
	return false
}

// Snapshot is a point-in-time capture of a person's external profile metrics.
// Data holds the normalized metrics, Raw the untouched upstream payload.
type Snapshot struct {
	ID         int64           `json:"id"`
	PersonID   string          `json:"person_id"`
	Source     SnapshotSource  `json:"source"`
	CapturedAt time.Time       `json:"captured_at"`
	Data       json.RawMessage `json:"data"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// SnapshotMetrics is the normalized shape stored in Snapshot.Data.
// Fields a source does not report are left nil.
type SnapshotMetrics struct {
	IsOnline      *bool    `json:"is_online,omitempty"`
	NumUsers      *int     `json:"num_users,omitempty"`
	NumFollowers  *int     `json:"num_followers,omitempty"`
	RoomSubject   string   `json:"room_subject,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Gender        string   `json:"gender,omitempty"`
	Country       string   `json:"country,omitempty"`
	SecondsOnline *int     `json:"seconds_online,omitempty"`
	Rank          *int     `json:"rank,omitempty"`
	IncomeUSD     *float64 `json:"income_usd,omitempty"`
	IncomeTokens  *int     `json:"income_tokens,omitempty"`
	ImageURL      string   `json:"image_url,omitempty"`
}
