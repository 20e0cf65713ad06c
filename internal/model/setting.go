package model

import (
	"encoding/json"
	"time"
)

// Setting is a key-value application setting stored as JSONB.
// Keys are dotted, e.g. "dashboard.refresh_seconds".
type Setting struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
