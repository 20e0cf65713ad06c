package model

import "time"

// SessionStatus is the lifecycle state of a broadcast session.
type SessionStatus string

const (
	SessionLive  SessionStatus = "live"
	SessionEnded SessionStatus = "ended"
)

// Session is a single continuous broadcast by the tracked broadcaster.
type Session struct {
	ID          string            `json:"id"`
	Broadcaster string            `json:"broadcaster"`
	Platform    Platform          `json:"platform"`
	Status      SessionStatus     `json:"status"`
	Source      InteractionSource `json:"source"`
	StartedAt   time.Time         `json:"started_at"`
	EndedAt     *time.Time        `json:"ended_at,omitempty"`
}

// Duration returns how long the session ran, or has been running as of now.
func (s *Session) Duration(now time.Time) time.Duration {
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	if end.Before(s.StartedAt) {
		return 0
	}
	return end.Sub(s.StartedAt)
}
