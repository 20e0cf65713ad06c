package model

import "time"

// Broadcast is the rolled-up record of an ended session, plus its optional
// AI-generated summary.
type Broadcast struct {
	ID                 string     `json:"id"`
	SessionID          string     `json:"session_id"`
	Broadcaster        string     `json:"broadcaster"`
	StartedAt          time.Time  `json:"started_at"`
	EndedAt            time.Time  `json:"ended_at"`
	DurationMinutes    int        `json:"duration_minutes"`
	PeakViewers        int        `json:"peak_viewers"`
	TotalTokens        int        `json:"total_tokens"`
	TipCount           int        `json:"tip_count"`
	ChatCount          int        `json:"chat_count"`
	UniqueChatters     int        `json:"unique_chatters"`
	FollowersGained    int        `json:"followers_gained"`
	FollowersLost      int        `json:"followers_lost"`
	RoomSubject        string     `json:"room_subject,omitempty"`
	Summary            string     `json:"summary,omitempty"`
	SummaryModel       string     `json:"summary_model,omitempty"`
	SummaryGeneratedAt *time.Time `json:"summary_generated_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// TopTipper is a per-person token total used in broadcast summaries.
type TopTipper struct {
	Username string `json:"username"`
	Tokens   int    `json:"tokens"`
}
