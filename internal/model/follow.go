package model

import "time"

// FollowDirection says whether a record is about someone following the
// broadcaster or the broadcaster following someone.
type FollowDirection string

const (
	DirectionFollower  FollowDirection = "follower"
	DirectionFollowing FollowDirection = "following"
)

// IsValid checks whether the direction is a known value.
func (d FollowDirection) IsValid() bool {
	return d == DirectionFollower || d == DirectionFollowing
}

// FollowAction is either a follow or an unfollow.
type FollowAction string

const (
	ActionFollow   FollowAction = "follow"
	ActionUnfollow FollowAction = "unfollow"
)

// FollowSource records how a follow change was detected.
type FollowSource string

const (
	FollowFromEvents FollowSource = "events_api"
	FollowFromImport FollowSource = "list_import"
)

// FollowHistoryRecord is one detected follow or unfollow.
type FollowHistoryRecord struct {
	ID         int64           `json:"id"`
	PersonID   string          `json:"person_id"`
	Username   string          `json:"username,omitempty"`
	Direction  FollowDirection `json:"direction"`
	Action     FollowAction    `json:"action"`
	Source     FollowSource    `json:"source"`
	DetectedAt time.Time       `json:"detected_at"`
}

// FollowDayCount is a per-day aggregate as returned by the store.
type FollowDayCount struct {
	Day       time.Time `json:"day"`
	Follows   int       `json:"follows"`
	Unfollows int       `json:"unfollows"`
}

// FollowTrendPoint is one day of the follower trend series.
type FollowTrendPoint struct {
	Day          string `json:"day"` // YYYY-MM-DD (UTC)
	Follows      int    `json:"follows"`
	Unfollows    int    `json:"unfollows"`
	Net          int    `json:"net"`
	RunningTotal int    `json:"running_total"`
}

// FollowTrend builds a dense day-by-day series ending at end (inclusive)
// covering the given number of days. Days with no activity are zero-filled.
// The running total starts at base, the follower count before the window.
func FollowTrend(counts []FollowDayCount, end time.Time, days, base int) []FollowTrendPoint {
	if days <= 0 {
		return []FollowTrendPoint{}
	}
	byDay := make(map[string]FollowDayCount, len(counts))
	for _, c := range counts {
		byDay[c.Day.UTC().Format(time.DateOnly)] = c
	}

	endDay := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	start := endDay.AddDate(0, 0, -(days - 1))

	points := make([]FollowTrendPoint, 0, days)
	total := base
	for i := range days {
		key := start.AddDate(0, 0, i).Format(time.DateOnly)
		c := byDay[key]
		net := c.Follows - c.Unfollows
		total += net
		points = append(points, FollowTrendPoint{
			Day:          key,
			Follows:      c.Follows,
			Unfollows:    c.Unfollows,
			Net:          net,
			RunningTotal: total,
		})
	}
	return points
}
