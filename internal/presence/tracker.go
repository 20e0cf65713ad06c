// Package presence tracks who is currently in the broadcaster's room.
//
// The Tracker keeps an in-memory map of viewers, updated by the events
// poller on USER_ENTER and USER_LEAVE and refreshed by any other activity
// (chat, tips). The Events API does not always deliver a leave event, so a
// background reaper drops viewers that have been silent past a threshold.
// The tracker also keeps the peak concurrent viewer count since the last
// ResetPeak, which feeds broadcast stats.
package presence

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Viewer is a single person's presence in the room.
type Viewer struct {
	Username    string    `json:"username"`
	EnteredAt   time.Time `json:"entered_at"`
	LastSeen    time.Time `json:"last_seen"`
	IdleSecs    float64   `json:"idle_secs"`
	Activity    int64     `json:"activity"` // events seen since entering
	LastEvent   string    `json:"last_event,omitempty"`
	StaySeconds float64   `json:"stay_seconds"`
}

// ReaperConfig configures the background idle-viewer reaper.
type ReaperConfig struct {
	// IdleThreshold is how long a viewer may stay silent before being
	// dropped from the room. Default: 30 minutes.
	IdleThreshold time.Duration

	// SweepInterval is how often the reaper scans for idle viewers.
	// Default: 60 seconds.
	SweepInterval time.Duration

	// OnGone is called for each viewer the reaper removes.
	// Called outside the lock.
	OnGone func(username string)
}

// Tracker maintains the in-memory room roster.
type Tracker struct {
	mu      sync.RWMutex
	viewers map[string]*viewerState
	peak    int
	now     func() time.Time

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type viewerState struct {
	enteredAt time.Time
	lastSeen  time.Time
	lastEvent string
	activity  int64
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		viewers: make(map[string]*viewerState),
		now:     time.Now,
	}
}

// Enter records a viewer joining the room. It reports whether the viewer was
// not already present.
func (t *Tracker) Enter(username string, at time.Time) bool {
	return t.record(username, "USER_ENTER", at)
}

// Seen records activity from a viewer, adding them to the room if needed.
// It reports whether the viewer was not already present.
func (t *Tracker) Seen(username, event string, at time.Time) bool {
	return t.record(username, event, at)
}

func (t *Tracker) record(username, event string, at time.Time) bool {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return false
	}
	if at.IsZero() {
		at = t.now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.viewers[username]
	if !ok {
		state = &viewerState{enteredAt: at}
		t.viewers[username] = state
		if len(t.viewers) > t.peak {
			t.peak = len(t.viewers)
		}
	}
	if at.After(state.lastSeen) {
		state.lastSeen = at
	}
	state.lastEvent = event
	state.activity++
	return !ok
}

// Leave removes a viewer. It reports whether the viewer was present.
func (t *Tracker) Leave(username string) bool {
	username = strings.ToLower(strings.TrimSpace(username))

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.viewers[username]; !ok {
		return false
	}
	delete(t.viewers, username)
	return true
}

// Count returns the number of viewers currently in the room.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.viewers)
}

// Peak returns the highest concurrent viewer count since the last ResetPeak.
func (t *Tracker) Peak() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.peak
}

// ResetPeak starts a new peak window at the current count. Called when a
// broadcast session starts.
func (t *Tracker) ResetPeak() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peak = len(t.viewers)
}

// Clear empties the room, e.g. when the broadcast ends.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.viewers = make(map[string]*viewerState)
}

// Viewers returns a snapshot of the room, most recently active first.
func (t *Tracker) Viewers() []Viewer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	out := make([]Viewer, 0, len(t.viewers))
	for name, state := range t.viewers {
		out = append(out, Viewer{
			Username:    name,
			EnteredAt:   state.enteredAt,
			LastSeen:    state.lastSeen,
			IdleSecs:    now.Sub(state.lastSeen).Seconds(),
			Activity:    state.activity,
			LastEvent:   state.lastEvent,
			StaySeconds: now.Sub(state.enteredAt).Seconds(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].Username < out[j].Username
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}

// StartReaper launches a background goroutine that periodically drops idle
// viewers. Call Stop() to shut it down.
func (t *Tracker) StartReaper(cfg *ReaperConfig) {
	if cfg == nil {
		cfg = &ReaperConfig{}
	}
	if cfg.IdleThreshold == 0 {
		cfg.IdleThreshold = 30 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 60 * time.Second
	}

	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})

	go t.reapLoop(cfg)
	slog.Info("presence: reaper started",
		"idle_threshold", cfg.IdleThreshold,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg *ReaperConfig) {
	defer close(t.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

func (t *Tracker) sweep(cfg *ReaperConfig) {
	now := t.now()
	var gone []string

	t.mu.Lock()
	for name, state := range t.viewers {
		if now.Sub(state.lastSeen) > cfg.IdleThreshold {
			delete(t.viewers, name)
			gone = append(gone, name)
		}
	}
	t.mu.Unlock()

	sort.Strings(gone)
	for _, name := range gone {
		slog.Debug("presence: reaper dropped idle viewer",
			"username", name,
			"threshold", cfg.IdleThreshold)
		if cfg.OnGone != nil {
			cfg.OnGone(name)
		}
	}
}
