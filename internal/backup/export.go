package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/castboard/internal/model"
)

// Store is the read side of the database a backup walks.
type Store interface {
	ListPersons(ctx context.Context, filter model.PersonFilter) ([]*model.Person, int, error)
	ListSessions(ctx context.Context, page model.Page) ([]*model.Session, int, error)
	ListBroadcasts(ctx context.Context, page model.Page) ([]*model.Broadcast, int, error)
	ListSettings(ctx context.Context) ([]*model.Setting, error)
}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version        string    `json:"version"`
	Type           string    `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	PersonCount    int       `json:"person_count"`
	SessionCount   int       `json:"session_count"`
	BroadcastCount int       `json:"broadcast_count"`
	SettingCount   int       `json:"setting_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Counts reports how many records of each kind an export wrote.
type Counts struct {
	Persons    int
	Sessions   int
	Broadcasts int
	Settings   int
}

// Total is the number of data records, excluding the header.
func (c Counts) Total() int {
	return c.Persons + c.Sessions + c.Broadcasts + c.Settings
}

// pageAll collects every row of a paged list.
func pageAll[T any](ctx context.Context, list func(context.Context, model.Page) ([]T, int, error)) ([]T, error) {
	var all []T
	page := model.Page{Limit: model.MaxPageLimit}
	for {
		rows, total, err := list(ctx, page)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
		page.Offset += len(rows)
		if len(rows) == 0 || page.Offset >= total {
			return all, nil
		}
	}
}

// ExportJSONL writes persons, sessions, broadcasts and settings as JSONL to w.
// Persons are ordered by username, sessions and broadcasts newest first.
func ExportJSONL(ctx context.Context, s Store, w io.Writer) (Counts, error) {
	persons, err := pageAll(ctx, func(ctx context.Context, p model.Page) ([]*model.Person, int, error) {
		return s.ListPersons(ctx, model.PersonFilter{Sort: "username", Page: p})
	})
	if err != nil {
		return Counts{}, fmt.Errorf("list persons: %w", err)
	}
	sessions, err := pageAll(ctx, s.ListSessions)
	if err != nil {
		return Counts{}, fmt.Errorf("list sessions: %w", err)
	}
	broadcasts, err := pageAll(ctx, s.ListBroadcasts)
	if err != nil {
		return Counts{}, fmt.Errorf("list broadcasts: %w", err)
	}
	settings, err := s.ListSettings(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("list settings: %w", err)
	}

	counts := Counts{
		Persons:    len(persons),
		Sessions:   len(sessions),
		Broadcasts: len(broadcasts),
		Settings:   len(settings),
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:        "1",
		Type:           "header",
		Timestamp:      time.Now().UTC(),
		PersonCount:    counts.Persons,
		SessionCount:   counts.Sessions,
		BroadcastCount: counts.Broadcasts,
		SettingCount:   counts.Settings,
	}); err != nil {
		return Counts{}, fmt.Errorf("encode header: %w", err)
	}

	for _, p := range persons {
		if err := enc.Encode(record{Type: "person", Data: p}); err != nil {
			return Counts{}, fmt.Errorf("encode person %s: %w", p.ID, err)
		}
	}
	for _, sess := range sessions {
		if err := enc.Encode(record{Type: "session", Data: sess}); err != nil {
			return Counts{}, fmt.Errorf("encode session %s: %w", sess.ID, err)
		}
	}
	for _, b := range broadcasts {
		if err := enc.Encode(record{Type: "broadcast", Data: b}); err != nil {
			return Counts{}, fmt.Errorf("encode broadcast %s: %w", b.ID, err)
		}
	}
	for _, st := range settings {
		if err := enc.Encode(record{Type: "setting", Data: st}); err != nil {
			return Counts{}, fmt.Errorf("encode setting %s: %w", st.Key, err)
		}
	}

	return counts, nil
}
