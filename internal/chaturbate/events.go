// Package chaturbate holds the clients for Chaturbate's Events API long-poll
// feed and its public Affiliate API.
package chaturbate

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/alfredjeanlab/castboard/internal/upstream"
)

// Events API method names.
const (
	MethodBroadcastStart    = "broadcastStart"
	MethodBroadcastStop     = "broadcastStop"
	MethodUserEnter         = "userEnter"
	MethodUserLeave         = "userLeave"
	MethodFollow            = "follow"
	MethodUnfollow          = "unfollow"
	MethodFanclubJoin       = "fanclubJoin"
	MethodChatMessage       = "chatMessage"
	MethodPrivateMessage    = "privateMessage"
	MethodTip               = "tip"
	MethodRoomSubjectChange = "roomSubjectChange"
	MethodMediaPurchase     = "mediaPurchase"
)

// EventUser is the user an event is about.
type EventUser struct {
	Username  string `json:"username"`
	InFanclub bool   `json:"inFanclub"`
	HasTokens bool   `json:"hasTokens"`
	IsMod     bool   `json:"isMod"`
	Gender    string `json:"gender,omitempty"`
}

// EventTip is set on tip events.
type EventTip struct {
	Tokens  int    `json:"tokens"`
	IsAnon  bool   `json:"isAnon"`
	Message string `json:"message"`
}

// EventMessage is set on chat and private messages.
type EventMessage struct {
	Message  string `json:"message"`
	Color    string `json:"color,omitempty"`
	Font     string `json:"font,omitempty"`
	FromUser string `json:"fromUser,omitempty"`
	ToUser   string `json:"toUser,omitempty"`
}

// EventMedia is set on media purchases.
type EventMedia struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Tokens int    `json:"tokens"`
}

// EventObject is the method-specific body of an event. Fields a method does
// not use are nil or empty.
type EventObject struct {
	Broadcaster string        `json:"broadcaster,omitempty"`
	User        *EventUser    `json:"user,omitempty"`
	Tip         *EventTip     `json:"tip,omitempty"`
	Message     *EventMessage `json:"message,omitempty"`
	Media       *EventMedia   `json:"media,omitempty"`
	Subject     string        `json:"subject,omitempty"`
}

// Event is one entry of an Events API batch.
type Event struct {
	Method string          `json:"method"`
	ID     string          `json:"id"`
	Object EventObject     `json:"object"`
	Raw    json.RawMessage `json:"-"`
}

// Username returns the acting user's name, or "" when the event has none.
func (e *Event) Username() string {
	if e.Object.User != nil {
		return e.Object.User.Username
	}
	return ""
}

// Batch is one long-poll response.
type Batch struct {
	Events  []Event `json:"events"`
	NextURL string  `json:"nextUrl"`
}

// UnmarshalJSON keeps each event's raw bytes for interaction metadata.
func (b *Batch) UnmarshalJSON(data []byte) error {
	var wire struct {
		Events  []json.RawMessage `json:"events"`
		NextURL string            `json:"nextUrl"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	b.NextURL = wire.NextURL
	b.Events = make([]Event, 0, len(wire.Events))
	for _, raw := range wire.Events {
		var ev struct {
			Method string      `json:"method"`
			ID     string      `json:"id"`
			Object EventObject `json:"object"`
		}
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		b.Events = append(b.Events, Event{Method: ev.Method, ID: ev.ID, Object: ev.Object, Raw: raw})
	}
	return nil
}

// ErrNoNextURL is returned when a batch does not say where to poll next.
var ErrNoNextURL = errors.New("chaturbate: events response missing nextUrl")

// EventsClient reads the Events API feed.
type EventsClient struct {
	http *upstream.Client
}

// NewEventsClient creates a client. The timeout must exceed the feed's
// long-poll wait.
func NewEventsClient(rps float64, timeout time.Duration) *EventsClient {
	if timeout < 30*time.Second {
		timeout = 30 * time.Second
	}
	return &EventsClient{http: upstream.New("chaturbate-events", upstream.Options{
		Timeout: timeout,
		RPS:     rps,
		Burst:   1,
	})}
}

// Poll fetches the batch at url. The caller polls batch.NextURL next.
func (c *EventsClient) Poll(ctx context.Context, url string) (*Batch, error) {
	var b Batch
	if err := c.http.GetJSON(ctx, url, &b); err != nil {
		return nil, err
	}
	if b.NextURL == "" {
		return nil, ErrNoNextURL
	}
	return &b, nil
}
