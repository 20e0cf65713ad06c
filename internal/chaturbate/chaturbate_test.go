package chaturbate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const batchJSON = `{
  "events": [
    {"method": "tip", "id": "1700000000000-0",
     "object": {"broadcaster": "hudson", "user": {"username": "alice", "inFanclub": true},
                "tip": {"tokens": 25, "isAnon": false, "message": "hi"}}},
    {"method": "chatMessage", "id": "1700000000000-1",
     "object": {"broadcaster": "hudson", "user": {"username": "bob"},
                "message": {"message": "hello", "color": "#494949"}}},
    {"method": "broadcastStop", "id": "1700000000000-2", "object": {"broadcaster": "hudson"}}
  ],
  "nextUrl": "NEXT"
}`

func TestPoll(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Replace(batchJSON, "NEXT", srvURL+"/next", 1)))
	}))
	defer srv.Close()
	srvURL = srv.URL

	c := NewEventsClient(0, time.Minute)
	b, err := c.Poll(context.Background(), srv.URL+"/events/hudson/token/")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if b.NextURL != srv.URL+"/next" {
		t.Errorf("NextURL = %q", b.NextURL)
	}
	if len(b.Events) != 3 {
		t.Fatalf("got %d events, want 3", len(b.Events))
	}

	tip := b.Events[0]
	if tip.Method != MethodTip || tip.Username() != "alice" || tip.Object.Tip == nil || tip.Object.Tip.Tokens != 25 {
		t.Errorf("tip = %+v", tip)
	}
	if !strings.Contains(string(tip.Raw), `"tokens": 25`) {
		t.Errorf("raw not preserved: %s", tip.Raw)
	}
	if b.Events[1].Object.Message == nil || b.Events[1].Object.Message.Message != "hello" {
		t.Errorf("chat = %+v", b.Events[1])
	}
	if b.Events[2].Username() != "" || b.Events[2].Object.Broadcaster != "hudson" {
		t.Errorf("stop = %+v", b.Events[2])
	}
}

func TestPoll_MissingNextURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"events": []}`))
	}))
	defer srv.Close()

	_, err := NewEventsClient(0, 0).Poll(context.Background(), srv.URL)
	if !errors.Is(err, ErrNoNextURL) {
		t.Fatalf("expected ErrNoNextURL, got %v", err)
	}
}

func TestLookupRoom_Online(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != onlineRoomsPath {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("wm") != "abc12" || r.URL.Query().Get("username") != "hudson" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"count": 1, "results": [{"username": "hudson", "num_users": 120,
			"num_followers": 5400, "room_subject": "goal #fun", "tags": ["fun"], "seconds_online": 600}]}`))
	}))
	defer srv.Close()

	c := NewAffiliateClient(srv.URL+"/", "abc12", time.Second)
	l, err := c.LookupRoom(context.Background(), "hudson")
	if err != nil {
		t.Fatalf("LookupRoom: %v", err)
	}
	if !l.Online || l.Room.NumUsers != 120 {
		t.Fatalf("lookup = %+v", l)
	}
	m := l.Metrics()
	if m.IsOnline == nil || !*m.IsOnline || *m.NumFollowers != 5400 || m.RoomSubject != "goal #fun" {
		t.Errorf("metrics = %+v", m)
	}
}

func TestLookupRoom_Offline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"count": 1, "results": [{"username": "someone_else"}]}`))
	}))
	defer srv.Close()

	l, err := NewAffiliateClient(srv.URL, "", time.Second).LookupRoom(context.Background(), "hudson")
	if err != nil {
		t.Fatalf("LookupRoom: %v", err)
	}
	if l.Online || l.Room != nil {
		t.Fatalf("expected offline, got %+v", l)
	}
	m := l.Metrics()
	if m.IsOnline == nil || *m.IsOnline || m.NumUsers != nil {
		t.Errorf("metrics = %+v", m)
	}
}
