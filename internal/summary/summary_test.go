package summary

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alfredjeanlab/castboard/internal/model"
)

func testInput() Input {
	start := time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)
	return Input{
		Broadcast: &model.Broadcast{
			Broadcaster:     "hudson",
			StartedAt:       start,
			DurationMinutes: 95,
			PeakViewers:     140,
			TotalTokens:     1200,
			TipCount:        14,
			ChatCount:       300,
			UniqueChatters:  42,
			FollowersGained: 9,
			FollowersLost:   2,
			RoomSubject:     "goal: new mic",
		},
		TopTippers: []model.TopTipper{{Username: "alice", Tokens: 500}},
		Chat: []*model.Interaction{
			{Type: model.InteractionChat, Username: "bob", Content: "hello\nthere", Timestamp: start.Add(time.Minute)},
			{Type: model.InteractionTip, Username: "alice", Tokens: 500, Content: "for the mic", Timestamp: start.Add(2 * time.Minute)},
		},
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(testInput())
	for _, want := range []string{
		"Broadcaster: hudson",
		"Duration: 95 minutes",
		"Room subject: goal: new mic",
		"Tokens: 1200 from 14 tips",
		"Followers: +9 / -2",
		"- alice: 500 tokens",
		"[20:01] bob: hello there",
		"[20:02] alice tipped 500: for the mic",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestBuildPrompt_TruncatesChat(t *testing.T) {
	in := testInput()
	in.Chat = nil
	for i := range maxChatLines + 10 {
		in.Chat = append(in.Chat, &model.Interaction{
			Type: model.InteractionChat, Username: "u", Content: "line", Timestamp: time.Unix(int64(i), 0),
		})
	}
	p := BuildPrompt(in)
	if got := strings.Count(p, "] u: line"); got != maxChatLines {
		t.Errorf("chat lines = %d, want %d", got, maxChatLines)
	}
}

func TestBuildPrompt_LongMultibyteChat(t *testing.T) {
	in := testInput()
	in.Chat = []*model.Interaction{{
		Type: model.InteractionChat, Username: "bob", Content: strings.Repeat("é", 150) + " " + strings.Repeat("💋", 100),
		Timestamp: in.Broadcast.StartedAt,
	}}
	p := BuildPrompt(in)
	if !utf8.ValidString(p) {
		t.Fatal("prompt is not valid UTF-8")
	}
	want := "[20:00] bob: " + strings.Repeat("é", 150) + " " + strings.Repeat("💋", maxLineRunes-151) + "\n"
	if !strings.Contains(p, want) {
		t.Errorf("expected chat line cut to %d runes:\n%s", maxLineRunes, p)
	}
}

func TestSummarize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if req.Model != "llama3.1" || req.Stream || len(req.Messages) != 2 {
			t.Errorf("req = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(chatResponse{
			Model:   req.Model,
			Message: chatMessage{Role: "assistant", Content: "  A strong show.  "},
			Done:    true,
		})
	}))
	defer srv.Close()

	s := New(srv.URL+"/", "llama3.1", 0)
	got, err := s.Summarize(context.Background(), testInput())
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "A strong show." {
		t.Errorf("summary = %q", got)
	}
}

func TestSummarize_ModelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error": "model 'nope' not found"}`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL, "nope", 0).Summarize(context.Background(), testInput()); err == nil {
		t.Fatal("expected error")
	}
}
