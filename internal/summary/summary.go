// Package summary writes a short recap of a finished broadcast using an
// Ollama-compatible chat endpoint.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alfredjeanlab/castboard/internal/model"
	"github.com/alfredjeanlab/castboard/internal/upstream"
)

// maxChatLines bounds how much chat is quoted in the prompt.
const maxChatLines = 60

const systemPrompt = `You summarize live-stream broadcasts for the broadcaster.
Write 3 to 5 short paragraphs in plain text. Cover how the show went, notable
tippers and moments from chat, and one suggestion for next time. Do not invent
numbers that are not given.`

// Input is everything the prompt is built from.
type Input struct {
	Broadcast   *model.Broadcast
	TopTippers  []model.TopTipper
	Chat        []*model.Interaction // chat and tip interactions, oldest first
	Broadcaster string
}

// Summarizer produces summaries with one model.
type Summarizer struct {
	http    *upstream.Client
	baseURL string
	model   string
}

// New creates a Summarizer. Generation is slow, so timeout is usually minutes.
func New(baseURL, modelName string, timeout time.Duration) *Summarizer {
	if timeout < 2*time.Minute {
		timeout = 2 * time.Minute
	}
	return &Summarizer{
		http:    upstream.New("llm", upstream.Options{Timeout: timeout}),
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelName,
	}
}

// Model returns the model name summaries are generated with.
func (s *Summarizer) Model() string { return s.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

// Summarize returns the generated summary text.
func (s *Summarizer) Summarize(ctx context.Context, in Input) (string, error) {
	req := chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: BuildPrompt(in)},
		},
		Options: map[string]any{"temperature": 0.4},
	}
	var resp chatResponse
	if err := s.http.PostJSON(ctx, s.baseURL+"/api/chat", req, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("llm: %s", resp.Error)
	}
	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return "", errors.New("llm: empty summary")
	}
	return text, nil
}

// BuildPrompt renders the broadcast stats and a sample of chat as the user
// message.
func BuildPrompt(in Input) string {
	b := in.Broadcast
	var sb strings.Builder

	name := in.Broadcaster
	if name == "" {
		name = b.Broadcaster
	}
	fmt.Fprintf(&sb, "Broadcaster: %s\n", name)
	fmt.Fprintf(&sb, "Started: %s UTC\n", b.StartedAt.UTC().Format("2006-01-02 15:04"))
	fmt.Fprintf(&sb, "Duration: %d minutes\n", b.DurationMinutes)
	if b.RoomSubject != "" {
		fmt.Fprintf(&sb, "Room subject: %s\n", b.RoomSubject)
	}
	fmt.Fprintf(&sb, "Peak viewers: %d\n", b.PeakViewers)
	fmt.Fprintf(&sb, "Tokens: %d from %d tips\n", b.TotalTokens, b.TipCount)
	fmt.Fprintf(&sb, "Chat: %d messages from %d chatters\n", b.ChatCount, b.UniqueChatters)
	fmt.Fprintf(&sb, "Followers: +%d / -%d\n", b.FollowersGained, b.FollowersLost)

	if len(in.TopTippers) > 0 {
		sb.WriteString("\nTop tippers:\n")
		for _, tt := range in.TopTippers {
			fmt.Fprintf(&sb, "- %s: %d tokens\n", tt.Username, tt.Tokens)
		}
	}

	chat := in.Chat
	if len(chat) > maxChatLines {
		chat = chat[len(chat)-maxChatLines:]
	}
	if len(chat) > 0 {
		sb.WriteString("\nChat excerpt:\n")
		for _, it := range chat {
			ts := it.Timestamp.UTC().Format("15:04")
			switch it.Type {
			case model.InteractionTip:
				fmt.Fprintf(&sb, "[%s] %s tipped %d", ts, it.Username, it.Tokens)
				if it.Content != "" {
					fmt.Fprintf(&sb, ": %s", oneLine(it.Content))
				}
				sb.WriteByte('\n')
			default:
				fmt.Fprintf(&sb, "[%s] %s: %s\n", ts, it.Username, oneLine(it.Content))
			}
		}
	}
	return sb.String()
}

// maxLineRunes caps a quoted chat line.
const maxLineRunes = 200

// oneLine collapses whitespace and cuts s to maxLineRunes runes.
func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= maxLineRunes {
		return s
	}
	return string([]rune(s)[:maxLineRunes])
}
