package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/alfredjeanlab/castboard/internal/broadcast"
	"github.com/alfredjeanlab/castboard/internal/events"
	"github.com/alfredjeanlab/castboard/internal/model"
	"github.com/alfredjeanlab/castboard/internal/summary"
)

type startSessionRequest struct {
	Broadcaster string `json:"broadcaster" validate:"omitempty,max=64"`
}

// handleStartSession handles POST /api/session/start.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	name := model.NormalizeUsername(req.Broadcaster)
	if name == "" {
		name = s.broadcaster
	}
	if !model.ValidUsername(name) {
		writeError(w, http.StatusBadRequest, "broadcaster is required")
		return
	}

	sess, err := broadcast.Start(r.Context(), s.store, name, model.SourceManual, s.now())
	if err != nil {
		writeStoreError(w, r, "session", err)
		return
	}
	s.Presence.ResetPeak()
	s.Notify(r.Context(), events.TopicSessionStarted, sess.ID, actor(r), events.SessionStarted{Session: sess})
	writeJSON(w, http.StatusCreated, sess)
}

// handleEndSession handles POST /api/session/end.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	live, err := s.store.GetLiveSession(r.Context())
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "no live session")
		return
	}
	if err != nil {
		writeStoreError(w, r, "session", err)
		return
	}

	sess, b, err := broadcast.Finish(r.Context(), s.store, live.ID, s.now(), s.Presence.Peak())
	if err != nil {
		writeStoreError(w, r, "session", err)
		return
	}
	s.Presence.Clear()
	s.Notify(r.Context(), events.TopicSessionEnded, sess.ID, actor(r), events.SessionEnded{Session: sess, Broadcast: b})
	writeJSON(w, http.StatusOK, map[string]any{"session": sess, "broadcast": b})
}

// handleCurrentSession handles GET /api/session/current.
func (s *Server) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetLiveSession(r.Context())
	if err != nil {
		writeStoreError(w, r, "live session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":          sess,
		"viewers":          s.Presence.Count(),
		"peak_viewers":     s.Presence.Peak(),
		"duration_seconds": int(sess.Duration(s.now()).Seconds()),
	})
}

// handleListSessions handles GET /api/sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeStoreError(w, r, "sessions", err)
		return
	}
	sessions, total, err := s.store.ListSessions(r.Context(), page)
	if err != nil {
		writeStoreError(w, r, "sessions", err)
		return
	}
	writeList(w, sessions, total, page)
}

// handleRecentEvents handles GET /api/events/recent: interactions across all
// persons, newest first.
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseInteractionFilter(r)
	if err != nil {
		writeStoreError(w, r, "events", err)
		return
	}
	items, total, err := s.store.ListInteractions(r.Context(), filter)
	if err != nil {
		writeStoreError(w, r, "events", err)
		return
	}
	writeList(w, items, total, filter.Page)
}

// handlePresence handles GET /api/room/presence.
func (s *Server) handlePresence(w http.ResponseWriter, _ *http.Request) {
	viewers := s.Presence.Viewers()
	writeJSON(w, http.StatusOK, map[string]any{
		"viewers": viewers,
		"count":   len(viewers),
		"peak":    s.Presence.Peak(),
	})
}

// handleListBroadcasts handles GET /api/broadcasts.
func (s *Server) handleListBroadcasts(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeStoreError(w, r, "broadcasts", err)
		return
	}
	items, total, err := s.store.ListBroadcasts(r.Context(), page)
	if err != nil {
		writeStoreError(w, r, "broadcasts", err)
		return
	}
	writeList(w, items, total, page)
}

// handleGetBroadcast handles GET /api/broadcasts/{id}.
func (s *Server) handleGetBroadcast(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.GetBroadcast(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, "broadcast", err)
		return
	}
	top, err := s.store.TopTippers(r.Context(), b.SessionID, 10)
	if err != nil {
		writeStoreError(w, r, "broadcast", err)
		return
	}
	if top == nil {
		top = []model.TopTipper{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"broadcast": b, "top_tippers": top})
}

// handleGenerateSummary handles POST /api/broadcasts/{id}/summary/generate.
func (s *Server) handleGenerateSummary(w http.ResponseWriter, r *http.Request) {
	if s.summarizer == nil {
		writeError(w, http.StatusServiceUnavailable, "summaries are not configured")
		return
	}
	ctx := r.Context()
	if !s.settingBool(ctx, "summary.enabled") {
		writeError(w, http.StatusServiceUnavailable, "summaries are disabled")
		return
	}
	b, err := s.store.GetBroadcast(ctx, r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, "broadcast", err)
		return
	}

	in, err := s.summaryInput(ctx, b)
	if err != nil {
		writeStoreError(w, r, "broadcast", err)
		return
	}
	text, err := s.summarizer.Summarize(ctx, in)
	if err != nil {
		writeError(w, http.StatusBadGateway, "summary generation failed: "+err.Error())
		return
	}

	updated, err := s.store.UpdateBroadcastSummary(ctx, b.ID, text, s.summarizer.Model(), s.now().UTC())
	if err != nil {
		writeStoreError(w, r, "broadcast", err)
		return
	}
	s.Notify(ctx, events.TopicBroadcastSummarized, b.ID, actor(r), events.BroadcastSummarized{BroadcastID: b.ID, Model: s.summarizer.Model()})
	writeJSON(w, http.StatusOK, updated)
}

// summaryInput gathers the broadcast's tippers and its chat and tip
// interactions, oldest first.
func (s *Server) summaryInput(ctx context.Context, b *model.Broadcast) (summary.Input, error) {
	top, err := s.store.TopTippers(ctx, b.SessionID, 5)
	if err != nil {
		return summary.Input{}, fmt.Errorf("top tippers: %w", err)
	}
	chat, _, err := s.store.ListInteractions(ctx, model.InteractionFilter{
		SessionID: b.SessionID,
		Types:     []model.InteractionType{model.InteractionChat, model.InteractionTip},
		Page:      model.Page{Limit: model.MaxPageLimit},
	})
	if err != nil {
		return summary.Input{}, fmt.Errorf("chat: %w", err)
	}
	for i, j := 0, len(chat)-1; i < j; i, j = i+1, j-1 {
		chat[i], chat[j] = chat[j], chat[i]
	}
	broadcaster := b.Broadcaster
	if broadcaster == "" {
		broadcaster = s.broadcaster
	}
	return summary.Input{
		Broadcast:   b,
		TopTippers:  top,
		Chat:        chat,
		Broadcaster: strings.ToLower(broadcaster),
	}, nil
}
