package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/castboard/internal/events"
	"github.com/alfredjeanlab/castboard/internal/model"
	"github.com/alfredjeanlab/castboard/internal/store"
)

type lookupRequest struct {
	Username        string `json:"username" validate:"required,max=64"`
	Role            string `json:"role" validate:"omitempty,oneof=model viewer"`
	IncludeStatbate bool   `json:"include_statbate"`
}

type lookupResponse struct {
	Person    *model.Person     `json:"person"`
	Snapshots []*model.Snapshot `json:"snapshots"`
	Errors    map[string]string `json:"errors"`
}

// sourceResult is the outcome of one upstream fetch.
type sourceResult struct {
	source  model.SnapshotSource
	metrics model.SnapshotMetrics
	raw     json.RawMessage
	err     error
}

// handleLookup handles POST /api/lookup. Sources are fetched concurrently; a
// failing source is reported in errors and only fails the request when every
// requested source failed.
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	username := model.NormalizeUsername(req.Username)
	if !model.ValidUsername(username) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid username %q", req.Username))
		return
	}
	role := model.Role(req.Role)
	if role == "" {
		role = model.RoleModel
	}
	ctx := r.Context()

	results := s.fetchSources(ctx, username, req.IncludeStatbate)

	resp := lookupResponse{Snapshots: []*model.Snapshot{}, Errors: map[string]string{}}
	var ok []sourceResult
	for _, res := range results {
		if res.err != nil {
			resp.Errors[string(res.source)] = res.err.Error()
			continue
		}
		ok = append(ok, res)
	}
	if len(ok) == 0 {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":  "all lookup sources failed",
			"errors": resp.Errors,
		})
		return
	}

	now := s.now().UTC()
	err := s.store.RunInTransaction(ctx, func(tx store.Store) error {
		p := model.NewPerson(username, role, now)
		if err := tx.UpsertPerson(ctx, p); err != nil {
			return fmt.Errorf("upsert person: %w", err)
		}
		for _, res := range ok {
			data, err := json.Marshal(res.metrics)
			if err != nil {
				return fmt.Errorf("marshal %s metrics: %w", res.source, err)
			}
			snap := &model.Snapshot{
				PersonID:   p.ID,
				Source:     res.source,
				CapturedAt: now,
				Data:       data,
				Raw:        res.raw,
			}
			if err := tx.AddSnapshot(ctx, snap); err != nil {
				return fmt.Errorf("add %s snapshot: %w", res.source, err)
			}
			resp.Snapshots = append(resp.Snapshots, snap)
		}
		resp.Person = p
		return nil
	})
	if err != nil {
		writeStoreError(w, r, "person", err)
		return
	}

	for _, snap := range resp.Snapshots {
		s.Notify(ctx, events.TopicSnapshotAdded, resp.Person.ID, actor(r), events.SnapshotAdded{Snapshot: snap})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) fetchSources(ctx context.Context, username string, withStatbate bool) []sourceResult {
	results := []sourceResult{{source: model.SnapshotAffiliate}}
	if withStatbate {
		results = append(results, sourceResult{source: model.SnapshotStatbate})
	}

	var g errgroup.Group
	g.Go(func() error {
		res := &results[0]
		if s.affiliate == nil {
			res.err = errors.New("affiliate API is not configured")
			return nil
		}
		room, err := s.affiliate.LookupRoom(ctx, username)
		if err != nil {
			res.err = err
			return nil
		}
		res.metrics, res.raw = room.Metrics(), room.Raw
		return nil
	})
	if withStatbate {
		g.Go(func() error {
			res := &results[1]
			if s.statbate == nil {
				res.err = errors.New("statbate is not configured")
				return nil
			}
			info, raw, err := s.statbate.ModelInfo(ctx, model.PlatformChaturbate, username)
			if err != nil {
				res.err = err
				return nil
			}
			res.metrics, res.raw = info.Metrics(), raw
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// handleDashboard handles GET /api/hudson, the overview for the configured
// broadcaster.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := s.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	out := map[string]any{
		"broadcaster": s.broadcaster,
		"viewers":     s.Presence.Count(),
		"peak":        s.Presence.Peak(),
	}

	sess, err := s.store.GetLiveSession(ctx)
	switch {
	case err == nil:
		out["session"] = sess
	case errors.Is(err, sql.ErrNoRows):
		out["session"] = nil
	default:
		writeStoreError(w, r, "dashboard", err)
		return
	}

	tokens, err := s.store.SumTokens(ctx, midnight)
	if err != nil {
		writeStoreError(w, r, "dashboard", err)
		return
	}
	_, tips, err := s.store.ListInteractions(ctx, model.InteractionFilter{
		Types: []model.InteractionType{model.InteractionTip},
		Since: &midnight,
		Page:  model.Page{Limit: 1},
	})
	if err != nil {
		writeStoreError(w, r, "dashboard", err)
		return
	}
	out["today"] = map[string]int{"tokens": tokens, "tips": tips}

	recentLimit := s.settingInt(ctx, "dashboard.recent_limit", 1, model.MaxPageLimit)
	recent, _, err := s.store.ListInteractions(ctx, model.InteractionFilter{Page: model.Page{Limit: recentLimit}})
	if err != nil {
		writeStoreError(w, r, "dashboard", err)
		return
	}
	if recent == nil {
		recent = []*model.Interaction{}
	}
	out["recent"] = recent

	out["snapshot"] = nil
	if s.broadcaster != "" {
		p, err := s.store.GetPersonByUsername(ctx, model.PlatformChaturbate, s.broadcaster)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			writeStoreError(w, r, "dashboard", err)
			return
		}
		if p != nil {
			snap, err := s.store.LatestSnapshot(ctx, p.ID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				writeStoreError(w, r, "dashboard", err)
				return
			}
			out["snapshot"] = snap
		}
	}

	counts, err := s.store.FollowDayCounts(ctx, model.DirectionFollower, now.Add(-24*time.Hour))
	if err != nil {
		writeStoreError(w, r, "dashboard", err)
		return
	}
	followers, err := s.store.CountFollowState(ctx, model.DirectionFollower)
	if err != nil {
		writeStoreError(w, r, "dashboard", err)
		return
	}
	var gained, lost int
	for _, c := range counts {
		gained += c.Follows
		lost += c.Unfollows
	}
	out["followers"] = map[string]int{"total": followers, "gained_24h": gained, "lost_24h": lost}

	writeJSON(w, http.StatusOK, out)
}
