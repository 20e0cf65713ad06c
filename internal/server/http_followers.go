package server

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/alfredjeanlab/castboard/internal/events"
	"github.com/alfredjeanlab/castboard/internal/model"
	"github.com/alfredjeanlab/castboard/internal/store"
)

const maxTrendDays = 365

func parseDirection(r *http.Request, def model.FollowDirection) (model.FollowDirection, error) {
	v := r.URL.Query().Get("direction")
	if v == "" {
		return def, nil
	}
	dir := model.FollowDirection(v)
	if !dir.IsValid() {
		return "", inputError("direction must be follower or following")
	}
	return dir, nil
}

// handleFollowerTrends handles GET /api/followers/trends?days=N&direction=D.
// running_total ends at the current follower count. days defaults to the
// followers.trend_days setting.
func (s *Server) handleFollowerTrends(w http.ResponseWriter, r *http.Request) {
	days := s.settingInt(r.Context(), "followers.trend_days", 1, maxTrendDays)
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxTrendDays {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("days must be between 1 and %d", maxTrendDays))
			return
		}
		days = n
	}
	dir, err := parseDirection(r, model.DirectionFollower)
	if err != nil {
		writeStoreError(w, r, "trends", err)
		return
	}

	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	since := today.AddDate(0, 0, -(days - 1))

	counts, err := s.store.FollowDayCounts(r.Context(), dir, since)
	if err != nil {
		writeStoreError(w, r, "trends", err)
		return
	}
	current, err := s.store.CountFollowState(r.Context(), dir)
	if err != nil {
		writeStoreError(w, r, "trends", err)
		return
	}
	net := 0
	for _, c := range counts {
		net += c.Follows - c.Unfollows
	}

	points := model.FollowTrend(counts, now, days, current-net)
	writeJSON(w, http.StatusOK, map[string]any{
		"direction": dir,
		"days":      days,
		"current":   current,
		"points":    points,
	})
}

// handleFollowerHistory handles GET /api/followers/history.
func (s *Server) handleFollowerHistory(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeStoreError(w, r, "follow history", err)
		return
	}
	dir, err := parseDirection(r, "")
	if err != nil {
		writeStoreError(w, r, "follow history", err)
		return
	}
	records, total, err := s.store.ListFollowHistory(r.Context(), "", dir, page)
	if err != nil {
		writeStoreError(w, r, "follow history", err)
		return
	}
	writeList(w, records, total, page)
}

type followerImportRequest struct {
	Direction string   `json:"direction" validate:"required,oneof=follower following"`
	Usernames []string `json:"usernames" validate:"max=100000"`
}

type followerImportResult struct {
	Direction model.FollowDirection `json:"direction"`
	Followed  []string              `json:"followed"`
	Unfollows []string              `json:"unfollowed"`
	Unchanged int                   `json:"unchanged"`
	Invalid   []string              `json:"invalid"`
}

// handleFollowerImport handles POST /api/followers/import. The list is the
// complete current set: names not yet recorded get a follow record and names
// missing from it get an unfollow record.
func (s *Server) handleFollowerImport(w http.ResponseWriter, r *http.Request) {
	var req followerImportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	dir := model.FollowDirection(req.Direction)
	ctx := r.Context()

	res := followerImportResult{Direction: dir, Followed: []string{}, Unfollows: []string{}, Invalid: []string{}}
	incoming := make(map[string]bool, len(req.Usernames))
	for _, raw := range req.Usernames {
		name := model.NormalizeUsername(raw)
		if !model.ValidUsername(name) {
			res.Invalid = append(res.Invalid, raw)
			continue
		}
		incoming[name] = true
	}

	var records []*model.FollowHistoryRecord
	err := s.store.RunInTransaction(ctx, func(tx store.Store) error {
		current, err := tx.ListFollowUsernames(ctx, dir)
		if err != nil {
			return fmt.Errorf("list current: %w", err)
		}
		existing := make(map[string]bool, len(current))
		for _, name := range current {
			existing[name] = true
		}

		now := s.now().UTC()
		for name := range incoming {
			if existing[name] {
				res.Unchanged++
				continue
			}
			rec, err := s.recordFollow(ctx, tx, name, dir, model.ActionFollow, now)
			if err != nil {
				return err
			}
			records = append(records, rec)
			res.Followed = append(res.Followed, name)
		}
		for _, name := range current {
			if incoming[name] {
				continue
			}
			rec, err := s.recordFollow(ctx, tx, name, dir, model.ActionUnfollow, now)
			if err != nil {
				return err
			}
			records = append(records, rec)
			res.Unfollows = append(res.Unfollows, name)
		}
		return nil
	})
	if err != nil {
		writeStoreError(w, r, "followers", err)
		return
	}

	for _, rec := range records {
		s.Notify(ctx, events.TopicFollowChanged, rec.PersonID, actor(r), events.FollowChanged{Record: rec})
	}
	sort.Strings(res.Followed)
	sort.Strings(res.Unfollows)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) recordFollow(ctx context.Context, tx store.Store, username string, dir model.FollowDirection, action model.FollowAction, at time.Time) (*model.FollowHistoryRecord, error) {
	role := model.RoleViewer
	if dir == model.DirectionFollowing {
		role = model.RoleModel
	}
	p := model.NewPerson(username, role, at)
	if err := tx.UpsertPerson(ctx, p); err != nil {
		return nil, fmt.Errorf("upsert %s: %w", username, err)
	}
	rec := &model.FollowHistoryRecord{
		PersonID:   p.ID,
		Direction:  dir,
		Action:     action,
		Source:     model.FollowFromImport,
		DetectedAt: at,
	}
	if err := tx.AddFollowRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("record %s: %w", username, err)
	}
	if err := tx.SetFollowState(ctx, p.ID, dir, action == model.ActionFollow); err != nil {
		return nil, fmt.Errorf("follow state %s: %w", username, err)
	}
	return rec, nil
}
