package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/alfredjeanlab/castboard/internal/events"
	"github.com/alfredjeanlab/castboard/internal/model"
)

// builtinSettings are served when no stored value exists for a key.
var builtinSettings = map[string]*model.Setting{
	"dashboard.refresh_seconds": {Key: "dashboard.refresh_seconds", Value: json.RawMessage(`30`)},
	"dashboard.recent_limit":    {Key: "dashboard.recent_limit", Value: json.RawMessage(`20`)},
	"presence.idle_minutes":     {Key: "presence.idle_minutes", Value: json.RawMessage(`30`)},
	"followers.trend_days":      {Key: "followers.trend_days", Value: json.RawMessage(`30`)},
	"summary.enabled":           {Key: "summary.enabled", Value: json.RawMessage(`true`)},
}

// settingValue decodes the stored value of key into v, falling back to the
// builtin default. Unreadable stored values are logged and the default is
// used instead.
func (s *Server) settingValue(ctx context.Context, key string, v any) {
	setting, err := s.store.GetSetting(ctx, key)
	if err == nil {
		if err := json.Unmarshal(setting.Value, v); err == nil {
			return
		}
		slog.Warn("ignoring invalid setting", "key", key, "value", string(setting.Value))
	} else if !errors.Is(err, sql.ErrNoRows) {
		slog.Warn("failed to read setting", "key", key, "error", err)
	}
	if builtin, ok := builtinSettings[key]; ok {
		_ = json.Unmarshal(builtin.Value, v)
	}
}

// settingInt reads an integer setting, clamped to [lo, hi].
func (s *Server) settingInt(ctx context.Context, key string, lo, hi int) int {
	var n int
	s.settingValue(ctx, key, &n)
	return max(lo, min(n, hi))
}

func (s *Server) settingBool(ctx context.Context, key string) bool {
	var b bool
	s.settingValue(ctx, key, &b)
	return b
}

type setSettingRequest struct {
	Value json.RawMessage `json:"value"`
}

// handleListSettings handles GET /api/settings. Stored values shadow the
// builtin defaults.
func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	stored, err := s.store.ListSettings(r.Context())
	if err != nil {
		writeStoreError(w, r, "settings", err)
		return
	}

	byKey := make(map[string]*model.Setting, len(stored)+len(builtinSettings))
	for key, setting := range builtinSettings {
		byKey[key] = setting
	}
	for _, setting := range stored {
		byKey[setting.Key] = setting
	}

	out := make([]*model.Setting, 0, len(byKey))
	for _, setting := range byKey {
		out = append(out, setting)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	writeJSON(w, http.StatusOK, map[string]any{"settings": out})
}

// handleGetSetting handles GET /api/settings/{key}.
func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	setting, err := s.store.GetSetting(r.Context(), key)
	if errors.Is(err, sql.ErrNoRows) {
		if builtin, ok := builtinSettings[key]; ok {
			writeJSON(w, http.StatusOK, builtin)
			return
		}
	}
	if err != nil {
		writeStoreError(w, r, "setting", err)
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

// handleSetSetting handles PUT /api/settings/{key}.
func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := model.ValidateSettingKey(key); err != nil {
		writeStoreError(w, r, "setting", err)
		return
	}

	var req setSettingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Value) == 0 {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}

	setting := &model.Setting{Key: key, Value: req.Value}
	if err := s.store.SetSetting(r.Context(), setting); err != nil {
		writeStoreError(w, r, "setting", err)
		return
	}
	s.Notify(r.Context(), events.TopicSettingUpdated, key, actor(r), events.SettingUpdated{Setting: setting})
	writeJSON(w, http.StatusOK, setting)
}

// handleDeleteSetting handles DELETE /api/settings/{key}.
func (s *Server) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := s.store.DeleteSetting(r.Context(), key); err != nil {
		writeStoreError(w, r, "setting", err)
		return
	}
	s.Notify(r.Context(), events.TopicSettingDeleted, key, actor(r), events.SettingDeleted{Key: key})
	w.WriteHeader(http.StatusNoContent)
}
