package server

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/alfredjeanlab/castboard/internal/events"
	"github.com/alfredjeanlab/castboard/internal/mediastore"
	"github.com/alfredjeanlab/castboard/internal/model"
	"github.com/alfredjeanlab/castboard/internal/store"
)

type toggleFavoriteRequest struct {
	MediaType string `json:"media_type" validate:"required,oneof=image video"`
	MediaID   string `json:"media_id" validate:"required,max=128"`
	PersonID  string `json:"person_id" validate:"max=64"`
}

// handleListFavorites handles GET /api/media/favorites?type=image.
func (s *Server) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeStoreError(w, r, "favorites", err)
		return
	}
	mediaType := model.MediaType(r.URL.Query().Get("type"))
	if mediaType != "" && !mediaType.IsValid() {
		writeError(w, http.StatusBadRequest, "type must be image or video")
		return
	}
	items, total, err := s.store.ListFavorites(r.Context(), mediaType, page)
	if err != nil {
		writeStoreError(w, r, "favorites", err)
		return
	}
	writeList(w, items, total, page)
}

// handleToggleFavorite handles POST /api/media/favorites/toggle.
func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	var req toggleFavoriteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()
	mediaType := model.MediaType(req.MediaType)

	var favorited bool
	err := s.store.RunInTransaction(ctx, func(tx store.Store) error {
		_, err := tx.GetFavorite(ctx, mediaType, req.MediaID)
		switch {
		case err == nil:
			favorited = false
			return tx.RemoveFavorite(ctx, mediaType, req.MediaID)
		case errors.Is(err, sql.ErrNoRows):
			favorited = true
			return tx.AddFavorite(ctx, &model.FavoriteMedia{
				MediaType: mediaType,
				MediaID:   req.MediaID,
				PersonID:  req.PersonID,
				CreatedAt: s.now().UTC(),
			})
		default:
			return err
		}
	})
	if err != nil {
		writeStoreError(w, r, "favorite", err)
		return
	}

	s.Notify(ctx, events.TopicFavoriteToggled, req.MediaID, actor(r), events.FavoriteToggled{
		MediaType: mediaType,
		MediaID:   req.MediaID,
		Favorited: favorited,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"favorited": favorited})
}

// handleGetFavorite handles GET /api/media/favorites/{type}/{id}.
func (s *Server) handleGetFavorite(w http.ResponseWriter, r *http.Request) {
	mediaType := model.MediaType(r.PathValue("type"))
	if !mediaType.IsValid() {
		writeError(w, http.StatusBadRequest, "type must be image or video")
		return
	}
	_, err := s.store.GetFavorite(r.Context(), mediaType, r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeJSON(w, http.StatusOK, map[string]bool{"favorited": false})
		return
	}
	if err != nil {
		writeStoreError(w, r, "favorite", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"favorited": true})
}

// handleImageURL handles GET /api/media/images/{id}/url.
func (s *Server) handleImageURL(w http.ResponseWriter, r *http.Request) {
	if s.objects == nil {
		writeError(w, http.StatusServiceUnavailable, "object storage is not configured")
		return
	}
	img, err := s.store.GetProfileImage(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, "image", err)
		return
	}
	if img.DeletedAt != nil {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	url, err := s.objects.PresignGet(r.Context(), img.FilePath, mediastore.PresignTTL)
	if err != nil {
		writeStoreError(w, r, "image", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":        url,
		"expires_at": s.now().UTC().Add(mediastore.PresignTTL).Format(time.RFC3339),
	})
}
