package server

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alfredjeanlab/castboard/internal/events"
	"github.com/alfredjeanlab/castboard/internal/mediastore"
	"github.com/alfredjeanlab/castboard/internal/model"
)

// personSorts are the accepted values of the sort query parameter.
var personSorts = map[string]bool{
	"": true, "username": true, "-username": true,
	"last_seen_at": true, "-last_seen_at": true,
	"first_seen_at": true, "-first_seen_at": true,
	"interaction_count": true, "-interaction_count": true,
	"created_at": true, "-created_at": true,
}

// handleListPersons handles GET /api/person/all.
func (s *Server) handleListPersons(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeStoreError(w, r, "persons", err)
		return
	}
	q := r.URL.Query()
	filter := model.PersonFilter{
		Search: strings.TrimSpace(q.Get("search")),
		Role:   model.Role(q.Get("role")),
		Sort:   q.Get("sort"),
		Page:   page,
	}
	if filter.Role != "" && !filter.Role.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}
	if !personSorts[filter.Sort] {
		writeError(w, http.StatusBadRequest, "invalid sort")
		return
	}

	persons, total, err := s.store.ListPersons(r.Context(), filter)
	if err != nil {
		writeStoreError(w, r, "persons", err)
		return
	}
	writeList(w, persons, total, page)
}

// handleGetPerson handles GET /api/person/{id}.
func (s *Server) handleGetPerson(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPerson(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, "person", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type updatePersonRequest struct {
	Notes *string   `json:"notes" validate:"omitempty,max=10000"`
	Tags  *[]string `json:"tags" validate:"omitempty,max=50,dive,min=1,max=64"`
	Role  *string   `json:"role" validate:"omitempty,oneof=model viewer"`
}

// handleUpdatePerson handles PATCH /api/person/{id}.
func (s *Server) handleUpdatePerson(w http.ResponseWriter, r *http.Request) {
	var req updatePersonRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p, err := s.store.GetPerson(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, "person", err)
		return
	}

	changes := make(map[string]any)
	if req.Notes != nil {
		p.Notes = *req.Notes
		changes["notes"] = p.Notes
	}
	if req.Tags != nil {
		p.Tags = normalizeTags(*req.Tags)
		changes["tags"] = p.Tags
	}
	if req.Role != nil {
		p.Role = model.Role(*req.Role)
		changes["role"] = p.Role
	}
	if err := model.ValidatePerson(p); err != nil {
		writeStoreError(w, r, "person", err)
		return
	}
	if err := s.store.UpdatePerson(r.Context(), p); err != nil {
		writeStoreError(w, r, "person", err)
		return
	}

	s.Notify(r.Context(), events.TopicPersonUpdated, p.ID, actor(r), events.PersonUpdated{Person: p, Changes: changes})
	writeJSON(w, http.StatusOK, p)
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// handleDeletePerson handles DELETE /api/person/{id}.
func (s *Server) handleDeletePerson(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeletePerson(r.Context(), id); err != nil {
		writeStoreError(w, r, "person", err)
		return
	}
	s.Notify(r.Context(), events.TopicPersonDeleted, id, actor(r), events.PersonDeleted{PersonID: id})
	w.WriteHeader(http.StatusNoContent)
}

// requirePerson loads the {id} person, writing 404 when it is missing.
func (s *Server) requirePerson(w http.ResponseWriter, r *http.Request) (*model.Person, bool) {
	p, err := s.store.GetPerson(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, "person", err)
		return nil, false
	}
	return p, true
}

// handleListSnapshots handles GET /api/person/{id}/snapshots.
func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeStoreError(w, r, "snapshots", err)
		return
	}
	p, ok := s.requirePerson(w, r)
	if !ok {
		return
	}
	snaps, total, err := s.store.ListSnapshots(r.Context(), p.ID, page)
	if err != nil {
		writeStoreError(w, r, "snapshots", err)
		return
	}
	writeList(w, snaps, total, page)
}

// handlePersonInteractions handles GET /api/person/{id}/interactions.
func (s *Server) handlePersonInteractions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseInteractionFilter(r)
	if err != nil {
		writeStoreError(w, r, "interactions", err)
		return
	}
	p, ok := s.requirePerson(w, r)
	if !ok {
		return
	}
	filter.PersonID = p.ID
	items, total, err := s.store.ListInteractions(r.Context(), filter)
	if err != nil {
		writeStoreError(w, r, "interactions", err)
		return
	}
	writeList(w, items, total, filter.Page)
}

// parseInteractionFilter reads limit, offset, type (comma-separated),
// session_id, since and until (RFC 3339).
func parseInteractionFilter(r *http.Request) (model.InteractionFilter, error) {
	page, err := parsePage(r)
	if err != nil {
		return model.InteractionFilter{}, err
	}
	q := r.URL.Query()
	f := model.InteractionFilter{SessionID: q.Get("session_id"), Page: page}
	if v := q.Get("type"); v != "" {
		for _, t := range strings.Split(v, ",") {
			typ := model.InteractionType(strings.ToUpper(strings.TrimSpace(t)))
			if !typ.IsValid() {
				return f, inputError("invalid interaction type " + t)
			}
			f.Types = append(f.Types, typ)
		}
	}
	for name, dst := range map[string]**time.Time{"since": &f.Since, "until": &f.Until} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, inputError(name + " must be an RFC 3339 timestamp")
			}
			*dst = &t
		}
	}
	return f, nil
}

type addInteractionRequest struct {
	Type      string     `json:"type" validate:"required"`
	Content   string     `json:"content" validate:"max=5000"`
	Tokens    int        `json:"tokens" validate:"min=0"`
	Timestamp *time.Time `json:"timestamp"`
}

// handleAddInteraction handles POST /api/person/{id}/interactions. Manual
// entries attach to the live session when there is one.
func (s *Server) handleAddInteraction(w http.ResponseWriter, r *http.Request) {
	var req addInteractionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, ok := s.requirePerson(w, r)
	if !ok {
		return
	}

	in := &model.Interaction{
		PersonID:  p.ID,
		Type:      model.InteractionType(strings.ToUpper(req.Type)),
		Content:   req.Content,
		Tokens:    req.Tokens,
		Timestamp: s.now().UTC(),
		Source:    model.SourceManual,
	}
	if req.Timestamp != nil {
		in.Timestamp = req.Timestamp.UTC()
	}
	if live, err := s.store.GetLiveSession(r.Context()); err == nil {
		in.SessionID = live.ID
	} else if !errors.Is(err, sql.ErrNoRows) {
		writeStoreError(w, r, "session", err)
		return
	}
	if err := model.ValidateInteraction(in); err != nil {
		writeStoreError(w, r, "interaction", err)
		return
	}
	if err := s.store.AddInteraction(r.Context(), in); err != nil {
		writeStoreError(w, r, "interaction", err)
		return
	}

	s.Notify(r.Context(), events.TopicInteractionAdded, p.ID, actor(r), events.InteractionAdded{Interaction: in})
	writeJSON(w, http.StatusCreated, in)
}

// handlePersonFollowHistory handles GET /api/person/{id}/follow-history.
func (s *Server) handlePersonFollowHistory(w http.ResponseWriter, r *http.Request) {
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
	p, ok := s.requirePerson(w, r)
	if !ok {
		return
	}
	records, total, err := s.store.ListFollowHistory(r.Context(), p.ID, dir, page)
	if err != nil {
		writeStoreError(w, r, "follow history", err)
		return
	}
	writeList(w, records, total, page)
}

// handleListImages handles GET /api/person/{id}/images.
func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requirePerson(w, r)
	if !ok {
		return
	}
	images, err := s.store.ListProfileImages(r.Context(), p.ID)
	if err != nil {
		writeStoreError(w, r, "images", err)
		return
	}
	if images == nil {
		images = []*model.ProfileImage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"images": images})
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true}

// handleUploadImage handles POST /api/person/{id}/images (multipart "file").
func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	if s.objects == nil {
		writeError(w, http.StatusServiceUnavailable, "object storage is not configured")
		return
	}
	p, ok := s.requirePerson(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxUpload+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if int64(len(data)) > s.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}
	ext := strings.ToLower(path.Ext(header.Filename))
	mime := http.DetectContentType(data)
	if !imageExts[ext] || !strings.HasPrefix(mime, "image/") {
		writeError(w, http.StatusBadRequest, "file must be a jpg, png, gif or webp image")
		return
	}

	key, err := mediastore.ImageKey(s.imagePrefix, p.Username, ext)
	if err != nil {
		writeStoreError(w, r, "image", err)
		return
	}
	existing, err := s.store.ListProfileImages(r.Context(), p.ID)
	if err != nil {
		writeStoreError(w, r, "images", err)
		return
	}
	if err := s.objects.Put(r.Context(), key, bytes.Clone(data), mime); err != nil {
		writeStoreError(w, r, "image", err)
		return
	}
	img := &model.ProfileImage{
		ID:         uuid.NewString(),
		PersonID:   p.ID,
		FilePath:   key,
		Source:     model.ImageUpload,
		MimeType:   mime,
		SizeBytes:  int64(len(data)),
		IsPrimary:  len(existing) == 0,
		UploadedAt: s.now().UTC(),
	}
	if err := s.store.AddProfileImage(r.Context(), img); err != nil {
		// No row references the object; remove it so it is not orphaned.
		if delErr := s.objects.Delete(context.WithoutCancel(r.Context()), key); delErr != nil {
			slog.Warn("failed to remove orphaned upload", "key", key, "error", delErr)
		}
		writeStoreError(w, r, "image", err)
		return
	}

	s.Notify(r.Context(), events.TopicImageAdded, p.ID, actor(r), events.ImageAdded{Image: img})
	writeJSON(w, http.StatusCreated, img)
}

// handleDeleteImage handles DELETE /api/person/{id}/images/{image_id}. The
// row is soft-deleted; the object stays until media quarantine moves it.
func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	img, err := s.store.GetProfileImage(r.Context(), r.PathValue("image_id"))
	if err != nil {
		writeStoreError(w, r, "image", err)
		return
	}
	if img.PersonID != r.PathValue("id") {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	if err := s.store.SoftDeleteProfileImage(r.Context(), img.ID, s.now().UTC()); err != nil {
		writeStoreError(w, r, "image", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// actor names the logged-in operator for the event log.
func actor(r *http.Request) string {
	if _, u := authFrom(r.Context()); u != nil {
		return u.Username
	}
	return ""
}
