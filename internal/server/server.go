package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alfredjeanlab/castboard/internal/auth"
	"github.com/alfredjeanlab/castboard/internal/chaturbate"
	"github.com/alfredjeanlab/castboard/internal/events"
	"github.com/alfredjeanlab/castboard/internal/mediastore"
	"github.com/alfredjeanlab/castboard/internal/model"
	"github.com/alfredjeanlab/castboard/internal/presence"
	"github.com/alfredjeanlab/castboard/internal/statbate"
	"github.com/alfredjeanlab/castboard/internal/store"
	"github.com/alfredjeanlab/castboard/internal/summary"
	"github.com/alfredjeanlab/castboard/internal/upstream"
)

// RoomLookup fetches a user's live room from the Affiliate API.
type RoomLookup interface {
	LookupRoom(ctx context.Context, username string) (*chaturbate.RoomLookup, error)
}

// ModelLookup fetches a user's Statbate profile.
type ModelLookup interface {
	ModelInfo(ctx context.Context, platform model.Platform, username string) (*statbate.ModelInfo, json.RawMessage, error)
}

// Summarizer writes broadcast summaries.
type Summarizer interface {
	Summarize(ctx context.Context, in summary.Input) (string, error)
	Model() string
}

// Config wires a Server. Objects, Statbate and Summarizer are optional; the
// endpoints that need them answer 503 when they are nil.
type Config struct {
	Store      store.Store
	Publisher  events.Publisher
	Auth       *auth.Manager
	Presence   *presence.Tracker
	Objects    mediastore.ObjectStore
	Affiliate  RoomLookup
	Statbate   ModelLookup
	Summarizer Summarizer

	Broadcaster    string
	ImagePrefix    string
	CookieSecure   bool
	LoginRateLimit int // attempts per minute per IP; 0 disables
	CORSOrigins    []string
	MaxUploadBytes int64
}

// Server serves the castboard REST API.
type Server struct {
	store      store.Store
	publisher  events.Publisher
	sseHub     *sseHub
	auth       *auth.Manager
	Presence   *presence.Tracker
	objects    mediastore.ObjectStore
	affiliate  RoomLookup
	statbate   ModelLookup
	summarizer Summarizer

	broadcaster    string
	imagePrefix    string
	cookieSecure   bool
	loginRateLimit int
	corsOrigins    []string
	maxUpload      int64
	now            func() time.Time
}

// New returns a Server for cfg.
func New(cfg Config) *Server {
	s := &Server{
		store:          cfg.Store,
		publisher:      cfg.Publisher,
		sseHub:         newSSEHub(),
		auth:           cfg.Auth,
		Presence:       cfg.Presence,
		objects:        cfg.Objects,
		affiliate:      cfg.Affiliate,
		statbate:       cfg.Statbate,
		summarizer:     cfg.Summarizer,
		broadcaster:    model.NormalizeUsername(cfg.Broadcaster),
		imagePrefix:    cfg.ImagePrefix,
		cookieSecure:   cfg.CookieSecure,
		loginRateLimit: cfg.LoginRateLimit,
		corsOrigins:    cfg.CORSOrigins,
		maxUpload:      cfg.MaxUploadBytes,
		now:            time.Now,
	}
	if s.publisher == nil {
		s.publisher = &events.NoopPublisher{}
	}
	if s.Presence == nil {
		s.Presence = presence.New()
	}
	if s.auth == nil {
		s.auth = auth.NewManager(cfg.Store, 30*24*time.Hour)
	}
	if s.imagePrefix == "" {
		s.imagePrefix = "profiles/"
	}
	if s.maxUpload <= 0 {
		s.maxUpload = 10 << 20
	}
	return s
}

// Notify persists an event to the store, publishes it to NATS and fans it
// out to SSE clients. All three are best-effort; failures are logged but do
// not fail the caller.
func (s *Server) Notify(ctx context.Context, topic, subjectID, actor string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Warn("failed to marshal event", "topic", topic, "subject_id", subjectID, "error", err)
		return
	}
	if err := s.store.RecordEvent(ctx, &model.Event{
		Topic:     topic,
		SubjectID: subjectID,
		Actor:     actor,
		Payload:   payload,
	}); err != nil {
		slog.Warn("failed to record event", "topic", topic, "subject_id", subjectID, "error", err)
	}
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "subject_id", subjectID, "error", err)
	}
	s.sseHub.broadcast(topic, payload)
}

// inputError indicates invalid user input.
// Transport layers map this to 400.
type inputError string

func (e inputError) Error() string { return string(e) }

// writeStoreError maps a store or domain error to a response. what names the
// thing being loaded, e.g. "person".
func writeStoreError(w http.ResponseWriter, r *http.Request, what string, err error) {
	var ie inputError
	var ve *model.ValidationError
	var rv *requestValidationError
	switch {
	case errors.As(err, &ie):
		writeError(w, http.StatusBadRequest, ie.Error())
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.As(err, &rv):
		writeError(w, http.StatusBadRequest, rv.Error())
	case errors.Is(err, sql.ErrNoRows):
		writeError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusConflict, what+" already exists")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, upstream.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "upstream temporarily unavailable")
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
