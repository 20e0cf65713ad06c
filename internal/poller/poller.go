// Package poller follows the Chaturbate Events API feed and turns each event
// into stored interactions, session changes, follow records and room
// presence updates.
package poller

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alfredjeanlab/castboard/internal/broadcast"
	"github.com/alfredjeanlab/castboard/internal/chaturbate"
	"github.com/alfredjeanlab/castboard/internal/events"
	"github.com/alfredjeanlab/castboard/internal/metrics"
	"github.com/alfredjeanlab/castboard/internal/model"
	"github.com/alfredjeanlab/castboard/internal/presence"
	"github.com/alfredjeanlab/castboard/internal/store"
)

// DefaultBackoff is the fixed wait after a failed poll.
const DefaultBackoff = 3 * time.Second

// Source yields Events API batches.
type Source interface {
	Poll(ctx context.Context, url string) (*chaturbate.Batch, error)
}

// Notifier records and fans out a domain event. Implementations are
// best-effort and never fail the caller.
type Notifier interface {
	Notify(ctx context.Context, topic, subjectID, actor string, event any)
}

// Config wires a Poller.
type Config struct {
	Store       store.Store
	Source      Source
	Tracker     *presence.Tracker
	Notifier    Notifier
	Broadcaster string
	Backoff     time.Duration
	Logger      *slog.Logger
}

// Poller consumes the feed. Run must not be called concurrently.
type Poller struct {
	store       store.Store
	source      Source
	tracker     *presence.Tracker
	notify      Notifier
	broadcaster string
	backoff     time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a Poller. Tracker and Notifier may be nil.
func New(cfg Config) *Poller {
	p := &Poller{
		store:       cfg.Store,
		source:      cfg.Source,
		tracker:     cfg.Tracker,
		notify:      cfg.Notifier,
		broadcaster: model.NormalizeUsername(cfg.Broadcaster),
		backoff:     cfg.Backoff,
		logger:      cfg.Logger,
		now:         time.Now,
	}
	if p.backoff <= 0 {
		p.backoff = DefaultBackoff
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.tracker == nil {
		p.tracker = presence.New()
	}
	if p.notify == nil {
		p.notify = discard{}
	}
	return p
}

type discard struct{}

func (discard) Notify(context.Context, string, string, string, any) {}

// Run polls from url until ctx is done. Failed polls are retried against the
// same URL after the backoff.
func (p *Poller) Run(ctx context.Context, url string) error {
	p.logger.Info("poller: started", "broadcaster", p.broadcaster, "url", trimURL(url))
	for {
		if ctx.Err() != nil {
			p.logger.Info("poller: stopped")
			return nil
		}
		batch, err := p.source.Poll(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			metrics.PollerErrors.WithLabelValues("poll").Inc()
			p.logger.Warn("poller: poll failed", "err", err, "retry_in", p.backoff)
			select {
			case <-ctx.Done():
			case <-time.After(p.backoff):
			}
			continue
		}
		for _, ev := range batch.Events {
			if err := p.Handle(ctx, ev); err != nil {
				metrics.PollerErrors.WithLabelValues("handle").Inc()
				p.logger.Error("poller: event failed", "method", ev.Method, "id", ev.ID, "err", err)
			}
		}
		url = batch.NextURL
	}
}

var interactionTypes = map[string]model.InteractionType{
	chaturbate.MethodUserEnter:         model.InteractionUserEnter,
	chaturbate.MethodUserLeave:         model.InteractionUserLeave,
	chaturbate.MethodFollow:            model.InteractionFollow,
	chaturbate.MethodUnfollow:          model.InteractionUnfollow,
	chaturbate.MethodFanclubJoin:       model.InteractionFanclubJoin,
	chaturbate.MethodChatMessage:       model.InteractionChat,
	chaturbate.MethodPrivateMessage:    model.InteractionPrivateMessage,
	chaturbate.MethodTip:               model.InteractionTip,
	chaturbate.MethodRoomSubjectChange: model.InteractionRoomSubjectChange,
	chaturbate.MethodMediaPurchase:     model.InteractionMediaPurchase,
}

// Handle applies one event. Re-delivered events are ignored.
func (p *Poller) Handle(ctx context.Context, ev chaturbate.Event) error {
	at := p.now().UTC()
	switch ev.Method {
	case chaturbate.MethodBroadcastStart:
		metrics.PollerEvents.WithLabelValues(ev.Method).Inc()
		return p.startSession(ctx, at)
	case chaturbate.MethodBroadcastStop:
		metrics.PollerEvents.WithLabelValues(ev.Method).Inc()
		return p.endSession(ctx, at)
	}

	typ, ok := interactionTypes[ev.Method]
	if !ok {
		metrics.PollerEvents.WithLabelValues("unknown").Inc()
		p.logger.Debug("poller: ignoring event", "method", ev.Method, "id", ev.ID)
		return nil
	}
	metrics.PollerEvents.WithLabelValues(ev.Method).Inc()

	username := model.NormalizeUsername(ev.Username())
	if username == "" && typ == model.InteractionRoomSubjectChange {
		username = model.NormalizeUsername(ev.Object.Broadcaster)
		if username == "" {
			username = p.broadcaster
		}
	}
	if username == "" {
		return fmt.Errorf("%s event %s has no user", ev.Method, ev.ID)
	}

	sessionID, err := p.liveSession(ctx)
	if err != nil {
		return err
	}

	in := &model.Interaction{
		SessionID:  sessionID,
		Type:       typ,
		Timestamp:  at,
		Source:     model.SourceEventsAPI,
		ExternalID: ev.ID,
		Metadata:   ev.Raw,
	}
	fillContent(in, ev)

	var (
		person *model.Person
		record *model.FollowHistoryRecord
	)
	err = p.store.RunInTransaction(ctx, func(tx store.Store) error {
		role := model.RoleViewer
		if username == p.broadcaster {
			role = model.RoleModel
		}
		person = model.NewPerson(username, role, at)
		if err := tx.UpsertPerson(ctx, person); err != nil {
			return fmt.Errorf("upsert person: %w", err)
		}
		in.PersonID = person.ID
		if err := tx.AddInteraction(ctx, in); err != nil {
			return err
		}
		if typ != model.InteractionFollow && typ != model.InteractionUnfollow {
			return nil
		}
		action := model.ActionFollow
		if typ == model.InteractionUnfollow {
			action = model.ActionUnfollow
		}
		record = &model.FollowHistoryRecord{
			PersonID:   person.ID,
			Direction:  model.DirectionFollower,
			Action:     action,
			Source:     model.FollowFromEvents,
			DetectedAt: at,
		}
		if err := tx.AddFollowRecord(ctx, record); err != nil {
			return fmt.Errorf("add follow record: %w", err)
		}
		return tx.SetFollowState(ctx, person.ID, model.DirectionFollower, action == model.ActionFollow)
	})
	if errors.Is(err, store.ErrDuplicate) {
		p.logger.Debug("poller: duplicate event", "id", ev.ID)
		return nil
	}
	if err != nil {
		return err
	}

	p.notify.Notify(ctx, events.TopicInteractionAdded, person.ID, string(model.SourceEventsAPI), events.InteractionAdded{Interaction: in})
	if record != nil {
		p.notify.Notify(ctx, events.TopicFollowChanged, person.ID, string(model.SourceEventsAPI), events.FollowChanged{Record: record})
	}
	p.updatePresence(ctx, typ, username, at)
	return nil
}

func fillContent(in *model.Interaction, ev chaturbate.Event) {
	o := ev.Object
	switch {
	case o.Tip != nil:
		in.Tokens = o.Tip.Tokens
		in.Content = o.Tip.Message
	case o.Message != nil:
		in.Content = o.Message.Message
	case o.Media != nil:
		in.Tokens = o.Media.Tokens
		in.Content = o.Media.Name
	case o.Subject != "":
		in.Content = o.Subject
	}
}

func (p *Poller) updatePresence(ctx context.Context, typ model.InteractionType, username string, at time.Time) {
	if username == p.broadcaster {
		return
	}
	switch typ {
	case model.InteractionUserLeave:
		if p.tracker.Leave(username) {
			p.presenceChanged(ctx, events.TopicPresenceLeave, username)
		}
	case model.InteractionFollow, model.InteractionUnfollow:
		// Follows can come from outside the room.
	default:
		if p.tracker.Seen(username, string(typ), at) {
			p.presenceChanged(ctx, events.TopicPresenceEnter, username)
		}
	}
}

func (p *Poller) presenceChanged(ctx context.Context, topic, username string) {
	n := p.tracker.Count()
	metrics.RoomViewers.Set(float64(n))
	p.notify.Notify(ctx, topic, username, string(model.SourceEventsAPI), events.PresenceChanged{Username: username, Viewers: n})
}

// liveSession returns the ID of the live session, or "" when none is live.
// Sessions can also be opened and closed through the API, so it is read
// from the store each time.
func (p *Poller) liveSession(ctx context.Context) (string, error) {
	sess, err := p.store.GetLiveSession(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load live session: %w", err)
	}
	return sess.ID, nil
}

func (p *Poller) startSession(ctx context.Context, at time.Time) error {
	sess, err := broadcast.Start(ctx, p.store, p.broadcaster, model.SourceEventsAPI, at)
	if errors.Is(err, store.ErrConflict) {
		p.logger.Info("poller: broadcast already live")
		return nil
	}
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	p.tracker.ResetPeak()
	p.logger.Info("poller: broadcast started", "session_id", sess.ID)
	p.notify.Notify(ctx, events.TopicSessionStarted, sess.ID, string(model.SourceEventsAPI), events.SessionStarted{Session: sess})
	return nil
}

func (p *Poller) endSession(ctx context.Context, at time.Time) error {
	id, err := p.liveSession(ctx)
	if err != nil {
		return err
	}
	if id == "" {
		p.logger.Info("poller: broadcast stop without a live session")
		return nil
	}
	sess, b, err := broadcast.Finish(ctx, p.store, id, at, p.tracker.Peak())
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("finish session: %w", err)
	}
	p.tracker.Clear()
	metrics.RoomViewers.Set(0)
	if sess == nil {
		return nil
	}
	p.logger.Info("poller: broadcast ended", "session_id", sess.ID,
		"duration_minutes", b.DurationMinutes, "total_tokens", b.TotalTokens)
	p.notify.Notify(ctx, events.TopicSessionEnded, sess.ID, string(model.SourceEventsAPI), events.SessionEnded{Session: sess, Broadcast: b})
	return nil
}

// trimURL hides the token in an Events API URL for logging.
func trimURL(u string) string {
	if i := strings.Index(u, "/events/"); i >= 0 {
		return u[:i] + "/events/..."
	}
	return u
}
