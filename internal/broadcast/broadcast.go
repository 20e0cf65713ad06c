// Package broadcast owns the session lifecycle shared by the REST API and the
// events poller: opening a live session and rolling it up when it ends.
package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alfredjeanlab/castboard/internal/model"
	"github.com/alfredjeanlab/castboard/internal/store"
)

// Start opens a live session for broadcaster. It returns store.ErrConflict
// when a session is already live.
func Start(ctx context.Context, s store.InteractionStore, broadcaster string, source model.InteractionSource, at time.Time) (*model.Session, error) {
	sess := &model.Session{
		ID:          uuid.NewString(),
		Broadcaster: model.NormalizeUsername(broadcaster),
		Platform:    model.PlatformChaturbate,
		Status:      model.SessionLive,
		Source:      source,
		StartedAt:   at.UTC(),
	}
	if err := s.StartSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Finish ends the session, computes its broadcast stats from the recorded
// interactions and saves them, all in one transaction. peakViewers is the
// live presence peak; the larger of it and the computed peak is kept.
// A session that is not live yields sql.ErrNoRows.
func Finish(ctx context.Context, s store.Store, sessionID string, at time.Time, peakViewers int) (*model.Session, *model.Broadcast, error) {
	var (
		sess *model.Session
		b    *model.Broadcast
	)
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		var err error
		sess, err = tx.EndSession(ctx, sessionID, at.UTC())
		if err != nil {
			return err
		}
		b, err = tx.ComputeBroadcast(ctx, sess)
		if err != nil {
			return fmt.Errorf("compute broadcast: %w", err)
		}
		b.ID = uuid.NewString()
		if peakViewers > b.PeakViewers {
			b.PeakViewers = peakViewers
		}
		return tx.SaveBroadcast(ctx, b)
	})
	if err != nil {
		return nil, nil, err
	}
	return sess, b, nil
}
