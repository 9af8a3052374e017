// Package levelwatch reconciles the persisted level with the Core balance
// and emits one-shot level-up events.
package levelwatch

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Elevate-App/progression_layer/internal/app/domain/level"
	"github.com/Elevate-App/progression_layer/internal/app/metrics"
	"github.com/Elevate-App/progression_layer/internal/app/services/notify"
	"github.com/Elevate-App/progression_layer/internal/app/storage"
	"github.com/Elevate-App/progression_layer/pkg/logger"
)

// ErrNoPendingEvent is returned by Acknowledge when there is nothing to
// acknowledge.
var ErrNoPendingEvent = errors.New("no pending level-up event")

// Watcher observes Core-balance changes. When the balance justifies a higher
// level than the stored one, it persists the new level and raises a pending
// LevelUp event. While an event is pending, further gains coalesce into it:
// exactly one unacknowledged event exists per user and no level-up is
// silently skipped.
type Watcher struct {
	balances storage.BalanceStore
	events   storage.EventStore
	notifier notify.Notifier
	log      *logger.Logger

	mu       sync.Mutex
	userLock map[string]*sync.Mutex
}

// New constructs a watcher. A nil notifier disables delivery.
func New(balances storage.BalanceStore, events storage.EventStore, notifier notify.Notifier, log *logger.Logger) *Watcher {
	if log == nil {
		log = logger.NewDefault("levelwatch")
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Watcher{
		balances: balances,
		events:   events,
		notifier: notifier,
		log:      log,
		userLock: make(map[string]*sync.Mutex),
	}
}

// CoreChanged recomputes the level for the new Core balance and reconciles
// the stored level. Implements the ledger's CoreObserver.
func (w *Watcher) CoreChanged(ctx context.Context, userID string, core decimal.Decimal) {
	lock := w.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	candidate := level.LevelFor(core)

	bal, err := w.balances.GetBalance(ctx, userID)
	if err != nil {
		w.log.WithError(err).WithField("user_id", userID).Warn("read balance for level check failed")
		return
	}
	if candidate <= bal.Level {
		return
	}

	if err := w.balances.UpdateLevel(ctx, userID, candidate); err != nil {
		// Left for the next core change to retry; the stored level may lag
		// but never exceeds what the balance justifies.
		w.log.WithError(err).WithField("user_id", userID).Warn("persist level failed")
		return
	}

	pending, ok, err := w.events.GetPendingLevelUp(ctx, userID)
	if err != nil {
		w.log.WithError(err).WithField("user_id", userID).Warn("read pending level-up failed")
		return
	}

	if ok {
		// Unacknowledged window: coalesce to the latest level instead of
		// emitting a second event.
		if candidate > pending.NewLevel {
			pending.NewLevel = candidate
			if _, err := w.events.PutLevelUp(ctx, pending); err != nil {
				w.log.WithError(err).WithField("user_id", userID).Warn("coalesce level-up failed")
			}
		}
		return
	}

	evt := level.LevelUp{
		UserID:   userID,
		OldLevel: bal.Level,
		NewLevel: candidate,
		State:    level.EventPending,
	}
	evt, err = w.events.PutLevelUp(ctx, evt)
	if err != nil {
		w.log.WithError(err).WithField("user_id", userID).Warn("store level-up event failed")
		return
	}

	metrics.RecordLevelUp()
	w.log.WithField("user_id", userID).
		WithField("old_level", evt.OldLevel).
		WithField("new_level", evt.NewLevel).
		Info("level up")

	if err := w.notifier.LevelUp(ctx, evt); err != nil {
		w.log.WithError(err).WithField("user_id", userID).Warn("level-up notification failed")
	}
}

// Pending returns the unacknowledged event for a user, if any.
func (w *Watcher) Pending(ctx context.Context, userID string) (level.LevelUp, bool, error) {
	return w.events.GetPendingLevelUp(ctx, userID)
}

// Acknowledge marks the pending event acknowledged, re-arming the watcher
// for the next level gain.
func (w *Watcher) Acknowledge(ctx context.Context, userID string) (level.LevelUp, error) {
	lock := w.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	evt, ok, err := w.events.GetPendingLevelUp(ctx, userID)
	if err != nil {
		return level.LevelUp{}, err
	}
	if !ok {
		return level.LevelUp{}, ErrNoPendingEvent
	}

	evt.State = level.EventAcknowledged
	return w.events.PutLevelUp(ctx, evt)
}

func (w *Watcher) lockFor(userID string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	lock, ok := w.userLock[userID]
	if !ok {
		lock = &sync.Mutex{}
		w.userLock[userID] = lock
	}
	return lock
}
