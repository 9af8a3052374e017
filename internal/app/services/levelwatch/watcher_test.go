package levelwatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Elevate-App/progression_layer/internal/app/domain/ledger"
	"github.com/Elevate-App/progression_layer/internal/app/domain/level"
	"github.com/Elevate-App/progression_layer/internal/app/storage/memory"
)

type countingNotifier struct {
	mu     sync.Mutex
	events []level.LevelUp
}

func (n *countingNotifier) LevelUp(_ context.Context, evt level.LevelUp) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return nil
}

func (n *countingNotifier) TaskCompleted(context.Context, string, int, decimal.Decimal) error {
	return nil
}

func seedBalance(t *testing.T, store *memory.Store, core int64, lvl int) {
	t.Helper()
	_, err := store.CreateBalance(context.Background(), ledger.Balance{
		UserID:      "u1",
		Wallet:      decimal.Zero,
		Core:        decimal.NewFromInt(core),
		Level:       lvl,
		ReinvestPct: 100,
	})
	if err != nil {
		t.Fatalf("seed balance: %v", err)
	}
}

func TestWatcher_EmitsOneEventOnCrossing(t *testing.T) {
	store := memory.New()
	// 70 core crosses the level-6 threshold of 64.
	seedBalance(t, store, 70, 5)

	notifier := &countingNotifier{}
	w := New(store, store, notifier, nil)

	w.CoreChanged(context.Background(), "u1", decimal.NewFromInt(70))

	bal, err := store.GetBalance(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if bal.Level != 6 {
		t.Fatalf("level not reconciled: %d", bal.Level)
	}

	evt, ok, err := w.Pending(context.Background(), "u1")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if !ok {
		t.Fatalf("expected a pending event")
	}
	if evt.OldLevel != 5 || evt.NewLevel != 6 {
		t.Fatalf("event levels: %d -> %d", evt.OldLevel, evt.NewLevel)
	}
	if len(notifier.events) != 1 {
		t.Fatalf("notifier called %d times", len(notifier.events))
	}
}

func TestWatcher_NoEventWithoutGain(t *testing.T) {
	store := memory.New()
	seedBalance(t, store, 40, 5)

	w := New(store, store, nil, nil)
	w.CoreChanged(context.Background(), "u1", decimal.NewFromInt(40))

	if _, ok, _ := w.Pending(context.Background(), "u1"); ok {
		t.Fatalf("no event expected when the level does not rise")
	}
}

func TestWatcher_CoalescesWhilePending(t *testing.T) {
	store := memory.New()
	seedBalance(t, store, 70, 5)

	notifier := &countingNotifier{}
	w := New(store, store, notifier, nil)

	w.CoreChanged(context.Background(), "u1", decimal.NewFromInt(70))

	// A second crossing while the first event is unacknowledged folds into
	// the pending event instead of emitting another one.
	setCore(t, store, 130)
	w.CoreChanged(context.Background(), "u1", decimal.NewFromInt(130))

	evt, ok, err := w.Pending(context.Background(), "u1")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if !ok {
		t.Fatalf("expected a pending event")
	}
	if evt.OldLevel != 5 || evt.NewLevel != 7 {
		t.Fatalf("coalesced event levels: %d -> %d", evt.OldLevel, evt.NewLevel)
	}
	if len(notifier.events) != 1 {
		t.Fatalf("coalescing must not re-notify: %d calls", len(notifier.events))
	}
}

func TestWatcher_AcknowledgeRearms(t *testing.T) {
	store := memory.New()
	seedBalance(t, store, 70, 5)

	w := New(store, store, nil, nil)
	w.CoreChanged(context.Background(), "u1", decimal.NewFromInt(70))

	evt, err := w.Acknowledge(context.Background(), "u1")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if evt.State != level.EventAcknowledged {
		t.Fatalf("state after ack: %s", evt.State)
	}
	if _, ok, _ := w.Pending(context.Background(), "u1"); ok {
		t.Fatalf("event still pending after ack")
	}
	if _, err := w.Acknowledge(context.Background(), "u1"); !errors.Is(err, ErrNoPendingEvent) {
		t.Fatalf("double ack should report no pending event, got %v", err)
	}

	// The next crossing raises a fresh event.
	setCore(t, store, 130)
	w.CoreChanged(context.Background(), "u1", decimal.NewFromInt(130))

	evt, ok, err := w.Pending(context.Background(), "u1")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if !ok {
		t.Fatalf("expected a new pending event after ack")
	}
	if evt.OldLevel != 6 || evt.NewLevel != 7 {
		t.Fatalf("new event levels: %d -> %d", evt.OldLevel, evt.NewLevel)
	}
}

func mustGet(t *testing.T, store *memory.Store) ledger.Balance {
	t.Helper()
	bal, err := store.GetBalance(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	return bal
}

func setCore(t *testing.T, store *memory.Store, core int64) {
	t.Helper()
	bal := mustGet(t, store)
	bal.Core = decimal.NewFromInt(core)
	if _, err := store.UpdateBalance(context.Background(), bal); err != nil {
		t.Fatalf("set core: %v", err)
	}
}
