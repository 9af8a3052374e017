package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Elevate-App/progression_layer/internal/app/domain/ledger"
	"github.com/Elevate-App/progression_layer/internal/app/domain/level"
	"github.com/Elevate-App/progression_layer/internal/app/domain/task"
)

func TestStore_UpdateBalanceVersionGuard(t *testing.T) {
	store := New()
	bal, err := store.CreateBalance(context.Background(), ledger.Balance{UserID: "u1", ReinvestPct: 100})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if bal.Version != 1 {
		t.Fatalf("initial version: %d", bal.Version)
	}

	first := bal
	first.Wallet = decimal.NewFromInt(10)
	updated, err := store.UpdateBalance(context.Background(), first)
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("version after update: %d", updated.Version)
	}

	// A writer holding the stale version must conflict.
	stale := bal
	stale.Wallet = decimal.NewFromInt(99)
	if _, err := store.UpdateBalance(context.Background(), stale); !errors.Is(err, ledger.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	got, err := store.GetBalance(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Wallet.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("stale write applied: %s", got.Wallet)
	}
}

func TestStore_CompleteTaskAndCreditIsOneShot(t *testing.T) {
	store := New()
	if _, err := store.CreateBalance(context.Background(), ledger.Balance{UserID: "u1", ReinvestPct: 100}); err != nil {
		t.Fatalf("create balance: %v", err)
	}
	if _, err := store.CreateDefinition(context.Background(), task.Definition{
		TaskNumber: 1, Title: "t", Kind: "goal_count", Reward: decimal.NewFromInt(5),
	}); err != nil {
		t.Fatalf("create definition: %v", err)
	}
	if _, err := store.CreateAssignment(context.Background(), task.Assignment{UserID: "u1", TaskNumber: 1}); err != nil {
		t.Fatalf("create assignment: %v", err)
	}

	oldCore, newCore, err := store.CompleteTaskAndCredit(context.Background(), "u1", 1, decimal.NewFromInt(5))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !oldCore.IsZero() || !newCore.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("credit amounts: old=%s new=%s", oldCore, newCore)
	}

	if _, _, err := store.CompleteTaskAndCredit(context.Background(), "u1", 1, decimal.NewFromInt(5)); !errors.Is(err, task.ErrInvalidState) {
		t.Fatalf("second completion: expected invalid state, got %v", err)
	}

	bal, err := store.GetBalance(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !bal.Core.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("double credit: %s", bal.Core)
	}

	asn, err := store.GetAssignment(context.Background(), "u1", 1)
	if err != nil {
		t.Fatalf("get assignment: %v", err)
	}
	if asn.Status != task.StatusCompleted || asn.CompletedAt == nil {
		t.Fatalf("assignment not finalised: %+v", asn)
	}
}

func TestStore_PendingLevelUpRoundTrip(t *testing.T) {
	store := New()

	if _, ok, err := store.GetPendingLevelUp(context.Background(), "u1"); err != nil || ok {
		t.Fatalf("fresh store: ok=%v err=%v", ok, err)
	}

	evt, err := store.PutLevelUp(context.Background(), level.LevelUp{
		UserID: "u1", OldLevel: 3, NewLevel: 4, State: level.EventPending,
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if evt.ID == "" {
		t.Fatalf("event id not assigned")
	}

	got, ok, err := store.GetPendingLevelUp(context.Background(), "u1")
	if err != nil || !ok {
		t.Fatalf("pending lookup: ok=%v err=%v", ok, err)
	}
	if got.NewLevel != 4 {
		t.Fatalf("pending event: %+v", got)
	}

	got.State = level.EventAcknowledged
	if _, err := store.PutLevelUp(context.Background(), got); err != nil {
		t.Fatalf("ack put: %v", err)
	}
	if _, ok, _ := store.GetPendingLevelUp(context.Background(), "u1"); ok {
		t.Fatalf("acknowledged event still pending")
	}
}
