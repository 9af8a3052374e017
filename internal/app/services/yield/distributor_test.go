package yield

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Elevate-App/progression_layer/internal/app/domain/ledger"
	ledgersvc "github.com/Elevate-App/progression_layer/internal/app/services/ledger"
	"github.com/Elevate-App/progression_layer/internal/app/storage/memory"
)

func TestDistributor_RunOnce(t *testing.T) {
	store := memory.New()
	rate := decimal.RequireFromString("0.000633")
	svc := ledgersvc.New(store, store, rate, nil)

	seed := func(userID string, core int64) {
		t.Helper()
		_, err := store.CreateBalance(context.Background(), ledger.Balance{
			UserID:      userID,
			Wallet:      decimal.Zero,
			Core:        decimal.NewFromInt(core),
			ReinvestPct: 100,
		})
		if err != nil {
			t.Fatalf("seed %s: %v", userID, err)
		}
	}
	seed("u1", 2000)
	seed("u2", 0)
	seed("u3", 1000)

	d := NewDistributor(store, svc, "", nil)
	d.RunOnce(context.Background())

	bal, err := store.GetBalance(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get u1: %v", err)
	}
	if !bal.Core.Equal(decimal.RequireFromString("2001.266")) {
		t.Fatalf("u1 core after sweep: %s", bal.Core)
	}

	// Zero-core users are skipped entirely.
	bal, err = store.GetBalance(context.Background(), "u2")
	if err != nil {
		t.Fatalf("get u2: %v", err)
	}
	if !bal.Core.IsZero() || !bal.Wallet.IsZero() {
		t.Fatalf("u2 should be untouched: wallet=%s core=%s", bal.Wallet, bal.Core)
	}

	bal, err = store.GetBalance(context.Background(), "u3")
	if err != nil {
		t.Fatalf("get u3: %v", err)
	}
	if !bal.Core.Equal(decimal.RequireFromString("1000.633")) {
		t.Fatalf("u3 core after sweep: %s", bal.Core)
	}

	txs, err := store.ListTransactions(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 1 || txs[0].Type != ledger.TxYield {
		t.Fatalf("yield not journaled: %+v", txs)
	}
}

func TestDistributor_StartStop(t *testing.T) {
	store := memory.New()
	svc := ledgersvc.New(store, store, decimal.Zero, nil)

	d := NewDistributor(store, svc, "@every 1h", nil)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Starting twice is a no-op.
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestDistributor_RejectsBadSchedule(t *testing.T) {
	store := memory.New()
	svc := ledgersvc.New(store, store, decimal.Zero, nil)

	d := NewDistributor(store, svc, "not a cron spec", nil)
	if err := d.Start(context.Background()); err == nil {
		t.Fatalf("expected schedule parse error")
	}
}
