package yield

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Elevate-App/progression_layer/internal/app/domain/ledger"
)

func TestDaily(t *testing.T) {
	core := decimal.NewFromInt(2000)
	got := Daily(core, DefaultDailyRate)
	want := decimal.RequireFromString("1.266")
	if !got.Equal(want) {
		t.Fatalf("Daily(2000) = %s, want %s", got, want)
	}

	if !Daily(decimal.Zero, DefaultDailyRate).IsZero() {
		t.Fatal("zero core should earn zero yield")
	}
}

func TestSplitFullReinvest(t *testing.T) {
	total := decimal.RequireFromString("1.266")
	toCore, toWallet, err := Split(total, 100)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if !toCore.Equal(total) {
		t.Fatalf("toCore = %s, want %s", toCore, total)
	}
	if !toWallet.IsZero() {
		t.Fatalf("toWallet = %s, want 0", toWallet)
	}
}

func TestSplitExactness(t *testing.T) {
	totals := []string{"1.266", "0.00000001", "0.00000003", "123.45678901", "7"}
	for _, raw := range totals {
		total := decimal.RequireFromString(raw)
		for pct := ledger.MinReinvestPct; pct <= ledger.MaxReinvestPct; pct++ {
			toCore, toWallet, err := Split(total, pct)
			if err != nil {
				t.Fatalf("split %s at %d%%: %v", raw, pct, err)
			}
			if !toCore.Add(toWallet).Equal(total) {
				t.Fatalf("split %s at %d%% not exact: %s + %s", raw, pct, toCore, toWallet)
			}
			if toCore.IsNegative() || toWallet.IsNegative() {
				t.Fatalf("split %s at %d%% produced negative portion", raw, pct)
			}
		}
	}
}

func TestSplitRejectsOutOfRange(t *testing.T) {
	for _, pct := range []int{-1, 0, 49, 101, 200} {
		if _, _, err := Split(decimal.NewFromInt(1), pct); !errors.Is(err, ledger.ErrInvalidParameter) {
			t.Fatalf("pct %d: expected ErrInvalidParameter, got %v", pct, err)
		}
	}
}
