package growth

import (
	"errors"
	"math"
	"testing"

	"github.com/Elevate-App/progression_layer/internal/app/domain/ledger"
)

const rate = 0.000633

func TestProjectCoreAtDayZeroDays(t *testing.T) {
	if got := ProjectCoreAtDay(1000, 5, rate, 0); got != 1000 {
		t.Fatalf("projection at day 0 = %v, want start balance", got)
	}
}

func TestProjectCoreAtDayZeroRate(t *testing.T) {
	got := ProjectCoreAtDay(100, 2, 0, 50)
	if math.Abs(got-200) > 1e-9 {
		t.Fatalf("linear projection = %v, want 200", got)
	}
}

func TestProjectCoreAtDayNegativeDaysClamped(t *testing.T) {
	if got := ProjectCoreAtDay(500, 1, rate, -10); got != 500 {
		t.Fatalf("negative days should clamp to start, got %v", got)
	}
}

func TestProjectCoreAtDayStrictlyIncreasing(t *testing.T) {
	prev := ProjectCoreAtDay(1000, 1, rate, 0)
	for d := 1; d <= 3650; d++ {
		cur := ProjectCoreAtDay(1000, 1, rate, float64(d))
		if cur <= prev {
			t.Fatalf("projection not increasing at day %d: %v <= %v", d, cur, prev)
		}
		prev = cur
	}
}

func TestProjectCoreAtDayFractionalDays(t *testing.T) {
	years := 2.5
	got := ProjectCoreAtDay(1000, 0, rate, years*365.25)
	want := 1000 * math.Pow(1+rate, years*365.25)
	if math.Abs(got-want) > 1e-6 {
		t.Fatalf("fractional-day projection = %v, want %v", got, want)
	}
}

func TestDaysToReachTargetInvertsProjection(t *testing.T) {
	for _, known := range []int{1, 30, 365, 1827, 7300} {
		target := ProjectCoreAtDay(1000, 3, rate, float64(known))
		got, err := DaysToReachTarget(target, 1000, 3, rate, DefaultMaxDays)
		if err != nil {
			t.Fatalf("days to reach target for D=%d: %v", known, err)
		}
		if got < known-1 || got > known+1 {
			t.Fatalf("D=%d: solved %d days, want within +/-1", known, got)
		}
	}
}

func TestDaysToReachTargetRejectsReachedTarget(t *testing.T) {
	if _, err := DaysToReachTarget(1000, 1000, 1, rate, 0); !errors.Is(err, ledger.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for target == start, got %v", err)
	}
	if _, err := DaysToReachTarget(500, 1000, 1, rate, 0); !errors.Is(err, ledger.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for target < start, got %v", err)
	}
}

func TestDaysToReachTargetUnreachable(t *testing.T) {
	got, err := DaysToReachTarget(1e18, 1, 0, 0.0001, 100)
	if err != nil {
		t.Fatalf("unreachable target: %v", err)
	}
	if got != 100 {
		t.Fatalf("unreachable target should return the horizon, got %d", got)
	}
}
