// Package growth projects the future value of a Core balance under daily
// compounding plus a constant daily reward, and inversely solves for the
// number of days needed to reach a target.
package growth

import (
	"fmt"
	"math"

	"github.com/Elevate-App/progression_layer/internal/app/domain/ledger"
)

// DefaultMaxDays bounds the bisection search at roughly one century.
const DefaultMaxDays = 36525

// targetTolerance is the absolute convergence tolerance, in balance units.
const targetTolerance = 1e-2

// ProjectCoreAtDay returns the projected Core balance after the given number
// of days: compound growth of the starting balance plus the future value of a
// daily annuity of dailyReward. Days may be fractional for multi-year
// projections. A zero rate degenerates to linear growth.
func ProjectCoreAtDay(startCore, dailyReward, dailyRate, days float64) float64 {
	if days < 0 {
		days = 0
	}
	if dailyRate == 0 {
		return startCore + dailyReward*days
	}
	factor := math.Pow(1+dailyRate, days)
	return startCore*factor + dailyReward*((factor-1)/dailyRate)
}

// DaysToReachTarget solves for the smallest whole number of days at which the
// projection reaches target, by bisection over [0, maxDays]. The projection
// is strictly increasing in days for non-negative rate and reward, so the
// bracket is monotonic. Returns maxDays when the target is unreachable within
// the horizon. The target must exceed the starting balance.
func DaysToReachTarget(target, startCore, dailyReward, dailyRate float64, maxDays int) (int, error) {
	if target <= startCore {
		return 0, fmt.Errorf("target %.2f must exceed starting balance %.2f: %w",
			target, startCore, ledger.ErrInvalidParameter)
	}
	if maxDays <= 0 {
		maxDays = DefaultMaxDays
	}

	if ProjectCoreAtDay(startCore, dailyReward, dailyRate, float64(maxDays)) < target {
		return maxDays, nil
	}

	lo, hi := 0, maxDays
	for lo < hi {
		mid := (lo + hi) / 2
		projected := ProjectCoreAtDay(startCore, dailyReward, dailyRate, float64(mid))
		if math.Abs(projected-target) <= targetTolerance {
			return mid, nil
		}
		if projected < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return hi, nil
}
