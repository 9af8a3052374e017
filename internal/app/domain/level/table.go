// Package level defines the progression level table derived from the Core
// balance.
package level

import "github.com/shopspring/decimal"

// Threshold pairs a level with the minimum Core balance required to hold it.
type Threshold struct {
	Level        int
	RequiredCore decimal.Decimal
}

// MaxLevel is the highest level the static table covers. RequiredCoreFor
// extrapolates beyond it.
const MaxLevel = 30

// table holds the 30 thresholds: powers of two up to level 6, fixed values
// for levels 7-10, then doubling from level 11 onward.
var table = buildTable()

func buildTable() []Threshold {
	required := make([]int64, 0, MaxLevel)
	for lvl := 1; lvl <= 6; lvl++ {
		required = append(required, 1<<uint(lvl))
	}
	required = append(required, 125, 250, 500, 1000)
	last := int64(1000)
	for lvl := 11; lvl <= MaxLevel; lvl++ {
		last *= 2
		required = append(required, last)
	}

	out := make([]Threshold, MaxLevel)
	for i, req := range required {
		out[i] = Threshold{Level: i + 1, RequiredCore: decimal.NewFromInt(req)}
	}
	return out
}

// Thresholds returns a copy of the level table in ascending order.
func Thresholds() []Threshold {
	return append([]Threshold(nil), table...)
}

// LevelFor returns the highest level whose threshold is at or below core.
// Balances below the first threshold, including negative ones, map to level 0.
func LevelFor(core decimal.Decimal) int {
	lvl := 0
	for _, t := range table {
		if core.Cmp(t.RequiredCore) < 0 {
			break
		}
		lvl = t.Level
	}
	return lvl
}

// RequiredCoreFor returns the Core balance needed to hold the given level.
// Levels past the table continue the doubling pattern; level 0 and below
// require nothing.
func RequiredCoreFor(lvl int) decimal.Decimal {
	if lvl <= 0 {
		return decimal.Zero
	}
	if lvl <= MaxLevel {
		return table[lvl-1].RequiredCore
	}
	required := table[MaxLevel-1].RequiredCore
	two := decimal.NewFromInt(2)
	for i := MaxLevel; i < lvl; i++ {
		required = required.Mul(two)
	}
	return required
}
