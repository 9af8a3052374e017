// Package yield computes the daily yield earned by a Core balance and its
// split between reinvestment and wallet payout.
package yield

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Elevate-App/progression_layer/internal/app/domain/ledger"
)

// DefaultDailyRate is the fixed daily compounding rate (~26% APY). Configured
// once at the system boundary; users cannot edit it.
var DefaultDailyRate = decimal.RequireFromString("0.000633")

// Daily returns the yield a Core balance earns in one day at the given rate,
// rounded to the persisted precision.
func Daily(core, dailyRate decimal.Decimal) decimal.Decimal {
	return core.Mul(dailyRate).Round(ledger.Precision)
}

// Split divides a total yield into the Core-reinvested portion and the
// Wallet-credited remainder. The two portions always sum exactly to the
// total: toCore is rounded to the persisted precision and toWallet is the
// difference, never an independently rounded product.
func Split(total decimal.Decimal, reinvestPct int) (toCore, toWallet decimal.Decimal, err error) {
	if reinvestPct < ledger.MinReinvestPct || reinvestPct > ledger.MaxReinvestPct {
		return decimal.Zero, decimal.Zero,
			fmt.Errorf("reinvest percentage %d not in [%d,%d]: %w",
				reinvestPct, ledger.MinReinvestPct, ledger.MaxReinvestPct, ledger.ErrInvalidParameter)
	}

	toCore = total.Mul(decimal.NewFromInt(int64(reinvestPct))).
		Div(decimal.NewFromInt(100)).
		Round(ledger.Precision)
	toWallet = total.Sub(toCore)
	return toCore, toWallet, nil
}
