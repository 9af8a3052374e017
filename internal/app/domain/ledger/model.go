// Package ledger defines the per-user balance records and the transaction
// journal that every balance mutation appends to.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits balances are persisted with.
const Precision = 8

// Reinvest percentage bounds. The fraction of daily yield routed back into
// the Core balance must stay within these.
const (
	MinReinvestPct = 50
	MaxReinvestPct = 100
)

// Balance is the single mutable record this core owns per user. Wallet holds
// liquid funds, Core holds staked funds that earn yield and determine level.
// Version guards optimistic concurrent updates.
type Balance struct {
	UserID      string
	Wallet      decimal.Decimal
	Core        decimal.Decimal
	Level       int
	ReinvestPct int
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TransactionType classifies journal entries.
type TransactionType string

const (
	TxTopUp      TransactionType = "topup"
	TxTransfer   TransactionType = "transfer"
	TxYield      TransactionType = "yield"
	TxTaskReward TransactionType = "task_reward"
)

// Transaction is an append-only journal entry recording one balance mutation.
type Transaction struct {
	ID          string
	UserID      string
	Type        TransactionType
	WalletDelta decimal.Decimal
	CoreDelta   decimal.Decimal
	WalletAfter decimal.Decimal
	CoreAfter   decimal.Decimal
	Reference   string
	CreatedAt   time.Time
}
