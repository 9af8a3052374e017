// Package storage declares the persistence interfaces the progression core
// depends on. Implementations live in the memory, postgres and supabase
// subpackages.
package storage

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Elevate-App/progression_layer/internal/app/domain/ledger"
	"github.com/Elevate-App/progression_layer/internal/app/domain/level"
	"github.com/Elevate-App/progression_layer/internal/app/domain/task"
)

// BalanceStore persists per-user balance records. UpdateBalance is a
// conditional write: it fails with ledger.ErrVersionConflict when the stored
// version no longer matches the record's, which is how concurrent
// read-modify-write sequences are serialized across processes.
type BalanceStore interface {
	CreateBalance(ctx context.Context, bal ledger.Balance) (ledger.Balance, error)
	GetBalance(ctx context.Context, userID string) (ledger.Balance, error)
	UpdateBalance(ctx context.Context, bal ledger.Balance) (ledger.Balance, error)
	ListBalances(ctx context.Context) ([]ledger.Balance, error)

	// UpdateLevel persists a reconciled level without touching the balances.
	UpdateLevel(ctx context.Context, userID string, newLevel int) error
}

// JournalStore appends and lists balance transactions. The journal is
// append-only; entries are never mutated.
type JournalStore interface {
	AppendTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]ledger.Transaction, error)
}

// TaskStore persists task definitions and per-user assignments.
// CompleteTaskAndCredit is the atomic read-check-write primitive behind
// at-most-once crediting: in a single transaction it re-checks the assignment
// is still completable, marks it completed, and credits the reward to the
// user's Core balance. It fails with task.ErrInvalidState when the assignment
// is no longer eligible, leaving everything unchanged.
type TaskStore interface {
	CreateDefinition(ctx context.Context, def task.Definition) (task.Definition, error)
	GetDefinition(ctx context.Context, taskNumber int) (task.Definition, error)
	ListDefinitions(ctx context.Context) ([]task.Definition, error)

	CreateAssignment(ctx context.Context, asn task.Assignment) (task.Assignment, error)
	GetAssignment(ctx context.Context, userID string, taskNumber int) (task.Assignment, error)
	UpdateAssignment(ctx context.Context, asn task.Assignment) (task.Assignment, error)
	ListAssignments(ctx context.Context, userID string) ([]task.Assignment, error)

	CompleteTaskAndCredit(ctx context.Context, userID string, taskNumber int, reward decimal.Decimal) (oldCore, newCore decimal.Decimal, err error)
}

// EventStore persists level-up events so the pending/acknowledged guard
// survives restarts.
type EventStore interface {
	PutLevelUp(ctx context.Context, evt level.LevelUp) (level.LevelUp, error)
	GetPendingLevelUp(ctx context.Context, userID string) (level.LevelUp, bool, error)
}
