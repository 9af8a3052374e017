package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Elevate-App/progression_layer/internal/app/domain/ledger"
	"github.com/Elevate-App/progression_layer/internal/app/domain/level"
	"github.com/Elevate-App/progression_layer/internal/app/domain/task"
	"github.com/Elevate-App/progression_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu           sync.RWMutex
	balances     map[string]ledger.Balance
	transactions map[string][]ledger.Transaction
	definitions  map[int]task.Definition
	assignments  map[string]map[int]task.Assignment
	levelUps     map[string]level.LevelUp
}

var _ storage.BalanceStore = (*Store)(nil)
var _ storage.JournalStore = (*Store)(nil)
var _ storage.TaskStore = (*Store)(nil)
var _ storage.EventStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		balances:     make(map[string]ledger.Balance),
		transactions: make(map[string][]ledger.Transaction),
		definitions:  make(map[int]task.Definition),
		assignments:  make(map[string]map[int]task.Assignment),
		levelUps:     make(map[string]level.LevelUp),
	}
}

// BalanceStore implementation -------------------------------------------------

func (s *Store) CreateBalance(_ context.Context, bal ledger.Balance) (ledger.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bal.UserID == "" {
		return ledger.Balance{}, fmt.Errorf("user id is required")
	}
	if _, exists := s.balances[bal.UserID]; exists {
		return ledger.Balance{}, fmt.Errorf("balance for user %s already exists", bal.UserID)
	}

	now := time.Now().UTC()
	bal.CreatedAt = now
	bal.UpdatedAt = now
	bal.Version = 1

	s.balances[bal.UserID] = bal
	return bal, nil
}

func (s *Store) GetBalance(_ context.Context, userID string) (ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bal, ok := s.balances[userID]
	if !ok {
		return ledger.Balance{}, fmt.Errorf("user %s: %w", userID, ledger.ErrNotFound)
	}
	return bal, nil
}

func (s *Store) UpdateBalance(_ context.Context, bal ledger.Balance) (ledger.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.balances[bal.UserID]
	if !ok {
		return ledger.Balance{}, fmt.Errorf("user %s: %w", bal.UserID, ledger.ErrNotFound)
	}
	if original.Version != bal.Version {
		return ledger.Balance{}, fmt.Errorf("user %s at version %d, submitted %d: %w",
			bal.UserID, original.Version, bal.Version, ledger.ErrVersionConflict)
	}

	bal.CreatedAt = original.CreatedAt
	bal.UpdatedAt = time.Now().UTC()
	bal.Version = original.Version + 1

	s.balances[bal.UserID] = bal
	return bal, nil
}

func (s *Store) ListBalances(_ context.Context) ([]ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ledger.Balance, 0, len(s.balances))
	for _, bal := range s.balances {
		result = append(result, bal)
	}
	return result, nil
}

func (s *Store) UpdateLevel(_ context.Context, userID string, newLevel int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bal, ok := s.balances[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, ledger.ErrNotFound)
	}
	bal.Level = newLevel
	bal.UpdatedAt = time.Now().UTC()
	s.balances[userID] = bal
	return nil
}

// JournalStore implementation -------------------------------------------------

func (s *Store) AppendTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.CreatedAt = time.Now().UTC()

	s.transactions[tx.UserID] = append(s.transactions[tx.UserID], tx)
	return tx, nil
}

func (s *Store) ListTransactions(_ context.Context, userID string, limit int) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.transactions[userID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]ledger.Transaction(nil), entries...), nil
}

// TaskStore implementation ----------------------------------------------------

func (s *Store) CreateDefinition(_ context.Context, def task.Definition) (task.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if def.TaskNumber <= 0 {
		return task.Definition{}, fmt.Errorf("task number must be positive")
	}
	if _, exists := s.definitions[def.TaskNumber]; exists {
		return task.Definition{}, fmt.Errorf("task %d already exists", def.TaskNumber)
	}

	def.CreatedAt = time.Now().UTC()
	def.Condition = cloneMap(def.Condition)
	s.definitions[def.TaskNumber] = def
	return def, nil
}

func (s *Store) GetDefinition(_ context.Context, taskNumber int) (task.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.definitions[taskNumber]
	if !ok {
		return task.Definition{}, fmt.Errorf("task %d: %w", taskNumber, task.ErrNotFound)
	}
	return cloneDefinition(def), nil
}

func (s *Store) ListDefinitions(_ context.Context) ([]task.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]task.Definition, 0, len(s.definitions))
	for _, def := range s.definitions {
		result = append(result, cloneDefinition(def))
	}
	return result, nil
}

func (s *Store) CreateAssignment(_ context.Context, asn task.Assignment) (task.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if asn.UserID == "" {
		return task.Assignment{}, fmt.Errorf("user id is required")
	}
	if _, ok := s.definitions[asn.TaskNumber]; !ok {
		return task.Assignment{}, fmt.Errorf("task %d: %w", asn.TaskNumber, task.ErrNotFound)
	}
	userTasks := s.assignments[asn.UserID]
	if userTasks == nil {
		userTasks = make(map[int]task.Assignment)
		s.assignments[asn.UserID] = userTasks
	}
	if _, exists := userTasks[asn.TaskNumber]; exists {
		return task.Assignment{}, fmt.Errorf("task %d already assigned to user %s", asn.TaskNumber, asn.UserID)
	}

	now := time.Now().UTC()
	if asn.Status == "" {
		asn.Status = task.StatusAssigned
	}
	asn.CreatedAt = now
	asn.UpdatedAt = now
	asn.Attempts = cloneAttempts(asn.Attempts)

	userTasks[asn.TaskNumber] = asn
	return cloneAssignment(asn), nil
}

func (s *Store) GetAssignment(_ context.Context, userID string, taskNumber int) (task.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	asn, ok := s.assignments[userID][taskNumber]
	if !ok {
		return task.Assignment{}, fmt.Errorf("task %d for user %s: %w", taskNumber, userID, task.ErrNotFound)
	}
	return cloneAssignment(asn), nil
}

func (s *Store) UpdateAssignment(_ context.Context, asn task.Assignment) (task.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.assignments[asn.UserID][asn.TaskNumber]
	if !ok {
		return task.Assignment{}, fmt.Errorf("task %d for user %s: %w", asn.TaskNumber, asn.UserID, task.ErrNotFound)
	}

	asn.CreatedAt = original.CreatedAt
	asn.UpdatedAt = time.Now().UTC()
	asn.Attempts = cloneAttempts(asn.Attempts)

	s.assignments[asn.UserID][asn.TaskNumber] = asn
	return cloneAssignment(asn), nil
}

func (s *Store) ListAssignments(_ context.Context, userID string) ([]task.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]task.Assignment, 0, len(s.assignments[userID]))
	for _, asn := range s.assignments[userID] {
		result = append(result, cloneAssignment(asn))
	}
	return result, nil
}

// CompleteTaskAndCredit flips the assignment to completed and credits the
// reward to the Core balance under a single lock acquisition, so a concurrent
// second attempt observes the completed status and fails without crediting.
func (s *Store) CompleteTaskAndCredit(_ context.Context, userID string, taskNumber int, reward decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	asn, ok := s.assignments[userID][taskNumber]
	if !ok {
		return decimal.Zero, decimal.Zero, fmt.Errorf("task %d for user %s: %w", taskNumber, userID, task.ErrNotFound)
	}
	if !asn.Completable() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("task %d for user %s is %s: %w",
			taskNumber, userID, asn.Status, task.ErrInvalidState)
	}

	bal, ok := s.balances[userID]
	if !ok {
		return decimal.Zero, decimal.Zero, fmt.Errorf("user %s: %w", userID, ledger.ErrNotFound)
	}

	now := time.Now().UTC()
	oldCore := bal.Core
	bal.Core = bal.Core.Add(reward)
	bal.Version++
	bal.UpdatedAt = now
	s.balances[userID] = bal

	asn.Status = task.StatusCompleted
	asn.CompletedAt = &now
	asn.UpdatedAt = now
	s.assignments[userID][taskNumber] = asn

	return oldCore, bal.Core, nil
}

// EventStore implementation ---------------------------------------------------

func (s *Store) PutLevelUp(_ context.Context, evt level.LevelUp) (level.LevelUp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.ID == "" {
		evt.ID = uuid.NewString()
		evt.CreatedAt = time.Now().UTC()
	}
	evt.UpdatedAt = time.Now().UTC()
	s.levelUps[evt.UserID] = evt
	return evt, nil
}

func (s *Store) GetPendingLevelUp(_ context.Context, userID string) (level.LevelUp, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.levelUps[userID]
	if !ok || evt.State != level.EventPending {
		return level.LevelUp{}, false, nil
	}
	return evt, true, nil
}

// Helpers ----------------------------------------------------------------------

func cloneMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneAttempts(src []task.Attempt) []task.Attempt {
	return append([]task.Attempt(nil), src...)
}

func cloneDefinition(def task.Definition) task.Definition {
	def.Condition = cloneMap(def.Condition)
	return def
}

func cloneAssignment(asn task.Assignment) task.Assignment {
	asn.Attempts = cloneAttempts(asn.Attempts)
	if asn.CompletedAt != nil {
		at := *asn.CompletedAt
		asn.CompletedAt = &at
	}
	return asn
}
