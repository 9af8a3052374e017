// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Elevate-App/progression_layer/internal/app/domain/ledger"
	"github.com/Elevate-App/progression_layer/internal/app/domain/level"
	"github.com/Elevate-App/progression_layer/internal/app/domain/task"
	"github.com/Elevate-App/progression_layer/internal/app/storage"
)

// Store implements the storage interfaces over a *sql.DB.
type Store struct {
	db *sql.DB
}

var _ storage.BalanceStore = (*Store)(nil)
var _ storage.JournalStore = (*Store)(nil)
var _ storage.TaskStore = (*Store)(nil)
var _ storage.EventStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- BalanceStore -----------------------------------------------------------

func (s *Store) CreateBalance(ctx context.Context, bal ledger.Balance) (ledger.Balance, error) {
	now := time.Now().UTC()
	bal.CreatedAt = now
	bal.UpdatedAt = now
	bal.Version = 1

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_balances (user_id, wallet_balance, core_balance, level, reinvest_percentage, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, bal.UserID, bal.Wallet.StringFixed(ledger.Precision), bal.Core.StringFixed(ledger.Precision),
		bal.Level, bal.ReinvestPct, bal.Version, bal.CreatedAt, bal.UpdatedAt)
	if err != nil {
		return ledger.Balance{}, wrapStoreErr(err)
	}
	return bal, nil
}

func (s *Store) GetBalance(ctx context.Context, userID string) (ledger.Balance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, wallet_balance, core_balance, level, reinvest_percentage, version, created_at, updated_at
		FROM user_balances WHERE user_id = $1
	`, userID)
	bal, err := scanBalance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Balance{}, fmt.Errorf("user %s: %w", userID, ledger.ErrNotFound)
	}
	return bal, err
}

func (s *Store) UpdateBalance(ctx context.Context, bal ledger.Balance) (ledger.Balance, error) {
	bal.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE user_balances
		SET wallet_balance = $2, core_balance = $3, level = $4, reinvest_percentage = $5,
		    version = version + 1, updated_at = $6
		WHERE user_id = $1 AND version = $7
	`, bal.UserID, bal.Wallet.StringFixed(ledger.Precision), bal.Core.StringFixed(ledger.Precision),
		bal.Level, bal.ReinvestPct, bal.UpdatedAt, bal.Version)
	if err != nil {
		return ledger.Balance{}, wrapStoreErr(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return ledger.Balance{}, wrapStoreErr(err)
	}
	if affected == 0 {
		if _, getErr := s.GetBalance(ctx, bal.UserID); errors.Is(getErr, ledger.ErrNotFound) {
			return ledger.Balance{}, getErr
		}
		return ledger.Balance{}, fmt.Errorf("user %s at version %d: %w",
			bal.UserID, bal.Version, ledger.ErrVersionConflict)
	}

	bal.Version++
	return bal, nil
}

func (s *Store) ListBalances(ctx context.Context) ([]ledger.Balance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, wallet_balance, core_balance, level, reinvest_percentage, version, created_at, updated_at
		FROM user_balances ORDER BY user_id
	`)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	var result []ledger.Balance
	for rows.Next() {
		bal, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, bal)
	}
	return result, rows.Err()
}

func (s *Store) UpdateLevel(ctx context.Context, userID string, newLevel int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_balances SET level = $2, updated_at = $3 WHERE user_id = $1
	`, userID, newLevel, time.Now().UTC())
	return wrapStoreErr(err)
}

// --- JournalStore -----------------------------------------------------------

func (s *Store) AppendTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO balance_transactions (id, user_id, tx_type, wallet_delta, core_delta, wallet_after, core_after, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, tx.ID, tx.UserID, string(tx.Type),
		tx.WalletDelta.StringFixed(ledger.Precision), tx.CoreDelta.StringFixed(ledger.Precision),
		tx.WalletAfter.StringFixed(ledger.Precision), tx.CoreAfter.StringFixed(ledger.Precision),
		tx.Reference, tx.CreatedAt)
	if err != nil {
		return ledger.Transaction{}, wrapStoreErr(err)
	}
	return tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, limit int) ([]ledger.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, tx_type, wallet_delta, core_delta, wallet_after, core_after, reference, created_at
		FROM balance_transactions WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	var result []ledger.Transaction
	for rows.Next() {
		var tx ledger.Transaction
		var txType, walletDelta, coreDelta, walletAfter, coreAfter string
		if err := rows.Scan(&tx.ID, &tx.UserID, &txType, &walletDelta, &coreDelta,
			&walletAfter, &coreAfter, &tx.Reference, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Type = ledger.TransactionType(txType)
		if tx.WalletDelta, err = decimal.NewFromString(walletDelta); err != nil {
			return nil, fmt.Errorf("parse wallet delta: %w", err)
		}
		if tx.CoreDelta, err = decimal.NewFromString(coreDelta); err != nil {
			return nil, fmt.Errorf("parse core delta: %w", err)
		}
		if tx.WalletAfter, err = decimal.NewFromString(walletAfter); err != nil {
			return nil, fmt.Errorf("parse wallet after: %w", err)
		}
		if tx.CoreAfter, err = decimal.NewFromString(coreAfter); err != nil {
			return nil, fmt.Errorf("parse core after: %w", err)
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

// --- TaskStore --------------------------------------------------------------

func (s *Store) CreateDefinition(ctx context.Context, def task.Definition) (task.Definition, error) {
	def.CreatedAt = time.Now().UTC()
	condition, err := json.Marshal(def.Condition)
	if err != nil {
		return task.Definition{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_definitions (task_number, title, kind, reward, completion_condition, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, def.TaskNumber, def.Title, def.Kind, def.Reward.StringFixed(ledger.Precision), condition, def.CreatedAt)
	if err != nil {
		return task.Definition{}, wrapStoreErr(err)
	}
	return def, nil
}

func (s *Store) GetDefinition(ctx context.Context, taskNumber int) (task.Definition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_number, title, kind, reward, completion_condition, created_at
		FROM task_definitions WHERE task_number = $1
	`, taskNumber)

	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Definition{}, fmt.Errorf("task %d: %w", taskNumber, task.ErrNotFound)
	}
	return def, err
}

func (s *Store) ListDefinitions(ctx context.Context) ([]task.Definition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_number, title, kind, reward, completion_condition, created_at
		FROM task_definitions ORDER BY task_number
	`)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	var result []task.Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, def)
	}
	return result, rows.Err()
}

func (s *Store) CreateAssignment(ctx context.Context, asn task.Assignment) (task.Assignment, error) {
	now := time.Now().UTC()
	asn.CreatedAt = now
	asn.UpdatedAt = now
	if asn.Status == "" {
		asn.Status = task.StatusAssigned
	}
	attempts, err := json.Marshal(asn.Attempts)
	if err != nil {
		return task.Assignment{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_assignments (user_id, task_number, status, current_step_index, progress_details, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, asn.UserID, asn.TaskNumber, string(asn.Status), asn.CurrentStep, attempts, asn.CreatedAt, asn.UpdatedAt)
	if err != nil {
		return task.Assignment{}, wrapStoreErr(err)
	}
	return asn, nil
}

func (s *Store) GetAssignment(ctx context.Context, userID string, taskNumber int) (task.Assignment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, task_number, status, current_step_index, progress_details, completed_at, created_at, updated_at
		FROM task_assignments WHERE user_id = $1 AND task_number = $2
	`, userID, taskNumber)

	asn, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Assignment{}, fmt.Errorf("task %d for user %s: %w", taskNumber, userID, task.ErrNotFound)
	}
	return asn, err
}

func (s *Store) UpdateAssignment(ctx context.Context, asn task.Assignment) (task.Assignment, error) {
	asn.UpdatedAt = time.Now().UTC()
	attempts, err := json.Marshal(asn.Attempts)
	if err != nil {
		return task.Assignment{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE task_assignments
		SET status = $3, current_step_index = $4, progress_details = $5, completed_at = $6, updated_at = $7
		WHERE user_id = $1 AND task_number = $2
	`, asn.UserID, asn.TaskNumber, string(asn.Status), asn.CurrentStep, attempts, asn.CompletedAt, asn.UpdatedAt)
	if err != nil {
		return task.Assignment{}, wrapStoreErr(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return task.Assignment{}, wrapStoreErr(err)
	}
	if affected == 0 {
		return task.Assignment{}, fmt.Errorf("task %d for user %s: %w", asn.TaskNumber, asn.UserID, task.ErrNotFound)
	}
	return asn, nil
}

func (s *Store) ListAssignments(ctx context.Context, userID string) ([]task.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, task_number, status, current_step_index, progress_details, completed_at, created_at, updated_at
		FROM task_assignments WHERE user_id = $1 ORDER BY task_number
	`, userID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	var result []task.Assignment
	for rows.Next() {
		asn, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, asn)
	}
	return result, rows.Err()
}

// CompleteTaskAndCredit runs the status re-check, the completion flip and the
// Core credit in a single transaction with the balance row locked, so a
// concurrent or retried attempt cannot double-credit.
func (s *Store) CompleteTaskAndCredit(ctx context.Context, userID string, taskNumber int, reward decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, decimal.Zero, wrapStoreErr(err)
	}
	defer func() { _ = dbTx.Rollback() }()

	var oldCoreRaw string
	err = dbTx.QueryRowContext(ctx, `
		SELECT core_balance FROM user_balances WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&oldCoreRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("user %s: %w", userID, ledger.ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, decimal.Zero, wrapStoreErr(err)
	}
	oldCore, err := decimal.NewFromString(oldCoreRaw)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("parse core balance: %w", err)
	}

	now := time.Now().UTC()
	result, err := dbTx.ExecContext(ctx, `
		UPDATE task_assignments
		SET status = $3, completed_at = $4, updated_at = $4
		WHERE user_id = $1 AND task_number = $2 AND status IN ($5, $6)
	`, userID, taskNumber, string(task.StatusCompleted), now,
		string(task.StatusAssigned), string(task.StatusInProgress))
	if err != nil {
		return decimal.Zero, decimal.Zero, wrapStoreErr(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return decimal.Zero, decimal.Zero, wrapStoreErr(err)
	}
	if affected == 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("task %d for user %s: %w",
			taskNumber, userID, task.ErrInvalidState)
	}

	newCore := oldCore.Add(reward)
	if _, err := dbTx.ExecContext(ctx, `
		UPDATE user_balances
		SET core_balance = $2, version = version + 1, updated_at = $3
		WHERE user_id = $1
	`, userID, newCore.StringFixed(ledger.Precision), now); err != nil {
		return decimal.Zero, decimal.Zero, wrapStoreErr(err)
	}

	if err := dbTx.Commit(); err != nil {
		return decimal.Zero, decimal.Zero, wrapStoreErr(err)
	}
	return oldCore, newCore, nil
}

// --- EventStore -------------------------------------------------------------

func (s *Store) PutLevelUp(ctx context.Context, evt level.LevelUp) (level.LevelUp, error) {
	now := time.Now().UTC()
	if evt.ID == "" {
		evt.ID = uuid.NewString()
		evt.CreatedAt = now
	}
	evt.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO level_up_events (id, user_id, old_level, new_level, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE
		SET old_level = EXCLUDED.old_level, new_level = EXCLUDED.new_level,
		    state = EXCLUDED.state, updated_at = EXCLUDED.updated_at
	`, evt.ID, evt.UserID, evt.OldLevel, evt.NewLevel, string(evt.State), evt.CreatedAt, evt.UpdatedAt)
	if err != nil {
		return level.LevelUp{}, wrapStoreErr(err)
	}
	return evt, nil
}

func (s *Store) GetPendingLevelUp(ctx context.Context, userID string) (level.LevelUp, bool, error) {
	var evt level.LevelUp
	var state string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, old_level, new_level, state, created_at, updated_at
		FROM level_up_events WHERE user_id = $1 AND state = $2
	`, userID, string(level.EventPending)).
		Scan(&evt.ID, &evt.UserID, &evt.OldLevel, &evt.NewLevel, &state, &evt.CreatedAt, &evt.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return level.LevelUp{}, false, nil
	}
	if err != nil {
		return level.LevelUp{}, false, wrapStoreErr(err)
	}
	evt.State = level.EventState(state)
	return evt, true, nil
}

// --- scanning helpers -------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBalance(row rowScanner) (ledger.Balance, error) {
	var bal ledger.Balance
	var wallet, core string
	if err := row.Scan(&bal.UserID, &wallet, &core, &bal.Level, &bal.ReinvestPct,
		&bal.Version, &bal.CreatedAt, &bal.UpdatedAt); err != nil {
		return ledger.Balance{}, err
	}
	var err error
	if bal.Wallet, err = decimal.NewFromString(wallet); err != nil {
		return ledger.Balance{}, fmt.Errorf("parse wallet balance: %w", err)
	}
	if bal.Core, err = decimal.NewFromString(core); err != nil {
		return ledger.Balance{}, fmt.Errorf("parse core balance: %w", err)
	}
	return bal, nil
}

func scanDefinition(row rowScanner) (task.Definition, error) {
	var def task.Definition
	var reward string
	var condition []byte
	if err := row.Scan(&def.TaskNumber, &def.Title, &def.Kind, &reward, &condition, &def.CreatedAt); err != nil {
		return task.Definition{}, err
	}
	var err error
	if def.Reward, err = decimal.NewFromString(reward); err != nil {
		return task.Definition{}, fmt.Errorf("parse reward: %w", err)
	}
	if len(condition) > 0 {
		if err := json.Unmarshal(condition, &def.Condition); err != nil {
			return task.Definition{}, fmt.Errorf("parse completion condition: %w", err)
		}
	}
	return def, nil
}

func scanAssignment(row rowScanner) (task.Assignment, error) {
	var asn task.Assignment
	var status string
	var attempts []byte
	if err := row.Scan(&asn.UserID, &asn.TaskNumber, &status, &asn.CurrentStep,
		&attempts, &asn.CompletedAt, &asn.CreatedAt, &asn.UpdatedAt); err != nil {
		return task.Assignment{}, err
	}
	asn.Status = task.Status(status)
	if len(attempts) > 0 {
		if err := json.Unmarshal(attempts, &asn.Attempts); err != nil {
			return task.Assignment{}, fmt.Errorf("parse progress details: %w", err)
		}
	}
	return asn, nil
}

// wrapStoreErr marks connection-level failures as retryable.
func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%v: %w", err, ledger.ErrUnavailable)
	}
	return err
}
