package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Elevate-App/progression_layer/internal/app/domain/ledger"
	"github.com/Elevate-App/progression_layer/internal/app/domain/level"
	"github.com/Elevate-App/progression_layer/internal/app/domain/task"
	"github.com/Elevate-App/progression_layer/internal/app/storage"
)

// Store implements the storage interfaces over the Supabase REST API.
// Conditional balance updates use a version filter; task completion is
// delegated to the complete_task database function so the status re-check
// and the credit share one transaction server-side.
type Store struct {
	client *Client
}

var _ storage.BalanceStore = (*Store)(nil)
var _ storage.JournalStore = (*Store)(nil)
var _ storage.TaskStore = (*Store)(nil)
var _ storage.EventStore = (*Store)(nil)

// NewStore wraps a client.
func NewStore(client *Client) *Store {
	return &Store{client: client}
}

// Row mappings ----------------------------------------------------------------

// NUMERIC columns travel as JSON numbers in PostgREST responses, so the row
// structs hold json.Number: it decodes numbers losslessly and marshals back
// as a bare numeric literal on writes.
type balanceRow struct {
	UserID      string      `json:"user_id"`
	Wallet      json.Number `json:"wallet_balance"`
	Core        json.Number `json:"core_balance"`
	Level       int         `json:"level"`
	ReinvestPct int         `json:"reinvest_percentage"`
	Version     int64       `json:"version"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func (r balanceRow) toDomain() (ledger.Balance, error) {
	wallet, err := decimal.NewFromString(r.Wallet.String())
	if err != nil {
		return ledger.Balance{}, fmt.Errorf("parse wallet balance: %w", err)
	}
	core, err := decimal.NewFromString(r.Core.String())
	if err != nil {
		return ledger.Balance{}, fmt.Errorf("parse core balance: %w", err)
	}
	return ledger.Balance{
		UserID:      r.UserID,
		Wallet:      wallet,
		Core:        core,
		Level:       r.Level,
		ReinvestPct: r.ReinvestPct,
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

func balanceToRow(bal ledger.Balance) balanceRow {
	return balanceRow{
		UserID:      bal.UserID,
		Wallet:      json.Number(bal.Wallet.StringFixed(ledger.Precision)),
		Core:        json.Number(bal.Core.StringFixed(ledger.Precision)),
		Level:       bal.Level,
		ReinvestPct: bal.ReinvestPct,
		Version:     bal.Version,
	}
}

type transactionRow struct {
	ID          string      `json:"id,omitempty"`
	UserID      string      `json:"user_id"`
	Type        string      `json:"tx_type"`
	WalletDelta json.Number `json:"wallet_delta"`
	CoreDelta   json.Number `json:"core_delta"`
	WalletAfter json.Number `json:"wallet_after"`
	CoreAfter   json.Number `json:"core_after"`
	Reference   string      `json:"reference,omitempty"`
	CreatedAt   time.Time   `json:"created_at,omitempty"`
}

type assignmentRow struct {
	UserID      string          `json:"user_id"`
	TaskNumber  int             `json:"task_number"`
	Status      string          `json:"status"`
	CurrentStep int             `json:"current_step_index"`
	Attempts    json.RawMessage `json:"progress_details,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at,omitempty"`
}

func (r assignmentRow) toDomain() (task.Assignment, error) {
	var attempts []task.Attempt
	if len(r.Attempts) > 0 {
		if err := json.Unmarshal(r.Attempts, &attempts); err != nil {
			return task.Assignment{}, fmt.Errorf("parse progress details: %w", err)
		}
	}
	return task.Assignment{
		UserID:      r.UserID,
		TaskNumber:  r.TaskNumber,
		Status:      task.Status(r.Status),
		CurrentStep: r.CurrentStep,
		Attempts:    attempts,
		CompletedAt: r.CompletedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

type definitionRow struct {
	TaskNumber int               `json:"task_number"`
	Title      string            `json:"title"`
	Kind       string            `json:"kind"`
	Reward     json.Number       `json:"reward"`
	Condition  map[string]string `json:"completion_condition,omitempty"`
	CreatedAt  time.Time         `json:"created_at,omitempty"`
}

func (r definitionRow) toDomain() (task.Definition, error) {
	reward, err := decimal.NewFromString(r.Reward.String())
	if err != nil {
		return task.Definition{}, fmt.Errorf("parse reward: %w", err)
	}
	return task.Definition{
		TaskNumber: r.TaskNumber,
		Title:      r.Title,
		Kind:       r.Kind,
		Reward:     reward,
		Condition:  r.Condition,
		CreatedAt:  r.CreatedAt,
	}, nil
}

type levelUpRow struct {
	ID        string    `json:"id,omitempty"`
	UserID    string    `json:"user_id"`
	OldLevel  int       `json:"old_level"`
	NewLevel  int       `json:"new_level"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// BalanceStore -----------------------------------------------------------------

func (s *Store) CreateBalance(ctx context.Context, bal ledger.Balance) (ledger.Balance, error) {
	row := balanceToRow(bal)
	row.Version = 1
	data, err := s.client.request(ctx, http.MethodPost, "user_balances", row, "")
	if err != nil {
		return ledger.Balance{}, classify(err, "create balance")
	}
	return firstBalance(data)
}

func (s *Store) GetBalance(ctx context.Context, userID string) (ledger.Balance, error) {
	data, err := s.client.request(ctx, http.MethodGet, "user_balances", nil,
		"user_id=eq."+url.QueryEscape(userID))
	if err != nil {
		return ledger.Balance{}, classify(err, "get balance")
	}
	bal, err := firstBalance(data)
	if errors.Is(err, errEmptyResult) {
		return ledger.Balance{}, fmt.Errorf("user %s: %w", userID, ledger.ErrNotFound)
	}
	if err != nil {
		return ledger.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return bal, nil
}

func (s *Store) UpdateBalance(ctx context.Context, bal ledger.Balance) (ledger.Balance, error) {
	row := balanceToRow(bal)
	row.Version = bal.Version + 1

	// The version filter makes this a conditional write: zero rows back
	// means another writer got there first.
	query := fmt.Sprintf("user_id=eq.%s&version=eq.%d", url.QueryEscape(bal.UserID), bal.Version)
	data, err := s.client.request(ctx, http.MethodPatch, "user_balances", row, query)
	if err != nil {
		return ledger.Balance{}, classify(err, "update balance")
	}
	updated, err := firstBalance(data)
	if errors.Is(err, errEmptyResult) {
		return ledger.Balance{}, fmt.Errorf("user %s at version %d: %w",
			bal.UserID, bal.Version, ledger.ErrVersionConflict)
	}
	if err != nil {
		return ledger.Balance{}, fmt.Errorf("update balance: %w", err)
	}
	return updated, nil
}

func (s *Store) ListBalances(ctx context.Context) ([]ledger.Balance, error) {
	data, err := s.client.request(ctx, http.MethodGet, "user_balances", nil, "order=user_id.asc")
	if err != nil {
		return nil, classify(err, "list balances")
	}
	var rows []balanceRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal balances: %w", err)
	}
	result := make([]ledger.Balance, 0, len(rows))
	for _, row := range rows {
		bal, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, bal)
	}
	return result, nil
}

func (s *Store) UpdateLevel(ctx context.Context, userID string, newLevel int) error {
	patch := map[string]int{"level": newLevel}
	_, err := s.client.request(ctx, http.MethodPatch, "user_balances", patch,
		"user_id=eq."+url.QueryEscape(userID))
	if err != nil {
		return classify(err, "update level")
	}
	return nil
}

// JournalStore -----------------------------------------------------------------

func (s *Store) AppendTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	row := transactionRow{
		ID:          tx.ID,
		UserID:      tx.UserID,
		Type:        string(tx.Type),
		WalletDelta: json.Number(tx.WalletDelta.StringFixed(ledger.Precision)),
		CoreDelta:   json.Number(tx.CoreDelta.StringFixed(ledger.Precision)),
		WalletAfter: json.Number(tx.WalletAfter.StringFixed(ledger.Precision)),
		CoreAfter:   json.Number(tx.CoreAfter.StringFixed(ledger.Precision)),
		Reference:   tx.Reference,
	}
	data, err := s.client.request(ctx, http.MethodPost, "balance_transactions", row, "")
	if err != nil {
		return ledger.Transaction{}, classify(err, "append transaction")
	}
	var rows []transactionRow
	if err := json.Unmarshal(data, &rows); err != nil || len(rows) == 0 {
		return tx, nil
	}
	tx.ID = rows[0].ID
	tx.CreatedAt = rows[0].CreatedAt
	return tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, limit int) ([]ledger.Transaction, error) {
	query := fmt.Sprintf("user_id=eq.%s&order=created_at.desc", url.QueryEscape(userID))
	if limit > 0 {
		query += fmt.Sprintf("&limit=%d", limit)
	}
	data, err := s.client.request(ctx, http.MethodGet, "balance_transactions", nil, query)
	if err != nil {
		return nil, classify(err, "list transactions")
	}
	var rows []transactionRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal transactions: %w", err)
	}
	result := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		walletDelta, _ := decimal.NewFromString(row.WalletDelta.String())
		coreDelta, _ := decimal.NewFromString(row.CoreDelta.String())
		walletAfter, _ := decimal.NewFromString(row.WalletAfter.String())
		coreAfter, _ := decimal.NewFromString(row.CoreAfter.String())
		result = append(result, ledger.Transaction{
			ID:          row.ID,
			UserID:      row.UserID,
			Type:        ledger.TransactionType(row.Type),
			WalletDelta: walletDelta,
			CoreDelta:   coreDelta,
			WalletAfter: walletAfter,
			CoreAfter:   coreAfter,
			Reference:   row.Reference,
			CreatedAt:   row.CreatedAt,
		})
	}
	return result, nil
}

// TaskStore --------------------------------------------------------------------

func (s *Store) CreateDefinition(ctx context.Context, def task.Definition) (task.Definition, error) {
	row := definitionRow{
		TaskNumber: def.TaskNumber,
		Title:      def.Title,
		Kind:       def.Kind,
		Reward:     json.Number(def.Reward.StringFixed(ledger.Precision)),
		Condition:  def.Condition,
	}
	data, err := s.client.request(ctx, http.MethodPost, "task_definitions", row, "")
	if err != nil {
		return task.Definition{}, classify(err, "create definition")
	}
	var rows []definitionRow
	if err := json.Unmarshal(data, &rows); err != nil || len(rows) == 0 {
		return def, nil
	}
	return rows[0].toDomain()
}

func (s *Store) GetDefinition(ctx context.Context, taskNumber int) (task.Definition, error) {
	data, err := s.client.request(ctx, http.MethodGet, "task_definitions", nil,
		fmt.Sprintf("task_number=eq.%d", taskNumber))
	if err != nil {
		return task.Definition{}, classify(err, "get definition")
	}
	var rows []definitionRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return task.Definition{}, fmt.Errorf("unmarshal definition: %w", err)
	}
	if len(rows) == 0 {
		return task.Definition{}, fmt.Errorf("task %d: %w", taskNumber, task.ErrNotFound)
	}
	return rows[0].toDomain()
}

func (s *Store) ListDefinitions(ctx context.Context) ([]task.Definition, error) {
	data, err := s.client.request(ctx, http.MethodGet, "task_definitions", nil, "order=task_number.asc")
	if err != nil {
		return nil, classify(err, "list definitions")
	}
	var rows []definitionRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal definitions: %w", err)
	}
	result := make([]task.Definition, 0, len(rows))
	for _, row := range rows {
		def, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, def)
	}
	return result, nil
}

func (s *Store) CreateAssignment(ctx context.Context, asn task.Assignment) (task.Assignment, error) {
	attempts, err := json.Marshal(asn.Attempts)
	if err != nil {
		return task.Assignment{}, fmt.Errorf("marshal progress details: %w", err)
	}
	row := assignmentRow{
		UserID:      asn.UserID,
		TaskNumber:  asn.TaskNumber,
		Status:      string(asn.Status),
		CurrentStep: asn.CurrentStep,
		Attempts:    attempts,
	}
	data, err := s.client.request(ctx, http.MethodPost, "task_assignments", row, "")
	if err != nil {
		return task.Assignment{}, classify(err, "create assignment")
	}
	return firstAssignment(data, asn)
}

func (s *Store) GetAssignment(ctx context.Context, userID string, taskNumber int) (task.Assignment, error) {
	query := fmt.Sprintf("user_id=eq.%s&task_number=eq.%d", url.QueryEscape(userID), taskNumber)
	data, err := s.client.request(ctx, http.MethodGet, "task_assignments", nil, query)
	if err != nil {
		return task.Assignment{}, classify(err, "get assignment")
	}
	var rows []assignmentRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return task.Assignment{}, fmt.Errorf("unmarshal assignment: %w", err)
	}
	if len(rows) == 0 {
		return task.Assignment{}, fmt.Errorf("task %d for user %s: %w", taskNumber, userID, task.ErrNotFound)
	}
	return rows[0].toDomain()
}

func (s *Store) UpdateAssignment(ctx context.Context, asn task.Assignment) (task.Assignment, error) {
	attempts, err := json.Marshal(asn.Attempts)
	if err != nil {
		return task.Assignment{}, fmt.Errorf("marshal progress details: %w", err)
	}
	row := assignmentRow{
		UserID:      asn.UserID,
		TaskNumber:  asn.TaskNumber,
		Status:      string(asn.Status),
		CurrentStep: asn.CurrentStep,
		Attempts:    attempts,
		CompletedAt: asn.CompletedAt,
	}
	query := fmt.Sprintf("user_id=eq.%s&task_number=eq.%d", url.QueryEscape(asn.UserID), asn.TaskNumber)
	data, err := s.client.request(ctx, http.MethodPatch, "task_assignments", row, query)
	if err != nil {
		return task.Assignment{}, classify(err, "update assignment")
	}
	return firstAssignment(data, asn)
}

func (s *Store) ListAssignments(ctx context.Context, userID string) ([]task.Assignment, error) {
	data, err := s.client.request(ctx, http.MethodGet, "task_assignments", nil,
		"user_id=eq."+url.QueryEscape(userID))
	if err != nil {
		return nil, classify(err, "list assignments")
	}
	var rows []assignmentRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal assignments: %w", err)
	}
	result := make([]task.Assignment, 0, len(rows))
	for _, row := range rows {
		asn, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, asn)
	}
	return result, nil
}

// CompleteTaskAndCredit calls the complete_task database function, which
// re-checks the assignment status, marks it completed and credits the reward
// inside one server-side transaction.
func (s *Store) CompleteTaskAndCredit(ctx context.Context, userID string, taskNumber int, reward decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	payload := map[string]any{
		"p_user_id":     userID,
		"p_task_number": taskNumber,
		"p_reward":      json.Number(reward.StringFixed(ledger.Precision)),
	}
	data, err := s.client.request(ctx, http.MethodPost, "rpc/complete_task", payload, "")
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.status == http.StatusConflict {
			return decimal.Zero, decimal.Zero, fmt.Errorf("task %d for user %s: %w",
				taskNumber, userID, task.ErrInvalidState)
		}
		return decimal.Zero, decimal.Zero, classify(err, "complete task")
	}

	// complete_task is set-returning, so PostgREST wraps the single result
	// row in a JSON array.
	var rows []struct {
		OldCore json.Number `json:"old_core"`
		NewCore json.Number `json:"new_core"`
		Status  string      `json:"status"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("unmarshal completion result: %w", err)
	}
	if len(rows) == 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("complete task: empty result")
	}
	result := rows[0]

	switch result.Status {
	case "invalid_state":
		return decimal.Zero, decimal.Zero, fmt.Errorf("task %d for user %s: %w",
			taskNumber, userID, task.ErrInvalidState)
	case "not_found":
		return decimal.Zero, decimal.Zero, fmt.Errorf("user %s: %w", userID, ledger.ErrNotFound)
	}

	oldCore, err := decimal.NewFromString(result.OldCore.String())
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("parse old core: %w", err)
	}
	newCore, err := decimal.NewFromString(result.NewCore.String())
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("parse new core: %w", err)
	}
	return oldCore, newCore, nil
}

// EventStore -------------------------------------------------------------------

func (s *Store) PutLevelUp(ctx context.Context, evt level.LevelUp) (level.LevelUp, error) {
	row := levelUpRow{
		ID:       evt.ID,
		UserID:   evt.UserID,
		OldLevel: evt.OldLevel,
		NewLevel: evt.NewLevel,
		State:    string(evt.State),
	}
	// Upsert on user_id: one event row per user, overwritten as it moves
	// between pending and acknowledged.
	data, err := s.client.upsert(ctx, "level_up_events", row, "on_conflict=user_id")
	if err != nil {
		return level.LevelUp{}, classify(err, "put level-up")
	}
	var rows []levelUpRow
	if err := json.Unmarshal(data, &rows); err != nil || len(rows) == 0 {
		return evt, nil
	}
	stored := rows[0]
	return level.LevelUp{
		ID:        stored.ID,
		UserID:    stored.UserID,
		OldLevel:  stored.OldLevel,
		NewLevel:  stored.NewLevel,
		State:     level.EventState(stored.State),
		CreatedAt: stored.CreatedAt,
		UpdatedAt: stored.UpdatedAt,
	}, nil
}

func (s *Store) GetPendingLevelUp(ctx context.Context, userID string) (level.LevelUp, bool, error) {
	query := fmt.Sprintf("user_id=eq.%s&state=eq.%s", url.QueryEscape(userID), level.EventPending)
	data, err := s.client.request(ctx, http.MethodGet, "level_up_events", nil, query)
	if err != nil {
		return level.LevelUp{}, false, classify(err, "get pending level-up")
	}
	var rows []levelUpRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return level.LevelUp{}, false, fmt.Errorf("unmarshal level-up: %w", err)
	}
	if len(rows) == 0 {
		return level.LevelUp{}, false, nil
	}
	row := rows[0]
	return level.LevelUp{
		ID:        row.ID,
		UserID:    row.UserID,
		OldLevel:  row.OldLevel,
		NewLevel:  row.NewLevel,
		State:     level.EventState(row.State),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, true, nil
}

// Helpers -----------------------------------------------------------------------

// errEmptyResult marks a well-formed response carrying zero rows, so callers
// can tell "no such row" apart from a decode failure on a row that exists.
var errEmptyResult = errors.New("empty result")

func firstBalance(data []byte) (ledger.Balance, error) {
	var rows []balanceRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return ledger.Balance{}, fmt.Errorf("unmarshal balance: %w", err)
	}
	if len(rows) == 0 {
		return ledger.Balance{}, errEmptyResult
	}
	return rows[0].toDomain()
}

func firstAssignment(data []byte, fallback task.Assignment) (task.Assignment, error) {
	var rows []assignmentRow
	if err := json.Unmarshal(data, &rows); err != nil || len(rows) == 0 {
		return fallback, nil
	}
	return rows[0].toDomain()
}

// classify maps transport-level failures onto the ledger error taxonomy so
// callers can distinguish retryable storage faults from validation errors.
func classify(err error, op string) error {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		if apiErr.status >= 500 || apiErr.status == http.StatusTooManyRequests {
			return fmt.Errorf("%s: %v: %w", op, err, ledger.ErrUnavailable)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if strings.Contains(err.Error(), "context deadline exceeded") {
		return fmt.Errorf("%s: %v: %w", op, err, ledger.ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}
