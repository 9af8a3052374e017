// Package tasks implements the task verification and reward-crediting
// pipeline.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/Elevate-App/progression_layer/internal/app/domain/task"
	"github.com/Elevate-App/progression_layer/internal/app/metrics"
	"github.com/Elevate-App/progression_layer/internal/app/services/notify"
	"github.com/Elevate-App/progression_layer/internal/app/storage"
	"github.com/Elevate-App/progression_layer/pkg/logger"
)

// Snapshot is the read-only context a verifier judges against. It is
// assembled by the caller from the user's current goals, feature-usage flags
// and profile fields; verifiers never mutate state.
type Snapshot struct {
	GoalCount    int
	FeaturesUsed map[string]bool
	Profile      map[string]string
}

// Verifier is a pure predicate over a snapshot. A false result with a
// human-readable message is a normal negative outcome, not an error.
type Verifier interface {
	Verify(def domain.Definition, snap Snapshot) (ok bool, message string)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(def domain.Definition, snap Snapshot) (bool, string)

func (f VerifierFunc) Verify(def domain.Definition, snap Snapshot) (bool, string) {
	return f(def, snap)
}

// VerifyResult is the outcome of one verification attempt.
type VerifyResult struct {
	Success bool
	Message string
}

// CompleteResult reports a successful task completion. Old and new Core
// balances are returned for display.
type CompleteResult struct {
	Reward  decimal.Decimal
	OldCore decimal.Decimal
	NewCore decimal.Decimal
}

// RewardRecorder is notified after the store's atomic primitive has credited
// a task reward. The balance ledger implements it to journal the credit and
// wake the level watcher.
type RewardRecorder interface {
	RecordTaskReward(ctx context.Context, userID string, reward, newCore decimal.Decimal, reference string)
}

// Service dispatches verification by task kind and completes tasks with
// at-most-once crediting.
type Service struct {
	store    storage.TaskStore
	recorder RewardRecorder
	notifier notify.Notifier
	log      *logger.Logger

	mu        sync.RWMutex
	verifiers map[string]Verifier
}

// New constructs a task pipeline with the built-in verifiers registered.
func New(store storage.TaskStore, recorder RewardRecorder, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("tasks")
	}
	s := &Service{
		store:     store,
		recorder:  recorder,
		notifier:  notify.Noop{},
		log:       log,
		verifiers: make(map[string]Verifier),
	}
	registerBuiltins(s)
	return s
}

// AttachNotifier sets the completion notifier. Call before serving traffic.
func (s *Service) AttachNotifier(n notify.Notifier) {
	if n != nil {
		s.notifier = n
	}
}

// Register adds a verifier for a task kind. New task types are added by
// registering a predicate, not by editing dispatch code.
func (s *Service) Register(kind string, v Verifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifiers[kind] = v
}

func (s *Service) verifierFor(kind string) (Verifier, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.verifiers[kind]
	return v, ok
}

// Verify runs the predicate for the task's kind against the supplied
// snapshot and records the attempt on the assignment. State is otherwise
// unchanged.
func (s *Service) Verify(ctx context.Context, userID string, taskNumber int, snap Snapshot) (VerifyResult, error) {
	def, err := s.store.GetDefinition(ctx, taskNumber)
	if err != nil {
		return VerifyResult{}, err
	}
	asn, err := s.store.GetAssignment(ctx, userID, taskNumber)
	if err != nil {
		return VerifyResult{}, err
	}
	if asn.Status == domain.StatusCompleted {
		return VerifyResult{Success: true, Message: "task already completed"}, nil
	}

	verifier, ok := s.verifierFor(def.Kind)
	if !ok {
		return VerifyResult{}, fmt.Errorf("no verifier registered for task kind %q", def.Kind)
	}

	ok, message := verifier.Verify(def, snap)

	asn.Attempts = append(asn.Attempts, domain.Attempt{
		At:      time.Now().UTC(),
		Success: ok,
		Message: message,
	})
	if ok && asn.Status == domain.StatusAssigned {
		asn.Status = domain.StatusInProgress
	}
	if _, err := s.store.UpdateAssignment(ctx, asn); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("record verification attempt failed")
	}

	return VerifyResult{Success: ok, Message: message}, nil
}

// CompleteTask marks the assignment completed and credits the reward to the
// Core balance. Both happen inside the store's single atomic primitive, which
// re-checks eligibility, so a retry after an unknown-outcome timeout either
// completes once or reports ErrInvalidState without a second credit.
func (s *Service) CompleteTask(ctx context.Context, userID string, taskNumber int) (CompleteResult, error) {
	def, err := s.store.GetDefinition(ctx, taskNumber)
	if err != nil {
		return CompleteResult{}, err
	}
	asn, err := s.store.GetAssignment(ctx, userID, taskNumber)
	if err != nil {
		return CompleteResult{}, err
	}
	if !asn.Completable() {
		metrics.RecordTaskCompletion("invalid_state")
		return CompleteResult{}, fmt.Errorf("task %d for user %s is %s: %w",
			taskNumber, userID, asn.Status, domain.ErrInvalidState)
	}

	oldCore, newCore, err := s.store.CompleteTaskAndCredit(ctx, userID, taskNumber, def.Reward)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			metrics.RecordTaskCompletion("invalid_state")
		} else {
			metrics.RecordTaskCompletion("error")
		}
		return CompleteResult{}, err
	}

	metrics.RecordTaskCompletion("completed")
	if s.recorder != nil {
		s.recorder.RecordTaskReward(ctx, userID, def.Reward, newCore, fmt.Sprintf("task:%d", taskNumber))
	}
	if err := s.notifier.TaskCompleted(ctx, userID, taskNumber, def.Reward); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("task-completed notification failed")
	}
	s.log.WithField("user_id", userID).
		WithField("task", taskNumber).
		WithField("reward", def.Reward.String()).
		Info("task completed")

	return CompleteResult{Reward: def.Reward, OldCore: oldCore, NewCore: newCore}, nil
}

// StartTask moves an assigned task into progress.
func (s *Service) StartTask(ctx context.Context, userID string, taskNumber int) (domain.Assignment, error) {
	asn, err := s.store.GetAssignment(ctx, userID, taskNumber)
	if err != nil {
		return domain.Assignment{}, err
	}
	switch asn.Status {
	case domain.StatusAssigned, domain.StatusFailed:
		asn.Status = domain.StatusInProgress
		return s.store.UpdateAssignment(ctx, asn)
	case domain.StatusInProgress:
		return asn, nil
	default:
		return domain.Assignment{}, fmt.Errorf("task %d is %s: %w", taskNumber, asn.Status, domain.ErrInvalidState)
	}
}

// FailTask records a failed attempt. Failed tasks may later be retried.
func (s *Service) FailTask(ctx context.Context, userID string, taskNumber int, reason string) (domain.Assignment, error) {
	asn, err := s.store.GetAssignment(ctx, userID, taskNumber)
	if err != nil {
		return domain.Assignment{}, err
	}
	if asn.Status == domain.StatusCompleted {
		return domain.Assignment{}, fmt.Errorf("task %d already completed: %w", taskNumber, domain.ErrInvalidState)
	}
	asn.Status = domain.StatusFailed
	asn.Attempts = append(asn.Attempts, domain.Attempt{
		At:      time.Now().UTC(),
		Success: false,
		Message: reason,
	})
	return s.store.UpdateAssignment(ctx, asn)
}

// RetryTask returns a failed task to the assigned state.
func (s *Service) RetryTask(ctx context.Context, userID string, taskNumber int) (domain.Assignment, error) {
	asn, err := s.store.GetAssignment(ctx, userID, taskNumber)
	if err != nil {
		return domain.Assignment{}, err
	}
	if asn.Status != domain.StatusFailed {
		return domain.Assignment{}, fmt.Errorf("task %d is %s, only failed tasks can be retried: %w",
			taskNumber, asn.Status, domain.ErrInvalidState)
	}
	asn.Status = domain.StatusAssigned
	return s.store.UpdateAssignment(ctx, asn)
}

// Assign creates the per-user assignment for a task definition.
func (s *Service) Assign(ctx context.Context, userID string, taskNumber int) (domain.Assignment, error) {
	if _, err := s.store.GetDefinition(ctx, taskNumber); err != nil {
		return domain.Assignment{}, err
	}
	return s.store.CreateAssignment(ctx, domain.Assignment{
		UserID:     userID,
		TaskNumber: taskNumber,
		Status:     domain.StatusAssigned,
	})
}

// ListAssignments returns all of a user's assignments.
func (s *Service) ListAssignments(ctx context.Context, userID string) ([]domain.Assignment, error) {
	return s.store.ListAssignments(ctx, userID)
}
