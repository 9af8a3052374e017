// Package task defines challenge definitions and per-user assignments.
package task

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a task assignment. Completed is terminal:
// once a task completes, no further verification or crediting is permitted.
// A failed task may be retried and re-enter the assigned state.
type Status string

const (
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ErrInvalidState reports a completion attempt on a task that is not in an
// eligible state. Callers should re-fetch the assignment rather than retry.
var ErrInvalidState = errors.New("task not in a completable state")

// ErrNotFound reports a missing definition or assignment.
var ErrNotFound = errors.New("task not found")

// Definition describes a challenge shared across users. Read-only from the
// pipeline's perspective; the reward is credited to the Core balance on
// completion.
type Definition struct {
	TaskNumber int
	Title      string
	Kind       string
	Reward     decimal.Decimal
	Condition  map[string]string
	CreatedAt  time.Time
}

// Attempt records one verification attempt in the assignment history.
type Attempt struct {
	At      time.Time `json:"at"`
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
}

// Assignment is the per-user state of a task. The reward for an assignment is
// credited at most once: the status check and the credit happen inside one
// atomic storage operation.
type Assignment struct {
	UserID      string
	TaskNumber  int
	Status      Status
	CurrentStep int
	Attempts    []Attempt
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Completable reports whether the assignment may still transition to
// completed.
func (a Assignment) Completable() bool {
	return a.Status == StatusAssigned || a.Status == StatusInProgress
}
