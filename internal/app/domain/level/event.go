package level

import "time"

// EventState tracks whether a level-up has been surfaced to the user yet.
type EventState string

const (
	EventPending      EventState = "pending"
	EventAcknowledged EventState = "acknowledged"
)

// LevelUp records a user crossing into a higher level. At most one pending
// event exists per user; further level gains coalesce into it until the
// caller acknowledges.
type LevelUp struct {
	ID        string
	UserID    string
	OldLevel  int
	NewLevel  int
	State     EventState
	CreatedAt time.Time
	UpdatedAt time.Time
}
