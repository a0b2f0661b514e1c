package progress

import (
	"errors"
	"fmt"
	"time"
)

// Status is a module's position in the candidate lifecycle.
type Status string

const (
	StatusLocked     Status = "locked"
	StatusUnlocked   Status = "unlocked"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

var errIllegalTransition = errors.New("illegal transition")

func (s Status) rank() int {
	switch s {
	case StatusLocked:
		return 0
	case StatusUnlocked:
		return 1
	case StatusInProgress:
		return 2
	case StatusCompleted:
		return 3
	default:
		return -1
	}
}

func (s Status) Valid() bool { return s.rank() >= 0 }

// AtLeast reports whether s is at or beyond other in the lifecycle.
func (s Status) AtLeast(other Status) bool { return s.rank() >= other.rank() }

// Transition is the single place that decides whether from -> to is legal.
// Status only moves forward; unlocked may jump straight to completed when a
// candidate submits without an explicit start.
func Transition(from, to Status) error {
	ok := false
	switch from {
	case StatusLocked:
		ok = to == StatusUnlocked
	case StatusUnlocked:
		ok = to == StatusInProgress || to == StatusCompleted
	case StatusInProgress:
		ok = to == StatusCompleted
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", errIllegalTransition, from, to)
	}
	return nil
}

type Key struct {
	CandidateID string `json:"candidate_id"`
	CertType    string `json:"cert_type"`
	ModuleID    string `json:"module_id"`
}

type Record struct {
	Key
	Status       Status    `json:"status"`
	UnlockedAt   time.Time `json:"unlocked_at"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	Score        float64   `json:"score"`
	MaxScore     float64   `json:"max_score"`
	SubmissionID string    `json:"submission_id,omitempty"`
}

// WindowState describes a candidate's exam window for one certification.
type WindowState struct {
	StartedAt time.Time     `json:"started_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	Remaining time.Duration `json:"remaining"`
	Expired   bool          `json:"expired"`
}
