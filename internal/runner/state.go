package runner

import (
	"errors"
	"fmt"

	"github.com/young1lin/assistsearch/internal/models"
)

// State is the local view of a remote run
type State int

const (
	StatePending State = iota
	StateRequiresAction
	StateCompleted
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRequiresAction:
		return "requires_action"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further polling happens in this state
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimedOut
}

// Classify maps a remote run status onto a State. Unrecognised statuses are
// treated as pending so a newer runtime status never ends a run early.
func Classify(status string) State {
	switch status {
	case models.RunStatusRequiresAction:
		return StateRequiresAction
	case models.RunStatusCompleted:
		return StateCompleted
	case models.RunStatusFailed, models.RunStatusCancelled, models.RunStatusExpired, models.RunStatusIncomplete:
		return StateFailed
	default:
		return StatePending
	}
}

var (
	ErrRunFailed   = errors.New("assistant run failed")
	ErrRunTimedOut = errors.New("assistant run timed out")
	ErrNoAnswer    = errors.New("assistant produced no answer")
)

// RunError describes a run that ended in a failed state
type RunError struct {
	RunID     string
	Status    string
	LastError *models.RunError
}

func (e *RunError) Error() string {
	if e.LastError != nil {
		return fmt.Sprintf("assistant run %s %s: %s: %s", e.RunID, e.Status, e.LastError.Code, e.LastError.Message)
	}
	return fmt.Sprintf("assistant run %s %s", e.RunID, e.Status)
}

func (e *RunError) Is(target error) bool {
	return target == ErrRunFailed
}
