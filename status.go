package taskq

// Status represents the lifecycle state of a task.
// Use the exported constants (StatusPending, StatusRunning, etc.) instead of
// raw strings to avoid typos.
type Status string

const (
	// StatusPending tasks wait for a free running slot.
	StatusPending Status = "pending"
	// StatusRunning tasks have a processor executing.
	StatusRunning Status = "running"
	// StatusCompleted tasks finished without failures.
	StatusCompleted Status = "completed"
	// StatusFailed tasks finished with at least one failure, timed out, or lost their processor.
	StatusFailed Status = "failed"
	// StatusCancelled tasks were cancelled while running.
	StatusCancelled Status = "cancelled"
)

// AllStatuses lists every valid status in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled}

// String returns the raw string value of the status.
func (s Status) String() string { return string(s) }

// IsTerminal reports whether the status is final for the current run.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsActive reports whether the task is pending or running.
func (s Status) IsActive() bool { return s == StatusPending || s == StatusRunning }

// ParseStatus converts a string into a Status, returning an error for unknown values.
func ParseStatus(s string) (Status, error) {
	switch s {
	case string(StatusPending):
		return StatusPending, nil
	case string(StatusRunning):
		return StatusRunning, nil
	case string(StatusCompleted):
		return StatusCompleted, nil
	case string(StatusFailed):
		return StatusFailed, nil
	case string(StatusCancelled):
		return StatusCancelled, nil
	default:
		return "", ErrUnknownStatus
	}
}

// ErrorStrategy controls what a batch does after an item fails.
type ErrorStrategy string

const (
	// ContinueOnFailure keeps processing remaining items after failures.
	ContinueOnFailure ErrorStrategy = "continue"
	// StopOnFirstFailure stops starting new items once one failure is recorded.
	StopOnFirstFailure ErrorStrategy = "stop"
)
