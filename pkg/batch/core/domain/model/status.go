package model

// JobStatus represents the state of a job or step execution.
type JobStatus string

const (
	BatchStatusCompleted JobStatus = "COMPLETED"
	BatchStatusStarting  JobStatus = "STARTING"
	BatchStatusStarted   JobStatus = "STARTED"
	BatchStatusStopping  JobStatus = "STOPPING"
	BatchStatusStopped   JobStatus = "STOPPED"
	BatchStatusFailed    JobStatus = "FAILED"
	BatchStatusAbandoned JobStatus = "ABANDONED"
	BatchStatusUnknown   JobStatus = "UNKNOWN"
)

// statusRank orders statuses by severity. A higher rank never downgrades to a
// lower one during UpgradeTo, so a FAILED execution cannot be marked COMPLETED
// by a stale writer.
var statusRank = map[JobStatus]int{
	BatchStatusCompleted: 0,
	BatchStatusStarting:  1,
	BatchStatusStarted:   2,
	BatchStatusStopping:  3,
	BatchStatusStopped:   4,
	BatchStatusFailed:    5,
	BatchStatusAbandoned: 6,
	BatchStatusUnknown:   7,
}

// String returns the string representation of the JobStatus.
func (s JobStatus) String() string {
	return string(s)
}

// IsValidJobStatus reports whether s is one of the known status values.
func IsValidJobStatus(s JobStatus) bool {
	_, ok := statusRank[s]
	return ok
}

// IsRunning checks if the JobStatus represents an in-flight execution.
func (s JobStatus) IsRunning() bool {
	return s == BatchStatusStarting || s == BatchStatusStarted || s == BatchStatusStopping
}

// IsUnsuccessful checks if the JobStatus represents a failed outcome.
func (s JobStatus) IsUnsuccessful() bool {
	return s == BatchStatusFailed || s == BatchStatusAbandoned || s == BatchStatusUnknown
}

// IsFinished checks if the JobStatus represents a finished state.
func (s JobStatus) IsFinished() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned:
		return true
	default:
		return false
	}
}

// UpgradeTo merges two statuses, returning the more severe one. The merge is
// monotonic toward completion: when neither side outranks STARTED, a COMPLETED
// on either side wins, so a finished execution is never dragged back to a
// stale STARTING/STARTED observed by a racing reader. An unknown value on
// either side yields UNKNOWN.
func (s JobStatus) UpgradeTo(other JobStatus) JobStatus {
	sr, ok := statusRank[s]
	if !ok {
		return BatchStatusUnknown
	}
	or, ok := statusRank[other]
	if !ok {
		return BatchStatusUnknown
	}
	if sr <= statusRank[BatchStatusStarted] && or <= statusRank[BatchStatusStarted] {
		if s == BatchStatusCompleted || other == BatchStatusCompleted {
			return BatchStatusCompleted
		}
	}
	if or > sr {
		return other
	}
	return s
}

// ToExitStatus converts the JobStatus to its corresponding ExitStatus.
func (s JobStatus) ToExitStatus() ExitStatus {
	switch s {
	case BatchStatusCompleted:
		return ExitStatusCompleted
	case BatchStatusFailed:
		return ExitStatusFailed
	case BatchStatusStopped:
		return ExitStatusStopped
	case BatchStatusStarting, BatchStatusStarted, BatchStatusStopping:
		return ExitStatusExecuting
	default:
		return ExitStatusUnknown
	}
}

// ExitStatus carries the detailed outcome of a job or step execution: a short
// exit code plus a free-form description (typically a failure message).
type ExitStatus struct {
	ExitCode        string
	ExitDescription string
}

var (
	ExitStatusUnknown   = ExitStatus{ExitCode: "UNKNOWN"}
	ExitStatusExecuting = ExitStatus{ExitCode: "EXECUTING"}
	ExitStatusCompleted = ExitStatus{ExitCode: "COMPLETED"}
	ExitStatusNoOp      = ExitStatus{ExitCode: "NOOP"}
	ExitStatusFailed    = ExitStatus{ExitCode: "FAILED"}
	ExitStatusStopped   = ExitStatus{ExitCode: "STOPPED"}
)

// NewExitStatus creates an ExitStatus with the given code and no description.
func NewExitStatus(code string) ExitStatus {
	return ExitStatus{ExitCode: code}
}

// WithDescription returns a copy of the ExitStatus carrying the given description.
func (e ExitStatus) WithDescription(description string) ExitStatus {
	e.ExitDescription = description
	return e
}

// String returns the ExitStatus code.
func (e ExitStatus) String() string {
	return e.ExitCode
}
