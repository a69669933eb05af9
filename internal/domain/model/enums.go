package model

// RunStatus is the status the remote assistant service reports for a run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether no further status changes are expected.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// JobState is the local lifecycle state of a job run.
type JobState string

const (
	JobStateCreated   JobState = "created"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// IsTerminal reports whether the state has no outgoing transitions.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// CanTransitionTo reports whether moving from s to next is a legal transition:
// created -> running -> {completed, failed}. A job may also fail before it
// starts running (setup errors).
func (s JobState) CanTransitionTo(next JobState) bool {
	switch s {
	case JobStateCreated:
		return next == JobStateRunning || next == JobStateFailed
	case JobStateRunning:
		return next == JobStateCompleted || next == JobStateFailed
	default:
		return false
	}
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)
