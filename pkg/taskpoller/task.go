package taskpoller

import (
	"encoding/json"
	"time"
)

// TaskState is the poller's view of one tracked task.
type TaskState string

const (
	// StatePending means the poller is still waiting for the upstream to
	// report the task ready.
	StatePending TaskState = "pending"
	// StateCompleted means the result has been fetched and cached.
	StateCompleted TaskState = "completed"
	// StateErrored means the upstream reported a terminal failure.
	StateErrored TaskState = "errored"
	// StateUnknown covers identifiers the poller has no record of, including
	// tasks pruned for exceeding the maximum age.
	StateUnknown TaskState = "unknown"
)

// TrackedTask is a registration for one external asynchronous job. The
// poller is the sole writer of its fields.
type TrackedTask struct {
	TaskID          string    `firestore:"taskId" json:"taskId"`
	CorrelationKeys []string  `firestore:"correlationKeys,omitempty" json:"correlationKeys,omitempty"`
	CreatedAt       time.Time `firestore:"createdAt" json:"createdAt"`
	Attempts        int       `firestore:"attempts" json:"attempts"`
	State           TaskState `firestore:"state" json:"state"`
}

// StatusSnapshot is what a status query returns: either the cached result of
// a completed task or a lightweight view of an in-flight one.
type StatusSnapshot struct {
	TaskID   string          `json:"taskId"`
	State    TaskState       `json:"state"`
	Result   json.RawMessage `json:"result,omitempty"`
	Attempts int             `json:"attempts,omitempty"`
	Age      time.Duration   `json:"age,omitempty"`
}
