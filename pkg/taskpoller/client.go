// Package taskpoller owns the waiting period between "external job
// submitted" and "external job result available". A single background loop
// polls the upstream service for ready tasks, caches completed results, and
// prunes tasks the service never reports on.
package taskpoller

import (
	"context"
	"encoding/json"
)

// ResultStatus is the upstream's verdict on one fetched task.
type ResultStatus string

const (
	// ResultCompleted means the task finished and Data carries its payload.
	ResultCompleted ResultStatus = "completed"
	// ResultProcessing means the task is still running upstream.
	ResultProcessing ResultStatus = "processing"
	// ResultErrored means the task failed upstream and will not complete.
	ResultErrored ResultStatus = "errored"
)

// TaskResult is the payload-or-status answer to a FetchResult call.
type TaskResult struct {
	Status  ResultStatus    `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// TaskClient abstracts the upstream service that runs asynchronous jobs
// (for example a review-collection task). Implementations are supplied by
// domain adapters and are opaque to the poller.
type TaskClient interface {
	// CheckReady returns the identifiers of tasks the upstream now considers
	// ready for collection. One call covers all tracked tasks.
	CheckReady(ctx context.Context) ([]string, error)
	// FetchResult retrieves the full result, or current status, of one task.
	FetchResult(ctx context.Context, taskID string) (*TaskResult, error)
}

// CompletionNotifier receives a notification after a task completes and its
// result has been cached. Optional.
type CompletionNotifier interface {
	NotifyCompleted(ctx context.Context, taskID string, correlationKeys []string, attempts int) error
}

// ResultArchiver receives the raw payload of a completed task for long-term
// storage. Optional.
type ResultArchiver interface {
	Archive(ctx context.Context, taskID string, payload []byte) error
}
