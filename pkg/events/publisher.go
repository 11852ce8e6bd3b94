// Package events publishes task-completion notifications so downstream
// consumers (webhook notifiers, report builders) can react without polling
// the API themselves.
package events

import (
	"context"
	"time"
)

// CompletionEvent announces that a tracked external task finished and its
// result is available in the cache.
type CompletionEvent struct {
	TaskID          string    `json:"taskId"`
	CorrelationKeys []string  `json:"correlationKeys,omitempty"`
	Attempts        int       `json:"attempts"`
	CompletedAt     time.Time `json:"completedAt"`
}

// Publisher is the outbound event abstraction.
type Publisher interface {
	Publish(ctx context.Context, event CompletionEvent) error
	Stop(ctx context.Context) error
}
