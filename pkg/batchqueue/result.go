// Package batchqueue groups many independent, same-type upstream requests
// into fewer composite calls, deduplicates identical in-flight requests, and
// fans the composite response back out to the original callers.
package batchqueue

import (
	"context"
	"encoding/json"
	"time"
)

// ItemResult is the per-request outcome a caller receives. Failures are
// expressed through the Success flag and Error message, never as a raised
// error, so callers handle one result shape for both full and partial
// batch failures.
type ItemResult struct {
	Success    bool            `json:"success"`
	StatusCode int             `json:"statusCode,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Cost       float64         `json:"cost,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Succeeded reports whether this result may be cached.
func (r ItemResult) Succeeded() bool {
	return r.Success
}

// CompositeResponse is the single upstream response representing a whole
// batch. Items are ordered: Items[i] corresponds to the i-th parameter set
// handed to the Processor.
type CompositeResponse struct {
	Items []ItemResult `json:"items"`
	Cost  float64      `json:"cost,omitempty"`
}

// Processor performs the actual outbound composite call for one batch. The
// parameter sets are passed in submission order. Implementations are supplied
// by domain adapters (ad platform, maps, trends) and are opaque to the queue.
type Processor func(ctx context.Context, params []map[string]string) (*CompositeResponse, error)

// DispatchReport summarizes one completed flush for observers such as the
// cost ledger.
type DispatchReport struct {
	RequestType string
	BatchSize   int
	Cost        float64
	Success     bool
	Duration    time.Duration
	Timestamp   time.Time
}

// DispatchObserver receives a report after every flush. Observers must not
// block; the queue invokes them synchronously at the end of dispatch.
type DispatchObserver func(report DispatchReport)
