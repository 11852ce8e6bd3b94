// Package costledger records the cost of every composite upstream call so
// spend and savings from batching can be reported. Records are buffered and
// written to the sink in batches.
package costledger

import (
	"context"
	"time"
)

// CallRecord is one row in the cost ledger: a single composite upstream call.
type CallRecord struct {
	RequestType string    `bigquery:"request_type"`
	BatchSize   int       `bigquery:"batch_size"`
	Cost        float64   `bigquery:"cost"`
	Success     bool      `bigquery:"success"`
	DurationMS  int64     `bigquery:"duration_ms"`
	Timestamp   time.Time `bigquery:"timestamp"`
}

// RecordInserter is the destination abstraction for ledger rows. The
// production implementation streams to BigQuery; tests use an in-memory
// double.
type RecordInserter interface {
	InsertBatch(ctx context.Context, records []*CallRecord) error
	Close() error
}
