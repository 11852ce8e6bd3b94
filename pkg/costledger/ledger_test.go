package costledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rainmanjam/social-flood-sub000/pkg/batchqueue"
	"github.com/rainmanjam/social-flood-sub000/pkg/costledger"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockInserter is a test double for the ledger sink.
type mockInserter struct {
	mu      sync.Mutex
	batches [][]*costledger.CallRecord
	err     error
	closed  bool
}

func (m *mockInserter) InsertBatch(_ context.Context, records []*costledger.CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, records)
	return nil
}

func (m *mockInserter) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *mockInserter) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func (m *mockInserter) totalRecords() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func record(requestType string) costledger.CallRecord {
	return costledger.CallRecord{
		RequestType: requestType,
		BatchSize:   3,
		Cost:        0.03,
		Success:     true,
		Timestamp:   time.Now(),
	}
}

func TestLedger_FlushOnBatchSize(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inserter := &mockInserter{}
	ledger := costledger.NewLedger(costledger.LedgerConfig{BatchSize: 2, FlushInterval: time.Hour}, inserter, zerolog.Nop())
	ledger.Start(ctx)

	ledger.Record(record("keyword_metrics"))
	assert.Equal(t, 0, inserter.batchCount(), "partial batch must not flush early")
	ledger.Record(record("keyword_metrics"))

	require.Eventually(t, func() bool {
		return inserter.batchCount() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, inserter.totalRecords())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, ledger.Stop(stopCtx))
}

func TestLedger_FlushOnInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inserter := &mockInserter{}
	ledger := costledger.NewLedger(costledger.LedgerConfig{BatchSize: 100, FlushInterval: 30 * time.Millisecond}, inserter, zerolog.Nop())
	ledger.Start(ctx)

	ledger.Record(record("trends"))

	require.Eventually(t, func() bool {
		return inserter.totalRecords() == 1
	}, time.Second, 10*time.Millisecond, "interval must flush a partial batch")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, ledger.Stop(stopCtx))
}

func TestLedger_StopFlushesAndCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inserter := &mockInserter{}
	ledger := costledger.NewLedger(costledger.LedgerConfig{BatchSize: 100, FlushInterval: time.Hour}, inserter, zerolog.Nop())
	ledger.Start(ctx)

	ledger.Record(record("autocomplete"))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, ledger.Stop(stopCtx))

	assert.Equal(t, 1, inserter.totalRecords(), "pending records must flush on stop")
	inserter.mu.Lock()
	assert.True(t, inserter.closed)
	inserter.mu.Unlock()
}

func TestLedger_RecordAfterStopIsDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inserter := &mockInserter{}
	ledger := costledger.NewLedger(costledger.LedgerConfig{BatchSize: 100, FlushInterval: time.Hour}, inserter, zerolog.Nop())
	ledger.Start(ctx)

	ledger.Record(record("transcripts"))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, ledger.Stop(stopCtx))

	// A late observer callback after shutdown must not panic; the record is
	// dropped and counted.
	assert.NotPanics(t, func() { ledger.Record(record("transcripts")) })
	assert.Equal(t, uint64(1), ledger.Dropped())
	assert.Equal(t, 1, inserter.totalRecords(), "only the pre-stop record is flushed")
}

func TestLedger_InsertFailureDoesNotStopWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inserter := &mockInserter{err: errors.New("bigquery down")}
	ledger := costledger.NewLedger(costledger.LedgerConfig{BatchSize: 1, FlushInterval: time.Hour}, inserter, zerolog.Nop())
	ledger.Start(ctx)

	ledger.Record(record("maps"))
	ledger.Record(record("maps"))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	assert.NoError(t, ledger.Stop(stopCtx), "sink failures are logged, not fatal")
}

func TestLedger_ObserverMapsDispatchReports(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inserter := &mockInserter{}
	ledger := costledger.NewLedger(costledger.LedgerConfig{BatchSize: 1, FlushInterval: time.Hour}, inserter, zerolog.Nop())
	ledger.Start(ctx)

	observe := ledger.Observer()
	observe(batchqueue.DispatchReport{
		RequestType: "keyword_metrics",
		BatchSize:   5,
		Cost:        0.05,
		Success:     true,
		Duration:    120 * time.Millisecond,
		Timestamp:   time.Now(),
	})

	require.Eventually(t, func() bool {
		return inserter.totalRecords() == 1
	}, time.Second, 10*time.Millisecond)

	inserter.mu.Lock()
	row := inserter.batches[0][0]
	inserter.mu.Unlock()
	assert.Equal(t, "keyword_metrics", row.RequestType)
	assert.Equal(t, 5, row.BatchSize)
	assert.Equal(t, int64(120), row.DurationMS)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, ledger.Stop(stopCtx))
}
