package costledger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rainmanjam/social-flood-sub000/pkg/batchqueue"
	"github.com/rs/zerolog"
)

// LedgerConfig holds configuration for the Ledger.
type LedgerConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	// InsertTimeout bounds a single flush to the sink.
	InsertTimeout time.Duration
}

// Ledger buffers call records and flushes them to the inserter when the
// batch fills or the interval elapses. Recording never blocks the dispatch
// path: when the buffer is full, records are dropped and counted.
type Ledger struct {
	config    LedgerConfig
	inserter  RecordInserter
	logger    zerolog.Logger
	inputChan chan *CallRecord
	stopCh    chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	stopOnce  sync.Once
}

// NewLedger creates a cost ledger around the given sink.
func NewLedger(config LedgerConfig, inserter RecordInserter, logger zerolog.Logger) *Ledger {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 30 * time.Second
	}
	if config.InsertTimeout <= 0 {
		config.InsertTimeout = 15 * time.Second
	}
	return &Ledger{
		config:    config,
		inserter:  inserter,
		logger:    logger.With().Str("component", "CostLedger").Logger(),
		inputChan: make(chan *CallRecord, config.BatchSize*2),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the batching worker goroutine.
func (l *Ledger) Start(ctx context.Context) {
	l.logger.Info().
		Int("batch_size", l.config.BatchSize).
		Dur("flush_interval", l.config.FlushInterval).
		Msg("Starting cost ledger worker...")
	l.wg.Add(1)
	go l.worker(ctx)
}

// Stop gracefully shuts down the ledger, flushing any buffered records,
// respecting the context's deadline.
func (l *Ledger) Stop(ctx context.Context) error {
	l.logger.Info().Msg("Stopping cost ledger...")
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		if err := l.inserter.Close(); err != nil {
			l.logger.Error().Err(err).Msg("Error closing ledger inserter.")
		}
		close(done)
	}()

	select {
	case <-done:
		l.logger.Info().Msg("Cost ledger stopped gracefully.")
		return nil
	case <-ctx.Done():
		l.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for cost ledger to stop.")
		return ctx.Err()
	}
}

// Record buffers one call record. It never blocks: if the buffer is full the
// record is dropped and counted, because ledger rows must not slow down the
// dispatch path they observe. Recording after Stop is safe; the record is
// dropped, since a late observer callback may still fire during shutdown.
func (l *Ledger) Record(record CallRecord) {
	select {
	case <-l.stopCh:
		l.dropped.Add(1)
		return
	default:
	}
	select {
	case l.inputChan <- &record:
	default:
		l.dropped.Add(1)
		l.logger.Warn().Str("request_type", record.RequestType).Msg("Ledger buffer full, dropping call record.")
	}
}

// Observer adapts the ledger to the batch queue's dispatch hook.
func (l *Ledger) Observer() batchqueue.DispatchObserver {
	return func(report batchqueue.DispatchReport) {
		l.Record(CallRecord{
			RequestType: report.RequestType,
			BatchSize:   report.BatchSize,
			Cost:        report.Cost,
			Success:     report.Success,
			DurationMS:  report.Duration.Milliseconds(),
			Timestamp:   report.Timestamp,
		})
	}
}

// Dropped reports how many records were discarded because the buffer was full.
func (l *Ledger) Dropped() uint64 {
	return l.dropped.Load()
}

// worker collects records into a batch and flushes on size or interval.
func (l *Ledger) worker(ctx context.Context) {
	defer l.wg.Done()
	batch := make([]*CallRecord, 0, l.config.BatchSize)
	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.flush(context.Background(), batch)
			return

		case <-l.stopCh:
			// Drain whatever Record buffered before the stop signal, then
			// perform the final flush.
			for {
				select {
				case record := <-l.inputChan:
					batch = append(batch, record)
				default:
					l.flush(ctx, batch)
					return
				}
			}

		case record := <-l.inputChan:
			batch = append(batch, record)
			if len(batch) >= l.config.BatchSize {
				l.flush(ctx, batch)
				batch = make([]*CallRecord, 0, l.config.BatchSize)
				ticker.Reset(l.config.FlushInterval)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(ctx, batch)
				batch = make([]*CallRecord, 0, l.config.BatchSize)
			}
		}
	}
}

// flush sends the current batch to the inserter. Insert failures are logged
// and the rows dropped; the ledger is observability, not a system of record.
func (l *Ledger) flush(ctx context.Context, batch []*CallRecord) {
	if len(batch) == 0 {
		return
	}

	insertCtx, cancel := context.WithTimeout(ctx, l.config.InsertTimeout)
	defer cancel()

	if err := l.inserter.InsertBatch(insertCtx, batch); err != nil {
		l.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to insert ledger batch.")
		return
	}
	l.logger.Debug().Int("batch_size", len(batch)).Msg("Ledger batch flushed.")
}
