package batchqueue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HardMaxBatchSize is the upstream API's hard limit on items per composite
// call. A configured batch size is clamped down to this, never up.
const HardMaxBatchSize = 100

// Config holds configuration for a Queue.
type Config struct {
	// RequestType tags every request this queue handles and feeds into the
	// dedup fingerprint.
	RequestType string
	// BatchSize is the number of distinct pending requests that triggers an
	// immediate dispatch. Clamped to HardMaxBatchSize.
	BatchSize int
	// FlushInterval is how long a partial batch may wait before being
	// dispatched anyway.
	FlushInterval time.Duration
	// DispatchTimeout bounds the upstream composite call for one flush.
	DispatchTimeout time.Duration
}

// Stats is a point-in-time snapshot of a Queue's counters.
type Stats struct {
	RequestsQueued uint64 `json:"requestsQueued"`
	BatchesSent    uint64 `json:"batchesSent"`
	Deduplicated   uint64 `json:"deduplicated"`
	CallsSaved     uint64 `json:"callsSaved"`
}

// pendingRequest is the queue's unit of work. Exactly one dispatch resolves
// it, exactly once; every caller attached to it waits on done and reads
// result afterwards.
type pendingRequest struct {
	id          string
	fingerprint string
	params      map[string]string
	enqueuedAt  time.Time

	done   chan struct{}
	result ItemResult
}

// resolve publishes the result to all waiters. Must be called at most once.
func (p *pendingRequest) resolve(result ItemResult) {
	p.result = result
	close(p.done)
}

// Queue accumulates same-type requests, deduplicates identical ones, and
// flushes them as one composite call when the size threshold is reached or
// the flush timer fires. The pending slice and the fingerprint map are only
// ever mutated together, under one mutex.
type Queue struct {
	cfg       Config
	processor Processor
	observer  DispatchObserver
	logger    zerolog.Logger

	mu            sync.Mutex
	pending       []*pendingRequest
	byFingerprint map[string]*pendingRequest
	flushTimer    *time.Timer
	timerGen      uint64

	dispatchWg sync.WaitGroup

	requestsQueued atomic.Uint64
	batchesSent    atomic.Uint64
	deduplicated   atomic.Uint64
	callsSaved     atomic.Uint64
}

// NewQueue creates a batch queue around the injected composite processor.
// The observer is optional and may be nil.
func NewQueue(cfg Config, processor Processor, observer DispatchObserver, logger zerolog.Logger) (*Queue, error) {
	if processor == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}
	if cfg.RequestType == "" {
		return nil, fmt.Errorf("request type cannot be empty")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BatchSize > HardMaxBatchSize {
		logger.Warn().
			Int("configured", cfg.BatchSize).
			Int("hard_max", HardMaxBatchSize).
			Msg("Configured batch size exceeds upstream hard maximum, clamping.")
		cfg.BatchSize = HardMaxBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 60 * time.Second
	}

	return &Queue{
		cfg:           cfg,
		processor:     processor,
		observer:      observer,
		logger:        logger.With().Str("component", "BatchQueue").Str("request_type", cfg.RequestType).Logger(),
		byFingerprint: make(map[string]*pendingRequest),
	}, nil
}

// BatchSize returns the effective (clamped) dispatch threshold.
func (q *Queue) BatchSize() int {
	return q.cfg.BatchSize
}

// Submit enqueues a request and blocks until its result is available or ctx
// is done. An identical in-flight request is joined rather than re-queued:
// both callers receive the same result from a single upstream unit.
func (q *Queue) Submit(ctx context.Context, params map[string]string) (ItemResult, error) {
	fingerprint := Fingerprint(q.cfg.RequestType, params)

	q.mu.Lock()
	request, isNew := q.attachOrEnqueueLocked(fingerprint, params)
	var ready []*pendingRequest
	if isNew && len(q.pending) >= q.cfg.BatchSize {
		ready = q.takeBatchLocked()
	} else if isNew && q.flushTimer == nil {
		gen := q.timerGen
		q.flushTimer = time.AfterFunc(q.cfg.FlushInterval, func() { q.onFlushTimer(gen) })
	}
	q.mu.Unlock()

	if len(ready) > 0 {
		q.dispatchWg.Add(1)
		go func() {
			defer q.dispatchWg.Done()
			q.dispatch(ready)
		}()
	}

	select {
	case <-request.done:
		return request.result, nil
	case <-ctx.Done():
		return ItemResult{}, ctx.Err()
	}
}

// attachOrEnqueueLocked is the single atomic check-and-insert: either the
// fingerprint is already pending and the caller attaches to it, or a new
// pending request is created. Caller must hold q.mu.
func (q *Queue) attachOrEnqueueLocked(fingerprint string, params map[string]string) (request *pendingRequest, isNew bool) {
	if existing, ok := q.byFingerprint[fingerprint]; ok {
		q.deduplicated.Add(1)
		q.logger.Debug().Str("fingerprint", fingerprint).Msg("Duplicate in-flight request, attaching to pending result.")
		return existing, false
	}

	request = &pendingRequest{
		id:          uuid.New().String(),
		fingerprint: fingerprint,
		params:      params,
		enqueuedAt:  time.Now(),
		done:        make(chan struct{}),
	}
	q.pending = append(q.pending, request)
	q.byFingerprint[fingerprint] = request
	q.requestsQueued.Add(1)
	return request, true
}

// takeBatchLocked atomically snapshots and clears the pending slice and the
// fingerprint map, and cancels any outstanding flush timer. Bumping the
// generation invalidates a timer callback that already fired but has not run
// yet. Caller must hold q.mu.
func (q *Queue) takeBatchLocked() []*pendingRequest {
	if q.flushTimer != nil {
		q.flushTimer.Stop()
		q.flushTimer = nil
		q.timerGen++
	}
	batch := q.pending
	q.pending = nil
	q.byFingerprint = make(map[string]*pendingRequest)
	return batch
}

// onFlushTimer dispatches whatever is queued when the flush interval elapses
// before the size threshold is reached. A stale callback, whose batch was
// already consumed by a size-triggered dispatch, must not touch the queue:
// the timer field may already hold a newer timer for the next batch.
func (q *Queue) onFlushTimer(gen uint64) {
	q.mu.Lock()
	if gen != q.timerGen {
		q.mu.Unlock()
		return
	}
	q.flushTimer = nil
	q.timerGen++
	batch := q.takeBatchLocked()
	q.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	q.logger.Debug().Int("batch_size", len(batch)).Msg("Flush timer fired, dispatching partial batch.")
	q.dispatchWg.Add(1)
	go func() {
		defer q.dispatchWg.Done()
		q.dispatch(batch)
	}()
}

// Flush forces an immediate, synchronous dispatch of everything currently
// queued. Used for graceful shutdown and explicit cache warming.
func (q *Queue) Flush(ctx context.Context) {
	q.mu.Lock()
	batch := q.takeBatchLocked()
	q.mu.Unlock()

	if len(batch) > 0 {
		q.dispatch(batch)
	}

	// Wait for any size- or timer-triggered dispatches still in flight.
	done := make(chan struct{})
	go func() {
		q.dispatchWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		q.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for in-flight dispatches during flush.")
	}
}

// dispatch performs the composite call for one batch and distributes the
// response positionally: Items[i] resolves pending[i]. A processor error
// resolves every request with a uniform failure result; a short composite
// response resolves the unmatched tail with explicit failures.
func (q *Queue) dispatch(batch []*pendingRequest) {
	started := time.Now()
	q.batchesSent.Add(1)
	q.callsSaved.Add(uint64(len(batch) - 1))

	params := make([]map[string]string, len(batch))
	for i, request := range batch {
		params[i] = request.params
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.DispatchTimeout)
	defer cancel()

	response, err := q.processor(ctx, params)
	if err != nil {
		q.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Composite call failed, resolving batch with uniform failure.")
		failure := ItemResult{Success: false, Error: err.Error()}
		for _, request := range batch {
			request.resolve(failure)
		}
		q.observe(DispatchReport{
			RequestType: q.cfg.RequestType,
			BatchSize:   len(batch),
			Success:     false,
			Duration:    time.Since(started),
			Timestamp:   started,
		})
		return
	}

	for i, request := range batch {
		if i < len(response.Items) {
			request.resolve(response.Items[i])
			continue
		}
		request.resolve(ItemResult{
			Success: false,
			Error:   "no result returned for this request",
		})
	}
	if len(response.Items) < len(batch) {
		q.logger.Warn().
			Int("batch_size", len(batch)).
			Int("result_count", len(response.Items)).
			Msg("Composite response shorter than batch, tail resolved as failures.")
	}

	q.logger.Info().
		Int("batch_size", len(batch)).
		Dur("duration", time.Since(started)).
		Float64("cost", response.Cost).
		Msg("Batch dispatched.")

	q.observe(DispatchReport{
		RequestType: q.cfg.RequestType,
		BatchSize:   len(batch),
		Cost:        response.Cost,
		Success:     true,
		Duration:    time.Since(started),
		Timestamp:   started,
	})
}

func (q *Queue) observe(report DispatchReport) {
	if q.observer != nil {
		q.observer(report)
	}
}

// Stats returns a snapshot of the queue's counters. CallsSaved is an
// estimate for cost reporting (batch size minus one, summed over flushes),
// not a control input.
func (q *Queue) Stats() Stats {
	return Stats{
		RequestsQueued: q.requestsQueued.Load(),
		BatchesSent:    q.batchesSent.Load(),
		Deduplicated:   q.deduplicated.Load(),
		CallsSaved:     q.callsSaved.Load(),
	}
}
