package taskpoller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rainmanjam/social-flood-sub000/pkg/cachestore"
	"github.com/rs/zerolog"
)

// Config holds configuration for the Poller.
type Config struct {
	// PollInterval is the fixed sleep between poll cycles. There is no
	// per-task backoff; the interval is the retry mechanism.
	PollInterval time.Duration
	// MaxTaskAge is how long a task may stay tracked without the upstream
	// ever reporting it ready before it is pruned.
	MaxTaskAge time.Duration
	// ResultTTL is the cache TTL applied to completed results.
	ResultTTL time.Duration
	// CacheNamespace partitions cached task results from other cached data.
	CacheNamespace string
}

// Stats is a point-in-time snapshot of the Poller's counters.
type Stats struct {
	Polls     uint64 `json:"polls"`
	Completed uint64 `json:"completed"`
	Errored   uint64 `json:"errored"`
	Pruned    uint64 `json:"pruned"`
	Active    int    `json:"active"`
}

// Poller tracks externally-submitted long-running jobs, periodically asks
// the upstream which tracked jobs are ready, caches their results, and
// prunes stale entries. One poll cycle always finishes before the next
// begins, so upstream load is bounded by the interval, not the task count.
type Poller struct {
	cfg           Config
	client        TaskClient
	cache         *cachestore.Manager
	registrations RegistrationStore
	notifier      CompletionNotifier
	archiver      ResultArchiver
	logger        zerolog.Logger

	mu    sync.Mutex
	tasks map[string]*TrackedTask

	stopCh    chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	polls     atomic.Uint64
	completed atomic.Uint64
	errored   atomic.Uint64
	pruned    atomic.Uint64
}

// Option configures optional poller collaborators.
type Option func(*Poller)

// WithRegistrationStore persists registrations for restart inspection.
func WithRegistrationStore(store RegistrationStore) Option {
	return func(p *Poller) { p.registrations = store }
}

// WithCompletionNotifier publishes an event after each completed task.
func WithCompletionNotifier(notifier CompletionNotifier) Option {
	return func(p *Poller) { p.notifier = notifier }
}

// WithResultArchiver archives the raw payload of each completed task.
func WithResultArchiver(archiver ResultArchiver) Option {
	return func(p *Poller) { p.archiver = archiver }
}

// NewPoller creates a task poller. The cache manager is where completed
// results are persisted; the client is the upstream abstraction.
func NewPoller(cfg Config, client TaskClient, cache *cachestore.Manager, logger zerolog.Logger, opts ...Option) (*Poller, error) {
	if client == nil {
		return nil, fmt.Errorf("task client cannot be nil")
	}
	if cache == nil {
		return nil, fmt.Errorf("cache manager cannot be nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.MaxTaskAge <= 0 {
		cfg.MaxTaskAge = 24 * time.Hour
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 6 * time.Hour
	}
	if cfg.CacheNamespace == "" {
		cfg.CacheNamespace = "tasks"
	}

	p := &Poller{
		cfg:    cfg,
		client: client,
		cache:  cache,
		logger: logger.With().Str("component", "TaskPoller").Logger(),
		tasks:  make(map[string]*TrackedTask),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Track registers an external task as pending. The registration is persisted
// when a registration store is configured; a persistence failure is logged
// but does not fail tracking.
func (p *Poller) Track(ctx context.Context, taskID string, correlationKeys ...string) error {
	if taskID == "" {
		return fmt.Errorf("task id cannot be empty")
	}

	task := &TrackedTask{
		TaskID:          taskID,
		CorrelationKeys: correlationKeys,
		CreatedAt:       time.Now(),
		State:           StatePending,
	}

	p.mu.Lock()
	if _, exists := p.tasks[taskID]; exists {
		p.mu.Unlock()
		return fmt.Errorf("task %s is already tracked", taskID)
	}
	p.tasks[taskID] = task
	p.mu.Unlock()

	if p.registrations != nil {
		if err := p.registrations.Save(ctx, task); err != nil {
			p.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to persist task registration.")
		}
	}

	p.logger.Info().Str("task_id", taskID).Strs("correlation_keys", correlationKeys).Msg("Tracking external task.")
	return nil
}

// Start launches the background poll loop. Calling Start more than once has
// no effect.
func (p *Poller) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.logger.Info().
			Dur("poll_interval", p.cfg.PollInterval).
			Dur("max_task_age", p.cfg.MaxTaskAge).
			Msg("Starting task poller...")
		p.wg.Add(1)
		go p.loop(ctx)
	})
}

// Stop cancels the poll loop and waits for the current cycle to finish,
// respecting the context's deadline. Stop is not fire-and-forget.
func (p *Poller) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info().Msg("Task poller stopped gracefully.")
		return nil
	case <-ctx.Done():
		p.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for task poller to stop.")
		return ctx.Err()
	}
}

// loop runs one poll cycle per interval. Each cycle fully finishes before
// the next sleep begins, so CheckReady is never issued concurrently with
// itself.
func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// pollOnce runs a single cycle: ready-check, per-task fetch, then pruning.
// Pruning always runs after the fetch step, never interleaved with it.
func (p *Poller) pollOnce(ctx context.Context) {
	p.polls.Add(1)

	if p.activeCount() == 0 {
		return
	}

	readyIDs, err := p.client.CheckReady(ctx)
	if err != nil {
		// The fixed poll interval is the retry mechanism; tracked tasks are
		// left pending and the cycle ends early.
		p.logger.Error().Err(err).Msg("Ready check failed, ending poll cycle early.")
		return
	}

	for _, taskID := range readyIDs {
		p.mu.Lock()
		task, tracked := p.tasks[taskID]
		p.mu.Unlock()
		if !tracked {
			continue
		}
		p.handleReadyTask(ctx, task)
	}

	p.pruneStale(ctx)
}

// handleReadyTask fetches one ready task's result and settles it.
func (p *Poller) handleReadyTask(ctx context.Context, task *TrackedTask) {
	result, err := p.client.FetchResult(ctx, task.TaskID)
	if err != nil {
		p.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("Failed to fetch task result, will retry next cycle.")
		p.incrementAttempts(task.TaskID)
		return
	}

	switch result.Status {
	case ResultCompleted:
		p.completeTask(ctx, task, result)
	case ResultProcessing:
		p.incrementAttempts(task.TaskID)
	case ResultErrored:
		// Terminal failures are not cached, so a later manual retry can
		// re-submit the job.
		p.logger.Warn().Str("task_id", task.TaskID).Str("message", result.Message).Msg("Upstream reported task error.")
		p.errored.Add(1)
		p.untrack(ctx, task.TaskID, StateErrored)
	default:
		p.logger.Warn().Str("task_id", task.TaskID).Str("status", string(result.Status)).Msg("Unexpected task result status, leaving pending.")
		p.incrementAttempts(task.TaskID)
	}
}

// completeTask caches the result under the task id and every correlation
// key, notifies and archives when configured, and removes the task from the
// active set. The pending→completed transition happens exactly once because
// untrack deletes the task from the set.
func (p *Poller) completeTask(ctx context.Context, task *TrackedTask, result *TaskResult) {
	p.cache.Set(ctx, task.TaskID, result, p.cfg.ResultTTL, p.cfg.CacheNamespace)
	for _, key := range task.CorrelationKeys {
		p.cache.Set(ctx, key, result, p.cfg.ResultTTL, p.cfg.CacheNamespace)
	}

	if p.archiver != nil {
		if err := p.archiver.Archive(ctx, task.TaskID, result.Data); err != nil {
			p.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("Failed to archive task result.")
		}
	}
	if p.notifier != nil {
		if err := p.notifier.NotifyCompleted(ctx, task.TaskID, task.CorrelationKeys, task.Attempts); err != nil {
			p.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("Failed to publish completion event.")
		}
	}

	p.completed.Add(1)
	p.untrack(ctx, task.TaskID, StateCompleted)
	p.logger.Info().Str("task_id", task.TaskID).Int("attempts", task.Attempts).Msg("Task completed and result cached.")
}

// pruneStale removes tasks older than the maximum age regardless of state,
// bounding memory growth from tasks the upstream never reports ready. A
// pruned task's status becomes unknown to later queries.
func (p *Poller) pruneStale(ctx context.Context) {
	cutoff := time.Now().Add(-p.cfg.MaxTaskAge)

	p.mu.Lock()
	var stale []string
	for taskID, task := range p.tasks {
		if task.CreatedAt.Before(cutoff) {
			stale = append(stale, taskID)
			delete(p.tasks, taskID)
		}
	}
	p.mu.Unlock()

	for _, taskID := range stale {
		p.pruned.Add(1)
		p.logger.Warn().Str("task_id", taskID).Dur("max_age", p.cfg.MaxTaskAge).Msg("Pruned stale task that never became ready.")
		p.deleteRegistration(ctx, taskID)
	}
}

// Status answers a status query for a task id: the cached result when the
// task completed, a lightweight snapshot while it is actively tracked, and
// unknown otherwise (including after pruning).
func (p *Poller) Status(ctx context.Context, taskID string) StatusSnapshot {
	if data, ok := p.cache.Get(ctx, taskID, p.cfg.CacheNamespace); ok {
		return StatusSnapshot{TaskID: taskID, State: StateCompleted, Result: data}
	}

	// The snapshot fields are copied while holding the lock: the poll loop
	// mutates Attempts and State on the shared task under the same lock.
	p.mu.Lock()
	task, tracked := p.tasks[taskID]
	if tracked {
		snapshot := StatusSnapshot{
			TaskID:   taskID,
			State:    task.State,
			Attempts: task.Attempts,
			Age:      time.Since(task.CreatedAt),
		}
		p.mu.Unlock()
		return snapshot
	}
	p.mu.Unlock()

	return StatusSnapshot{TaskID: taskID, State: StateUnknown}
}

// Stats returns a snapshot of the poller's counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Polls:     p.polls.Load(),
		Completed: p.completed.Load(),
		Errored:   p.errored.Load(),
		Pruned:    p.pruned.Load(),
		Active:    p.activeCount(),
	}
}

func (p *Poller) activeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

func (p *Poller) incrementAttempts(taskID string) {
	p.mu.Lock()
	if task, ok := p.tasks[taskID]; ok {
		task.Attempts++
	}
	p.mu.Unlock()
}

// untrack removes a task from the active set after its single terminal
// transition and cleans up its persisted registration.
func (p *Poller) untrack(ctx context.Context, taskID string, state TaskState) {
	p.mu.Lock()
	if task, ok := p.tasks[taskID]; ok {
		task.State = state
		delete(p.tasks, taskID)
	}
	p.mu.Unlock()
	p.deleteRegistration(ctx, taskID)
}

func (p *Poller) deleteRegistration(ctx context.Context, taskID string) {
	if p.registrations == nil {
		return
	}
	if err := p.registrations.Delete(ctx, taskID); err != nil {
		p.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to delete task registration.")
	}
}
