// Package orchestrator is the composition root for the request-orchestration
// core: it wires the cache manager, the batch queues, the task poller, and
// the cost ledger together and owns their start/shutdown ordering. Component
// instances are constructed explicitly and injected here; none of the core
// packages hold ambient global state.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/rainmanjam/social-flood-sub000/pkg/batchqueue"
	"github.com/rainmanjam/social-flood-sub000/pkg/cachestore"
	"github.com/rainmanjam/social-flood-sub000/pkg/costledger"
	"github.com/rainmanjam/social-flood-sub000/pkg/taskpoller"
	"github.com/rs/zerolog"
)

// Config holds configuration for the Orchestrator.
type Config struct {
	// HTTPPort is the listen address for the operational HTTP surface,
	// e.g. ":8081". Use ":0" to pick a free port.
	HTTPPort string
}

// Orchestrator aggregates the orchestration core's components behind one
// lifecycle. Shutdown drains the batch queues before stopping the poller and
// the ledger, so no caller is left with an unresolved result.
type Orchestrator struct {
	cfg    Config
	logger zerolog.Logger
	server *BaseServer

	cache  *cachestore.Manager
	poller *taskpoller.Poller
	ledger *costledger.Ledger

	mu     sync.RWMutex
	queues map[string]*batchqueue.Queue
}

// New creates an Orchestrator. The poller and ledger are optional; the cache
// manager is required.
func New(cfg Config, cache *cachestore.Manager, poller *taskpoller.Poller, ledger *costledger.Ledger, logger zerolog.Logger) (*Orchestrator, error) {
	if cache == nil {
		return nil, fmt.Errorf("cache manager cannot be nil")
	}
	if cfg.HTTPPort == "" {
		cfg.HTTPPort = ":8081"
	}

	o := &Orchestrator{
		cfg:    cfg,
		logger: logger.With().Str("component", "Orchestrator").Logger(),
		server: NewBaseServer(logger, cfg.HTTPPort),
		cache:  cache,
		poller: poller,
		ledger: ledger,
		queues: make(map[string]*batchqueue.Queue),
	}
	o.server.Mux().HandleFunc("/statsz", o.statszHandler)
	return o, nil
}

// RegisterQueue adds a named batch queue to the orchestrator's lifecycle.
// Registering the same name twice is an error.
func (o *Orchestrator) RegisterQueue(name string, queue *batchqueue.Queue) error {
	if queue == nil {
		return fmt.Errorf("queue cannot be nil")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.queues[name]; exists {
		return fmt.Errorf("queue %q is already registered", name)
	}
	o.queues[name] = queue
	return nil
}

// Queue returns a registered queue by name.
func (o *Orchestrator) Queue(name string) (*batchqueue.Queue, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	queue, ok := o.queues[name]
	return queue, ok
}

// Start launches the cache sweeper, the ledger, the poller, and the
// operational HTTP server.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.logger.Info().Msg("Starting orchestrator...")

	o.cache.Start(ctx)
	if o.ledger != nil {
		o.ledger.Start(ctx)
	}
	if o.poller != nil {
		o.poller.Start(ctx)
	}
	if err := o.server.Start(); err != nil {
		return fmt.Errorf("failed to start operational HTTP server: %w", err)
	}

	o.logger.Info().Msg("Orchestrator started.")
	return nil
}

// Shutdown stops everything in dependency order: queues are flushed first so
// every waiting caller is resolved, then the poller, then the ledger (which
// flushes the dispatch reports the queues just produced), then the HTTP
// server and the cache backends.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.logger.Info().Msg("Shutting down orchestrator...")
	var firstErr error

	o.mu.RLock()
	queues := make([]*batchqueue.Queue, 0, len(o.queues))
	for _, queue := range o.queues {
		queues = append(queues, queue)
	}
	o.mu.RUnlock()
	for _, queue := range queues {
		queue.Flush(ctx)
	}

	if o.poller != nil {
		if err := o.poller.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if o.ledger != nil {
		if err := o.ledger.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := o.server.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := o.cache.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	if firstErr == nil {
		o.logger.Info().Msg("Orchestrator shut down cleanly.")
	}
	return firstErr
}

// Addr returns the operational HTTP server's listen address.
func (o *Orchestrator) Addr() string {
	return o.server.Addr()
}

// statsSnapshot is the /statsz response body.
type statsSnapshot struct {
	Cache  cachestore.ManagerStats     `json:"cache"`
	Queues map[string]batchqueue.Stats `json:"queues"`
	Poller *taskpoller.Stats           `json:"poller,omitempty"`
}

// statszHandler reports component counters for observability dashboards.
func (o *Orchestrator) statszHandler(w http.ResponseWriter, _ *http.Request) {
	snapshot := statsSnapshot{
		Cache:  o.cache.Stats(),
		Queues: make(map[string]batchqueue.Stats),
	}

	o.mu.RLock()
	for name, queue := range o.queues {
		snapshot.Queues[name] = queue.Stats()
	}
	o.mu.RUnlock()

	if o.poller != nil {
		stats := o.poller.Stats()
		snapshot.Poller = &stats
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		o.logger.Error().Err(err).Msg("Failed to encode stats snapshot.")
	}
}
