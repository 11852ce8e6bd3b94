package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Successer is implemented by result values that carry their own success
// flag. The Manager refuses to cache values reporting failure so that a
// retried request always goes back to the network.
type Successer interface {
	Succeeded() bool
}

// ManagerConfig holds configuration for the cache Manager.
type ManagerConfig struct {
	// KeyPrefix is prepended to every key, separating this application's
	// entries from anything else sharing the backend.
	KeyPrefix string
	// DefaultTTL applies when a caller passes a non-positive TTL.
	DefaultTTL time.Duration
}

// ManagerStats is a point-in-time snapshot of the Manager's counters.
type ManagerStats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Sets          uint64 `json:"sets"`
	BackendErrors uint64 `json:"backendErrors"`
}

// Manager is the namespaced, TTL-based cache facade the rest of the system
// talks to. It prefers the primary (shared) store when one is configured and
// degrades transparently to a process-local store on any backend error; a
// storage failure is never surfaced to the caller as an error.
type Manager struct {
	cfg     ManagerConfig
	primary Store
	local   *MemoryStore
	logger  zerolog.Logger

	hits          atomic.Uint64
	misses        atomic.Uint64
	sets          atomic.Uint64
	backendErrors atomic.Uint64
}

// NewManager creates a cache Manager. The primary store may be nil, in which
// case only the local in-memory store is used.
func NewManager(cfg ManagerConfig, primary Store, local *MemoryStore, logger zerolog.Logger) (*Manager, error) {
	if local == nil {
		return nil, fmt.Errorf("local memory store cannot be nil")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "social-flood"
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 1 * time.Hour
	}
	return &Manager{
		cfg:     cfg,
		primary: primary,
		local:   local,
		logger:  logger.With().Str("component", "CacheManager").Logger(),
	}, nil
}

// namespacedKey builds the full backend key for a namespace and logical key.
func (m *Manager) namespacedKey(namespace, key string) string {
	if namespace == "" {
		namespace = "default"
	}
	return m.cfg.KeyPrefix + ":" + namespace + ":" + key
}

// namespacePrefix is the scan prefix covering one namespace, or the whole
// keyspace when namespace is empty.
func (m *Manager) namespacePrefix(namespace string) string {
	if namespace == "" {
		return m.cfg.KeyPrefix + ":"
	}
	return m.cfg.KeyPrefix + ":" + namespace + ":"
}

// Get retrieves a cached value. It never returns an error: a backend failure
// is logged, counted, and reported as a miss.
func (m *Manager) Get(ctx context.Context, key, namespace string) (json.RawMessage, bool) {
	fullKey := m.namespacedKey(namespace, key)

	data, err := m.readThrough(ctx, fullKey)
	if err != nil {
		m.misses.Add(1)
		return nil, false
	}
	m.hits.Add(1)
	m.logger.Debug().Str("key", fullKey).Msg("Cache hit.")
	return data, true
}

// readThrough reads from the primary store, falling back to the local store
// when the primary errors (not when it simply misses).
func (m *Manager) readThrough(ctx context.Context, fullKey string) ([]byte, error) {
	if m.primary == nil {
		return m.local.Get(ctx, fullKey)
	}
	data, err := m.primary.Get(ctx, fullKey)
	if err == nil {
		return data, nil
	}
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	m.backendErrors.Add(1)
	m.logger.Error().Err(err).Str("key", fullKey).Msg("Primary cache backend failed on read, falling back to local store.")
	return m.local.Get(ctx, fullKey)
}

// Set serializes and stores a value with a fresh TTL. It returns false, and
// stores nothing, when the value reports failure: unsuccessful results must
// never be cached, so a retried request goes back to the network.
func (m *Manager) Set(ctx context.Context, key string, value any, ttl time.Duration, namespace string) bool {
	fullKey := m.namespacedKey(namespace, key)
	data, cacheable := m.encode(fullKey, value)
	if !cacheable {
		m.logger.Debug().Str("key", key).Msg("Refusing to cache unsuccessful result.")
		return false
	}
	return m.setRaw(ctx, fullKey, data, ttl)
}

// encode serializes a value exactly once and reports whether the result may
// be cached. A value that cannot be serialized is stored as its string
// rendering rather than failing the caller.
func (m *Manager) encode(fullKey string, value any) (json.RawMessage, bool) {
	if s, ok := value.(Successer); ok && !s.Succeeded() {
		return nil, false
	}
	data, err := json.Marshal(value)
	if err != nil {
		m.logger.Warn().Err(err).Str("key", fullKey).Msg("Value not serializable, storing string representation.")
		data, _ = json.Marshal(fmt.Sprintf("%v", value))
		return data, true
	}
	if _, ok := value.(Successer); ok {
		return data, true
	}
	return data, cacheableJSON(data)
}

// setRaw writes already-serialized bytes with a fresh TTL.
func (m *Manager) setRaw(ctx context.Context, fullKey string, data []byte, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}
	if err := m.writeThrough(ctx, fullKey, data, ttl); err != nil {
		m.backendErrors.Add(1)
		m.logger.Error().Err(err).Str("key", fullKey).Msg("Cache write failed on all backends.")
		return false
	}
	m.sets.Add(1)
	return true
}

// writeThrough writes to the primary store, falling back to the local store
// on error.
func (m *Manager) writeThrough(ctx context.Context, fullKey string, data []byte, ttl time.Duration) error {
	if m.primary == nil {
		return m.local.Set(ctx, fullKey, data, ttl)
	}
	if err := m.primary.Set(ctx, fullKey, data, ttl); err != nil {
		m.backendErrors.Add(1)
		m.logger.Error().Err(err).Str("key", fullKey).Msg("Primary cache backend failed on write, falling back to local store.")
		return m.local.Set(ctx, fullKey, data, ttl)
	}
	return nil
}

// Delete removes a single entry from every backend.
func (m *Manager) Delete(ctx context.Context, key, namespace string) bool {
	fullKey := m.namespacedKey(namespace, key)
	ok := true
	if m.primary != nil {
		if err := m.primary.Delete(ctx, fullKey); err != nil {
			m.backendErrors.Add(1)
			m.logger.Error().Err(err).Str("key", fullKey).Msg("Primary cache backend failed on delete.")
			ok = false
		}
	}
	if err := m.local.Delete(ctx, fullKey); err != nil {
		ok = false
	}
	return ok
}

// Clear removes every entry in the given namespace, or the whole keyspace
// when namespace is empty.
func (m *Manager) Clear(ctx context.Context, namespace string) bool {
	prefix := m.namespacePrefix(namespace)
	ok := true
	for _, store := range []Store{m.primary, m.local} {
		if store == nil {
			continue
		}
		keys, err := store.Scan(ctx, prefix)
		if err != nil {
			m.backendErrors.Add(1)
			m.logger.Error().Err(err).Str("prefix", prefix).Msg("Cache scan failed during clear.")
			ok = false
			continue
		}
		for _, k := range keys {
			if err := store.Delete(ctx, k); err != nil {
				ok = false
			}
		}
	}
	return ok
}

// GetOrFetch returns the cached value for key when present; otherwise it
// invokes fetch, caches a successful result, and returns it. A fetch error
// propagates to the caller uncached.
func (m *Manager) GetOrFetch(ctx context.Context, key, namespace string, ttl time.Duration, fetch func(ctx context.Context) (any, error)) (json.RawMessage, error) {
	if data, ok := m.Get(ctx, key, namespace); ok {
		return data, nil
	}

	value, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	fullKey := m.namespacedKey(namespace, key)
	data, cacheable := m.encode(fullKey, value)
	if data == nil {
		data, _ = json.Marshal(value)
	}
	if cacheable {
		m.setRaw(ctx, fullKey, data, ttl)
	}
	return data, nil
}

// Stats returns a snapshot of the Manager's counters.
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		Hits:          m.hits.Load(),
		Misses:        m.misses.Load(),
		Sets:          m.sets.Load(),
		BackendErrors: m.backendErrors.Load(),
	}
}

// Start launches the local store's background expiry sweep. Without it,
// expired local entries are reclaimed only when read. Calling Start more
// than once has no effect.
func (m *Manager) Start(ctx context.Context) {
	m.local.Start(ctx)
}

// Close closes the underlying stores.
func (m *Manager) Close() error {
	var firstErr error
	if m.primary != nil {
		if err := m.primary.Close(); err != nil {
			firstErr = err
		}
	}
	if err := m.local.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Cacheable reports whether a value represents a successful result. Values
// implementing Successer answer for themselves; JSON objects carrying a
// `"success": false` field are likewise refused.
func Cacheable(value any) bool {
	if s, ok := value.(Successer); ok {
		return s.Succeeded()
	}
	data, err := json.Marshal(value)
	if err != nil {
		return true
	}
	return cacheableJSON(data)
}

// cacheableJSON applies the success-field probe to serialized bytes.
func cacheableJSON(data []byte) bool {
	var probe struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return true
	}
	return probe.Success == nil || *probe.Success
}
