package cachestore

import (
	"context"
	"strings"
	"sync"
	"time"
)

// memoryEntry is the internal record held by the MemoryStore.
type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStoreConfig holds configuration for the MemoryStore.
type MemoryStoreConfig struct {
	// SweepInterval controls how often the background janitor removes expired
	// entries. Expiry is also checked lazily on every read, so the sweep only
	// bounds memory growth between reads.
	SweepInterval time.Duration
}

// MemoryStore is a thread-safe, process-local Store with per-entry TTL.
// Expired entries are treated as absent on read and reclaimed by a
// background sweep started via Start.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]memoryEntry

	sweepInterval time.Duration
	stopSweep     chan struct{}
	sweepWg       sync.WaitGroup
	startOnce     sync.Once
	stopOnce      sync.Once
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(cfg MemoryStoreConfig) *MemoryStore {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	return &MemoryStore{
		data:          make(map[string]memoryEntry),
		sweepInterval: cfg.SweepInterval,
		stopSweep:     make(chan struct{}),
	}
}

// Get retrieves the value for a key, honouring expiry lazily.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	entry, ok := s.data[key]
	s.mu.RUnlock()
	if !ok || entry.expired(time.Now()) {
		return nil, ErrNotFound
	}
	return entry.value, nil
}

// Set stores a value with a fresh expiry. A non-positive TTL stores the entry
// without an expiry.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.mu.Lock()
	s.data[key] = entry
	s.mu.Unlock()
	return nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

// Scan returns all live keys sharing the given prefix.
func (s *MemoryStore) Scan(_ context.Context, prefix string) ([]string, error) {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for key, entry := range s.data {
		if entry.expired(now) {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Start begins the background sweep goroutine. Calling Start more than once
// has no effect.
func (s *MemoryStore) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.sweepWg.Add(1)
		go s.sweeper(ctx)
	})
}

// sweeper periodically removes expired entries.
func (s *MemoryStore) sweeper(ctx context.Context) {
	defer s.sweepWg.Done()
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopSweep:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

// sweep removes every entry that expired before now.
func (s *MemoryStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.data {
		if entry.expired(now) {
			delete(s.data, key)
		}
	}
}

// Len reports the number of entries currently held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Close stops the background sweep, if one was started, and waits for it.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopSweep)
	})
	s.sweepWg.Wait()
	return nil
}
