// Package cachestore provides the namespaced, TTL-based caching layer that
// sits between the HTTP handlers and the upstream data-source clients.
package cachestore

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by a Store when a key is absent or its entry has expired.
var ErrNotFound = errors.New("cachestore: key not found")

// Store is the storage backend abstraction used by the Manager. Implementations
// exist for a process-local map and for Redis; both are used identically.
type Store interface {
	// Get retrieves the raw bytes for a key. A missing or expired entry
	// returns ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores raw bytes under a key with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Scan returns all live keys with the given prefix.
	Scan(ctx context.Context, prefix string) ([]string, error)
	io.Closer
}
