// Package storage defines persistence contracts for the seed pool and for
// hash-chain sessions.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/entropyd/entropyd/internal/entropy"
)

// ErrVersionConflict indicates a pool update lost an optimistic-concurrency
// race: the stored version no longer matches the version the caller read.
// The caller re-reads and retries instead of overwriting with stale state.
var ErrVersionConflict = errors.New("seed pool version conflict")

// ErrSessionNotFound indicates the chain session does not exist.
var ErrSessionNotFound = errors.New("chain session not found")

// PoolRecord is the single durable seed pool.
//
// Values are consumed from the front (FIFO). An empty Values slice is
// equivalent to an absent pool. Version increases on every write and backs
// the compare-and-swap discipline in UpdatePool.
type PoolRecord struct {
	Values     []uint16
	Provenance entropy.Provenance
	CreatedAt  time.Time
	Version    int64
}

// PoolStore persists the single seed pool record.
//
// Absence of the record is a normal state, not an error.
type PoolStore interface {
	// GetPool loads the pool. The second result is false when no pool exists.
	GetPool(ctx context.Context) (PoolRecord, bool, error)

	// ReplacePool stores record wholesale, discarding any existing pool.
	// Refill uses this: old and new pools are never merged.
	ReplacePool(ctx context.Context, record PoolRecord) error

	// UpdatePool stores record only if the stored version still equals
	// expectedVersion, returning ErrVersionConflict otherwise.
	UpdatePool(ctx context.Context, record PoolRecord, expectedVersion int64) error

	// DeletePool removes the pool record; deleting an absent pool is a no-op.
	DeletePool(ctx context.Context) error
}

// ChainSession is the persisted state of one hash-chain generator.
// The counter never decreases and is never reused for a given seed.
type ChainSession struct {
	ID         string
	Seed       []byte
	Counter    uint64
	Provenance entropy.Provenance
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SessionStore persists chain sessions, each owned by one logical client.
type SessionStore interface {
	CreateSession(ctx context.Context, session ChainSession) error
	GetSession(ctx context.Context, id string) (ChainSession, error)
	// UpdateSession persists the advanced counter (and, after a reseed, the
	// new seed and provenance). Returns ErrSessionNotFound for unknown ids.
	UpdateSession(ctx context.Context, session ChainSession) error
	DeleteSession(ctx context.Context, id string) error
}
