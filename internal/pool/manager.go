// Package pool maintains the durable seed pool that amortizes expensive
// external entropy calls across many draw requests.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/entropyd/entropyd/internal/entropy"
	"github.com/entropyd/entropyd/internal/platform/timeouts"
	"github.com/entropyd/entropyd/internal/pool/storage"
)

const (
	// DefaultTargetSize is how many raw values a refill aims to stock.
	DefaultTargetSize = 1000

	// RefillThreshold triggers a background refill once the remaining pool
	// shrinks below it.
	RefillThreshold = 100

	// ProviderBatchCap bounds a single provider request regardless of the
	// configured target size.
	ProviderBatchCap = 1024

	// TTL discards a pool this long after creation regardless of remaining
	// size.
	TTL = 24 * time.Hour

	// consumeRetries bounds optimistic-concurrency retries per consume.
	consumeRetries = 5
)

// Status is a read-only snapshot of the stored pool.
type Status struct {
	Exists     bool
	Remaining  int
	Provenance entropy.Provenance
	AgeMinutes int
}

// Config tunes a Manager. Zero values select production defaults.
type Config struct {
	TargetSize int
	Clock      clockwork.Clock
	Logf       func(format string, args ...any)
}

// Manager owns the seed pool lifecycle: fetch-on-empty, threshold-triggered
// background refill, and atomic consume-and-shrink.
//
// A process-local mutex serializes consumers, and every shrink is persisted
// with a compare-and-swap on the stored version, so a losing writer retries
// against fresh state instead of re-issuing values another consumer already
// received.
type Manager struct {
	store      storage.PoolStore
	sources    []entropy.Source
	targetSize int
	clock      clockwork.Clock
	logf       func(format string, args ...any)
	tracer     trace.Tracer

	mu        sync.Mutex
	refilling atomic.Bool

	// refillDone, when set, is invoked after a background refill finishes.
	// Tests use it to synchronize on the detached goroutine.
	refillDone func()
}

// NewManager creates a pool manager over the given store and tiered sources.
// Sources are tried strictly in slice order during refill.
func NewManager(store storage.PoolStore, sources []entropy.Source, cfg Config) *Manager {
	if cfg.TargetSize <= 0 {
		cfg.TargetSize = DefaultTargetSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logf == nil {
		cfg.Logf = log.Printf
	}
	return &Manager{
		store:      store,
		sources:    sources,
		targetSize: cfg.TargetSize,
		clock:      cfg.Clock,
		logf:       cfg.Logf,
		tracer:     otel.Tracer("entropyd/pool"),
	}
}

// Consume removes count values from the front of the pool, maps them into
// [min, max] via modulo reduction, and persists the shrunk pool. If no pool
// exists, the pool has expired, or fewer than count values remain, the pool
// is refilled synchronously first. Once the remaining size drops below the
// refill threshold a background refill is started that never blocks the
// caller.
//
// The modulo mapping is deliberately biased for ranges that do not evenly
// divide the raw domain; the bias is accepted for this system.
func (m *Manager) Consume(ctx context.Context, min, max, count int) ([]int, entropy.Provenance, error) {
	if count <= 0 {
		return nil, entropy.ProvenanceUnspecified, fmt.Errorf("consume count must be positive, got %d", count)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, span := m.tracer.Start(ctx, "pool.consume")
	defer span.End()

	for attempt := 0; attempt < consumeRetries; attempt++ {
		record, ok := m.loadCurrent(ctx)
		if !ok || len(record.Values) < count {
			refilled, err := m.refill(ctx)
			if err != nil {
				return nil, entropy.ProvenanceUnspecified, err
			}
			record = refilled
			if len(record.Values) < count {
				continue
			}
		}

		numbers := make([]int, count)
		rangeSize := uint64(max) - uint64(min) + 1
		for i := 0; i < count; i++ {
			numbers[i] = min + int(uint64(record.Values[i])%rangeSize)
		}

		shrunk := record
		shrunk.Values = append([]uint16(nil), record.Values[count:]...)

		err := m.store.UpdatePool(ctx, shrunk, record.Version)
		if errors.Is(err, storage.ErrVersionConflict) && record.Version > 0 {
			// Another writer shrank or replaced the pool first; our values
			// may already be handed out. Retry against fresh state.
			continue
		}
		if err != nil {
			// The values were already consumed in memory and are returned
			// anyway; the worst case is re-issuing them on the next read,
			// which is the documented accepted inconsistency.
			m.logf("persist consumed pool: %v", err)
		}

		if len(shrunk.Values) < RefillThreshold {
			m.startBackgroundRefill()
		}

		span.SetAttributes(attribute.String("provenance", record.Provenance.String()))
		return numbers, record.Provenance, nil
	}

	return nil, entropy.ProvenanceUnspecified, fmt.Errorf("seed pool contention: %d consume retries exhausted", consumeRetries)
}

// Refill fetches a fresh pool from the tiered providers and replaces the
// stored pool wholesale. The first source to succeed determines the new
// pool's provenance; old and new pools are never merged.
func (m *Manager) Refill(ctx context.Context) (storage.PoolRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refill(ctx)
}

func (m *Manager) refill(ctx context.Context) (storage.PoolRecord, error) {
	ctx, span := m.tracer.Start(ctx, "pool.refill")
	defer span.End()

	request := m.targetSize
	if request > ProviderBatchCap {
		request = ProviderBatchCap
	}

	values, provenance, err := m.fetchTiered(ctx, request)
	if err != nil {
		return storage.PoolRecord{}, err
	}

	record := storage.PoolRecord{
		Values:     values,
		Provenance: provenance,
		CreatedAt:  m.clock.Now().UTC(),
	}
	if err := m.store.ReplacePool(ctx, record); err != nil {
		// A store failure is treated like "no pool": the fetched values
		// still serve the current caller from memory.
		m.logf("replace seed pool: %v", err)
		return record, nil
	}

	stored, ok, err := m.store.GetPool(ctx)
	if err != nil || !ok {
		m.logf("reload seed pool after refill: ok=%v err=%v", ok, err)
		return record, nil
	}
	span.SetAttributes(attribute.String("provenance", stored.Provenance.String()))
	return stored, nil
}

// FetchTiered draws count raw values straight from the provider chain in
// priority order, bypassing the pool. Chain-session seeding uses this.
func (m *Manager) FetchTiered(ctx context.Context, count int) ([]uint16, entropy.Provenance, error) {
	return m.fetchTiered(ctx, count)
}

func (m *Manager) fetchTiered(ctx context.Context, count int) ([]uint16, entropy.Provenance, error) {
	for _, source := range m.sources {
		values, err := source.Fetch(ctx, count)
		if err != nil {
			// Recoverable by contract: abandon the tier, try the next one.
			m.logf("%s provider fetch: %v", source.Provenance(), err)
			continue
		}
		return values, source.Provenance(), nil
	}
	return nil, entropy.ProvenanceUnspecified, fmt.Errorf("all entropy providers failed")
}

// Status reports pool existence, remaining size, provenance, and age in
// minutes. It is read-only and has no side effects.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	record, ok, err := m.store.GetPool(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("load seed pool: %w", err)
	}
	if !ok || len(record.Values) == 0 {
		return Status{}, nil
	}
	age := m.clock.Now().UTC().Sub(record.CreatedAt)
	if age >= TTL {
		return Status{}, nil
	}
	return Status{
		Exists:     true,
		Remaining:  len(record.Values),
		Provenance: record.Provenance,
		AgeMinutes: int(age.Minutes()),
	}, nil
}

// loadCurrent loads the stored pool, treating store failures, emptiness, and
// expiry as "no pool". An expired record is deleted best-effort.
func (m *Manager) loadCurrent(ctx context.Context) (storage.PoolRecord, bool) {
	record, ok, err := m.store.GetPool(ctx)
	if err != nil {
		m.logf("load seed pool: %v", err)
		return storage.PoolRecord{}, false
	}
	if !ok || len(record.Values) == 0 {
		return storage.PoolRecord{}, false
	}
	if m.clock.Now().UTC().Sub(record.CreatedAt) >= TTL {
		if err := m.store.DeletePool(ctx); err != nil {
			m.logf("delete expired seed pool: %v", err)
		}
		return storage.PoolRecord{}, false
	}
	return record, true
}

// startBackgroundRefill kicks off a fire-and-forget refill. Its result is
// only logged; no in-flight request ever waits on it. At most one background
// refill runs at a time.
func (m *Manager) startBackgroundRefill() {
	if !m.refilling.CompareAndSwap(false, true) {
		return
	}
	done := m.refillDone
	go func() {
		defer m.refilling.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.BackgroundRefill)
		defer cancel()
		if _, err := m.Refill(ctx); err != nil {
			m.logf("background pool refill: %v", err)
		}
		if done != nil {
			done()
		}
	}()
}
