package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/entropyd/entropyd/internal/entropy"
	"github.com/entropyd/entropyd/internal/pool/storage"
)

type fakeSource struct {
	provenance entropy.Provenance
	start      uint16
	err        error
	calls      int
	lastCount  int
}

func (s *fakeSource) Fetch(_ context.Context, count int) ([]uint16, error) {
	s.calls++
	s.lastCount = count
	if s.err != nil {
		return nil, s.err
	}
	values := make([]uint16, count)
	for i := range values {
		values[i] = s.start + uint16(i)
	}
	return values, nil
}

func (s *fakeSource) Provenance() entropy.Provenance {
	return s.provenance
}

type fakePoolStore struct {
	mu          sync.Mutex
	record      *storage.PoolRecord
	getErr      error
	replaceErr  error
	updateErr   error
	conflictPut func() // invoked before the first UpdatePool to simulate a racing writer
}

func (s *fakePoolStore) GetPool(context.Context) (storage.PoolRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return storage.PoolRecord{}, false, s.getErr
	}
	if s.record == nil {
		return storage.PoolRecord{}, false, nil
	}
	copied := *s.record
	copied.Values = append([]uint16(nil), s.record.Values...)
	return copied, true, nil
}

func (s *fakePoolStore) ReplacePool(_ context.Context, record storage.PoolRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaceErr != nil {
		return s.replaceErr
	}
	version := int64(1)
	if s.record != nil {
		version = s.record.Version + 1
	}
	record.Version = version
	s.record = &record
	return nil
}

func (s *fakePoolStore) UpdatePool(_ context.Context, record storage.PoolRecord, expectedVersion int64) error {
	if s.conflictPut != nil {
		racer := s.conflictPut
		s.conflictPut = nil
		racer()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	if s.record == nil || s.record.Version != expectedVersion {
		return storage.ErrVersionConflict
	}
	record.Version = expectedVersion + 1
	s.record = &record
	return nil
}

func (s *fakePoolStore) DeletePool(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = nil
	return nil
}

func (s *fakePoolStore) current(t *testing.T) storage.PoolRecord {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		t.Fatal("expected a stored pool")
	}
	return *s.record
}

func seedStore(values []uint16, provenance entropy.Provenance, createdAt time.Time) *fakePoolStore {
	return &fakePoolStore{record: &storage.PoolRecord{
		Values:     values,
		Provenance: provenance,
		CreatedAt:  createdAt,
		Version:    1,
	}}
}

func discardLogf(string, ...any) {}

func TestConsumeIsDestructiveFIFO(t *testing.T) {
	clock := clockwork.NewFakeClock()
	original := []uint16{10, 11, 12, 13, 14, 15, 16, 17, 18, 19}
	for i := 0; i < 90; i++ {
		original = append(original, uint16(100+i))
	}
	store := seedStore(append([]uint16(nil), original...), entropy.ProvenanceQuantum, clock.Now().UTC())

	manager := NewManager(store, nil, Config{Clock: clock, Logf: discardLogf})

	numbers, provenance, err := manager.Consume(context.Background(), 0, 65535, 3)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if provenance != entropy.ProvenanceQuantum {
		t.Fatalf("unexpected provenance %v", provenance)
	}
	// Full-width range: mapping is the identity, so the numbers must be the
	// first three pool values in original order.
	for i, want := range []int{10, 11, 12} {
		if numbers[i] != want {
			t.Fatalf("expected FIFO values [10 11 12], got %v", numbers)
		}
	}

	remaining := store.current(t)
	if len(remaining.Values) != len(original)-3 {
		t.Fatalf("expected %d remaining values, got %d", len(original)-3, len(remaining.Values))
	}
	for i, want := range original[3:] {
		if remaining.Values[i] != want {
			t.Fatalf("remaining value %d: expected %d, got %d", i, want, remaining.Values[i])
		}
	}
}

func TestConsumeMapsValuesIntoRangeByModulo(t *testing.T) {
	clock := clockwork.NewFakeClock()
	values := []uint16{0, 1, 7}
	for i := 0; i < 120; i++ {
		values = append(values, 0)
	}
	store := seedStore(values, entropy.ProvenanceAtmospheric, clock.Now().UTC())

	manager := NewManager(store, nil, Config{Clock: clock, Logf: discardLogf})

	numbers, _, err := manager.Consume(context.Background(), 5, 9, 3)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	want := []int{5, 6, 7} // 5 + v mod 5
	for i := range want {
		if numbers[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, numbers)
		}
	}
}

func TestConsumeRefillsWhenPoolTooSmall(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := seedStore([]uint16{1, 2, 3}, entropy.ProvenanceQuantum, clock.Now().UTC())
	quantum := &fakeSource{provenance: entropy.ProvenanceQuantum, start: 500}

	manager := NewManager(store, []entropy.Source{quantum}, Config{Clock: clock, Logf: discardLogf})

	numbers, _, err := manager.Consume(context.Background(), 0, 65535, 5)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if quantum.calls != 1 {
		t.Fatalf("expected one refill fetch, got %d", quantum.calls)
	}
	// Consumption must proceed against the new pool, not the stale 3 values.
	for i, want := range []int{500, 501, 502, 503, 504} {
		if numbers[i] != want {
			t.Fatalf("expected draw from fresh pool, got %v", numbers)
		}
	}
	remaining := store.current(t)
	if len(remaining.Values) != DefaultTargetSize-5 {
		t.Fatalf("expected %d remaining values, got %d", DefaultTargetSize-5, len(remaining.Values))
	}
}

func TestConsumeRefillsWhenPoolExpired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := seedStore(make([]uint16, 500), entropy.ProvenanceQuantum, clock.Now().UTC())
	atmospheric := &fakeSource{provenance: entropy.ProvenanceAtmospheric, start: 9}

	manager := NewManager(store, []entropy.Source{atmospheric}, Config{Clock: clock, Logf: discardLogf})

	clock.Advance(TTL + time.Minute)

	_, provenance, err := manager.Consume(context.Background(), 1, 6, 2)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if provenance != entropy.ProvenanceAtmospheric {
		t.Fatalf("expected refill from atmospheric source, got %v", provenance)
	}
	if atmospheric.calls != 1 {
		t.Fatalf("expected one refill fetch, got %d", atmospheric.calls)
	}
}

func TestRefillTriesTiersInPriorityOrder(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := &fakePoolStore{}
	quantum := &fakeSource{provenance: entropy.ProvenanceQuantum, err: errors.New("timeout")}
	atmospheric := &fakeSource{provenance: entropy.ProvenanceAtmospheric, start: 7}
	csprng := &fakeSource{provenance: entropy.ProvenanceCSPRNG, start: 3}

	manager := NewManager(store, []entropy.Source{quantum, atmospheric, csprng}, Config{Clock: clock, Logf: discardLogf})

	record, err := manager.Refill(context.Background())
	if err != nil {
		t.Fatalf("refill: %v", err)
	}
	if record.Provenance != entropy.ProvenanceAtmospheric {
		t.Fatalf("expected atmospheric provenance, got %v", record.Provenance)
	}
	if len(record.Values) != DefaultTargetSize {
		t.Fatalf("expected %d values, got %d", DefaultTargetSize, len(record.Values))
	}
	if quantum.calls != 1 || atmospheric.calls != 1 || csprng.calls != 0 {
		t.Fatalf("unexpected tier calls: quantum=%d atmospheric=%d csprng=%d",
			quantum.calls, atmospheric.calls, csprng.calls)
	}
}

func TestRefillFallsThroughToCSPRNG(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := &fakePoolStore{}
	quantum := &fakeSource{provenance: entropy.ProvenanceQuantum, err: errors.New("down")}
	atmospheric := &fakeSource{provenance: entropy.ProvenanceAtmospheric, err: errors.New("down")}
	csprng := &fakeSource{provenance: entropy.ProvenanceCSPRNG, start: 1}

	manager := NewManager(store, []entropy.Source{quantum, atmospheric, csprng}, Config{Clock: clock, Logf: discardLogf})

	record, err := manager.Refill(context.Background())
	if err != nil {
		t.Fatalf("refill must not fail while csprng is available: %v", err)
	}
	if record.Provenance != entropy.ProvenanceCSPRNG {
		t.Fatalf("expected csprng provenance, got %v", record.Provenance)
	}
	if len(record.Values) == 0 {
		t.Fatal("expected non-empty pool values")
	}
}

func TestRefillCapsProviderBatchSize(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := &fakePoolStore{}
	quantum := &fakeSource{provenance: entropy.ProvenanceQuantum, start: 1}

	manager := NewManager(store, []entropy.Source{quantum}, Config{
		TargetSize: ProviderBatchCap * 3,
		Clock:      clock,
		Logf:       discardLogf,
	})

	if _, err := manager.Refill(context.Background()); err != nil {
		t.Fatalf("refill: %v", err)
	}
	if quantum.lastCount != ProviderBatchCap {
		t.Fatalf("expected request capped at %d, got %d", ProviderBatchCap, quantum.lastCount)
	}
}

func TestConsumeTriggersBackgroundRefillBelowThreshold(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := seedStore(make([]uint16, RefillThreshold+2), entropy.ProvenanceQuantum, clock.Now().UTC())
	quantum := &fakeSource{provenance: entropy.ProvenanceQuantum, start: 1}

	manager := NewManager(store, []entropy.Source{quantum}, Config{Clock: clock, Logf: discardLogf})
	refilled := make(chan struct{})
	manager.refillDone = func() { close(refilled) }

	if _, _, err := manager.Consume(context.Background(), 0, 9, 3); err != nil {
		t.Fatalf("consume: %v", err)
	}

	select {
	case <-refilled:
	case <-time.After(5 * time.Second):
		t.Fatal("background refill never ran")
	}

	record := store.current(t)
	if len(record.Values) != DefaultTargetSize {
		t.Fatalf("expected background refill to restock %d values, got %d", DefaultTargetSize, len(record.Values))
	}
}

func TestConsumeRetriesOnVersionConflict(t *testing.T) {
	clock := clockwork.NewFakeClock()
	values := make([]uint16, 400)
	for i := range values {
		values[i] = uint16(i)
	}
	store := seedStore(values, entropy.ProvenanceQuantum, clock.Now().UTC())

	// Simulate another writer consuming the first two values between our
	// read and our write.
	store.conflictPut = func() {
		store.mu.Lock()
		defer store.mu.Unlock()
		store.record.Values = store.record.Values[2:]
		store.record.Version++
	}

	manager := NewManager(store, nil, Config{Clock: clock, Logf: discardLogf})

	numbers, _, err := manager.Consume(context.Background(), 0, 65535, 2)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	// The retry must observe the racing writer's shrink: values 0 and 1 are
	// already handed out, so we must receive 2 and 3.
	if numbers[0] != 2 || numbers[1] != 3 {
		t.Fatalf("expected retry to skip already-issued values, got %v", numbers)
	}
}

func TestConsumeReturnsNumbersWhenPersistFails(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := seedStore(make([]uint16, 300), entropy.ProvenanceQuantum, clock.Now().UTC())
	store.updateErr = errors.New("disk full")

	var logged string
	manager := NewManager(store, nil, Config{
		Clock: clock,
		Logf:  func(format string, args ...any) { logged = fmt.Sprintf(format, args...) },
	})

	numbers, _, err := manager.Consume(context.Background(), 1, 10, 5)
	if err != nil {
		t.Fatalf("consume should survive a persist failure: %v", err)
	}
	if len(numbers) != 5 {
		t.Fatalf("expected 5 numbers, got %d", len(numbers))
	}
	if logged == "" {
		t.Fatal("expected persist failure to be logged")
	}
}

func TestConsumeTreatsStoreReadFailureAsNoPool(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := &fakePoolStore{getErr: errors.New("store unreachable")}
	csprng := &fakeSource{provenance: entropy.ProvenanceCSPRNG, start: 20}

	manager := NewManager(store, []entropy.Source{csprng}, Config{Clock: clock, Logf: discardLogf})

	numbers, provenance, err := manager.Consume(context.Background(), 0, 65535, 4)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if provenance != entropy.ProvenanceCSPRNG {
		t.Fatalf("unexpected provenance %v", provenance)
	}
	if numbers[0] != 20 {
		t.Fatalf("expected draw from refilled values, got %v", numbers)
	}
}

func TestStatusReportsPoolSnapshot(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := seedStore(make([]uint16, 874), entropy.ProvenanceAtmospheric, clock.Now().UTC())

	manager := NewManager(store, nil, Config{Clock: clock, Logf: discardLogf})
	clock.Advance(12 * time.Minute)

	status, err := manager.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Exists {
		t.Fatal("expected pool to exist")
	}
	if status.Remaining != 874 {
		t.Fatalf("expected remaining 874, got %d", status.Remaining)
	}
	if status.Provenance != entropy.ProvenanceAtmospheric {
		t.Fatalf("unexpected provenance %v", status.Provenance)
	}
	if status.AgeMinutes != 12 {
		t.Fatalf("expected age 12 minutes, got %d", status.AgeMinutes)
	}
}

func TestStatusTreatsExpiredPoolAsAbsent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := seedStore(make([]uint16, 100), entropy.ProvenanceQuantum, clock.Now().UTC())

	manager := NewManager(store, nil, Config{Clock: clock, Logf: discardLogf})
	clock.Advance(TTL)

	status, err := manager.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Exists {
		t.Fatal("expected expired pool to read as absent")
	}
}
