package draw

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/entropyd/entropyd/internal/chain"
	"github.com/entropyd/entropyd/internal/entropy"
	apperrors "github.com/entropyd/entropyd/internal/platform/errors"
	"github.com/entropyd/entropyd/internal/pool/storage"
)

// TieredFetcher draws raw values straight from the provider chain in
// priority order. Session seeding and reseeding use it.
type TieredFetcher interface {
	FetchTiered(ctx context.Context, count int) ([]uint16, entropy.Provenance, error)
}

// SessionService owns hash-chain sessions: the seed-once/derive-many mode
// where a client expands a short persisted seed into an unbounded stream
// instead of consuming pool values per request.
type SessionService struct {
	store   storage.SessionStore
	entropy TieredFetcher
	clock   clockwork.Clock
	logf    func(format string, args ...any)
}

// NewSessionService creates a session service over the given stores.
func NewSessionService(store storage.SessionStore, fetcher TieredFetcher, clock clockwork.Clock, logf func(format string, args ...any)) *SessionService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logf == nil {
		logf = log.Printf
	}
	return &SessionService{
		store:   store,
		entropy: fetcher,
		clock:   clock,
		logf:    logf,
	}
}

// Create seeds a new chain session from the tiered provider chain and
// persists it with the counter at zero.
func (s *SessionService) Create(ctx context.Context) (storage.ChainSession, error) {
	seed, provenance, err := s.freshSeed(ctx)
	if err != nil {
		return storage.ChainSession{}, err
	}

	now := s.clock.Now().UTC()
	session := storage.ChainSession{
		ID:         uuid.NewString(),
		Seed:       seed,
		Counter:    0,
		Provenance: provenance,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return storage.ChainSession{}, fmt.Errorf("persist chain session: %w", err)
	}
	return session, nil
}

// Draw expands the session's chain into the requested numbers and persists
// the advanced counter before returning, so a process restart resumes the
// stream instead of replaying consumed output.
func (s *SessionService) Draw(ctx context.Context, id string, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	session, err := s.load(ctx, id)
	if err != nil {
		return Result{}, err
	}

	generator, err := chain.New(session.Seed, session.Counter)
	if err != nil {
		return Result{}, fmt.Errorf("restore chain generator: %w", err)
	}

	var numbers []int
	if req.Unique {
		candidates := generator.Draw(req.Min, req.Max, uniqueFetchCount(req))
		numbers, err = synthesizeUnique(candidates, req)
		if err != nil {
			return Result{}, err
		}
	} else {
		numbers = generator.Draw(req.Min, req.Max, req.Count)
	}

	session.Counter = generator.Counter()
	session.UpdatedAt = s.clock.Now().UTC()
	if err := s.store.UpdateSession(ctx, session); err != nil {
		// A stale persisted counter would replay already-consumed output on
		// the next restore, so this failure is not swallowed.
		return Result{}, fmt.Errorf("persist chain counter: %w", err)
	}
	return Result{Numbers: numbers, Provenance: session.Provenance}, nil
}

// Reseed discards the session's state and installs a fresh seed drawn from
// the tiered chain with the counter reset. This is the only way a session's
// provenance changes; there is no in-place reseed-and-continue.
func (s *SessionService) Reseed(ctx context.Context, id string) (storage.ChainSession, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return storage.ChainSession{}, err
	}

	seed, provenance, err := s.freshSeed(ctx)
	if err != nil {
		return storage.ChainSession{}, err
	}

	session.Seed = seed
	session.Counter = 0
	session.Provenance = provenance
	session.UpdatedAt = s.clock.Now().UTC()
	if err := s.store.UpdateSession(ctx, session); err != nil {
		return storage.ChainSession{}, fmt.Errorf("persist reseeded session: %w", err)
	}
	return session, nil
}

// Delete removes a session; deleting an unknown session is a no-op.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete chain session: %w", err)
	}
	return nil
}

func (s *SessionService) load(ctx context.Context, id string) (storage.ChainSession, error) {
	if id == "" {
		return storage.ChainSession{}, apperrors.New(apperrors.CodeSessionInvalid, "session id is required")
	}
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return storage.ChainSession{}, apperrors.Wrap(apperrors.CodeSessionNotFound, "unknown chain session", err)
		}
		return storage.ChainSession{}, fmt.Errorf("load chain session: %w", err)
	}
	return session, nil
}

func (s *SessionService) freshSeed(ctx context.Context) ([]byte, entropy.Provenance, error) {
	raw, provenance, err := s.entropy.FetchTiered(ctx, chain.SeedMaterialCount)
	if err != nil {
		return nil, entropy.ProvenanceUnspecified, fmt.Errorf("fetch seed material: %w", err)
	}
	seed, err := chain.DeriveSeed(raw)
	if err != nil {
		return nil, entropy.ProvenanceUnspecified, err
	}
	return seed, provenance, nil
}
