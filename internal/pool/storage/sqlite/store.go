// Package sqlite provides a SQLite-backed implementation of the pool and
// chain-session stores.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/entropyd/entropyd/internal/entropy"
	sqlitemigrate "github.com/entropyd/entropyd/internal/platform/storage/sqlitemigrate"
	"github.com/entropyd/entropyd/internal/pool/storage"
	"github.com/entropyd/entropyd/internal/pool/storage/sqlite/migrations"
)

// poolRowID pins the seed pool to a single row.
const poolRowID = 1

// Store persists the seed pool and chain sessions in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func encodeValues(values []uint16) []byte {
	buf := make([]byte, 2*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(buf[2*i:], v)
	}
	return buf
}

func decodeValues(buf []byte) ([]uint16, error) {
	if len(buf)%2 != 0 {
		return nil, fmt.Errorf("pool blob has odd length %d", len(buf))
	}
	values := make([]uint16, len(buf)/2)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(buf[2*i:])
	}
	return values, nil
}

// GetPool loads the single pool record; the second result is false when no
// pool exists.
func (s *Store) GetPool(ctx context.Context) (storage.PoolRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return storage.PoolRecord{}, false, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.PoolRecord{}, false, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT pool_values, provenance, created_at, version FROM seed_pool WHERE id = ?`,
		poolRowID,
	)
	var (
		blob       []byte
		provenance string
		createdAt  int64
		version    int64
	)
	if err := row.Scan(&blob, &provenance, &createdAt, &version); err != nil {
		if err == sql.ErrNoRows {
			return storage.PoolRecord{}, false, nil
		}
		return storage.PoolRecord{}, false, fmt.Errorf("query seed pool: %w", err)
	}

	values, err := decodeValues(blob)
	if err != nil {
		return storage.PoolRecord{}, false, err
	}
	parsed, err := entropy.ParseProvenance(provenance)
	if err != nil {
		return storage.PoolRecord{}, false, fmt.Errorf("decode seed pool: %w", err)
	}
	return storage.PoolRecord{
		Values:     values,
		Provenance: parsed,
		CreatedAt:  fromMillis(createdAt),
		Version:    version,
	}, true, nil
}

// ReplacePool stores record wholesale, discarding any existing pool.
func (s *Store) ReplacePool(ctx context.Context, record storage.PoolRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if len(record.Values) == 0 {
		return fmt.Errorf("pool values are required")
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO seed_pool (id, pool_values, provenance, created_at, version)
		 VALUES (?, ?, ?, ?, 1)
		 ON CONFLICT(id) DO UPDATE SET
		   pool_values = excluded.pool_values,
		   provenance = excluded.provenance,
		   created_at = excluded.created_at,
		   version = seed_pool.version + 1`,
		poolRowID,
		encodeValues(record.Values),
		record.Provenance.String(),
		toMillis(createdAt),
	)
	if err != nil {
		return fmt.Errorf("replace seed pool: %w", err)
	}
	return nil
}

// UpdatePool stores record only if the stored version still equals
// expectedVersion. A lost race returns storage.ErrVersionConflict so the
// caller retries against fresh state instead of re-issuing consumed values.
func (s *Store) UpdatePool(ctx context.Context, record storage.PoolRecord, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE seed_pool
		 SET pool_values = ?, provenance = ?, created_at = ?, version = ?
		 WHERE id = ? AND version = ?`,
		encodeValues(record.Values),
		record.Provenance.String(),
		toMillis(record.CreatedAt),
		expectedVersion+1,
		poolRowID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update seed pool: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update seed pool rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrVersionConflict
	}
	return nil
}

// DeletePool removes the pool record; deleting an absent pool is a no-op.
func (s *Store) DeletePool(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM seed_pool WHERE id = ?`, poolRowID); err != nil {
		return fmt.Errorf("delete seed pool: %w", err)
	}
	return nil
}

// CreateSession inserts one chain session record.
func (s *Store) CreateSession(ctx context.Context, session storage.ChainSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id := strings.TrimSpace(session.ID)
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	if len(session.Seed) == 0 {
		return fmt.Errorf("session seed is required")
	}
	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := session.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO chain_sessions (id, seed, counter, provenance, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id,
		session.Seed,
		int64(session.Counter),
		session.Provenance.String(),
		toMillis(createdAt),
		toMillis(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert chain session: %w", err)
	}
	return nil
}

// GetSession loads one chain session by id.
func (s *Store) GetSession(ctx context.Context, id string) (storage.ChainSession, error) {
	if err := ctx.Err(); err != nil {
		return storage.ChainSession{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ChainSession{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.ChainSession{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, seed, counter, provenance, created_at, updated_at
		 FROM chain_sessions WHERE id = ?`,
		id,
	)
	var (
		seed       []byte
		counter    int64
		provenance string
		createdAt  int64
		updatedAt  int64
	)
	if err := row.Scan(&id, &seed, &counter, &provenance, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return storage.ChainSession{}, storage.ErrSessionNotFound
		}
		return storage.ChainSession{}, fmt.Errorf("query chain session: %w", err)
	}
	parsed, err := entropy.ParseProvenance(provenance)
	if err != nil {
		return storage.ChainSession{}, fmt.Errorf("decode chain session: %w", err)
	}
	return storage.ChainSession{
		ID:         id,
		Seed:       seed,
		Counter:    uint64(counter),
		Provenance: parsed,
		CreatedAt:  fromMillis(createdAt),
		UpdatedAt:  fromMillis(updatedAt),
	}, nil
}

// UpdateSession persists the advanced counter and, after a reseed, the new
// seed and provenance.
func (s *Store) UpdateSession(ctx context.Context, session storage.ChainSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id := strings.TrimSpace(session.ID)
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	updatedAt := session.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE chain_sessions
		 SET seed = ?, counter = ?, provenance = ?, updated_at = ?
		 WHERE id = ?`,
		session.Seed,
		int64(session.Counter),
		session.Provenance.String(),
		toMillis(updatedAt),
		id,
	)
	if err != nil {
		return fmt.Errorf("update chain session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update chain session rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrSessionNotFound
	}
	return nil
}

// DeleteSession removes one chain session; deleting an absent session is a
// no-op.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM chain_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete chain session: %w", err)
	}
	return nil
}
