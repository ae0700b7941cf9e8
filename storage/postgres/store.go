// Package postgres stores snapshots in PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/becomeliminal/nim-branch-sdk/core"
	"github.com/becomeliminal/nim-branch-sdk/snapshot"
	"github.com/becomeliminal/nim-branch-sdk/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS branch_snapshots (
	name        TEXT PRIMARY KEY,
	captured_at TIMESTAMPTZ NOT NULL,
	saved_at    TIMESTAMPTZ NOT NULL,
	events      INTEGER NOT NULL,
	vectors     INTEGER NOT NULL,
	payload     BYTEA NOT NULL
)`

// Store is a PostgreSQL snapshot repository.
type Store struct {
	db    *pgxpool.Pool
	owned bool
	clock func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the source of saved_at timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Connect opens a pool for dsn and creates the schema. Close releases the pool.
func Connect(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store, err := New(ctx, pool, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

// New wraps an existing pool and creates the schema. Close leaves the pool open.
func New(ctx context.Context, pool *pgxpool.Pool, opts ...Option) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("new postgres store: nil pool: %w", core.ErrInvalidInput)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	store := &Store{db: pool, clock: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Close releases the pool when the store opened it.
func (s *Store) Close() error {
	if s != nil && s.owned && s.db != nil {
		s.db.Close()
	}
	return nil
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured: %w", core.ErrStoreUnavailable)
	}
	return nil
}

// Save persists snap, replacing any snapshot with the same name.
func (s *Store) Save(ctx context.Context, snap snapshot.Snapshot) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	name, payload, err := storage.Encode(snap)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
INSERT INTO branch_snapshots (name, captured_at, saved_at, events, vectors, payload)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (name) DO UPDATE SET
	captured_at = EXCLUDED.captured_at,
	saved_at = EXCLUDED.saved_at,
	events = EXCLUDED.events,
	vectors = EXCLUDED.vectors,
	payload = EXCLUDED.payload`,
		name, snap.CapturedAt.UTC(), s.clock().UTC(), len(snap.Events), len(snap.Vectors), payload)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", name, err)
	}
	return nil
}

// Load returns the snapshot saved under name.
func (s *Store) Load(ctx context.Context, name string) (snapshot.Snapshot, error) {
	if err := s.ready(ctx); err != nil {
		return snapshot.Snapshot{}, err
	}
	name, err := storage.NormalizeName(name)
	if err != nil {
		return snapshot.Snapshot{}, err
	}

	var payload []byte
	err = s.db.QueryRow(ctx, "SELECT payload FROM branch_snapshots WHERE name = $1", name).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return snapshot.Snapshot{}, fmt.Errorf("load snapshot %s: %w", name, core.ErrSnapshotNotFound)
	}
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("load snapshot %s: %w", name, err)
	}

	snap, err := snapshot.UnmarshalJSON(payload)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", name, err)
	}
	return snap, nil
}

// List returns summaries of every saved snapshot ordered by name.
func (s *Store) List(ctx context.Context) ([]storage.Summary, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, "SELECT name, captured_at, saved_at, events, vectors FROM branch_snapshots ORDER BY name COLLATE \"C\"")
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	summaries := make([]storage.Summary, 0)
	for rows.Next() {
		var summary storage.Summary
		if err := rows.Scan(&summary.Name, &summary.CapturedAt, &summary.SavedAt, &summary.Events, &summary.Vectors); err != nil {
			return nil, fmt.Errorf("scan snapshot summary: %w", err)
		}
		summary.CapturedAt = summary.CapturedAt.UTC()
		summary.SavedAt = summary.SavedAt.UTC()
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot summaries: %w", err)
	}
	return summaries, nil
}

// Delete removes the snapshot saved under name.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	name, err := storage.NormalizeName(name)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, "DELETE FROM branch_snapshots WHERE name = $1", name)
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete snapshot %s: %w", name, core.ErrSnapshotNotFound)
	}
	return nil
}

var _ storage.Repository = (*Store)(nil)
