// Package sqlite stores snapshots in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/becomeliminal/nim-branch-sdk/core"
	"github.com/becomeliminal/nim-branch-sdk/snapshot"
	"github.com/becomeliminal/nim-branch-sdk/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	name        TEXT PRIMARY KEY,
	captured_at INTEGER NOT NULL,
	saved_at    INTEGER NOT NULL,
	events      INTEGER NOT NULL,
	vectors     INTEGER NOT NULL,
	payload     TEXT NOT NULL
);
`

// Store provides SQLite-backed snapshot persistence.
type Store struct {
	sqlDB *sql.DB
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

// Open opens a snapshot SQLite store and creates its schema.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := "file:" + cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	store := &Store{sqlDB: sqlDB, clock: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
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

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO snapshots (
	name,
	captured_at,
	saved_at,
	events,
	vectors,
	payload
) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	captured_at = excluded.captured_at,
	saved_at = excluded.saved_at,
	events = excluded.events,
	vectors = excluded.vectors,
	payload = excluded.payload
`,
		name,
		snap.CapturedAt.UTC().UnixMilli(),
		s.clock().UTC().UnixMilli(),
		len(snap.Events),
		len(snap.Vectors),
		string(payload),
	)
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

	var payload string
	err = s.sqlDB.QueryRowContext(ctx, `SELECT payload FROM snapshots WHERE name = ?`, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.Snapshot{}, fmt.Errorf("load snapshot %s: %w", name, core.ErrSnapshotNotFound)
	}
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("load snapshot %s: %w", name, err)
	}

	snap, err := snapshot.UnmarshalJSON([]byte(payload))
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

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT
	name,
	captured_at,
	saved_at,
	events,
	vectors
FROM snapshots
ORDER BY name
`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	summaries := make([]storage.Summary, 0)
	for rows.Next() {
		var (
			summary    storage.Summary
			capturedAt int64
			savedAt    int64
		)
		if err := rows.Scan(&summary.Name, &capturedAt, &savedAt, &summary.Events, &summary.Vectors); err != nil {
			return nil, fmt.Errorf("scan snapshot summary: %w", err)
		}
		summary.CapturedAt = time.UnixMilli(capturedAt).UTC()
		summary.SavedAt = time.UnixMilli(savedAt).UTC()
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

	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM snapshots WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", name, err)
	}
	if affected == 0 {
		return fmt.Errorf("delete snapshot %s: %w", name, core.ErrSnapshotNotFound)
	}
	return nil
}

var _ storage.Repository = (*Store)(nil)
