// Package storage defines durable snapshot repositories.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/becomeliminal/nim-branch-sdk/core"
	"github.com/becomeliminal/nim-branch-sdk/snapshot"
)

// Summary describes a saved snapshot without decoding its payload.
type Summary struct {
	Name       string
	CapturedAt time.Time
	SavedAt    time.Time
	Events     int
	Vectors    int
}

// Repository persists snapshots by name. Saving an existing name replaces it.
// Load and Delete of an unknown name return core.ErrSnapshotNotFound.
type Repository interface {
	Save(ctx context.Context, s snapshot.Snapshot) error
	Load(ctx context.Context, name string) (snapshot.Snapshot, error)
	// List returns summaries ordered by name.
	List(ctx context.Context) ([]Summary, error)
	Delete(ctx context.Context, name string) error
	Close() error
}

// NormalizeName trims name and rejects empty names.
func NormalizeName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("snapshot name is required: %w", core.ErrInvalidInput)
	}
	return trimmed, nil
}

// Encode validates s and renders the stored payload.
func Encode(s snapshot.Snapshot) (string, []byte, error) {
	name, err := NormalizeName(s.Name)
	if err != nil {
		return "", nil, err
	}
	if name != s.Name {
		return "", nil, fmt.Errorf("snapshot name %q has surrounding whitespace: %w", s.Name, core.ErrInvalidInput)
	}
	payload, err := snapshot.MarshalJSON(s)
	if err != nil {
		return "", nil, fmt.Errorf("encode snapshot %s: %w", name, err)
	}
	return name, payload, nil
}
