// Package storagetest checks storage.Repository implementations against a
// common set of behaviours.
package storagetest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-branch-sdk/core"
	"github.com/becomeliminal/nim-branch-sdk/snapshot"
	"github.com/becomeliminal/nim-branch-sdk/storage"
)

// Fixture returns a snapshot exercising every event shape.
func Fixture(name string) snapshot.Snapshot {
	at := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	return snapshot.Snapshot{
		Name:       name,
		CapturedAt: at,
		Events: []core.PipelineEvent{
			core.IngestBatch{ID: uuid.New(), Timestamp: at, Source: "notes.md", IDs: []string{"v1"}},
			core.NewReasoningStep(core.Draft{Content: "draft ✓"}, "draft {context}", nil, at),
			core.NewReasoningStep(core.Critique{Content: "too long"}, "critique", []core.ToolExecution{{
				ToolName:  "search_store",
				Arguments: json.RawMessage(`{"query":"q"}`),
				Output:    "hit",
				Timestamp: at,
			}}, at),
			core.OpaqueEvent{ID: uuid.New(), Timestamp: at, Type: "episode", Payload: json.RawMessage(`{"n":1}`)},
		},
		Vectors: []core.Vector{
			core.NewVector("v1", "héllo", []float32{0.25, 0.5}, map[string]any{"lang": "de"}),
			core.NewVector("v2", "second", []float32{0.5, 0.25}, map[string]any{}),
		},
	}
}

// Run exercises newRepo. Each subtest gets a fresh repository.
func Run(t *testing.T, newRepo func(t *testing.T) storage.Repository) {
	t.Helper()
	ctx := context.Background()

	t.Run("save and load", func(t *testing.T) {
		repo := newRepo(t)
		want := Fixture("trace")
		require.NoError(t, repo.Save(ctx, want))

		got, err := repo.Load(ctx, "trace")
		require.NoError(t, err)
		assertSameSnapshot(t, want, got)
	})

	t.Run("payload kept byte for byte", func(t *testing.T) {
		repo := newRepo(t)
		want := Fixture("raw")
		want.Vectors[1].Text = "nul\x00inside"
		want.Events[3] = core.OpaqueEvent{
			ID:        uuid.New(),
			Timestamp: want.CapturedAt,
			Type:      "episode",
			Payload:   json.RawMessage(`{"z":"\u0000","a":[3,1]}`),
		}
		require.NoError(t, repo.Save(ctx, want))

		got, err := repo.Load(ctx, "raw")
		require.NoError(t, err)
		require.Len(t, got.Vectors, 2)
		assert.Equal(t, "nul\x00inside", got.Vectors[1].Text)
		opaque, ok := got.Events[3].(core.OpaqueEvent)
		require.True(t, ok, "event = %T", got.Events[3])
		assert.Equal(t, `{"z":"\u0000","a":[3,1]}`, string(opaque.Payload))
	})

	t.Run("save replaces", func(t *testing.T) {
		repo := newRepo(t)
		first := Fixture("trace")
		require.NoError(t, repo.Save(ctx, first))

		second := Fixture("trace")
		second.Events = second.Events[:1]
		require.NoError(t, repo.Save(ctx, second))

		got, err := repo.Load(ctx, "trace")
		require.NoError(t, err)
		assert.Len(t, got.Events, 1)

		summaries, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		assert.Equal(t, 1, summaries[0].Events)
	})

	t.Run("list orders by name", func(t *testing.T) {
		repo := newRepo(t)
		for _, name := range []string{"zeta", "alpha", "mid"} {
			require.NoError(t, repo.Save(ctx, Fixture(name)))
		}

		summaries, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, summaries, 3)
		assert.Equal(t, "alpha", summaries[0].Name)
		assert.Equal(t, "mid", summaries[1].Name)
		assert.Equal(t, "zeta", summaries[2].Name)
		assert.Equal(t, 4, summaries[0].Events)
		assert.Equal(t, 2, summaries[0].Vectors)
		assert.True(t, summaries[0].CapturedAt.Equal(Fixture("alpha").CapturedAt))
		assert.False(t, summaries[0].SavedAt.IsZero())
	})

	t.Run("empty list", func(t *testing.T) {
		repo := newRepo(t)
		summaries, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, summaries)
	})

	t.Run("missing snapshot", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Load(ctx, "nope")
		assert.ErrorIs(t, err, core.ErrSnapshotNotFound)
		assert.ErrorIs(t, repo.Delete(ctx, "nope"), core.ErrSnapshotNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Save(ctx, Fixture("gone")))
		require.NoError(t, repo.Delete(ctx, "gone"))

		_, err := repo.Load(ctx, "gone")
		assert.ErrorIs(t, err, core.ErrSnapshotNotFound)
	})

	t.Run("invalid name", func(t *testing.T) {
		repo := newRepo(t)
		assert.ErrorIs(t, repo.Save(ctx, Fixture("  ")), core.ErrInvalidInput)
		assert.ErrorIs(t, repo.Save(ctx, Fixture(" padded")), core.ErrInvalidInput)
		_, err := repo.Load(ctx, "")
		assert.ErrorIs(t, err, core.ErrInvalidInput)
	})

	t.Run("cancelled context", func(t *testing.T) {
		repo := newRepo(t)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, repo.Save(cancelled, Fixture("x")), context.Canceled)
	})
}

func assertSameSnapshot(t *testing.T, want, got snapshot.Snapshot) {
	t.Helper()
	wantJSON, err := snapshot.MarshalJSON(want)
	require.NoError(t, err)
	gotJSON, err := snapshot.MarshalJSON(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(wantJSON), string(gotJSON))
}
