package remote

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/becomeliminal/nim-branch-sdk/core"
	"github.com/becomeliminal/nim-branch-sdk/snapshot"
	"github.com/becomeliminal/nim-branch-sdk/storage"
	"github.com/becomeliminal/nim-branch-sdk/storage/sqlite"
	"github.com/becomeliminal/nim-branch-sdk/storage/storagetest"
)

// serve exposes repo on a loopback port and returns a client dialled to it.
func serve(t *testing.T, repo storage.Repository) *Client {
	t.Helper()
	srv, err := NewServer(repo, nil)
	require.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(LoggingInterceptor(nil)))
	srv.Register(grpcServer)

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- grpcServer.Serve(listener)
	}()
	t.Cleanup(func() {
		grpcServer.Stop()
		select {
		case err := <-serveDone:
			if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("timeout waiting for server shutdown")
		}
	})

	client, err := Dial(listener.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func openSQLite(t *testing.T) storage.Repository {
	t.Helper()
	repo, err := sqlite.Open(filepath.Join(t.TempDir(), "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestClientRepository(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Repository {
		return serve(t, openSQLite(t))
	})
}

type failingRepo struct {
	err error
}

func (r failingRepo) Save(context.Context, snapshot.Snapshot) error { return r.err }
func (r failingRepo) Load(context.Context, string) (snapshot.Snapshot, error) {
	return snapshot.Snapshot{}, r.err
}
func (r failingRepo) List(context.Context) ([]storage.Summary, error) { return nil, r.err }
func (r failingRepo) Delete(context.Context, string) error            { return r.err }
func (r failingRepo) Close() error                                    { return nil }

func TestClientMapsServerErrors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{name: "not found", err: core.ErrSnapshotNotFound, sentinel: core.ErrSnapshotNotFound},
		{name: "invalid", err: core.ErrInvalidInput, sentinel: core.ErrInvalidInput},
		{name: "unavailable", err: core.ErrStoreUnavailable, sentinel: core.ErrStoreUnavailable},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			client := serve(t, failingRepo{err: testCase.err})

			_, err := client.Load(ctx, "trace")
			assert.ErrorIs(t, err, testCase.sentinel)
			assert.ErrorIs(t, client.Delete(ctx, "trace"), testCase.sentinel)
			_, err = client.List(ctx)
			assert.ErrorIs(t, err, testCase.sentinel)
		})
	}

	t.Run("other errors keep their message", func(t *testing.T) {
		client := serve(t, failingRepo{err: errors.New("disk full")})

		err := client.Save(ctx, storagetest.Fixture("trace"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.NotErrorIs(t, err, core.ErrSnapshotNotFound)
		assert.NotErrorIs(t, err, core.ErrStoreUnavailable)
	})
}

func TestClientServerDown(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	client, err := Dial(addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = client.Load(ctx, "trace")
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
}

func TestConstructorsRejectNil(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = NewClient(nil)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = Dial("  ")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	var client *Client
	assert.ErrorIs(t, client.Delete(context.Background(), "x"), core.ErrStoreUnavailable)
	assert.NoError(t, client.Close())
}

func TestSummaryEncoding(t *testing.T) {
	want := storage.Summary{
		Name:       "trace",
		CapturedAt: time.Date(2025, 3, 4, 5, 6, 7, 8, time.UTC),
		SavedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Events:     4,
		Vectors:    2,
	}
	got, err := decodeSummary(structpb.NewStructValue(encodeSummary(want)))
	require.NoError(t, err)
	assert.Equal(t, want.Name, got.Name)
	assert.True(t, want.CapturedAt.Equal(got.CapturedAt), "captured_at = %v", got.CapturedAt)
	assert.True(t, want.SavedAt.Equal(got.SavedAt), "saved_at = %v", got.SavedAt)
	assert.Equal(t, want.Events, got.Events)
	assert.Equal(t, want.Vectors, got.Vectors)

	_, err = decodeSummary(structpb.NewStringValue("not a struct"))
	assert.Error(t, err)
}
