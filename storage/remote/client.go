package remote

import (
	"context"
	"fmt"
	"io"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/becomeliminal/nim-branch-sdk/core"
	"github.com/becomeliminal/nim-branch-sdk/snapshot"
	"github.com/becomeliminal/nim-branch-sdk/storage"
)

// Client is a storage.Repository backed by a remote Server.
type Client struct {
	conn   grpc.ClientConnInterface
	closer io.Closer
}

// Dial connects to target with plaintext credentials unless opts override
// them. Close releases the connection.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("remote storage address is required: %w", core.ErrInvalidInput)
	}
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial remote storage %s: %w", target, err)
	}
	return &Client{conn: conn, closer: conn}, nil
}

// NewClient uses an existing connection. Close leaves it open.
func NewClient(conn grpc.ClientConnInterface) (*Client, error) {
	if conn == nil {
		return nil, fmt.Errorf("new remote client: nil connection: %w", core.ErrInvalidInput)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection when the client dialled it.
func (c *Client) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func (c *Client) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c == nil || c.conn == nil {
		return fmt.Errorf("storage is not configured: %w", core.ErrStoreUnavailable)
	}
	return nil
}

// Save sends snap to the server, replacing any snapshot with the same name.
func (c *Client) Save(ctx context.Context, snap snapshot.Snapshot) error {
	if err := c.ready(ctx); err != nil {
		return err
	}
	name, payload, err := storage.Encode(snap)
	if err != nil {
		return err
	}
	if err := c.conn.Invoke(ctx, saveMethod, wrapperspb.Bytes(payload), new(emptypb.Empty)); err != nil {
		return fromStatus("save snapshot "+name, err)
	}
	return nil
}

// Load fetches the snapshot saved under name.
func (c *Client) Load(ctx context.Context, name string) (snapshot.Snapshot, error) {
	if err := c.ready(ctx); err != nil {
		return snapshot.Snapshot{}, err
	}
	name, err := storage.NormalizeName(name)
	if err != nil {
		return snapshot.Snapshot{}, err
	}

	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, loadMethod, wrapperspb.String(name), out); err != nil {
		return snapshot.Snapshot{}, fromStatus("load snapshot "+name, err)
	}
	snap, err := snapshot.UnmarshalJSON(out.GetValue())
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", name, err)
	}
	return snap, nil
}

// List returns summaries of every snapshot on the server ordered by name.
func (c *Client) List(ctx context.Context) ([]storage.Summary, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}

	out := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, listMethod, &emptypb.Empty{}, out); err != nil {
		return nil, fromStatus("list snapshots", err)
	}
	summaries := make([]storage.Summary, 0, len(out.GetValues()))
	for _, value := range out.GetValues() {
		summary, err := decodeSummary(value)
		if err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// Delete removes the snapshot saved under name.
func (c *Client) Delete(ctx context.Context, name string) error {
	if err := c.ready(ctx); err != nil {
		return err
	}
	name, err := storage.NormalizeName(name)
	if err != nil {
		return err
	}
	if err := c.conn.Invoke(ctx, deleteMethod, wrapperspb.String(name), new(emptypb.Empty)); err != nil {
		return fromStatus("delete snapshot "+name, err)
	}
	return nil
}

var _ storage.Repository = (*Client)(nil)
