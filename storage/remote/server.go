package remote

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/becomeliminal/nim-branch-sdk/core"
	"github.com/becomeliminal/nim-branch-sdk/snapshot"
	"github.com/becomeliminal/nim-branch-sdk/storage"
)

// Server exposes a storage.Repository over gRPC.
type Server struct {
	repo   storage.Repository
	logger *slog.Logger
}

// NewServer wraps repo. A nil logger uses slog.Default().
func NewServer(repo storage.Repository, logger *slog.Logger) (*Server, error) {
	if repo == nil {
		return nil, fmt.Errorf("new remote server: nil repository: %w", core.ErrInvalidInput)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{repo: repo, logger: logger}, nil
}

// Register installs the snapshot service on registrar.
func (s *Server) Register(registrar grpc.ServiceRegistrar) {
	registrar.RegisterService(&serviceDesc, s)
}

// Save decodes the snapshot document and saves it.
func (s *Server) Save(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	snap, err := snapshot.UnmarshalJSON(in.GetValue())
	if err != nil {
		return nil, toStatus(fmt.Errorf("decode snapshot: %w: %w", core.ErrInvalidInput, err))
	}
	if err := s.repo.Save(ctx, snap); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Load returns the snapshot document saved under the requested name.
func (s *Server) Load(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	snap, err := s.repo.Load(ctx, in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	payload, err := snapshot.MarshalJSON(snap)
	if err != nil {
		return nil, toStatus(fmt.Errorf("encode snapshot %s: %w", snap.Name, err))
	}
	return wrapperspb.Bytes(payload), nil
}

// List returns one struct per saved snapshot, ordered by name.
func (s *Server) List(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	summaries, err := s.repo.List(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	out := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(summaries))}
	for _, summary := range summaries {
		out.Values = append(out.Values, structpb.NewStructValue(encodeSummary(summary)))
	}
	return out, nil
}

// Delete removes the snapshot saved under the requested name.
func (s *Server) Delete(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.repo.Delete(ctx, in.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// LoggingInterceptor logs every call with its duration and status code.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "snapshot rpc",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}

func encodeSummary(summary storage.Summary) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"name":        structpb.NewStringValue(summary.Name),
		"captured_at": structpb.NewStringValue(summary.CapturedAt.UTC().Format(time.RFC3339Nano)),
		"saved_at":    structpb.NewStringValue(summary.SavedAt.UTC().Format(time.RFC3339Nano)),
		"events":      structpb.NewNumberValue(float64(summary.Events)),
		"vectors":     structpb.NewNumberValue(float64(summary.Vectors)),
	}}
}

func decodeSummary(value *structpb.Value) (storage.Summary, error) {
	fields := value.GetStructValue().GetFields()
	if fields == nil {
		return storage.Summary{}, fmt.Errorf("summary is not a struct")
	}

	capturedAt, err := time.Parse(time.RFC3339Nano, fields["captured_at"].GetStringValue())
	if err != nil {
		return storage.Summary{}, fmt.Errorf("summary captured_at: %w", err)
	}
	savedAt, err := time.Parse(time.RFC3339Nano, fields["saved_at"].GetStringValue())
	if err != nil {
		return storage.Summary{}, fmt.Errorf("summary saved_at: %w", err)
	}
	return storage.Summary{
		Name:       fields["name"].GetStringValue(),
		CapturedAt: capturedAt,
		SavedAt:    savedAt,
		Events:     int(fields["events"].GetNumberValue()),
		Vectors:    int(fields["vectors"].GetNumberValue()),
	}, nil
}

var _ snapshotService = (*Server)(nil)
