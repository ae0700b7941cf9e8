// Package remote serves a storage.Repository over gRPC and provides a client
// that is itself a storage.Repository, so snapshots can move between machines.
//
// The service is described by hand with protobuf well-known types. Snapshots
// travel as the JSON codec bytes so opaque payloads survive unchanged.
package remote

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/becomeliminal/nim-branch-sdk/core"
)

const serviceName = "nimbranch.storage.v1.SnapshotRepository"

const (
	saveMethod   = "/" + serviceName + "/Save"
	loadMethod   = "/" + serviceName + "/Load"
	listMethod   = "/" + serviceName + "/List"
	deleteMethod = "/" + serviceName + "/Delete"
)

// snapshotService is the server side of the service.
type snapshotService interface {
	Save(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
	Load(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	List(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	Delete(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*snapshotService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Save", Handler: unaryHandler(saveMethod, newBytes, snapshotService.Save)},
		{MethodName: "Load", Handler: unaryHandler(loadMethod, newString, snapshotService.Load)},
		{MethodName: "List", Handler: unaryHandler(listMethod, newEmpty, snapshotService.List)},
		{MethodName: "Delete", Handler: unaryHandler(deleteMethod, newString, snapshotService.Delete)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nimbranch/storage/v1/snapshots",
}

func newBytes() *wrapperspb.BytesValue   { return new(wrapperspb.BytesValue) }
func newString() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }
func newEmpty() *emptypb.Empty           { return new(emptypb.Empty) }

func unaryHandler[Req, Resp proto.Message](
	method string,
	newReq func() Req,
	call func(snapshotService, context.Context, Req) (Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		svc := srv.(snapshotService)
		if interceptor == nil {
			return call(svc, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(svc, ctx, req.(Req))
		})
	}
}

// toStatus maps repository errors onto gRPC codes.
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, core.ErrSnapshotNotFound):
		code = codes.NotFound
	case errors.Is(err, core.ErrInvalidInput):
		code = codes.InvalidArgument
	case errors.Is(err, core.ErrStoreUnavailable):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}

// fromStatus maps a gRPC error back onto the sentinel the repository returned.
func fromStatus(op string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", op, err)
	}

	var sentinel error
	switch st.Code() {
	case codes.NotFound:
		sentinel = core.ErrSnapshotNotFound
	case codes.InvalidArgument:
		sentinel = core.ErrInvalidInput
	case codes.Unavailable:
		sentinel = core.ErrStoreUnavailable
	case codes.Canceled:
		sentinel = context.Canceled
	case codes.DeadlineExceeded:
		sentinel = context.DeadlineExceeded
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %s: %w", op, st.Message(), sentinel)
}
