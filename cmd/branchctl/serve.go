package main

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/becomeliminal/nim-branch-sdk/storage/remote"
)

const defaultListenAddr = "127.0.0.1:7070"

func newServeCommand(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured snapshot repository over gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			listener, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listen %s: %w", listen, err)
			}
			return a.serve(cmd.Context(), listener, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", defaultListenAddr, "address to serve snapshots on")
	return cmd
}

// serve exposes a.repo on listener until ctx is done.
func (a *app) serve(ctx context.Context, listener net.Listener, out io.Writer) error {
	srv, err := remote.NewServer(a.repo, a.logger)
	if err != nil {
		_ = listener.Close()
		return err
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(remote.LoggingInterceptor(a.logger)))
	srv.Register(grpcServer)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	fmt.Fprintf(out, "serving snapshots on %s\n", listener.Addr())
	a.logger.InfoContext(ctx, "serving snapshots", "addr", listener.Addr().String())

	select {
	case <-ctx.Done():
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
		return nil
	case err := <-serveErr:
		return fmt.Errorf("serve snapshots: %w", err)
	}
}
