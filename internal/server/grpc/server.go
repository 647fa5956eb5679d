package grpcserver

import (
	"context"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/hari-yahoo/CourseStatus/internal/runtime"
	logpkg "github.com/hari-yahoo/CourseStatus/pkg/log"
)

// Option configures a Server.
type Option func(*Server)

func WithLogger(l logpkg.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHealthInterval sets how often runtime health is re-checked (default 5s).
func WithHealthInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithServerOptions passes options through to grpc.NewServer.
func WithServerOptions(opts ...grpc.ServerOption) Option {
	return func(s *Server) { s.grpcOpts = append(s.grpcOpts, opts...) }
}

// Server owns the gRPC server instance and runtime.
type Server struct {
	rt       *runtime.Runtime
	grpc     *grpc.Server
	health   *healthReporter
	logger   logpkg.Logger
	interval time.Duration
	grpcOpts []grpc.ServerOption

	mu  sync.Mutex
	lis net.Listener
}

// New constructs a gRPC server and registers the health and reflection
// services.
func New(rt *runtime.Runtime, opts ...Option) *Server {
	s := &Server{rt: rt, logger: logpkg.NewNopLogger(), interval: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("grpc")
	s.grpc = grpc.NewServer(s.grpcOpts...)
	s.health = newHealthReporter(rt, s.interval, s.logger)
	healthpb.RegisterHealthServer(s.grpc, s.health.hs)
	reflection.Register(s.grpc)
	return s
}

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve serves on l until ctx is done. Health turns NOT_SERVING before the
// server drains.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.mu.Lock()
	s.lis = l
	s.mu.Unlock()
	s.logger.Info("grpc server listening", logpkg.Str("addr", l.Addr().String()))

	hctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.health.run(hctx)

	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(l) }()
	select {
	case <-ctx.Done():
		s.health.hs.Shutdown()
		s.grpc.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Close stops the server and closes the listener.
func (s *Server) Close() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis != nil {
		_ = s.lis.Close()
	}
}
