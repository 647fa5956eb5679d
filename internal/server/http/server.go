package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hari-yahoo/CourseStatus/internal/metrics"
	"github.com/hari-yahoo/CourseStatus/internal/runtime"
	"github.com/hari-yahoo/CourseStatus/internal/server/http/controllers"
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

// WithMetrics serves /metrics and instruments every request.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server is the ingestion gateway plus the admin API.
type Server struct {
	rt       *runtime.Runtime
	srv      *http.Server
	registry *controllers.ControllerRegistry
	mu       sync.Mutex
	lis      net.Listener
	logger   logpkg.Logger
	metrics  *metrics.Metrics
}

// New builds the server and its routes.
func New(rt *runtime.Runtime, opts ...Option) (*Server, error) {
	s := &Server{rt: rt, logger: logpkg.NewNopLogger()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("http")

	registry, err := controllers.NewControllerRegistry(rt, s.logger)
	if err != nil {
		return nil, err
	}
	s.registry = registry
	mux := http.NewServeMux()
	registry.RegisterAllRoutes(mux)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	// Spans use the global tracer provider installed by telemetry.Setup.
	traced := otelhttp.NewHandler(corsPolicy().Handler(mux), "coursestatus.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			if _, route := mux.Handler(r); route != "" {
				return r.Method + " " + route
			}
			return r.Method
		}),
		otelhttp.WithFilter(func(r *http.Request) bool { return r.URL.Path != "/metrics" }),
	)
	s.srv = &http.Server{
		Handler:           requestID(s.accessLog(mux, traced)),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logpkg.ToStdLogger(s.logger, logpkg.WarnLevel),
	}
	return s, nil
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Addr returns the bound address once listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve serves on l until ctx is done.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.mu.Lock()
	s.lis = l
	s.mu.Unlock()
	s.logger.Info("http server listening", logpkg.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		_ = s.registry.Close()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close stops accepting connections and releases controller resources.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis != nil {
		_ = s.lis.Close()
	}
	_ = s.registry.Close()
}
