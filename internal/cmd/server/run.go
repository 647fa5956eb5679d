package serverrun

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/hari-yahoo/CourseStatus/internal/config"
	"github.com/hari-yahoo/CourseStatus/internal/coursestatus"
	"github.com/hari-yahoo/CourseStatus/internal/deadletter"
	"github.com/hari-yahoo/CourseStatus/internal/metrics"
	"github.com/hari-yahoo/CourseStatus/internal/notify"
	"github.com/hari-yahoo/CourseStatus/internal/runtime"
	grpcserver "github.com/hari-yahoo/CourseStatus/internal/server/grpc"
	httpserver "github.com/hari-yahoo/CourseStatus/internal/server/http"
	"github.com/hari-yahoo/CourseStatus/internal/telemetry"
	"github.com/hari-yahoo/CourseStatus/internal/worker"
	logpkg "github.com/hari-yahoo/CourseStatus/pkg/log"
)

// Addrs are the addresses the node actually bound.
type Addrs struct {
	HTTP net.Addr
	GRPC net.Addr
}

type Options struct {
	Config cfgpkg.Config
	// Logger overrides the logger built from Config.Log.
	Logger logpkg.Logger
	// Metrics defaults to the process-wide registry.
	Metrics *metrics.Metrics
	// Store overrides the store chosen from Config.Postgres.
	Store coursestatus.Store
	// Ready, when set, is called once both listeners are bound.
	Ready func(Addrs)
}

// Run starts the ingestion node: the gateway, the gRPC health endpoint and
// the worker pool. It blocks until ctx is cancelled or a component fails,
// then drains the servers and the pool before closing the store.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	logger, err := processLogger(opts.Logger, cfg.Log)
	if err != nil {
		return err
	}
	restore := logpkg.RedirectStdLog(logger)
	defer restore()

	m := opts.Metrics
	if m == nil {
		m = metrics.Default()
	}

	tp, err := telemetry.Setup(sctx, cfg.Tracing, logger)
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(cctx); err != nil {
			logger.Warn("tracer shutdown failed", logpkg.Err(err))
		}
	}()

	notifier, closeNotifier := openNotifier(cfg, logger)
	defer closeNotifier()

	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: logger, Metrics: m, Notifier: notifier})
	if err != nil {
		return err
	}
	defer rt.Close()

	store := opts.Store
	if store == nil {
		s, closeStore, err := openStore(sctx, cfg.Postgres, logger)
		if err != nil {
			return err
		}
		defer closeStore()
		store = s
	}

	hsrv, err := httpserver.New(rt, httpserver.WithLogger(logger), httpserver.WithMetrics(m))
	if err != nil {
		return err
	}
	gsrv := grpcserver.New(rt, grpcserver.WithLogger(logger))
	pool := rt.NewPool(coursestatus.NewHandler(store, logger), worker.WithTracerProvider(tp))

	hl, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	gl, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = hl.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}

	logger.Info("starting coursestatus node",
		logpkg.Str("http", hl.Addr().String()),
		logpkg.Str("grpc", gl.Addr().String()),
		logpkg.Str("queue", cfg.Naming.QueueName()),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Int("retry_limit", cfg.RetryLimit),
		logpkg.Int("workers", cfg.Workers),
		logpkg.Bool("tracing", tp.Enabled()))
	if opts.Ready != nil {
		opts.Ready(Addrs{HTTP: hl.Addr(), GRPC: gl.Addr()})
	}

	rt.Start()
	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error { return hsrv.Serve(gctx, hl) })
	g.Go(func() error { return gsrv.Serve(gctx, gl) })
	g.Go(func() error { return pool.Run(gctx) })
	err = g.Wait()
	logger.Info("coursestatus node stopped")
	return err
}

func processLogger(override logpkg.Logger, lc cfgpkg.Log) (logpkg.Logger, error) {
	if override != nil {
		return override, nil
	}
	l, err := logpkg.ApplyConfig(&logpkg.Config{Level: lc.Level, Format: lc.Format})
	if err != nil {
		return nil, fmt.Errorf("configure logger: %w", err)
	}
	return l, nil
}

// openNotifier connects to NATS when configured. A broker that cannot be
// reached only disables notifications.
func openNotifier(cfg cfgpkg.Config, logger logpkg.Logger) (deadletter.Notifier, func()) {
	if cfg.Notify.NATSURL == "" {
		return nil, func() {}
	}
	p, err := notify.Connect(cfg.Notify.NATSURL, cfg.Notify.Subject, cfg.Naming.DeadLetterName(), logger)
	if err != nil {
		logger.Warn("dead-letter notifications disabled", logpkg.Err(err))
		return nil, func() {}
	}
	return p, p.Close
}

// openStore connects to PostgreSQL when configured and otherwise falls back
// to the in-memory log store.
func openStore(ctx context.Context, pg cfgpkg.Postgres, logger logpkg.Logger) (coursestatus.Store, func(), error) {
	if !pg.Enabled() {
		logger.Warn("no database configured, course status kept in memory")
		return coursestatus.NewLogStore(logger), func() {}, nil
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	s, err := coursestatus.OpenPostgres(cctx, pg.ConnectionString())
	if err != nil {
		return nil, nil, err
	}
	if err := s.EnsureSchema(cctx); err != nil {
		s.Close()
		return nil, nil, err
	}
	logger.Info("course status store connected", logpkg.Str("host", pg.Host))
	return s, s.Close, nil
}
