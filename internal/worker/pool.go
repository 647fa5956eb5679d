package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hari-yahoo/CourseStatus/internal/queue"
	"github.com/hari-yahoo/CourseStatus/internal/retry"
	logpkg "github.com/hari-yahoo/CourseStatus/pkg/log"
)

const instrumentationName = "github.com/hari-yahoo/CourseStatus/internal/worker"

// Source is the queue side of the pool.
type Source interface {
	Lease(ctx context.Context, max int, visibility time.Duration) ([]queue.Lease, error)
	Wait(ctx context.Context, timeout time.Duration) bool
}

// Settler applies a delivery result to a lease, normally *retry.Executor.
type Settler interface {
	Apply(ctx context.Context, l queue.Lease, r retry.Result) (retry.Action, error)
}

// Metrics observes finished deliveries.
type Metrics interface {
	ObserveDelivery(outcome string, d time.Duration)
}

// Config sizes the pool.
type Config struct {
	Workers      int           // concurrent workers (default: 4)
	Batch        int           // envelopes leased per poll (default: 1)
	Visibility   time.Duration // lease visibility timeout (default: 30s)
	PollInterval time.Duration // idle wait between polls (default: 250ms)
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Batch <= 0 {
		c.Batch = 1
	}
	if c.Visibility <= 0 {
		c.Visibility = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	return c
}

// Option configures a Pool.
type Option func(*Pool)

func WithLogger(l logpkg.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithTracerProvider sets the provider for delivery spans. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pool) {
		if tp != nil {
			p.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// Pool runs Config.Workers delivery loops against a Source.
type Pool struct {
	cfg     Config
	source  Source
	settler Settler
	handler Handler
	logger  logpkg.Logger
	metrics Metrics
	tracer  trace.Tracer

	mu      sync.Mutex
	running bool
}

// NewPool returns a pool delivering from src to h.
func NewPool(src Source, settler Settler, h Handler, cfg Config, opts ...Option) *Pool {
	p := &Pool{
		cfg:     cfg.withDefaults(),
		source:  src,
		settler: settler,
		handler: h,
		logger:  logpkg.NewNopLogger(),
		tracer:  otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithComponent("worker")
	return p
}

// Config returns the effective configuration.
func (p *Pool) Config() Config { return p.cfg }

// Run delivers until ctx is done, then waits for in-flight deliveries to be
// settled. It returns an error only when the pool is already running.
func (p *Pool) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("worker: pool already running")
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	p.logger.Info("worker pool started",
		logpkg.Int("workers", p.cfg.Workers),
		logpkg.Int("batch", p.cfg.Batch),
		logpkg.Duration("visibility", p.cfg.Visibility))

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.loop(ctx, n)
		}(i)
	}
	wg.Wait()
	p.logger.Info("worker pool stopped")
	return nil
}

func (p *Pool) loop(ctx context.Context, n int) {
	log := p.logger.With(logpkg.Int("worker", n))
	for ctx.Err() == nil {
		leases, err := p.source.Lease(ctx, p.cfg.Batch, p.cfg.Visibility)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, queue.ErrUnavailable) {
				log.Warn("queue unavailable", logpkg.Err(err))
			} else {
				log.Error("lease failed", logpkg.Err(err))
			}
			p.sleep(ctx, p.cfg.PollInterval)
			continue
		}
		if len(leases) == 0 {
			p.source.Wait(ctx, p.cfg.PollInterval)
			continue
		}
		p.deliverBatch(ctx, leases)
	}
}

// deliverBatch runs a batch's leases concurrently. Every lease in a batch
// belongs to a different group, and each one's clock started at lease time.
func (p *Pool) deliverBatch(ctx context.Context, leases []queue.Lease) {
	if len(leases) == 1 {
		p.deliver(ctx, leases[0])
		return
	}
	var wg sync.WaitGroup
	for _, l := range leases {
		wg.Add(1)
		go func(l queue.Lease) {
			defer wg.Done()
			p.deliver(ctx, l)
		}(l)
	}
	wg.Wait()
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// deliver runs the handler for one lease and settles it. The handler is
// bounded by the lease expiry. Settlement is not tied to ctx so a shutdown
// does not strand a finished delivery.
func (p *Pool) deliver(ctx context.Context, l queue.Lease) {
	env := l.Envelope
	deadline := l.ExpiresAt
	if deadline.IsZero() {
		deadline = time.Now().Add(p.cfg.Visibility)
	}
	if !time.Now().Before(deadline) {
		p.observe("expired", 0)
		p.logger.Warn("lease expired before delivery, left to the sweeper",
			logpkg.Str("id", env.ID),
			logpkg.Str("group", env.GroupKey))
		return
	}
	base := context.WithoutCancel(ctx)
	hctx, cancel := context.WithDeadline(base, deadline)
	defer cancel()

	hctx, span := p.tracer.Start(hctx, "coursestatus.deliver",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("envelope.id", env.ID),
			attribute.String("group_key", env.GroupKey),
			attribute.Int("receive_count", env.ReceiveCount),
		))
	defer span.End()

	start := time.Now()
	first := env.FirstEnqueueTime
	if first.IsZero() {
		first = env.EnqueueTime
	}
	panicked, err := p.invoke(hctx, Delivery{
		ID:               env.ID,
		GroupKey:         env.GroupKey,
		Payload:          env.Payload,
		ReceiveCount:     env.ReceiveCount,
		EnqueueTime:      env.EnqueueTime,
		FirstEnqueueTime: first,
		LastError:        env.LastError,
	})
	elapsed := time.Since(start)

	if panicked {
		span.SetAttributes(attribute.String("outcome", "panic"))
		span.SetStatus(codes.Error, err.Error())
		p.observe("panic", elapsed)
		p.logger.Error("handler panicked, lease left to expire",
			logpkg.Str("id", env.ID),
			logpkg.Str("group", env.GroupKey),
			logpkg.Err(err))
		return
	}

	r := classify(err)
	span.SetAttributes(attribute.String("outcome", r.Outcome.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, r.Message)
	}
	p.observe(r.Outcome.String(), elapsed)

	action, serr := p.settler.Apply(trace.ContextWithSpan(base, span), l, r)
	if serr != nil {
		span.RecordError(serr)
		if errors.Is(serr, queue.ErrNotLeased) {
			return
		}
		p.logger.Error("settle failed",
			logpkg.Str("id", env.ID),
			logpkg.Str("group", env.GroupKey),
			logpkg.Str("action", action.Kind.String()),
			logpkg.Err(serr))
		return
	}
	span.SetAttributes(attribute.String("action", action.Kind.String()))
	if err != nil {
		p.logger.Debug("delivery failed",
			logpkg.Str("id", env.ID),
			logpkg.Str("group", env.GroupKey),
			logpkg.Int("receive_count", env.ReceiveCount),
			logpkg.Str("action", action.Kind.String()),
			logpkg.Err(err))
	}
}

func (p *Pool) invoke(ctx context.Context, d Delivery) (panicked bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Debug("handler panic stack", logpkg.Str("stack", string(debug.Stack())))
			panicked, err = true, fmt.Errorf("worker: handler panic: %v", rec)
		}
	}()
	return false, p.handler.Handle(ctx, d)
}

func (p *Pool) observe(outcome string, d time.Duration) {
	if p.metrics != nil {
		p.metrics.ObserveDelivery(outcome, d)
	}
}

// classify maps a handler error to a retry result.
func classify(err error) retry.Result {
	switch {
	case err == nil:
		return retry.Result{Outcome: retry.Success}
	case IsPermanent(err):
		return retry.Result{Outcome: retry.PermanentFailure, Message: err.Error()}
	default:
		return retry.Result{Outcome: retry.TransientFailure, Message: err.Error()}
	}
}
