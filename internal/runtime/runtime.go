package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	cfgpkg "github.com/hari-yahoo/CourseStatus/internal/config"
	"github.com/hari-yahoo/CourseStatus/internal/deadletter"
	"github.com/hari-yahoo/CourseStatus/internal/envelope"
	"github.com/hari-yahoo/CourseStatus/internal/metrics"
	"github.com/hari-yahoo/CourseStatus/internal/queue"
	"github.com/hari-yahoo/CourseStatus/internal/retry"
	pebblestore "github.com/hari-yahoo/CourseStatus/internal/storage/pebble"
	"github.com/hari-yahoo/CourseStatus/internal/worker"
	logpkg "github.com/hari-yahoo/CourseStatus/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir string
	Fsync   pebblestore.FsyncMode
	Config  cfgpkg.Config
	Logger  logpkg.Logger
	// Metrics is optional; nil disables instrumentation.
	Metrics *metrics.Metrics
	// Now overrides the clock used for leases and the dedup window.
	Now func() time.Time
	// Notifier, when set, is told about every new dead-letter record.
	Notifier deadletter.Notifier
}

// Runtime owns the Pebble database and the components built on it: the
// main queue, the dead-letter channel and the retry executor.
type Runtime struct {
	db       *pebblestore.DB
	config   cfgpkg.Config
	logger   logpkg.Logger
	metrics  *metrics.Metrics
	queue    *queue.Queue
	dlq      *deadletter.Channel
	policy   retry.Policy
	executor *retry.Executor
}

// Stats summarizes the runtime for the admin endpoints.
type Stats struct {
	Queue          string      `json:"queue"`
	DeadLetter     string      `json:"dead_letter_queue"`
	Pending        queue.Stats `json:"pending"`
	DeadLetters    int         `json:"dead_letters"`
	RetryLimit     int         `json:"retry_limit"`
	VisibilitySecs float64     `json:"visibility_timeout_seconds"`
}

// Open initializes the underlying storage and returns a Runtime. DataDir and
// Fsync default to the values in Config.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if opts.DataDir == "" {
		opts.DataDir = cfg.DataDir
	}
	if opts.Fsync == pebblestore.FsyncModeUnspecified && cfg.Fsync != "" {
		mode, err := pebblestore.ParseFsyncMode(cfg.Fsync)
		if err != nil {
			return nil, err
		}
		opts.Fsync = mode
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNopLogger()
	}
	if err := cfg.Naming.Validate(); err != nil {
		return nil, err
	}

	popts := pebblestore.Options{DataDir: opts.DataDir, Fsync: opts.Fsync}
	if opts.Metrics != nil {
		popts.Metrics = opts.Metrics
	}
	db, err := pebblestore.Open(popts)
	if err != nil {
		return nil, err
	}

	q, err := queue.Open(db, queue.Options{
		Name:        cfg.Naming.QueueName(),
		DedupWindow: cfg.DedupWindow.D(),
		Now:         opts.Now,
		Logger:      opts.Logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	dlq, err := deadletter.Open(db, deadletter.Options{
		Name:     cfg.Naming.DeadLetterName(),
		Now:      opts.Now,
		Logger:   opts.Logger,
		Notifier: opts.Notifier,
	})
	if err != nil {
		_ = q.Close()
		_ = db.Close()
		return nil, err
	}

	policy := retry.NewPolicy(cfg.RetryLimit, retry.Backoff{Base: cfg.Backoff.Base.D(), Max: cfg.Backoff.Max.D()})
	execOpts := []retry.Option{retry.WithLogger(opts.Logger)}
	if opts.Metrics != nil {
		execOpts = append(execOpts, retry.WithObserver(opts.Metrics))
	}
	executor := retry.NewExecutor(policy, q, dlq, execOpts...)
	q.SetExpiryHandler(executor)

	rt := &Runtime{
		db:       db,
		config:   cfg,
		logger:   opts.Logger.WithComponent("runtime"),
		metrics:  opts.Metrics,
		queue:    q,
		dlq:      dlq,
		policy:   policy,
		executor: executor,
	}
	if opts.Metrics != nil {
		opts.Metrics.TrackQueue(
			func() float64 { return float64(q.Depth()) },
			func() float64 {
				st, err := q.Stats()
				if err != nil {
					return 0
				}
				return float64(st.Leased)
			},
			func() float64 {
				n, err := dlq.Count()
				if err != nil {
					return 0
				}
				return float64(n)
			},
		)
	}
	return rt, nil
}

// Start launches background maintenance: lease reclamation, delayed head
// promotion and dedup pruning.
func (r *Runtime) Start() {
	r.queue.StartSweeper(r.config.SweepInterval.D())
}

// Close stops maintenance and closes underlying resources.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	r.queue.StopSweeper()
	qerr := r.queue.Close()
	return errors.Join(qerr, r.db.Close())
}

// CheckHealth reports whether the store is open and readable.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil || r.db.Closed() {
		return errors.New("db not open")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// Enqueue admits env into the main queue, stamping the enqueue time.
func (r *Runtime) Enqueue(ctx context.Context, env envelope.Envelope) (queue.Admission, error) {
	res, err := r.queue.Enqueue(ctx, env)
	if r.metrics != nil {
		r.metrics.ObserveEnqueue(admissionLabel(res, err))
	}
	return res, err
}

func admissionLabel(res queue.Admission, err error) string {
	switch {
	case err == nil:
		return res.String()
	case errors.Is(err, queue.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, queue.ErrInvalidEnvelope):
		return "invalid"
	default:
		return "error"
	}
}

// Redrive moves up to limit dead letters back into the main queue.
func (r *Runtime) Redrive(ctx context.Context, limit int) (int, error) {
	n, err := r.dlq.Redrive(ctx, r.queue, limit)
	if err != nil {
		return n, fmt.Errorf("runtime: redrive: %w", err)
	}
	return n, nil
}

// Stats returns queue and dead-letter counts.
func (r *Runtime) Stats() (Stats, error) {
	qs, err := r.queue.Stats()
	if err != nil {
		return Stats{}, err
	}
	n, err := r.dlq.Count()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Queue:          r.queue.Name(),
		DeadLetter:     r.dlq.Name(),
		Pending:        qs,
		DeadLetters:    n,
		RetryLimit:     r.policy.RetryLimit,
		VisibilitySecs: r.config.VisibilityTimeout.D().Seconds(),
	}, nil
}

// NewPool builds a worker pool sized by the configuration, delivering to h.
func (r *Runtime) NewPool(h worker.Handler, opts ...worker.Option) *worker.Pool {
	base := []worker.Option{worker.WithLogger(r.logger)}
	if r.metrics != nil {
		base = append(base, worker.WithMetrics(r.metrics))
	}
	return worker.NewPool(r.queue, r.executor, h, worker.Config{
		Workers:      r.config.Workers,
		Batch:        r.config.MaxLeaseBatch,
		Visibility:   r.config.VisibilityTimeout.D(),
		PollInterval: r.config.PollInterval.D(),
	}, append(base, opts...)...)
}

// Queue returns the main queue.
func (r *Runtime) Queue() *queue.Queue { return r.queue }

// DeadLetters returns the dead-letter channel.
func (r *Runtime) DeadLetters() *deadletter.Channel { return r.dlq }

// Executor returns the retry executor settling leases.
func (r *Runtime) Executor() *retry.Executor { return r.executor }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
