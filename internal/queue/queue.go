package queue

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hari-yahoo/CourseStatus/internal/envelope"
	pebblestore "github.com/hari-yahoo/CourseStatus/internal/storage/pebble"
	logpkg "github.com/hari-yahoo/CourseStatus/pkg/log"
)

var (
	// ErrUnavailable reports that the backing store cannot be reached.
	ErrUnavailable = errors.New("queue: unavailable")
	// ErrInvalidEnvelope is returned by Enqueue for envelopes missing an id or group.
	ErrInvalidEnvelope = errors.New("queue: invalid envelope")
	// ErrNotLeased is returned when settling an envelope whose lease is gone.
	ErrNotLeased = errors.New("queue: envelope not leased")
)

// Admission is the result of Enqueue.
type Admission int

const (
	Accepted Admission = iota + 1
	Deduplicated
)

func (a Admission) String() string {
	switch a {
	case Accepted:
		return "accepted"
	case Deduplicated:
		return "deduplicated"
	default:
		return "unknown"
	}
}

// ExpiryHandler settles envelopes whose visibility timeout elapsed without an
// outcome. It must end the lease through AckLease or ReleaseLease.
type ExpiryHandler interface {
	LeaseExpired(ctx context.Context, l Lease) error
}

// Options configures a Queue.
type Options struct {
	// Name scopes the keyspace inside the shared store.
	Name string
	// DedupWindow is how long an admitted id suppresses repeats. Zero disables dedup.
	DedupWindow time.Duration
	Now         func() time.Time
	Logger      logpkg.Logger
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Depth   int    `json:"depth"`
	Leased  int    `json:"leased"`
	Ready   int    `json:"ready"`
	Delayed int    `json:"delayed"`
	LastSeq uint64 `json:"last_seq"`
}

// Queue is a durable, deduplicating queue with per-group FIFO delivery.
//
// At most one envelope per group is leased at any time; the lease record
// stored under lease/{group} is the group's exclusion token. mu only guards
// the short read-modify-write of the indexes and is never held while an
// envelope is being processed.
type Queue struct {
	db          *pebblestore.DB
	name        string
	keys        keyspace
	dedupWindow time.Duration
	now         func() time.Time
	logger      logpkg.Logger

	mu        sync.Mutex
	lastSeq   uint64
	depth     int
	tokens    map[string]*groupToken // leased groups
	leasedIDs map[string]string      // envelope id -> leased group
	expiry    ExpiryHandler

	notifyMu sync.Mutex
	notifyCh chan struct{}

	closed atomic.Bool

	sweepMu   sync.Mutex
	sweepStop chan struct{}
	sweepDone chan struct{}
}

// Open initializes a Queue over db, restoring the sequence counter and the
// outstanding leases.
func Open(db *pebblestore.DB, opts Options) (*Queue, error) {
	if opts.Name == "" || strings.ContainsAny(opts.Name, "/\x00") {
		return nil, fmt.Errorf("queue: invalid name %q", opts.Name)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNopLogger()
	}
	q := &Queue{
		db:          db,
		name:        opts.Name,
		keys:        newKeyspace(opts.Name),
		dedupWindow: opts.DedupWindow,
		now:         opts.Now,
		logger:      opts.Logger.With(logpkg.Component("queue"), logpkg.Str("queue", opts.Name)),
		tokens:      make(map[string]*groupToken),
		leasedIDs:   make(map[string]string),
		notifyCh:    make(chan struct{}),
	}

	if meta, err := db.Get(q.keys.meta()); err == nil && len(meta) >= 8 {
		q.lastSeq = binary.BigEndian.Uint64(meta[:8])
	} else if err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
		return nil, fmt.Errorf("queue: read meta: %w", err)
	}

	depth, err := db.CountPrefix(q.keys.prefix(prefixMsg))
	if err != nil {
		return nil, fmt.Errorf("queue: count messages: %w", err)
	}
	q.depth = depth

	leasePrefix := q.keys.prefix(prefixLease)
	var decodeErr error
	err = db.ScanPrefix(leasePrefix, func(k, v []byte) bool {
		rec, err := decodeLeaseRecord(v)
		if err != nil {
			decodeErr = fmt.Errorf("queue: lease record %q: %w", k, err)
			return false
		}
		group := string(k[len(leasePrefix):])
		q.tokens[group] = &groupToken{leaseRecord: rec}
		q.leasedIDs[rec.ID] = group
		return true
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return nil, err
	}
	if len(q.tokens) > 0 {
		q.logger.Info("restored outstanding leases", logpkg.Int("leases", len(q.tokens)))
	}
	return q, nil
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// SetExpiryHandler installs the handler consulted when leases expire. Without
// one, expired envelopes are requeued immediately.
func (q *Queue) SetExpiryHandler(h ExpiryHandler) {
	q.mu.Lock()
	q.expiry = h
	q.mu.Unlock()
}

// Enqueue admits env. An id already admitted within the dedup window is
// reported as Deduplicated and nothing is written.
func (q *Queue) Enqueue(ctx context.Context, env envelope.Envelope) (Admission, error) {
	return q.admit(ctx, env, true)
}

// Readmit admits env as a fresh envelope without consulting the dedup window.
// It is used when draining the dead-letter channel back into the queue. A set
// FirstEnqueueTime is preserved.
func (q *Queue) Readmit(ctx context.Context, env envelope.Envelope) error {
	_, err := q.admit(ctx, env, false)
	return err
}

func (q *Queue) admit(ctx context.Context, env envelope.Envelope, dedup bool) (Admission, error) {
	if err := env.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if q.closed.Load() {
		return 0, ErrUnavailable
	}
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	if dedup {
		dup, err := q.isDuplicate(env.ID, now)
		if err != nil {
			return 0, q.storeErr(err)
		}
		if dup {
			return Deduplicated, nil
		}
	}
	_, hasHead, err := q.groupHead(env.GroupKey)
	if err != nil {
		return 0, q.storeErr(err)
	}

	seq := q.lastSeq + 1
	env.Seq = seq
	env.EnqueueTime = now
	if dedup || env.FirstEnqueueTime.IsZero() {
		env.FirstEnqueueTime = now
	}
	env.ReceiveCount = 0
	env.NotBefore = time.Time{}
	env.LastError = ""
	rec, err := envelope.Encode(env)
	if err != nil {
		return 0, err
	}

	b := q.db.NewBatch()
	defer b.Close()
	_ = b.Set(q.keys.msg(seq), rec, nil)
	_ = b.Set(q.keys.group(env.GroupKey, seq), nil, nil)
	_ = b.Set(q.keys.byID(env.ID, seq), nil, nil)
	q.putDedup(b, env.ID, dedupRecord{admittedMs: now.UnixMilli(), seq: seq})
	if !hasHead {
		_ = b.Set(q.keys.ready(seq), []byte(env.GroupKey), nil)
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], seq)
	_ = b.Set(q.keys.meta(), meta[:], nil)
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return 0, q.storeErr(err)
	}

	q.lastSeq = seq
	q.depth++
	q.signal()
	return Accepted, nil
}

// Stats returns counts of stored, leased, ready and delayed envelopes.
func (q *Queue) Stats() (Stats, error) {
	if q.closed.Load() {
		return Stats{}, ErrUnavailable
	}
	ready, err := q.db.CountPrefix(q.keys.prefix(prefixReady))
	if err != nil {
		return Stats{}, q.storeErr(err)
	}
	delayed, err := q.db.CountPrefix(q.keys.prefix(prefixDelay))
	if err != nil {
		return Stats{}, q.storeErr(err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Depth:   q.depth,
		Leased:  len(q.tokens),
		Ready:   ready,
		Delayed: delayed,
		LastSeq: q.lastSeq,
	}, nil
}

// Depth returns the number of envelopes stored, leased ones included.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// Wait blocks until an envelope may have become leasable, ctx is done or
// timeout elapses. It reports whether it was woken by the queue.
func (q *Queue) Wait(ctx context.Context, timeout time.Duration) bool {
	q.notifyMu.Lock()
	ch := q.notifyCh
	q.notifyMu.Unlock()

	var timerC <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timerC = t.C
	}
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	case <-timerC:
		return false
	}
}

// Close stops the sweeper and fails later calls with ErrUnavailable. The
// underlying store is owned by the caller.
func (q *Queue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	q.StopSweeper()
	q.signal()
	return nil
}

func (q *Queue) signal() {
	q.notifyMu.Lock()
	close(q.notifyCh)
	q.notifyCh = make(chan struct{})
	q.notifyMu.Unlock()
}

// storeErr maps storage failures to ErrUnavailable, leaving context errors intact.
func (q *Queue) storeErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// groupHead returns the oldest stored seq of group.
func (q *Queue) groupHead(group string) (uint64, bool, error) {
	var (
		seq   uint64
		found bool
	)
	err := q.db.ScanPrefix(q.keys.groupPrefix(group), func(k, _ []byte) bool {
		seq, found = trailingSeq(k)
		return false
	})
	return seq, found, err
}

func (q *Queue) loadEnvelope(seq uint64) (envelope.Envelope, error) {
	raw, err := q.db.Get(q.keys.msg(seq))
	if err != nil {
		return envelope.Envelope{}, err
	}
	return envelope.Decode(raw)
}
