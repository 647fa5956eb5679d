package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hari-yahoo/CourseStatus/internal/deadletter"
	"github.com/hari-yahoo/CourseStatus/internal/envelope"
	"github.com/hari-yahoo/CourseStatus/internal/queue"
	logpkg "github.com/hari-yahoo/CourseStatus/pkg/log"
)

// Queue is the part of the queue the executor settles leases against.
type Queue interface {
	AckLease(ctx context.Context, l queue.Lease) error
	ReleaseLease(ctx context.Context, l queue.Lease, delay time.Duration, lastErr string) error
}

// DeadLetters receives escalated envelopes.
type DeadLetters interface {
	Append(ctx context.Context, env envelope.Envelope, kind deadletter.Kind, reason string) (deadletter.Record, error)
}

// Observer is notified of every applied action.
type Observer interface {
	ObserveAction(outcome Outcome, action ActionKind)
}

// Option configures an Executor.
type Option func(*Executor)

func WithLogger(l logpkg.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// Executor applies Policy decisions to the queue and the dead-letter channel.
type Executor struct {
	policy   Policy
	queue    Queue
	dlq      DeadLetters
	logger   logpkg.Logger
	observer Observer
}

// NewExecutor wires a policy to its queue and dead-letter channel.
func NewExecutor(p Policy, q Queue, dlq DeadLetters, opts ...Option) *Executor {
	e := &Executor{
		policy: p,
		queue:  q,
		dlq:    dlq,
		logger: logpkg.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("retry")
	return e
}

// Policy returns the policy in use.
func (e *Executor) Policy() Policy { return e.policy }

// Apply decides what to do with the envelope held by l and does it. An
// escalation appends to the dead-letter channel before acknowledging, so a
// crash in between leaves a duplicate dead letter rather than a lost one.
func (e *Executor) Apply(ctx context.Context, l queue.Lease, r Result) (Action, error) {
	action := e.policy.OnDeliveryOutcome(l.Envelope, r)
	env := l.Envelope
	var err error
	switch action.Kind {
	case Acknowledge:
		err = e.queue.AckLease(ctx, l)
	case Requeue:
		err = e.queue.ReleaseLease(ctx, l, action.Delay, r.Message)
		if err == nil {
			e.logger.Debug("envelope requeued",
				logpkg.Str("id", env.ID),
				logpkg.Str("group", env.GroupKey),
				logpkg.Int("receive_count", env.ReceiveCount),
				logpkg.Duration("delay", action.Delay))
		}
	case Escalate:
		if r.Message != "" {
			env.LastError = r.Message
		}
		if _, err = e.dlq.Append(ctx, env, action.DeadLetter, action.Reason); err != nil {
			err = fmt.Errorf("retry: dead-letter %s: %w", env.ID, err)
			break
		}
		err = e.queue.AckLease(ctx, l)
		if err == nil {
			e.logger.Warn("envelope escalated",
				logpkg.Str("id", env.ID),
				logpkg.Str("group", env.GroupKey),
				logpkg.Int("receive_count", env.ReceiveCount),
				logpkg.Str("kind", string(action.DeadLetter)),
				logpkg.Str("reason", action.Reason))
		}
	}
	if errors.Is(err, queue.ErrNotLeased) {
		e.logger.Warn("lease lost before settlement",
			logpkg.Str("id", env.ID),
			logpkg.Str("group", env.GroupKey),
			logpkg.Str("action", action.Kind.String()))
	}
	if err == nil && e.observer != nil {
		e.observer.ObserveAction(r.Outcome, action.Kind)
	}
	return action, err
}

// LeaseExpired treats an expired lease as a transient failure.
func (e *Executor) LeaseExpired(ctx context.Context, l queue.Lease) error {
	_, err := e.Apply(ctx, l, Result{Outcome: TransientFailure, Message: "lease expired"})
	return err
}
