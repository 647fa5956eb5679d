package worker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPermanent marks a failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent failure")

// Delivery is one attempt at processing an envelope.
type Delivery struct {
	ID           string
	GroupKey     string
	Payload      []byte
	ReceiveCount int
	EnqueueTime  time.Time
	// FirstEnqueueTime is the original admission time, earlier than
	// EnqueueTime for a redriven envelope.
	FirstEnqueueTime time.Time
	// LastError is the failure recorded by the previous attempt, if any.
	LastError string
}

// Handler processes deliveries. A nil return acknowledges the envelope, an
// error wrapping ErrPermanent escalates it at once and any other error is
// retried.
type Handler interface {
	Handle(ctx context.Context, d Delivery) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, d Delivery) error

func (f HandlerFunc) Handle(ctx context.Context, d Delivery) error { return f(ctx, d) }

type permanentError struct{ err error }

func (e *permanentError) Error() string {
	if e.err == nil {
		return ErrPermanent.Error()
	}
	return fmt.Sprintf("%s: %v", ErrPermanent, e.err)
}

func (e *permanentError) Unwrap() []error {
	if e.err == nil {
		return []error{ErrPermanent}
	}
	return []error{ErrPermanent, e.err}
}

// Permanent wraps err so the pool escalates it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent or wraps ErrPermanent.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
