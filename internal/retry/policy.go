package retry

import (
	"fmt"
	"time"

	"github.com/hari-yahoo/CourseStatus/internal/deadletter"
	"github.com/hari-yahoo/CourseStatus/internal/envelope"
)

// DefaultRetryLimit is the number of deliveries an envelope gets before
// transient failures escalate it.
const DefaultRetryLimit = 3

// Outcome is the result of one delivery attempt.
type Outcome int

const (
	Success Outcome = iota + 1
	TransientFailure
	PermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case TransientFailure:
		return "transient_failure"
	case PermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// Result is an outcome plus an optional diagnostic message.
type Result struct {
	Outcome Outcome
	Message string
}

// ActionKind is what happens to an envelope after an outcome.
type ActionKind int

const (
	Acknowledge ActionKind = iota + 1
	Requeue
	Escalate
)

func (k ActionKind) String() string {
	switch k {
	case Acknowledge:
		return "acknowledge"
	case Requeue:
		return "requeue"
	case Escalate:
		return "escalate"
	default:
		return "unknown"
	}
}

// Action is the decision for one envelope.
type Action struct {
	Kind ActionKind
	// Delay holds the group back before a Requeue is redelivered.
	Delay time.Duration
	// DeadLetter classifies an Escalate.
	DeadLetter deadletter.Kind
	Reason     string
}

// Policy decides between acknowledge, requeue and escalation. It holds no
// state; counting is done by the queue through ReceiveCount.
type Policy struct {
	RetryLimit int
	Backoff    Backoff
}

// NewPolicy returns a Policy, substituting DefaultRetryLimit for limit < 1.
func NewPolicy(limit int, backoff Backoff) Policy {
	if limit < 1 {
		limit = DefaultRetryLimit
	}
	return Policy{RetryLimit: limit, Backoff: backoff}
}

// OnDeliveryOutcome maps an outcome for env to an action:
//
//	Success          -> Acknowledge
//	PermanentFailure -> Escalate
//	TransientFailure -> Requeue while ReceiveCount < RetryLimit, else Escalate
func (p Policy) OnDeliveryOutcome(env envelope.Envelope, r Result) Action {
	limit := p.RetryLimit
	if limit < 1 {
		limit = DefaultRetryLimit
	}
	switch r.Outcome {
	case Success:
		return Action{Kind: Acknowledge}
	case PermanentFailure:
		return Action{Kind: Escalate, DeadLetter: deadletter.KindPermanent, Reason: r.Message}
	default:
		if env.ReceiveCount < limit {
			return Action{Kind: Requeue, Delay: p.Backoff.Delay(env.ReceiveCount), Reason: r.Message}
		}
		reason := fmt.Sprintf("failed %d of %d attempts", env.ReceiveCount, limit)
		if r.Message != "" {
			reason += ": " + r.Message
		}
		return Action{Kind: Escalate, DeadLetter: deadletter.KindRetriesExhausted, Reason: reason}
	}
}
