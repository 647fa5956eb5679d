package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hari-yahoo/CourseStatus/internal/deadletter"
	"github.com/hari-yahoo/CourseStatus/internal/envelope"
)

func delivered(count int) envelope.Envelope {
	return envelope.Envelope{ID: "m1", GroupKey: "course-1", ReceiveCount: count}
}

func TestPolicySuccessAcknowledges(t *testing.T) {
	p := NewPolicy(3, DefaultBackoff())
	a := p.OnDeliveryOutcome(delivered(1), Result{Outcome: Success})
	assert.Equal(t, Acknowledge, a.Kind)
}

func TestPolicyTransientRequeuesUntilLimit(t *testing.T) {
	p := NewPolicy(3, DefaultBackoff())

	for count := 1; count < 3; count++ {
		a := p.OnDeliveryOutcome(delivered(count), Result{Outcome: TransientFailure, Message: "db timeout"})
		assert.Equal(t, Requeue, a.Kind, "receive count %d", count)
		assert.Zero(t, a.Delay)
	}

	a := p.OnDeliveryOutcome(delivered(3), Result{Outcome: TransientFailure, Message: "db timeout"})
	assert.Equal(t, Escalate, a.Kind)
	assert.Equal(t, deadletter.KindRetriesExhausted, a.DeadLetter)
	assert.Equal(t, "failed 3 of 3 attempts: db timeout", a.Reason)
}

func TestPolicyPermanentEscalatesOnFirstAttempt(t *testing.T) {
	p := NewPolicy(3, DefaultBackoff())
	a := p.OnDeliveryOutcome(delivered(1), Result{Outcome: PermanentFailure, Message: "malformed payload"})
	assert.Equal(t, Escalate, a.Kind)
	assert.Equal(t, deadletter.KindPermanent, a.DeadLetter)
	assert.Equal(t, "malformed payload", a.Reason)
}

func TestPolicyLimitOfOne(t *testing.T) {
	p := NewPolicy(1, DefaultBackoff())
	a := p.OnDeliveryOutcome(delivered(1), Result{Outcome: TransientFailure})
	assert.Equal(t, Escalate, a.Kind)
	assert.Equal(t, "failed 1 of 1 attempts", a.Reason)
}

func TestNewPolicyDefaultsLimit(t *testing.T) {
	assert.Equal(t, DefaultRetryLimit, NewPolicy(0, DefaultBackoff()).RetryLimit)
	a := Policy{}.OnDeliveryOutcome(delivered(2), Result{Outcome: TransientFailure})
	assert.Equal(t, Requeue, a.Kind)
}

func TestPolicyRequeueDelayUsesBackoff(t *testing.T) {
	p := NewPolicy(5, Backoff{Base: time.Second, Max: 10 * time.Second})
	a := p.OnDeliveryOutcome(delivered(2), Result{Outcome: TransientFailure})
	assert.Equal(t, Requeue, a.Kind)
	assert.LessOrEqual(t, a.Delay, 2*time.Second)
}
