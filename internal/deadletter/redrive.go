package deadletter

import (
	"context"

	"github.com/hari-yahoo/CourseStatus/internal/envelope"
	logpkg "github.com/hari-yahoo/CourseStatus/pkg/log"
)

// Readmitter accepts envelopes back into the main queue.
type Readmitter interface {
	Readmit(ctx context.Context, env envelope.Envelope) error
}

// Redrive moves up to limit records, oldest first, back into target as fresh
// admissions and removes them from the channel. The original admission time
// travels with each envelope. It returns how many moved.
func (c *Channel) Redrive(ctx context.Context, target Readmitter, limit int) (int, error) {
	recs, err := c.List(limit)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, rec := range recs {
		env := envelope.Envelope{
			ID:               rec.Envelope.ID,
			GroupKey:         rec.Envelope.GroupKey,
			Payload:          rec.Payload,
			FirstEnqueueTime: rec.Envelope.FirstEnqueueTime,
		}
		if env.FirstEnqueueTime.IsZero() {
			env.FirstEnqueueTime = rec.Envelope.EnqueueTime
		}
		if err := target.Readmit(ctx, env); err != nil {
			return moved, err
		}
		if err := c.Remove(ctx, rec.EntryID); err != nil {
			return moved, err
		}
		moved++
	}
	if moved > 0 {
		c.logger.Info("redrove dead letters", logpkg.Int("count", moved))
	}
	return moved, nil
}
