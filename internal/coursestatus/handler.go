package coursestatus

import (
	"context"

	"github.com/hari-yahoo/CourseStatus/internal/worker"
	logpkg "github.com/hari-yahoo/CourseStatus/pkg/log"
)

// Handler applies course status updates to a Store. Payloads that fail to
// parse or validate are permanent failures; store errors are retried.
type Handler struct {
	store  Store
	logger logpkg.Logger
}

func NewHandler(store Store, logger logpkg.Logger) *Handler {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	return &Handler{store: store, logger: logger.WithComponent("coursestatus")}
}

// Handle implements worker.Handler.
func (h *Handler) Handle(ctx context.Context, d worker.Delivery) error {
	u, err := ParseUpdate(d.Payload)
	if err != nil {
		return worker.Permanent(err)
	}
	rec := Record{
		CourseID:   u.CourseID,
		Status:     u.Status,
		UpdatedAt:  d.FirstEnqueueTime,
		EnvelopeID: d.ID,
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = d.EnqueueTime
	}
	if u.UpdatedAt != nil {
		rec.UpdatedAt = *u.UpdatedAt
	}
	applied, err := h.store.Upsert(ctx, rec)
	if err != nil {
		h.logger.Warn("course status store failed",
			logpkg.Str("id", d.ID),
			logpkg.Str("course_id", u.CourseID),
			logpkg.Int("receive_count", d.ReceiveCount),
			logpkg.Err(err))
		return err
	}
	if !applied {
		h.logger.Debug("stale course status ignored",
			logpkg.Str("id", d.ID),
			logpkg.Str("course_id", u.CourseID))
	}
	return nil
}
