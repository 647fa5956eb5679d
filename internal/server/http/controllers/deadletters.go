package controllers

import (
	"net/http"

	"github.com/hari-yahoo/CourseStatus/internal/runtime"
	logpkg "github.com/hari-yahoo/CourseStatus/pkg/log"
)

const defaultDLQLimit = 100

// DeadLettersController exposes inspection and redrive of the dead-letter
// channel.
type DeadLettersController struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
}

func NewDeadLettersController(rt *runtime.Runtime, logger logpkg.Logger) *DeadLettersController {
	return &DeadLettersController{rt: rt, logger: logger.WithComponent("admin")}
}

// RegisterRoutes registers /v1/dlq and /v1/dlq/redrive.
func (c *DeadLettersController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/dlq", c.handleList)
	mux.HandleFunc("/v1/dlq/redrive", c.handleRedrive)
}

func (c *DeadLettersController) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = defaultDLQLimit
	}
	recs, err := c.rt.DeadLetters().List(limit)
	if err != nil {
		writeStoreError(w, err, "Failed to list dead letters")
		return
	}
	items := make([]deadLetterItem, 0, len(recs))
	for _, rec := range recs {
		items = append(items, deadLetterItem{
			EntryID:      rec.EntryID.String(),
			ID:           rec.Envelope.ID,
			GroupKey:     rec.Envelope.GroupKey,
			Kind:         string(rec.Kind),
			Reason:       rec.Reason,
			LastError:    rec.Envelope.LastError,
			ReceiveCount: rec.Envelope.ReceiveCount,
			EnqueueTime:  rec.Envelope.EnqueueTime,
			EscalatedAt:  rec.EscalatedAt,
			Payload:      rec.Payload,
		})
	}
	writeJSON(w, deadLetterList{Items: items})
}

func (c *DeadLettersController) handleRedrive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = defaultDLQLimit
	}
	n, err := c.rt.Redrive(r.Context(), limit)
	if err != nil {
		c.logger.WithContext(r.Context()).Error("redrive failed", logpkg.Int("moved", n), logpkg.Err(err))
		writeStoreError(w, err, "Failed to redrive dead letters")
		return
	}
	writeJSON(w, redriveResp{Redriven: n})
}
