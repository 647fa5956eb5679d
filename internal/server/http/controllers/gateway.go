package controllers

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/hari-yahoo/CourseStatus/internal/envelope"
	"github.com/hari-yahoo/CourseStatus/internal/queue"
	"github.com/hari-yahoo/CourseStatus/internal/runtime"
	logpkg "github.com/hari-yahoo/CourseStatus/pkg/log"
)

// DeduplicationHeader carries a caller-chosen envelope id.
const DeduplicationHeader = "X-Deduplication-Id"

// GatewayController turns inbound updates into queue admissions.
//
// The caller sees 200 for both accepted and deduplicated updates; processing
// happens later and its failures are never reported here.
type GatewayController struct {
	rt       *runtime.Runtime
	resolver *GroupResolver
	maxBody  int64
	stage    string
	limiter  *RateLimiter
	logger   logpkg.Logger
}

// NewGatewayController creates a gateway serving /update and /<stage>/update.
// A nil limiter leaves the routes unthrottled.
func NewGatewayController(rt *runtime.Runtime, resolver *GroupResolver, limiter *RateLimiter, logger logpkg.Logger) *GatewayController {
	cfg := rt.Config()
	return &GatewayController{
		rt:       rt,
		resolver: resolver,
		maxBody:  cfg.MaxBodyBytes,
		stage:    cfg.Naming.StageName(),
		limiter:  limiter,
		logger:   logger.WithComponent("gateway"),
	}
}

// RegisterRoutes registers the ingestion routes with the given mux.
func (c *GatewayController) RegisterRoutes(mux *http.ServeMux) {
	h := c.limiter.Wrap(http.HandlerFunc(c.handleUpdate))
	mux.Handle("/update", h)
	mux.Handle("/"+c.stage+"/update", h)
}

func (c *GatewayController) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, c.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, "Request body is empty")
		return
	}

	id := strings.TrimSpace(r.Header.Get(DeduplicationHeader))
	if id == "" {
		id = envelope.ContentID(body)
	}
	env := envelope.Envelope{
		ID:       id,
		GroupKey: c.resolver.Resolve(r, body),
		Payload:  body,
	}

	res, err := c.rt.Enqueue(r.Context(), env)
	if err != nil {
		log := c.logger.WithContext(r.Context())
		switch {
		case errors.Is(err, queue.ErrUnavailable):
			log.Error("enqueue failed, queue unavailable", logpkg.Str("id", env.ID), logpkg.Err(err))
			writeError(w, http.StatusServiceUnavailable, "Queue unavailable")
		case errors.Is(err, queue.ErrInvalidEnvelope):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Error("enqueue failed", logpkg.Str("id", env.ID), logpkg.Str("group", env.GroupKey), logpkg.Err(err))
			writeError(w, http.StatusInternalServerError, "Failed to enqueue update")
		}
		return
	}
	c.logger.WithContext(r.Context()).Debug("update admitted",
		logpkg.Str("id", env.ID),
		logpkg.Str("group", env.GroupKey),
		logpkg.Str("admission", res.String()))
	w.WriteHeader(http.StatusOK)
}
