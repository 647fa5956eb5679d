package grpcserver

import (
	"context"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/hari-yahoo/CourseStatus/internal/runtime"
	logpkg "github.com/hari-yahoo/CourseStatus/pkg/log"
)

// QueueService is the health service name reported for the main queue.
const QueueService = "coursestatus.Queue"

// healthReporter mirrors runtime health into the standard health service.
type healthReporter struct {
	rt       *runtime.Runtime
	hs       *health.Server
	interval time.Duration
	logger   logpkg.Logger
	last     healthpb.HealthCheckResponse_ServingStatus
}

func newHealthReporter(rt *runtime.Runtime, interval time.Duration, logger logpkg.Logger) *healthReporter {
	h := &healthReporter{rt: rt, hs: health.NewServer(), interval: interval, logger: logger}
	h.update(context.Background())
	return h
}

func (h *healthReporter) update(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if err := h.rt.CheckHealth(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	if status != h.last && h.last != healthpb.HealthCheckResponse_UNKNOWN {
		h.logger.Warn("health changed", logpkg.Str("status", status.String()))
	}
	h.last = status
	h.hs.SetServingStatus("", status)
	h.hs.SetServingStatus(QueueService, status)
}

// run refreshes the status every interval until ctx is done.
func (h *healthReporter) run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.update(ctx)
		}
	}
}
