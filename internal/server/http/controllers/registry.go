package controllers

import (
	"net/http"

	"github.com/hari-yahoo/CourseStatus/internal/runtime"
	logpkg "github.com/hari-yahoo/CourseStatus/pkg/log"
)

// ControllerRegistry manages all HTTP controllers.
//
// It provides a centralized way to register all controller routes
// and manages the lifecycle of individual controllers.
type ControllerRegistry struct {
	general     *GeneralController
	gateway     *GatewayController
	deadLetters *DeadLettersController
	limiter     *RateLimiter
}

// NewControllerRegistry creates a new controller registry. It fails when the
// configured group key expression does not compile.
func NewControllerRegistry(rt *runtime.Runtime, logger logpkg.Logger) (*ControllerRegistry, error) {
	cfg := rt.Config()
	resolver, err := NewGroupResolver(cfg.GroupKeyExpr, cfg.DefaultGroup)
	if err != nil {
		return nil, err
	}
	limiter := NewRateLimiter(cfg.RateLimit, logger)
	return &ControllerRegistry{
		general:     NewGeneralController(rt),
		gateway:     NewGatewayController(rt, resolver, limiter, logger),
		deadLetters: NewDeadLettersController(rt, logger),
		limiter:     limiter,
	}, nil
}

// Close releases resources held by the controllers.
func (r *ControllerRegistry) Close() error {
	return r.limiter.Close()
}

// RegisterAllRoutes registers all controller routes with the given mux.
//
// This sets up the ingestion endpoints (/update and /<stage>/update) and the
// admin endpoints (health, stats, dead letters).
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.gateway.RegisterRoutes(mux)
	r.deadLetters.RegisterRoutes(mux)
}
