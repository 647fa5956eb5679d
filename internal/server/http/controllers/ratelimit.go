package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	cfgpkg "github.com/hari-yahoo/CourseStatus/internal/config"
	logpkg "github.com/hari-yahoo/CourseStatus/pkg/log"
)

const rateLimitPrefix = "coursestatus_ratelimit"

// RateLimiter throttles the ingestion routes. Every caller shares one
// bucket, so RPS is a ceiling for the whole node (or the whole fleet with
// redis storage).
type RateLimiter struct {
	mw    *stdlib.Middleware
	redis *redis.Client
}

// NewRateLimiter builds a limiter from cfg. A disabled limiter passes
// requests through. When the redis store cannot be set up it falls back to
// an in-memory store.
func NewRateLimiter(cfg cfgpkg.RateLimit, logger logpkg.Logger) *RateLimiter {
	if !cfg.Enabled || cfg.RPS < 1 {
		return &RateLimiter{}
	}
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	opts := limiter.StoreOptions{Prefix: rateLimitPrefix, CleanUpInterval: time.Minute}
	rl := &RateLimiter{}
	var store limiter.Store
	if cfg.Storage == "redis" {
		s, client, err := redisStore(cfg.RedisURL, opts)
		if err != nil {
			logger.Warn("redis rate limit store unavailable, using memory", logpkg.Err(err))
		} else {
			store, rl.redis = s, client
		}
	}
	if store == nil {
		store = memory.NewStoreWithOptions(opts)
	}

	rate := limiter.Rate{Period: time.Second, Limit: int64(cfg.RPS)}
	rl.mw = stdlib.NewMiddleware(limiter.New(store, rate),
		stdlib.WithKeyGetter(func(*http.Request) string { return "gateway" }),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			logger.WithContext(r.Context()).Error("rate limiter failed", logpkg.Err(err))
			writeError(w, http.StatusServiceUnavailable, "Rate limiter unavailable")
		}),
	)
	logger.Info("gateway rate limit enabled",
		logpkg.Int("rps", cfg.RPS),
		logpkg.Bool("shared", rl.redis != nil))
	return rl
}

func redisStore(url string, opts limiter.StoreOptions) (limiter.Store, *redis.Client, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(ropts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	store, err := sredis.NewStoreWithOptions(client, opts)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return store, client, nil
}

// Wrap returns next guarded by the limiter.
func (l *RateLimiter) Wrap(next http.Handler) http.Handler {
	if l == nil || l.mw == nil {
		return next
	}
	return l.mw.Handler(next)
}

// Enabled reports whether requests are throttled.
func (l *RateLimiter) Enabled() bool { return l != nil && l.mw != nil }

// Close releases the redis client, if any.
func (l *RateLimiter) Close() error {
	if l == nil || l.redis == nil {
		return nil
	}
	return l.redis.Close()
}
