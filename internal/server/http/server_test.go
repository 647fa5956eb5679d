package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	cfgpkg "github.com/hari-yahoo/CourseStatus/internal/config"
	"github.com/hari-yahoo/CourseStatus/internal/envelope"
	"github.com/hari-yahoo/CourseStatus/internal/metrics"
	"github.com/hari-yahoo/CourseStatus/internal/runtime"
	pebblestore "github.com/hari-yahoo/CourseStatus/internal/storage/pebble"
	logpkg "github.com/hari-yahoo/CourseStatus/pkg/log"
)

func newTestServer(t *testing.T, mutate func(*cfgpkg.Config)) (*Server, *runtime.Runtime) {
	t.Helper()
	cfg := cfgpkg.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	rt, err := runtime.Open(runtime.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever, Config: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	logger, err := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text"})
	require.NoError(t, err)
	s, err := New(rt, WithLogger(logger), WithMetrics(metrics.New(prometheus.NewRegistry())))
	require.NoError(t, err)
	return s, rt
}

func do(s *Server, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func leaseAll(t *testing.T, rt *runtime.Runtime) []envelope.Envelope {
	t.Helper()
	ls, err := rt.Queue().Lease(context.Background(), 100, time.Minute)
	require.NoError(t, err)
	out := make([]envelope.Envelope, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.Envelope)
	}
	return out
}

func TestHealthHandler(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := do(s, http.MethodGet, "/v1/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestUpdateAdmitsAndDeduplicates(t *testing.T) {
	s, rt := newTestServer(t, nil)
	body := `{"course_id":"c-1","status":"published"}`

	w := do(s, http.MethodPost, "/update", body, map[string]string{"X-Group-Id": "c-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())

	// same body, same content id: collapses into the first admission
	w = do(s, http.MethodPost, "/update", body, map[string]string{"X-Group-Id": "c-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, rt.Queue().Depth())

	envs := leaseAll(t, rt)
	require.Len(t, envs, 1)
	assert.Equal(t, envelope.ContentID([]byte(body)), envs[0].ID)
	assert.Equal(t, "c-1", envs[0].GroupKey)
	assert.Equal(t, body, string(envs[0].Payload))
}

func TestUpdateStageRouteAndDedupHeader(t *testing.T) {
	s, rt := newTestServer(t, nil)
	w := do(s, http.MethodPost, "/coursestatus-staging/update?course_id=c-9", `{"a":1}`, map[string]string{"X-Deduplication-Id": "42"})
	require.Equal(t, http.StatusOK, w.Code)
	w = do(s, http.MethodPost, "/coursestatus-staging/update?course_id=c-9", `{"a":2}`, map[string]string{"X-Deduplication-Id": "42"})
	require.Equal(t, http.StatusOK, w.Code)

	envs := leaseAll(t, rt)
	require.Len(t, envs, 1)
	assert.Equal(t, "42", envs[0].ID)
	assert.Equal(t, "c-9", envs[0].GroupKey)
	assert.Equal(t, `{"a":1}`, string(envs[0].Payload))
}

func TestUpdateGroupFromExpressionAndDefault(t *testing.T) {
	s, rt := newTestServer(t, func(c *cfgpkg.Config) { c.GroupKeyExpr = `has(body.course_id) ? string(body.course_id) : ""` })

	require.Equal(t, http.StatusOK, do(s, http.MethodPost, "/update", `{"course_id":"c-7","status":"draft"}`, nil).Code)
	require.Equal(t, http.StatusOK, do(s, http.MethodPost, "/update", `{"status":"draft"}`, nil).Code)

	groups := map[string]bool{}
	for _, e := range leaseAll(t, rt) {
		groups[e.GroupKey] = true
	}
	assert.Equal(t, map[string]bool{"c-7": true, "CourseStatusUpdate": true}, groups)
}

func TestUpdateRejectsBadExpression(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.GroupKeyExpr = "body.("
	rt, err := runtime.Open(runtime.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever, Config: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	_, err = New(rt)
	assert.Error(t, err)
}

func TestUpdateErrorStatuses(t *testing.T) {
	s, rt := newTestServer(t, func(c *cfgpkg.Config) { c.MaxBodyBytes = 16 })

	assert.Equal(t, http.StatusMethodNotAllowed, do(s, http.MethodGet, "/update", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/update", "   ", nil).Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge, do(s, http.MethodPost, "/update", strings.Repeat("x", 64), nil).Code)

	require.NoError(t, rt.Queue().Close())
	w := do(s, http.MethodPost, "/update", `{"a":1}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error":"Queue unavailable"}`, w.Body.String())
}

func TestStatsAndDeadLetters(t *testing.T) {
	s, rt := newTestServer(t, nil)
	ctx := context.Background()
	_, err := rt.Enqueue(ctx, envelope.Envelope{ID: "bad", GroupKey: "c-1", Payload: []byte(`nope`)})
	require.NoError(t, err)
	ls, err := rt.Queue().Lease(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, ls, 1)
	_, err = rt.DeadLetters().Append(ctx, ls[0].Envelope, "permanent", "malformed payload")
	require.NoError(t, err)
	require.NoError(t, rt.Queue().AckLease(ctx, ls[0]))

	w := do(s, http.MethodGet, "/v1/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st runtime.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "CourseStatusQueueStaging", st.Queue)
	assert.Equal(t, 1, st.DeadLetters)
	assert.Equal(t, 0, st.Pending.Depth)

	w = do(s, http.MethodGet, "/v1/dlq?limit=10", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list deadLetterListResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "bad", list.Items[0].ID)
	assert.Equal(t, "permanent", list.Items[0].Kind)
	assert.Equal(t, []byte("nope"), list.Items[0].Payload)

	assert.Equal(t, http.StatusMethodNotAllowed, do(s, http.MethodGet, "/v1/dlq/redrive", "", nil).Code)
	w = do(s, http.MethodPost, "/v1/dlq/redrive", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"redriven":1}`, w.Body.String())
	assert.Equal(t, 1, rt.Queue().Depth())
}

type deadLetterListResp struct {
	Items []struct {
		ID      string `json:"id"`
		Kind    string `json:"kind"`
		Payload []byte `json:"payload"`
	} `json:"items"`
}

func TestDeadLetterListKeepsBinaryPayload(t *testing.T) {
	s, rt := newTestServer(t, nil)
	ctx := context.Background()
	raw := []byte{0xff, 0xfe, 0x00, 0x01}
	_, err := rt.Enqueue(ctx, envelope.Envelope{ID: "bin", GroupKey: "c-1", Payload: raw})
	require.NoError(t, err)
	ls, err := rt.Queue().Lease(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, ls, 1)
	_, err = rt.DeadLetters().Append(ctx, ls[0].Envelope, "permanent", "not json")
	require.NoError(t, err)

	w := do(s, http.MethodGet, "/v1/dlq", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"payload":"//4AAQ=="`)
	var list deadLetterListResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, raw, list.Items[0].Payload)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	require.Equal(t, http.StatusOK, do(s, http.MethodPost, "/update", `{"x":1}`, nil).Code)
	w := do(s, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `coursestatus_http_requests_total{method="POST",route="/update",status="2xx"} 1`)
}

func TestRequestIDIsPropagated(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := do(s, http.MethodGet, "/v1/healthz", "", map[string]string{RequestIDHeader: "req-123"})
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
}

func TestListenAndServe(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	require.Eventually(t, func() bool { return s.Addr() != nil }, time.Second, 5*time.Millisecond)
	resp, err := http.Post("http://"+s.Addr().String()+"/update", "application/json", strings.NewReader(`{"k":"v"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	assert.NoError(t, <-done)
}

func TestGatewayRateLimit(t *testing.T) {
	s, _ := newTestServer(t, func(c *cfgpkg.Config) {
		c.RateLimit = cfgpkg.RateLimit{Enabled: true, RPS: 2, Storage: "memory"}
	})
	assert.Equal(t, http.StatusOK, do(s, http.MethodPost, "/update", `{"n":1}`, nil).Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodPost, "/update", `{"n":2}`, nil).Code)
	w := do(s, http.MethodPost, "/update", `{"n":3}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"Rate limit exceeded"}`, w.Body.String())

	// admin routes are not throttled
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/v1/healthz", "", nil).Code)
}

func TestRateLimitFallsBackToMemory(t *testing.T) {
	s, _ := newTestServer(t, func(c *cfgpkg.Config) {
		c.RateLimit = cfgpkg.RateLimit{Enabled: true, RPS: 1, Storage: "redis", RedisURL: "not-a-redis-url"}
	})
	assert.Equal(t, http.StatusOK, do(s, http.MethodPost, "/update", `{"n":1}`, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(s, http.MethodPost, "/update", `{"n":2}`, nil).Code)
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := do(s, http.MethodOptions, "/update", "", map[string]string{
		"Origin":                         "https://lms.example.edu",
		"Access-Control-Request-Method":  http.MethodPost,
		"Access-Control-Request-Headers": "Content-Type, X-Deduplication-Id",
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = do(s, http.MethodGet, "/v1/healthz", "", map[string]string{"Origin": "https://lms.example.edu"})
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestsAreTraced(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	s, _ := newTestServer(t, nil)
	require.Equal(t, http.StatusOK, do(s, http.MethodPost, "/update", `{"n":1}`, nil).Code)
	do(s, http.MethodGet, "/metrics", "", nil)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST /update", spans[0].Name())
}
