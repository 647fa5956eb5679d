// Package httpserver is the ingestion gateway and admin API.
//
// POST /update (and /<stage>/update) admits the request body as one
// envelope and answers 200 once the queue has accepted or deduplicated it.
// The group key comes from X-Group-Id, the course_id query parameter, the
// configured CEL expression or the default group, in that order; the
// envelope id from X-Deduplication-Id or the SHA-256 of the body.
//
// Admin routes: /v1/healthz, /v1/stats, /v1/dlq, /v1/dlq/redrive and, with
// metrics enabled, /metrics.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{Config: config.Default()})
//	s, _ := httpserver.New(rt, httpserver.WithLogger(logger))
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
