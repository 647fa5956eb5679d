// Package runtime wires storage, config and the ingestion components into a
// single-node instance. It owns the Pebble database, the main queue, the
// dead-letter channel and the retry executor that ties them together.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Config: cfg})
//	defer rt.Close()
//	rt.Start()
//	_, _ = rt.Enqueue(ctx, envelope.Envelope{ID: "42", GroupKey: "course-1", Payload: body})
//	pool := rt.NewPool(handler)
//	_ = pool.Run(ctx)
package runtime
