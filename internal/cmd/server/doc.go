// Package serverrun exposes the Run entrypoint used by the CLI to start an
// ingestion node: runtime, HTTP gateway, gRPC health and worker pool,
// handling lifecycle and shutdown.
//
// Example:
//
//	cfg, _ := config.Resolve("coursestatus.yaml")
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg})
package serverrun
