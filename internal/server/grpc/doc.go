// Package grpcserver exposes the standard gRPC health service for the
// ingestion node. Both the overall service ("") and coursestatus.Queue
// report SERVING while the runtime store is readable.
//
// Example:
//
//	s := grpcserver.New(rt, grpcserver.WithLogger(logger))
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":9090")
package grpcserver
