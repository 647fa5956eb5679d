// Package worker runs the delivery loop: lease envelopes from the queue,
// hand each to a Handler and settle the lease through the retry executor.
//
// Leasing enforces per-group exclusivity, so workers never coordinate with
// each other. A lease whose handler panics is not settled; it is redelivered
// once its visibility timeout elapses and counts as a transient failure.
package worker
