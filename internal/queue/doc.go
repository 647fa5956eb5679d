// Package queue implements the durable ordered queue that sits between the
// ingestion gateway and the worker pool.
//
// Envelopes are partitioned by group key. Within a group they are delivered
// strictly in admission order and at most one envelope per group is leased at
// a time; unrelated groups proceed in parallel. Admissions are deduplicated by
// envelope id within a configurable window.
//
// # Keyspace
//
// All keys are prefixed with cs/{name}/:
//
//	meta                             - last admission seq
//	msg/{seq}                        - envelope record
//	grp/{group}\x00{seq}             - per-group FIFO index
//	ready/{seq} -> group             - group heads eligible for lease
//	delay/{ready_at_ms}/{seq}        - group heads held back by backoff
//	lease/{group}                    - the group's lease record (exclusion token)
//	lease_idx/{expires_ms}{group}    - lease expiry index
//	dedup/{id}                       - admission time and seq of the newest id
//	dedup_idx/{admitted_ms}{id}      - dedup pruning index
//	byid/{id}\x00{seq}               - admissions per id
//	quarantine/{seq}                 - records that failed to decode
//
// Every group with stored envelopes is in exactly one of three states: its
// head is in ready/, its head is in delay/, or the group holds a lease.
//
// # Lifecycle
//
//  1. Enqueue: record written, group index updated, head marked ready when
//     the group was empty.
//  2. Lease: ready heads are claimed in admission order, receive_count is
//     incremented and a lease record with a fresh receipt is written.
//  3. Settle: AckLease/Acknowledge delete the envelope and promote the next
//     envelope of the group; ReleaseLease/Release put the head back, optionally
//     behind a delay.
//  4. Expiry: leases past their visibility timeout are handed to the
//     ExpiryHandler, which decides between requeue and escalation.
package queue
