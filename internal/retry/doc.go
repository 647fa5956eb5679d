// Package retry holds the retry and escalation policy.
//
// Policy is a pure decision function over an envelope's receive count and a
// delivery outcome. Executor carries out the decision: acknowledge, requeue
// (optionally behind a backoff delay) or escalate to the dead-letter channel.
// Executor also implements queue.ExpiryHandler so that an expired lease is
// counted exactly like a transient failure.
//
// Per envelope the states are Pending -> Leased -> Acknowledged | Leased
// (retry) | Escalated, with Acknowledged and Escalated terminal.
package retry
