// Package deadletter stores envelopes that exhausted their retry budget or
// were rejected as unprocessable. The system only appends; listing, removal
// and redrive exist for operators.
package deadletter
