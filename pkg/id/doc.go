// Package id provides a 128-bit, lexicographically sortable identifier used
// to key dead-letter entries in escalation order.
//
// The ID is 16 bytes big-endian: [8 bytes ms_timestamp][8 bytes sequence].
// Byte-wise comparison preserves chronological order and IDs generated within
// the same millisecond stay strictly increasing by sequence. A regressing
// clock pins to the last seen millisecond.
package id
