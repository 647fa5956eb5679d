package queue

import (
	"encoding/binary"
)

// Key prefixes below the queue root cs/{name}/.
const (
	prefixMeta       = "meta"
	prefixMsg        = "msg/"        // envelope records by admission seq
	prefixGroup      = "grp/"        // per-group FIFO index
	prefixReady      = "ready/"      // group heads eligible for lease, by head seq
	prefixDelay      = "delay/"      // group heads held back by backoff
	prefixLease      = "lease/"      // one lease record per leased group
	prefixLeaseIdx   = "lease_idx/"  // lease expiry index
	prefixDedup      = "dedup/"      // id -> admission time and seq
	prefixDedupIdx   = "dedup_idx/"  // admission time index for pruning
	prefixByID       = "byid/"       // id -> admitted seqs
	prefixQuarantine = "quarantine/" // undecodable records
)

// keyspace builds the keys of one named queue.
type keyspace struct {
	root string
}

func newKeyspace(name string) keyspace {
	return keyspace{root: "cs/" + name + "/"}
}

func (k keyspace) prefix(p string) []byte {
	return []byte(k.root + p)
}

func (k keyspace) meta() []byte { return k.prefix(prefixMeta) }

func (k keyspace) msg(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(k.prefix(prefixMsg), seq)
}

// groupPrefix ends with a NUL separator so that group "a" never matches "ab".
func (k keyspace) groupPrefix(group string) []byte {
	b := append(k.prefix(prefixGroup), group...)
	return append(b, 0)
}

func (k keyspace) group(group string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(k.groupPrefix(group), seq)
}

func (k keyspace) ready(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(k.prefix(prefixReady), seq)
}

func (k keyspace) delay(readyAtMs int64, seq uint64) []byte {
	b := binary.BigEndian.AppendUint64(k.prefix(prefixDelay), uint64(readyAtMs))
	return binary.BigEndian.AppendUint64(b, seq)
}

func (k keyspace) lease(group string) []byte {
	return append(k.prefix(prefixLease), group...)
}

func (k keyspace) leaseIdx(expiresMs int64, group string) []byte {
	b := binary.BigEndian.AppendUint64(k.prefix(prefixLeaseIdx), uint64(expiresMs))
	return append(b, group...)
}

func (k keyspace) dedup(id string) []byte {
	return append(k.prefix(prefixDedup), id...)
}

func (k keyspace) dedupIdx(admittedMs int64, id string) []byte {
	b := binary.BigEndian.AppendUint64(k.prefix(prefixDedupIdx), uint64(admittedMs))
	return append(b, id...)
}

func (k keyspace) byIDPrefix(id string) []byte {
	b := append(k.prefix(prefixByID), id...)
	return append(b, 0)
}

func (k keyspace) byID(id string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(k.byIDPrefix(id), seq)
}

func (k keyspace) quarantine(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(k.prefix(prefixQuarantine), seq)
}

// trailingSeq decodes the big-endian seq at the end of key.
func trailingSeq(key []byte) (uint64, bool) {
	if len(key) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(key)-8:]), true
}

// splitTimeKey splits a {be64 ms}{rest} suffix that follows prefix.
func splitTimeKey(key, prefix []byte) (int64, []byte, bool) {
	if len(key) < len(prefix)+8 {
		return 0, nil, false
	}
	ms := int64(binary.BigEndian.Uint64(key[len(prefix) : len(prefix)+8]))
	return ms, key[len(prefix)+8:], true
}
