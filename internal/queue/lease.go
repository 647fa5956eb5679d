package queue

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/hari-yahoo/CourseStatus/internal/envelope"
)

// Lease is a time-bounded claim on one envelope. Its Receipt identifies this
// particular delivery; settling with a stale receipt fails with ErrNotLeased.
type Lease struct {
	Envelope  envelope.Envelope
	Receipt   string
	ExpiresAt time.Time
}

// leaseRecord is the persisted per-group exclusion token.
type leaseRecord struct {
	Seq         uint64 `json:"seq"`
	ID          string `json:"id"`
	Receipt     string `json:"receipt"`
	LeasedAtMs  int64  `json:"leased_at_ms"`
	ExpiresAtMs int64  `json:"expires_at_ms"`
}

func (r leaseRecord) encode() []byte {
	b, _ := json.Marshal(r)
	return b
}

func decodeLeaseRecord(b []byte) (leaseRecord, error) {
	var r leaseRecord
	err := json.Unmarshal(b, &r)
	return r, err
}

// groupToken is the in-memory mirror of a group's lease record.
type groupToken struct {
	leaseRecord
	// reclaiming is set while an expired lease is being settled.
	reclaiming bool
}

// dedupRecord is stored under dedup/{id}: admittedMs(8B) | seq(8B).
type dedupRecord struct {
	admittedMs int64
	seq        uint64
}

func (d dedupRecord) encode() []byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], uint64(d.admittedMs))
	binary.BigEndian.PutUint64(b[8:16], d.seq)
	return b[:]
}

func decodeDedupRecord(b []byte) (dedupRecord, bool) {
	if len(b) < 16 {
		return dedupRecord{}, false
	}
	return dedupRecord{
		admittedMs: int64(binary.BigEndian.Uint64(b[0:8])),
		seq:        binary.BigEndian.Uint64(b[8:16]),
	}, true
}
