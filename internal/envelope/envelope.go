package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Envelope is the unit of work flowing from the gateway through the queue to
// the worker pool.
type Envelope struct {
	// ID deduplicates admissions within the queue's dedup window.
	ID string `json:"id"`
	// GroupKey is the ordering partition, typically a course id.
	GroupKey string `json:"group_key"`
	Payload  []byte `json:"-"`
	// EnqueueTime is set by the queue on admission.
	EnqueueTime time.Time `json:"enqueue_time"`
	// FirstEnqueueTime is the original admission time. A redrive keeps it.
	FirstEnqueueTime time.Time `json:"first_enqueue_time,omitempty"`
	// ReceiveCount is the number of delivery attempts so far.
	ReceiveCount int `json:"receive_count"`
	// Seq is the admission sequence assigned by the queue. It is unique even
	// when the same ID is admitted again after the dedup window.
	Seq uint64 `json:"seq"`
	// NotBefore holds back a requeued envelope (and its group) until then.
	NotBefore time.Time `json:"not_before,omitempty"`
	// LastError is the diagnostic message of the latest failed attempt.
	LastError string `json:"last_error,omitempty"`
}

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("envelope: invalid")

// Validate checks the fields required for admission.
func (e Envelope) Validate() error {
	switch {
	case e.ID == "":
		return errors.Join(ErrInvalid, errors.New("id is required"))
	case e.GroupKey == "":
		return errors.Join(ErrInvalid, errors.New("group key is required"))
	case containsNUL(e.ID), containsNUL(e.GroupKey):
		return errors.Join(ErrInvalid, errors.New("id and group key must not contain NUL"))
	}
	return nil
}

// ContentID returns the hex SHA-256 of payload, used as the dedup id when the
// caller supplies none.
func ContentID(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func containsNUL(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return true
		}
	}
	return false
}
