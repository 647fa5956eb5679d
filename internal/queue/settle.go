package queue

import (
	"context"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/hari-yahoo/CourseStatus/internal/envelope"
	pebblestore "github.com/hari-yahoo/CourseStatus/internal/storage/pebble"
)

// Acknowledge permanently removes the envelope with id. When several
// admissions share the id, the leased one is removed first, otherwise the
// oldest. Acknowledging an unknown id is a no-op.
func (q *Queue) Acknowledge(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidEnvelope
	}
	if q.closed.Load() {
		return ErrUnavailable
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if group, ok := q.leasedIDs[id]; ok {
		return q.removeLocked(ctx, q.tokens[group].Seq)
	}
	var seqs []uint64
	err := q.db.ScanPrefix(q.keys.byIDPrefix(id), func(k, _ []byte) bool {
		if seq, ok := trailingSeq(k); ok {
			seqs = append(seqs, seq)
		}
		return true
	})
	if err != nil {
		return q.storeErr(err)
	}
	for _, seq := range seqs {
		err := q.removeLocked(ctx, seq)
		if errors.Is(err, pebblestore.ErrNotFound) {
			continue
		}
		return err
	}
	return nil
}

// Release ends the lease on id early. With requeue the envelope becomes
// eligible again at the head of its group; without it the envelope is dropped.
func (q *Queue) Release(ctx context.Context, id string, requeue bool) error {
	if !requeue {
		return q.releaseByID(ctx, id, -1)
	}
	return q.releaseByID(ctx, id, 0)
}

// ReleaseAfter requeues id like Release but keeps its group blocked for delay.
func (q *Queue) ReleaseAfter(ctx context.Context, id string, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	return q.releaseByID(ctx, id, delay)
}

// releaseByID requeues after delay, or drops when delay is negative.
func (q *Queue) releaseByID(ctx context.Context, id string, delay time.Duration) error {
	if q.closed.Load() {
		return ErrUnavailable
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	group, ok := q.leasedIDs[id]
	if !ok {
		return ErrNotLeased
	}
	tok := q.tokens[group]
	if delay < 0 {
		return q.removeLocked(ctx, tok.Seq)
	}
	return q.requeueLocked(ctx, group, tok, delay, "")
}

// AckLease removes the envelope held by l. It fails with ErrNotLeased when l
// no longer holds its group's lease.
func (q *Queue) AckLease(ctx context.Context, l Lease) error {
	if q.closed.Load() {
		return ErrUnavailable
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	tok := q.tokens[l.Envelope.GroupKey]
	if tok == nil || tok.Receipt != l.Receipt {
		return ErrNotLeased
	}
	return q.removeLocked(ctx, tok.Seq)
}

// ReleaseLease returns the envelope held by l to the head of its group,
// eligible after delay, recording lastErr on the envelope.
func (q *Queue) ReleaseLease(ctx context.Context, l Lease, delay time.Duration, lastErr string) error {
	if q.closed.Load() {
		return ErrUnavailable
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	group := l.Envelope.GroupKey
	tok := q.tokens[group]
	if tok == nil || tok.Receipt != l.Receipt {
		return ErrNotLeased
	}
	return q.requeueLocked(ctx, group, tok, delay, lastErr)
}

// removeLocked deletes seq and every index entry pointing at it, then makes
// the next envelope of the group eligible when seq was the group head.
func (q *Queue) removeLocked(ctx context.Context, seq uint64) error {
	env, err := q.loadEnvelope(seq)
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return err
		}
		return q.storeErr(err)
	}
	group := env.GroupKey
	head, _, err := q.groupHead(group)
	if err != nil {
		return q.storeErr(err)
	}

	b := q.db.NewBatch()
	defer b.Close()
	_ = b.Delete(q.keys.msg(seq), nil)
	_ = b.Delete(q.keys.group(group, seq), nil)
	_ = b.Delete(q.keys.byID(env.ID, seq), nil)

	tok := q.tokens[group]
	leased := tok != nil && tok.Seq == seq
	if leased {
		_ = b.Delete(q.keys.lease(group), nil)
		_ = b.Delete(q.keys.leaseIdx(tok.ExpiresAtMs, group), nil)
	} else if head == seq {
		_ = b.Delete(q.keys.ready(seq), nil)
		if !env.NotBefore.IsZero() {
			_ = b.Delete(q.keys.delay(env.NotBefore.UnixMilli(), seq), nil)
		}
	}
	if head == seq {
		if err := q.scheduleNextLocked(b, group, seq); err != nil {
			return err
		}
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return q.storeErr(err)
	}

	if leased {
		delete(q.tokens, group)
		delete(q.leasedIDs, tok.ID)
	}
	q.depth--
	q.signal()
	return nil
}

// scheduleNextLocked marks the envelope following removed as the ready head
// of group. Only heads are ever delayed, so the successor is ready at once.
func (q *Queue) scheduleNextLocked(b *pebble.Batch, group string, removed uint64) error {
	next, ok, err := q.nextHead(group, removed)
	if err != nil {
		return q.storeErr(err)
	}
	if ok {
		_ = b.Set(q.keys.ready(next), []byte(group), nil)
	}
	return nil
}

// requeueLocked ends group's lease and puts its head back into the ready or
// delay index.
func (q *Queue) requeueLocked(ctx context.Context, group string, tok *groupToken, delay time.Duration, lastErr string) error {
	env, err := q.loadEnvelope(tok.Seq)
	if err != nil {
		return q.storeErr(err)
	}
	if lastErr != "" {
		env.LastError = lastErr
	}
	env.NotBefore = time.Time{}
	if delay > 0 {
		env.NotBefore = time.UnixMilli(q.now().Add(delay).UnixMilli())
	}
	raw, err := envelope.Encode(env)
	if err != nil {
		return err
	}

	b := q.db.NewBatch()
	defer b.Close()
	_ = b.Set(q.keys.msg(tok.Seq), raw, nil)
	_ = b.Delete(q.keys.lease(group), nil)
	_ = b.Delete(q.keys.leaseIdx(tok.ExpiresAtMs, group), nil)
	if delay > 0 {
		_ = b.Set(q.keys.delay(env.NotBefore.UnixMilli(), tok.Seq), []byte(group), nil)
	} else {
		_ = b.Set(q.keys.ready(tok.Seq), []byte(group), nil)
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return q.storeErr(err)
	}
	delete(q.tokens, group)
	delete(q.leasedIDs, tok.ID)
	q.signal()
	return nil
}
