package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hari-yahoo/CourseStatus/internal/envelope"
	logpkg "github.com/hari-yahoo/CourseStatus/pkg/log"
)

// Lease claims up to max envelopes for visibility. Only the head of each
// group is eligible and a group with an outstanding lease is skipped, so the
// result never holds two envelopes of one group. Heads are returned in
// admission order. Each leased envelope has its ReceiveCount incremented.
//
// Expired leases are settled through the ExpiryHandler before new leases are
// granted.
func (q *Queue) Lease(ctx context.Context, max int, visibility time.Duration) ([]Lease, error) {
	if max <= 0 {
		max = 1
	}
	if visibility <= 0 {
		return nil, fmt.Errorf("queue: visibility timeout must be positive, got %s", visibility)
	}
	if q.closed.Load() {
		return nil, ErrUnavailable
	}
	if _, err := q.ReclaimExpired(ctx); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if _, err := q.promoteDueLocked(ctx, now); err != nil {
		return nil, err
	}

	type candidate struct {
		seq   uint64
		group string
	}
	var candidates []candidate
	err := q.db.ScanPrefix(q.keys.prefix(prefixReady), func(k, v []byte) bool {
		seq, ok := trailingSeq(k)
		if !ok {
			return true
		}
		group := string(v)
		if _, leased := q.tokens[group]; leased {
			return true
		}
		candidates = append(candidates, candidate{seq: seq, group: group})
		// over-collect a little: some heads may share an id with a leased envelope
		return len(candidates) < max*2+8
	})
	if err != nil {
		return nil, q.storeErr(err)
	}

	b := q.db.NewBatch()
	defer b.Close()
	leases := make([]Lease, 0, max)
	records := make(map[string]leaseRecord, max)
	pickedIDs := make(map[string]struct{}, max)
	expires := now.Add(visibility)
	for _, c := range candidates {
		if len(leases) >= max {
			break
		}
		env, err := q.loadEnvelope(c.seq)
		if err != nil {
			if errors.Is(err, envelope.ErrCorrupt) {
				q.quarantineLocked(ctx, c.seq, c.group, err)
				continue
			}
			return nil, q.storeErr(err)
		}
		if _, busy := q.leasedIDs[env.ID]; busy {
			continue
		}
		if _, busy := pickedIDs[env.ID]; busy {
			continue
		}
		env.ReceiveCount++
		env.NotBefore = time.Time{}
		raw, err := envelope.Encode(env)
		if err != nil {
			return nil, err
		}
		rec := leaseRecord{
			Seq:         c.seq,
			ID:          env.ID,
			Receipt:     uuid.NewString(),
			LeasedAtMs:  now.UnixMilli(),
			ExpiresAtMs: expires.UnixMilli(),
		}
		_ = b.Set(q.keys.msg(c.seq), raw, nil)
		_ = b.Delete(q.keys.ready(c.seq), nil)
		_ = b.Set(q.keys.lease(c.group), rec.encode(), nil)
		_ = b.Set(q.keys.leaseIdx(rec.ExpiresAtMs, c.group), nil, nil)
		records[c.group] = rec
		pickedIDs[env.ID] = struct{}{}
		leases = append(leases, Lease{Envelope: env, Receipt: rec.Receipt, ExpiresAt: time.UnixMilli(rec.ExpiresAtMs)})
	}
	if len(leases) == 0 {
		return nil, nil
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return nil, q.storeErr(err)
	}
	for group, rec := range records {
		q.tokens[group] = &groupToken{leaseRecord: rec}
		q.leasedIDs[rec.ID] = group
	}
	return leases, nil
}

// ReclaimExpired settles every lease whose visibility timeout has elapsed and
// returns how many were settled. The handler runs without the queue lock; the
// group stays exclusive until the handler ends the lease.
func (q *Queue) ReclaimExpired(ctx context.Context) (int, error) {
	if q.closed.Load() {
		return 0, ErrUnavailable
	}
	expired, handler, err := q.collectExpired(q.now())
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, l := range expired {
		q.logger.Debug("lease expired",
			logpkg.Str("id", l.Envelope.ID),
			logpkg.Str("group", l.Envelope.GroupKey),
			logpkg.Int("receive_count", l.Envelope.ReceiveCount))
		var herr error
		if handler != nil {
			herr = handler.LeaseExpired(ctx, l)
		} else {
			herr = q.ReleaseLease(ctx, l, 0, "lease expired")
		}
		switch {
		case herr == nil, errors.Is(herr, ErrNotLeased):
			settled++
		default:
			q.clearReclaiming(l)
			q.logger.Warn("failed to settle expired lease",
				logpkg.Str("id", l.Envelope.ID),
				logpkg.Str("group", l.Envelope.GroupKey),
				logpkg.Err(herr))
			if errors.Is(herr, ErrUnavailable) || ctx.Err() != nil {
				return settled, herr
			}
		}
	}
	return settled, nil
}

func (q *Queue) collectExpired(now time.Time) ([]Lease, ExpiryHandler, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	prefix := q.keys.prefix(prefixLeaseIdx)
	nowMs := now.UnixMilli()
	var groups []string
	err := q.db.ScanPrefix(prefix, func(k, _ []byte) bool {
		ms, rest, ok := splitTimeKey(k, prefix)
		if !ok {
			return true
		}
		if ms > nowMs {
			return false
		}
		groups = append(groups, string(rest))
		return true
	})
	if err != nil {
		return nil, nil, q.storeErr(err)
	}

	var out []Lease
	for _, group := range groups {
		tok := q.tokens[group]
		if tok == nil || tok.reclaiming || tok.ExpiresAtMs > nowMs {
			continue
		}
		env, err := q.loadEnvelope(tok.Seq)
		if err != nil {
			q.logger.Warn("cannot load expired envelope", logpkg.Uint64("seq", tok.Seq), logpkg.Err(err))
			continue
		}
		tok.reclaiming = true
		out = append(out, Lease{Envelope: env, Receipt: tok.Receipt, ExpiresAt: time.UnixMilli(tok.ExpiresAtMs)})
	}
	return out, q.expiry, nil
}

func (q *Queue) clearReclaiming(l Lease) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if tok := q.tokens[l.Envelope.GroupKey]; tok != nil && tok.Receipt == l.Receipt {
		tok.reclaiming = false
	}
}

// promoteDueLocked moves delayed group heads whose backoff has elapsed into
// the ready index.
func (q *Queue) promoteDueLocked(ctx context.Context, now time.Time) (int, error) {
	prefix := q.keys.prefix(prefixDelay)
	nowMs := now.UnixMilli()
	b := q.db.NewBatch()
	defer b.Close()
	promoted := 0
	err := q.db.ScanPrefix(prefix, func(k, v []byte) bool {
		ms, rest, ok := splitTimeKey(k, prefix)
		if !ok {
			return true
		}
		if ms > nowMs {
			return false
		}
		seq, ok := trailingSeq(rest)
		if !ok {
			return true
		}
		_ = b.Delete(k, nil)
		_ = b.Set(q.keys.ready(seq), v, nil)
		promoted++
		return true
	})
	if err != nil {
		return 0, q.storeErr(err)
	}
	if promoted == 0 {
		return 0, nil
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return 0, q.storeErr(err)
	}
	return promoted, nil
}

// quarantineLocked moves an undecodable record out of the way so that it
// cannot block its group, then advances the group.
func (q *Queue) quarantineLocked(ctx context.Context, seq uint64, group string, cause error) {
	q.logger.Error("quarantining corrupt envelope record",
		logpkg.Uint64("seq", seq), logpkg.Str("group", group), logpkg.Err(cause))
	raw, err := q.db.Get(q.keys.msg(seq))
	if err != nil {
		return
	}
	b := q.db.NewBatch()
	defer b.Close()
	_ = b.Set(q.keys.quarantine(seq), raw, nil)
	_ = b.Delete(q.keys.msg(seq), nil)
	_ = b.Delete(q.keys.group(group, seq), nil)
	_ = b.Delete(q.keys.ready(seq), nil)
	if next, ok, err := q.nextHead(group, seq); err == nil && ok {
		_ = b.Set(q.keys.ready(next), []byte(group), nil)
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		q.logger.Error("quarantine failed", logpkg.Uint64("seq", seq), logpkg.Err(err))
		return
	}
	q.depth--
}

// nextHead returns the oldest seq of group other than skip.
func (q *Queue) nextHead(group string, skip uint64) (uint64, bool, error) {
	var (
		next  uint64
		found bool
	)
	err := q.db.ScanPrefix(q.keys.groupPrefix(group), func(k, _ []byte) bool {
		seq, ok := trailingSeq(k)
		if !ok || seq == skip {
			return true
		}
		next, found = seq, true
		return false
	})
	return next, found, err
}
