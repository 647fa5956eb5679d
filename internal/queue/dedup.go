package queue

import (
	"context"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/hari-yahoo/CourseStatus/internal/storage/pebble"
)

// isDuplicate reports whether id was admitted less than dedupWindow ago.
func (q *Queue) isDuplicate(id string, now time.Time) (bool, error) {
	if q.dedupWindow <= 0 {
		return false, nil
	}
	raw, err := q.db.Get(q.keys.dedup(id))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	rec, ok := decodeDedupRecord(raw)
	if !ok {
		return false, nil
	}
	return now.UnixMilli()-rec.admittedMs < q.dedupWindow.Milliseconds(), nil
}

func (q *Queue) putDedup(b *pebble.Batch, id string, rec dedupRecord) {
	if q.dedupWindow <= 0 {
		return
	}
	_ = b.Set(q.keys.dedup(id), rec.encode(), nil)
	_ = b.Set(q.keys.dedupIdx(rec.admittedMs, id), nil, nil)
}

// PruneDedup forgets ids admitted before the dedup window, up to max entries
// per call (0 means no limit).
func (q *Queue) PruneDedup(ctx context.Context, max int) (int, error) {
	if q.dedupWindow <= 0 {
		return 0, nil
	}
	if q.closed.Load() {
		return 0, ErrUnavailable
	}
	cutoff := q.now().Add(-q.dedupWindow).UnixMilli()
	prefix := q.keys.prefix(prefixDedupIdx)

	q.mu.Lock()
	defer q.mu.Unlock()

	it, err := q.db.NewPrefixIter(prefix)
	if err != nil {
		return 0, q.storeErr(err)
	}
	defer it.Close()

	b := q.db.NewBatch()
	defer b.Close()
	pruned := 0
	for ok := it.First(); ok; ok = it.Next() {
		ms, rest, parsed := splitTimeKey(it.Key(), prefix)
		if !parsed {
			continue
		}
		if ms > cutoff {
			break
		}
		id := string(rest)
		_ = b.Delete(it.Key(), nil)
		// the id may have been re-admitted later; only the newest record counts
		if raw, err := q.db.Get(q.keys.dedup(id)); err == nil {
			if rec, valid := decodeDedupRecord(raw); valid && rec.admittedMs == ms {
				_ = b.Delete(q.keys.dedup(id), nil)
			}
		}
		pruned++
		if max > 0 && pruned >= max {
			break
		}
	}
	if err := it.Error(); err != nil {
		return 0, q.storeErr(err)
	}
	if pruned == 0 {
		return 0, nil
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return 0, q.storeErr(err)
	}
	return pruned, nil
}
