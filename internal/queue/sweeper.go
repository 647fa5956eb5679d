package queue

import (
	"context"
	"math/rand"
	"time"

	logpkg "github.com/hari-yahoo/CourseStatus/pkg/log"
)

// StartSweeper runs a background loop that settles expired leases, promotes
// due delayed heads and prunes the dedup index every interval (plus jitter).
// Calling it twice is a no-op.
func (q *Queue) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	q.sweepMu.Lock()
	defer q.sweepMu.Unlock()
	if q.sweepStop != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	q.sweepStop, q.sweepDone = stop, done

	go func() {
		defer close(done)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-stop
			cancel()
		}()
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		for {
			select {
			case <-stop:
				return
			case <-time.After(interval + time.Duration(rng.Int63n(int64(interval/10+1)))):
				q.sweepOnce(ctx)
			}
		}
	}()
}

// StopSweeper stops the background loop and waits for it to exit.
func (q *Queue) StopSweeper() {
	q.sweepMu.Lock()
	stop, done := q.sweepStop, q.sweepDone
	q.sweepStop, q.sweepDone = nil, nil
	q.sweepMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (q *Queue) sweepOnce(ctx context.Context) {
	if q.closed.Load() {
		return
	}
	if n, err := q.ReclaimExpired(ctx); err != nil {
		q.logger.Warn("sweep: reclaim expired leases", logpkg.Err(err))
	} else if n > 0 {
		q.logger.Debug("sweep: reclaimed expired leases", logpkg.Int("count", n))
	}

	q.mu.Lock()
	promoted, err := q.promoteDueLocked(ctx, q.now())
	q.mu.Unlock()
	if err != nil {
		q.logger.Warn("sweep: promote delayed envelopes", logpkg.Err(err))
	} else if promoted > 0 {
		q.signal()
	}

	if _, err := q.PruneDedup(ctx, 4096); err != nil {
		q.logger.Warn("sweep: prune dedup index", logpkg.Err(err))
	}
}
