package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/hari-yahoo/CourseStatus/internal/config"
	"github.com/hari-yahoo/CourseStatus/internal/envelope"
	"github.com/hari-yahoo/CourseStatus/internal/metrics"
	"github.com/hari-yahoo/CourseStatus/internal/queue"
	pebblestore "github.com/hari-yahoo/CourseStatus/internal/storage/pebble"
	"github.com/hari-yahoo/CourseStatus/internal/worker"
)

func openTestRuntime(t *testing.T, mutate func(*cfgpkg.Config)) *Runtime {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.PollInterval = cfgpkg.Duration(10 * time.Millisecond)
	if mutate != nil {
		mutate(&cfg)
	}
	rt, err := Open(Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeNever,
		Config:  cfg,
		Metrics: metrics.New(prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestOpenCloseHealth(t *testing.T) {
	rt := openTestRuntime(t, nil)
	require.NoError(t, rt.CheckHealth(context.Background()))
	assert.Equal(t, "CourseStatusQueueStaging", rt.Queue().Name())
	assert.Equal(t, "CourseStatusDLQStaging", rt.DeadLetters().Name())

	require.NoError(t, rt.Close())
	assert.Error(t, rt.CheckHealth(context.Background()))
	_, err := rt.Enqueue(context.Background(), envelope.Envelope{ID: "1", GroupKey: "g"})
	assert.ErrorIs(t, err, queue.ErrUnavailable)
}

func TestOpenRejectsBadNaming(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.Naming.Prefix = ""
	_, err := Open(Options{DataDir: t.TempDir(), Config: cfg})
	assert.ErrorIs(t, err, cfgpkg.ErrInvalid)
}

func TestEnqueueAndStats(t *testing.T) {
	rt := openTestRuntime(t, nil)
	ctx := context.Background()

	res, err := rt.Enqueue(ctx, envelope.Envelope{ID: "1", GroupKey: "course-1", Payload: []byte("a")})
	require.NoError(t, err)
	assert.Equal(t, queue.Accepted, res)
	res, err = rt.Enqueue(ctx, envelope.Envelope{ID: "1", GroupKey: "course-1", Payload: []byte("a")})
	require.NoError(t, err)
	assert.Equal(t, queue.Deduplicated, res)

	st, err := rt.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Pending.Depth)
	assert.Equal(t, 0, st.DeadLetters)
	assert.Equal(t, 3, st.RetryLimit)
	assert.Equal(t, 30.0, st.VisibilitySecs)
}

func TestPoolDeadLettersAndRedrive(t *testing.T) {
	rt := openTestRuntime(t, func(c *cfgpkg.Config) { c.RetryLimit = 2 })
	ctx := context.Background()
	_, err := rt.Enqueue(ctx, envelope.Envelope{ID: "m1", GroupKey: "course-1", Payload: []byte(`{}`)})
	require.NoError(t, err)

	var healthy atomic.Bool
	var delivered atomic.Int32
	pool := rt.NewPool(worker.HandlerFunc(func(context.Context, worker.Delivery) error {
		if !healthy.Load() {
			return errors.New("downstream unavailable")
		}
		delivered.Add(1)
		return nil
	}))
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- pool.Run(runCtx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		st, err := rt.Stats()
		return err == nil && st.DeadLetters == 1 && st.Pending.Depth == 0
	}, 5*time.Second, 10*time.Millisecond)

	healthy.Store(true)
	n, err := rt.Redrive(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Eventually(t, func() bool { return delivered.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	st, err := rt.Stats()
	require.NoError(t, err)
	assert.Zero(t, st.DeadLetters)
}

func TestStartRunsSweeper(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	var clock atomic.Int64
	clock.Store(now.UnixMilli())
	cfg := cfgpkg.Default()
	cfg.SweepInterval = cfgpkg.Duration(10 * time.Millisecond)
	rt, err := Open(Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeNever,
		Config:  cfg,
		Now:     func() time.Time { return time.UnixMilli(clock.Load()) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	rt.Start()

	ctx := context.Background()
	_, err = rt.Enqueue(ctx, envelope.Envelope{ID: "m1", GroupKey: "course-1"})
	require.NoError(t, err)
	ls, err := rt.Queue().Lease(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, ls, 1)

	clock.Add((2 * time.Second).Milliseconds())
	require.Eventually(t, func() bool {
		st, err := rt.Queue().Stats()
		return err == nil && st.Leased == 0 && st.Ready == 1
	}, 2*time.Second, 10*time.Millisecond)
}
