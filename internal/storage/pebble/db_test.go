package pebblestore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMetrics struct {
	mu           sync.Mutex
	read         int
	batchCommits int
	batchOps     int
}

func (m *testMetrics) ObserveRead(_ time.Duration, bytes int) {
	m.mu.Lock()
	m.read += bytes
	m.mu.Unlock()
}

func (m *testMetrics) ObserveBatchCommit(_ time.Duration, numOps int, _ int) {
	m.mu.Lock()
	m.batchCommits++
	m.batchOps += numOps
	m.mu.Unlock()
}

func newTestDB(t *testing.T) (*DB, *testMetrics) {
	t.Helper()
	metrics := &testMetrics{}
	db, err := Open(Options{
		DataDir:       t.TempDir(),
		Fsync:         FsyncModeInterval,
		FsyncInterval: 2 * time.Millisecond,
		Metrics:       metrics,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, metrics
}

func TestCRUD(t *testing.T) {
	db, metrics := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Set(ctx, []byte("k1"), []byte("v1")))
	got, err := db.Get([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))
	assert.Positive(t, metrics.read)

	ok, err := db.Has([]byte("k1"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, db.Delete(ctx, []byte("k1")))
	_, err = db.Get([]byte("k1"))
	assert.ErrorIs(t, err, ErrNotFound)
	ok, err = db.Has([]byte("k1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBatchCommitMetrics(t *testing.T) {
	db, metrics := newTestDB(t)

	b := db.NewBatch()
	require.NoError(t, b.Set([]byte("a"), []byte("1"), nil))
	require.NoError(t, b.Set([]byte("b"), []byte("2"), nil))
	require.NoError(t, db.CommitBatch(context.Background(), b))
	b.Close()

	assert.Equal(t, 1, metrics.batchCommits)
	assert.Equal(t, 2, metrics.batchOps)
}

func TestScanPrefix(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()
	for _, k := range []string{"p/a", "p/b", "p/c", "q/a"} {
		require.NoError(t, db.Set(ctx, []byte(k), []byte(k)))
	}

	var keys []string
	require.NoError(t, db.ScanPrefix([]byte("p/"), func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	}))
	assert.Equal(t, []string{"p/a", "p/b", "p/c"}, keys)

	n, err := db.CountPrefix([]byte("q/"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPrefixUpperBound(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []byte("p0"), PrefixUpperBound([]byte("p/")))
	assert.Equal(t, []byte{0x01}, PrefixUpperBound([]byte{0x00, 0xff}))
	assert.Nil(t, PrefixUpperBound([]byte{0xff, 0xff}))
}

func TestClosedGuard(t *testing.T) {
	db, _ := newTestDB(t)
	require.NoError(t, db.Close())
	assert.True(t, db.Closed())

	_, err := db.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, db.Set(context.Background(), []byte("k"), nil), ErrClosed)
	_, err = db.NewIter(nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, db.Close())
}

func TestParseFsyncMode(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]FsyncMode{
		"always":   FsyncModeAlways,
		"interval": FsyncModeInterval,
		"":         FsyncModeInterval,
		"never":    FsyncModeNever,
	} {
		got, err := ParseFsyncMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFsyncMode("sometimes")
	assert.Error(t, err)
}
