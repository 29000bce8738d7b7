package gcretire

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentumcache/mcz/internal/dictpool"
	"github.com/momentumcache/mcz/internal/routing"
)

func tableWithSignature(sig string, retiredAt time.Time) *routing.Table {
	m := &routing.Meta{ID: 1, Prefixes: []string{"default"}, Signature: sig, CreatedAt: time.Now(), RetiredAt: retiredAt}
	tbl, err := routing.Build([]*routing.Meta{m}, 10, 1)
	if err != nil {
		panic(err)
	}
	return tbl
}

// writeRawDictBlob writes a file usable as a zstd raw-content dictionary, so
// pool.Retain has something real to compile in these tests.
func writeRawDictBlob(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.dict")
	content := []byte(strings.Repeat("gc-test-dictionary-content ", 64))
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestSweepReclaimsExpiredAndKeepsFresh(t *testing.T) {
	pool := dictpool.New()
	blob := writeRawDictBlob(t)
	// Register the signature in the pool so Release has something to
	// decrement, mirroring how a real meta's handles were retained at
	// table-build time.
	_, err := pool.Retain("sig-fresh", blob, 3)
	require.NoError(t, err)
	_, err = pool.Retain("sig-expired", blob, 3)
	require.NoError(t, err)
	require.Equal(t, 2, pool.Len())

	gc := New(pool, time.Hour, time.Millisecond, nil)

	now := time.Now()
	gc.Retire(tableWithSignature("sig-expired", time.Time{}), now.Add(-2*time.Hour))
	gc.Retire(tableWithSignature("sig-fresh", time.Time{}), now)

	gc.sweep(now, false)

	assert.Equal(t, int32(-1), pool.Refcount("sig-expired"), "expired table must be reclaimed")
	assert.Equal(t, int32(1), pool.Refcount("sig-fresh"), "fresh table must be pushed back, not reclaimed")
}

func TestDrainAllForcesReclaimRegardlessOfAge(t *testing.T) {
	pool := dictpool.New()
	blob := writeRawDictBlob(t)
	_, err := pool.Retain("sig-just-retired", blob, 3)
	require.NoError(t, err)

	gc := New(pool, time.Hour, time.Millisecond, nil)
	gc.Retire(tableWithSignature("sig-just-retired", time.Time{}), time.Now())

	gc.DrainAll()

	assert.Equal(t, int32(-1), pool.Refcount("sig-just-retired"))
}

func TestRetireIsSafeForConcurrentProducers(t *testing.T) {
	pool := dictpool.New()
	gc := New(pool, time.Hour, time.Millisecond, nil)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			gc.Retire(tableWithSignature("sig-concurrent", time.Time{}), time.Now())
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	// No assertion beyond "didn't panic/race"; DrainAll should process all 8
	// without error even though none were ever retained in the pool.
	gc.DrainAll()
}

func TestStartStopJoinsCleanly(t *testing.T) {
	pool := dictpool.New()
	gc := New(pool, time.Millisecond, time.Millisecond, nil)
	gc.Start()
	gc.Stop()
}
