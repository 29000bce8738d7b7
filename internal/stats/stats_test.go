package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryPrePopulatesDefault(t *testing.T) {
	r := NewRegistry()
	names := r.List()
	assert.Contains(t, names, GlobalNamespace)
	assert.Contains(t, names, DefaultNamespace)
}

func TestNamespaceCreatesOnFirstTouch(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Snapshot("feed:")
	assert.False(t, ok)

	s := r.Namespace("feed:")
	s.Writes.Add(1)

	snap, ok := r.Snapshot("feed:")
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.Writes)
	assert.Contains(t, r.List(), "feed:")
}

func TestNamespaceReturnsSameStatsOnRepeatedLookup(t *testing.T) {
	r := NewRegistry()
	a := r.Namespace("feed:")
	b := r.Namespace("feed:")
	assert.Same(t, a, b)
}

func TestDefaultNamespaceFastPath(t *testing.T) {
	r := NewRegistry()
	a := r.Namespace(DefaultNamespace)
	b := r.Namespace(DefaultNamespace)
	assert.Same(t, a, b)
	snap, ok := r.Snapshot(DefaultNamespace)
	require.True(t, ok)
	assert.Equal(t, DefaultNamespace, snap.Namespace)
}

func TestGlobalSnapshotAlwaysPresent(t *testing.T) {
	r := NewRegistry()
	r.Global().Reads.Add(5)
	snap, ok := r.Snapshot(GlobalNamespace)
	require.True(t, ok)
	assert.Equal(t, uint64(5), snap.Reads)
}

func TestUnknownNamespaceSnapshotMissing(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Snapshot("nonexistent:")
	assert.False(t, ok)
}

func TestConcurrentNamespaceCreationConverges(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	results := make([]*PerNamespaceStats, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Namespace("race:")
		}(i)
	}
	wg.Wait()

	first := results[0]
	for _, s := range results {
		assert.Same(t, first, s)
	}
}

func TestAllSnapshotsIncludesGlobalFirst(t *testing.T) {
	r := NewRegistry()
	r.Namespace("feed:")
	r.Namespace("user:")

	snaps := r.AllSnapshots()
	require.NotEmpty(t, snaps)
	assert.Equal(t, GlobalNamespace, snaps[0].Namespace)
}
