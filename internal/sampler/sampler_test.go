package sampler

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAddColdStartAlwaysSamples(t *testing.T) {
	in := NewIntake(1)
	for i := 0; i < 20; i++ {
		ok := in.TryAdd([]byte("payload"), 0.0, false, 1<<20)
		assert.True(t, ok, "cold start (no dictionary yet) must sample unconditionally")
	}
	assert.Equal(t, uint64(20*len("payload")), in.BytesPending())
}

func TestTryAddBackPressureRejectsOnceBudgetMet(t *testing.T) {
	in := NewIntake(1)
	ok := in.TryAdd(make([]byte, 100), 1.0, false, 100)
	require.True(t, ok)
	assert.Equal(t, uint64(100), in.BytesPending())

	// bytes_pending (100) >= min_training_size (100): no further samples admitted.
	ok = in.TryAdd(make([]byte, 10), 1.0, false, 100)
	assert.False(t, ok)
	assert.Equal(t, uint64(100), in.BytesPending())
}

func TestDrainTakesOwnershipAndEmptiesStack(t *testing.T) {
	in := NewIntake(1)
	in.TryAdd([]byte("a"), 1.0, false, 1<<20)
	in.TryAdd([]byte("bb"), 1.0, false, 1<<20)
	in.TryAdd([]byte("ccc"), 1.0, false, 1<<20)

	samples := in.Drain()
	assert.Len(t, samples, 3)

	// Intake is logically empty but bytes_pending is not auto-cleared by
	// Drain; the caller (trainer) is responsible for that accounting.
	second := in.Drain()
	assert.Empty(t, second)
}

func TestSubBytesPendingSaturatingNeverUnderflows(t *testing.T) {
	in := NewIntake(1)
	in.TryAdd(make([]byte, 50), 1.0, false, 1<<20)
	assert.Equal(t, uint64(50), in.BytesPending())

	in.SubBytesPendingSaturating(1000)
	assert.Equal(t, uint64(0), in.BytesPending())
}

func TestDrawWithZeroProbabilityNeverSamples(t *testing.T) {
	in := NewIntake(42)
	for i := 0; i < 50; i++ {
		ok := in.TryAdd([]byte("x"), 0.0, true, 1<<20)
		assert.False(t, ok)
	}
}

func TestDrawWithFullProbabilityAlwaysSamples(t *testing.T) {
	in := NewIntake(42)
	for i := 0; i < 50; i++ {
		ok := in.TryAdd([]byte("x"), 1.0, true, 1<<20)
		assert.True(t, ok)
	}
}

func TestConcurrentTryAddNeverRacesOnBytesPending(t *testing.T) {
	in := NewIntake(7)
	var wg sync.WaitGroup
	const producers = 32
	const perProducer = 10
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				in.TryAdd([]byte("fixed-size-payload"), 1.0, false, 1<<30)
			}
		}()
	}
	wg.Wait()

	expected := uint64(producers * perProducer * len("fixed-size-payload"))
	assert.Equal(t, expected, in.BytesPending())
	assert.Len(t, in.Drain(), producers*perProducer)
}
