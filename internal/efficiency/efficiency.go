// Package efficiency implements the lock-free EWMA compression-ratio
// tracker that decides when the trainer should retrain a dictionary.
package efficiency

import (
	"math"
	"sync/atomic"
	"time"
)

// Tracker records the exponentially-weighted moving average of
// compressed/original ratio for the "default" namespace and decides when
// drift from the last retrain's baseline warrants a new training pass.
//
// Every float64 field is stored by bit pattern in a 64-bit atomic word, per
// the portable "double as atomic bits" idiom: a load is one atomic load, a
// store is one atomic store (or one CAS loop for read-modify-write).
type Tracker struct {
	ewmaBits     atomic.Uint64
	baselineBits atomic.Uint64
	lastRetrain  atomic.Int64 // UnixNano; 0 means never
	bytesSince   atomic.Uint64
	initialized  atomic.Bool

	// Configuration, cached at construction time and read-only thereafter.
	alpha           float64
	retrainDrop     float64
	minTrainingSize uint64
	interval        time.Duration
	trainingEnabled bool
}

// New builds a Tracker. alpha and retrainDrop must already be clamped to
// [0,1] by the caller (Config.Validate does this).
func New(alpha, retrainDrop float64, minTrainingSize uint64, interval time.Duration, trainingEnabled bool) *Tracker {
	return &Tracker{
		alpha:           alpha,
		retrainDrop:     retrainDrop,
		minTrainingSize: minTrainingSize,
		interval:        interval,
		trainingEnabled: trainingEnabled,
	}
}

func loadFloat(word *atomic.Uint64) float64 {
	return math.Float64frombits(word.Load())
}

func storeFloat(word *atomic.Uint64, v float64) {
	word.Store(math.Float64bits(v))
}

// Observe feeds one successful compression's ratio into the EWMA. original
// must be > 0; callers only observe compressions of the "default"
// namespace, per the spec.
func (t *Tracker) Observe(compressedLen, originalLen int) {
	if originalLen <= 0 {
		return
	}
	ratio := float64(compressedLen) / float64(originalLen)

	if !t.initialized.Load() {
		// First observation after init: ewma = r, mark initialized.
		// A racing concurrent first-observer is harmless — both write the
		// same kind of value and initialized is a monotonic transition.
		storeFloat(&t.ewmaBits, ratio)
		t.initialized.Store(true)
	} else {
		for {
			old := t.ewmaBits.Load()
			next := t.alpha*ratio + (1-t.alpha)*math.Float64frombits(old)
			if t.ewmaBits.CompareAndSwap(old, math.Float64bits(next)) {
				break
			}
		}
	}

	t.bytesSince.Add(uint64(originalLen))
}

// EWMA returns the current EWMA value.
func (t *Tracker) EWMA() float64 { return loadFloat(&t.ewmaBits) }

// Baseline returns the EWMA value stamped at the last successful retrain.
func (t *Tracker) Baseline() float64 { return loadFloat(&t.baselineBits) }

// BytesSince returns the raw bytes observed since the last retrain.
func (t *Tracker) BytesSince() uint64 { return t.bytesSince.Load() }

// Initialized reports whether at least one observation has landed.
func (t *Tracker) Initialized() bool { return t.initialized.Load() }

// ShouldRetrain reports whether a retrain should fire now: training must be
// enabled, the retrain interval must have elapsed, the byte budget must be
// met, and the ratio must have worsened relative to baseline by at least
// retrainDrop.
func (t *Tracker) ShouldRetrain(now time.Time) bool {
	if !t.trainingEnabled {
		return false
	}
	last := t.lastRetrain.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < t.interval {
		return false
	}
	if t.bytesSince.Load() < t.minTrainingSize {
		return false
	}
	if !t.initialized.Load() {
		return false
	}
	baseline := t.Baseline()
	if baseline == 0 {
		// No retrain has ever happened: a cold baseline of zero would make
		// any ratio look like it "worsened" trivially, so treat an
		// un-set baseline as "no drift signal yet" rather than always-true.
		return false
	}
	return t.EWMA() >= baseline*(1+t.retrainDrop)
}

// MarkRetrained stamps a successful retrain: last_retrain = now,
// bytes_since = 0, baseline = ewma. Baseline only ever moves to the current
// EWMA value on an actual publish, so it is non-increasing across retrains
// exactly when each retrain genuinely improved (or held) the ratio;
// callers must only invoke this after a real publish.
func (t *Tracker) MarkRetrained(now time.Time) {
	storeFloat(&t.baselineBits, t.EWMA())
	t.lastRetrain.Store(now.UnixNano())
	t.bytesSince.Store(0)
}
