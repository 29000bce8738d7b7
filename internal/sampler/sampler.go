// Package sampler implements the write-path sample pipeline: a Bernoulli
// gate, an MPSC intake stack with byte-budget back-pressure, and the
// standalone spool writer described in the external-interfaces section of
// the spec (administrator-controlled, independent of the trainer).
package sampler

import (
	"sync/atomic"
)

// node is one entry in the MPSC sample-intake stack: a deep copy of a
// sampled value.
type node struct {
	value []byte
	next  atomic.Pointer[node]
}

// Intake is the lock-free, many-producer single-consumer sample list.
// Producers push under compare-exchange with release ordering; the
// trainer drains the whole chain with a single atomic exchange. The list
// is LIFO internally — callers that care about sample order must reverse
// it themselves (current dictionary-training algorithms don't).
type Intake struct {
	head         atomic.Pointer[node]
	bytesPending atomic.Uint64
	prng         prng
}

// NewIntake builds an empty Intake seeded from seed (any nonzero value;
// callers typically seed from a time-derived value per process).
func NewIntake(seed uint32) *Intake {
	return &Intake{prng: newPRNG(seed)}
}

// TryAdd draws against sampleP and, if the draw succeeds and the byte
// budget isn't exhausted, deep-copies value onto the intake stack.
// haveDict controls whether sampleP applies at all: with no dictionary
// yet (cold start), every eligible write is sampled unconditionally.
func (in *Intake) TryAdd(value []byte, sampleP float64, haveDict bool, minTrainingSize uint64) bool {
	if in.bytesPending.Load() >= minTrainingSize {
		return false // back-pressure: trainer hasn't drained yet
	}
	if haveDict && !in.draw(sampleP) {
		return false
	}

	cp := make([]byte, len(value))
	copy(cp, value)
	n := &node{value: cp}

	for {
		head := in.head.Load()
		n.next.Store(head)
		if in.head.CompareAndSwap(head, n) {
			break
		}
	}
	in.bytesPending.Add(uint64(len(cp)))
	return true
}

func (in *Intake) draw(p float64) bool {
	if p >= 1 {
		return true
	}
	if p <= 0 {
		return false
	}
	threshold := uint32(p * 4294967296.0)
	return in.prng.next() < threshold
}

// BytesPending returns the current back-pressure total.
func (in *Intake) BytesPending() uint64 { return in.bytesPending.Load() }

// Drain atomically takes ownership of the whole intake chain, leaving the
// stack empty, and returns its values (still in LIFO/newest-first order).
func (in *Intake) Drain() [][]byte {
	head := in.head.Swap(nil)
	var out [][]byte
	for n := head; n != nil; n = n.next.Load() {
		out = append(out, n.value)
	}
	return out
}

// SubBytesPendingSaturating decrements the back-pressure counter by n,
// clamped at zero so a race between an observer and a concurrent Add
// never underflows the unsigned counter.
func (in *Intake) SubBytesPendingSaturating(n uint64) {
	for {
		cur := in.bytesPending.Load()
		var next uint64
		if n >= cur {
			next = 0
		} else {
			next = cur - n
		}
		if in.bytesPending.CompareAndSwap(cur, next) {
			return
		}
	}
}

// prng is a small xorshift32 generator, CAS-updated so it can be shared
// across producer goroutines without a mutex.
type prng struct {
	state atomic.Uint32
}

func newPRNG(seed uint32) prng {
	if seed == 0 {
		seed = 0x9e3779b9
	}
	var p prng
	p.state.Store(seed)
	return p
}

func (p *prng) next() uint32 {
	for {
		old := p.state.Load()
		x := old
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		if p.state.CompareAndSwap(old, x) {
			return x
		}
	}
}
