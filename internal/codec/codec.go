// Package codec implements the per-worker scratch engine: a reusable
// compression output buffer plus the compiled encoder/decoder handles a
// cache worker goroutine uses on its hot path. The scratch buffer's
// contract is that the pointer it returns is valid only until the next
// scratch-using call on the same worker — exactly like the teacher's
// per-goroutine buffer pools, generalized from a single sync.Pool of
// byte slices to a pool of dictionary-aware engines.
package codec

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
	"github.com/valyala/gozstd"
)

// maxPessimisticMultiple is the fallback expansion factor used when a
// frame's declared content size can't be read.
const maxPessimisticMultiple = 4

// Worker owns one goroutine's lazily-initialized codec state: the
// dictionary-less encoders (klauspost/compress/zstd, one cached per zstd
// level seen, used for the no-dictionary frame), one dictionary-less
// decoder, and a growable scratch buffer. Nothing in
// Worker synchronizes internally — callers must not share a Worker
// across concurrently-running goroutines.
type Worker struct {
	scratch []byte

	encoders map[int]*zstd.Encoder
	decOnce  sync.Once
	dec      *zstd.Decoder
}

// encoderForLevel returns the encoder for the requested zstd level,
// building and caching it on first use. The klauspost encoder's level is
// fixed at construction, so honoring zstd_level means keeping one encoder
// per distinct level a Worker has actually seen rather than one shared
// instance.
func (w *Worker) encoderForLevel(level int) *zstd.Encoder {
	if enc, ok := w.encoders[level]; ok {
		return enc
	}
	enc, _ := zstd.NewWriter(nil,
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
	)
	if w.encoders == nil {
		w.encoders = make(map[int]*zstd.Encoder, 1)
	}
	w.encoders[level] = enc
	return enc
}

func (w *Worker) decoder() *zstd.Decoder {
	w.decOnce.Do(func() {
		w.dec, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	})
	return w.dec
}

// compressBound returns a safe, if not exact, upper bound on the
// compressed size of an input of length n, used only to size the scratch
// buffer's initial capacity.
func compressBound(n int) int {
	return n + n/255 + 128
}

func (w *Worker) ensureScratch(bound int) {
	if cap(w.scratch) < bound {
		w.scratch = make([]byte, 0, bound)
	} else {
		w.scratch = w.scratch[:0]
	}
}

// CompressDict compresses src using a compiled dictionary handle. The
// returned slice aliases the Worker's scratch buffer and is valid only
// until the next Compress*/Decompress* call on this Worker.
func (w *Worker) CompressDict(src []byte, cd *gozstd.CDict) []byte {
	w.ensureScratch(compressBound(len(src)))
	w.scratch = gozstd.CompressDict(w.scratch, src, cd)
	return w.scratch
}

// CompressLevel compresses src without a dictionary, at the given zstd
// level, via the klauspost encoder. The returned slice aliases scratch
// the same way CompressDict's does.
func (w *Worker) CompressLevel(src []byte, level int) ([]byte, error) {
	enc := w.encoderForLevel(level)
	w.ensureScratch(compressBound(len(src)))
	out := enc.EncodeAll(src, w.scratch)
	w.scratch = out
	return out, nil
}

// DecompressDict decompresses src using a compiled dictionary handle,
// returning a freshly allocated buffer whose ownership transfers to the
// caller (it never aliases scratch).
func (w *Worker) DecompressDict(src []byte, dd *gozstd.DDict) ([]byte, error) {
	out := make([]byte, 0, outputHint(src))
	out, err := gozstd.DecompressDict(out, src, dd)
	if err != nil {
		return nil, fmt.Errorf("codec: decompress with dict: %w", err)
	}
	return out, nil
}

// Decompress decompresses a dictionary-less frame produced by
// CompressLevel, returning a freshly allocated buffer.
func (w *Worker) Decompress(src []byte) ([]byte, error) {
	dec := w.decoder()
	out, err := dec.DecodeAll(src, make([]byte, 0, outputHint(src)))
	if err != nil {
		return nil, fmt.Errorf("codec: decompress: %w", err)
	}
	return out, nil
}

func outputHint(src []byte) int {
	if size, ok := frameContentSize(src); ok && size > 0 {
		return int(size)
	}
	return len(src) * maxPessimisticMultiple
}

// Pool is the set of per-worker scratch engines, indexed by a caller-
// supplied worker id (the cache's own worker/shard index). Slots are
// lazily initialized; the only lock contention is the rare first touch of
// a given slot.
type Pool struct {
	mu      sync.Mutex
	workers []atomic.Pointer[Worker]
}

// NewPool builds a Pool sized for the given number of workers. size must
// match (or exceed) the host cache's worker count; worker ids are taken
// modulo size.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{workers: make([]atomic.Pointer[Worker], size)}
}

// Worker returns the scratch engine for workerID, creating it on first
// use.
func (p *Pool) Worker(workerID int) *Worker {
	idx := workerID % len(p.workers)
	if idx < 0 {
		idx += len(p.workers)
	}

	slot := &p.workers[idx]
	if w := slot.Load(); w != nil {
		return w
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if slot.Load() == nil {
		slot.Store(&Worker{})
	}
	return slot.Load()
}
