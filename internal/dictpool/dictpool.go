// Package dictpool implements the process-wide, reference-counted registry
// of compiled compression/decompression dictionary handles. A meta (see
// package routing) never owns the handles it points to — the pool does;
// compilation and destruction happen exactly at refcount transitions 0→1
// and 1→0.
package dictpool

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/valyala/gozstd"
)

// CompiledHandles bundles the compiled compress/decompress dictionary
// handles a meta borrows from the pool.
type CompiledHandles struct {
	CDict *gozstd.CDict
	DDict *gozstd.DDict
}

type poolEntry struct {
	handles  *CompiledHandles
	refcount atomic.Int32
}

// Pool is the signature-keyed dictionary registry. The map itself is
// guarded by a single short-held lock; compilation (reading the blob file
// and invoking the codec) happens outside the lock, with a presence check
// retried at insert time to collapse concurrent duplicate compiles down to
// exactly one.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*poolEntry
}

// New builds an empty Pool.
func New() *Pool {
	return &Pool{entries: make(map[string]*poolEntry)}
}

// Retain returns the compiled handles for signature, compiling them from
// blobPath if this is the first retain of that signature, and incrementing
// the shared refcount otherwise. Concurrent first retains of the same
// signature may each compile outside the lock, but exactly one set of
// compiled handles is kept; the others are released at insert time.
func (p *Pool) Retain(signature, blobPath string, level int) (*CompiledHandles, error) {
	p.mu.Lock()
	if e, ok := p.entries[signature]; ok {
		e.refcount.Add(1)
		p.mu.Unlock()
		return e.handles, nil
	}
	p.mu.Unlock()

	dict, err := os.ReadFile(blobPath)
	if err != nil {
		return nil, fmt.Errorf("dictpool: read blob %s: %w", blobPath, err)
	}

	cd, err := gozstd.NewCDictLevel(dict, level)
	if err != nil {
		return nil, fmt.Errorf("dictpool: compile cdict %s: %w", signature, err)
	}
	dd, err := gozstd.NewDDict(dict)
	if err != nil {
		cd.Release()
		return nil, fmt.Errorf("dictpool: compile ddict %s: %w", signature, err)
	}
	handles := &CompiledHandles{CDict: cd, DDict: dd}

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[signature]; ok {
		// Another goroutine won the race while we compiled outside the
		// lock; discard our copy and attach to the existing one.
		e.refcount.Add(1)
		cd.Release()
		dd.Release()
		return e.handles, nil
	}

	e := &poolEntry{handles: handles}
	e.refcount.Store(1)
	p.entries[signature] = e
	return handles, nil
}

// Release decrements signature's refcount, destroying its compiled handles
// and removing the entry once it reaches zero. It returns the
// post-decrement count for diagnostics, or -1 if signature is absent.
func (p *Pool) Release(signature string) int32 {
	p.mu.Lock()
	e, ok := p.entries[signature]
	if !ok {
		p.mu.Unlock()
		return -1
	}
	remaining := e.refcount.Add(-1)
	if remaining <= 0 {
		delete(p.entries, signature)
	}
	p.mu.Unlock()

	if remaining <= 0 {
		e.handles.CDict.Release()
		e.handles.DDict.Release()
	}
	return remaining
}

// Refcount is an observational read of signature's current refcount, or -1
// if absent.
func (p *Pool) Refcount(signature string) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[signature]
	if !ok {
		return -1
	}
	return e.refcount.Load()
}

// Len reports how many distinct signatures are currently registered.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
