// Package gcretire implements the retired-table garbage collector: an
// MPSC intake of superseded routing tables, a quarantine/cool-off period,
// and reclamation of each table's pool references once it is safe.
package gcretire

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentumcache/mcz/internal/dictpool"
	"github.com/momentumcache/mcz/internal/routing"
)

// node is one MPSC stack entry: a retired table tagged with its
// retirement time.
type node struct {
	table     *routing.Table
	retiredAt time.Time
	next      atomic.Pointer[node]
}

// GC owns the retired-table intake stack and the single background
// thread that drains it once per wake period.
type GC struct {
	pool       *dictpool.Pool
	coolPeriod time.Duration
	wakeEvery  time.Duration
	log        *zap.SugaredLogger

	head atomic.Pointer[node]

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a GC. coolPeriod is gc_cool_period; wakeEvery controls how
// often the background thread checks the stack (the spec scales this
// from the cool/quarantine periods; callers typically pass a fraction of
// coolPeriod).
func New(pool *dictpool.Pool, coolPeriod, wakeEvery time.Duration, log *zap.SugaredLogger) *GC {
	return &GC{pool: pool, coolPeriod: coolPeriod, wakeEvery: wakeEvery, log: log, stop: make(chan struct{})}
}

// Retire pushes a superseded table onto the MPSC intake stack. Safe to
// call concurrently with the GC's own drain loop.
func (g *GC) Retire(t *routing.Table, retiredAt time.Time) {
	n := &node{table: t, retiredAt: retiredAt}
	for {
		head := g.head.Load()
		n.next.Store(head)
		if g.head.CompareAndSwap(head, n) {
			return
		}
	}
}

// Start launches the single GC thread.
func (g *GC) Start() {
	g.wg.Add(1)
	go g.loop()
}

func (g *GC) loop() {
	defer g.wg.Done()
	ticker := time.NewTicker(g.wakeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.sweep(time.Now(), false)
		}
	}
}

// sweep drains the intake stack once, reclaiming every node whose
// quarantine has expired and pushing the rest back. force reclaims
// everything regardless of age — used during shutdown.
func (g *GC) sweep(now time.Time, force bool) {
	head := g.head.Swap(nil)

	var keep *node
	for n := head; n != nil; {
		next := n.next.Load()
		if force || now.Sub(n.retiredAt) >= g.coolPeriod {
			g.reclaim(n)
		} else {
			n.next.Store(keep)
			keep = n
		}
		n = next
	}

	// Push the kept nodes back onto whatever accumulated on the stack
	// while we were sweeping.
	for n := keep; n != nil; {
		next := n.next.Load()
		for {
			h := g.head.Load()
			n.next.Store(h)
			if g.head.CompareAndSwap(h, n) {
				break
			}
		}
		n = next
	}
}

func (g *GC) reclaim(n *node) {
	for _, m := range n.table.AllMetas() {
		remaining := g.pool.Release(m.Signature)
		if g.log != nil {
			g.log.Debugw("gc reclaimed dictionary meta", "id", m.ID, "signature", m.Signature, "refcount", remaining)
		}
	}
	if g.log != nil {
		g.log.Infow("gc reclaimed routing table", "generation", n.table.Gen)
	}
}

// Stop signals the GC thread to exit and joins it.
func (g *GC) Stop() {
	close(g.stop)
	g.wg.Wait()
}

// DrainAll forces an immediate, unconditional reclaim of every retired
// table regardless of quarantine — used during Engine shutdown so pool
// refcounts settle to zero without waiting out the cool period.
func (g *GC) DrainAll() {
	g.sweep(time.Now(), true)
}
