// Package mcz augments an in-memory key/value cache with transparent
// dictionary-based compression: values are compressed on the write
// path and decompressed on the read path using dictionaries a
// background trainer continuously improves from sampled traffic.
package mcz

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentumcache/mcz/internal/codec"
	"github.com/momentumcache/mcz/internal/dictpool"
	"github.com/momentumcache/mcz/internal/efficiency"
	"github.com/momentumcache/mcz/internal/filter"
	"github.com/momentumcache/mcz/internal/gcretire"
	"github.com/momentumcache/mcz/internal/manifest"
	"github.com/momentumcache/mcz/internal/mczerr"
	"github.com/momentumcache/mcz/internal/obslog"
	"github.com/momentumcache/mcz/internal/obstrace"
	"github.com/momentumcache/mcz/internal/routing"
	"github.com/momentumcache/mcz/internal/sampler"
	"github.com/momentumcache/mcz/internal/stats"
	"github.com/momentumcache/mcz/internal/trainer"
)

// Engine owns every long-lived subsystem: the current routing table,
// the dictionary pool it draws from, the codec scratch pool, the
// statistics registry, the sample pipeline, the background trainer and
// GC threads, and tracing/logging handles. There is exactly one owning
// location for all of this process-wide state; nothing here is a
// package-level mutable static.
type Engine struct {
	cfg Config

	current atomic.Pointer[routing.Table]
	pool    *dictpool.Pool
	codec   *codec.Pool

	stats   *stats.Registry
	eff     *efficiency.Tracker
	intake  *sampler.Intake
	spool   *sampler.Spool
	trainer *trainer.Trainer
	gc      *gcretire.GC

	tracing *obstrace.Tracing
	log     *zap.SugaredLogger

	watchStop func() error
}

// New builds an Engine: it scans dict_dir for any existing dictionaries,
// builds the initial routing table, and starts the trainer and GC
// background threads. Config is validated (clamped) in place before use.
func New(cfg Config) (*Engine, error) {
	cfg.Validate()

	log, err := obslog.New("mcz")
	if err != nil {
		return nil, fmt.Errorf("mcz: build logger: %w", err)
	}
	tr, err := obstrace.New(cfg.JaegerEndpoint)
	if err != nil {
		return nil, fmt.Errorf("mcz: build tracer: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		pool:    dictpool.New(),
		codec:   codec.NewPool(cfg.WorkerCount),
		stats:   stats.NewRegistry(),
		eff:     efficiency.New(cfg.EWMAAlpha, cfg.RetrainDrop, cfg.MinTrainingSize, cfg.retrainingInterval(), cfg.EnableTraining),
		intake:  sampler.NewIntake(uint32(time.Now().UnixNano())),
		tracing: tr,
		log:     log,
	}

	initial, err := e.buildTableFromDisk(0)
	if err != nil {
		return nil, err
	}
	e.current.Store(initial)

	if cfg.SpoolDir != "" {
		e.spool = sampler.NewSpool(cfg.SpoolDir, cfg.SpoolMaxBytes, cfg.sampleWindow())
	}

	e.gc = gcretire.New(e.pool, cfg.gcCoolPeriod(), gcWakeInterval(cfg.gcCoolPeriod()), log.With("subsystem", "gc"))
	e.gc.Start()

	e.trainer = trainer.New(trainer.Config{
		Enabled:         cfg.EnableTraining,
		DictDir:         cfg.DictDir,
		DictSize:        cfg.DictSize,
		Level:           cfg.ZstdLevel,
		Mode:            trainer.Mode(cfg.TrainMode),
		RetainMax:       cfg.DictRetainMax,
		Quarantine:      cfg.gcQuarantinePeriod(),
		MinTrainingSize: cfg.MinTrainingSize,
	}, e.intake, e.eff, e.pool, &e.current, e.gc.Retire, log.With("subsystem", "trainer"))
	e.trainer.Start()

	if cfg.DictDir != "" {
		stop, err := manifest.Watch(cfg.DictDir, func() {
			if rescanErr := e.rescan(); rescanErr != nil {
				e.log.Warnw("rescan after dict_dir change failed", "error", rescanErr)
			}
		})
		if err != nil {
			e.log.Warnw("dict_dir watch unavailable, external pushes require a manual rescan", "error", err)
		} else {
			e.watchStop = stop
		}
	}

	return e, nil
}

// Reload re-reads dict_dir from disk and republishes the routing table,
// for an operator-triggered manual rescan (the admin surface's "reload"
// command) independent of the fsnotify watch.
func (e *Engine) Reload() error { return e.rescan() }

// rescan re-reads dict_dir from disk and republishes the routing table,
// without training anything itself. It is the entry point both the
// fsnotify watch and an admin-triggered manual reload use to pick up a
// dictionary an external process dropped into place.
func (e *Engine) rescan() error {
	old := e.current.Load()
	next, err := e.buildTableFromDisk(old.Gen + 1)
	if err != nil {
		return err
	}
	e.current.Store(next)
	e.gc.Retire(old, time.Now())
	return nil
}

// gcWakeInterval scales the GC thread's wake period off the cool
// period, per spec.md §4.7 ("wakes periodically, quarantine/cool
// period scaled"), bounded to a sane range.
func gcWakeInterval(coolPeriod time.Duration) time.Duration {
	wake := coolPeriod / 10
	if wake < time.Second {
		wake = time.Second
	}
	if wake > time.Minute {
		wake = time.Minute
	}
	return wake
}

func (e *Engine) buildTableFromDisk(gen uint64) (*routing.Table, error) {
	if e.cfg.DictDir == "" {
		return routing.Empty(), nil
	}
	records, err := manifest.Scan(e.cfg.DictDir, e.cfg.gcQuarantinePeriod(), time.Now())
	if err != nil {
		return nil, mczerr.New(mczerr.Io, "New", err)
	}
	if len(records) == 0 {
		return routing.Empty(), nil
	}
	metas, err := routing.FromManifestRecords(records, e.pool)
	if err != nil {
		return nil, mczerr.New(mczerr.Io, "New", err)
	}
	table, err := routing.Build(metas, e.cfg.DictRetainMax, gen)
	if err != nil {
		for _, m := range metas {
			e.pool.Release(m.Signature)
		}
		return nil, mczerr.New(mczerr.Invalid, "New", err)
	}
	return table, nil
}

// Table returns the currently published routing table snapshot.
func (e *Engine) Table() *routing.Table { return e.current.Load() }

// Stats returns the statistics registry, for the admin surface.
func (e *Engine) Stats() *stats.Registry { return e.stats }

// Snapshot renders one namespace's stats, stamping the "default"
// namespace's EWMA/Baseline fields from the efficiency tracker (the only
// place that state lives).
func (e *Engine) Snapshot(namespace string) (stats.Snapshot, bool) {
	snap, ok := e.stats.Snapshot(namespace)
	if ok && namespace == stats.DefaultNamespace {
		snap.EWMA = e.eff.EWMA()
		snap.Baseline = e.eff.Baseline()
	}
	return snap, ok
}

// AllSnapshots renders every namespace's stats, with the "default"
// namespace's EWMA/Baseline populated.
func (e *Engine) AllSnapshots() []stats.Snapshot {
	snaps := e.stats.AllSnapshots()
	for i := range snaps {
		if snaps[i].Namespace == stats.DefaultNamespace {
			snaps[i].EWMA = e.eff.EWMA()
			snaps[i].Baseline = e.eff.Baseline()
		}
	}
	return snaps
}

// Config returns the Engine's effective (validated) configuration.
func (e *Engine) Config() Config { return e.cfg }

// Spool returns the standalone sampler spool writer, or nil if no
// spool_dir was configured.
func (e *Engine) Spool() *sampler.Spool { return e.spool }

// matchNamespace performs the same longest-prefix match PickByKey does,
// returning the namespace name used for per-namespace statistics.
func matchNamespace(t *routing.Table, key string) string {
	best := ""
	bestLen := -1
	for _, ns := range t.Namespaces() {
		if ns.Prefix == routing.DefaultNamespace {
			continue
		}
		if len(key) >= len(ns.Prefix) && key[:len(ns.Prefix)] == ns.Prefix && len(ns.Prefix) > bestLen {
			best = ns.Prefix
			bestLen = len(ns.Prefix)
		}
	}
	if best == "" {
		return stats.DefaultNamespace
	}
	return best
}

// MaybeCompress is the write-path entry point. It returns StatusNoOp
// whenever the caller should store value unchanged (compression
// disabled, size out of range, the value judged incompressible, or a
// codec error — spec.md §7 treats a compress-time codec error as a
// fallback to uncompressed storage, not a hard failure). The returned
// byte slice for StatusStored aliases the worker's scratch buffer and
// is valid only until the next Maybe* call made with the same workerID.
func (e *Engine) MaybeCompress(ctx context.Context, workerID int, key string, value []byte) (Status, []byte, uint16) {
	ctx, span := e.tracing.StartSpan(ctx, "mcz.MaybeCompress")
	defer span.End()

	if !e.cfg.EnableComp {
		return StatusNoOp, nil, 0
	}

	table := e.current.Load()
	ns := matchNamespace(table, key)
	nsStats := e.stats.Namespace(ns)
	nsStats.Writes.Add(1)
	nsStats.RawBytesIn.Add(uint64(len(value)))
	e.stats.Global().Writes.Add(1)
	e.stats.Global().RawBytesIn.Add(uint64(len(value)))

	if len(value) < e.cfg.MinCompSize {
		nsStats.SkipTooSmall.Add(1)
		return StatusNoOp, nil, 0
	}
	if len(value) > e.cfg.MaxCompSize {
		nsStats.SkipTooLarge.Add(1)
		return StatusNoOp, nil, 0
	}
	if filter.Incompressible(value) {
		nsStats.SkipIncompressible.Add(1)
		e.spoolAppend(key, value)
		return StatusNoOp, nil, 0
	}

	var meta *routing.Meta
	if e.cfg.EnableDict {
		meta = table.PickByKey(key)
	}

	worker := e.codec.Worker(workerID)

	var out []byte
	var err error
	if meta != nil {
		out = worker.CompressDict(value, meta.Handles.CDict)
	} else {
		out, err = worker.CompressLevel(value, e.cfg.ZstdLevel)
	}
	if err != nil {
		nsStats.CompressErrs.Add(1)
		e.stats.Global().CompressErrs.Add(1)
		obstrace.RecordError(ctx, err)
		if e.log != nil {
			e.log.Warnw("compress codec error", "error", err, "namespace", ns)
		}
		return StatusNoOp, nil, 0
	}

	if ns == stats.DefaultNamespace {
		e.eff.Observe(len(out), len(value))
	}

	e.maybeSample(key, value, meta != nil)

	if len(out) >= len(value) {
		nsStats.SkipIncompressible.Add(1)
		return StatusNoOp, nil, 0
	}

	nsStats.CompressedBytes.Add(uint64(len(out)))
	e.stats.Global().CompressedBytes.Add(uint64(len(out)))

	var id uint16
	if meta != nil {
		id = meta.ID
	}
	return StatusStored, out, id
}

// maybeSample feeds value into the in-process training intake (subject to
// sample_p and the dictionary-availability bias) and, independently, into
// the standalone spool if one is running — the spool records every call
// regardless of EnableSampling, since it exists for offline analysis of
// traffic the in-process trainer never sees.
func (e *Engine) maybeSample(key string, value []byte, haveDict bool) {
	e.spoolAppend(key, value)
	if !e.cfg.EnableSampling {
		return
	}
	e.intake.TryAdd(value, e.cfg.SampleP, haveDict, e.cfg.MinTrainingSize)
}

// spoolAppend records (key, value) in the standalone spool, if one is
// configured. Values the incompressibility filter rejects reach the spool
// through this call but never the training intake.
func (e *Engine) spoolAppend(key string, value []byte) {
	if e.spool == nil {
		return
	}
	if err := e.spool.Append([]byte(key), value, time.Now()); err != nil && e.log != nil {
		e.log.Warnw("spool append failed", "error", err)
	}
}

// MaybeDecompress is the read-path entry point. stored is the item's
// raw stored bytes; item exposes only the flag bits and dictionary id
// the core is allowed to touch. On StatusError the caller must treat
// the item as lost — this is a stored-data-loss event, already counted.
func (e *Engine) MaybeDecompress(ctx context.Context, workerID int, key string, item Item, stored []byte) (Status, []byte, error) {
	ctx, span := e.tracing.StartSpan(ctx, "mcz.MaybeDecompress")
	defer span.End()

	if !item.Compressed() || item.Chunked() {
		return StatusNoOp, stored, nil
	}

	table := e.current.Load()
	ns := matchNamespace(table, key)
	nsStats := e.stats.Namespace(ns)
	nsStats.Reads.Add(1)
	e.stats.Global().Reads.Add(1)

	var meta *routing.Meta
	id := item.DictID()
	if id != 0 {
		m, ok := table.LookupByID(id)
		if !ok {
			nsStats.DictMissErrs.Add(1)
			e.stats.Global().DictMissErrs.Add(1)
			err := mczerr.New(mczerr.NotFound, "MaybeDecompress", fmt.Errorf("dictionary id %d not in current table", id))
			obstrace.RecordError(ctx, err)
			return StatusError, nil, err
		}
		meta = m
	}

	worker := e.codec.Worker(workerID)

	var out []byte
	var err error
	if meta != nil {
		out, err = worker.DecompressDict(stored, meta.Handles.DDict)
	} else {
		out, err = worker.Decompress(stored)
	}
	if err != nil {
		nsStats.DecompressErrs.Add(1)
		e.stats.Global().DecompressErrs.Add(1)
		wrapped := mczerr.New(mczerr.CodecError, "MaybeDecompress", err)
		obstrace.RecordError(ctx, wrapped)
		if e.log != nil {
			e.log.Warnw("decompress codec error", "error", err, "namespace", ns, "dict_id", id)
		}
		return StatusError, nil, wrapped
	}

	return StatusStored, out, nil
}

// Shutdown stops the trainer and GC threads, draining every retired
// table (forcing reclamation regardless of quarantine so pool refcounts
// settle to zero), shuts down tracing, and closes the standalone
// spool if running.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.watchStop != nil {
		_ = e.watchStop()
	}
	e.trainer.Stop()
	e.gc.DrainAll()
	e.gc.Stop()

	for _, m := range e.current.Load().AllMetas() {
		e.pool.Release(m.Signature)
	}

	if e.spool != nil {
		_, _ = e.spool.Stop()
	}

	return e.tracing.Shutdown(ctx)
}
