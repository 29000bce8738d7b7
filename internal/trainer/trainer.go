// Package trainer implements the cooperative background trainer: it
// drains the sample pipeline, trains a dictionary, persists it, and
// republishes the routing table.
package trainer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/gozstd"
	"go.uber.org/zap"

	"github.com/momentumcache/mcz/internal/dictpool"
	"github.com/momentumcache/mcz/internal/efficiency"
	"github.com/momentumcache/mcz/internal/manifest"
	"github.com/momentumcache/mcz/internal/routing"
	"github.com/momentumcache/mcz/internal/sampler"
)

// Mode selects the training strategy, per spec.md's configuration key
// train_mode.
type Mode string

const (
	ModeFast     Mode = "fast"
	ModeOptimize Mode = "optimize"
)

// minDictSize below this, a training result is treated as a failure (the
// spec's "Dictionary size < 1 KiB" rule).
const minDictSize = 1024

// Config bundles the subset of mcz.Config the trainer needs.
type Config struct {
	Enabled         bool
	DictDir         string
	DictSize        int
	Level           int
	Mode            Mode
	RetainMax       int
	Quarantine      time.Duration
	MinTrainingSize uint64
}

// Trainer is the single cooperative background thread.
type Trainer struct {
	cfg Config

	intake  *sampler.Intake
	eff     *efficiency.Tracker
	pool    *dictpool.Pool
	current *atomic.Pointer[routing.Table]
	retire  func(*routing.Table, time.Time)
	log     *zap.SugaredLogger

	active        atomic.Bool
	trainerErrs   atomic.Uint64
	smallDictErrs atomic.Uint64

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Trainer. current is the Engine's shared routing-table
// pointer; retire is called with every table this trainer supersedes.
func New(cfg Config, intake *sampler.Intake, eff *efficiency.Tracker, pool *dictpool.Pool, current *atomic.Pointer[routing.Table], retire func(*routing.Table, time.Time), log *zap.SugaredLogger) *Trainer {
	return &Trainer{
		cfg:     cfg,
		intake:  intake,
		eff:     eff,
		pool:    pool,
		current: current,
		retire:  retire,
		log:     log,
		stop:    make(chan struct{}),
	}
}

// Start launches the one-second cooperative loop.
func (t *Trainer) Start() {
	if !t.cfg.Enabled {
		return
	}
	t.wg.Add(1)
	go t.loop()
}

// Stop signals the loop to exit and joins it.
func (t *Trainer) Stop() {
	close(t.stop)
	t.wg.Wait()
}

func (t *Trainer) loop() {
	defer t.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.tick(time.Now())
		}
	}
}

func (t *Trainer) tick(now time.Time) {
	needTraining := !t.current.Load().HasDefault() || t.eff.ShouldRetrain(now)
	if needTraining {
		t.active.Store(true)
	}
	if !t.active.Load() {
		return
	}
	if t.intake.BytesPending() < t.cfg.MinTrainingSize {
		return
	}
	t.fire(now)
}

// Active reports whether the trainer has latched into its active state
// (set once need_training becomes true, cleared only on a successful
// publish).
func (t *Trainer) Active() bool { return t.active.Load() }

// Errs returns the trainer_errs counter.
func (t *Trainer) Errs() uint64 { return t.trainerErrs.Load() }

// SmallDictErrs returns the count of trainings that produced a
// too-small dictionary.
func (t *Trainer) SmallDictErrs() uint64 { return t.smallDictErrs.Load() }

func (t *Trainer) fire(now time.Time) {
	samples := t.intake.Drain()

	var total uint64
	overflowed := false
	for _, s := range samples {
		if total > math.MaxUint64-uint64(len(s)) {
			overflowed = true
			break
		}
		total += uint64(len(s))
	}

	if overflowed {
		t.trainerErrs.Add(1)
		t.intake.SubBytesPendingSaturating(total)
		if t.log != nil {
			t.log.Warnw("trainer dropped sample batch on byte-count overflow")
		}
		return
	}

	dict, err := t.train(samples)
	if err != nil {
		t.trainerErrs.Add(1)
		t.intake.SubBytesPendingSaturating(total)
		if t.log != nil {
			t.log.Warnw("trainer codec error", "error", err)
		}
		return
	}

	if len(dict) < minDictSize {
		t.smallDictErrs.Add(1)
		t.trainerErrs.Add(1)
		t.intake.SubBytesPendingSaturating(total)
		if t.log != nil {
			t.log.Warnw("trainer produced undersized dictionary", "size", len(dict))
		}
		return
	}

	if err := t.publish(now, dict); err != nil {
		t.trainerErrs.Add(1)
		t.intake.SubBytesPendingSaturating(total)
		if t.log != nil {
			t.log.Warnw("trainer failed to publish new table", "error", err)
		}
		return
	}

	t.intake.SubBytesPendingSaturating(total)
	t.eff.MarkRetrained(now)
	t.active.Store(false)
	if t.log != nil {
		t.log.Infow("trainer published new dictionary", "size", len(dict), "samples", len(samples))
	}
}

// train invokes the codec's dictionary trainer. ModeFast is a single-shot
// call with default parameters; ModeOptimize additionally retrains with a
// larger target capacity and keeps whichever run yields a smaller (more
// specialized) dictionary, approximating the single-threaded
// parameter-search variant the spec describes.
func (t *Trainer) train(samples [][]byte) (dict []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("trainer: codec panic: %v", r)
		}
	}()

	dict = gozstd.BuildDict(samples, t.cfg.DictSize)
	if t.cfg.Mode == ModeOptimize {
		alt := gozstd.BuildDict(samples, t.cfg.DictSize*2)
		if len(alt) > 0 && (len(dict) == 0 || len(alt) < len(dict)) {
			dict = alt
		}
	}
	return dict, nil
}

func signatureOf(dict []byte) string {
	sum := sha256.Sum256(dict)
	return hex.EncodeToString(sum[:])
}

// recordOf adapts a routing.Meta back into the manifest.Record it was
// built from, so its sidecar can be rewritten (e.g. to retire it).
func recordOf(m *routing.Meta) manifest.Record {
	return manifest.Record{
		ID:           m.ID,
		DictPath:     m.BlobPath,
		ManifestPath: m.ManifestPath,
		CreatedAt:    m.CreatedAt,
		RetiredAt:    m.RetiredAt,
		Level:        m.Level,
		Prefixes:     m.Prefixes,
		Signature:    m.Signature,
		DictSize:     m.DictSize,
	}
}

// publish persists the new dictionary, retires the "default" dictionary
// it displaces from position 0 (so its id starts its quarantine instead
// of staying occupied forever), rescans the directory, rebuilds the
// routing table, and atomically republishes it, retiring the previous
// table for GC.
func (t *Trainer) publish(now time.Time, dict []byte) error {
	old := t.current.Load()

	id, err := old.NextAvailableID()
	if err != nil {
		return err
	}

	sig := signatureOf(dict)
	prefixes := []string{routing.DefaultNamespace}

	if _, err := manifest.Write(t.cfg.DictDir, id, t.cfg.Level, prefixes, sig, dict, now); err != nil {
		return err
	}

	if displaced := old.DefaultMeta(); displaced != nil && displaced.Signature != sig {
		if _, err := manifest.Retire(recordOf(displaced), now); err != nil {
			return err
		}
	}

	records, err := manifest.Scan(t.cfg.DictDir, t.cfg.Quarantine, now)
	if err != nil {
		return err
	}

	metas, err := routing.FromManifestRecords(records, t.pool)
	if err != nil {
		return err
	}

	next, err := routing.Build(metas, t.cfg.RetainMax, old.Gen+1)
	if err != nil {
		for _, m := range metas {
			t.pool.Release(m.Signature)
		}
		return err
	}

	t.current.Store(next)
	t.retire(old, now)
	return nil
}
