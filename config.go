package mcz

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/momentumcache/mcz/internal/trainer"
)

// Config holds every configuration key spec.md's external-interfaces
// section names. All fields are optional; DefaultConfig supplies the
// documented defaults and Validate clamps out-of-range values rather
// than rejecting them, matching the source's permissive config layer.
type Config struct {
	EnableComp bool   `yaml:"enable_comp"`
	EnableDict bool   `yaml:"enable_dict"`
	DictDir    string `yaml:"dict_dir"`
	DictSize   int    `yaml:"dict_size"`
	ZstdLevel  int    `yaml:"zstd_level"`

	MinCompSize int `yaml:"min_comp_size"`
	MaxCompSize int `yaml:"max_comp_size"`

	EnableTraining      bool    `yaml:"enable_training"`
	RetrainingIntervalS int     `yaml:"retraining_interval_s"`
	MinTrainingSize     uint64  `yaml:"min_training_size"`
	EWMAAlpha           float64 `yaml:"ewma_alpha"`
	RetrainDrop         float64 `yaml:"retrain_drop"`
	TrainMode           string  `yaml:"train_mode"`

	GCCoolPeriodS       int `yaml:"gc_cool_period_s"`
	GCQuarantinePeriodS int `yaml:"gc_quarantine_period_s"`
	DictRetainMax       int `yaml:"dict_retain_max"`

	EnableSampling        bool    `yaml:"enable_sampling"`
	SampleP               float64 `yaml:"sample_p"`
	SampleWindowDurationS int     `yaml:"sample_window_duration_s"`
	SpoolDir              string  `yaml:"spool_dir"`
	SpoolMaxBytes         int64   `yaml:"spool_max_bytes"`

	// WorkerCount sizes the codec scratch pool; it has no spec.md key
	// because the original source reads it from the host cache's own
	// worker-thread count. Engines embedded in a cache pass it explicitly.
	WorkerCount int `yaml:"worker_count"`

	// JaegerEndpoint is ambient-stack configuration; empty disables
	// export.
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
}

const (
	defaultDictSize    = 256 * 1024
	defaultZstdLevel   = 3
	defaultMinCompSize = 32
	defaultMaxCompSize = 100 * 1024

	defaultRetrainingIntervalS = 7200
	defaultEWMAAlpha           = 0.05
	defaultRetrainDrop         = 0.10

	defaultGCCoolPeriodS       = 3600
	defaultGCQuarantinePeriodS = 7 * 24 * 3600
	defaultDictRetainMax       = 10

	defaultSampleP       = 0.02
	defaultSpoolMaxBytes = 64 * 1024 * 1024

	defaultWorkerCount = 8
)

// DefaultConfig returns the documented defaults. min_training_size has
// no literal default in spec.md ("derived"); this rewrite derives it as
// 32x the target dictionary size, which keeps the sample budget a small
// multiple of what BuildDict needs for a corpus of that size.
func DefaultConfig() Config {
	return Config{
		EnableComp: true,
		EnableDict: true,
		DictSize:   defaultDictSize,
		ZstdLevel:  defaultZstdLevel,

		MinCompSize: defaultMinCompSize,
		MaxCompSize: defaultMaxCompSize,

		EnableTraining:      true,
		RetrainingIntervalS: defaultRetrainingIntervalS,
		MinTrainingSize:     uint64(defaultDictSize) * 32,
		EWMAAlpha:           defaultEWMAAlpha,
		RetrainDrop:         defaultRetrainDrop,
		TrainMode:           string(trainer.ModeFast),

		GCCoolPeriodS:       defaultGCCoolPeriodS,
		GCQuarantinePeriodS: defaultGCQuarantinePeriodS,
		DictRetainMax:       defaultDictRetainMax,

		EnableSampling: true,
		SampleP:        defaultSampleP,
		SpoolMaxBytes:  defaultSpoolMaxBytes,

		WorkerCount: defaultWorkerCount,
	}
}

// LoadConfig reads a YAML file over top of DefaultConfig and validates
// the result. A missing file key keeps its default.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("mcz: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("mcz: parse config %s: %w", path, err)
	}

	cfg.Validate()
	return cfg, nil
}

// Validate brings every bounded field into its documented range, in
// place: zstd_level, ewma_alpha, retrain_drop and dict_retain_max are
// clamped to their bounds; other out-of-range values (sample_p,
// max_comp_size, sizes and periods) are reset to their defaults, and an
// unknown train_mode becomes "fast". It never returns an error:
// out-of-range input is corrected, not rejected, matching the source's
// config layer.
func (c *Config) Validate() {
	c.ZstdLevel = clampInt(c.ZstdLevel, 1, 22)
	if c.DictSize <= 0 {
		c.DictSize = defaultDictSize
	}
	if c.MinCompSize < 0 {
		c.MinCompSize = defaultMinCompSize
	}
	if c.MaxCompSize <= c.MinCompSize {
		c.MaxCompSize = defaultMaxCompSize
	}

	c.EWMAAlpha = clampFloat(c.EWMAAlpha, 0, 1)
	c.RetrainDrop = clampFloat(c.RetrainDrop, 0, 1)
	if c.TrainMode != string(trainer.ModeOptimize) {
		c.TrainMode = string(trainer.ModeFast)
	}
	if c.RetrainingIntervalS <= 0 {
		c.RetrainingIntervalS = defaultRetrainingIntervalS
	}

	c.DictRetainMax = clampInt(c.DictRetainMax, 1, 256)
	if c.GCCoolPeriodS <= 0 {
		c.GCCoolPeriodS = defaultGCCoolPeriodS
	}
	if c.GCQuarantinePeriodS <= 0 {
		c.GCQuarantinePeriodS = defaultGCQuarantinePeriodS
	}

	if c.SampleP <= 0 || c.SampleP > 1 {
		c.SampleP = defaultSampleP
	}
	if c.SpoolMaxBytes <= 0 {
		c.SpoolMaxBytes = defaultSpoolMaxBytes
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = defaultWorkerCount
	}
}

func (c *Config) retrainingInterval() time.Duration {
	return time.Duration(c.RetrainingIntervalS) * time.Second
}

func (c *Config) gcCoolPeriod() time.Duration {
	return time.Duration(c.GCCoolPeriodS) * time.Second
}

func (c *Config) gcQuarantinePeriod() time.Duration {
	return time.Duration(c.GCQuarantinePeriodS) * time.Second
}

func (c *Config) sampleWindow() time.Duration {
	return time.Duration(c.SampleWindowDurationS) * time.Second
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
