package mcz

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigMatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.EnableComp)
	assert.True(t, cfg.EnableDict)
	assert.Equal(t, defaultDictSize, cfg.DictSize)
	assert.Equal(t, defaultZstdLevel, cfg.ZstdLevel)
	assert.Equal(t, defaultMinCompSize, cfg.MinCompSize)
	assert.Equal(t, defaultMaxCompSize, cfg.MaxCompSize)
	assert.True(t, cfg.EnableTraining)
	assert.Equal(t, defaultRetrainingIntervalS, cfg.RetrainingIntervalS)
	assert.InDelta(t, defaultEWMAAlpha, cfg.EWMAAlpha, 1e-9)
	assert.InDelta(t, defaultRetrainDrop, cfg.RetrainDrop, 1e-9)
	assert.Equal(t, defaultGCCoolPeriodS, cfg.GCCoolPeriodS)
	assert.Equal(t, defaultGCQuarantinePeriodS, cfg.GCQuarantinePeriodS)
	assert.Equal(t, defaultDictRetainMax, cfg.DictRetainMax)
	assert.True(t, cfg.EnableSampling)
	assert.InDelta(t, defaultSampleP, cfg.SampleP, 1e-9)
	assert.Equal(t, int64(defaultSpoolMaxBytes), cfg.SpoolMaxBytes)
}

func TestValidateClampsZstdLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ZstdLevel = 999
	cfg.Validate()
	assert.Equal(t, 22, cfg.ZstdLevel)

	cfg.ZstdLevel = -5
	cfg.Validate()
	assert.Equal(t, 1, cfg.ZstdLevel)
}

func TestValidateResetsMaxLessThanMin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinCompSize = 1000
	cfg.MaxCompSize = 10
	cfg.Validate()
	assert.Equal(t, defaultMaxCompSize, cfg.MaxCompSize)
}

func TestValidateClampsEWMAAlphaAndRetrainDrop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EWMAAlpha = 5
	cfg.RetrainDrop = -1
	cfg.Validate()
	assert.Equal(t, 1.0, cfg.EWMAAlpha)
	assert.Equal(t, 0.0, cfg.RetrainDrop)
}

func TestValidateFallsBackToFastOnUnknownTrainMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TrainMode = "bogus"
	cfg.Validate()
	assert.Equal(t, "fast", cfg.TrainMode)

	cfg.TrainMode = "optimize"
	cfg.Validate()
	assert.Equal(t, "optimize", cfg.TrainMode)
}

func TestValidateClampsDictRetainMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DictRetainMax = 0
	cfg.Validate()
	assert.Equal(t, 1, cfg.DictRetainMax)

	cfg.DictRetainMax = 5000
	cfg.Validate()
	assert.Equal(t, 256, cfg.DictRetainMax)
}

func TestValidateResetsOutOfRangeSampleP(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleP = 0
	cfg.Validate()
	assert.InDelta(t, defaultSampleP, cfg.SampleP, 1e-9)

	cfg.SampleP = 1.5
	cfg.Validate()
	assert.InDelta(t, defaultSampleP, cfg.SampleP, 1e-9)
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcz.yaml")
	yamlContent := "dict_dir: /var/lib/mcz\nzstd_level: 9\nsample_p: 0.1\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/mcz", cfg.DictDir)
	assert.Equal(t, 9, cfg.ZstdLevel)
	assert.InDelta(t, 0.1, cfg.SampleP, 1e-9)
	// Untouched keys keep their defaults.
	assert.Equal(t, defaultDictSize, cfg.DictSize)
}

func TestLoadConfigMissingFileErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
