package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "wisefido-actigraphy/internal/errors"
	"wisefido-actigraphy/internal/module"
	"wisefido-actigraphy/internal/pipeline"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PIPELINE_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "daily", cfg.Pipeline.WindowRule)
	assert.Equal(t, 0.9, cfg.Pipeline.CompletenessThreshold)
	assert.Equal(t, 1.5, cfg.Pipeline.GapToleranceFactor)
	assert.Equal(t, "accel", cfg.Pipeline.PrimaryStream)
	assert.Len(t, cfg.Modules, 5)
	assert.Equal(t, "host=localhost port=5432 user=postgres password=postgres dbname=actigraphy sslmode=disable",
		cfg.Database.GetDSN())
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("WINDOW_RULE", "daily@12")
	t.Setenv("COMPLETENESS_THRESHOLD", "0.75")
	t.Setenv("PIPELINE_WORKERS", "8")
	t.Setenv("STRICT_DEPENDENCIES", "true")
	t.Setenv("EXPORT_REDIS", "1")
	t.Setenv("DB_PORT", "not-a-port")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "daily@12", cfg.Pipeline.WindowRule)
	assert.Equal(t, 0.75, cfg.Pipeline.CompletenessThreshold)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.True(t, cfg.Pipeline.StrictDependencies)
	assert.True(t, cfg.Export.Redis)
	assert.Equal(t, 5432, cfg.Database.Port)
}

const pipelineYAML = `
window_rule: rolling:6h/1h
resample_rate: 20
module_params:
  gait:
    std_threshold: 0.08
modules:
  - name: wear
  - name: sleep
    params:
      min_rest_block: 45m
`

func TestPipelineFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(pipelineYAML), 0o600))
	t.Setenv("PIPELINE_FILE", path)
	t.Setenv("COMPLETENESS_THRESHOLD", "0.8")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, path, cfg.PipelineFile)
	assert.Equal(t, "rolling:6h/1h", cfg.Pipeline.WindowRule)
	assert.Equal(t, 20.0, cfg.Pipeline.ResampleRate)
	// 文件中未出现的字段保持环境配置
	assert.Equal(t, 0.8, cfg.Pipeline.CompletenessThreshold)
	assert.Equal(t, 0.08, cfg.Pipeline.ModuleParams["gait"]["std_threshold"])

	require.Len(t, cfg.Modules, 2)
	assert.Equal(t, "sleep", cfg.Modules[1].Name)
	d, err := cfg.Modules[1].Params.Duration("min_rest_block", 0)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, d)
}

func TestPipelineFile_Apply(t *testing.T) {
	opts := pipeline.Options{ModuleParams: map[string]module.Params{"gait": {"band_low": 0.6}}}
	f, err := ParsePipelineFile([]byte(pipelineYAML))
	require.NoError(t, err)
	f.Apply(&opts)
	assert.Equal(t, module.Params{"band_low": 0.6, "std_threshold": 0.08}, opts.ModuleParams["gait"])
}

func TestPipelineFile_Errors(t *testing.T) {
	_, err := ParsePipelineFile([]byte("window_rul: daily\n"))
	assert.True(t, pipeerrors.IsConfiguration(err))

	_, err = ParsePipelineFile([]byte("modules:\n  - name: wear\n  - name: wear\n"))
	assert.ErrorIs(t, err, pipeerrors.ErrDuplicateModule)

	_, err = ParsePipelineFile([]byte("modules:\n  - params: {a: 1}\n"))
	assert.ErrorIs(t, err, pipeerrors.ErrInvalidOption)

	_, err = LoadPipelineFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, pipeerrors.IsConfiguration(err))
}
