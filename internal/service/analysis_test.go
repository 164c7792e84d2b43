package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-actigraphy/internal/config"
	pipeerrors "wisefido-actigraphy/internal/errors"
	"wisefido-actigraphy/internal/models"
	"wisefido-actigraphy/internal/module"
	"wisefido-actigraphy/internal/pipeline"
	"wisefido-actigraphy/internal/synth"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	cfg := &config.Config{
		Pipeline: pipeline.Options{
			WindowRule:            "rolling:1h",
			CompletenessThreshold: 0.9,
			GapToleranceFactor:    1.5,
			PrimaryStream:         "accel",
			Workers:               2,
		},
		Modules: []module.Definition{{Name: "wear"}, {Name: "posture"}},
	}
	cfg.Export.ExcelPath = filepath.Join(dir, "result.xlsx")
	cfg.Export.MetricsFile = filepath.Join(dir, "actigraphy.prom")
	return cfg
}

func subject() *models.SubjectData {
	start := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	stream := synth.Generate(start, 5, []synth.Segment{{Duration: 2 * time.Hour, Pattern: synth.Sedentary}}, 21)
	return &models.SubjectData{SubjectID: "s1", Streams: map[string]*models.SensorStream{"accel": stream}}
}

func TestAnalysisService_Analyze(t *testing.T) {
	mr := miniredis.RunT(t)
	var reports int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&reports, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":0,"msg":"ok"}`))
	}))
	defer server.Close()

	cfg := testConfig(t)
	cfg.Export.Redis = true
	cfg.Redis.Addr = mr.Addr()
	cfg.Export.ResultStream = "actigraphy:test"
	cfg.Export.ReportURL = server.URL

	ctx := context.Background()
	s, err := NewAnalysisService(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer s.Stop(ctx)
	assert.Len(t, s.exporters, 3)

	res, err := s.Analyze(ctx, subject())
	require.NoError(t, err)
	assert.Len(t, res.Windows("s1"), 2)
	assert.Equal(t, 2*(2+5), res.Len())

	n, err := s.redisClient.XLen(ctx, "actigraphy:test").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(res.Len()+1), n)

	assert.FileExists(t, cfg.Export.ExcelPath)
	prom, err := os.ReadFile(cfg.Export.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `actigraphy_runs_total{outcome="ok"} 1`)
	assert.Equal(t, int32(1), atomic.LoadInt32(&reports))
}

func TestAnalysisService_ExportFailureKeepsResult(t *testing.T) {
	cfg := testConfig(t)
	cfg.Export.ExcelPath = filepath.Join(t.TempDir(), "missing-dir", "result.xlsx")

	ctx := context.Background()
	s, err := NewAnalysisService(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer s.Stop(ctx)

	res, err := s.Analyze(ctx, subject())
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 14, res.Len())
	assert.Contains(t, err.Error(), "excel")
}

func TestNewAnalysisService_Errors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Modules = []module.Definition{{Name: "ghost"}}
	_, err := NewAnalysisService(context.Background(), cfg, zap.NewNop())
	assert.ErrorIs(t, err, pipeerrors.ErrUnknownModule)

	cfg = testConfig(t)
	cfg.Pipeline.WindowRule = "fortnightly"
	_, err = NewAnalysisService(context.Background(), cfg, zap.NewNop())
	assert.True(t, pipeerrors.IsConfiguration(err))

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	cfg = testConfig(t)
	cfg.Export.Redis = true
	cfg.Redis.Addr = addr
	_, err = NewAnalysisService(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "redis")
}
