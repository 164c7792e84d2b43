package activity

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "wisefido-actigraphy/internal/errors"
	"wisefido-actigraphy/internal/kernel"
	"wisefido-actigraphy/internal/models"
	"wisefido-actigraphy/internal/module"
	"wisefido-actigraphy/internal/module/wear"
)

var start = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

type block struct {
	minutes int
	enmo    float64
}

// constantENMO 生成 ENMO 恒定的分段数据（z 轴 = 1 + enmo）
func constantENMO(fs float64, blocks []block) *models.SensorStream {
	s := &models.SensorStream{Name: "accel", SampleRate: fs, Channels: []string{"x", "y", "z"}, Values: make([][]float64, 3)}
	t0 := models.UnixSeconds(start)
	i := 0
	for _, b := range blocks {
		n := int(float64(b.minutes) * 60 * fs)
		for k := 0; k < n; k++ {
			s.Time = append(s.Time, t0+float64(i)/fs)
			s.Values[0] = append(s.Values[0], 0)
			s.Values[1] = append(s.Values[1], 0)
			s.Values[2] = append(s.Values[2], 1+b.enmo)
			i++
		}
	}
	return s
}

func inputFor(stream *models.SensorStream, wearFraction float64) module.Input {
	return module.Input{
		Window:   models.Window{Start: start, End: start.Add(time.Hour)},
		Streams:  map[string]*models.SensorStream{"accel": stream},
		Upstream: map[string]float64{wear.MetricWearFraction: wearFraction},
	}
}

func TestAnalyzer_IntensityLevels(t *testing.T) {
	stream := constantENMO(5, []block{{30, 0.02}, {10, 0.08}, {15, 0.21}, {5, 0.61}})
	m, err := New(nil)
	require.NoError(t, err)

	out, err := m.Run(context.Background(), inputFor(stream, 1))
	require.NoError(t, err)

	missing, err := module.CheckOutput(m.Spec(), out)
	require.NoError(t, err)
	assert.Empty(t, missing)

	assert.InDelta(t, 7.6/60, out[MetricENMOMean], 1e-9)
	assert.InDelta(t, 30, out[MetricSedMinutes], 1e-9)
	assert.InDelta(t, 10, out[MetricLightMinutes], 1e-9)
	assert.InDelta(t, 15, out[MetricModMinutes], 1e-9)
	assert.InDelta(t, 5, out[MetricVigMinutes], 1e-9)
	assert.InDelta(t, 20, out[MetricMVPAMinutes], 1e-9)
	assert.InDelta(t, 20, out[MetricMVPABout], 1e-9)

	assert.InDelta(t, 0.61, out[MetricMaxAcc5], 1e-9)
	assert.InDelta(t, 7.0/30, out[MetricMaxAcc30], 1e-9)
	assert.InDelta(t, 0, out[MetricBandPower], 1e-12)

	lx := []float64{math.Log(12.5), math.Log(87.5), math.Log(212.5), math.Log(612.5)}
	ly := []float64{math.Log(30), math.Log(10), math.Log(15), math.Log(5)}
	slope, icpt, r2, err := kernel.LinearFit(lx, ly)
	require.NoError(t, err)
	assert.InDelta(t, slope, out[MetricIG], 1e-9)
	assert.InDelta(t, icpt, out[MetricIGIntercept], 1e-9)
	assert.InDelta(t, r2, out[MetricIGR2], 1e-9)
	assert.Less(t, out[MetricIG], 0.0)

	assert.InDelta(t, 30, out[MetricSedAvgDuration], 1e-9)
	assert.InDelta(t, 1.0/30, out[MetricSedTransition], 1e-9)
	assert.Equal(t, 0.0, out[MetricSedGini])
	assert.InDelta(t, 1, out[MetricSedAvgHazard], 1e-9)
	assert.InDelta(t, 1+1/math.Log(30/29.5), out[MetricSedPowerLaw], 1e-9)
}

func TestAnalyzer_LowWearIsExcluded(t *testing.T) {
	stream := constantENMO(5, []block{{60, 0.02}})
	m, err := New(nil)
	require.NoError(t, err)

	_, err = m.Run(context.Background(), inputFor(stream, 0.2))
	require.Error(t, err)
	assert.True(t, pipeerrors.IsInsufficientData(err))

	in := inputFor(stream, 1)
	in.Upstream = nil
	_, err = m.Run(context.Background(), in)
	assert.True(t, pipeerrors.IsModule(err))
}

func TestAnalyzer_GapEpochsDropped(t *testing.T) {
	stream := constantENMO(5, []block{{60, 0.02}})
	in := inputFor(stream, 1)
	// 第 10 分钟中间缺失
	in.Breaks = map[string][]int{"accel": {10*300 + 12}}

	m, err := New(nil)
	require.NoError(t, err)
	out, err := m.Run(context.Background(), in)
	require.NoError(t, err)
	// 丢弃一个 5s epoch
	assert.InDelta(t, 60-1.0/12, out[MetricSedMinutes], 1e-9)
	// 跨缺失的那一分钟被丢弃
	assert.InDelta(t, 59, out[MetricSedAvgDuration], 1e-9)
}

func TestBoutMinutes(t *testing.T) {
	// 1 分钟 epoch，10 分钟 bout，80%
	x := []float64{0, 1, 1, 1, 1, 0, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0}
	got := BoutMinutes(x, 0.5, math.Inf(1), 60, 10, 0.8, false, BoutSliding)
	assert.InDelta(t, 10, got, 1e-9)
	closed := BoutMinutes(x, 0.5, math.Inf(1), 60, 10, 0.8, true, BoutSliding)
	assert.InDelta(t, 11, closed, 1e-9)

	for _, m := range []BoutMetric{BoutSliding, BoutGroups, BoutNoLongBreaks, BoutAnchored} {
		assert.Equal(t, 0.0, BoutMinutes(x[:5], 0.5, math.Inf(1), 60, 10, 0.8, false, m))
	}
}

func TestBoutMinutes_Metrics(t *testing.T) {
	ones := func(n int) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = 1
		}
		return out
	}
	zeros := func(n int) []float64 { return make([]float64, n) }
	concat := func(parts ...[]float64) []float64 {
		var out []float64
		for _, p := range parts {
			out = append(out, p...)
		}
		return out
	}

	// 两段活动之间各有 1 分钟与 2 分钟中断
	twoBreaks := concat(zeros(2), ones(4), zeros(1), ones(5), zeros(2), ones(4), zeros(6))
	// 中断长度 2、1、6 分钟
	mixed := concat(ones(3), zeros(2), ones(4), zeros(1), ones(5), zeros(6), ones(4), zeros(1))

	tests := []struct {
		name   string
		x      []float64
		metric BoutMetric
		want   float64
	}{
		{"sliding two breaks", twoBreaks, BoutSliding, 13},
		{"groups two breaks", twoBreaks, BoutGroups, 16},
		{"no long breaks two breaks", twoBreaks, BoutNoLongBreaks, 16},
		{"anchored two breaks", twoBreaks, BoutAnchored, 9},
		{"sliding mixed", mixed, BoutSliding, 9},
		{"groups mixed", mixed, BoutGroups, 11},
		{"no long breaks mixed", mixed, BoutNoLongBreaks, 16},
		{"anchored mixed", mixed, BoutAnchored, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// 1 分钟 epoch，5 分钟 bout，70%
			got := BoutMinutes(tt.x, 0.5, math.Inf(1), 60, 5, 0.7, false, tt.metric)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	// 30 秒 epoch，3 分钟 bout，60%
	assert.InDelta(t, 9.0, BoutMinutes(twoBreaks, 0.5, math.Inf(1), 30, 3, 0.6, false, BoutGroups), 1e-9)
	assert.InDelta(t, 7.5, BoutMinutes(twoBreaks, 0.5, math.Inf(1), 30, 3, 0.6, false, BoutAnchored), 1e-9)
}

func TestAnalyzer_BoutMetricParam(t *testing.T) {
	m, err := New(module.Params{"bout_metric": 3})
	require.NoError(t, err)
	assert.Equal(t, BoutNoLongBreaks, m.(*Analyzer).cfg.BoutMetric)

	m, err = New(module.Params{"bout_metric": "4"})
	require.NoError(t, err)
	assert.Equal(t, BoutAnchored, m.(*Analyzer).cfg.BoutMetric)

	for _, bad := range []any{0, 5, 2.5, "sliding"} {
		_, err = New(module.Params{"bout_metric": bad})
		assert.True(t, pipeerrors.IsConfiguration(err), "bout_metric %v", bad)
	}

	// 默认 bout metric 1
	m, err = New(nil)
	require.NoError(t, err)
	assert.Equal(t, BoutSliding, m.(*Analyzer).cfg.BoutMetric)
}

func TestAnalyzer_ShortWindowExcludesMetrics(t *testing.T) {
	// 20 分钟：不足 30 分钟最大加速度；分段 30 分钟时频带功率没有完整分段
	stream := constantENMO(5, []block{{20, 0.02}})
	m, err := New(module.Params{"band_segment": "30m"})
	require.NoError(t, err)

	out, err := m.Run(context.Background(), inputFor(stream, 1))
	var excluded *module.Exclusions
	require.ErrorAs(t, err, &excluded)
	assert.Equal(t, []string{MetricBandPower, MetricMaxAcc30}, excluded.Metrics())
	reason, ok := excluded.Reason(MetricBandPower)
	require.True(t, ok)
	assert.Contains(t, reason, "insufficient data")

	require.NoError(t, excluded.Check(m.Spec(), out))
	missing, err := module.CheckOutput(m.Spec(), out)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{MetricBandPower, MetricMaxAcc30}, missing)
	assert.InDelta(t, 0.02, out[MetricMaxAcc5], 1e-9)
	assert.InDelta(t, 20, out[MetricSedMinutes], 1e-9)
}

func TestAnalyzer_GapsExcludeBandPower(t *testing.T) {
	stream := constantENMO(5, []block{{60, 0.02}})
	in := inputFor(stream, 1)
	// 每个 5 分钟分段内都有缺失
	var breaks []int
	for k := 0; k < 12; k++ {
		breaks = append(breaks, k*1500+700)
	}
	in.Breaks = map[string][]int{"accel": breaks}

	m, err := New(nil)
	require.NoError(t, err)
	out, err := m.Run(context.Background(), in)
	var excluded *module.Exclusions
	require.ErrorAs(t, err, &excluded)
	assert.Equal(t, []string{MetricBandPower}, excluded.Metrics())
	assert.NotContains(t, out, MetricBandPower)
}

func TestCutpoints(t *testing.T) {
	cp, err := LookupCutpoints("migueles_wrist_adult")
	require.NoError(t, err)
	lo, hi := cp.Thresholds(LevelMod)
	assert.Equal(t, 0.110, lo)
	assert.Equal(t, 0.440, hi)

	_, err = LookupCutpoints("unknown")
	assert.True(t, pipeerrors.IsConfiguration(err))

	_, err = New(module.Params{"epoch": "7s"})
	assert.True(t, pipeerrors.IsConfiguration(err))
}
