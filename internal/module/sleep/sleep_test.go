package sleep

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "wisefido-actigraphy/internal/errors"
	"wisefido-actigraphy/internal/models"
	"wisefido-actigraphy/internal/module"
	"wisefido-actigraphy/internal/module/wear"
	"wisefido-actigraphy/internal/synth"
)

var start = time.Date(2024, 5, 6, 20, 0, 0, 0, time.UTC)

func inputFor(stream *models.SensorStream, wearFraction float64) module.Input {
	return module.Input{
		Window:   models.Window{Start: start, End: start.Add(24 * time.Hour)},
		Streams:  map[string]*models.SensorStream{"accel": stream},
		Upstream: map[string]float64{wear.MetricWearFraction: wearFraction},
	}
}

func TestAnalyzer_NightWithAwakening(t *testing.T) {
	stream := synth.Generate(start, 5, []synth.Segment{
		{Duration: 2 * time.Hour, Pattern: synth.Sedentary},
		{Duration: 4 * time.Hour, Pattern: synth.Sleep},
		{Duration: 20 * time.Minute, Pattern: synth.Walking},
		{Duration: 4 * time.Hour, Pattern: synth.Sleep},
		{Duration: 2 * time.Hour, Pattern: synth.Sedentary},
	}, 7)

	m, err := New(nil)
	require.NoError(t, err)
	out, err := m.Run(context.Background(), inputFor(stream, 1))
	require.NoError(t, err)

	missing, err := module.CheckOutput(m.Spec(), out)
	require.NoError(t, err)
	assert.Empty(t, missing)

	assert.InDelta(t, 120, out[MetricTSOStart], 4)
	assert.InDelta(t, 500, out[MetricTSODuration], 8)

	assert.Equal(t, 1.0, out[MetricWakeBouts])
	assert.GreaterOrEqual(t, out[MetricWASO], 19.0)
	assert.LessOrEqual(t, out[MetricWASO], 25.0)
	assert.LessOrEqual(t, out[MetricOnsetLatency], 5.0)
	assert.Greater(t, out[MetricPercentAsleep], 90.0)
	assert.InDelta(t, out[MetricTSODuration]*out[MetricPercentAsleep]/100, out[MetricTST], 2)
	assert.Less(t, out[MetricActivityIndex], 0.05)
}

func TestAnalyzer_NoRestPeriod(t *testing.T) {
	stream := synth.Generate(start, 5, []synth.Segment{
		{Duration: 3 * time.Hour, Pattern: synth.Sedentary},
	}, 8)
	m, err := New(nil)
	require.NoError(t, err)

	_, err = m.Run(context.Background(), inputFor(stream, 1))
	require.Error(t, err)
	assert.True(t, pipeerrors.IsInsufficientData(err))

	_, err = m.Run(context.Background(), inputFor(stream, 0.1))
	assert.True(t, pipeerrors.IsInsufficientData(err))
}

func TestAnalyzer_Configure(t *testing.T) {
	_, err := New(module.Params{"min_angle_threshold": 2.0, "max_angle_threshold": 1.0})
	assert.True(t, pipeerrors.IsConfiguration(err))

	_, err = New(module.Params{"min_rest_block": "0s"})
	assert.True(t, pipeerrors.IsConfiguration(err))

	m, err := New(module.Params{"cole_kripke_threshold": 1.0, "stream": "wrist"})
	require.NoError(t, err)
	assert.Equal(t, []string{"wrist"}, m.Spec().Streams)
}

func TestDetectTSO(t *testing.T) {
	angles := make([]float64, 1000)
	for i := range angles {
		switch {
		case i < 200 || i >= 700:
			angles[i] = float64(i%2) * 20
		default:
			angles[i] = 0.01 * float64(i-200)
		}
	}
	tso, ok := detectTSO(angles, 10, 100, 50, 0.1, 1.0)
	require.True(t, ok)
	assert.InDelta(t, 200, tso.Start, 6)
	assert.InDelta(t, 700, tso.End, 6)
	assert.InDelta(t, 0.15, tso.Threshold, 1e-9)

	// 短暂活动被合并
	for i := 400; i < 420; i++ {
		angles[i] = float64(i%2) * 20
	}
	merged, ok := detectTSO(angles, 10, 100, 50, 0.1, 1.0)
	require.True(t, ok)
	assert.InDelta(t, tso.Start, merged.Start, 1)
	assert.InDelta(t, tso.End, merged.End, 1)

	_, ok = detectTSO(angles[:5], 10, 100, 50, 0.1, 1.0)
	assert.False(t, ok)
}

func TestColeKripke(t *testing.T) {
	ai := make([]float64, 20)
	ai[10] = 0.5
	asleep := coleKripke(ai, 0.243, 0.5)
	// 0.243 × 16.19 × 0.5 ≈ 1.97
	assert.False(t, asleep[10])
	// 之后的分钟受 A(-1)..A(-4) 影响，权重 3.75 时低于阈值
	assert.False(t, asleep[11])
	assert.True(t, asleep[12])
	assert.False(t, asleep[13])
	assert.False(t, asleep[14])
	assert.True(t, asleep[15])
	// 之前只受 A(+1)、A(+2) 影响
	assert.False(t, asleep[9])
	assert.True(t, asleep[8])
	assert.True(t, asleep[7])

	ai[3] = math.NaN()
	asleep = coleKripke(ai, 0.243, 0.5)
	assert.False(t, asleep[3])
	assert.False(t, asleep[1])
	assert.True(t, asleep[0])
}

func TestEndpoints(t *testing.T) {
	asleep := []bool{false, false, true, true, true, false, true, true, false}
	out := endpoints(asleep)

	assert.Equal(t, 5.0, out[MetricTST])
	assert.InDelta(t, 500.0/9, out[MetricPercentAsleep], 1e-9)
	assert.Equal(t, 1.0, out[MetricWakeBouts])
	assert.Equal(t, 2.0, out[MetricOnsetLatency])
	assert.Equal(t, 1.0, out[MetricWASO])
	assert.InDelta(t, 2.5, out[MetricAvgSleepDuration], 1e-9)
	assert.InDelta(t, 4.0/3, out[MetricAvgWakeDuration], 1e-9)
	assert.InDelta(t, 0.4, out[MetricSleepWakeTransit], 1e-9)

	none := endpoints([]bool{false, false})
	assert.Equal(t, 0.0, none[MetricTST])
	assert.True(t, math.IsNaN(none[MetricWASO]))
	assert.True(t, math.IsNaN(none[MetricAvgSleepDuration]))
}
