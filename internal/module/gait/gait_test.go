package gait

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
	"wisefido-actigraphy/internal/synth"
)

var start = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

func inputFor(stream *models.SensorStream) module.Input {
	return module.Input{
		Window:  models.Window{Start: start, End: start.Add(time.Hour)},
		Streams: map[string]*models.SensorStream{"accel": stream},
	}
}

func TestAnalyzer_WalkingBout(t *testing.T) {
	stream := synth.Generate(start, 20, []synth.Segment{
		{Duration: 5 * time.Minute, Pattern: synth.Sedentary},
		{Duration: 10 * time.Minute, Pattern: synth.Walking},
		{Duration: 5 * time.Minute, Pattern: synth.Sedentary},
	}, 11)

	m, err := New(nil)
	require.NoError(t, err)
	out, err := m.Run(context.Background(), inputFor(stream))
	require.NoError(t, err)

	missing, err := module.CheckOutput(m.Spec(), out)
	require.NoError(t, err)
	assert.Empty(t, missing)

	assert.Equal(t, 1.0, out[MetricBouts])
	assert.InDelta(t, 10, out[MetricWalkingMinutes], 0.2)
	assert.InDelta(t, 1080, out[MetricSteps], 30)
	assert.InDelta(t, 108, out[MetricCadence], 3)
	assert.InDelta(t, 1.8, out[MetricStepFrequency], 0.05)
	assert.Greater(t, out[MetricStepRegularity], 0.8)
	assert.InDelta(t, 3.6, out[MetricZeroCrossingRate], 0.2)
}

func TestAnalyzer_BoutSplitAtGap(t *testing.T) {
	stream := synth.Generate(start, 20, []synth.Segment{
		{Duration: 2 * time.Minute, Pattern: synth.Walking},
	}, 12)
	in := inputFor(stream)
	in.Breaks = map[string][]int{"accel": {1200}}

	m, err := New(nil)
	require.NoError(t, err)
	out, err := m.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 2.0, out[MetricBouts])
}

func TestAnalyzer_NoWalking(t *testing.T) {
	stream := synth.Generate(start, 20, []synth.Segment{
		{Duration: 10 * time.Minute, Pattern: synth.Sedentary},
	}, 13)

	m, err := New(nil)
	require.NoError(t, err)
	out, err := m.Run(context.Background(), inputFor(stream))
	require.NoError(t, err)

	assert.Equal(t, 0.0, out[MetricBouts])
	assert.Equal(t, 0.0, out[MetricSteps])
	assert.True(t, math.IsNaN(out[MetricCadence]))
	assert.True(t, math.IsNaN(out[MetricStepRegularity]))
}

func TestAnalyzer_LowSampleRate(t *testing.T) {
	stream := synth.Generate(start, 5, []synth.Segment{
		{Duration: 10 * time.Minute, Pattern: synth.Walking},
	}, 14)
	m, err := New(nil)
	require.NoError(t, err)

	_, err = m.Run(context.Background(), inputFor(stream))
	require.Error(t, err)
	assert.True(t, pipeerrors.IsInsufficientData(err))
}

func TestSplitAtBreaks(t *testing.T) {
	got := splitAtBreaks(bout{10, 100}, []int{5, 40, 99, 120})
	assert.Equal(t, []bout{{10, 41}, {41, 100}}, got)
}

func TestConfigure(t *testing.T) {
	_, err := New(module.Params{"band_low": 3.0, "band_high": 1.0})
	assert.True(t, pipeerrors.IsConfiguration(err))

	_, err = New(module.Params{"min_bout": "1s"})
	assert.True(t, pipeerrors.IsConfiguration(err))
}
