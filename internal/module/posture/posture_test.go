package posture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "wisefido-actigraphy/internal/errors"
	"wisefido-actigraphy/internal/models"
	"wisefido-actigraphy/internal/module"
	"wisefido-actigraphy/internal/synth"
)

var (
	start   = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	upright = synth.Pattern{Name: "upright", AngleDeg: 80, Noise: 0.002}
	lying   = synth.Pattern{Name: "lying", AngleDeg: 5, Noise: 0.002}
)

func TestClassifier_Transitions(t *testing.T) {
	stream := synth.Generate(start, 10, []synth.Segment{
		{Duration: 10 * time.Minute, Pattern: upright},
		{Duration: 10 * time.Minute, Pattern: lying},
		{Duration: 5 * time.Minute, Pattern: upright},
		{Duration: 10 * time.Second, Pattern: lying},
		{Duration: 5*time.Minute - 10*time.Second, Pattern: upright},
	}, 4)

	m, err := New(nil)
	require.NoError(t, err)

	out, err := m.Run(context.Background(), module.Input{
		Window:  models.Window{Start: start, End: start.Add(30 * time.Minute)},
		Streams: map[string]*models.SensorStream{"accel": stream},
	})
	require.NoError(t, err)

	assert.InDelta(t, 238.0/360.0, out[MetricUprightFraction], 1e-9)
	assert.InDelta(t, 122.0/360.0, out[MetricLyingFraction], 1e-9)
	assert.Equal(t, 2.0, out[MetricTransitions])
	assert.InDelta(t, 4.0, out[MetricTransitionsPerHour], 1e-9)
	assert.InDelta(t, (238*80.0+122*5.0)/360, out[MetricMeanZAngle], 0.2)
}

func TestClassifier_AllEpochsSpanGaps(t *testing.T) {
	stream := synth.Generate(start, 1, []synth.Segment{{Duration: 4 * time.Second, Pattern: upright}}, 5)
	m, err := New(nil)
	require.NoError(t, err)

	_, err = m.Run(context.Background(), module.Input{
		Streams: map[string]*models.SensorStream{"accel": stream},
	})
	// 4 个样本不足一个 5s epoch
	assert.True(t, pipeerrors.IsInsufficientData(err))
}

func TestCountTransitions(t *testing.T) {
	states := []bool{true, true, true, false, true, true, false, false, false}
	assert.Equal(t, 1, countTransitions(states, 2))
	assert.Equal(t, 3, countTransitions(states, 0))
	assert.Equal(t, 0, countTransitions(nil, 2))
}

func TestNew_InvalidParams(t *testing.T) {
	_, err := New(module.Params{"upright_angle": 95.0})
	assert.True(t, pipeerrors.IsConfiguration(err))
}
