package store

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "wisefido-actigraphy/internal/errors"
	"wisefido-actigraphy/internal/models"
)

var day = time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

func window(subject string, index int) models.Window {
	start := day.AddDate(0, 0, index)
	return models.Window{
		ID:           models.WindowID(subject, "daily", start),
		SubjectID:    subject,
		Rule:         "daily",
		Index:        index,
		Start:        start,
		End:          start.AddDate(0, 0, 1),
		Completeness: 1,
		Valid:        true,
	}
}

func record(w models.Window, module, metric string, v float64, q models.Quality) models.MetricRecord {
	return models.MetricRecord{
		SubjectID: w.SubjectID, WindowID: w.ID, Metric: metric, Value: v,
		Module: module, ModuleVersion: "1.0.0", Quality: q,
	}
}

func TestStore_PublishRejectsDuplicates(t *testing.T) {
	s := New()
	w := window("s1", 0)
	require.NoError(t, s.AddWindows(w))

	require.NoError(t, s.Publish([]models.MetricRecord{record(w, "wear", "wear_hours", 20, models.QualityComputed)}))

	err := s.Publish([]models.MetricRecord{
		record(w, "gait", "gait_steps", 100, models.QualityComputed),
		record(w, "other", "wear_hours", 1, models.QualityComputed),
	})
	assert.ErrorIs(t, err, pipeerrors.ErrDuplicateRecord)
	// 整批拒绝
	assert.Equal(t, 1, s.Len())

	err = s.Publish([]models.MetricRecord{
		record(w, "gait", "gait_steps", 1, models.QualityComputed),
		record(w, "gait", "gait_steps", 2, models.QualityComputed),
	})
	assert.ErrorIs(t, err, pipeerrors.ErrDuplicateRecord)
	assert.Equal(t, 1, s.Len())
}

func TestStore_ConcurrentPublish(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := window("s1", i)
			assert.NoError(t, s.AddWindows(w))
			assert.NoError(t, s.Publish([]models.MetricRecord{
				record(w, "wear", "wear_hours", float64(i), models.QualityComputed),
				record(w, "wear", "wear_fraction", 1, models.QualityComputed),
			}))
		}(i)
	}
	wg.Wait()

	res, err := s.Finalize(Meta{RunID: "r"})
	require.NoError(t, err)
	require.Equal(t, 40, res.Len())
	recs := res.Records()
	for i := 0; i < 20; i++ {
		assert.Equal(t, float64(i), recs[2*i+1].Value, "records sorted by window then metric")
		assert.Equal(t, "wear_hours", recs[2*i+1].Metric)
	}
}

func TestStore_FinalizeIsTerminal(t *testing.T) {
	s := New()
	_, err := s.Finalize(Meta{})
	require.NoError(t, err)

	_, err = s.Finalize(Meta{})
	assert.ErrorIs(t, err, pipeerrors.ErrResultFinalized)
	assert.ErrorIs(t, s.Publish(nil), pipeerrors.ErrResultFinalized)
	assert.ErrorIs(t, s.AddWindows(window("s", 0)), pipeerrors.ErrResultFinalized)
}

func TestPipelineResult_Accessors(t *testing.T) {
	s := New()
	a0, a1, b0 := window("a", 0), window("a", 1), window("b", 0)
	b0.Valid = false
	require.NoError(t, s.AddWindows(b0, a1, a0))
	require.NoError(t, s.Publish([]models.MetricRecord{
		record(a0, "wear", "wear_hours", 23, models.QualityComputed),
		record(a0, "gait", "gait_steps", math.NaN(), models.QualityFailed),
	}))
	require.NoError(t, s.Publish([]models.MetricRecord{
		record(a1, "gait", "gait_steps", math.NaN(), models.QualitySkippedDependency),
	}))
	require.NoError(t, s.Publish([]models.MetricRecord{
		record(b0, "wear", "wear_hours", math.NaN(), models.QualityExcluded),
	}))

	res, err := s.Finalize(Meta{RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)

	assert.Equal(t, []string{"a", "b"}, res.Subjects())
	assert.Len(t, res.Windows("a"), 2)
	assert.Equal(t, a0.ID, res.Windows("a")[0].ID)
	assert.Len(t, res.Windows(""), 3)

	rec, ok := res.Get("a", a0.ID, "wear_hours")
	require.True(t, ok)
	assert.Equal(t, 23.0, rec.Value)
	_, ok = res.Get("a", a0.ID, "nope")
	assert.False(t, ok)

	assert.Len(t, res.BySubject("a"), 3)
	assert.Len(t, res.ByModule("gait"), 2)

	sum := res.Summary()
	assert.Equal(t, map[models.Quality]int{
		models.QualityComputed:          1,
		models.QualityExcluded:          1,
		models.QualitySkippedDependency: 1,
		models.QualityFailed:            1,
	}, sum)

	rows := res.Table()
	require.Len(t, rows, 4)
	assert.Equal(t, "gait_steps", rows[0].Metric)
	assert.Equal(t, a0.Start, rows[0].WindowStart)
	cells := rows[0].Cells()
	require.Len(t, cells, len(TableHeader))
	assert.Nil(t, cells[6])
	assert.Equal(t, 23.0, rows[1].Cells()[6])

	// 返回的是副本
	recs := res.Records()
	recs[0].Value = 99
	again, _ := res.Get("a", a0.ID, "gait_steps")
	assert.True(t, math.IsNaN(again.Value))
}
