// Package storetest 测试用的固定管线结果
package storetest

import (
	"math"
	"time"

	"wisefido-actigraphy/internal/models"
	"wisefido-actigraphy/internal/store"
)

// RunID Sample 结果的运行标识
const RunID = "3f6c2a1e-8d4b-4c1a-9e2f-5b7d0c9a8e11"

// Start Sample 第一个窗口的起点
var Start = time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)

// Sample 一个受试者两个窗口（第二个不完整）的结果，含 computed、failed、excluded 三种记录
func Sample() *store.PipelineResult {
	s := store.New()
	w0 := models.Window{
		ID: models.WindowID("s1", "daily@12", Start), SubjectID: "s1", Rule: "daily@12", Index: 0,
		Start: Start, End: Start.Add(24 * time.Hour), Completeness: 0.98, Valid: true,
	}
	w1 := models.Window{
		ID: models.WindowID("s1", "daily@12", w0.End), SubjectID: "s1", Rule: "daily@12", Index: 1,
		Start: w0.End, End: w0.End.Add(24 * time.Hour), Completeness: 0.4, Valid: false,
	}
	if err := s.AddWindows(w0, w1); err != nil {
		panic(err)
	}
	records := []models.MetricRecord{
		{SubjectID: "s1", WindowID: w0.ID, Metric: "sleep_tst", Value: 412.5, Module: "sleep", ModuleVersion: "1.0.0", Quality: models.QualityComputed},
		{SubjectID: "s1", WindowID: w0.ID, Metric: "gait_steps", Value: math.NaN(), Module: "gait", ModuleVersion: "1.0.0", Quality: models.QualityFailed, Reason: "band-pass unstable"},
		{SubjectID: "s1", WindowID: w1.ID, Metric: "sleep_tst", Value: math.NaN(), Module: "sleep", ModuleVersion: "1.0.0", Quality: models.QualityExcluded, Reason: "window completeness 0.400 below threshold 0.900"},
	}
	if err := s.Publish(records); err != nil {
		panic(err)
	}
	res, err := s.Finalize(store.Meta{
		RunID:     RunID,
		StartedAt: Start.Add(72 * time.Hour),
		EndedAt:   Start.Add(72*time.Hour + 3*time.Second),
	})
	if err != nil {
		panic(err)
	}
	return res
}
