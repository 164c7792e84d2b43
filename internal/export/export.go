// Package export 管线结果导出
//
// 每个导出器独立执行，某个导出器失败只记录日志，不影响其他导出器。
package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wisefido-actigraphy/internal/models"
	"wisefido-actigraphy/internal/store"
)

// Exporter 结果导出器
type Exporter interface {
	Name() string
	Export(ctx context.Context, result *store.PipelineResult) error
}

// All 依次执行全部导出器，返回合并后的错误
func All(ctx context.Context, result *store.PipelineResult, logger *zap.Logger, exporters ...Exporter) error {
	var errs []error
	for _, e := range exporters {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		start := time.Now()
		if err := e.Export(ctx, result); err != nil {
			logger.Error("Export failed",
				zap.String("exporter", e.Name()),
				zap.String("run_id", result.RunID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		logger.Info("Export finished",
			zap.String("exporter", e.Name()),
			zap.String("run_id", result.RunID),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
	return errors.Join(errs...)
}

// RunSummary 运行摘要消息
type RunSummary struct {
	RunID     string                 `json:"run_id"`
	StartedAt time.Time              `json:"started_at"`
	EndedAt   time.Time              `json:"ended_at"`
	Cancelled bool                   `json:"cancelled"`
	Error     string                 `json:"error,omitempty"`
	Subjects  []SubjectSummary       `json:"subjects"`
	Counts    map[models.Quality]int `json:"counts"`
}

// SubjectSummary 单个受试者的摘要
type SubjectSummary struct {
	SubjectID    string                 `json:"subject_id"`
	Windows      int                    `json:"windows"`
	ValidWindows int                    `json:"valid_windows"`
	Counts       map[models.Quality]int `json:"counts"`
}

// Summarize 从结果生成摘要
func Summarize(result *store.PipelineResult) RunSummary {
	s := RunSummary{
		RunID:     result.RunID,
		StartedAt: result.StartedAt,
		EndedAt:   result.EndedAt,
		Cancelled: result.Cancelled,
		Error:     result.Error,
		Counts:    result.Summary(),
		Subjects:  []SubjectSummary{},
	}
	for _, id := range result.Subjects() {
		sub := SubjectSummary{SubjectID: id, Counts: make(map[models.Quality]int, len(models.Qualities))}
		for _, q := range models.Qualities {
			sub.Counts[q] = 0
		}
		for _, w := range result.Windows(id) {
			sub.Windows++
			if w.Valid {
				sub.ValidWindows++
			}
		}
		for _, r := range result.BySubject(id) {
			sub.Counts[r.Quality]++
		}
		s.Subjects = append(s.Subjects, sub)
	}
	return s
}
