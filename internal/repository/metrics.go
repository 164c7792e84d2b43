// Package repository 管线结果的 PostgreSQL 持久化
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"wisefido-actigraphy/internal/models"
	"wisefido-actigraphy/internal/store"
)

// Schema 结果表结构
const Schema = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_id      UUID PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	ended_at    TIMESTAMPTZ NOT NULL,
	cancelled   BOOLEAN NOT NULL DEFAULT FALSE,
	error       TEXT,
	computed    INTEGER NOT NULL DEFAULT 0,
	excluded    INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS analysis_windows (
	run_id       UUID NOT NULL REFERENCES pipeline_runs(run_id) ON DELETE CASCADE,
	window_id    TEXT NOT NULL,
	subject_id   TEXT NOT NULL,
	rule         TEXT NOT NULL,
	window_start TIMESTAMPTZ NOT NULL,
	window_end   TIMESTAMPTZ NOT NULL,
	completeness DOUBLE PRECISION NOT NULL,
	valid        BOOLEAN NOT NULL,
	PRIMARY KEY (run_id, window_id)
);
CREATE TABLE IF NOT EXISTS metric_records (
	run_id         UUID NOT NULL REFERENCES pipeline_runs(run_id) ON DELETE CASCADE,
	subject_id     TEXT NOT NULL,
	window_id      TEXT NOT NULL,
	metric         TEXT NOT NULL,
	value          DOUBLE PRECISION,
	module         TEXT NOT NULL,
	module_version TEXT NOT NULL,
	quality        TEXT NOT NULL,
	reason         TEXT,
	PRIMARY KEY (run_id, subject_id, window_id, metric)
);`

// RunSummary pipeline_runs 中的一行
type RunSummary struct {
	RunID     string
	StartedAt time.Time
	EndedAt   time.Time
	Cancelled bool
	Error     string
	Counts    map[models.Quality]int
}

// MetricsRepository 指标结果仓库
type MetricsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMetricsRepository 创建指标结果仓库
func NewMetricsRepository(db *sql.DB, logger *zap.Logger) *MetricsRepository {
	return &MetricsRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema 建表（幂等）
func (r *MetricsRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveRun 在一个事务中写入运行摘要、窗口与全部指标记录
func (r *MetricsRepository) SaveRun(ctx context.Context, result *store.PipelineResult) error {
	if result == nil || result.RunID == "" {
		return fmt.Errorf("run_id is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	summary := result.Summary()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO pipeline_runs (run_id, started_at, ended_at, cancelled, error, computed, excluded, skipped, failed)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)`,
		result.RunID, result.StartedAt, result.EndedAt, result.Cancelled, result.Error,
		summary[models.QualityComputed], summary[models.QualityExcluded],
		summary[models.QualitySkippedDependency], summary[models.QualityFailed],
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, w := range result.Windows("") {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO analysis_windows (run_id, window_id, subject_id, rule, window_start, window_end, completeness, valid)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			result.RunID, w.ID, w.SubjectID, w.Rule, w.Start, w.End, w.Completeness, w.Valid,
		)
		if err != nil {
			return fmt.Errorf("failed to insert window %s: %w", w.ID, err)
		}
	}

	for _, rec := range result.Records() {
		// 非有限值存为 NULL
		var value sql.NullFloat64
		if rec.Finite() {
			value = sql.NullFloat64{Float64: rec.Value, Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO metric_records (run_id, subject_id, window_id, metric, value, module, module_version, quality, reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))`,
			result.RunID, rec.SubjectID, rec.WindowID, rec.Metric, value,
			rec.Module, rec.ModuleVersion, string(rec.Quality), rec.Reason,
		)
		if err != nil {
			return fmt.Errorf("failed to insert metric %s/%s: %w", rec.WindowID, rec.Metric, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	r.logger.Info("Pipeline run saved",
		zap.String("run_id", result.RunID),
		zap.Int("records", result.Len()),
	)
	return nil
}

// GetRun 读取运行摘要
func (r *MetricsRepository) GetRun(ctx context.Context, runID string) (*RunSummary, error) {
	if runID == "" {
		return nil, fmt.Errorf("run_id is required")
	}

	query := `
		SELECT run_id, started_at, ended_at, cancelled, COALESCE(error, ''), computed, excluded, skipped, failed
		FROM pipeline_runs
		WHERE run_id = $1`

	var s RunSummary
	var computed, excluded, skipped, failed int
	err := r.db.QueryRowContext(ctx, query, runID).Scan(
		&s.RunID, &s.StartedAt, &s.EndedAt, &s.Cancelled, &s.Error,
		&computed, &excluded, &skipped, &failed,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	s.Counts = map[models.Quality]int{
		models.QualityComputed:          computed,
		models.QualityExcluded:          excluded,
		models.QualitySkippedDependency: skipped,
		models.QualityFailed:            failed,
	}
	return &s, nil
}

// ListMetrics 读取某次运行中一个受试者的指标记录，NULL 值还原为 NaN
func (r *MetricsRepository) ListMetrics(ctx context.Context, runID, subjectID string) ([]models.MetricRecord, error) {
	if runID == "" {
		return nil, fmt.Errorf("run_id is required")
	}
	if subjectID == "" {
		return nil, fmt.Errorf("subject_id is required")
	}

	query := `
		SELECT subject_id, window_id, metric, value, module, module_version, quality, COALESCE(reason, '')
		FROM metric_records
		WHERE run_id = $1 AND subject_id = $2
		ORDER BY window_id, module, metric`

	rows, err := r.db.QueryContext(ctx, query, runID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}
	defer rows.Close()

	var out []models.MetricRecord
	for rows.Next() {
		var rec models.MetricRecord
		var value sql.NullFloat64
		var quality string
		if err := rows.Scan(&rec.SubjectID, &rec.WindowID, &rec.Metric, &value,
			&rec.Module, &rec.ModuleVersion, &quality, &rec.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		rec.Value = nanIfNull(value)
		rec.Quality = models.Quality(quality)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate metrics: %w", err)
	}
	return out, nil
}

func nanIfNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
