package export

import (
	"context"

	"wisefido-actigraphy/internal/store"
)

// RunSaver 运行结果持久化接口，*repository.MetricsRepository 实现该接口
type RunSaver interface {
	SaveRun(ctx context.Context, result *store.PipelineResult) error
}

// PostgresExporter 写入 PostgreSQL
type PostgresExporter struct {
	repo RunSaver
}

// NewPostgresExporter 创建 PostgreSQL 导出器
func NewPostgresExporter(repo RunSaver) *PostgresExporter {
	return &PostgresExporter{repo: repo}
}

// Name 导出器名称
func (e *PostgresExporter) Name() string { return "postgres" }

// Export 写入运行结果
func (e *PostgresExporter) Export(ctx context.Context, result *store.PipelineResult) error {
	return e.repo.SaveRun(ctx, result)
}
