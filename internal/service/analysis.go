// Package service 组装管线、导出器与外部连接
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wisefido-actigraphy/internal/config"
	"wisefido-actigraphy/internal/database"
	"wisefido-actigraphy/internal/export"
	"wisefido-actigraphy/internal/metrics"
	"wisefido-actigraphy/internal/models"
	"wisefido-actigraphy/internal/module/builtin"
	"wisefido-actigraphy/internal/mqtt"
	"wisefido-actigraphy/internal/pipeline"
	"wisefido-actigraphy/internal/repository"
	"wisefido-actigraphy/internal/store"
)

// exportTimeout 运行取消后导出部分结果的时限
const exportTimeout = 30 * time.Second

// AnalysisService 活动记录分析服务
type AnalysisService struct {
	config       *config.Config
	logger       *zap.Logger
	orchestrator *pipeline.Orchestrator
	metrics      *metrics.Metrics
	exporters    []export.Exporter

	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client
}

// NewAnalysisService 创建分析服务，按导出配置建立外部连接
func NewAnalysisService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*AnalysisService, error) {
	modules, err := builtin.NewRegistry().Build(cfg.Modules)
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	orch, err := pipeline.New(cfg.Pipeline, modules, logger, pipeline.WithMetrics(m))
	if err != nil {
		return nil, err
	}

	s := &AnalysisService{
		config:       cfg,
		logger:       logger,
		orchestrator: orch,
		metrics:      m,
	}
	if err := s.connect(ctx); err != nil {
		s.Stop(ctx)
		return nil, err
	}

	names := make([]string, 0, len(s.exporters))
	for _, e := range s.exporters {
		names = append(names, e.Name())
	}
	logger.Info("Analysis service ready",
		zap.Any("levels", orch.Levels()),
		zap.Strings("exporters", names),
	)
	return s, nil
}

func (s *AnalysisService) connect(ctx context.Context) error {
	cfg := s.config

	if cfg.Export.Postgres {
		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		repo := repository.NewMetricsRepository(db, s.logger)
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		s.exporters = append(s.exporters, export.NewPostgresExporter(repo))
	}

	if cfg.Export.Redis {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := s.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.exporters = append(s.exporters, export.NewRedisStreamExporter(s.redisClient, cfg.Export.ResultStream, 0))
	}

	if cfg.Export.MQTT {
		client, err := mqtt.NewClient(&cfg.MQTT, s.logger)
		if err != nil {
			return err
		}
		s.mqttClient = client
		s.exporters = append(s.exporters, export.NewMQTTExporter(client, cfg.Export.TopicPrefix, client.QoS()))
	}

	if cfg.Export.ExcelPath != "" {
		s.exporters = append(s.exporters, export.NewExcelExporter(cfg.Export.ExcelPath))
	}
	if cfg.Export.ReportURL != "" {
		s.exporters = append(s.exporters, export.NewReportClient(cfg.Export.ReportURL, s.logger))
	}
	return nil
}

// Analyze 运行管线并导出结果
// 运行被取消或出错时仍导出部分结果；返回的错误合并了运行错误与导出错误
func (s *AnalysisService) Analyze(ctx context.Context, subjects ...*models.SubjectData) (*store.PipelineResult, error) {
	result, runErr := s.orchestrator.Run(ctx, subjects...)
	if result == nil {
		return nil, runErr
	}

	exportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exportTimeout)
	defer cancel()
	exportErr := export.All(exportCtx, result, s.logger, s.exporters...)

	if path := s.config.Export.MetricsFile; path != "" {
		if err := s.metrics.WriteTextfile(path); err != nil {
			s.logger.Error("Failed to write metrics textfile", zap.String("path", path), zap.Error(err))
			exportErr = errors.Join(exportErr, err)
		}
	}
	return result, errors.Join(runErr, exportErr)
}

// ServeMetrics 在 addr 上提供 /metrics，直到 ctx 结束
func (s *AnalysisService) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Stop 关闭外部连接
func (s *AnalysisService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping analysis service")

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Error closing Redis client", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		}
	}
	return nil
}
