package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"wisefido-actigraphy/internal/store"
)

const (
	messageMetric = "metric"
	messageRun    = "run"
)

// RedisStreamExporter 将指标记录逐条写入 Redis Streams，最后写入运行摘要
type RedisStreamExporter struct {
	client    *redis.Client
	stream    string
	maxLen    int64 // 0 表示不裁剪
	batchSize int
}

// NewRedisStreamExporter 创建 Redis Streams 导出器
func NewRedisStreamExporter(client *redis.Client, stream string, maxLen int64) *RedisStreamExporter {
	return &RedisStreamExporter{client: client, stream: stream, maxLen: maxLen, batchSize: 500}
}

// Name 导出器名称
func (e *RedisStreamExporter) Name() string { return "redis" }

// Export 按批次通过 pipeline 发送 XADD
func (e *RedisStreamExporter) Export(ctx context.Context, result *store.PipelineResult) error {
	records := result.Records()
	for i := 0; i < len(records); i += e.batchSize {
		pipe := e.client.Pipeline()
		for _, rec := range records[i:min(len(records), i+e.batchSize)] {
			// 管道中的命令在 Exec 时才返回错误
			if err := e.add(ctx, pipe, messageMetric, result.RunID, rec); err != nil {
				return err
			}
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to publish metrics to %s: %w", e.stream, err)
		}
	}

	if err := e.add(ctx, e.client, messageRun, result.RunID, Summarize(result)); err != nil {
		return fmt.Errorf("failed to publish run summary to %s: %w", e.stream, err)
	}
	return nil
}

func (e *RedisStreamExporter) add(ctx context.Context, c redis.Cmdable, kind, runID string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", kind, err)
	}
	args := &redis.XAddArgs{
		Stream: e.stream,
		Values: map[string]interface{}{
			"type":      kind,
			"run_id":    runID,
			"data":      string(payload),
			"timestamp": time.Now().Unix(),
		},
	}
	if e.maxLen > 0 {
		args.MaxLen = e.maxLen
		args.Approx = true
	}
	return c.XAdd(ctx, args).Err()
}
