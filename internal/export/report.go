package export

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"wisefido-actigraphy/internal/store"
)

// ReportPath 运行摘要上报路径
const ReportPath = "/api/v1/actigraphy/runs"

// ReportResponse 上报接口响应
type ReportResponse struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
}

// ReportClient 将运行摘要 POST 到报告服务
type ReportClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewReportClient 创建报告服务客户端
func NewReportClient(baseURL string, logger *zap.Logger) *ReportClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &ReportClient{
		httpClient: client,
		logger:     logger,
	}
}

// Name 导出器名称
func (c *ReportClient) Name() string { return "report" }

// Export 上报运行摘要
func (c *ReportClient) Export(ctx context.Context, result *store.PipelineResult) error {
	summary := Summarize(result)

	var response ReportResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(summary).
		SetResult(&response).
		SetError(&response).
		Post(ReportPath)
	if err != nil {
		return fmt.Errorf("failed to call report API: %w", err)
	}
	if resp.IsError() {
		c.logger.Error("Report API returned HTTP error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("msg", response.Msg),
		)
		return fmt.Errorf("report API error: HTTP %d", resp.StatusCode())
	}
	if response.Status != 0 {
		return fmt.Errorf("report API error: %s (status: %d)", response.Msg, response.Status)
	}

	c.logger.Debug("Run summary reported",
		zap.String("run_id", summary.RunID),
		zap.Int("subjects", len(summary.Subjects)),
	)
	return nil
}
