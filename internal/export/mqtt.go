package export

import (
	"context"
	"encoding/json"
	"fmt"

	"wisefido-actigraphy/internal/models"
	"wisefido-actigraphy/internal/store"
)

// Publisher MQTT 发布接口，*mqtt.Client 实现该接口
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// SubjectMessage 单个受试者的结果消息
type SubjectMessage struct {
	RunID     string                `json:"run_id"`
	SubjectID string                `json:"subject_id"`
	Windows   []models.Window       `json:"windows"`
	Records   []models.MetricRecord `json:"records"`
}

// MQTTExporter 每个受试者发布一条结果消息，运行摘要以保留消息发布
type MQTTExporter struct {
	publisher Publisher
	prefix    string
	qos       byte
}

// NewMQTTExporter 创建 MQTT 导出器
func NewMQTTExporter(publisher Publisher, prefix string, qos byte) *MQTTExporter {
	return &MQTTExporter{publisher: publisher, prefix: prefix, qos: qos}
}

// Name 导出器名称
func (e *MQTTExporter) Name() string { return "mqtt" }

// SubjectTopic 受试者结果主题
func (e *MQTTExporter) SubjectTopic(subjectID string) string {
	return fmt.Sprintf("%s/subjects/%s/metrics", e.prefix, subjectID)
}

// RunTopic 运行摘要主题
func (e *MQTTExporter) RunTopic() string {
	return e.prefix + "/runs/latest"
}

// Export 发布结果
func (e *MQTTExporter) Export(ctx context.Context, result *store.PipelineResult) error {
	for _, id := range result.Subjects() {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := json.Marshal(SubjectMessage{
			RunID:     result.RunID,
			SubjectID: id,
			Windows:   result.Windows(id),
			Records:   result.BySubject(id),
		})
		if err != nil {
			return fmt.Errorf("failed to marshal subject %s: %w", id, err)
		}
		if err := e.publisher.Publish(e.SubjectTopic(id), e.qos, false, payload); err != nil {
			return err
		}
	}

	payload, err := json.Marshal(Summarize(result))
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}
	return e.publisher.Publish(e.RunTopic(), e.qos, true, payload)
}
