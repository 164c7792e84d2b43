package models

import (
	"encoding/json"
	"math"
	"slices"
)

// Quality 指标质量标记
type Quality string

const (
	QualityComputed          Quality = "computed"
	QualityExcluded          Quality = "excluded"
	QualitySkippedDependency Quality = "skipped-dependency"
	QualityFailed            Quality = "failed"
)

// Qualities 全部质量标记（按固定顺序）
var Qualities = []Quality{
	QualityComputed,
	QualityExcluded,
	QualitySkippedDependency,
	QualityFailed,
}

// ModuleSpec 处理模块的声明
type ModuleSpec struct {
	Name     string   `json:"name" yaml:"name"`
	Version  string   `json:"version" yaml:"version"`
	Streams  []string `json:"streams" yaml:"streams"`   // 需要的传感器流
	Requires []string `json:"requires" yaml:"requires"` // 需要的上游指标
	Produces []string `json:"produces" yaml:"produces"` // 输出的指标
}

// Inputs 返回 Streams ∪ Requires
func (s ModuleSpec) Inputs() []string {
	out := make([]string, 0, len(s.Streams)+len(s.Requires))
	out = append(out, s.Streams...)
	for _, r := range s.Requires {
		if !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}

// Provenance 返回 "name@version"
func (s ModuleSpec) Provenance() string {
	if s.Version == "" {
		return s.Name
	}
	return s.Name + "@" + s.Version
}

// RecordKey 指标记录的唯一键
type RecordKey struct {
	SubjectID string
	WindowID  string
	Metric    string
}

// MetricRecord 单个指标值及其来源
type MetricRecord struct {
	SubjectID     string  `json:"subject_id"`
	WindowID      string  `json:"window_id"`
	Metric        string  `json:"metric"`
	Value         float64 `json:"value"`
	Module        string  `json:"module"`
	ModuleVersion string  `json:"module_version"`
	Quality       Quality `json:"quality"`
	Reason        string  `json:"reason,omitempty"` // 非 computed 时的原因
}

// Key 返回记录键
func (r MetricRecord) Key() RecordKey {
	return RecordKey{SubjectID: r.SubjectID, WindowID: r.WindowID, Metric: r.Metric}
}

// Finite 值是否为有限数
func (r MetricRecord) Finite() bool {
	return !math.IsNaN(r.Value) && !math.IsInf(r.Value, 0)
}

// MarshalJSON NaN/Inf 输出为 null（encoding/json 不接受非有限浮点数）
func (r MetricRecord) MarshalJSON() ([]byte, error) {
	type alias MetricRecord
	var value *float64
	if r.Finite() {
		v := r.Value
		value = &v
	}
	return json.Marshal(struct {
		alias
		Value *float64 `json:"value"`
	}{alias: alias(r), Value: value})
}
