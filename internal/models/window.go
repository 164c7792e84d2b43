package models

import (
	"fmt"
	"time"
)

// Gap 窗口内检测到的缺失区间
type Gap struct {
	Start time.Time `json:"start"` // 缺失前最后一个样本时间（前导缺失为窗口起点）
	End   time.Time `json:"end"`   // 缺失后第一个样本时间（尾部缺失为窗口终点）
	After int       `json:"after"` // 缺失前最后一个样本的窗口内下标，前导缺失为 -1
}

// Duration 缺失时长
func (g Gap) Duration() time.Duration {
	return g.End.Sub(g.Start)
}

// Window 分析窗口：半开区间 [Start, End)
type Window struct {
	ID           string    `json:"id"`
	SubjectID    string    `json:"subject_id"`
	Rule         string    `json:"rule"`
	Index        int       `json:"index"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	StartIdx     int       `json:"start_idx"` // 主流中的样本下标
	EndIdx       int       `json:"end_idx"`
	Expected     int       `json:"expected"` // 按标称采样率应有的样本数
	Actual       int       `json:"actual"`
	Completeness float64   `json:"completeness"`
	Valid        bool      `json:"valid"`
	Gaps         []Gap     `json:"gaps,omitempty"`
}

// WindowID 生成窗口标识：<subject>/<rule>/<start>
func WindowID(subjectID, rule string, start time.Time) string {
	return fmt.Sprintf("%s/%s/%s", subjectID, rule, start.UTC().Format(time.RFC3339))
}

// Duration 窗口时长
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Breaks 返回样本间断点（内核用于避免跨缺失计算）
// 下标 i 表示样本 i 与 i+1 之间存在缺失
func (w Window) Breaks() []int {
	var out []int
	for _, g := range w.Gaps {
		if g.After >= 0 && g.After < w.Actual-1 {
			out = append(out, g.After)
		}
	}
	return out
}

// MissingDuration 缺失总时长
func (w Window) MissingDuration() time.Duration {
	var d time.Duration
	for _, g := range w.Gaps {
		d += g.Duration()
	}
	return d
}
