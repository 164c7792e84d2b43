package store

import (
	"sort"
	"time"

	"wisefido-actigraphy/internal/models"
)

// PipelineResult 一次运行的不可变结果
type PipelineResult struct {
	Meta

	records []models.MetricRecord
	index   map[models.RecordKey]int
	windows []models.Window
}

// Records 全部记录（按受试者、窗口、模块、指标排序的副本）
func (r *PipelineResult) Records() []models.MetricRecord {
	out := make([]models.MetricRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Len 记录数
func (r *PipelineResult) Len() int { return len(r.records) }

// Get 按键查找记录
func (r *PipelineResult) Get(subjectID, windowID, metric string) (models.MetricRecord, bool) {
	i, ok := r.index[models.RecordKey{SubjectID: subjectID, WindowID: windowID, Metric: metric}]
	if !ok {
		return models.MetricRecord{}, false
	}
	return r.records[i], true
}

// Subjects 受试者列表（排序）
func (r *PipelineResult) Subjects() []string {
	seen := make(map[string]struct{})
	for _, w := range r.windows {
		seen[w.SubjectID] = struct{}{}
	}
	for _, rec := range r.records {
		seen[rec.SubjectID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Windows 受试者的窗口目录；subjectID 为空时返回全部
func (r *PipelineResult) Windows(subjectID string) []models.Window {
	var out []models.Window
	for _, w := range r.windows {
		if subjectID == "" || w.SubjectID == subjectID {
			out = append(out, w)
		}
	}
	return out
}

// Window 按 ID 查找窗口
func (r *PipelineResult) Window(id string) (models.Window, bool) {
	for _, w := range r.windows {
		if w.ID == id {
			return w, true
		}
	}
	return models.Window{}, false
}

// BySubject 受试者的全部记录
func (r *PipelineResult) BySubject(subjectID string) []models.MetricRecord {
	return r.filter(func(rec models.MetricRecord) bool { return rec.SubjectID == subjectID })
}

// ByModule 模块产生的全部记录
func (r *PipelineResult) ByModule(module string) []models.MetricRecord {
	return r.filter(func(rec models.MetricRecord) bool { return rec.Module == module })
}

func (r *PipelineResult) filter(keep func(models.MetricRecord) bool) []models.MetricRecord {
	var out []models.MetricRecord
	for _, rec := range r.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Summary 各质量标记的记录数，四种标记总是存在
func (r *PipelineResult) Summary() map[models.Quality]int {
	out := make(map[models.Quality]int, len(models.Qualities))
	for _, q := range models.Qualities {
		out[q] = 0
	}
	for _, rec := range r.records {
		out[rec.Quality]++
	}
	return out
}

// Row 长表格式的一行
type Row struct {
	SubjectID     string
	WindowID      string
	WindowStart   time.Time
	WindowEnd     time.Time
	Completeness  float64
	Metric        string
	Value         float64
	Module        string
	ModuleVersion string
	Quality       models.Quality
	Reason        string
}

// TableHeader 长表列名，与 Row.Cells 顺序一致
var TableHeader = []string{
	"subject_id", "window_id", "window_start", "window_end", "completeness",
	"metric", "value", "module", "module_version", "quality", "reason",
}

// Cells 按 TableHeader 顺序返回单元格；非有限值为 nil
func (row Row) Cells() []any {
	var value any
	if rec := (models.MetricRecord{Value: row.Value}); rec.Finite() {
		value = row.Value
	}
	return []any{
		row.SubjectID, row.WindowID,
		row.WindowStart.UTC().Format(time.RFC3339), row.WindowEnd.UTC().Format(time.RFC3339),
		row.Completeness, row.Metric, value, row.Module, row.ModuleVersion, string(row.Quality), row.Reason,
	}
}

// Table 长表，每条记录一行
func (r *PipelineResult) Table() []Row {
	byID := make(map[string]models.Window, len(r.windows))
	for _, w := range r.windows {
		byID[w.ID] = w
	}
	rows := make([]Row, 0, len(r.records))
	for _, rec := range r.records {
		w := byID[rec.WindowID]
		rows = append(rows, Row{
			SubjectID:     rec.SubjectID,
			WindowID:      rec.WindowID,
			WindowStart:   w.Start,
			WindowEnd:     w.End,
			Completeness:  w.Completeness,
			Metric:        rec.Metric,
			Value:         rec.Value,
			Module:        rec.Module,
			ModuleVersion: rec.ModuleVersion,
			Quality:       rec.Quality,
			Reason:        rec.Reason,
		})
	}
	return rows
}
