package export

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"wisefido-actigraphy/internal/models"
	"wisefido-actigraphy/internal/store"
)

const (
	SheetMetrics = "Metrics"
	SheetWindows = "Windows"
	SheetSummary = "Summary"
)

// WindowHeader 窗口表头
var WindowHeader = []string{
	"subject_id", "window_id", "rule", "index", "start", "end",
	"expected", "actual", "completeness", "valid", "gaps",
}

// ExcelExporter 将结果写入 xlsx 工作簿
type ExcelExporter struct {
	path string
}

// NewExcelExporter 创建 Excel 导出器
func NewExcelExporter(path string) *ExcelExporter {
	return &ExcelExporter{path: path}
}

// Name 导出器名称
func (e *ExcelExporter) Name() string { return "excel" }

// Export 生成工作簿并保存到文件
func (e *ExcelExporter) Export(_ context.Context, result *store.PipelineResult) error {
	f, err := Workbook(result)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(e.path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", e.path, err)
	}
	return nil
}

// Workbook 生成包含 Metrics、Windows、Summary 三张表的工作簿
func Workbook(result *store.PipelineResult) (*excelize.File, error) {
	f := excelize.NewFile()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	rows := result.Table()
	metrics := make([][]any, 0, len(rows))
	for _, row := range rows {
		metrics = append(metrics, row.Cells())
	}

	windows := result.Windows("")
	windowRows := make([][]any, 0, len(windows))
	for _, w := range windows {
		windowRows = append(windowRows, []any{
			w.SubjectID, w.ID, w.Rule, w.Index,
			w.Start.UTC().Format(time.RFC3339), w.End.UTC().Format(time.RFC3339),
			w.Expected, w.Actual, w.Completeness, w.Valid, len(w.Gaps),
		})
	}

	summary := Summarize(result)
	summaryRows := [][]any{
		{"run_id", summary.RunID},
		{"started_at", summary.StartedAt.UTC().Format(time.RFC3339)},
		{"ended_at", summary.EndedAt.UTC().Format(time.RFC3339)},
		{"cancelled", summary.Cancelled},
		{"error", summary.Error},
	}
	for _, q := range models.Qualities {
		summaryRows = append(summaryRows, []any{string(q), summary.Counts[q]})
	}

	sheets := []struct {
		name   string
		header []string
		rows   [][]any
	}{
		{SheetMetrics, store.TableHeader, metrics},
		{SheetWindows, WindowHeader, windowRows},
		{SheetSummary, []string{"key", "value"}, summaryRows},
	}
	for i, s := range sheets {
		if err := writeSheet(f, s.name, s.header, s.rows, headerStyle); err != nil {
			f.Close()
			return nil, err
		}
		if i == 0 {
			idx, _ := f.GetSheetIndex(s.name)
			f.SetActiveSheet(idx)
		}
	}

	// 删除默认的 Sheet1
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	return f, nil
}

func writeSheet(f *excelize.File, name string, header []string, rows [][]any, headerStyle int) error {
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", name, err)
	}

	headerCells := make([]any, len(header))
	for i, h := range header {
		headerCells[i] = h
	}
	if err := f.SetSheetRow(name, "A1", &headerCells); err != nil {
		return fmt.Errorf("failed to write header of %s: %w", name, err)
	}
	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := f.SetCellStyle(name, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to style header of %s: %w", name, err)
	}

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(name, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d of %s: %w", i+2, name, err)
		}
	}

	lastCol, _ := excelize.ColumnNumberToName(len(header))
	if err := f.SetColWidth(name, "A", lastCol, 18); err != nil {
		return fmt.Errorf("failed to set column width of %s: %w", name, err)
	}
	return nil
}
