package module

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	pipeerrors "wisefido-actigraphy/internal/errors"
	"wisefido-actigraphy/internal/models"
)

// Exclusions 单个指标的数据不足原因
//
// 模块可以在返回其余指标的同时返回非空的 Exclusions（经由 Err），编排器将其中列出的
// 指标记为 excluded，其余指标照常记录。
type Exclusions struct {
	component string
	reasons   map[string]string
}

// NewExclusions 创建空的指标排除集合
func NewExclusions(component string) *Exclusions {
	return &Exclusions{component: component, reasons: make(map[string]string)}
}

// Add 标记指标数据不足
func (e *Exclusions) Add(metric, reason string) {
	e.reasons[metric] = reason
}

// Reason 返回指标的排除原因
func (e *Exclusions) Reason(metric string) (string, bool) {
	r, ok := e.reasons[metric]
	return r, ok
}

// Metrics 已排除的指标，按名称排序
func (e *Exclusions) Metrics() []string {
	out := make([]string, 0, len(e.reasons))
	for m := range e.reasons {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Err 没有排除任何指标时返回 nil
func (e *Exclusions) Err() error {
	if e == nil || len(e.reasons) == 0 {
		return nil
	}
	return e
}

// Check 校验排除的指标均已声明，且没有同时出现在输出中
func (e *Exclusions) Check(spec models.ModuleSpec, out map[string]float64) error {
	for _, m := range e.Metrics() {
		if !slices.Contains(spec.Produces, m) {
			return pipeerrors.WrapModule(
				fmt.Errorf("%w: excluded %q", pipeerrors.ErrUndeclaredValue, m),
				spec.Name, "Run", "check exclusions")
		}
		if _, ok := out[m]; ok {
			return pipeerrors.WrapModule(
				fmt.Errorf("%w: %q both produced and excluded", pipeerrors.ErrModuleFault, m),
				spec.Name, "Run", "check exclusions")
		}
	}
	return nil
}

func (e *Exclusions) Error() string {
	parts := make([]string, 0, len(e.reasons))
	for _, m := range e.Metrics() {
		parts = append(parts, fmt.Sprintf("%s: %s", m, e.reasons[m]))
	}
	return fmt.Sprintf("%s: metrics excluded: %s", e.component, strings.Join(parts, "; "))
}
