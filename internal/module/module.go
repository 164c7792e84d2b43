// Package module 定义处理模块契约与模块注册表
//
// 模块是无副作用的纯计算单元：输入单个窗口的流切片与上游指标，输出声明过的指标。
// 模块不得持有跨窗口的可变状态，编排器会在多个 goroutine 中并发调用同一实例。
package module

import (
	"context"
	"fmt"
	"slices"

	pipeerrors "wisefido-actigraphy/internal/errors"
	"wisefido-actigraphy/internal/models"
)

// Module 处理模块
type Module interface {
	Spec() models.ModuleSpec
	Run(ctx context.Context, in Input) (map[string]float64, error)
}

// Configurable 支持按模块覆盖参数
// WithParams 返回应用了覆盖的新实例，不修改接收者
type Configurable interface {
	WithParams(params Params) (Module, error)
}

// Input 单个窗口的模块输入
type Input struct {
	Window   models.Window
	Streams  map[string]*models.SensorStream // 已切片到窗口
	Upstream map[string]float64              // 仅包含 Requires 声明的指标
	Breaks   map[string][]int                // 每个流在窗口内的间断点
}

// Stream 返回流，缺失或为空时返回数据不足
func (in Input) Stream(component, name string) (*models.SensorStream, error) {
	s, ok := in.Streams[name]
	if !ok || s.Len() == 0 {
		return nil, pipeerrors.NewInsufficientData(component, fmt.Sprintf("no samples in stream %q", name))
	}
	return s, nil
}

// Axes 返回三轴加速度通道 x/y/z
func (in Input) Axes(component, name string) (x, y, z []float64, err error) {
	s, err := in.Stream(component, name)
	if err != nil {
		return nil, nil, nil, err
	}
	x, y, z = s.Channel("x"), s.Channel("y"), s.Channel("z")
	if x == nil || y == nil || z == nil {
		return nil, nil, nil, pipeerrors.WrapModule(
			fmt.Errorf("%w: stream %q lacks x/y/z channels", pipeerrors.ErrModuleFault, name),
			component, "Run", "read axes")
	}
	return x, y, z, nil
}

// UpstreamValue 读取上游指标
func (in Input) UpstreamValue(component, metric string) (float64, error) {
	v, ok := in.Upstream[metric]
	if !ok {
		return 0, pipeerrors.WrapModule(
			fmt.Errorf("%w: upstream metric %q not provided", pipeerrors.ErrModuleFault, metric),
			component, "Run", "read upstream")
	}
	return v, nil
}

// CheckOutput 校验模块输出只包含声明的指标，返回缺失的声明指标
func CheckOutput(spec models.ModuleSpec, out map[string]float64) (missing []string, err error) {
	for k := range out {
		if !slices.Contains(spec.Produces, k) {
			return nil, pipeerrors.WrapModule(
				fmt.Errorf("%w: %q", pipeerrors.ErrUndeclaredValue, k),
				spec.Name, "Run", "check output")
		}
	}
	for _, p := range spec.Produces {
		if _, ok := out[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing, nil
}
