// Package wear 基于加速度计的佩戴检测（van Hees 2013）
//
// 60 分钟窗口以 15 分钟步长滑动；若至少两个轴同时满足 标准差 < 13mg 且
// 极差 < 50mg，则该窗口覆盖的 15 分钟块记为未佩戴。跨越数据缺失的窗口不参与判定。
package wear

import (
	"context"
	"math"
	"time"

	"wisefido-actigraphy/internal/kernel"
	"wisefido-actigraphy/internal/models"
	"wisefido-actigraphy/internal/module"

	pipeerrors "wisefido-actigraphy/internal/errors"
)

const (
	Name    = "wear"
	Version = "1.0.0"

	MetricWearHours    = "wear_hours"
	MetricWearFraction = "wear_fraction"
)

// Config 佩戴检测参数
type Config struct {
	Stream       string
	Window       time.Duration
	Step         time.Duration
	StdThreshold float64 // g
	RangeThresh  float64 // g
	MinAxes      int
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		Stream:       "accel",
		Window:       60 * time.Minute,
		Step:         15 * time.Minute,
		StdThreshold: 0.013,
		RangeThresh:  0.050,
		MinAxes:      2,
	}
}

// Detector 佩戴检测模块
type Detector struct {
	cfg Config
}

// New 创建佩戴检测模块
func New(params module.Params) (module.Module, error) {
	return (&Detector{cfg: DefaultConfig()}).WithParams(params)
}

// WithParams 返回应用了参数覆盖的新实例，接收者不变
func (d *Detector) WithParams(params module.Params) (module.Module, error) {
	cfg := d.cfg
	var err error
	if cfg.Stream, err = params.String("stream", cfg.Stream); err != nil {
		return nil, err
	}
	if cfg.Window, err = params.Duration("window", cfg.Window); err != nil {
		return nil, err
	}
	if cfg.Step, err = params.Duration("step", cfg.Step); err != nil {
		return nil, err
	}
	if cfg.StdThreshold, err = params.Float("std_threshold", cfg.StdThreshold); err != nil {
		return nil, err
	}
	if cfg.RangeThresh, err = params.Float("range_threshold", cfg.RangeThresh); err != nil {
		return nil, err
	}
	if cfg.MinAxes, err = params.Int("min_axes", cfg.MinAxes); err != nil {
		return nil, err
	}
	if cfg.Step <= 0 || cfg.Window < cfg.Step || cfg.MinAxes < 1 || cfg.MinAxes > 3 {
		return nil, pipeerrors.Configf(pipeerrors.ErrInvalidOption, Name,
			"window %s, step %s, min axes %d", cfg.Window, cfg.Step, cfg.MinAxes)
	}
	return &Detector{cfg: cfg}, nil
}

// Spec 模块声明
func (d *Detector) Spec() models.ModuleSpec {
	return models.ModuleSpec{
		Name:     Name,
		Version:  Version,
		Streams:  []string{d.cfg.Stream},
		Produces: []string{MetricWearHours, MetricWearFraction},
	}
}

// Run 计算窗口内佩戴时长
func (d *Detector) Run(_ context.Context, in module.Input) (map[string]float64, error) {
	x, y, z, err := in.Axes(Name, d.cfg.Stream)
	if err != nil {
		return nil, err
	}
	stream := in.Streams[d.cfg.Stream]
	breaks := in.Breaks[d.cfg.Stream]

	w := int(math.Round(d.cfg.Window.Seconds() * stream.SampleRate))
	s := int(math.Round(d.cfg.Step.Seconds() * stream.SampleRate))
	if s <= 0 || len(x) < w {
		return nil, pipeerrors.NewInsufficientData(Name, "window shorter than the non-wear evaluation window")
	}

	nonWearVotes := make([]int, kernel.OutputLen(len(x), w, s))
	for _, axis := range [][]float64{x, y, z} {
		sd, err := kernel.RollingWithBreaks(axis, w, s, kernel.StatStd, breaks)
		if err != nil {
			return nil, err
		}
		rng, err := kernel.RollingWithBreaks(axis, w, s, kernel.StatRange, breaks)
		if err != nil {
			return nil, err
		}
		for k := range nonWearVotes {
			if sd[k] < d.cfg.StdThreshold && rng[k] < d.cfg.RangeThresh {
				nonWearVotes[k]++
			}
		}
	}

	// 每个评估窗口覆盖 w/s 个块
	blocks := len(x) / s
	nonWear := make([]bool, blocks)
	span := max(1, w/s)
	for k, votes := range nonWearVotes {
		if votes < d.cfg.MinAxes {
			continue
		}
		for b := k; b < k+span && b < blocks; b++ {
			nonWear[b] = true
		}
	}

	wornBlocks := 0
	for _, nw := range nonWear {
		if !nw {
			wornBlocks++
		}
	}
	wearHours := float64(wornBlocks) * d.cfg.Step.Hours()
	frac := 0.0
	if h := in.Window.Duration().Hours(); h > 0 {
		frac = min(1, wearHours/h)
	}
	return map[string]float64{
		MetricWearHours:    wearHours,
		MetricWearFraction: frac,
	}, nil
}
