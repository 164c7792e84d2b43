// Package gait 步行检测与步态指标
package gait

import (
	"context"
	"fmt"
	"math"
	"time"

	"wisefido-actigraphy/internal/kernel"
	"wisefido-actigraphy/internal/models"
	"wisefido-actigraphy/internal/module"

	pipeerrors "wisefido-actigraphy/internal/errors"
)

const (
	Name    = "gait"
	Version = "1.0.0"

	MetricWalkingMinutes   = "gait_walking_min"
	MetricBouts            = "gait_bouts"
	MetricSteps            = "gait_steps"
	MetricCadence          = "gait_cadence"
	MetricStepFrequency    = "gait_step_frequency"
	MetricStepRegularity   = "gait_step_regularity"
	MetricZeroCrossingRate = "gait_zero_crossing_rate"

	filterOrder = 4
)

// Config 步态参数
type Config struct {
	Stream        string
	BandLow       float64 // Hz
	BandHigh      float64
	Window        time.Duration // 步行检测窗口
	Step          time.Duration
	StdThreshold  float64 // g
	MinBout       time.Duration
	MinStepPeriod time.Duration // 相邻步峰最小间隔
	MinProminence float64
	Hysteresis    float64 // 过零滞回（g）
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		Stream:        "accel",
		BandLow:       0.5,
		BandHigh:      3.0,
		Window:        2 * time.Second,
		Step:          time.Second,
		StdThreshold:  0.05,
		MinBout:       10 * time.Second,
		MinStepPeriod: 250 * time.Millisecond,
		MinProminence: 0.05,
		Hysteresis:    0.01,
	}
}

// Analyzer 步态分析模块
type Analyzer struct {
	cfg Config
}

// New 创建步态分析模块
func New(params module.Params) (module.Module, error) {
	return (&Analyzer{cfg: DefaultConfig()}).WithParams(params)
}

// WithParams 返回应用了参数覆盖的新实例，接收者不变
func (a *Analyzer) WithParams(params module.Params) (module.Module, error) {
	cfg := a.cfg
	var err error
	if cfg.Stream, err = params.String("stream", cfg.Stream); err != nil {
		return nil, err
	}
	if cfg.BandLow, err = params.Float("band_low", cfg.BandLow); err != nil {
		return nil, err
	}
	if cfg.BandHigh, err = params.Float("band_high", cfg.BandHigh); err != nil {
		return nil, err
	}
	if cfg.StdThreshold, err = params.Float("std_threshold", cfg.StdThreshold); err != nil {
		return nil, err
	}
	if cfg.MinBout, err = params.Duration("min_bout", cfg.MinBout); err != nil {
		return nil, err
	}
	if cfg.MinProminence, err = params.Float("min_prominence", cfg.MinProminence); err != nil {
		return nil, err
	}
	if cfg.BandLow <= 0 || cfg.BandHigh <= cfg.BandLow || cfg.StdThreshold <= 0 || cfg.MinBout < cfg.Window || cfg.MinProminence < 0 {
		return nil, pipeerrors.Configf(pipeerrors.ErrInvalidOption, Name,
			"band [%v, %v], std threshold %v, min bout %s, prominence %v",
			cfg.BandLow, cfg.BandHigh, cfg.StdThreshold, cfg.MinBout, cfg.MinProminence)
	}
	return &Analyzer{cfg: cfg}, nil
}

// Spec 模块声明
func (a *Analyzer) Spec() models.ModuleSpec {
	return models.ModuleSpec{
		Name:    Name,
		Version: Version,
		Streams: []string{a.cfg.Stream},
		Produces: []string{
			MetricWalkingMinutes, MetricBouts, MetricSteps, MetricCadence,
			MetricStepFrequency, MetricStepRegularity, MetricZeroCrossingRate,
		},
	}
}

type bout struct {
	start, end int
}

// Run 检测步行段并计算步态指标，无步行段时频率类指标为 NaN
func (a *Analyzer) Run(ctx context.Context, in module.Input) (map[string]float64, error) {
	x, y, z, err := in.Axes(Name, a.cfg.Stream)
	if err != nil {
		return nil, err
	}
	stream := in.Streams[a.cfg.Stream]
	breaks := in.Breaks[a.cfg.Stream]
	fs := stream.SampleRate
	if a.cfg.BandHigh >= fs/2 {
		return nil, pipeerrors.NewInsufficientData(Name,
			fmt.Sprintf("sample rate %v Hz too low for %v Hz band edge", fs, a.cfg.BandHigh))
	}

	mag, err := kernel.Magnitude(x, y, z)
	if err != nil {
		return nil, err
	}
	w := max(2, int(math.Round(a.cfg.Window.Seconds()*fs)))
	s := max(1, int(math.Round(a.cfg.Step.Seconds()*fs)))
	if len(mag) < w {
		return nil, pipeerrors.NewInsufficientData(Name, "fewer samples than one detection window")
	}
	filt, err := kernel.BandPass(mag, fs, a.cfg.BandLow, a.cfg.BandHigh, filterOrder)
	if err != nil {
		return nil, err
	}

	bouts, err := a.detectBouts(filt, w, s, fs, breaks)
	if err != nil {
		return nil, err
	}

	out := map[string]float64{
		MetricBouts:            float64(len(bouts)),
		MetricWalkingMinutes:   0,
		MetricSteps:            0,
		MetricCadence:          math.NaN(),
		MetricStepFrequency:    math.NaN(),
		MetricStepRegularity:   math.NaN(),
		MetricZeroCrossingRate: math.NaN(),
	}
	if len(bouts) == 0 {
		return out, nil
	}

	minDist := max(1, int(math.Round(a.cfg.MinStepPeriod.Seconds()*fs)))
	var samples, steps int
	var freqSum, regSum, zcrSum, weight float64
	for _, b := range bouts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seg := filt[b.start:b.end]
		n := float64(len(seg))
		samples += len(seg)

		peaks, err := kernel.FindPeaks(seg, kernel.PeakOptions{MinDistance: minDist, MinProminence: a.cfg.MinProminence})
		if err != nil {
			return nil, err
		}
		steps += len(peaks)

		zcr, err := kernel.ZeroCrossingRate(seg, fs, a.cfg.Hysteresis)
		if err != nil {
			return nil, err
		}
		zcrSum += zcr * n

		freq, _, err := kernel.DominantFrequency(seg, fs, a.cfg.BandLow, a.cfg.BandHigh)
		if err != nil {
			if pipeerrors.IsInsufficientData(err) {
				continue
			}
			return nil, err
		}
		lag := int(math.Round(fs / freq))
		reg, err := kernel.Autocorrelation(seg, lag)
		if err != nil {
			continue
		}
		freqSum += freq * n
		regSum += reg * n
		weight += n
	}

	minutes := float64(samples) / fs / 60
	out[MetricWalkingMinutes] = minutes
	out[MetricSteps] = float64(steps)
	out[MetricCadence] = float64(steps) / minutes
	out[MetricZeroCrossingRate] = zcrSum / float64(samples)
	if weight > 0 {
		out[MetricStepFrequency] = freqSum / weight
		out[MetricStepRegularity] = regSum / weight
	}
	return out, nil
}

// detectBouts 滑动标准差超过阈值的样本构成步行段，段在间断处切开，过短的段丢弃
func (a *Analyzer) detectBouts(filt []float64, w, s int, fs float64, breaks []int) ([]bout, error) {
	sd, err := kernel.RollingWithBreaks(filt, w, s, kernel.StatStd, breaks)
	if err != nil {
		return nil, err
	}
	walking := make([]bool, len(filt))
	for i, v := range sd {
		if v > a.cfg.StdThreshold {
			fill(walking, i*s, w)
		}
	}

	minLen := int(math.Round(a.cfg.MinBout.Seconds() * fs))
	var bouts []bout
	for _, r := range kernel.RunLength(walking) {
		if !r.Value {
			continue
		}
		for _, b := range splitAtBreaks(bout{r.Start, r.Start + r.Length}, breaks) {
			if b.end-b.start >= minLen {
				bouts = append(bouts, b)
			}
		}
	}
	return bouts, nil
}

func fill(x []bool, start, n int) {
	for i := start; i < min(len(x), start+n); i++ {
		x[i] = true
	}
}

// splitAtBreaks 间断点 b 表示样本 b 与 b+1 之间缺失
func splitAtBreaks(b bout, breaks []int) []bout {
	var out []bout
	cur := b.start
	for _, br := range breaks {
		if br >= cur && br < b.end-1 {
			out = append(out, bout{cur, br + 1})
			cur = br + 1
		}
	}
	return append(out, bout{cur, b.end})
}
