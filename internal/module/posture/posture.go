// Package posture 姿态与体位转换（跌倒风险代理指标）
package posture

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
	Name    = "posture"
	Version = "1.0.0"

	MetricUprightFraction    = "posture_upright_fraction"
	MetricLyingFraction      = "posture_lying_fraction"
	MetricTransitions        = "posture_transitions"
	MetricTransitionsPerHour = "posture_transitions_per_hour"
	MetricMeanZAngle         = "posture_mean_z_angle"
)

// Config 姿态参数
type Config struct {
	Stream       string
	Epoch        time.Duration
	UprightAngle float64       // |z 角| 超过该值视为直立（度）
	MinBout      time.Duration // 短于该时长的体位段并入前一段
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		Stream:       "accel",
		Epoch:        5 * time.Second,
		UprightAngle: 30,
		MinBout:      30 * time.Second,
	}
}

// Classifier 姿态模块
type Classifier struct {
	cfg Config
}

// New 创建姿态模块
func New(params module.Params) (module.Module, error) {
	return (&Classifier{cfg: DefaultConfig()}).WithParams(params)
}

// WithParams 返回应用了参数覆盖的新实例，接收者不变
func (c *Classifier) WithParams(params module.Params) (module.Module, error) {
	cfg := c.cfg
	var err error
	if cfg.Stream, err = params.String("stream", cfg.Stream); err != nil {
		return nil, err
	}
	if cfg.Epoch, err = params.Duration("epoch", cfg.Epoch); err != nil {
		return nil, err
	}
	if cfg.UprightAngle, err = params.Float("upright_angle", cfg.UprightAngle); err != nil {
		return nil, err
	}
	if cfg.MinBout, err = params.Duration("min_bout", cfg.MinBout); err != nil {
		return nil, err
	}
	if cfg.Epoch <= 0 || cfg.MinBout < 0 || cfg.UprightAngle <= 0 || cfg.UprightAngle >= 90 {
		return nil, pipeerrors.Configf(pipeerrors.ErrInvalidOption, Name,
			"epoch %s, min bout %s, upright angle %v", cfg.Epoch, cfg.MinBout, cfg.UprightAngle)
	}
	return &Classifier{cfg: cfg}, nil
}

// Spec 模块声明
func (c *Classifier) Spec() models.ModuleSpec {
	return models.ModuleSpec{
		Name:    Name,
		Version: Version,
		Streams: []string{c.cfg.Stream},
		Produces: []string{
			MetricUprightFraction,
			MetricLyingFraction,
			MetricTransitions,
			MetricTransitionsPerHour,
			MetricMeanZAngle,
		},
	}
}

// Run 按 epoch 计算 z 角并统计直立/卧位与转换次数
func (c *Classifier) Run(_ context.Context, in module.Input) (map[string]float64, error) {
	x, y, z, err := in.Axes(Name, c.cfg.Stream)
	if err != nil {
		return nil, err
	}
	stream := in.Streams[c.cfg.Stream]
	breaks := in.Breaks[c.cfg.Stream]

	n := max(1, int(math.Round(c.cfg.Epoch.Seconds()*stream.SampleRate)))
	ex, err := kernel.RollingWithBreaks(x, n, n, kernel.StatMean, breaks)
	if err != nil {
		return nil, err
	}
	ey, err := kernel.RollingWithBreaks(y, n, n, kernel.StatMean, breaks)
	if err != nil {
		return nil, err
	}
	ez, err := kernel.RollingWithBreaks(z, n, n, kernel.StatMean, breaks)
	if err != nil {
		return nil, err
	}
	angles, err := kernel.ZAngle(ex, ey, ez)
	if err != nil {
		return nil, err
	}

	var upright []bool
	var sumAngle float64
	for _, a := range angles {
		if math.IsNaN(a) {
			continue
		}
		upright = append(upright, math.Abs(a) >= c.cfg.UprightAngle)
		sumAngle += a
	}
	if len(upright) == 0 {
		return nil, pipeerrors.NewInsufficientData(Name, "no gap-free epochs")
	}

	uprightEpochs := 0
	for _, u := range upright {
		if u {
			uprightEpochs++
		}
	}
	minEpochs := int(c.cfg.MinBout / c.cfg.Epoch)
	transitions := countTransitions(upright, minEpochs)

	total := float64(len(upright))
	hours := total * c.cfg.Epoch.Hours()
	return map[string]float64{
		MetricUprightFraction:    float64(uprightEpochs) / total,
		MetricLyingFraction:      1 - float64(uprightEpochs)/total,
		MetricTransitions:        float64(transitions),
		MetricTransitionsPerHour: float64(transitions) / hours,
		MetricMeanZAngle:         sumAngle / total,
	}, nil
}

// countTransitions 体位转换次数，短于 minEpochs 的段视为抖动并入前一段
func countTransitions(states []bool, minEpochs int) int {
	runs := kernel.RunLength(states)
	var merged []kernel.Run
	for _, r := range runs {
		if len(merged) > 0 && (r.Length < minEpochs || merged[len(merged)-1].Value == r.Value) {
			merged[len(merged)-1].Length += r.Length
			continue
		}
		merged = append(merged, r)
	}
	if len(merged) == 0 {
		return 0
	}
	return len(merged) - 1
}
