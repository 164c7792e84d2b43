// Package activity 身体活动强度分析
//
// 以 ENMO 为加速度指标：按阈值统计各强度等级分钟数、MVPA 持续活动时间、
// 强度梯度、N 分钟最大加速度、频带功率以及久坐碎片化指标。
package activity

import (
	"context"
	"fmt"
	"math"
	"time"

	"wisefido-actigraphy/internal/endpoint"
	"wisefido-actigraphy/internal/kernel"
	"wisefido-actigraphy/internal/models"
	"wisefido-actigraphy/internal/module"
	"wisefido-actigraphy/internal/module/wear"

	pipeerrors "wisefido-actigraphy/internal/errors"
)

const (
	Name    = "activity"
	Version = "1.0.0"

	MetricENMOMean       = "activity_enmo_mean"
	MetricSedMinutes     = "activity_sed_min"
	MetricLightMinutes   = "activity_light_min"
	MetricModMinutes     = "activity_mod_min"
	MetricVigMinutes     = "activity_vig_min"
	MetricMVPAMinutes    = "activity_mvpa_min"
	MetricMVPABout       = "activity_mvpa_bout_min"
	MetricIG             = "activity_ig"
	MetricIGIntercept    = "activity_ig_intercept"
	MetricIGR2           = "activity_ig_r2"
	MetricMaxAcc5        = "activity_max_acc_5min"
	MetricMaxAcc30       = "activity_max_acc_30min"
	MetricBandPower      = "activity_band_power"
	MetricSedAvgDuration = "activity_sed_avg_duration"
	MetricSedTransition  = "activity_sed_transition_prob"
	MetricSedGini        = "activity_sed_gini"
	MetricSedAvgHazard   = "activity_sed_avg_hazard"
	MetricSedPowerLaw    = "activity_sed_power_law"
)

// Config 活动分析参数
type Config struct {
	Stream          string
	Epoch           time.Duration
	Cutpoints       Cutpoints
	BoutMinutes     float64
	BoutCriteria    float64
	ClosedBout      bool
	BoutMetric      BoutMetric
	BandLow         float64 // Hz
	BandHigh        float64
	BandSegment     time.Duration
	MinWearFraction float64
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	cp, _ := LookupCutpoints("migueles_wrist_adult")
	return Config{
		Stream:          "accel",
		Epoch:           5 * time.Second,
		Cutpoints:       cp,
		BoutMinutes:     10,
		BoutCriteria:    0.8,
		BoutMetric:      BoutSliding,
		BandLow:         0.3,
		BandHigh:        3.0,
		BandSegment:     5 * time.Minute,
		MinWearFraction: 0.5,
	}
}

// Analyzer 活动分析模块
type Analyzer struct {
	cfg Config
}

// New 创建活动分析模块
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
	if cfg.Epoch, err = params.Duration("epoch", cfg.Epoch); err != nil {
		return nil, err
	}
	name, err := params.String("cutpoints", cfg.Cutpoints.Name)
	if err != nil {
		return nil, err
	}
	if cfg.Cutpoints, err = LookupCutpoints(name); err != nil {
		return nil, err
	}
	if cfg.BoutMinutes, err = params.Float("bout_minutes", cfg.BoutMinutes); err != nil {
		return nil, err
	}
	if cfg.BoutCriteria, err = params.Float("bout_criteria", cfg.BoutCriteria); err != nil {
		return nil, err
	}
	if cfg.ClosedBout, err = params.Bool("closed_bout", cfg.ClosedBout); err != nil {
		return nil, err
	}
	metric, err := params.Int("bout_metric", int(cfg.BoutMetric))
	if err != nil {
		return nil, err
	}
	cfg.BoutMetric = BoutMetric(metric)
	if cfg.BandLow, err = params.Float("band_low", cfg.BandLow); err != nil {
		return nil, err
	}
	if cfg.BandHigh, err = params.Float("band_high", cfg.BandHigh); err != nil {
		return nil, err
	}
	if cfg.BandSegment, err = params.Duration("band_segment", cfg.BandSegment); err != nil {
		return nil, err
	}
	if cfg.MinWearFraction, err = params.Float("min_wear_fraction", cfg.MinWearFraction); err != nil {
		return nil, err
	}

	epochsPerMin := time.Minute.Seconds() / cfg.Epoch.Seconds()
	switch {
	case cfg.Epoch <= 0 || epochsPerMin != math.Trunc(epochsPerMin):
		return nil, invalid("epoch %s must divide one minute", cfg.Epoch)
	case !cfg.BoutMetric.Valid():
		return nil, invalid("bout metric %d not in 1..4", int(cfg.BoutMetric))
	case cfg.BoutCriteria <= 0 || cfg.BoutCriteria > 1:
		return nil, invalid("bout criteria %v outside (0, 1]", cfg.BoutCriteria)
	case cfg.BandLow < 0 || cfg.BandHigh <= cfg.BandLow:
		return nil, invalid("band [%v, %v]", cfg.BandLow, cfg.BandHigh)
	case cfg.BandSegment <= 0:
		return nil, invalid("band segment %s", cfg.BandSegment)
	case cfg.MinWearFraction < 0 || cfg.MinWearFraction > 1:
		return nil, invalid("min wear fraction %v", cfg.MinWearFraction)
	}
	return &Analyzer{cfg: cfg}, nil
}

func invalid(format string, args ...any) error {
	return pipeerrors.Configf(pipeerrors.ErrInvalidOption, Name, format, args...)
}

// Spec 模块声明
func (a *Analyzer) Spec() models.ModuleSpec {
	return models.ModuleSpec{
		Name:     Name,
		Version:  Version,
		Streams:  []string{a.cfg.Stream},
		Requires: []string{wear.MetricWearFraction},
		Produces: []string{
			MetricENMOMean,
			MetricSedMinutes, MetricLightMinutes, MetricModMinutes, MetricVigMinutes, MetricMVPAMinutes,
			MetricMVPABout,
			MetricIG, MetricIGIntercept, MetricIGR2,
			MetricMaxAcc5, MetricMaxAcc30,
			MetricBandPower,
			MetricSedAvgDuration, MetricSedTransition, MetricSedGini, MetricSedAvgHazard, MetricSedPowerLaw,
		},
	}
}

// Run 计算窗口活动指标
func (a *Analyzer) Run(_ context.Context, in module.Input) (map[string]float64, error) {
	wearFrac, err := in.UpstreamValue(Name, wear.MetricWearFraction)
	if err != nil {
		return nil, err
	}
	if wearFrac < a.cfg.MinWearFraction {
		return nil, pipeerrors.NewInsufficientData(Name,
			fmt.Sprintf("wear fraction %.2f below %.2f", wearFrac, a.cfg.MinWearFraction))
	}

	x, y, z, err := in.Axes(Name, a.cfg.Stream)
	if err != nil {
		return nil, err
	}
	stream := in.Streams[a.cfg.Stream]
	breaks := in.Breaks[a.cfg.Stream]
	fs := stream.SampleRate

	enmo, err := kernel.ENMO(x, y, z)
	if err != nil {
		return nil, err
	}
	epochs, err := epochMeans(enmo, a.cfg.Epoch, fs, breaks)
	if err != nil {
		return nil, err
	}
	minutes, err := epochMeans(enmo, time.Minute, fs, breaks)
	if err != nil {
		return nil, err
	}

	epochsPerMin := time.Minute.Seconds() / a.cfg.Epoch.Seconds()
	out := map[string]float64{
		MetricENMOMean: kernel.Mean(epochs),
	}

	levels := map[Level]string{
		LevelSed:   MetricSedMinutes,
		LevelLight: MetricLightMinutes,
		LevelMod:   MetricModMinutes,
		LevelVig:   MetricVigMinutes,
		LevelMVPA:  MetricMVPAMinutes,
	}
	for level, metric := range levels {
		lo, hi := a.cfg.Cutpoints.Thresholds(level)
		count := 0
		for _, v := range epochs {
			if v >= lo && v < hi {
				count++
			}
		}
		out[metric] = float64(count) / epochsPerMin
	}

	lo, hi := a.cfg.Cutpoints.Thresholds(LevelMVPA)
	out[MetricMVPABout] = BoutMinutes(epochs, lo, hi, a.cfg.Epoch.Seconds(), a.cfg.BoutMinutes, a.cfg.BoutCriteria, a.cfg.ClosedBout, a.cfg.BoutMetric)

	out[MetricIG], out[MetricIGIntercept], out[MetricIGR2] = IntensityGradient(epochs, epochsPerMin)

	excluded := module.NewExclusions(Name)
	for metric, span := range map[string]int{MetricMaxAcc5: 5, MetricMaxAcc30: 30} {
		if v, ok := maxAcceleration(epochs, int(float64(span)*epochsPerMin)); ok {
			out[metric] = v
		} else {
			excluded.Add(metric, fmt.Sprintf("fewer than %d minutes of gap-free epochs", span))
		}
	}

	p, err := a.bandPower(x, y, z, fs, breaks)
	switch {
	case pipeerrors.IsInsufficientData(err):
		excluded.Add(MetricBandPower, err.Error())
	case err != nil:
		return nil, err
	default:
		out[MetricBandPower] = p
	}

	frag := endpoint.Compute(sedentaryRuns(minutes, a.cfg.Cutpoints))
	out[MetricSedAvgDuration] = frag.AverageDuration
	out[MetricSedTransition] = frag.TransitionProbability
	out[MetricSedGini] = frag.Gini
	out[MetricSedAvgHazard] = frag.AverageHazard
	out[MetricSedPowerLaw] = frag.PowerLawAlpha
	return out, excluded.Err()
}

// epochMeans 不跨缺失的 epoch 均值，丢弃跨缺失的 epoch
func epochMeans(x []float64, epoch time.Duration, fs float64, breaks []int) ([]float64, error) {
	n := max(1, int(math.Round(epoch.Seconds()*fs)))
	if len(x) < n {
		return nil, pipeerrors.NewInsufficientData(Name, fmt.Sprintf("fewer samples than one %s epoch", epoch))
	}
	raw, err := kernel.RollingWithBreaks(x, n, n, kernel.StatMean, breaks)
	if err != nil {
		return nil, err
	}
	out := raw[:0]
	for _, v := range raw {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil, pipeerrors.NewInsufficientData(Name, "no gap-free epochs")
	}
	return out, nil
}

// maxAcceleration n 个 epoch 滑动均值的最大值，epoch 不足 n 个时 ok 为 false
func maxAcceleration(epochs []float64, n int) (float64, bool) {
	if n <= 0 || len(epochs) < n {
		return 0, false
	}
	mm, err := kernel.MovingMean(epochs, n, 1)
	if err != nil {
		return 0, false
	}
	best := math.Inf(-1)
	for _, v := range mm {
		best = max(best, v)
	}
	return best, true
}

// bandPower 各无缺失分段的加速度模频带功率均值
// 窗口过短或所有分段都跨越缺失时返回数据不足
func (a *Analyzer) bandPower(x, y, z []float64, fs float64, breaks []int) (float64, error) {
	if a.cfg.BandLow >= fs/2 {
		return 0, pipeerrors.NewInsufficientData(Name,
			fmt.Sprintf("band start %v Hz at or above Nyquist for %v Hz", a.cfg.BandLow, fs))
	}
	mag, err := kernel.Magnitude(x, y, z)
	if err != nil {
		return 0, err
	}
	seg := int(math.Round(a.cfg.BandSegment.Seconds() * fs))
	if seg < 4 {
		return 0, pipeerrors.NewInsufficientData(Name, fmt.Sprintf("band segment %s shorter than 4 samples", a.cfg.BandSegment))
	}

	powers, err := kernel.RollingBandPowerWithBreaks(mag, seg, seg, fs, a.cfg.BandLow, a.cfg.BandHigh, breaks)
	if err != nil {
		return 0, err
	}
	var total float64
	var count int
	for _, p := range powers {
		if !math.IsNaN(p) {
			total += p
			count++
		}
	}
	if count == 0 {
		return 0, pipeerrors.NewInsufficientData(Name, "no gap-free band power segment")
	}
	return total / float64(count), nil
}

// sedentaryRuns 分钟级久坐连续段长度（分钟）
func sedentaryRuns(minutes []float64, cp Cutpoints) []float64 {
	lo, hi := cp.Thresholds(LevelSed)
	mask := make([]bool, len(minutes))
	for i, v := range minutes {
		mask[i] = v >= lo && v < hi
	}
	var lengths []float64
	for _, r := range kernel.RunLength(mask) {
		if r.Value {
			lengths = append(lengths, float64(r.Length))
		}
	}
	return lengths
}
