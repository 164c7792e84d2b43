// Package sleep 基于腕部加速度的睡眠分析
//
// 流程：z 角检测总睡眠机会（TSO）→ 每分钟活动指数（Bai 2016）→
// Cole–Kripke 睡眠/清醒判定 → TSO 内的睡眠指标与碎片化指标。
package sleep

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
	Name    = "sleep"
	Version = "1.0.0"

	MetricTSOStart          = "sleep_tso_start"
	MetricTSODuration       = "sleep_tso_duration"
	MetricTST               = "sleep_tst"
	MetricPercentAsleep     = "sleep_percent_asleep"
	MetricWakeBouts         = "sleep_wake_bouts"
	MetricOnsetLatency      = "sleep_onset_latency"
	MetricWASO              = "sleep_waso"
	MetricActivityIndex     = "sleep_activity_index_mean"
	MetricAvgSleepDuration  = "sleep_avg_sleep_duration"
	MetricAvgWakeDuration   = "sleep_avg_wake_duration"
	MetricSleepWakeTransit  = "sleep_sw_transition_prob"
	MetricWakeSleepTransit  = "sleep_ws_transition_prob"
	MetricSleepGini         = "sleep_gini"
	MetricWakeGini          = "sleep_wake_gini"
	MetricSleepAvgHazard    = "sleep_avg_hazard"
	MetricWakeAvgHazard     = "sleep_wake_avg_hazard"
	MetricSleepPowerLaw     = "sleep_power_law"
	MetricWakePowerLaw      = "sleep_wake_power_law"
	epochsPerMedianWindow   = 60
	coleKripkeCenter        = 4
	defaultHighPassOrder    = 2
	defaultColeKripkeScale  = 0.243
	defaultColeKripkeThresh = 0.5
)

// Cole–Kripke 权重，依次作用于 A(-4) ... A(+4)
var coleKripkeWeights = [9]float64{4.64, 6.87, 3.75, 5.07, 16.19, 5.84, 4.024, 0, 0}

// Config 睡眠分析参数
type Config struct {
	Stream           string
	Epoch            time.Duration
	MinRestBlock     time.Duration
	MaxActivityBreak time.Duration
	MinAngle         float64 // 度
	MaxAngle         float64
	HighPassCutoff   float64 // Hz
	ColeKripkeScale  float64
	ColeKripkeThresh float64
	MinWearFraction  float64
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		Stream:           "accel",
		Epoch:            5 * time.Second,
		MinRestBlock:     30 * time.Minute,
		MaxActivityBreak: 60 * time.Minute,
		MinAngle:         0.1,
		MaxAngle:         1.0,
		HighPassCutoff:   0.25,
		ColeKripkeScale:  defaultColeKripkeScale,
		ColeKripkeThresh: defaultColeKripkeThresh,
		MinWearFraction:  0.25,
	}
}

// Analyzer 睡眠分析模块
type Analyzer struct {
	cfg Config
}

// New 创建睡眠分析模块
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
	if cfg.MinRestBlock, err = params.Duration("min_rest_block", cfg.MinRestBlock); err != nil {
		return nil, err
	}
	if cfg.MaxActivityBreak, err = params.Duration("max_activity_break", cfg.MaxActivityBreak); err != nil {
		return nil, err
	}
	if cfg.MinAngle, err = params.Float("min_angle_threshold", cfg.MinAngle); err != nil {
		return nil, err
	}
	if cfg.MaxAngle, err = params.Float("max_angle_threshold", cfg.MaxAngle); err != nil {
		return nil, err
	}
	if cfg.ColeKripkeScale, err = params.Float("cole_kripke_scale", cfg.ColeKripkeScale); err != nil {
		return nil, err
	}
	if cfg.ColeKripkeThresh, err = params.Float("cole_kripke_threshold", cfg.ColeKripkeThresh); err != nil {
		return nil, err
	}
	if cfg.MinWearFraction, err = params.Float("min_wear_fraction", cfg.MinWearFraction); err != nil {
		return nil, err
	}
	if cfg.MinRestBlock <= 0 || cfg.MaxActivityBreak < 0 || cfg.MinAngle <= 0 || cfg.MaxAngle < cfg.MinAngle ||
		cfg.ColeKripkeScale <= 0 || cfg.ColeKripkeThresh <= 0 {
		return nil, pipeerrors.Configf(pipeerrors.ErrInvalidOption, Name,
			"rest block %s, activity break %s, angle range [%v, %v], cole-kripke %v/%v",
			cfg.MinRestBlock, cfg.MaxActivityBreak, cfg.MinAngle, cfg.MaxAngle, cfg.ColeKripkeScale, cfg.ColeKripkeThresh)
	}
	return &Analyzer{cfg: cfg}, nil
}

// Spec 模块声明
func (a *Analyzer) Spec() models.ModuleSpec {
	return models.ModuleSpec{
		Name:     Name,
		Version:  Version,
		Streams:  []string{a.cfg.Stream},
		Requires: []string{wear.MetricWearFraction},
		Produces: []string{
			MetricTSOStart, MetricTSODuration,
			MetricTST, MetricPercentAsleep, MetricWakeBouts, MetricOnsetLatency, MetricWASO,
			MetricActivityIndex,
			MetricAvgSleepDuration, MetricAvgWakeDuration,
			MetricSleepWakeTransit, MetricWakeSleepTransit,
			MetricSleepGini, MetricWakeGini,
			MetricSleepAvgHazard, MetricWakeAvgHazard,
			MetricSleepPowerLaw, MetricWakePowerLaw,
		},
	}
}

// Run 计算窗口睡眠指标，未检测到 TSO 时返回数据不足
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
	if fs <= 2*a.cfg.HighPassCutoff {
		return nil, pipeerrors.WrapModule(
			fmt.Errorf("%w: sample rate %v too low for %v Hz high-pass", pipeerrors.ErrModuleFault, fs, a.cfg.HighPassCutoff),
			Name, "Run", "check sample rate")
	}

	epochN := max(1, int(math.Round(a.cfg.Epoch.Seconds()*fs)))
	minuteN := max(1, int(math.Round(60*fs)))
	if len(x) < minuteN {
		return nil, pipeerrors.NewInsufficientData(Name, "less than one minute of data")
	}

	angles, err := epochAngles(x, y, z, epochN, breaks)
	if err != nil {
		return nil, err
	}
	epochsPerMin := int(time.Minute / a.cfg.Epoch)
	tso, ok := detectTSO(angles,
		epochsPerMedianWindow,
		int(a.cfg.MinRestBlock/a.cfg.Epoch),
		int(a.cfg.MaxActivityBreak/a.cfg.Epoch),
		a.cfg.MinAngle, a.cfg.MaxAngle)
	if !ok {
		return nil, pipeerrors.NewInsufficientData(Name, "no sleep opportunity period detected")
	}

	ai, err := activityIndex([][]float64{x, y, z}, fs, a.cfg.HighPassCutoff, minuteN, breaks)
	if err != nil {
		return nil, err
	}
	asleep := coleKripke(ai, a.cfg.ColeKripkeScale, a.cfg.ColeKripkeThresh)

	startMin := tso.Start / epochsPerMin
	endMin := min(len(asleep), tso.End/epochsPerMin)
	if endMin <= startMin {
		return nil, pipeerrors.NewInsufficientData(Name, "sleep opportunity period shorter than one minute")
	}

	out := endpoints(asleep[startMin:endMin])
	out[MetricActivityIndex] = nanMean(ai[startMin:endMin])

	startSample := min(tso.Start*epochN, len(stream.Time)-1)
	offset := stream.Time[startSample] - models.UnixSeconds(in.Window.Start)
	out[MetricTSOStart] = offset / 60
	out[MetricTSODuration] = float64(tso.End-tso.Start) * a.cfg.Epoch.Minutes()
	return out, nil
}

// epochAngles 每个 epoch 平均加速度的 z 角，跨缺失的 epoch 为 NaN
func epochAngles(x, y, z []float64, n int, breaks []int) ([]float64, error) {
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
	return kernel.ZAngle(ex, ey, ez)
}

// activityIndex 每分钟活动指数：高通滤波后各轴方差均值的平方根
func activityIndex(axes [][]float64, fs, cutoff float64, minuteN int, breaks []int) ([]float64, error) {
	hp, err := kernel.NewButterworth(kernel.Highpass, defaultHighPassOrder, fs, cutoff)
	if err != nil {
		return nil, err
	}
	var sumVar []float64
	for _, axis := range axes {
		sd, err := kernel.RollingWithBreaks(hp.FiltFilt(axis), minuteN, minuteN, kernel.StatStd, breaks)
		if err != nil {
			return nil, err
		}
		if sumVar == nil {
			sumVar = make([]float64, len(sd))
		}
		for i, v := range sd {
			sumVar[i] += v * v
		}
	}
	for i := range sumVar {
		sumVar[i] = math.Sqrt(sumVar[i] / float64(len(axes)))
	}
	return sumVar, nil
}

// coleKripke Cole–Kripke 判定，D < threshold 为睡眠；活动指数缺失的分钟判为清醒
func coleKripke(ai []float64, scale, threshold float64) []bool {
	asleep := make([]bool, len(ai))
	for i := range ai {
		var d float64
		missing := false
		for k, w := range coleKripkeWeights {
			j := i + k - coleKripkeCenter
			if j < 0 || j >= len(ai) || w == 0 {
				continue
			}
			if math.IsNaN(ai[j]) {
				missing = true
				break
			}
			d += w * ai[j]
		}
		asleep[i] = !missing && scale*d < threshold
	}
	return asleep
}

// endpoints TSO 内逐分钟睡眠判定的汇总指标
func endpoints(asleep []bool) map[string]float64 {
	runs := kernel.RunLength(asleep)
	var sleepLens, wakeLens []float64
	first, last := -1, -1
	for i, r := range runs {
		if r.Value {
			sleepLens = append(sleepLens, float64(r.Length))
			if first < 0 {
				first = i
			}
			last = i
		} else {
			wakeLens = append(wakeLens, float64(r.Length))
		}
	}

	total := float64(len(asleep))
	var tst float64
	for _, l := range sleepLens {
		tst += l
	}

	out := map[string]float64{
		MetricTST:           tst,
		MetricPercentAsleep: 100 * tst / total,
	}
	if first < 0 {
		out[MetricWakeBouts] = 0
		out[MetricOnsetLatency] = math.NaN()
		out[MetricWASO] = math.NaN()
	} else {
		bouts, waso := 0, 0
		for _, r := range runs[first : last+1] {
			if !r.Value {
				bouts++
				waso += r.Length
			}
		}
		out[MetricWakeBouts] = float64(bouts)
		out[MetricOnsetLatency] = float64(runs[first].Start)
		out[MetricWASO] = float64(waso)
	}

	sf := endpoint.Compute(sleepLens)
	wf := endpoint.Compute(wakeLens)
	out[MetricAvgSleepDuration] = sf.AverageDuration
	out[MetricAvgWakeDuration] = wf.AverageDuration
	out[MetricSleepWakeTransit] = sf.TransitionProbability
	out[MetricWakeSleepTransit] = wf.TransitionProbability
	out[MetricSleepGini] = sf.Gini
	out[MetricWakeGini] = wf.Gini
	out[MetricSleepAvgHazard] = sf.AverageHazard
	out[MetricWakeAvgHazard] = wf.AverageHazard
	out[MetricSleepPowerLaw] = sf.PowerLawAlpha
	out[MetricWakePowerLaw] = wf.PowerLawAlpha
	return out
}

func nanMean(x []float64) float64 {
	var s float64
	var n int
	for _, v := range x {
		if !math.IsNaN(v) {
			s += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return s / float64(n)
}
