// Package synth 生成合成三轴加速度数据，用于演示与测试
package synth

import (
	"math"
	"math/rand/v2"
	"time"

	"wisefido-actigraphy/internal/models"
)

// Pattern 一段时间内的运动模式
type Pattern struct {
	Name          string
	AngleDeg      float64 // 设备 z 轴相对水平面的基准角度
	SwayDeg       float64 // 姿态缓慢摆动幅度
	SwayPeriod    float64 // 摆动周期（秒）
	Vibration     float64 // x 轴周期性加速度幅度（g）
	VibrationFreq float64 // Hz，步行时即步频
	Noise         float64 // 各轴高斯噪声标准差（g）
}

// Segment 持续 Duration 的一段模式
type Segment struct {
	Duration time.Duration
	Pattern  Pattern
}

// 预置模式
var (
	// NonWear 设备静置：姿态固定、几乎无噪声
	NonWear = Pattern{Name: "non-wear", AngleDeg: 90, Noise: 0.0005}
	// Sleep 卧床：姿态近乎稳定、微小噪声
	Sleep = Pattern{Name: "sleep", AngleDeg: 40, SwayDeg: 3, SwayPeriod: 600, Noise: 0.002}
	// Sedentary 久坐：姿态有缓慢变化，加速度很低
	Sedentary = Pattern{Name: "sedentary", AngleDeg: -20, SwayDeg: 30, SwayPeriod: 47, Vibration: 0.01, VibrationFreq: 0.7, Noise: 0.01}
	// Walking 步行：约 1.8Hz 步频
	Walking = Pattern{Name: "walking", AngleDeg: -60, SwayDeg: 5, SwayPeriod: 13, Vibration: 0.35, VibrationFreq: 1.8, Noise: 0.02}
	// Vigorous 剧烈活动
	Vigorous = Pattern{Name: "vigorous", AngleDeg: -45, SwayDeg: 40, SwayPeriod: 23, Vibration: 1.2, VibrationFreq: 2.6, Noise: 0.05}
)

// Generate 从 start 起按采样率 fs 生成各段数据
func Generate(start time.Time, fs float64, segments []Segment, seed uint64) *models.SensorStream {
	total := 0
	for _, seg := range segments {
		total += int(seg.Duration.Seconds() * fs)
	}

	s := &models.SensorStream{
		Name:       "accel",
		SampleRate: fs,
		Channels:   []string{"x", "y", "z"},
		Time:       make([]float64, 0, total),
		Values:     [][]float64{make([]float64, 0, total), make([]float64, 0, total), make([]float64, 0, total)},
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	t0 := models.UnixSeconds(start)
	i := 0
	for _, seg := range segments {
		n := int(seg.Duration.Seconds() * fs)
		p := seg.Pattern
		for k := 0; k < n; k++ {
			t := float64(i) / fs
			theta := p.AngleDeg
			if p.SwayPeriod > 0 {
				theta += p.SwayDeg * math.Sin(2*math.Pi*t/p.SwayPeriod)
			}
			rad := theta * math.Pi / 180
			vib := 0.0
			if p.VibrationFreq > 0 {
				vib = p.Vibration * math.Sin(2*math.Pi*p.VibrationFreq*t)
			}

			s.Time = append(s.Time, t0+t)
			s.Values[0] = append(s.Values[0], math.Cos(rad)+vib+rng.NormFloat64()*p.Noise)
			s.Values[1] = append(s.Values[1], rng.NormFloat64()*p.Noise)
			s.Values[2] = append(s.Values[2], math.Sin(rad)+rng.NormFloat64()*p.Noise)
			i++
		}
	}
	return s
}

// Day 生成从 start 起的一整天：夜间睡眠、日间久坐与步行交替
func Day(start time.Time, fs float64, seed uint64) *models.SensorStream {
	return Generate(start, fs, []Segment{
		{Duration: 7 * time.Hour, Pattern: Sleep},
		{Duration: 30 * time.Minute, Pattern: Walking},
		{Duration: 4 * time.Hour, Pattern: Sedentary},
		{Duration: 20 * time.Minute, Pattern: Vigorous},
		{Duration: 3*time.Hour + 10*time.Minute, Pattern: Sedentary},
		{Duration: time.Hour, Pattern: Walking},
		{Duration: 2 * time.Hour, Pattern: NonWear},
		{Duration: 5 * time.Hour, Pattern: Sedentary},
		{Duration: time.Hour, Pattern: Sleep},
	}, seed)
}
