package kernel

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"

	pipeerrors "wisefido-actigraphy/internal/errors"
)

// HannWindow 汉宁窗: 0.5 * (1 - cos(2*PI*n / (N-1)))
func HannWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// Spectrum 单边功率谱密度
type Spectrum struct {
	Freq  []float64 // Hz
	Power []float64 // 单位²/Hz
	Df    float64   // 频率分辨率
}

// PowerSpectrum 去均值、加汉宁窗后计算单边功率谱密度
// 归一化满足 sum(Power)*Df ≈ 信号方差
func PowerSpectrum(x []float64, fs float64) (*Spectrum, error) {
	if !(fs > 0) || math.IsInf(fs, 0) {
		return nil, pipeerrors.Kernelf("PowerSpectrum", "sample rate must be positive, got %v", fs)
	}
	n := len(x)
	if n < 4 {
		return nil, pipeerrors.NewInsufficientData("kernel.PowerSpectrum", "fewer than 4 samples")
	}

	mean := Mean(x)
	win := HannWindow(n)
	input := make([]float64, n)
	var wss float64
	for i, v := range x {
		input[i] = (v - mean) * win[i]
		wss += win[i] * win[i]
	}

	spec := fft.FFTReal(input)
	half := n/2 + 1
	df := fs / float64(n)
	out := &Spectrum{
		Freq:  make([]float64, half),
		Power: make([]float64, half),
		Df:    df,
	}
	scale := 1 / (fs * wss)
	for k := 0; k < half; k++ {
		mag := cmplx.Abs(spec[k])
		p := mag * mag * scale
		// 单边谱：除直流和奈奎斯特外加倍
		if k != 0 && !(n%2 == 0 && k == n/2) {
			p *= 2
		}
		out.Freq[k] = float64(k) * df
		out.Power[k] = p
	}
	return out, nil
}

func checkBand(op string, fs, lo, hi float64) error {
	if lo < 0 || !(hi > lo) || math.IsNaN(lo) {
		return pipeerrors.Kernelf(op, "invalid band [%v, %v]", lo, hi)
	}
	if lo >= fs/2 {
		return pipeerrors.Kernelf(op, "band start %v at or above Nyquist %v", lo, fs/2)
	}
	return nil
}

// BandPower [lo, hi] Hz 频带内功率（hi 超过奈奎斯特频率时截断）
func BandPower(x []float64, fs, lo, hi float64) (float64, error) {
	if err := checkBand("BandPower", fs, lo, hi); err != nil {
		return 0, err
	}
	spec, err := PowerSpectrum(x, fs)
	if err != nil {
		return 0, err
	}

	var p float64
	for k, f := range spec.Freq {
		if f >= lo && f <= hi {
			p += spec.Power[k]
		}
	}
	return p * spec.Df, nil
}

// DominantFrequency [lo, hi] Hz 内功率最大的频率（抛物线插值），及其功率
func DominantFrequency(x []float64, fs, lo, hi float64) (float64, float64, error) {
	if err := checkBand("DominantFrequency", fs, lo, hi); err != nil {
		return 0, 0, err
	}
	spec, err := PowerSpectrum(x, fs)
	if err != nil {
		return 0, 0, err
	}

	best := -1
	for k, f := range spec.Freq {
		if f < lo || f > hi {
			continue
		}
		if best < 0 || spec.Power[k] > spec.Power[best] {
			best = k
		}
	}
	if best < 0 {
		return 0, 0, pipeerrors.NewInsufficientData("kernel.DominantFrequency", "no frequency bin inside band")
	}

	// 抛物线插值: p = 0.5 * (alpha - gamma) / (alpha - 2*beta + gamma)
	freq := spec.Freq[best]
	if best > 0 && best < len(spec.Power)-1 {
		alpha := math.Sqrt(spec.Power[best-1])
		beta := math.Sqrt(spec.Power[best])
		gamma := math.Sqrt(spec.Power[best+1])
		if denom := alpha - 2*beta + gamma; denom != 0 {
			freq = (float64(best) + 0.5*(alpha-gamma)/denom) * spec.Df
		}
	}
	return freq, spec.Power[best], nil
}

// RollingBandPower 滑动窗口频带功率，宽度 w、步长 s 以样本数计
func RollingBandPower(x []float64, w, s int, fs, lo, hi float64) ([]float64, error) {
	return rollingBandPower("RollingBandPower", x, w, s, fs, lo, hi, nil)
}

// RollingBandPowerWithBreaks 同 RollingBandPower，跨越间断点的窗口输出 NaN
func RollingBandPowerWithBreaks(x []float64, w, s int, fs, lo, hi float64, breaks []int) ([]float64, error) {
	return rollingBandPower("RollingBandPowerWithBreaks", x, w, s, fs, lo, hi, sortedBreaks(breaks))
}

func rollingBandPower(op string, x []float64, w, s int, fs, lo, hi float64, breaks []int) ([]float64, error) {
	if err := checkWindow(op, len(x), w, s); err != nil {
		return nil, err
	}
	if err := checkBand(op, fs, lo, hi); err != nil {
		return nil, err
	}

	out := make([]float64, OutputLen(len(x), w, s))
	for k := range out {
		start := k * s
		if spansBreak(breaks, start, start+w-1) {
			out[k] = math.NaN()
			continue
		}
		p, err := BandPower(x[start:start+w], fs, lo, hi)
		if err != nil {
			return nil, err
		}
		out[k] = p
	}
	return out, nil
}
