package kernel

import (
	"math"
	"slices"

	pipeerrors "wisefido-actigraphy/internal/errors"
)

// Mean 均值，空输入为 NaN
func Mean(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	var k ksum
	for _, v := range x {
		k.add(v)
	}
	return k.value() / float64(len(x))
}

// Std 样本标准差（ddof=1），单样本为 0，空输入为 NaN
func Std(x []float64) float64 {
	n := len(x)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return 0
	}
	m := Mean(x)
	var k ksum
	for _, v := range x {
		d := v - m
		k.add(d * d)
	}
	return math.Sqrt(k.value() / float64(n-1))
}

// Percentile 线性插值分位数，p ∈ [0, 100]
func Percentile(x []float64, p float64) (float64, error) {
	if p < 0 || p > 100 || math.IsNaN(p) {
		return 0, pipeerrors.Kernelf("Percentile", "percentile %v outside [0, 100]", p)
	}
	if len(x) == 0 {
		return 0, pipeerrors.NewInsufficientData("kernel.Percentile", "empty input")
	}
	sorted := slices.Clone(x)
	slices.Sort(sorted)

	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac, nil
}

// Median 中位数
func Median(x []float64) (float64, error) {
	return Percentile(x, 50)
}

// Magnitude 三轴向量模
func Magnitude(x, y, z []float64) ([]float64, error) {
	if len(x) != len(y) || len(x) != len(z) {
		return nil, pipeerrors.Kernelf("Magnitude", "axis lengths differ: %d/%d/%d", len(x), len(y), len(z))
	}
	out := make([]float64, len(x))
	for i := range x {
		out[i] = math.Sqrt(x[i]*x[i] + y[i]*y[i] + z[i]*z[i])
	}
	return out, nil
}

// ENMO 欧氏模减一（g），负值截断为 0
func ENMO(x, y, z []float64) ([]float64, error) {
	out, err := Magnitude(x, y, z)
	if err != nil {
		return nil, err
	}
	for i, v := range out {
		out[i] = max(v-1, 0)
	}
	return out, nil
}

// ZAngle 手臂 z 轴角度（度）：atan(z / sqrt(x²+y²))
func ZAngle(x, y, z []float64) ([]float64, error) {
	if len(x) != len(y) || len(x) != len(z) {
		return nil, pipeerrors.Kernelf("ZAngle", "axis lengths differ: %d/%d/%d", len(x), len(y), len(z))
	}
	out := make([]float64, len(x))
	for i := range x {
		out[i] = math.Atan2(z[i], math.Hypot(x[i], y[i])) * 180 / math.Pi
	}
	return out, nil
}

// Autocorrelation 指定滞后的归一化自相关，方差为 0 时返回 0
func Autocorrelation(x []float64, lag int) (float64, error) {
	if lag < 0 {
		return 0, pipeerrors.Kernelf("Autocorrelation", "lag must be non-negative, got %d", lag)
	}
	n := len(x)
	if n <= lag+1 {
		return 0, pipeerrors.NewInsufficientData("kernel.Autocorrelation", "series shorter than lag")
	}
	m := Mean(x)
	var num, den float64
	for i := 0; i < n; i++ {
		d := x[i] - m
		den += d * d
		if i+lag < n {
			num += d * (x[i+lag] - m)
		}
	}
	if den == 0 {
		return 0, nil
	}
	return num / den, nil
}

// Run 连续相同布尔值的区段
type Run struct {
	Start  int
	Length int
	Value  bool
}

// RunLength 游程编码
func RunLength(x []bool) []Run {
	var out []Run
	for i, v := range x {
		if len(out) > 0 && out[len(out)-1].Value == v {
			out[len(out)-1].Length++
			continue
		}
		out = append(out, Run{Start: i, Length: 1, Value: v})
	}
	return out
}

// LinearFit 最小二乘直线拟合，返回斜率、截距与 r²
func LinearFit(x, y []float64) (slope, intercept, r2 float64, err error) {
	if len(x) != len(y) {
		return 0, 0, 0, pipeerrors.Kernelf("LinearFit", "length mismatch %d/%d", len(x), len(y))
	}
	if len(x) < 2 {
		return 0, 0, 0, pipeerrors.NewInsufficientData("kernel.LinearFit", "fewer than 2 points")
	}
	mx, my := Mean(x), Mean(y)
	var sxx, sxy, syy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	if sxx == 0 {
		return 0, 0, 0, pipeerrors.NewInsufficientData("kernel.LinearFit", "no variance in x")
	}
	slope = sxy / sxx
	intercept = my - slope*mx
	if syy == 0 {
		return slope, intercept, 1, nil
	}
	r2 = sxy * sxy / (sxx * syy)
	return slope, intercept, r2, nil
}

// DetectGaps 返回时间戳间隔超过 maxDelta 的下标 i（t[i] 与 t[i+1] 之间缺失）
func DetectGaps(t []float64, maxDelta float64) ([]int, error) {
	if !(maxDelta > 0) {
		return nil, pipeerrors.Kernelf("DetectGaps", "max delta must be positive, got %v", maxDelta)
	}
	var out []int
	for i := 0; i+1 < len(t); i++ {
		if t[i+1]-t[i] > maxDelta {
			out = append(out, i)
		}
	}
	return out, nil
}
