// Package endpoint 计算状态游程的碎片化指标
//
// 输入为某一状态（如睡眠、清醒、久坐）各连续段的长度（分钟），
// 空输入时各指标为 NaN。
package endpoint

import (
	"math"
	"slices"
)

// Fragmentation 碎片化指标
type Fragmentation struct {
	AverageDuration       float64
	TransitionProbability float64
	Gini                  float64
	AverageHazard         float64
	PowerLawAlpha         float64
}

// Compute 计算全部碎片化指标
func Compute(lengths []float64) Fragmentation {
	return Fragmentation{
		AverageDuration:       AverageDuration(lengths),
		TransitionProbability: TransitionProbability(lengths),
		Gini:                  GiniIndex(lengths),
		AverageHazard:         AverageHazard(lengths),
		PowerLawAlpha:         PowerLawAlpha(lengths),
	}
}

// AverageDuration 平均持续时长
func AverageDuration(lengths []float64) float64 {
	if len(lengths) == 0 {
		return math.NaN()
	}
	var s float64
	for _, l := range lengths {
		s += l
	}
	return s / float64(len(lengths))
}

// TransitionProbability 状态转移概率，即平均时长的倒数
func TransitionProbability(lengths []float64) float64 {
	d := AverageDuration(lengths)
	if math.IsNaN(d) || d == 0 {
		return math.NaN()
	}
	return 1 / d
}

// GiniIndex 小样本修正的基尼系数，少于 2 段时为 0
func GiniIndex(lengths []float64) float64 {
	n := len(lengths)
	if n == 0 {
		return math.NaN()
	}
	if n < 2 {
		return 0
	}
	sorted := slices.Clone(lengths)
	slices.Sort(sorted)

	var num, sum float64
	for i, v := range sorted {
		num += float64(2*(i+1)-n-1) * v
		sum += v
	}
	if sum == 0 {
		return 0
	}
	g := num / (float64(n) * sum)
	return g * float64(n) / float64(n-1)
}

// AverageHazard 平均风险函数
// 对每个不同长度 L：以 L 结束的段数 / 长度 >= L 的段数
func AverageHazard(lengths []float64) float64 {
	if len(lengths) == 0 {
		return math.NaN()
	}
	sorted := slices.Clone(lengths)
	slices.Sort(sorted)

	var total float64
	var distinct int
	n := len(sorted)
	for i := 0; i < n; {
		j := i
		for j < n && sorted[j] == sorted[i] {
			j++
		}
		atRisk := n - i
		total += float64(j-i) / float64(atRisk)
		distinct++
		i = j
	}
	return total / float64(distinct)
}

// PowerLawAlpha 幂律分布指数：1 + n / Σ ln(L / (Lmin - 0.5))
func PowerLawAlpha(lengths []float64) float64 {
	if len(lengths) == 0 {
		return math.NaN()
	}
	lmin := slices.Min(lengths)
	if lmin <= 0.5 {
		return math.NaN()
	}
	var s float64
	for _, l := range lengths {
		s += math.Log(l / (lmin - 0.5))
	}
	if s == 0 {
		return math.NaN()
	}
	return 1 + float64(len(lengths))/s
}
