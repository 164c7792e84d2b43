package activity

import (
	"math"
	"slices"

	"wisefido-actigraphy/internal/kernel"
)

// BoutMetric 持续活动判定方法
type BoutMetric int

const (
	// BoutSliding 从每个达标 epoch 起查看 bout 窗口，达标比例超过阈值时向后延伸（Sabia 2014 / da Silva 2014）
	BoutSliding BoutMetric = iota + 1
	// BoutGroups 达标 epoch 起始、跨度至少一个 bout 且达标比例超过阈值的分组
	BoutGroups
	// BoutNoLongBreaks 滑动窗口判定，不允许超过 1 分钟的中断
	BoutNoLongBreaks
	// BoutAnchored 同 BoutNoLongBreaks，并要求窗口首尾 epoch 达标
	BoutAnchored
)

// Valid 是否为已知的判定方法
func (m BoutMetric) Valid() bool {
	return m >= BoutSliding && m <= BoutAnchored
}

// BoutMinutes 持续活动时间（分钟）
//
// metric 为 epoch 级加速度指标，[lower, upper) 为达标区间，boutMin 分钟内达标比例须超过
// criteria。closed 仅对 BoutSliding 生效：为 true 时整段计时，否则只计达标 epoch。
func BoutMinutes(metric []float64, lower, upper, epochSec, boutMin, criteria float64, closed bool, method BoutMetric) float64 {
	nbout := int(boutMin * 60 / epochSec)
	n := len(metric)
	if nbout <= 0 || n < nbout {
		return 0
	}

	x := make([]int, n)
	for i, v := range metric {
		if v >= lower && v < upper {
			x[i] = 1
		}
	}
	perEpoch := epochSec / 60

	switch method {
	case BoutGroups:
		return float64(boutGroups(x, nbout, criteria)) * perEpoch
	case BoutNoLongBreaks:
		return float64(boutWindows(x, nbout, epochSec, criteria, false)) * perEpoch
	case BoutAnchored:
		return float64(boutWindows(x, nbout, epochSec, criteria, true)) * perEpoch
	default:
		return boutSliding(x, nbout, criteria, closed) * perEpoch
	}
}

// boutSliding 返回 bout 内的 epoch 数
func boutSliding(x []int, nbout int, criteria float64, closed bool) float64 {
	n := len(x)
	prefix := prefixSums(x)
	sum := func(a, b int) int { return prefix[min(b, n)] - prefix[a] }
	var hits []int
	for i, v := range x {
		if v == 1 {
			hits = append(hits, i)
		}
	}

	var total float64
	for i := 0; i < len(hits); {
		start := hits[i]
		end := start + nbout
		jump := 1
		if end < n && float64(sum(start, end)) > float64(nbout)*criteria {
			for end < n && float64(sum(start, end+1)) > float64(end+1-start)*criteria {
				end++
			}
			selected := 0
			lastHit := start
			for _, h := range hits[i:] {
				if h >= end {
					break
				}
				selected++
				lastHit = h
			}
			jump = max(selected, 1)
			if closed {
				total += float64(lastHit - start + 1)
			} else {
				total += float64(selected)
			}
		}
		i += jump
	}
	return total
}

// boutGroups 返回 bout 内的 epoch 数
// 未满足比例的起始 epoch 被清除，后续分组的比例按清除后的序列计算
func boutGroups(mask []int, nbout int, criteria float64) int {
	x := slices.Clone(mask)
	n := len(x)
	inBout := make([]bool, n)
	var hits []int
	for i, v := range x {
		if v == 1 {
			hits = append(hits, i)
		}
	}
	for i, start := range hits {
		end := start + nbout
		if end >= n {
			// 末尾不足一个 bout 的达标 epoch 沿用前一个达标 epoch 的结果
			if len(hits) > 1 && i > 2 {
				x[start] = x[hits[i-1]]
			}
			continue
		}
		sum := 0
		for _, v := range x[start:end] {
			sum += v
		}
		if float64(sum) > float64(nbout)*criteria {
			for k := start; k < end; k++ {
				inBout[k] = true
			}
		} else {
			x[start] = 0
		}
	}

	total := 0
	for i, v := range x {
		if v == 1 || inBout[i] {
			total++
		}
	}
	return total
}

// boutWindows 返回被达标窗口覆盖的 epoch 数
// 连续超过 1 分钟未达标的 epoch 赋大负值，使跨越它们的窗口都不达标
func boutWindows(x []int, nbout int, epochSec, criteria float64, anchored bool) int {
	n := len(x)
	perMinute := int(60 / epochSec)
	span := perMinute + 1

	xt := make([]int, n)
	copy(xt, x)
	active := make([]bool, n)
	if n >= span {
		prefix := prefixSums(x)
		offset := (span+1)/2 - 1
		for k := 0; k+span <= n; k++ {
			active[offset+k] = prefix[k+span]-prefix[k] > 0
		}
	}
	penalty := -perMinute * nbout
	for i := range xt {
		if !active[i] {
			xt[i] = penalty
		}
	}

	prefix := prefixSums(xt)
	covered := make([]bool, n)
	for p := 0; p+nbout <= n; p++ {
		if float64(prefix[p+nbout]-prefix[p])/float64(nbout) <= criteria {
			continue
		}
		if anchored && (x[p] != 1 || x[p+nbout-1] != 1) {
			continue
		}
		for k := p; k < p+nbout; k++ {
			covered[k] = true
		}
	}

	total := 0
	for _, c := range covered {
		if c {
			total++
		}
	}
	return total
}

func prefixSums(x []int) []int {
	prefix := make([]int, len(x)+1)
	for i, v := range x {
		prefix[i+1] = prefix[i] + v
	}
	return prefix
}

// igBins 强度梯度直方图边界（g）：0–4g 每 25mg 一档，外加 4–8g
func igBins() []float64 {
	bins := make([]float64, 0, 162)
	for mg := 0; mg <= 4000; mg += 25 {
		bins = append(bins, float64(mg)/1000)
	}
	return append(bins, 8)
}

// IntensityGradient 强度梯度（Rowlands 2018）
// 各强度档分钟数与档中值（mg）取对数后线性回归，返回斜率、截距、r²
func IntensityGradient(metric []float64, epochsPerMin float64) (gradient, intercept, r2 float64) {
	bins := igBins()
	hist := make([]float64, len(bins)-1)
	for _, v := range metric {
		if v < bins[0] || v > bins[len(bins)-1] || math.IsNaN(v) {
			continue
		}
		k := binIndex(bins, v)
		hist[k]++
	}

	var lx, ly []float64
	for k, c := range hist {
		if c <= 0 {
			continue
		}
		mid := (bins[k] + bins[k+1]) / 2
		lx = append(lx, math.Log(mid*1000))
		ly = append(ly, math.Log(c/epochsPerMin))
	}
	if len(ly) <= 1 {
		return math.NaN(), math.NaN(), math.NaN()
	}
	slope, icpt, r, err := kernel.LinearFit(lx, ly)
	if err != nil {
		return math.NaN(), math.NaN(), math.NaN()
	}
	return slope, icpt, r
}

// binIndex 左闭右开，最后一档右闭
func binIndex(bins []float64, v float64) int {
	lo, hi := 0, len(bins)-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if v >= bins[mid] {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}
