package sleep

import (
	"math"
	"slices"

	"wisefido-actigraphy/internal/kernel"
)

// TSO 总睡眠机会区间（epoch 下标，半开）
type TSO struct {
	Start, End int
	Threshold  float64 // 实际使用的 z 角变化阈值（度）
}

// detectTSO HDCZA 算法（van Hees 2018）
//
// z 角逐 epoch 差分取绝对值，再取滑动中位数；低于阈值（第 10 百分位 ×15，
// 截断到 [minAngle, maxAngle]）的 epoch 为静息。保留足够长的静息块，合并间隔
// 短于 maxBreak 的相邻块，最长者即为 TSO。
func detectTSO(angles []float64, medianWin, minBlock, maxBreak int, minAngle, maxAngle float64) (TSO, bool) {
	if len(angles) < medianWin+1 {
		return TSO{}, false
	}
	dz := make([]float64, len(angles)-1)
	for i := range dz {
		dz[i] = math.Abs(angles[i+1] - angles[i])
	}
	med := rollingMedian(dz, medianWin)

	var valid []float64
	for _, v := range med {
		if !math.IsNaN(v) {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return TSO{}, false
	}
	p10, err := kernel.Percentile(valid, 10)
	if err != nil {
		return TSO{}, false
	}
	thresh := min(max(p10*15, minAngle), maxAngle)

	rest := make([]bool, len(med))
	for i, v := range med {
		rest[i] = v < thresh
	}

	// 只保留足够长的静息块
	for _, r := range kernel.RunLength(rest) {
		if r.Value && r.Length < minBlock {
			fill(rest, r.Start, r.Length, false)
		}
	}
	// 合并短间隔
	runs := kernel.RunLength(rest)
	for i, r := range runs {
		if !r.Value && i > 0 && i < len(runs)-1 && r.Length < maxBreak {
			fill(rest, r.Start, r.Length, true)
		}
	}

	best := kernel.Run{}
	for _, r := range kernel.RunLength(rest) {
		if r.Value && r.Length > best.Length {
			best = r
		}
	}
	if best.Length == 0 {
		return TSO{}, false
	}
	// med[i] 描述 epoch i 到 i+1 的变化
	return TSO{Start: best.Start, End: best.Start + best.Length + 1, Threshold: thresh}, true
}

func fill(x []bool, start, n int, v bool) {
	for i := start; i < start+n; i++ {
		x[i] = v
	}
}

// rollingMedian 居中滑动中位数，输出与输入等长；两端窗口截断，含 NaN 时为 NaN
func rollingMedian(x []float64, w int) []float64 {
	out := make([]float64, len(x))
	buf := make([]float64, 0, w)
	half := w / 2
	for i := range x {
		lo := max(0, i-half)
		hi := min(len(x), lo+w)
		buf = append(buf[:0], x[lo:hi]...)
		if slices.ContainsFunc(buf, math.IsNaN) {
			out[i] = math.NaN()
			continue
		}
		slices.Sort(buf)
		m := len(buf)
		if m%2 == 1 {
			out[i] = buf[m/2]
		} else {
			out[i] = (buf[m/2-1] + buf[m/2]) / 2
		}
	}
	return out
}
