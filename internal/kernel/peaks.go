package kernel

import (
	"math"
	"sort"

	pipeerrors "wisefido-actigraphy/internal/errors"
)

// PeakOptions 峰值检测条件，零值表示不过滤
type PeakOptions struct {
	MinHeight     float64 // HeightSet 为 true 时生效
	HeightSet     bool
	MinProminence float64
	MinDistance   int // 峰间最小间距（样本数）
}

// Peak 检测到的峰
type Peak struct {
	Index      int
	Height     float64
	Prominence float64
}

// FindPeaks 查找局部极大值
//
// 平台取中点。过滤顺序：高度 → 间距（优先保留较高的峰）→ 显著度。
// 显著度为峰高减去左右两侧"到更高点为止"区间最小值中的较大者。
func FindPeaks(x []float64, opts PeakOptions) ([]Peak, error) {
	if opts.MinDistance < 0 {
		return nil, pipeerrors.Kernelf("FindPeaks", "distance must be non-negative, got %d", opts.MinDistance)
	}
	if opts.MinProminence < 0 || math.IsNaN(opts.MinProminence) {
		return nil, pipeerrors.Kernelf("FindPeaks", "prominence must be non-negative, got %v", opts.MinProminence)
	}

	idx := localMaxima(x)
	if opts.HeightSet {
		kept := idx[:0]
		for _, i := range idx {
			if x[i] >= opts.MinHeight {
				kept = append(kept, i)
			}
		}
		idx = kept
	}
	if opts.MinDistance > 1 {
		idx = selectByDistance(x, idx, opts.MinDistance)
	}

	peaks := make([]Peak, 0, len(idx))
	for _, i := range idx {
		p := prominence(x, i)
		if p < opts.MinProminence {
			continue
		}
		peaks = append(peaks, Peak{Index: i, Height: x[i], Prominence: p})
	}
	return peaks, nil
}

// PeakIndices 仅返回峰的下标
func PeakIndices(peaks []Peak) []int {
	out := make([]int, len(peaks))
	for i, p := range peaks {
		out[i] = p.Index
	}
	return out
}

func localMaxima(x []float64) []int {
	var out []int
	n := len(x)
	i := 1
	for i < n-1 {
		if !(x[i-1] < x[i]) {
			i++
			continue
		}
		// 平台右边界
		j := i
		for j+1 < n-1 && x[j+1] == x[i] {
			j++
		}
		if x[j+1] < x[i] {
			out = append(out, (i+j)/2)
		}
		i = j + 1
	}
	return out
}

func selectByDistance(x []float64, idx []int, distance int) []int {
	order := make([]int, len(idx))
	for k := range order {
		order[k] = k
	}
	sort.SliceStable(order, func(a, b int) bool { return x[idx[order[a]]] > x[idx[order[b]]] })

	keep := make([]bool, len(idx))
	for k := range keep {
		keep[k] = true
	}
	for _, k := range order {
		if !keep[k] {
			continue
		}
		for j := k - 1; j >= 0 && idx[k]-idx[j] < distance; j-- {
			keep[j] = false
		}
		for j := k + 1; j < len(idx) && idx[j]-idx[k] < distance; j++ {
			keep[j] = false
		}
	}

	out := make([]int, 0, len(idx))
	for k, i := range idx {
		if keep[k] {
			out = append(out, i)
		}
	}
	return out
}

func prominence(x []float64, peak int) float64 {
	h := x[peak]
	leftMin := h
	for i := peak - 1; i >= 0 && x[i] <= h; i-- {
		leftMin = min(leftMin, x[i])
	}
	rightMin := h
	for i := peak + 1; i < len(x) && x[i] <= h; i++ {
		rightMin = min(rightMin, x[i])
	}
	return h - max(leftMin, rightMin)
}
