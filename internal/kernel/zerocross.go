package kernel

import (
	"math"

	pipeerrors "wisefido-actigraphy/internal/errors"
)

// ZeroCrossings 带迟滞的过零计数
//
// 信号须越过 +h 或 -h 才切换状态，状态在正负之间每切换一次计一次；
// 落在 [-h, h] 内的样本不改变状态。h = 0 时即普通的严格变号计数。
func ZeroCrossings(x []float64, h float64) (int, error) {
	if h < 0 || math.IsNaN(h) || math.IsInf(h, 0) {
		return 0, pipeerrors.Kernelf("ZeroCrossings", "hysteresis must be finite and non-negative, got %v", h)
	}

	state := 0
	count := 0
	for _, v := range x {
		switch {
		case v > h:
			if state < 0 {
				count++
			}
			state = 1
		case v < -h:
			if state > 0 {
				count++
			}
			state = -1
		}
	}
	return count, nil
}

// ZeroCrossingRate 每秒过零次数
func ZeroCrossingRate(x []float64, fs, h float64) (float64, error) {
	if !(fs > 0) {
		return 0, pipeerrors.Kernelf("ZeroCrossingRate", "sample rate must be positive, got %v", fs)
	}
	if len(x) < 2 {
		return 0, pipeerrors.NewInsufficientData("kernel.ZeroCrossingRate", "fewer than 2 samples")
	}
	n, err := ZeroCrossings(x, h)
	if err != nil {
		return 0, err
	}
	return float64(n) * fs / float64(len(x)), nil
}
