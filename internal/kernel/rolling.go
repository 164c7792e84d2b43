// Package kernel 提供定长采样数组上的数值内核
//
// 所有函数均为纯函数，不持有共享可变状态。窗口宽度 w、步长 s 以样本数计，
// 每个步长输出一个值，输出长度为 (n-w)/s+1。
//
// 输入短于窗口宽度时返回 ErrInsufficientData（数据条件，不是故障）；
// 宽度/步长非正等非法参数返回内核错误（调用方误用）。
package kernel

import (
	"fmt"
	"math"
	"sort"

	pipeerrors "wisefido-actigraphy/internal/errors"
)

// Stat 滑动统计量
type Stat int

const (
	StatMean Stat = iota
	StatStd
	StatMin
	StatMax
	StatRange
)

// String 统计量名称
func (s Stat) String() string {
	switch s {
	case StatMean:
		return "mean"
	case StatStd:
		return "std"
	case StatMin:
		return "min"
	case StatMax:
		return "max"
	case StatRange:
		return "range"
	default:
		return fmt.Sprintf("stat(%d)", int(s))
	}
}

// resyncEvery 增量累加每隔多少个输出重新完整求和一次，限制浮点漂移
const resyncEvery = 1024

// OutputLen 返回滑动输出长度，n < w 时为 0
func OutputLen(n, w, s int) int {
	if w <= 0 || s <= 0 || n < w {
		return 0
	}
	return (n-w)/s + 1
}

func checkWindow(op string, n, w, s int) error {
	if w <= 0 {
		return pipeerrors.Kernelf(op, "window width must be positive, got %d", w)
	}
	if s <= 0 {
		return pipeerrors.Kernelf(op, "step must be positive, got %d", s)
	}
	if n < w {
		return pipeerrors.NewInsufficientData("kernel."+op, fmt.Sprintf("%d samples for window width %d", n, w))
	}
	return nil
}

// Rolling 计算滑动统计量
func Rolling(x []float64, w, s int, stat Stat) ([]float64, error) {
	if err := checkWindow("Rolling", len(x), w, s); err != nil {
		return nil, err
	}

	switch stat {
	case StatMean:
		return rollingMoments(x, w, s, false), nil
	case StatStd:
		return rollingMoments(x, w, s, true), nil
	case StatMin:
		return rollingExtreme(x, w, s, func(a, b float64) bool { return a <= b }), nil
	case StatMax:
		return rollingExtreme(x, w, s, func(a, b float64) bool { return a >= b }), nil
	case StatRange:
		mx := rollingExtreme(x, w, s, func(a, b float64) bool { return a >= b })
		mn := rollingExtreme(x, w, s, func(a, b float64) bool { return a <= b })
		for i := range mx {
			mx[i] -= mn[i]
		}
		return mx, nil
	default:
		return nil, pipeerrors.Kernelf("Rolling", "unknown statistic %s", stat)
	}
}

// RollingWithBreaks 同 Rolling，但跨越间断点的窗口输出 NaN
// breaks 中的 b 表示样本 b 与 b+1 之间存在缺失
func RollingWithBreaks(x []float64, w, s int, stat Stat, breaks []int) ([]float64, error) {
	out, err := Rolling(x, w, s, stat)
	if err != nil || len(breaks) == 0 {
		return out, err
	}

	sorted := sortedBreaks(breaks)
	for k := range out {
		start := k * s
		if spansBreak(sorted, start, start+w-1) {
			out[k] = math.NaN()
		}
	}
	return out, nil
}

func sortedBreaks(breaks []int) []int {
	if len(breaks) == 0 {
		return nil
	}
	sorted := append([]int(nil), breaks...)
	sort.Ints(sorted)
	return sorted
}

// spansBreak 样本区间 [start, end] 内部是否有间断点，sorted 须已排序
func spansBreak(sorted []int, start, end int) bool {
	i := sort.SearchInts(sorted, start)
	return i < len(sorted) && sorted[i] < end
}

// MovingMean 滑动均值
func MovingMean(x []float64, w, s int) ([]float64, error) { return Rolling(x, w, s, StatMean) }

// MovingStd 滑动样本标准差（w=1 时为 0）
func MovingStd(x []float64, w, s int) ([]float64, error) { return Rolling(x, w, s, StatStd) }

// MovingMin 滑动最小值
func MovingMin(x []float64, w, s int) ([]float64, error) { return Rolling(x, w, s, StatMin) }

// MovingMax 滑动最大值
func MovingMax(x []float64, w, s int) ([]float64, error) { return Rolling(x, w, s, StatMax) }

// MovingRange 滑动极差
func MovingRange(x []float64, w, s int) ([]float64, error) { return Rolling(x, w, s, StatRange) }

// Epochs 不重叠分段均值（w = s = n）
func Epochs(x []float64, n int) ([]float64, error) { return Rolling(x, n, n, StatMean) }

// ksum Neumaier 补偿求和
type ksum struct {
	sum, comp float64
}

func (k *ksum) add(v float64) {
	t := k.sum + v
	if math.Abs(k.sum) >= math.Abs(v) {
		k.comp += (k.sum - t) + v
	} else {
		k.comp += (v - t) + k.sum
	}
	k.sum = t
}

func (k *ksum) value() float64 { return k.sum + k.comp }

// rollingMoments 增量均值/标准差
// 以重同步时刻窗口均值 c 为平移量累加 (x-c) 与 (x-c)^2，降低相消误差
func rollingMoments(x []float64, w, s int, std bool) []float64 {
	m := OutputLen(len(x), w, s)
	out := make([]float64, m)
	fw := float64(w)

	var c float64
	var s1, s2 ksum
	resync := func(start int) {
		var raw ksum
		for _, v := range x[start : start+w] {
			raw.add(v)
		}
		c = raw.value() / fw
		s1, s2 = ksum{}, ksum{}
		for _, v := range x[start : start+w] {
			d := v - c
			s1.add(d)
			s2.add(d * d)
		}
	}

	for k := 0; k < m; k++ {
		start := k * s
		if k%resyncEvery == 0 || s >= w {
			resync(start)
		} else {
			prev := start - s
			for i := prev; i < start; i++ {
				d := x[i] - c
				s1.add(-d)
				s2.add(-d * d)
			}
			for i := prev + w; i < start+w; i++ {
				d := x[i] - c
				s1.add(d)
				s2.add(d * d)
			}
		}

		sum1 := s1.value()
		if !std {
			out[k] = c + sum1/fw
			continue
		}
		if w == 1 {
			out[k] = 0
			continue
		}
		v := (s2.value() - sum1*sum1/fw) / (fw - 1)
		if v < 0 {
			v = 0
		}
		out[k] = math.Sqrt(v)
	}
	return out
}

// rollingExtreme 单调队列求滑动极值，keep(a, b) 为真时 a 覆盖队尾 b
func rollingExtreme(x []float64, w, s int, keep func(a, b float64) bool) []float64 {
	m := OutputLen(len(x), w, s)
	out := make([]float64, 0, m)
	deque := make([]int, 0, w)
	head := 0

	for i, v := range x {
		for len(deque) > head && keep(v, x[deque[len(deque)-1]]) {
			deque = deque[:len(deque)-1]
		}
		deque = append(deque, i)
		if deque[head] <= i-w {
			head++
		}
		start := i - w + 1
		if start >= 0 && start%s == 0 {
			out = append(out, x[deque[head]])
		}
		// 回收已出队空间
		if head > w && head*2 > len(deque) {
			deque = append(deque[:0], deque[head:]...)
			head = 0
		}
	}
	return out
}
