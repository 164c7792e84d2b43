package kernel

import (
	"math"

	pipeerrors "wisefido-actigraphy/internal/errors"
)

// FilterKind 滤波器类型
type FilterKind int

const (
	Lowpass FilterKind = iota
	Highpass
)

// biquad 二阶 IIR 节（转置直接 II 型）
type biquad struct {
	a0, a1, a2, b1, b2 float64
	z1, z2             float64
}

func (f *biquad) process(in float64) float64 {
	out := in*f.a0 + f.z1
	f.z1 = in*f.a1 - out*f.b1 + f.z2
	f.z2 = in*f.a2 - out*f.b2
	return out
}

func (f *biquad) reset() { f.z1, f.z2 = 0, 0 }

// Butterworth 由二阶节级联的巴特沃斯滤波器
// 系数不可变，Apply/FiltFilt 每次调用使用独立状态，可并发使用
type Butterworth struct {
	kind     FilterKind
	order    int
	sections []biquad
}

// NewButterworth 创建 N 阶（偶数）巴特沃斯滤波器
func NewButterworth(kind FilterKind, order int, sampleRate, cutoff float64) (*Butterworth, error) {
	if order <= 0 || order%2 != 0 {
		return nil, pipeerrors.Kernelf("NewButterworth", "order must be a positive even number, got %d", order)
	}
	if !(sampleRate > 0) || math.IsInf(sampleRate, 0) {
		return nil, pipeerrors.Kernelf("NewButterworth", "sample rate must be positive, got %v", sampleRate)
	}
	if !(cutoff > 0) || cutoff >= sampleRate/2 {
		return nil, pipeerrors.Kernelf("NewButterworth", "cutoff %v outside (0, %v)", cutoff, sampleRate/2)
	}
	if kind != Lowpass && kind != Highpass {
		return nil, pipeerrors.Kernelf("NewButterworth", "unknown filter kind %d", kind)
	}

	fs := sampleRate
	// 预畸变截止频率
	w := 2.0 * fs * math.Tan(math.Pi*cutoff/fs)

	sections := make([]biquad, order/2)
	for i := range sections {
		// 低 Q 节在前
		poleIdx := (order/2 - 1) - i
		theta := math.Pi * (2.0*float64(poleIdx) + 1.0) / (2.0 * float64(order))

		pRe := -w * math.Sin(theta)
		pIm := w * math.Cos(theta)
		mag2 := pRe*pRe + pIm*pIm

		// 双线性变换
		alpha := 4.0*fs*fs - 4.0*fs*pRe + mag2
		s := biquad{
			b1: (-8.0*fs*fs + 2.0*mag2) / alpha,
			b2: (4.0*fs*fs + 4.0*fs*pRe + mag2) / alpha,
		}
		if kind == Lowpass {
			s.a0 = mag2 / alpha
			s.a1 = 2.0 * mag2 / alpha
			s.a2 = mag2 / alpha
		} else {
			s.a0 = 4.0 * fs * fs / alpha
			s.a1 = -8.0 * fs * fs / alpha
			s.a2 = 4.0 * fs * fs / alpha
		}
		sections[i] = s
	}

	return &Butterworth{kind: kind, order: order, sections: sections}, nil
}

// Apply 单向滤波，返回新切片
func (b *Butterworth) Apply(x []float64) []float64 {
	sections := make([]biquad, len(b.sections))
	copy(sections, b.sections)
	for i := range sections {
		sections[i].reset()
	}

	out := make([]float64, len(x))
	for i, v := range x {
		for k := range sections {
			v = sections[k].process(v)
		}
		out[i] = v
	}
	return out
}

// FiltFilt 前向-后向零相位滤波，两端做奇对称延拓以抑制边缘瞬态
func (b *Butterworth) FiltFilt(x []float64) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}
	pad := min(n-1, 3*(b.order+1))

	ext := make([]float64, 0, n+2*pad)
	for i := pad; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := n - 2; i >= n-1-pad; i-- {
		ext = append(ext, 2*x[n-1]-x[i])
	}

	y := b.Apply(ext)
	reverse(y)
	y = b.Apply(y)
	reverse(y)
	return y[pad : pad+n]
}

// BandPass 高通后低通的零相位带通
func BandPass(x []float64, fs, lo, hi float64, order int) ([]float64, error) {
	hp, err := NewButterworth(Highpass, order, fs, lo)
	if err != nil {
		return nil, err
	}
	lp, err := NewButterworth(Lowpass, order, fs, hi)
	if err != nil {
		return nil, err
	}
	return lp.FiltFilt(hp.FiltFilt(x)), nil
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
