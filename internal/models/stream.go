package models

import (
	"fmt"
	"math"
	"sort"
	"time"

	pipeerrors "wisefido-actigraphy/internal/errors"
)

// SensorStream 单个传感器的时间序列
//
// Time 为 unix 秒（float64），严格递增；Values 按通道存储（Values[c][i]），
// 与 Time 等长。缺失区间保持为时间戳跳变，从不在原地插值补齐。
type SensorStream struct {
	Name       string      `json:"name"`
	SampleRate float64     `json:"sample_rate"` // 标称采样率（Hz）
	Channels   []string    `json:"channels"`    // 通道名，如 x/y/z
	Time       []float64   `json:"time"`
	Values     [][]float64 `json:"values"`
}

// Len 样本数
func (s *SensorStream) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Time)
}

// Validate 校验时间戳严格递增、通道长度一致、采样率为正
func (s *SensorStream) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil stream", pipeerrors.ErrInvalidStream)
	}
	if !(s.SampleRate > 0) || math.IsInf(s.SampleRate, 0) {
		return fmt.Errorf("%w: stream %q has non-positive sample rate %v", pipeerrors.ErrInvalidStream, s.Name, s.SampleRate)
	}
	if len(s.Channels) != len(s.Values) {
		return fmt.Errorf("%w: stream %q declares %d channels but carries %d",
			pipeerrors.ErrInvalidStream, s.Name, len(s.Channels), len(s.Values))
	}
	for c, vals := range s.Values {
		if len(vals) != len(s.Time) {
			return fmt.Errorf("%w: stream %q channel %q has %d samples, expected %d",
				pipeerrors.ErrInvalidStream, s.Name, s.Channels[c], len(vals), len(s.Time))
		}
	}
	for i := 1; i < len(s.Time); i++ {
		if !(s.Time[i] > s.Time[i-1]) {
			return fmt.Errorf("%w: stream %q timestamps not strictly increasing at index %d",
				pipeerrors.ErrInvalidStream, s.Name, i)
		}
	}
	return nil
}

// Channel 按名称返回通道数据，不存在时返回 nil
func (s *SensorStream) Channel(name string) []float64 {
	for i, c := range s.Channels {
		if c == name {
			return s.Values[i]
		}
	}
	return nil
}

// Period 标称采样周期（秒）
func (s *SensorStream) Period() float64 {
	return 1 / s.SampleRate
}

// IndexRange 返回半开时间区间 [start, end) 对应的样本下标区间 [i, j)
func (s *SensorStream) IndexRange(start, end time.Time) (int, int) {
	ts := UnixSeconds(start)
	te := UnixSeconds(end)
	i := sort.SearchFloat64s(s.Time, ts)
	j := sort.SearchFloat64s(s.Time, te)
	return i, j
}

// Slice 返回 [start, end) 的只读视图（共享底层数组）
func (s *SensorStream) Slice(start, end time.Time) *SensorStream {
	i, j := s.IndexRange(start, end)
	return s.SliceIndex(i, j)
}

// SliceIndex 按下标返回只读视图
func (s *SensorStream) SliceIndex(i, j int) *SensorStream {
	out := &SensorStream{
		Name:       s.Name,
		SampleRate: s.SampleRate,
		Channels:   s.Channels,
		Time:       s.Time[i:j:j],
		Values:     make([][]float64, len(s.Values)),
	}
	for c := range s.Values {
		out.Values[c] = s.Values[c][i:j:j]
	}
	return out
}

// StartTime 第一个样本时间
func (s *SensorStream) StartTime() time.Time {
	if s.Len() == 0 {
		return time.Time{}
	}
	return FromUnixSeconds(s.Time[0])
}

// EndTime 最后一个样本时间
func (s *SensorStream) EndTime() time.Time {
	if s.Len() == 0 {
		return time.Time{}
	}
	return FromUnixSeconds(s.Time[len(s.Time)-1])
}

// SubjectData 单个受试者的全部传感器流
type SubjectData struct {
	SubjectID string                   `json:"subject_id"`
	Streams   map[string]*SensorStream `json:"streams"`
}

// UnixSeconds 转换为 unix 秒
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// FromUnixSeconds 从 unix 秒转换（UTC，保留到微秒以避免浮点尾数噪声）
func FromUnixSeconds(sec float64) time.Time {
	whole := math.Floor(sec)
	micros := math.Round((sec - whole) * 1e6)
	return time.Unix(int64(whole), int64(micros)*int64(time.Microsecond)).UTC()
}
