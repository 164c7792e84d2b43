package window

import (
	"wisefido-actigraphy/internal/kernel"
	"wisefido-actigraphy/internal/models"

	pipeerrors "wisefido-actigraphy/internal/errors"
)

// Resample 线性插值到固定采样率
//
// 仅在无缺失的连续段内插值，每段网格从该段第一个样本起算；超过容差的间隔不会
// 被桥接，作为缺失区间返回（After 为输出流中缺失前最后一个样本的下标）。
func Resample(stream *models.SensorStream, rate, factor float64) (*models.SensorStream, []models.Gap, error) {
	if !(rate > 0) {
		return nil, nil, pipeerrors.Configf(pipeerrors.ErrInvalidOption, "window", "resample rate must be positive, got %v", rate)
	}
	if !(factor >= 1) {
		return nil, nil, pipeerrors.Configf(pipeerrors.ErrInvalidOption, "window", "gap tolerance factor must be >= 1, got %v", factor)
	}
	if err := stream.Validate(); err != nil {
		return nil, nil, err
	}

	out := &models.SensorStream{
		Name:       stream.Name,
		SampleRate: rate,
		Channels:   stream.Channels,
		Values:     make([][]float64, len(stream.Values)),
	}
	n := stream.Len()
	if n == 0 {
		return out, nil, nil
	}

	breaks, err := kernel.DetectGaps(stream.Time, factor/stream.SampleRate)
	if err != nil {
		return nil, nil, err
	}

	var gaps []models.Gap
	segStart := 0
	bounds := append(breaks, n-1)
	for bi, segEnd := range bounds {
		resampleSegment(stream, out, segStart, segEnd, 1/rate)
		if bi < len(breaks) {
			gaps = append(gaps, models.Gap{
				Start: models.FromUnixSeconds(stream.Time[segEnd]),
				End:   models.FromUnixSeconds(stream.Time[segEnd+1]),
				After: out.Len() - 1,
			})
		}
		segStart = segEnd + 1
	}
	return out, gaps, nil
}

// resampleSegment 对下标 [a, b] 的连续段插值并追加到 out
func resampleSegment(in, out *models.SensorStream, a, b int, period float64) {
	t0 := in.Time[a]
	span := in.Time[b] - t0
	steps := int(span/period + 1e-9)

	k := a
	for step := 0; step <= steps; step++ {
		t := t0 + float64(step)*period
		for k < b && in.Time[k+1] <= t {
			k++
		}
		out.Time = append(out.Time, t)
		for c := range in.Values {
			v := in.Values[c][k]
			if k < b {
				frac := (t - in.Time[k]) / (in.Time[k+1] - in.Time[k])
				v += (in.Values[c][k+1] - v) * frac
			}
			out.Values[c] = append(out.Values[c], v)
		}
	}
}
