package window

import (
	"iter"
	"math"
	"time"

	"wisefido-actigraphy/internal/kernel"
	"wisefido-actigraphy/internal/models"
)

// Segmenter 按规则切分单个传感器流
// 无内部可变状态，可被多个 goroutine 共享
type Segmenter struct {
	rule Rule
	opts Options
}

// NewSegmenter 创建分段器
func NewSegmenter(rule Rule, opts Options) (*Segmenter, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Segmenter{rule: rule, opts: opts}, nil
}

// Rule 返回分段规则
func (s *Segmenter) Rule() Rule { return s.rule }

// Windows 惰性产出窗口序列
// 有限、可重复迭代、相同输入产出相同序列；空流不产出窗口
func (s *Segmenter) Windows(subjectID string, stream *models.SensorStream) iter.Seq[models.Window] {
	return func(yield func(models.Window) bool) {
		if stream.Len() == 0 {
			return
		}
		last := stream.Time[stream.Len()-1]
		for idx, start := 0, s.firstBoundary(stream); models.UnixSeconds(start) <= last; idx++ {
			end := s.windowEnd(start)
			if !yield(s.build(subjectID, stream, idx, start, end)) {
				return
			}
			start = s.nextStart(start)
		}
	}
}

// Segment 收集全部窗口
func (s *Segmenter) Segment(subjectID string, stream *models.SensorStream) []models.Window {
	var out []models.Window
	for w := range s.Windows(subjectID, stream) {
		out = append(out, w)
	}
	return out
}

func (s *Segmenter) firstBoundary(stream *models.SensorStream) time.Time {
	first := stream.StartTime()
	if s.rule.Kind == KindRolling {
		return first
	}
	loc := s.rule.location()
	local := first.In(loc)
	b := time.Date(local.Year(), local.Month(), local.Day(), s.rule.BaseHour, 0, 0, 0, loc)
	if b.After(first) {
		b = b.AddDate(0, 0, -1)
	}
	return b
}

func (s *Segmenter) windowEnd(start time.Time) time.Time {
	if s.rule.Kind == KindDaily {
		// 日历日对齐，夏令时切换日长度不等于 24h
		return start.AddDate(0, 0, 1)
	}
	return start.Add(s.rule.Length)
}

func (s *Segmenter) nextStart(start time.Time) time.Time {
	if s.rule.Kind == KindDaily {
		return start.AddDate(0, 0, 1)
	}
	return start.Add(s.rule.Step)
}

func (s *Segmenter) build(subjectID string, stream *models.SensorStream, idx int, start, end time.Time) models.Window {
	i, j := stream.IndexRange(start, end)
	expected := int(math.Round(end.Sub(start).Seconds() * stream.SampleRate))
	actual := j - i

	w := models.Window{
		ID:        models.WindowID(subjectID, s.rule.String(), start),
		SubjectID: subjectID,
		Rule:      s.rule.String(),
		Index:     idx,
		Start:     start,
		End:       end,
		StartIdx:  i,
		EndIdx:    j,
		Expected:  expected,
		Actual:    actual,
	}
	if expected > 0 {
		w.Completeness = min(1, float64(actual)/float64(expected))
	}
	w.Valid = actual > 0 && w.Completeness >= s.opts.CompletenessThreshold
	w.Gaps = windowGaps(stream.Time[i:j], start, end, s.opts.GapToleranceFactor/stream.SampleRate)
	return w
}

// windowGaps 窗口内缺失区间，含前导与尾部缺失
func windowGaps(t []float64, start, end time.Time, maxDelta float64) []models.Gap {
	if len(t) == 0 {
		return []models.Gap{{Start: start, End: end, After: -1}}
	}

	var gaps []models.Gap
	if t[0]-models.UnixSeconds(start) > maxDelta {
		gaps = append(gaps, models.Gap{Start: start, End: models.FromUnixSeconds(t[0]), After: -1})
	}
	// maxDelta 恒为正，内核不会返回参数错误
	breaks, _ := kernel.DetectGaps(t, maxDelta)
	for _, k := range breaks {
		gaps = append(gaps, models.Gap{
			Start: models.FromUnixSeconds(t[k]),
			End:   models.FromUnixSeconds(t[k+1]),
			After: k,
		})
	}
	last := t[len(t)-1]
	if models.UnixSeconds(end)-last > maxDelta {
		gaps = append(gaps, models.Gap{Start: models.FromUnixSeconds(last), End: end, After: len(t) - 1})
	}
	return gaps
}

// DetectGaps 返回整条流中间隔超过 factor/采样率 的缺失区间
func DetectGaps(stream *models.SensorStream, factor float64) ([]models.Gap, error) {
	breaks, err := kernel.DetectGaps(stream.Time, factor/stream.SampleRate)
	if err != nil {
		return nil, err
	}
	gaps := make([]models.Gap, 0, len(breaks))
	for _, k := range breaks {
		gaps = append(gaps, models.Gap{
			Start: models.FromUnixSeconds(stream.Time[k]),
			End:   models.FromUnixSeconds(stream.Time[k+1]),
			After: k,
		})
	}
	return gaps, nil
}
