// Package window 将传感器流切分为分析窗口
//
// 窗口为半开区间 [Start, End)，携带完整度与缺失区间信息。完整度低于阈值的窗口
// 仍会产出（Valid=false），由编排器记录为 excluded，不会被静默丢弃。
package window

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	pipeerrors "wisefido-actigraphy/internal/errors"
)

// Kind 窗口规则类型
type Kind int

const (
	// KindDaily 按日历日对齐，起点为 BaseHour
	KindDaily Kind = iota
	// KindRolling 从第一个样本起按 Step 滑动
	KindRolling
)

// Rule 窗口规则
type Rule struct {
	Name     string
	Kind     Kind
	BaseHour int
	Length   time.Duration
	Step     time.Duration
	Location *time.Location
}

// ParseRule 解析窗口规则
//
//	daily          每日 00:00 起 24h
//	daily@12       每日 12:00 起 24h（正午到正午，适合睡眠分析）
//	rolling:6h     6h 窗口，步长 6h
//	rolling:6h/1h  6h 窗口，步长 1h
func ParseRule(s string) (Rule, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "daily":
		return validated(Rule{Name: s, Kind: KindDaily, Length: 24 * time.Hour, Step: 24 * time.Hour})

	case strings.HasPrefix(s, "daily@"):
		h, err := strconv.Atoi(strings.TrimPrefix(s, "daily@"))
		if err != nil {
			return Rule{}, invalidRule("base hour in %q is not an integer", s)
		}
		return validated(Rule{Name: s, Kind: KindDaily, BaseHour: h, Length: 24 * time.Hour, Step: 24 * time.Hour})

	case strings.HasPrefix(s, "rolling:"):
		spec := strings.TrimPrefix(s, "rolling:")
		lengthStr, stepStr, hasStep := strings.Cut(spec, "/")
		length, err := time.ParseDuration(lengthStr)
		if err != nil {
			return Rule{}, invalidRule("window length in %q: %v", s, err)
		}
		step := length
		if hasStep {
			if step, err = time.ParseDuration(stepStr); err != nil {
				return Rule{}, invalidRule("window step in %q: %v", s, err)
			}
		}
		return validated(Rule{Name: s, Kind: KindRolling, Length: length, Step: step})
	}
	return Rule{}, invalidRule("unrecognised rule %q", s)
}

// MustParseRule 解析失败时 panic，仅用于常量规则
func MustParseRule(s string) Rule {
	r, err := ParseRule(s)
	if err != nil {
		panic(err)
	}
	return r
}

// InLocation 返回使用指定时区对齐日窗口的副本
func (r Rule) InLocation(loc *time.Location) Rule {
	r.Location = loc
	return r
}

// Validate 校验规则
func (r Rule) Validate() error {
	if r.Length <= 0 {
		return invalidRule("window length must be positive, got %s", r.Length)
	}
	if r.Step <= 0 {
		return invalidRule("window step must be positive, got %s", r.Step)
	}
	if r.Step > r.Length {
		return invalidRule("window step %s exceeds length %s", r.Step, r.Length)
	}
	if r.Kind == KindDaily && (r.BaseHour < 0 || r.BaseHour > 23) {
		return invalidRule("base hour must be within [0, 23], got %d", r.BaseHour)
	}
	if r.Kind != KindDaily && r.Kind != KindRolling {
		return invalidRule("unknown rule kind %d", r.Kind)
	}
	return nil
}

func (r Rule) String() string {
	if r.Name != "" {
		return r.Name
	}
	if r.Kind == KindDaily {
		return fmt.Sprintf("daily@%d", r.BaseHour)
	}
	return fmt.Sprintf("rolling:%s/%s", r.Length, r.Step)
}

func (r Rule) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

func validated(r Rule) (Rule, error) {
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

func invalidRule(format string, args ...any) error {
	return pipeerrors.Configf(pipeerrors.ErrInvalidWindowRule, "window", format, args...)
}

// Options 分段选项，须显式给出
type Options struct {
	// CompletenessThreshold 有效窗口的最小完整度，[0, 1]
	CompletenessThreshold float64
	// GapToleranceFactor 相邻样本间隔超过 factor/采样率 视为缺失，>= 1
	GapToleranceFactor float64
}

// Validate 校验选项
func (o Options) Validate() error {
	if !(o.CompletenessThreshold >= 0 && o.CompletenessThreshold <= 1) {
		return pipeerrors.Configf(pipeerrors.ErrInvalidOption, "window",
			"completeness threshold must be within [0, 1], got %v", o.CompletenessThreshold)
	}
	if !(o.GapToleranceFactor >= 1) {
		return pipeerrors.Configf(pipeerrors.ErrInvalidOption, "window",
			"gap tolerance factor must be >= 1, got %v", o.GapToleranceFactor)
	}
	return nil
}
