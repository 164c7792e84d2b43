package activity

import (
	"math"

	pipeerrors "wisefido-actigraphy/internal/errors"
)

// Cutpoints 强度分级阈值（g，ENMO）
type Cutpoints struct {
	Name  string
	Light float64 // 久坐上限
	Mod   float64
	Vig   float64
}

// Level 强度等级
type Level string

const (
	LevelSed   Level = "sed"
	LevelLight Level = "light"
	LevelMod   Level = "mod"
	LevelVig   Level = "vig"
	LevelMVPA  Level = "mvpa"
)

var knownCutpoints = map[string]Cutpoints{
	// Migueles 2019，腕部，成人
	"migueles_wrist_adult": {Name: "migueles_wrist_adult", Light: 0.050, Mod: 0.110, Vig: 0.440},
	// Hildebrand 2014/2017，非优势腕，成人
	"hildebrand_wrist_adult": {Name: "hildebrand_wrist_adult", Light: 0.0448, Mod: 0.1006, Vig: 0.4288},
	// Hildebrand 2014/2017，髋部，成人
	"hildebrand_hip_adult": {Name: "hildebrand_hip_adult", Light: 0.0472, Mod: 0.0694, Vig: 0.2602},
}

// LookupCutpoints 按名称查找阈值
func LookupCutpoints(name string) (Cutpoints, error) {
	c, ok := knownCutpoints[name]
	if !ok {
		return Cutpoints{}, pipeerrors.Configf(pipeerrors.ErrInvalidOption, Name, "unknown cutpoints %q", name)
	}
	return c, nil
}

// Thresholds 返回等级的 [lower, upper) 区间
func (c Cutpoints) Thresholds(level Level) (lower, upper float64) {
	switch level {
	case LevelSed:
		return math.Inf(-1), c.Light
	case LevelLight:
		return c.Light, c.Mod
	case LevelMod:
		return c.Mod, c.Vig
	case LevelVig:
		return c.Vig, math.Inf(1)
	default:
		return c.Mod, math.Inf(1)
	}
}
