package module

import (
	"strconv"
	"time"

	pipeerrors "wisefido-actigraphy/internal/errors"
)

// Params 模块参数覆盖（来自 YAML 管线文件或命令行）
type Params map[string]any

// Float 读取浮点参数，未设置时返回 def
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, badParam(key, v)
		}
		return f, nil
	}
	return 0, badParam(key, v)
}

// Int 读取整数参数
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t != float64(int(t)) {
			return 0, badParam(key, v)
		}
		return int(t), nil
	case string:
		i, err := strconv.Atoi(t)
		if err != nil {
			return 0, badParam(key, v)
		}
		return i, nil
	}
	return 0, badParam(key, v)
}

// Duration 读取时长参数（"30m" 或秒数）
func (p Params) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch t := v.(type) {
	case time.Duration:
		return t, nil
	case string:
		d, err := time.ParseDuration(t)
		if err != nil {
			return 0, badParam(key, v)
		}
		return d, nil
	case int:
		return time.Duration(t) * time.Second, nil
	case float64:
		return time.Duration(t * float64(time.Second)), nil
	}
	return 0, badParam(key, v)
}

// Bool 读取布尔参数
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, badParam(key, v)
		}
		return b, nil
	}
	return false, badParam(key, v)
}

// String 读取字符串参数
func (p Params) String(key, def string) (string, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", badParam(key, v)
}

func badParam(key string, v any) error {
	return pipeerrors.Configf(pipeerrors.ErrInvalidOption, "module", "parameter %q has unusable value %v (%T)", key, v, v)
}

// Merge 返回合并后的参数，other 覆盖 p
func (p Params) Merge(other Params) Params {
	out := make(Params, len(p)+len(other))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}
