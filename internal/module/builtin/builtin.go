// Package builtin 注册内置处理模块
package builtin

import (
	"wisefido-actigraphy/internal/module"
	"wisefido-actigraphy/internal/module/activity"
	"wisefido-actigraphy/internal/module/gait"
	"wisefido-actigraphy/internal/module/posture"
	"wisefido-actigraphy/internal/module/sleep"
	"wisefido-actigraphy/internal/module/wear"
)

// Factories 内置模块工厂
var Factories = map[string]module.Factory{
	wear.Name:     wear.New,
	posture.Name:  posture.New,
	activity.Name: activity.New,
	sleep.Name:    sleep.New,
	gait.Name:     gait.New,
}

// DefaultPipeline 默认管线的模块定义
func DefaultPipeline() []module.Definition {
	return []module.Definition{
		{Name: wear.Name},
		{Name: posture.Name},
		{Name: activity.Name},
		{Name: sleep.Name},
		{Name: gait.Name},
	}
}

// NewRegistry 创建已注册全部内置模块的注册表
func NewRegistry() *module.Registry {
	r := module.NewRegistry()
	for name, f := range Factories {
		// 名称互不相同，不会失败
		_ = r.Register(name, f)
	}
	return r
}
