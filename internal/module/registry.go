package module

import (
	"fmt"
	"sort"
	"sync"

	pipeerrors "wisefido-actigraphy/internal/errors"
)

// Factory 根据参数创建模块实例，不做 I/O
type Factory func(params Params) (Module, error)

// Definition 管线中的一个模块定义
type Definition struct {
	Name   string `yaml:"name" json:"name"`
	Params Params `yaml:"params,omitempty" json:"params,omitempty"`
}

// Registry 模块工厂注册表，并发安全
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register 注册模块工厂，名称重复时报错
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return pipeerrors.Configf(pipeerrors.ErrInvalidOption, "registry", "module name and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return pipeerrors.Configf(pipeerrors.ErrDuplicateModule, "registry", "module %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Names 已注册的模块名（排序）
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Create 按名称创建模块
func (r *Registry) Create(name string, params Params) (Module, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, pipeerrors.Configf(pipeerrors.ErrUnknownModule, "registry", "module %q is not registered", name)
	}
	m, err := factory(params)
	if err != nil {
		return nil, pipeerrors.WrapConfiguration(err, "registry", "Create", fmt.Sprintf("build module %q", name))
	}
	return m, nil
}

// Build 按定义顺序创建模块列表
func (r *Registry) Build(defs []Definition) ([]Module, error) {
	modules := make([]Module, 0, len(defs))
	for _, d := range defs {
		m, err := r.Create(d.Name, d.Params)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, nil
}
