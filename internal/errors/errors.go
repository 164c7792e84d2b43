// Package errors 提供处理管线的错误分类
//
// 四类错误：
//   - Configuration：模块依赖成环、依赖无法解析、窗口规则非法，运行前返回
//   - InsufficientData：窗口数据不足，记录为 excluded，不作为失败传播
//   - Module：单个模块在单个窗口上的故障，记录为 failed，运行继续
//   - Kernel：数值内核输入非法（如负窗口宽度），属于调用方错误，立即终止
package errors

import (
	"errors"
	"fmt"
)

// Kind 错误类别
type Kind int

const (
	// KindUnknown 未分类错误
	KindUnknown Kind = iota
	// KindConfiguration 配置错误（致命，运行前返回）
	KindConfiguration
	// KindInsufficientData 数据不足（记录为 excluded）
	KindInsufficientData
	// KindModule 模块故障（隔离，记录为 failed）
	KindModule
	// KindKernel 内核误用（致命）
	KindKernel
)

// String 返回类别名称
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindInsufficientData:
		return "insufficient-data"
	case KindModule:
		return "module"
	case KindKernel:
		return "kernel"
	default:
		return "unknown"
	}
}

// 标准错误
var (
	// 配置错误
	ErrCyclicDependency     = errors.New("cyclic module dependency")
	ErrUnresolvedDependency = errors.New("unresolved module dependency")
	ErrDuplicateProducer    = errors.New("metric produced by more than one module")
	ErrDuplicateModule      = errors.New("duplicate module name")
	ErrInvalidWindowRule    = errors.New("invalid window rule")
	ErrInvalidOption        = errors.New("invalid option")
	ErrUnknownModule        = errors.New("unknown module")

	// 数据错误
	ErrInsufficientData = errors.New("insufficient data")
	ErrInvalidStream    = errors.New("invalid sensor stream")

	// 模块错误
	ErrModuleFault     = errors.New("module fault")
	ErrUndeclaredValue = errors.New("module returned undeclared metric")

	// 内核错误
	ErrInvalidKernelInput = errors.New("invalid kernel input")

	// 结果存储错误
	ErrDuplicateRecord = errors.New("metric record already written")
	ErrResultFinalized = errors.New("result store already finalized")
)

// PipelineError 带分类信息的错误
type PipelineError struct {
	Kind      Kind
	Err       error
	Component string
	Operation string
	Message   string
}

// Error 实现 error 接口
func (e *PipelineError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

// Unwrap 返回底层错误
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Wrap 按 "component.operation: action failed: %w" 格式包装错误
func Wrap(err error, component, operation, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, operation, action, err)
}

func classify(kind Kind, err error, component, operation, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, operation, action)
	return &PipelineError{
		Kind:      kind,
		Err:       wrapped,
		Component: component,
		Operation: operation,
		Message:   wrapped.Error(),
	}
}

// WrapConfiguration 包装为配置错误
func WrapConfiguration(err error, component, operation, action string) error {
	return classify(KindConfiguration, err, component, operation, action)
}

// WrapModule 包装为模块错误
func WrapModule(err error, component, operation, action string) error {
	return classify(KindModule, err, component, operation, action)
}

// WrapKernel 包装为内核错误
func WrapKernel(err error, component, operation, action string) error {
	return classify(KindKernel, err, component, operation, action)
}

// Kernelf 构造内核输入错误
func Kernelf(operation, format string, args ...any) error {
	return WrapKernel(fmt.Errorf("%w: %s", ErrInvalidKernelInput, fmt.Sprintf(format, args...)),
		"kernel", operation, "validate input")
}

// Configf 构造配置错误
func Configf(sentinel error, component, format string, args ...any) error {
	return WrapConfiguration(fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...)),
		component, "configure", "validate")
}

// NewInsufficientData 构造数据不足错误
func NewInsufficientData(component, reason string) error {
	return &PipelineError{
		Kind:      KindInsufficientData,
		Err:       ErrInsufficientData,
		Component: component,
		Message:   fmt.Sprintf("%s: %s: %s", component, ErrInsufficientData, reason),
	}
}

// KindOf 返回错误类别
// 未分类的错误按哨兵错误推断
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}

	switch {
	case errors.Is(err, ErrInsufficientData):
		return KindInsufficientData
	case errors.Is(err, ErrInvalidKernelInput):
		return KindKernel
	case errors.Is(err, ErrCyclicDependency),
		errors.Is(err, ErrUnresolvedDependency),
		errors.Is(err, ErrDuplicateProducer),
		errors.Is(err, ErrDuplicateModule),
		errors.Is(err, ErrInvalidWindowRule),
		errors.Is(err, ErrInvalidOption),
		errors.Is(err, ErrUnknownModule):
		return KindConfiguration
	case errors.Is(err, ErrModuleFault), errors.Is(err, ErrUndeclaredValue):
		return KindModule
	}
	return KindUnknown
}

// IsConfiguration 是否为配置错误
func IsConfiguration(err error) bool { return KindOf(err) == KindConfiguration }

// IsInsufficientData 是否为数据不足
func IsInsufficientData(err error) bool { return KindOf(err) == KindInsufficientData }

// IsModule 是否为模块错误
func IsModule(err error) bool { return KindOf(err) == KindModule }

// IsKernel 是否为内核错误
func IsKernel(err error) bool { return KindOf(err) == KindKernel }

// Is 透传标准库 errors.Is，避免调用方同时导入两个 errors 包
func Is(err, target error) bool { return errors.Is(err, target) }

// As 透传标准库 errors.As
func As(err error, target any) bool { return errors.As(err, target) }

// Join 透传标准库 errors.Join
func Join(errs ...error) error { return errors.Join(errs...) }
