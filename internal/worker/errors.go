package worker

import "errors"

// 工作池错误
var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolStopped        = errors.New("worker pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	ErrNilProcessor       = errors.New("processor function cannot be nil")
)
