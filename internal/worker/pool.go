// Package worker 泛型工作池，用于并行处理（受试者, 窗口）单元
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pool 固定数量 worker 的工作池
//
// Submit 在队列满时阻塞而不是丢弃；上下文取消后尚未开始的任务被跳过（计入 skipped），
// 已开始的任务照常执行完毕。
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	workChan chan T
	metrics  *poolMetrics
	wg       sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted int64
	processed int64
	failed    int64
	skipped   int64
}

type poolMetrics struct {
	queueDepth     prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	skipped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option 工作池选项
type Option[T any] func(*Pool[T])

// WithMetrics 将工作池指标注册到 registerer，prefix 为指标名前缀
// 同名指标已注册时复用已有的 collector，多次运行的工作池累计到同一组指标
func WithMetrics[T any](reg prometheus.Registerer, prefix string) Option[T] {
	return func(p *Pool[T]) {
		if reg == nil || prefix == "" {
			return
		}
		p.metrics = &poolMetrics{
			queueDepth: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
				Name: prefix + "_queue_depth",
				Help: "Current worker pool queue depth",
			})),
			submitted: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_submitted_total",
				Help: "Total work items submitted",
			})),
			processed: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_processed_total",
				Help: "Total work items processed",
			})),
			failed: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_failed_total",
				Help: "Total work items that failed processing",
			})),
			skipped: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_skipped_total",
				Help: "Total work items skipped after cancellation",
			})),
			processingTime: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    prefix + "_processing_duration_seconds",
				Help:    "Time spent processing work items",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			}, []string{"status"})),
		}
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// NewPool 创建工作池
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	pool := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(pool)
	}
	return pool
}

// Start 启动 worker
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.started = true
	return nil
}

// Submit 提交任务，队列满时阻塞直到有空位或 ctx 取消
func (p *Pool[T]) Submit(ctx context.Context, work T) error {
	p.lifecycleMu.Lock()
	started, stopped := p.started, p.stopped
	p.lifecycleMu.Unlock()

	if !started {
		return ErrPoolNotStarted
	}
	if stopped {
		return ErrPoolStopped
	}

	select {
	case p.workChan <- work:
		atomic.AddInt64(&p.submitted, 1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop 关闭队列并等待所有已提交任务处理（或跳过）完毕
// 调用方须保证 Stop 与 Submit 不并发
func (p *Pool[T]) Stop() {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return
	}
	p.stopped = true
	close(p.workChan)
	p.lifecycleMu.Unlock()

	p.wg.Wait()
}

// Stats 工作池统计
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  atomic.LoadInt64(&p.submitted),
		Processed:  atomic.LoadInt64(&p.processed),
		Failed:     atomic.LoadInt64(&p.failed),
		Skipped:    atomic.LoadInt64(&p.skipped),
	}
}

// PoolStats 工作池统计
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Skipped    int64 `json:"skipped"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for work := range p.workChan {
		if p.metrics != nil {
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
		}
		if ctx.Err() != nil {
			atomic.AddInt64(&p.skipped, 1)
			if p.metrics != nil {
				p.metrics.skipped.Inc()
			}
			continue
		}

		start := time.Now()
		err := p.processor(ctx, work)
		duration := time.Since(start)

		atomic.AddInt64(&p.processed, 1)
		if err != nil {
			atomic.AddInt64(&p.failed, 1)
		}
		if p.metrics != nil {
			p.metrics.processed.Inc()
			status := "success"
			if err != nil {
				p.metrics.failed.Inc()
				status = "error"
			}
			p.metrics.processingTime.WithLabelValues(status).Observe(duration.Seconds())
		}
	}
}
