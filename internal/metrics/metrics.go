// Package metrics 管线运行的 Prometheus 指标
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wisefido-actigraphy/internal/models"
)

const namespace = "actigraphy"

// Metrics 管线指标集合，nil 接收者上的方法均为空操作
type Metrics struct {
	registry *prometheus.Registry

	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	windows        *prometheus.CounterVec
	moduleRuns     *prometheus.CounterVec
	moduleDuration *prometheus.HistogramVec
}

// New 创建独立 registry 并注册管线指标与 Go 运行时指标
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a pipeline run",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		windows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_total",
			Help:      "Analysis windows by validity",
		}, []string{"validity"}),
		moduleRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "module_executions_total",
			Help:      "Module executions by module and quality",
		}, []string{"module", "quality"}),
		moduleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "module_duration_seconds",
			Help:      "Time spent in a module for one window",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"module"}),
	}
	m.registry.MustRegister(
		m.runs, m.runDuration, m.windows, m.moduleRuns, m.moduleDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// Registerer 供工作池等组件注册自身指标，m 为 nil 时返回 nil
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRun 记录一次运行
func (m *Metrics) ObserveRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
}

// ObserveWindow 记录一个窗口
func (m *Metrics) ObserveWindow(valid bool) {
	if m == nil {
		return
	}
	label := "excluded"
	if valid {
		label = "valid"
	}
	m.windows.WithLabelValues(label).Inc()
}

// ObserveModule 记录一次模块执行
func (m *Metrics) ObserveModule(module string, q models.Quality, d time.Duration) {
	if m == nil {
		return
	}
	m.moduleRuns.WithLabelValues(module, string(q)).Inc()
	if q == models.QualityComputed || q == models.QualityFailed {
		m.moduleDuration.WithLabelValues(module).Observe(d.Seconds())
	}
}

// Handler HTTP 暴露指标
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile 以 node_exporter textfile 格式写出指标
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
