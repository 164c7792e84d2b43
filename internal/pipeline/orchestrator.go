// Package pipeline 处理管线编排
//
// Orchestrator 按窗口规则切分每个受试者的主传感器流，将（受试者, 窗口）单元提交到
// 工作池并行处理。单元内按依赖层依次执行模块，同层模块并发执行，层与层之间以
// errgroup.Wait 为屏障。单个模块的故障只影响该模块在该窗口上的指标。
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	pipeerrors "wisefido-actigraphy/internal/errors"
	"wisefido-actigraphy/internal/metrics"
	"wisefido-actigraphy/internal/models"
	"wisefido-actigraphy/internal/module"
	"wisefido-actigraphy/internal/store"
	"wisefido-actigraphy/internal/window"
	"wisefido-actigraphy/internal/worker"
)

// Options 编排器配置，所有阈值都必须显式给出
type Options struct {
	WindowRule            string                   `yaml:"window_rule" json:"window_rule"`
	CompletenessThreshold float64                  `yaml:"completeness_threshold" json:"completeness_threshold"`
	GapToleranceFactor    float64                  `yaml:"gap_tolerance_factor" json:"gap_tolerance_factor"`
	PrimaryStream         string                   `yaml:"primary_stream" json:"primary_stream"`
	ResampleRate          float64                  `yaml:"resample_rate" json:"resample_rate"` // 0 表示不重采样
	Workers               int                      `yaml:"workers" json:"workers"`             // 0 表示 GOMAXPROCS
	ModuleParams          map[string]module.Params `yaml:"module_params" json:"module_params"`
	StrictDependencies    bool                     `yaml:"strict_dependencies" json:"strict_dependencies"`
}

// Option 编排器可选项
type Option func(*Orchestrator)

// WithMetrics 启用 Prometheus 指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator 管线编排器
type Orchestrator struct {
	mu        sync.RWMutex
	opts      Options
	modules   []module.Module // 注册时的模块，参数覆盖总是基于它们应用
	graph     *Graph
	segmenter *window.Segmenter

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New 创建编排器，配置错误（规则非法、依赖成环等）在此返回
func New(opts Options, modules []module.Module, logger *zap.Logger, options ...Option) (*Orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		modules: modules,
		logger:  logger,
	}
	for _, opt := range options {
		opt(o)
	}
	if err := o.Configure(opts); err != nil {
		return nil, err
	}
	return o, nil
}

// Configure 应用配置并重建依赖图，不得与 Run 并发调用
// 模块参数覆盖基于注册时的模块应用并会改变模块声明，因此依赖图总是在参数应用之后重建；
// 返回错误时保持原有配置
func (o *Orchestrator) Configure(opts Options) error {
	rule, err := window.ParseRule(opts.WindowRule)
	if err != nil {
		return err
	}
	segmenter, err := window.NewSegmenter(rule, window.Options{
		CompletenessThreshold: opts.CompletenessThreshold,
		GapToleranceFactor:    opts.GapToleranceFactor,
	})
	if err != nil {
		return err
	}
	if opts.PrimaryStream == "" {
		return pipeerrors.Configf(pipeerrors.ErrInvalidOption, "pipeline", "primary_stream is required")
	}
	if opts.ResampleRate < 0 {
		return pipeerrors.Configf(pipeerrors.ErrInvalidOption, "pipeline", "resample_rate %v is negative", opts.ResampleRate)
	}
	if opts.Workers < 0 {
		return pipeerrors.Configf(pipeerrors.ErrInvalidOption, "pipeline", "workers %d is negative", opts.Workers)
	}

	configured, err := o.applyParams(opts.ModuleParams)
	if err != nil {
		return err
	}
	graph, err := BuildGraph(configured, opts.StrictDependencies)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.opts = opts
	o.graph = graph
	o.segmenter = segmenter
	o.mu.Unlock()

	for name, reason := range graph.Unavailable() {
		o.logger.Warn("Module unavailable, its metrics will be skipped",
			zap.String("module", name),
			zap.String("reason", reason),
		)
	}
	return nil
}

// applyParams 对注册的模块应用参数覆盖，返回新的模块列表
// 任一模块的参数被拒绝时返回错误，已注册的模块均不受影响
func (o *Orchestrator) applyParams(params map[string]module.Params) ([]module.Module, error) {
	index := make(map[string]int, len(o.modules))
	for i, m := range o.modules {
		index[m.Spec().Name] = i
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	out := slices.Clone(o.modules)
	for _, name := range names {
		i, ok := index[name]
		if !ok {
			return nil, pipeerrors.Configf(pipeerrors.ErrUnknownModule, "pipeline", "parameters given for unknown module %q", name)
		}
		c, ok := o.modules[i].(module.Configurable)
		if !ok {
			return nil, pipeerrors.Configf(pipeerrors.ErrInvalidOption, "pipeline", "module %q takes no parameters", name)
		}
		m, err := c.WithParams(params[name])
		if err != nil {
			return nil, pipeerrors.WrapConfiguration(err, "pipeline", "Configure", fmt.Sprintf("apply %q parameters", name))
		}
		if got := m.Spec().Name; got != name {
			return nil, pipeerrors.Configf(pipeerrors.ErrInvalidOption, "pipeline", "module %q renamed itself to %q", name, got)
		}
		out[i] = m
	}
	return out, nil
}

// Levels 当前依赖图的分层执行顺序
func (o *Orchestrator) Levels() [][]string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.graph.Levels()
}

// unit 一个（受试者, 窗口）处理单元
type unit struct {
	subject *models.SubjectData
	window  models.Window
}

// run 一次运行的共享状态
type run struct {
	id        string
	opts      Options
	graph     *Graph
	store     *store.Store
	cancel    context.CancelFunc
	fatalOnce sync.Once
	fatal     error
}

func (r *run) fail(err error) {
	r.fatalOnce.Do(func() {
		r.fatal = err
		r.cancel()
	})
}

// Run 处理全部受试者并返回冻结的结果
//
// ctx 取消后不再调度新的单元与模块，进行中的模块照常完成并记录结果；返回部分结果与
// ctx 的错误。模块抛出内核错误时同样停止调度，返回部分结果与该错误。
func (o *Orchestrator) Run(ctx context.Context, subjects ...*models.SubjectData) (*store.PipelineResult, error) {
	o.mu.RLock()
	opts, graph, segmenter := o.opts, o.graph, o.segmenter
	o.mu.RUnlock()

	started := time.Now()
	prepared, err := o.prepare(opts, subjects)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r := &run{
		id:     uuid.NewString(),
		opts:   opts,
		graph:  graph,
		store:  store.New(),
		cancel: cancel,
	}
	logger := o.logger.With(zap.String("run_id", r.id))
	logger.Info("Pipeline run started",
		zap.Int("subjects", len(prepared)),
		zap.Int("modules", len(graph.nodes)),
		zap.String("window_rule", segmenter.Rule().String()),
	)

	workers := opts.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	pool := worker.NewPool(workers, workers*2, func(ctx context.Context, u unit) error {
		err := o.processUnit(ctx, r, u)
		if err != nil {
			r.fail(err)
		}
		return err
	}, worker.WithMetrics[unit](o.metrics.Registerer(), "actigraphy_units"))
	if err := pool.Start(runCtx); err != nil {
		return nil, err
	}

	windows := 0
submit:
	for _, subj := range prepared {
		for w := range segmenter.Windows(subj.SubjectID, subj.Streams[opts.PrimaryStream]) {
			if runCtx.Err() != nil {
				break submit
			}
			if err := r.store.AddWindows(w); err != nil {
				r.fail(err)
				break submit
			}
			if err := pool.Submit(runCtx, unit{subject: subj, window: w}); err != nil {
				break submit
			}
			windows++
		}
	}
	pool.Stop()

	meta := store.Meta{
		RunID:     r.id,
		StartedAt: started,
		EndedAt:   time.Now(),
		Cancelled: ctx.Err() != nil,
	}
	runErr := r.fatal
	if runErr == nil {
		runErr = ctx.Err()
	}
	if runErr != nil {
		meta.Error = runErr.Error()
	}
	result, err := r.store.Finalize(meta)
	if err != nil {
		return nil, err
	}

	outcome := "ok"
	switch {
	case r.fatal != nil:
		outcome = "error"
	case meta.Cancelled:
		outcome = "cancelled"
	}
	o.metrics.ObserveRun(outcome, meta.EndedAt.Sub(started))

	stats := pool.Stats()
	logger.Info("Pipeline run finished",
		zap.String("outcome", outcome),
		zap.Int("windows", windows),
		zap.Int64("units_processed", stats.Processed),
		zap.Int64("units_skipped", stats.Skipped),
		zap.Int("records", result.Len()),
		zap.Duration("elapsed", meta.EndedAt.Sub(started)),
	)
	return result, runErr
}

// prepare 校验输入流并按需重采样；不修改调用方的数据
func (o *Orchestrator) prepare(opts Options, subjects []*models.SubjectData) ([]*models.SubjectData, error) {
	out := make([]*models.SubjectData, 0, len(subjects))
	seen := make(map[string]struct{}, len(subjects))
	for _, subj := range subjects {
		if subj == nil {
			continue
		}
		if _, dup := seen[subj.SubjectID]; dup {
			return nil, fmt.Errorf("%w: subject %q supplied twice", pipeerrors.ErrInvalidStream, subj.SubjectID)
		}
		seen[subj.SubjectID] = struct{}{}

		prepared := &models.SubjectData{SubjectID: subj.SubjectID, Streams: make(map[string]*models.SensorStream, len(subj.Streams))}
		for name, s := range subj.Streams {
			if err := s.Validate(); err != nil {
				return nil, fmt.Errorf("subject %q: %w", subj.SubjectID, err)
			}
			if opts.ResampleRate > 0 && s.Len() > 1 {
				rs, gaps, err := window.Resample(s, opts.ResampleRate, opts.GapToleranceFactor)
				if err != nil {
					return nil, fmt.Errorf("subject %q: resample %q: %w", subj.SubjectID, name, err)
				}
				o.logger.Debug("Stream resampled",
					zap.String("subject_id", subj.SubjectID),
					zap.String("stream", name),
					zap.Float64("rate", opts.ResampleRate),
					zap.Int("gaps", len(gaps)),
				)
				s = rs
			}
			prepared.Streams[name] = s
		}
		if _, ok := prepared.Streams[opts.PrimaryStream]; !ok {
			o.logger.Warn("Subject has no primary stream, no windows produced",
				zap.String("subject_id", subj.SubjectID),
				zap.String("primary_stream", opts.PrimaryStream),
			)
			continue
		}
		out = append(out, prepared)
	}
	return out, nil
}
