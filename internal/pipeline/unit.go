package pipeline

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	pipeerrors "wisefido-actigraphy/internal/errors"
	"wisefido-actigraphy/internal/kernel"
	"wisefido-actigraphy/internal/models"
	"wisefido-actigraphy/internal/module"
)

// outcome 单个模块在单个窗口上的执行结果
type outcome struct {
	records []models.MetricRecord
	values  map[string]float64 // 仅 computed 的指标
	fatal   error
}

// processUnit 处理一个（受试者, 窗口）单元，完成后一次性发布全部记录
// 返回的错误均为致命错误（内核错误或存储错误）
func (o *Orchestrator) processUnit(ctx context.Context, r *run, u unit) error {
	w := u.window
	if !w.Valid {
		o.metrics.ObserveWindow(false)
		reason := fmt.Sprintf("window completeness %.3f below threshold %.3f", w.Completeness, r.opts.CompletenessThreshold)
		var records []models.MetricRecord
		for _, n := range r.graph.nodes {
			// 永久不可用的模块在任何窗口上都记为 skipped-dependency
			if n.blocked != "" {
				records = append(records, recordsFor(w, n.spec, n.spec.Produces, models.QualitySkippedDependency, n.blocked)...)
				o.metrics.ObserveModule(n.spec.Name, models.QualitySkippedDependency, 0)
				continue
			}
			records = append(records, recordsFor(w, n.spec, n.spec.Produces, models.QualityExcluded, reason)...)
			o.metrics.ObserveModule(n.spec.Name, models.QualityExcluded, 0)
		}
		return r.store.Publish(records)
	}
	o.metrics.ObserveWindow(true)

	streams, breaks := o.windowStreams(r.opts, u)
	values := make(map[string]float64)
	quality := make(map[string]models.Quality)
	var records []models.MetricRecord
	var fatal error

	// 进行中的模块不受取消影响，保证其记录完整写入
	detached := context.WithoutCancel(ctx)

	for _, level := range r.graph.levels {
		if ctx.Err() != nil {
			break
		}
		results := make([]outcome, len(level))
		var g errgroup.Group
		for k, idx := range level {
			n := r.graph.nodes[idx]
			if reason := blockedReason(n, streams, quality); reason != "" {
				results[k] = outcome{records: recordsFor(w, n.spec, n.spec.Produces, models.QualitySkippedDependency, reason)}
				o.metrics.ObserveModule(n.spec.Name, models.QualitySkippedDependency, 0)
				continue
			}
			in := module.Input{
				Window:   w,
				Streams:  streams,
				Upstream: upstreamFor(n.spec, values),
				Breaks:   breaks,
			}
			g.Go(func() error {
				results[k] = o.runModule(detached, w, n, in)
				return nil
			})
		}
		_ = g.Wait()

		for _, res := range results {
			records = append(records, res.records...)
			for _, rec := range res.records {
				quality[rec.Metric] = rec.Quality
			}
			for m, v := range res.values {
				values[m] = v
			}
			if res.fatal != nil && fatal == nil {
				fatal = res.fatal
			}
		}
		if fatal != nil {
			break
		}
	}

	if err := r.store.Publish(records); err != nil {
		return err
	}
	return fatal
}

// windowStreams 将受试者的各个流切片到窗口并计算间断点
func (o *Orchestrator) windowStreams(opts Options, u unit) (map[string]*models.SensorStream, map[string][]int) {
	w := u.window
	streams := make(map[string]*models.SensorStream, len(u.subject.Streams))
	breaks := make(map[string][]int, len(u.subject.Streams))
	for name, s := range u.subject.Streams {
		if name == opts.PrimaryStream {
			streams[name] = s.SliceIndex(w.StartIdx, w.EndIdx)
			breaks[name] = w.Breaks()
			continue
		}
		slice := s.Slice(w.Start, w.End)
		streams[name] = slice
		// 采样率与容差因子在 prepare/Configure 中已校验为正
		b, _ := kernel.DetectGaps(slice.Time, opts.GapToleranceFactor/slice.SampleRate)
		breaks[name] = b
	}
	return streams, breaks
}

// blockedReason 模块在该窗口上不能执行的原因，可执行时返回空串
func blockedReason(n node, streams map[string]*models.SensorStream, quality map[string]models.Quality) string {
	if n.blocked != "" {
		return n.blocked
	}
	for _, s := range n.spec.Streams {
		if _, ok := streams[s]; !ok {
			return fmt.Sprintf("stream %q not available", s)
		}
	}
	var missing []string
	for _, req := range n.spec.Requires {
		if q := quality[req]; q != models.QualityComputed {
			if q == "" {
				q = "missing"
			}
			missing = append(missing, fmt.Sprintf("%s is %s", req, q))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "upstream " + strings.Join(missing, ", ")
	}
	return ""
}

// upstreamFor 只传递模块声明的上游指标
func upstreamFor(spec models.ModuleSpec, values map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(spec.Requires))
	for _, req := range spec.Requires {
		if v, ok := values[req]; ok {
			out[req] = v
		}
	}
	return out
}

// runModule 执行模块并把结果或故障转换为记录，panic 记为 failed
func (o *Orchestrator) runModule(ctx context.Context, w models.Window, n node, in module.Input) (res outcome) {
	start := time.Now()
	logger := o.logger.With(
		zap.String("subject_id", w.SubjectID),
		zap.String("window_id", w.ID),
		zap.String("module", n.spec.Provenance()),
	)

	defer func() {
		if p := recover(); p != nil {
			reason := fmt.Sprintf("panic: %v", p)
			logger.Error("Module panicked", zap.String("panic", fmt.Sprint(p)))
			res = outcome{records: recordsFor(w, n.spec, n.spec.Produces, models.QualityFailed, reason)}
			o.metrics.ObserveModule(n.spec.Name, models.QualityFailed, time.Since(start))
		}
	}()

	out, err := n.module.Run(ctx, in)
	elapsed := time.Since(start)

	// 部分指标数据不足，其余指标照常记录
	var excluded *module.Exclusions
	if pipeerrors.As(err, &excluded) {
		err = excluded.Check(n.spec, out)
	}

	if err == nil {
		var missing []string
		missing, err = module.CheckOutput(n.spec, out)
		if err == nil {
			res.values = make(map[string]float64, len(out))
			for _, metric := range n.spec.Produces {
				if v, ok := out[metric]; ok {
					res.values[metric] = v
					res.records = append(res.records, recordFor(w, n.spec, metric, v, models.QualityComputed, ""))
				}
			}
			if excluded != nil {
				missing = slices.DeleteFunc(missing, func(m string) bool {
					reason, ok := excluded.Reason(m)
					if ok {
						res.records = append(res.records, recordFor(w, n.spec, m, math.NaN(), models.QualityExcluded, reason))
					}
					return ok
				})
				logger.Debug("Module excluded metrics", zap.Strings("metrics", excluded.Metrics()))
			}
			if len(missing) > 0 {
				res.records = append(res.records, recordsFor(w, n.spec, missing, models.QualityFailed, "metric not produced")...)
				logger.Warn("Module omitted declared metrics", zap.Strings("metrics", missing))
			}
			o.metrics.ObserveModule(n.spec.Name, models.QualityComputed, elapsed)
			return res
		}
	}

	switch {
	case pipeerrors.IsInsufficientData(err):
		logger.Debug("Module excluded window", zap.Error(err))
		res.records = recordsFor(w, n.spec, n.spec.Produces, models.QualityExcluded, err.Error())
		o.metrics.ObserveModule(n.spec.Name, models.QualityExcluded, elapsed)
	case pipeerrors.IsKernel(err):
		logger.Error("Kernel misuse in module", zap.Error(err))
		res.records = recordsFor(w, n.spec, n.spec.Produces, models.QualityFailed, err.Error())
		res.fatal = err
		o.metrics.ObserveModule(n.spec.Name, models.QualityFailed, elapsed)
	default:
		logger.Warn("Module failed", zap.Error(err))
		res.records = recordsFor(w, n.spec, n.spec.Produces, models.QualityFailed, err.Error())
		o.metrics.ObserveModule(n.spec.Name, models.QualityFailed, elapsed)
	}
	return res
}

func recordFor(w models.Window, spec models.ModuleSpec, metric string, v float64, q models.Quality, reason string) models.MetricRecord {
	return models.MetricRecord{
		SubjectID:     w.SubjectID,
		WindowID:      w.ID,
		Metric:        metric,
		Value:         v,
		Module:        spec.Name,
		ModuleVersion: spec.Version,
		Quality:       q,
		Reason:        reason,
	}
}

func recordsFor(w models.Window, spec models.ModuleSpec, metrics []string, q models.Quality, reason string) []models.MetricRecord {
	out := make([]models.MetricRecord, 0, len(metrics))
	for _, m := range metrics {
		out = append(out, recordFor(w, spec, m, math.NaN(), q, reason))
	}
	return out
}
