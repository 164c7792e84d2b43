package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wisefido-actigraphy/internal/config"
	"wisefido-actigraphy/internal/export"
	"wisefido-actigraphy/internal/loader"
	"wisefido-actigraphy/internal/logger"
	"wisefido-actigraphy/internal/models"
	"wisefido-actigraphy/internal/service"
	"wisefido-actigraphy/internal/store"
)

// loadConfig 环境变量 → 管线文件 → 命令行
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if pipelineFile != "" {
		if err := cfg.ApplyPipelineFile(pipelineFile); err != nil {
			return nil, nil, err
		}
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-actigraphy")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

// parseInput 解析 subject[:stream]=path
func parseInput(arg, defaultStream string) (subject, stream, path string, err error) {
	key, path, ok := strings.Cut(arg, "=")
	if !ok || key == "" || path == "" {
		return "", "", "", fmt.Errorf("input %q: expected subject[:stream]=path", arg)
	}
	subject, stream, ok = strings.Cut(key, ":")
	if !ok {
		stream = defaultStream
	}
	if subject == "" || stream == "" {
		return "", "", "", fmt.Errorf("input %q: empty subject or stream", arg)
	}
	return subject, stream, path, nil
}

// loadSubjects 读取全部输入，同一受试者的多个流合并
func loadSubjects(inputs []string, defaultStream string, sampleRate float64) ([]*models.SubjectData, error) {
	bySubject := make(map[string]*models.SubjectData)
	var order []*models.SubjectData
	for _, arg := range inputs {
		subject, stream, path, err := parseInput(arg, defaultStream)
		if err != nil {
			return nil, err
		}
		s, err := loader.LoadCSV(path, stream, sampleRate)
		if err != nil {
			return nil, err
		}
		d, ok := bySubject[subject]
		if !ok {
			d = &models.SubjectData{SubjectID: subject, Streams: make(map[string]*models.SensorStream)}
			bySubject[subject] = d
			order = append(order, d)
		}
		if _, dup := d.Streams[stream]; dup {
			return nil, fmt.Errorf("subject %s: stream %s given twice", subject, stream)
		}
		d.Streams[stream] = s
	}
	return order, nil
}

func runCmd() *cobra.Command {
	var (
		inputs      []string
		sampleRate  float64
		windowRule  string
		workers     int
		excelPath   string
		metricsFile string
		metricsAddr string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Analyze accelerometer CSV recordings",
		Example: `  wisefido-actigraphy run --input p01=p01.csv --input p02=p02.csv
  wisefido-actigraphy run --input p01:accel=wrist.csv --window daily@12 --excel out.xlsx`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(inputs) == 0 {
				return fmt.Errorf("at least one --input is required")
			}
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			if windowRule != "" {
				cfg.Pipeline.WindowRule = windowRule
			}
			if workers > 0 {
				cfg.Pipeline.Workers = workers
			}
			if excelPath != "" {
				cfg.Export.ExcelPath = excelPath
			}
			if metricsFile != "" {
				cfg.Export.MetricsFile = metricsFile
			}

			subjects, err := loadSubjects(inputs, cfg.Pipeline.PrimaryStream, sampleRate)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			svc, err := service.NewAnalysisService(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer svc.Stop(ctx)

			if metricsAddr != "" {
				go func() {
					if err := svc.ServeMetrics(ctx, metricsAddr); err != nil {
						log.Error("Metrics server stopped", zap.Error(err))
					}
				}()
			}

			result, err := svc.Analyze(ctx, subjects...)
			if result != nil {
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					if err := enc.Encode(export.Summarize(result)); err != nil {
						return err
					}
				} else {
					printSummary(cmd.OutOrStdout(), result)
				}
			}
			return err
		},
	}

	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "recording as subject[:stream]=path.csv (repeatable)")
	cmd.Flags().Float64Var(&sampleRate, "sample-rate", 0, "nominal sample rate in Hz (0 = infer from timestamps)")
	cmd.Flags().StringVar(&windowRule, "window", "", "window rule, e.g. daily, daily@12, rolling:6h/1h")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel (subject, window) workers")
	cmd.Flags().StringVar(&excelPath, "excel", "", "write results to an xlsx workbook")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to a textfile")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics while running, e.g. :9102")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run summary as JSON")
	return cmd
}

// printSummary 打印每个窗口的 computed 指标
func printSummary(w io.Writer, result *store.PipelineResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", result.RunID)
	for _, q := range models.Qualities {
		fmt.Fprintf(tw, "%s\t%d\n", q, result.Summary()[q])
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "SUBJECT\tWINDOW START\tCOMPLETENESS\tMETRIC\tVALUE\tQUALITY")
	for _, row := range result.Table() {
		value := "-"
		if rec := (models.MetricRecord{Value: row.Value}); rec.Finite() {
			value = fmt.Sprintf("%.3f", row.Value)
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%s\t%s\n",
			row.SubjectID, row.WindowStart.UTC().Format("2006-01-02 15:04"), row.Completeness, row.Metric, value, row.Quality)
	}
	tw.Flush()
}
