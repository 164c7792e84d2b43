// wisefido-actigraphy computes clinical activity, sleep and gait endpoints
// from wearable accelerometer recordings.
package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	logLevel     string
	logFormat    string
	pipelineFile string
)

func main() {
	root := &cobra.Command{
		Use:   "wisefido-actigraphy",
		Short: "Windowed actigraphy analysis pipeline",
		Long: `wisefido-actigraphy segments accelerometer recordings into analysis windows
and runs the wear, posture, activity, sleep and gait modules on each window.

Configuration comes from the environment (WINDOW_RULE, COMPLETENESS_THRESHOLD,
EXPORT_REDIS, ...) and an optional YAML pipeline file; flags override both.`,
		Version:      version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: json or console")
	root.PersistentFlags().StringVar(&pipelineFile, "pipeline", "", "YAML pipeline file")

	root.AddCommand(
		runCmd(),
		simulateCmd(),
		modulesCmd(),
	)

	if err := fang.Execute(context.Background(), root); err != nil {
		os.Exit(1)
	}
}
