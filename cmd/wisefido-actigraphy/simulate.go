package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"wisefido-actigraphy/internal/loader"
	"wisefido-actigraphy/internal/models"
	"wisefido-actigraphy/internal/synth"
)

// simulateStream 从 start 起连续生成 days 天的合成数据
func simulateStream(start time.Time, days int, fs float64, seed uint64) *models.SensorStream {
	out := synth.Day(start, fs, seed)
	for d := 1; d < days; d++ {
		next := synth.Day(start.Add(time.Duration(d)*24*time.Hour), fs, seed+uint64(d))
		out.Time = append(out.Time, next.Time...)
		for c := range out.Values {
			out.Values[c] = append(out.Values[c], next.Values[c]...)
		}
	}
	return out
}

func simulateCmd() *cobra.Command {
	var (
		days int
		fs   float64
		seed uint64
		from string
		out  string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Write a synthetic accelerometer recording as CSV",
		Long: `simulate writes whole synthetic days (sleep, walking, sedentary, vigorous
and non-wear periods) as a time,x,y,z CSV that the run command can read.`,
		Example: `  wisefido-actigraphy simulate --days 3 --fs 20 --out p01.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 || fs <= 0 {
				return fmt.Errorf("--days must be at least 1 and --fs positive")
			}
			start := time.Now().UTC().Truncate(24 * time.Hour)
			if from != "" {
				t, err := time.Parse(time.DateOnly, from)
				if err != nil {
					return fmt.Errorf("invalid --start: %w", err)
				}
				start = t
			}
			stream := simulateStream(start, days, fs, seed)

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := loader.WriteCSV(w, stream); err != nil {
				return err
			}
			if out != "" && out != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d samples (%d days at %g Hz) to %s\n", stream.Len(), days, fs, out)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 1, "number of days")
	cmd.Flags().Float64Var(&fs, "fs", 20, "sample rate in Hz")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "random seed")
	cmd.Flags().StringVar(&from, "start", "", "first day (YYYY-MM-DD, default today)")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	return cmd
}
