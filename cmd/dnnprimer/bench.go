package main

import (
	"fmt"
	"os"
	"runtime/pprof"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/example/go-dnn-primer/internal/bench"
)

func newBenchCmd() *cobra.Command {
	var (
		runs       int
		format     string
		maxMeanMS  float64
		cpuprofile string
	)

	cmd := &cobra.Command{
		Use:   "bench [tutorial...]",
		Short: "Time repeated tutorial runs (default: all)",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if runs < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}

			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}

			tuts, err := selectTutorials(args)
			if err != nil {
				return err
			}

			env, err := newEnv(cfg)
			if err != nil {
				return err
			}

			// Dumps would dominate the timings.
			env.DumpDir = ""

			if cpuprofile != "" {
				f, ferr := os.Create(cpuprofile)
				if ferr != nil {
					return fmt.Errorf("create cpu profile: %w", ferr)
				}

				defer multierr.AppendInvoke(&err, multierr.Close(f))

				if err := pprof.StartCPUProfile(f); err != nil {
					return fmt.Errorf("start cpu profile: %w", err)
				}

				defer pprof.StopCPUProfile()
			}

			var results []bench.RunResult

			for _, t := range tuts {
				rs, err := bench.Run(cmd.Context(), env, t, runs)
				results = append(results, rs...)

				if err != nil {
					return fmt.Errorf("%s: %w", t.Name, err)
				}
			}

			stats := bench.ComputeStats(bench.Durations(results))

			switch format {
			case "json":
				if err := bench.FormatJSON(results, stats, cmd.OutOrStdout()); err != nil {
					return err
				}
			default:
				bench.FormatTable(results, stats, cmd.OutOrStdout())
			}

			threshold := time.Duration(maxMeanMS * float64(time.Millisecond))

			return bench.CheckMeanThreshold(stats.Mean, threshold)
		},
	}

	cmd.Flags().IntVar(&runs, "runs", 5, "Number of runs per tutorial")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&maxMeanMS, "max-mean-ms", 0, "Exit non-zero if the mean run time exceeds this many milliseconds (0 = disabled)")
	cmd.Flags().StringVar(&cpuprofile, "cpuprofile", "", "Write a CPU profile of the runs to this file")

	return cmd
}
