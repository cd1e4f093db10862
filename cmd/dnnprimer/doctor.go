package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-dnn-primer/internal/doctor"
	"github.com/example/go-dnn-primer/internal/engine"
)

func newDoctorCmd() *cobra.Command {
	var (
		require   []string
		skipProbe bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run engine, CPU feature and dump directory checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			result := doctor.Run(cmd.Context(), doctor.Config{
				NewEngine:        func() (*engine.Engine, error) { return newEngine(cfg) },
				RequiredFeatures: require,
				SkipProbe:        skipProbe,
				DumpDir:          cfg.Run.DumpDir,
			}, out)

			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "doctor checks passed")

			return nil
		},
	}

	cmd.Flags().StringSliceVar(&require, "require-feature", nil, "CPU features that must be present (e.g. avx2,fma)")
	cmd.Flags().BoolVar(&skipProbe, "skip-probe", false, "Skip the reorder round trip on the stream")

	return cmd
}
