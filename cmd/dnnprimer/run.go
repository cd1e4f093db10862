package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/example/go-dnn-primer/internal/tutorial"
)

func newRunCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "run [tutorial...]",
		Short: "Run tutorials and verify their results (default: all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if format != "text" && format != "json" {
				return fmt.Errorf("--format must be 'text' or 'json'")
			}

			tuts, err := selectTutorials(args)
			if err != nil {
				return err
			}

			env, err := newEnv(cfg)
			if err != nil {
				return err
			}

			return runTutorials(cmd, env, tuts, format)
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format: text|json")

	return cmd
}

// runTutorials runs every tutorial even after a failure and returns the
// combined errors.
func runTutorials(cmd *cobra.Command, env *tutorial.Env, tuts []tutorial.Tutorial, format string) error {
	out := cmd.OutOrStdout()
	device := strings.ToUpper(string(env.Engine.Kind()))

	var (
		errs    error
		reports []*tutorial.Report
	)

	for _, t := range tuts {
		rep, err := tutorial.Run(cmd.Context(), env, t)
		if err != nil {
			slog.Error("tutorial failed", "name", t.Name, "error", err)
			errs = multierr.Append(errs, err)
		}

		if rep != nil {
			reports = append(reports, rep)
		}

		if format == "text" {
			printOutcome(out, t.Name, device, err)
		}
	}

	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")

		if err := enc.Encode(reports); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

func printOutcome(w io.Writer, name, device string, err error) {
	if err != nil {
		_, _ = fmt.Fprintf(w, "%s: Example failed on %s.\n", name, device)
		return
	}

	_, _ = fmt.Fprintf(w, "%s: Example passed on %s.\n", name, device)
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered tutorials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, t := range tutorial.All() {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%-26s  %s\n", t.Name, t.Description); err != nil {
					return err
				}
			}

			return nil
		},
	}
}
