// Package bench provides timing and reporting helpers for the dnnprimer bench command.
package bench

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/example/go-dnn-primer/internal/tutorial"
)

// ---------------------------------------------------------------------------
// Run result and stats
// ---------------------------------------------------------------------------

// RunResult holds the timing and reconciliation counts for a single tutorial run.
type RunResult struct {
	Tutorial string
	Index    int
	Cold     bool // true for the first run of a tutorial
	Duration time.Duration
	Reorders int
	Checked  int64
}

// Stats holds aggregate timing statistics across all runs.
type Stats struct {
	Min  time.Duration
	Max  time.Duration
	Mean time.Duration
}

// ComputeStats calculates min, max and mean over a slice of durations.
func ComputeStats(durations []time.Duration) Stats {
	if len(durations) == 0 {
		return Stats{}
	}

	mn, mx := durations[0], durations[0]

	var sum time.Duration

	for _, d := range durations {
		mn = min(mn, d)
		mx = max(mx, d)
		sum += d
	}

	return Stats{
		Min:  mn,
		Max:  mx,
		Mean: sum / time.Duration(len(durations)),
	}
}

// Durations extracts the per-run durations of results.
func Durations(results []RunResult) []time.Duration {
	out := make([]time.Duration, len(results))
	for i, r := range results {
		out[i] = r.Duration
	}

	return out
}

// ---------------------------------------------------------------------------
// Runner
// ---------------------------------------------------------------------------

// Run executes t runs times against env and records each run. It stops at
// the first failing run.
func Run(ctx context.Context, env *tutorial.Env, t tutorial.Tutorial, runs int) ([]RunResult, error) {
	if runs < 1 {
		return nil, fmt.Errorf("bench: runs must be at least 1, got %d", runs)
	}

	results := make([]RunResult, 0, runs)

	for i := range runs {
		rep, err := tutorial.Run(ctx, env, t)
		if err != nil {
			return results, fmt.Errorf("run %d failed: %w", i+1, err)
		}

		results = append(results, RunResult{
			Tutorial: t.Name,
			Index:    i,
			Cold:     i == 0,
			Duration: rep.Duration,
			Reorders: len(rep.Reorders),
			Checked:  rep.Checked,
		})
	}

	return results, nil
}

// ---------------------------------------------------------------------------
// Threshold gate
// ---------------------------------------------------------------------------

// CheckMeanThreshold returns an error if mean > threshold.
// A threshold of 0 disables the gate.
func CheckMeanThreshold(mean, threshold time.Duration) error {
	if threshold <= 0 {
		return nil
	}

	if mean > threshold {
		return fmt.Errorf("mean run time %v exceeds threshold %v", mean, threshold)
	}

	return nil
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

func millis(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

// FormatTable writes a human-readable ASCII table of bench results to w.
func FormatTable(runs []RunResult, stats Stats, w io.Writer) {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-26s  %-5s  %-5s  %10s  %8s  %10s\n", "Tutorial", "Run", "Cold", "MS", "Reorders", "Checked")
	fmt.Fprintln(sb, strings.Repeat("-", 72))

	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}

		fmt.Fprintf(sb, "%-26s  %-5d  %-5s  %10.2f  %8d  %10d\n",
			r.Tutorial,
			r.Index+1,
			cold,
			millis(r.Duration),
			r.Reorders,
			r.Checked,
		)
	}

	fmt.Fprintln(sb, strings.Repeat("-", 72))
	fmt.Fprintf(sb, "%-26s  %-5s  %-5s  %10.2f  (min)\n", "", "", "", millis(stats.Min))
	fmt.Fprintf(sb, "%-26s  %-5s  %-5s  %10.2f  (mean)\n", "", "", "", millis(stats.Mean))
	fmt.Fprintf(sb, "%-26s  %-5s  %-5s  %10.2f  (max)\n", "", "", "", millis(stats.Max))

	fmt.Fprint(w, sb.String())
}

// jsonReport is the top-level JSON structure emitted by FormatJSON.
type jsonReport struct {
	Runs  []jsonRun `json:"runs"`
	Stats jsonStats `json:"stats"`
}

type jsonRun struct {
	Tutorial   string  `json:"tutorial"`
	Index      int     `json:"index"`
	Cold       bool    `json:"cold"`
	DurationMS float64 `json:"duration_ms"`
	Reorders   int     `json:"reorders"`
	Checked    int64   `json:"checked"`
}

type jsonStats struct {
	MinMS  float64 `json:"min_ms"`
	MeanMS float64 `json:"mean_ms"`
	MaxMS  float64 `json:"max_ms"`
}

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(runs []RunResult, stats Stats, w io.Writer) error {
	jr := jsonReport{
		Runs: make([]jsonRun, len(runs)),
		Stats: jsonStats{
			MinMS:  millis(stats.Min),
			MeanMS: millis(stats.Mean),
			MaxMS:  millis(stats.Max),
		},
	}

	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Tutorial:   r.Tutorial,
			Index:      r.Index,
			Cold:       r.Cold,
			DurationMS: millis(r.Duration),
			Reorders:   r.Reorders,
			Checked:    r.Checked,
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(jr)
}
