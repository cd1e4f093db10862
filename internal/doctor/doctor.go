// Package doctor provides host preflight checks for dnnprimer.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"go.uber.org/multierr"

	"github.com/example/go-dnn-primer/internal/engine"
	"github.com/example/go-dnn-primer/internal/layout"
	"github.com/example/go-dnn-primer/internal/memory"
	"github.com/example/go-dnn-primer/internal/reorder"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// NewEngine creates the engine the remaining checks run against.
	NewEngine func() (*engine.Engine, error)
	// Features reports host CPU capabilities. Defaults to engine.Features.
	Features func() []engine.Feature
	// RequiredFeatures fail the run when absent. Others are informational.
	RequiredFeatures []string
	// SkipProbe skips the reorder round trip on the stream.
	SkipProbe bool
	// DumpDir, when set, must be creatable and writable.
	DumpDir string
}

// Result collects the outcome of all checks.
type Result struct {
	failures []error
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string {
	out := make([]string, len(r.failures))
	for i, err := range r.failures {
		out[i] = err.Error()
	}

	return out
}

// Err combines every failure into one error, or nil.
func (r *Result) Err() error { return multierr.Combine(r.failures...) }

// AddFailure appends an external failure to the result.
func (r *Result) AddFailure(err error) { r.failures = append(r.failures, err) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(ctx context.Context, cfg Config, w io.Writer) Result {
	var res Result

	check := func(name string, err error, ok string) {
		if err != nil {
			res.AddFailure(fmt.Errorf("%s: %w", name, err))
			fmt.Fprintf(w, "%s %s: %v\n", FailMark, name, err)

			return
		}

		fmt.Fprintf(w, "%s %s: %s\n", PassMark, name, ok)
	}

	// ---- engine -----------------------------------------------------------
	var eng *engine.Engine

	if cfg.NewEngine == nil {
		check("engine", errors.New("no engine factory configured"), "")
	} else {
		var err error

		eng, err = cfg.NewEngine()
		if err == nil {
			check("engine", nil, eng.String())
		} else {
			check("engine", err, "")
		}
	}

	// ---- CPU features -----------------------------------------------------
	features := cfg.Features
	if features == nil {
		features = engine.Features
	}

	present := make(map[string]bool)

	for _, f := range features() {
		present[f.Name] = f.Present
		if f.Present {
			fmt.Fprintf(w, "%s cpu feature %s: present\n", PassMark, f.Name)
		} else if !slices.Contains(cfg.RequiredFeatures, f.Name) {
			fmt.Fprintf(w, "%s cpu feature %s: absent (reference kernels only)\n", PassMark, f.Name)
		}
	}

	for _, name := range cfg.RequiredFeatures {
		if !present[name] {
			check("cpu feature "+name, errors.New("required but not present"), "")
		}
	}

	// ---- reorder probe ----------------------------------------------------
	switch {
	case cfg.SkipProbe:
		fmt.Fprintf(w, "%s reorder probe: skipped\n", PassMark)
	case eng == nil:
		fmt.Fprintf(w, "%s reorder probe: skipped (no engine)\n", FailMark)
	default:
		check("reorder probe", probeReorder(ctx, eng), "ab -> ba -> ab round trip ok")
	}

	// ---- dump directory ---------------------------------------------------
	if cfg.DumpDir != "" {
		check("dump dir "+cfg.DumpDir, checkWritable(cfg.DumpDir), "writable")
	}

	return res
}

// probeReorder runs a transpose and its inverse on a small matrix and
// expects the original bits back.
func probeReorder(ctx context.Context, eng *engine.Engine) error {
	s := engine.NewStream(eng, engine.StreamOptions{})
	shape := layout.MustShape(3, 5)

	want := make([]float32, shape.NumElements())
	for i := range want {
		want[i] = float32(i) - 7.25
	}

	src, err := memory.NewFrom(layout.MustDesc(shape, layout.F32, "ab"), want)
	if err != nil {
		return err
	}

	mid, err := memory.New(layout.MustDesc(shape, layout.F32, "ba"))
	if err != nil {
		return err
	}

	back, err := memory.New(src.Desc())
	if err != nil {
		return err
	}

	err = multierr.Combine(
		reorder.Reorder(ctx, s, src, mid, reorder.DefaultAttr()),
		reorder.Reorder(ctx, s, mid, back, reorder.DefaultAttr()),
	)
	if werr := s.Wait(); werr != nil {
		err = multierr.Append(err, werr)
	}

	if err != nil {
		return err
	}

	got, err := memory.Read[float32](back)
	if err != nil {
		return err
	}

	if !slices.Equal(got, want) {
		return fmt.Errorf("round trip mismatch: got %v want %v", got, want)
	}

	return nil
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, ".dnnprimer-doctor-*")
	if err != nil {
		return err
	}

	name := f.Name()

	return multierr.Combine(f.Close(), os.Remove(name))
}
