// Package testutil provides shared fixtures and skip helpers for tests.
//
// Skip helpers call Skipf with a clear human-readable reason when the named
// prerequisite is absent, so heavy or host-specific tests stay runnable in
// partial environments without failing noisily.
//
// Typical usage:
//
//	func TestPipeline(t *testing.T) {
//	    testutil.RequireLong(t)
//	    eng, s := testutil.NewCPU(t)
//	    ...
//	}
package testutil

import (
	"os"
	"testing"

	"github.com/example/go-dnn-primer/internal/engine"
)

// DefaultThreads is the thread budget NewCPU gives its engine.
const DefaultThreads = 2

// NewCPU returns a CPU engine and a stream on it. The stream is drained
// when the test ends so no step outlives it.
func NewCPU(tb testing.TB) (*engine.Engine, *engine.Stream) {
	tb.Helper()

	eng, err := engine.New(engine.CPU, 0, DefaultThreads)
	if err != nil {
		tb.Fatalf("engine.New: %v", err)
	}

	s := engine.NewStream(eng, engine.StreamOptions{})
	tb.Cleanup(func() { _ = s.Wait() })

	return eng, s
}

// RequireLong skips the test in -short mode or when DNNPRIMER_SKIP_LONG is
// set to a non-empty value.
func RequireLong(tb testing.TB) {
	tb.Helper()

	if testing.Short() {
		tb.Skipf("full-size workload skipped in -short mode")
	}

	if os.Getenv("DNNPRIMER_SKIP_LONG") != "" {
		tb.Skipf("full-size workload skipped by DNNPRIMER_SKIP_LONG")
	}
}

// RequireFeature skips the test if the host CPU lacks the named feature.
func RequireFeature(tb testing.TB, name string) {
	tb.Helper()

	for _, f := range engine.Features() {
		if f.Name == name {
			if !f.Present {
				tb.Skipf("cpu feature %s not present on this host", name)
			}

			return
		}
	}

	tb.Skipf("cpu feature %s is not probed on this architecture", name)
}
