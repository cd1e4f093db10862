package doctor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/multierr"

	"github.com/example/go-dnn-primer/internal/doctor"
	"github.com/example/go-dnn-primer/internal/engine"
)

var errNoDevice = errors.New("no device")

func cpuEngine() (*engine.Engine, error) { return engine.New(engine.CPU, 0, 2) }

func fixedFeatures(fs ...engine.Feature) func() []engine.Feature {
	return func() []engine.Feature { return fs }
}

func hasFailureContaining(failures []string, substr string) bool {
	for _, f := range failures {
		if strings.Contains(strings.ToLower(f), substr) {
			return true
		}
	}

	return false
}

// ---------------------------------------------------------------------------
// all-pass scenario
// ---------------------------------------------------------------------------

func TestRun_AllChecksPass(t *testing.T) {
	cfg := doctor.Config{
		NewEngine: cpuEngine,
		Features:  fixedFeatures(engine.Feature{Name: "avx2", Present: true}, engine.Feature{Name: "avx512f"}),
		DumpDir:   filepath.Join(t.TempDir(), "dumps"),
	}

	var out strings.Builder
	result := doctor.Run(context.Background(), cfg, &out)

	if result.Failed() {
		t.Fatalf("expected all checks to pass; failures: %v", result.Failures())
	}

	if result.Err() != nil {
		t.Errorf("Err() = %v; want nil", result.Err())
	}

	body := out.String()
	for _, want := range []string{"engine: cpu:0", "avx2: present", "avx512f: absent", "reorder probe: ab -> ba", "writable"} {
		if !strings.Contains(body, want) {
			t.Errorf("output missing %q:\n%s", want, body)
		}
	}
}

// ---------------------------------------------------------------------------
// engine failures
// ---------------------------------------------------------------------------

func TestRun_EngineFailureSkipsProbe(t *testing.T) {
	cfg := doctor.Config{
		NewEngine: func() (*engine.Engine, error) { return nil, errNoDevice },
		Features:  fixedFeatures(),
	}

	var out strings.Builder
	result := doctor.Run(context.Background(), cfg, &out)

	if !result.Failed() {
		t.Fatal("expected failure when the engine cannot be created")
	}

	if !errors.Is(result.Err(), errNoDevice) {
		t.Errorf("Err() = %v; want errNoDevice", result.Err())
	}

	if !strings.Contains(out.String(), "reorder probe: skipped (no engine)") {
		t.Errorf("probe should be skipped:\n%s", out.String())
	}
}

func TestRun_GPUUnsupported(t *testing.T) {
	cfg := doctor.Config{
		NewEngine: func() (*engine.Engine, error) { return engine.New(engine.GPU, 0, 0) },
		Features:  fixedFeatures(),
		SkipProbe: true,
	}

	var out strings.Builder
	result := doctor.Run(context.Background(), cfg, &out)

	if !errors.Is(result.Err(), engine.ErrUnsupportedEngine) {
		t.Fatalf("Err() = %v; want ErrUnsupportedEngine", result.Err())
	}
}

// ---------------------------------------------------------------------------
// CPU features
// ---------------------------------------------------------------------------

func TestRun_MissingRequiredFeatureFails(t *testing.T) {
	cfg := doctor.Config{
		NewEngine:        cpuEngine,
		Features:         fixedFeatures(engine.Feature{Name: "avx2", Present: true}, engine.Feature{Name: "avx512vnni"}),
		RequiredFeatures: []string{"avx512vnni", "amx"},
		SkipProbe:        true,
	}

	var out strings.Builder
	result := doctor.Run(context.Background(), cfg, &out)

	if len(multierr.Errors(result.Err())) != 2 {
		t.Fatalf("want 2 failures, got %v", result.Failures())
	}

	if !hasFailureContaining(result.Failures(), "avx512vnni") {
		t.Errorf("expected failure mentioning avx512vnni, got: %v", result.Failures())
	}
}

// ---------------------------------------------------------------------------
// dump directory
// ---------------------------------------------------------------------------

func TestRun_UnwritableDumpDirFails(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain-file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg := doctor.Config{
		NewEngine: cpuEngine,
		Features:  fixedFeatures(),
		SkipProbe: true,
		DumpDir:   filepath.Join(file, "sub"),
	}

	var out strings.Builder
	result := doctor.Run(context.Background(), cfg, &out)

	if !hasFailureContaining(result.Failures(), "dump dir") {
		t.Fatalf("expected dump dir failure, got: %v", result.Failures())
	}
}

// ---------------------------------------------------------------------------
// output markers
// ---------------------------------------------------------------------------

func TestRun_OutputContainsPassAndFailMarkers(t *testing.T) {
	cfg := doctor.Config{
		NewEngine:        cpuEngine,
		Features:         fixedFeatures(engine.Feature{Name: "sse4.1", Present: true}),
		RequiredFeatures: []string{"sve"},
		SkipProbe:        true,
	}

	var out strings.Builder
	doctor.Run(context.Background(), cfg, &out)

	body := out.String()
	if !strings.Contains(body, doctor.PassMark) {
		t.Errorf("output missing pass marker %q:\n%s", doctor.PassMark, body)
	}

	if !strings.Contains(body, doctor.FailMark) {
		t.Errorf("output missing fail marker %q:\n%s", doctor.FailMark, body)
	}

	if !strings.Contains(body, "reorder probe: skipped") {
		t.Errorf("expected skipped probe output, got:\n%s", body)
	}
}
