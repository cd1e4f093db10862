package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/multierr"

	"github.com/example/go-dnn-primer/internal/config"
	"github.com/example/go-dnn-primer/internal/tutorial"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	orig := activeCfg
	t.Cleanup(func() { activeCfg = orig })

	// Keep ./dnnprimer.* lookups hermetic.
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}

	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir: %v", err)
	}

	t.Cleanup(func() { _ = os.Chdir(wd) })

	root := NewRootCmd()

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err = root.Execute()

	return out.String(), err
}

func TestNewRootCmd_HasExpectedSubcommands(t *testing.T) {
	root := NewRootCmd()

	want := []string{"run", "list", "layout", "bench", "doctor"}
	for _, name := range want {
		found := false

		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}

		if !found {
			t.Errorf("expected subcommand %q not found in root", name)
		}
	}
}

func TestNewRootCmd_HasPersistentConfigFlag(t *testing.T) {
	root := NewRootCmd()
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("expected --config persistent flag to be registered")
	}

	if root.PersistentFlags().Lookup("threads") == nil {
		t.Error("expected config flags to be registered as persistent flags")
	}
}

func TestSetupLogger_DoesNotPanic(_ *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "not-a-level"} {
		setupLogger(level)
	}
}

func TestRequireConfig_FailsWhenNotInitialized(t *testing.T) {
	orig := activeCfg

	t.Cleanup(func() { activeCfg = orig })

	activeCfg = config.Config{}

	if _, err := requireConfig(); err == nil {
		t.Fatal("expected error when config is not loaded")
	}
}

func TestRoot_InvalidConfigRejected(t *testing.T) {
	_, err := execute(t, "list", "--engine=tpu", "--threads=-2")
	if err == nil {
		t.Fatal("expected validation error")
	}

	if got := len(multierr.Errors(err)); got != 2 {
		t.Errorf("want 2 validation errors, got %d: %v", got, err)
	}
}

func TestList(t *testing.T) {
	out, err := execute(t, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	for _, name := range tutorial.Names() {
		if !strings.Contains(out, name) {
			t.Errorf("list output missing %q:\n%s", name, out)
		}
	}
}

func TestRun_GettingStartedPasses(t *testing.T) {
	dump := t.TempDir()

	out, err := execute(t, "run", "getting-started", "--threads=2", "--dump-dir="+dump)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if !strings.Contains(out, "getting-started: Example passed on CPU.") {
		t.Errorf("unexpected output:\n%s", out)
	}

	if _, err := os.Stat(filepath.Join(dump, "getting-started.safetensors")); err != nil {
		t.Errorf("dump not written: %v", err)
	}
}

func TestRun_JSONReports(t *testing.T) {
	out, err := execute(t, "run", "int8-matmul", "--format=json")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, want := range []string{`"name": "int8-matmul"`, `"to": "s8::ba"`, `"checked": 101000`} {
		if !strings.Contains(out, want) {
			t.Errorf("json output missing %s:\n%s", want, out)
		}
	}
}

func TestRun_UnknownTutorial(t *testing.T) {
	if _, err := execute(t, "run", "nope"); err == nil {
		t.Fatal("expected error for unknown tutorial")
	}
}

func TestRun_GPUEngineFails(t *testing.T) {
	_, err := execute(t, "run", "getting-started", "--engine=gpu")
	if err == nil {
		t.Fatal("expected error for gpu engine")
	}

	if exitCode(err) != 1 {
		t.Errorf("exitCode = %d, want 1", exitCode(err))
	}
}

func TestExitCode(t *testing.T) {
	accuracy := fmt.Errorf("tutorial x: %w", tutorial.ErrAccuracyCheck)
	other := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"runtime", other, 1},
		{"accuracy", accuracy, 2},
		{"all accuracy", multierr.Combine(accuracy, accuracy), 2},
		{"mixed", multierr.Combine(accuracy, other), 1},
	}

	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("%s: exitCode = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestDoctor_Passes(t *testing.T) {
	out, err := execute(t, "doctor", "--dump-dir="+t.TempDir())
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}

	if !strings.Contains(out, "doctor checks passed") || !strings.Contains(out, "reorder probe") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestDoctor_RequiredFeatureMissing(t *testing.T) {
	_, err := execute(t, "doctor", "--skip-probe", "--require-feature=no-such-feature")
	if err == nil {
		t.Fatal("expected doctor to fail")
	}
}

func TestBench_JSON(t *testing.T) {
	out, err := execute(t, "bench", "getting-started", "--runs=2", "--format=json")
	if err != nil {
		t.Fatalf("bench: %v", err)
	}

	if strings.Count(out, `"tutorial": "getting-started"`) != 2 {
		t.Errorf("want 2 runs in output:\n%s", out)
	}
}

func TestBench_RejectsBadFlags(t *testing.T) {
	if _, err := execute(t, "bench", "--runs=0"); err == nil {
		t.Error("expected error for --runs=0")
	}

	if _, err := execute(t, "bench", "--format=xml"); err == nil {
		t.Error("expected error for --format=xml")
	}
}

func TestBench_MeanThresholdGate(t *testing.T) {
	_, err := execute(t, "bench", "int8-matmul", "--runs=1", "--max-mean-ms=0.000001")
	if err == nil || !strings.Contains(err.Error(), "exceeds threshold") {
		t.Fatalf("expected threshold error, got %v", err)
	}
}
