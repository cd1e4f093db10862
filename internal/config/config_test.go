package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"
)

// fakeBinder wraps a pflag.FlagSet to satisfy the flagBinder interface.
type fakeBinder struct {
	fs *pflag.FlagSet
}

func (f *fakeBinder) Flags() *pflag.FlagSet { return f.fs }

func newFlagBinder(t *testing.T, defaults Config, args ...string) *fakeBinder {
	t.Helper()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse(%v): %v", args, err)
	}

	return &fakeBinder{fs: fs}
}

// Load looks for ./dnnprimer.* when no file is given; keep tests hermetic.
func chdirTemp(t *testing.T) {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}

	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir: %v", err)
	}

	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q; want info", cfg.LogLevel)
	}

	if cfg.Engine.Kind != "cpu" {
		t.Errorf("Engine.Kind = %q; want cpu", cfg.Engine.Kind)
	}

	if cfg.Run.MatMulRuns != 1 || cfg.Run.Seed != 1 {
		t.Errorf("Run = %+v; want seed 1, matmul_runs 1", cfg.Run)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestRegisterFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, DefaultConfig())

	for _, k := range keys {
		if fs.Lookup(k.flag) == nil {
			t.Errorf("flag %q for key %s not registered", k.flag, k.key)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{Cmd: newFlagBinder(t, defaults), Defaults: defaults})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg != defaults {
		t.Fatalf("Load() = %+v; want %+v", cfg, defaults)
	}
}

func TestLoad_FlagOverride(t *testing.T) {
	chdirTemp(t)

	defaults := DefaultConfig()
	binder := newFlagBinder(t, defaults, "--threads=3", "--verbose", "--log-level=debug", "--seed=42", "--matmul-runs=5")

	cfg, err := Load(LoadOptions{Cmd: binder, Defaults: defaults})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.Threads != 3 || !cfg.Engine.Verbose {
		t.Errorf("Engine = %+v; want threads 3, verbose", cfg.Engine)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q; want debug", cfg.LogLevel)
	}

	if cfg.Run.Seed != 42 || cfg.Run.MatMulRuns != 5 {
		t.Errorf("Run = %+v; want seed 42, matmul_runs 5", cfg.Run)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	chdirTemp(t)
	t.Setenv("DNNPRIMER_LOG_LEVEL", "warn")
	t.Setenv("DNNPRIMER_ENGINE_THREADS", "6")
	t.Setenv("DNNPRIMER_RUN_DUMP_DIR", "/tmp/dumps")

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q; want warn", cfg.LogLevel)
	}

	if cfg.Engine.Threads != 6 {
		t.Errorf("Engine.Threads = %d; want 6", cfg.Engine.Threads)
	}

	if cfg.Run.DumpDir != "/tmp/dumps" {
		t.Errorf("Run.DumpDir = %q; want /tmp/dumps", cfg.Run.DumpDir)
	}
}

func TestLoad_ConfigFileBelowFlags(t *testing.T) {
	chdirTemp(t)

	cfgFile := filepath.Join(t.TempDir(), "dnnprimer.yaml")
	content := `
log_level: error
engine:
  threads: 2
run:
  matmul_runs: 9
`

	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:        newFlagBinder(t, defaults, "--threads=8"),
		ConfigFile: cfgFile,
		Defaults:   defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q; want error from file", cfg.LogLevel)
	}

	if cfg.Run.MatMulRuns != 9 {
		t.Errorf("Run.MatMulRuns = %d; want 9 from file", cfg.Run.MatMulRuns)
	}

	if cfg.Engine.Threads != 8 {
		t.Errorf("Engine.Threads = %d; want 8 from flag", cfg.Engine.Threads)
	}
}

func TestLoad_ImplicitConfigFile(t *testing.T) {
	chdirTemp(t)

	if err := os.WriteFile("dnnprimer.toml", []byte("[engine]\nverbose = true\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.Engine.Verbose {
		t.Error("Engine.Verbose = false; want true from ./dnnprimer.toml")
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "dnnprimer.yaml")

	if err := os.WriteFile(cfgFile, []byte(":\t:bad yaml:::"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(LoadOptions{ConfigFile: cfgFile, Defaults: DefaultConfig()}); err == nil {
		t.Fatal("Load() expected error for invalid YAML")
	}
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	_, err := Load(LoadOptions{ConfigFile: "/nonexistent/path/dnnprimer.yaml", Defaults: DefaultConfig()})
	if err == nil {
		t.Fatal("Load() expected error for missing explicit config file")
	}
}

func TestValidateAggregates(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg := Config{
		LogLevel: "loud",
		Engine:   EngineConfig{Kind: "tpu", Threads: -1},
		Run:      RunConfig{MatMulRuns: 0, DumpDir: file},
	}

	errs := multierr.Errors(cfg.Validate())
	if len(errs) != 5 {
		t.Fatalf("Validate() returned %d errors, want 5: %v", len(errs), errs)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, %v; want %v, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
