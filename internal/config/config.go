// Package config loads dnnprimer settings from defaults, flags, DNNPRIMER_*
// environment variables and an optional dnnprimer.{yaml,toml,json} file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/example/go-dnn-primer/internal/engine"
)

const envPrefix = "DNNPRIMER"

type Config struct {
	LogLevel string       `mapstructure:"log_level"`
	Engine   EngineConfig `mapstructure:"engine"`
	Run      RunConfig    `mapstructure:"run"`
}

type EngineConfig struct {
	Kind    string `mapstructure:"kind"`
	Threads int    `mapstructure:"threads"`
	Verbose bool   `mapstructure:"verbose"`
}

type RunConfig struct {
	Seed       uint64 `mapstructure:"seed"`
	MatMulRuns int    `mapstructure:"matmul_runs"`
	DumpDir    string `mapstructure:"dump_dir"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

// keys maps config keys to their flag names.
var keys = []struct{ key, flag string }{
	{"log_level", "log-level"},
	{"engine.kind", "engine"},
	{"engine.threads", "threads"},
	{"engine.verbose", "verbose"},
	{"run.seed", "seed"},
	{"run.matmul_runs", "matmul-runs"},
	{"run.dump_dir", "dump-dir"},
}

func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Engine: EngineConfig{
			Kind:    string(engine.CPU),
			Threads: 0,
			Verbose: false,
		},
		Run: RunConfig{
			Seed:       1,
			MatMulRuns: 1,
			DumpDir:    "",
		},
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
	fs.String("engine", defaults.Engine.Kind, "Engine kind (cpu|gpu)")
	fs.Int("threads", defaults.Engine.Threads, "Worker threads for kernels and the stream (0 = all CPUs)")
	fs.Bool("verbose", defaults.Engine.Verbose, "Log every executed primitive")
	fs.Uint64("seed", defaults.Run.Seed, "Seed for generated tutorial inputs")
	fs.Int("matmul-runs", defaults.Run.MatMulRuns, "Executions per problem size in the int8 matmul tutorial")
	fs.String("dump-dir", defaults.Run.DumpDir, "Directory for .safetensors dumps of tutorial buffers")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)

	if opts.Cmd != nil {
		fs := opts.Cmd.Flags()
		for _, k := range keys {
			if f := fs.Lookup(k.flag); f != nil {
				if err := v.BindPFlag(k.key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", k.flag, err)
				}
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("dnnprimer")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("engine.kind", c.Engine.Kind)
	v.SetDefault("engine.threads", c.Engine.Threads)
	v.SetDefault("engine.verbose", c.Engine.Verbose)
	v.SetDefault("run.seed", c.Run.Seed)
	v.SetDefault("run.matmul_runs", c.Run.MatMulRuns)
	v.SetDefault("run.dump_dir", c.Run.DumpDir)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs error

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = multierr.Append(errs, err)
	}

	if _, err := engine.ParseKind(c.Engine.Kind); err != nil {
		errs = multierr.Append(errs, err)
	}

	if c.Engine.Threads < 0 {
		errs = multierr.Append(errs, fmt.Errorf("engine.threads must be >= 0, got %d", c.Engine.Threads))
	}

	if c.Run.MatMulRuns < 1 {
		errs = multierr.Append(errs, fmt.Errorf("run.matmul_runs must be >= 1, got %d", c.Run.MatMulRuns))
	}

	if c.Run.DumpDir != "" {
		if info, err := os.Stat(c.Run.DumpDir); err == nil && !info.IsDir() {
			errs = multierr.Append(errs, fmt.Errorf("run.dump_dir %q is not a directory", c.Run.DumpDir))
		}
	}

	return errs
}

func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}
