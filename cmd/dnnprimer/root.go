package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-dnn-primer/internal/config"
	"github.com/example/go-dnn-primer/internal/engine"
	"github.com/example/go-dnn-primer/internal/tutorial"
)

var (
	cfgFile   string
	activeCfg config.Config
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "dnnprimer",
		Short:         "Tensor layout descriptors and reorder reconciliation, by example",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}

			if err := loaded.Validate(); err != nil {
				return err
			}

			activeCfg = loaded
			setupLogger(loaded.LogLevel)

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newLayoutCmd())
	cmd.AddCommand(newBenchCmd())
	cmd.AddCommand(newDoctorCmd())

	return cmd
}

// setupLogger configures the process-wide slog default logger.
func setupLogger(levelStr string) {
	lvl, err := config.ParseLogLevel(levelStr)
	if err != nil {
		lvl = slog.LevelInfo
	}

	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}

func requireConfig() (config.Config, error) {
	if activeCfg.Engine.Kind == "" {
		return config.Config{}, errors.New("configuration not loaded")
	}

	return activeCfg, nil
}

func newEngine(cfg config.Config) (*engine.Engine, error) {
	kind, err := engine.ParseKind(cfg.Engine.Kind)
	if err != nil {
		return nil, err
	}

	return engine.New(kind, 0, cfg.Engine.Threads)
}

// newEnv builds the engine, stream and tutorial environment from cfg.
func newEnv(cfg config.Config) (*tutorial.Env, error) {
	eng, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}

	logger := slog.Default()

	return &tutorial.Env{
		Engine:     eng,
		Stream:     engine.NewStream(eng, engine.StreamOptions{Logger: logger, Verbose: cfg.Engine.Verbose}),
		Logger:     logger,
		Seed:       cfg.Run.Seed,
		MatMulRuns: cfg.Run.MatMulRuns,
		DumpDir:    cfg.Run.DumpDir,
	}, nil
}

// selectTutorials resolves names, or every registered tutorial when none
// are given.
func selectTutorials(names []string) ([]tutorial.Tutorial, error) {
	if len(names) == 0 {
		return tutorial.All(), nil
	}

	out := make([]tutorial.Tutorial, 0, len(names))

	for _, name := range names {
		t, err := tutorial.Lookup(name)
		if err != nil {
			return nil, err
		}

		out = append(out, t)
	}

	return out, nil
}
