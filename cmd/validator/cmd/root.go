package cmd

import (
	"github.com/spf13/cobra"

	"github.com/psantana5/fold-orchestrator/pkg/config"
	"github.com/psantana5/fold-orchestrator/pkg/logging"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "validator",
	Short: "Folding validator",
	Long: `validator creates protein folding jobs, dispatches them to workers,
scores the returned structures and keeps per-worker reward scores.

Run "validator run" to start the scheduler together with the inspection API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// newLogger builds the process logger, writing to the log directory when
// logging.file is set
func newLogger(cfg *config.Config, subComponent string) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Logging.Level)
	if cfg.Logging.File {
		return logging.NewFileLogger("validator", subComponent, level, cfg.Logging.JSON)
	}
	return logging.NewLogger(level, cfg.Logging.JSON), nil
}
