package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/psantana5/fold-orchestrator/pkg/organic"
)

var organicCmd = &cobra.Command{
	Use:    "organic",
	Short:  "Run the organic intake process",
	Long:   `Serve the organic submission API and forward validated batches over file descriptor 3. Started by "validator run".`,
	Hidden: true,
	RunE:   runOrganic,
}

func init() {
	rootCmd.AddCommand(organicCmd)
}

func runOrganic(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, "organic")
	if err != nil {
		return err
	}
	defer logger.Close()

	out := os.NewFile(uintptr(organic.ChannelFD), "ipc")
	if out == nil {
		return errors.New("ipc channel descriptor is not open")
	}
	defer out.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return organic.RunIntake(ctx, cfg.Organic.Intake, out, logger.WithField("component", "intake"))
}
