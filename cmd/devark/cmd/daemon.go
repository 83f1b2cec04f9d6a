package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/devark/internal/worker"
	"github.com/thebtf/devark/pkg/hooks"
)

const shutdownTimeout = 10 * time.Second

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the devark worker in the foreground",
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if hooks.IsWorkerRunning(cfg.WorkerPort) {
		fmt.Fprintf(cmd.OutOrStdout(), "devark worker already running on port %d\n", cfg.WorkerPort)
		return nil
	}

	svc, err := worker.New(Version, cfg)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := svc.Start(); err != nil {
		_ = svc.Shutdown(context.Background())
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return svc.Shutdown(shutdownCtx)
}
