package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hivematrix/helm/pkg/log"
	"github.com/hivematrix/helm/pkg/metrics"
	"github.com/hivematrix/helm/pkg/orchestrator"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator",
	Long: `Run the orchestrator in the foreground: reconcile the catalog,
adopt services left running by a previous instance, and serve the
control API until interrupted.

Managed services stay up across orchestrator restarts unless
--stop-services is given.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "Control API bind address (overrides helm.yaml)")
	serveCmd.Flags().Bool("log-json", false, "Emit JSON logs instead of console output")
	serveCmd.Flags().Bool("stop-services", false, "Stop managed services on shutdown")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		rt.ListenAddr = listen
	}

	jsonLogs, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.LevelFromEnv(rt.LogLevel),
		JSONOutput: jsonLogs,
		Output:     os.Stderr,
	})
	metrics.SetVersion(Version)

	o, err := orchestrator.New(orchestrator.Config{Runtime: rt, Logger: log.Logger})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := o.Start(ctx); err != nil {
		return fmt.Errorf("starting orchestrator: %w", err)
	}

	err = o.Wait(ctx)
	stop()

	stopServices, _ := cmd.Flags().GetBool("stop-services")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := o.Shutdown(shutdownCtx, stopServices); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	return err
}
