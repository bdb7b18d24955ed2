package commands

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cewlabs/cew/internal/api"
	"github.com/cewlabs/cew/internal/backend"
	"github.com/cewlabs/cew/internal/orchestrator"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the lab orchestrator and its HTTP facade",
	RunE:  runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	be := backend.New(cfg.Backend)
	defer be.Close()

	if cfg.Backend.SweepOrphans {
		n, err := be.SweepOrphans(cmd.Context())
		if err != nil {
			log.Printf("Orphan sweep failed: %v", err)
		} else if n > 0 {
			log.Printf("Orphan sweep removed %d leftover resources", n)
		}
	}

	orch := orchestrator.New(cfg, be)
	server := api.New(cfg, orch)

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Println("Shutdown signal received, stopping all labs")

		// The kill-switch is the teardown guarantee: no lab survives the
		// process.
		stopped := orch.KillAll(context.Background(), "shutdown")
		log.Printf("Stopped %d labs", len(stopped))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil

	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}
