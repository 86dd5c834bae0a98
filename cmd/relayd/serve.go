package main

import (
	"context"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/internal/app"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/logger"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/shutdown"
)

const shutdownTimeout = 20 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay tracker and its HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, source, err := loadConfig(cmd)
	if err != nil {
		shutdown.Abort("invalid configuration", err)
	}

	// initialize logger after config is fully loaded
	logger.Init(cfg.Logging.Level)
	defer logger.Sync()
	logger.Info("effective_config_loaded", "source", source, "addr", cfg.Addr())

	numCPU := runtime.NumCPU()
	logger.Info("system_logical_cores", "logical_cores", numCPU)
	if maxWorkers := numCPU * 2; cfg.Ingest.Workers > maxWorkers {
		logger.Warn("worker_count_capped", "requested", cfg.Ingest.Workers, "capped_to", maxWorkers)
		cfg.Ingest.Workers = maxWorkers
	}

	a, err := app.New(cfg, source, versionString())
	if err != nil {
		shutdown.Abort("failed to initialize app", err)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	runErr := a.Run(ctx)

	// bounded so teardown cannot hang forever
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	_ = a.Shutdown(shutdownCtx)

	if runErr != nil {
		logger.Error("app_run_failed", "error", runErr)
		return runErr
	}
	return nil
}
