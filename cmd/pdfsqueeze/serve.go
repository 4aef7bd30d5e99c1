package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/pdfsqueeze/internal/assembly"
	"github.com/jonathan/pdfsqueeze/internal/compression"
	"github.com/jonathan/pdfsqueeze/internal/config"
	"github.com/jonathan/pdfsqueeze/internal/jobs"
	"github.com/jonathan/pdfsqueeze/internal/logging"
	"github.com/jonathan/pdfsqueeze/internal/pipeline"
	"github.com/jonathan/pdfsqueeze/internal/server"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that accepts PDF and image uploads and runs compression jobs in the background.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Address to bind (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ws, err := jobs.NewWorkspace(cfg.Upload.TempDirectory)
	if err != nil {
		return err
	}
	store := jobs.NewStore(logger, ws)

	gs := compression.NewGhostscript(logger, cfg.Ghostscript, nil)
	if err := gs.CheckAvailable(); err != nil {
		// Uploads are still accepted; their jobs fail with TOOL_MISSING.
		logger.Warn("ghostscript unavailable", "error", err)
	}

	jobCtx, cancelJobs := jobContext(ctx)
	defer cancelJobs()

	runner := pipeline.New(jobCtx, pipeline.Options{
		Store:         store,
		Searcher:      compression.NewEngine(logger, gs),
		Assembler:     assembly.New(logger, cfg.Upload.AllowedImageTypes),
		Pages:         gs,
		Ladder:        cfg.Ladder(),
		MaxAttempts:   cfg.Compression.MaxAttempts,
		MaxConcurrent: cfg.Server.MaxConcurrentJobs,
		Logger:        logger,
	})

	srv, err := server.New(server.Options{
		Config: cfg,
		Store:  store,
		Runner: runner,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info("starting", "app", cfg.App.Name, "version", cfg.App.Version, "workspace", ws.Root())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	if cfg.Cleanup.Enabled {
		sweeper := jobs.NewSweeper(logger, store, cfg.CleanupInterval(), cfg.CleanupMaxAge())
		g.Go(func() error {
			return sweeper.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// jobContext keeps running jobs alive through the shutdown signal. The returned cancel
// stops whatever is still running once the shutdown wait has ended.
func jobContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(context.WithoutCancel(ctx))
}
