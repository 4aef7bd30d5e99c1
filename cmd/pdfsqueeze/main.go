// Package main provides the entry point for the pdfsqueeze server and CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonathan/pdfsqueeze/internal/assembly"
	"github.com/jonathan/pdfsqueeze/internal/compression"
	"github.com/jonathan/pdfsqueeze/internal/config"
	"github.com/jonathan/pdfsqueeze/internal/jobs"
	"github.com/jonathan/pdfsqueeze/internal/logging"
	"github.com/jonathan/pdfsqueeze/internal/observability"
	"github.com/jonathan/pdfsqueeze/internal/pipeline"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "pdfsqueeze",
	Short: "PDF compression and image to PDF conversion",
	Long: "pdfsqueeze shrinks PDFs to a target size by running Ghostscript with progressively " +
		"more aggressive settings, and turns images into a single PDF. Run it as an HTTP API " +
		"with 'serve' or use the local commands directly.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ./config.yml when present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print progress and debug logs")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cliLogger returns the logger for local commands. Without --verbose only errors are shown
// so the printed report stays readable.
func cliLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	lc := cfg.Logging
	if verbose {
		lc.Level = "debug"
	} else {
		lc.Level = "error"
	}
	return logging.New(lc)
}

// localRun wires a store and runner for a single job executed in-process.
type localRun struct {
	store   *jobs.Store
	runner  *pipeline.Runner
	printer *observability.Printer
	cleanup func()
}

func newLocalRun(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) (*localRun, error) {
	dir, err := os.MkdirTemp("", "pdfsqueeze-cli-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	ws, err := jobs.NewWorkspace(dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	printer := observability.NewPrinter(out)
	store := jobs.NewStore(logger, ws)
	gs := compression.NewGhostscript(logger, cfg.Ghostscript, nil)

	opts := pipeline.Options{
		Store:         store,
		Searcher:      compression.NewEngine(logger, gs),
		Assembler:     assembly.New(logger, cfg.Upload.AllowedImageTypes),
		Pages:         gs,
		Ladder:        cfg.Ladder(),
		MaxAttempts:   cfg.Compression.MaxAttempts,
		MaxConcurrent: 1,
		Logger:        logger,
	}
	if verbose {
		opts.OnProgress = func(e pipeline.ProgressEvent) {
			printer.PrintProgress(e.Progress, e.Message)
		}
	}

	return &localRun{
		store:   store,
		runner:  pipeline.New(ctx, opts),
		printer: printer,
		cleanup: func() { os.RemoveAll(dir) },
	}, nil
}

// finish prints the job outcome and returns err unchanged.
func (l *localRun) finish(id, outputPath string, err error) error {
	if err != nil {
		l.printer.PrintFailure(pipeline.ErrorCode(err), err.Error())
		return err
	}
	job, ok := l.store.Get(id)
	if !ok {
		return fmt.Errorf("job %s disappeared", id)
	}
	l.printer.PrintReport(job.Result, outputPath)
	return nil
}
