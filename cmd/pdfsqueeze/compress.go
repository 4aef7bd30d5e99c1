package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/pdfsqueeze/internal/config"
	"github.com/jonathan/pdfsqueeze/internal/pipeline"
	"github.com/jonathan/pdfsqueeze/internal/types"
)

var compressCmd = &cobra.Command{
	Use:   "compress <input.pdf>",
	Short: "Compress a PDF locally",
	Long: "Compresses a PDF with Ghostscript. By default the compression ladder is walked until " +
		"the output fits --target-mb; with --manual a single pass uses --dpi and --quality.",
	Args: cobra.ExactArgs(1),
	RunE: runCompress,
}

var (
	compressOutput   string
	compressTargetMB float64
	compressDPI      int
	compressQuality  int
	compressManual   bool
)

func init() {
	compressCmd.Flags().StringVarP(&compressOutput, "out", "o", "", "Output PDF path (default: <input>_compressed.pdf)")
	compressCmd.Flags().Float64VarP(&compressTargetMB, "target-mb", "t", 0, "Target size in MB (default from config)")
	compressCmd.Flags().IntVar(&compressDPI, "dpi", 0, "Image resolution for --manual (default from config)")
	compressCmd.Flags().IntVar(&compressQuality, "quality", 0, "JPEG quality for --manual (default from config)")
	compressCmd.Flags().BoolVar(&compressManual, "manual", false, "Run one pass with --dpi and --quality instead of searching")

	rootCmd.AddCommand(compressCmd)
}

func runCompress(cmd *cobra.Command, args []string) error {
	input := args[0]
	if !strings.EqualFold(filepath.Ext(input), ".pdf") {
		return fmt.Errorf("input must be a .pdf file: %s", input)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	req := cfg.DefaultRequest(strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)))
	applyRequestFlags(cmd, &req, compressTargetMB, compressDPI, compressQuality)
	req.AutoCompress = !compressManual
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}

	output := compressOutput
	if output == "" {
		output = strings.TrimSuffix(input, filepath.Ext(input)) + "_compressed.pdf"
	}

	logger, closer, err := cliLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	run, err := newLocalRun(ctx, cfg, logger, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer run.cleanup()

	job, err := run.store.Create(filepath.Base(input))
	if err != nil {
		return err
	}
	err = run.runner.RunPDF(ctx, pipeline.PDFJob{
		ID:         job.ID,
		InputPath:  input,
		OutputPath: output,
		Request:    req,
	})
	return run.finish(job.ID, output, err)
}

// applyRequestFlags overrides request defaults with the flags the user set. Flags a
// command does not define are never reported as changed.
func applyRequestFlags(cmd *cobra.Command, req *types.CompressRequest, targetMB float64, dpi, quality int) {
	flags := cmd.Flags()
	if flags.Changed("target-mb") {
		req.TargetSizeMB = targetMB
	}
	if flags.Changed("dpi") {
		req.Resolution = dpi
	}
	if flags.Changed("quality") {
		req.Quality = quality
	}
}
