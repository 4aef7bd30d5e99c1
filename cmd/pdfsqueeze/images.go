package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/jonathan/pdfsqueeze/internal/config"
	"github.com/jonathan/pdfsqueeze/internal/pipeline"
)

var imagesCmd = &cobra.Command{
	Use:   "images <image>...",
	Short: "Combine images into one PDF",
	Long: "Writes the images, in the order given, as pages of a single PDF. When the result is " +
		"larger than --target-mb it is compressed; if compression fails the uncompressed PDF is kept.",
	Args: cobra.MinimumNArgs(1),
	RunE: runImages,
}

var (
	imagesOutput     string
	imagesTargetMB   float64
	imagesNoCompress bool
)

func init() {
	imagesCmd.Flags().StringVarP(&imagesOutput, "out", "o", "output.pdf", "Output PDF path")
	imagesCmd.Flags().Float64VarP(&imagesTargetMB, "target-mb", "t", 0, "Target size in MB (default from config)")
	imagesCmd.Flags().BoolVar(&imagesNoCompress, "no-compress", false, "Skip compression of the assembled PDF")

	rootCmd.AddCommand(imagesCmd)
}

func runImages(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	req := cfg.DefaultRequest("output")
	applyRequestFlags(cmd, &req, imagesTargetMB, 0, 0)
	if imagesNoCompress {
		req.AutoCompress = false
	}
	if err := req.Validate(); err != nil {
		return err
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

	job, err := run.store.Create("images")
	if err != nil {
		return err
	}
	err = run.runner.RunImages(ctx, pipeline.ImagesJob{
		ID:         job.ID,
		ImagePaths: args,
		OutputPath: imagesOutput,
		Request:    req,
	})
	return run.finish(job.ID, imagesOutput, err)
}
