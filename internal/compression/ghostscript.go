package compression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// partSuffix marks in-progress output next to the final path.
const partSuffix = ".part"

// GhostscriptOptions are the pdfwrite switches that do not vary per attempt.
type GhostscriptOptions struct {
	DownsampleColorImages   bool   `yaml:"downsample_color_images" json:"downsample_color_images"`
	DownsampleGrayImages    bool   `yaml:"downsample_gray_images" json:"downsample_gray_images"`
	DownsampleMonoImages    bool   `yaml:"downsample_mono_images" json:"downsample_mono_images"`
	DownsampleType          string `yaml:"downsample_type" json:"downsample_type"`
	DetectDuplicateImages   bool   `yaml:"detect_duplicate_images" json:"detect_duplicate_images"`
	CompressFonts           bool   `yaml:"compress_fonts" json:"compress_fonts"`
	SubsetFonts             bool   `yaml:"subset_fonts" json:"subset_fonts"`
	EmbedAllFonts           bool   `yaml:"embed_all_fonts" json:"embed_all_fonts"`
	AutoRotatePages         string `yaml:"auto_rotate_pages" json:"auto_rotate_pages"`
	ColorConversionStrategy string `yaml:"color_conversion_strategy" json:"color_conversion_strategy"`
	DoThumbnails            bool   `yaml:"do_thumbnails" json:"do_thumbnails"`
	CreateJobTicket         bool   `yaml:"create_job_ticket" json:"create_job_ticket"`
	PreserveEPSInfo         bool   `yaml:"preserve_eps_info" json:"preserve_eps_info"`
	PreserveOPIComments     bool   `yaml:"preserve_opi_comments" json:"preserve_opi_comments"`
}

// GhostscriptConfig selects the executable and the document-level pdfwrite settings.
type GhostscriptConfig struct {
	Executable         string             `yaml:"executable" json:"executable"`
	PDFSettings        string             `yaml:"pdf_settings" json:"pdf_settings"`
	CompatibilityLevel string             `yaml:"compatibility_level" json:"compatibility_level"`
	Options            GhostscriptOptions `yaml:"options" json:"options"`
}

// DefaultGhostscriptConfig returns the settings used when no configuration is given.
func DefaultGhostscriptConfig() GhostscriptConfig {
	return GhostscriptConfig{
		Executable:         "gs",
		PDFSettings:        "/screen",
		CompatibilityLevel: "1.4",
		Options: GhostscriptOptions{
			DownsampleColorImages:   true,
			DownsampleGrayImages:    true,
			DownsampleMonoImages:    true,
			DownsampleType:          "/Bicubic",
			DetectDuplicateImages:   true,
			CompressFonts:           true,
			SubsetFonts:             true,
			EmbedAllFonts:           true,
			AutoRotatePages:         "/None",
			ColorConversionStrategy: "/LeaveColorUnchanged",
		},
	}
}

// Ghostscript invokes the gs pdfwrite device once per attempt.
type Ghostscript struct {
	cfg    GhostscriptConfig
	runner Runner
	logger *slog.Logger
}

// NewGhostscript creates an invoker. A nil runner selects ExecRunner.
func NewGhostscript(logger *slog.Logger, cfg GhostscriptConfig, runner Runner) *Ghostscript {
	if cfg.Executable == "" {
		cfg.Executable = "gs"
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	return &Ghostscript{cfg: cfg, runner: runner, logger: logger}
}

// Executable returns the configured binary name or path.
func (g *Ghostscript) Executable() string {
	return g.cfg.Executable
}

// CheckAvailable reports a *ToolMissingError when the executable cannot be resolved.
func (g *Ghostscript) CheckAvailable() error {
	if _, err := exec.LookPath(g.cfg.Executable); err != nil {
		return g.toolMissing(err)
	}
	return nil
}

// BuildArgs returns the gs arguments for one attempt, without the executable itself.
func (g *Ghostscript) BuildArgs(inputPath, outputPath string, resolution, quality int) []string {
	opts := g.cfg.Options
	args := []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=" + g.cfg.CompatibilityLevel,
		"-dPDFSETTINGS=" + g.cfg.PDFSettings,
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
	}

	downsample := func(kind string) {
		args = append(args,
			fmt.Sprintf("-dDownsample%sImages=true", kind),
			fmt.Sprintf("-d%sImageResolution=%d", kind, resolution),
			fmt.Sprintf("-d%sImageDownsampleType=%s", kind, opts.DownsampleType),
		)
	}
	if opts.DownsampleColorImages {
		downsample("Color")
	}
	if opts.DownsampleGrayImages {
		downsample("Gray")
	}
	if opts.DownsampleMonoImages {
		downsample("Mono")
	}

	args = append(args, fmt.Sprintf("-dJPEGQ=%d", quality))

	if opts.DetectDuplicateImages {
		args = append(args, "-dDetectDuplicateImages=true")
	}
	if opts.CompressFonts {
		args = append(args, "-dCompressFonts=true")
	}
	if opts.SubsetFonts {
		args = append(args, "-dSubsetFonts=true")
	}
	if opts.EmbedAllFonts {
		args = append(args, "-dEmbedAllFonts=true")
	}

	args = append(args,
		"-dAutoRotatePages="+opts.AutoRotatePages,
		"-dColorConversionStrategy="+opts.ColorConversionStrategy,
	)

	if !opts.DoThumbnails {
		args = append(args, "-dDoThumbnails=false")
	}
	if !opts.CreateJobTicket {
		args = append(args, "-dCreateJobTicket=false")
	}
	if !opts.PreserveEPSInfo {
		args = append(args, "-dPreserveEPSInfo=false")
	}
	if !opts.PreserveOPIComments {
		args = append(args, "-dPreserveOPIComments=false")
	}

	return append(args, "-sOutputFile="+outputPath, inputPath)
}

// RunAttempt compresses inputPath into outputPath with one resolution/quality pair.
// outputPath is replaced only when Ghostscript succeeds.
func (g *Ghostscript) RunAttempt(ctx context.Context, inputPath, outputPath string, resolution, quality int) error {
	part := outputPath + partSuffix
	args := g.BuildArgs(inputPath, part, resolution, quality)

	g.logger.Info("compressing PDF", "dpi", resolution, "quality", quality)
	g.logger.Debug("ghostscript command", "cmd", g.cfg.Executable, "args", strings.Join(args, " "))

	_, stderr, err := g.runner.Run(ctx, g.cfg.Executable, args...)
	if err != nil {
		_ = os.Remove(part)
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return g.toolMissing(err)
		}
		return &AttemptError{
			Resolution: resolution,
			Quality:    quality,
			Message:    "ghostscript exited with an error",
			Stderr:     truncate(strings.TrimSpace(string(stderr)), maxStderr),
			Cause:      err,
		}
	}

	if _, err := os.Stat(part); err != nil {
		return &AttemptError{
			Resolution: resolution,
			Quality:    quality,
			Message:    "ghostscript produced no output",
			Cause:      err,
		}
	}
	if err := os.Rename(part, outputPath); err != nil {
		_ = os.Remove(part)
		return &AttemptError{
			Resolution: resolution,
			Quality:    quality,
			Message:    "failed to move output into place",
			Cause:      err,
		}
	}
	return nil
}

func (g *Ghostscript) toolMissing(cause error) *ToolMissingError {
	return &ToolMissingError{
		Executable: g.cfg.Executable,
		Message: fmt.Sprintf("Ghostscript not found at '%s'. Please install: sudo apt-get install ghostscript",
			g.cfg.Executable),
		Cause: cause,
	}
}
