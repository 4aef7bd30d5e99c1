// Package assembly combines images into a single PDF, one page per image.
package assembly

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	// Decoders for the re-encode path.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/go-pdf/fpdf"
)

const (
	// pageDPI maps image pixels to page points.
	pageDPI = 100.0
	// fallbackJPEGQuality is used when an image has to be re-encoded.
	fallbackJPEGQuality = 95
	partSuffix          = ".part"
)

// DefaultExtensions are the image types accepted when none are configured.
var DefaultExtensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".tiff", ".tif", ".webp"}

// embeddable maps extensions whose bytes fpdf can embed as-is to the fpdf image type.
var embeddable = map[string]string{
	".jpg":  "JPG",
	".jpeg": "JPG",
	".png":  "PNG",
	".gif":  "GIF",
}

// Result describes an assembled document.
type Result struct {
	OutputPath string
	Pages      int
	Size       int64
}

// Assembler writes image sequences to PDF.
type Assembler struct {
	allowed map[string]bool
	logger  *slog.Logger
}

// New creates an assembler accepting the given extensions. Empty selects DefaultExtensions.
func New(logger *slog.Logger, extensions []string) *Assembler {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		allowed[normalizeExt(ext)] = true
	}
	return &Assembler{allowed: allowed, logger: logger}
}

// Supported reports whether name has an accepted extension.
func (a *Assembler) Supported(name string) bool {
	return a.allowed[normalizeExt(filepath.Ext(name))]
}

// Assemble writes one page per image, in order, to outputPath.
// On error no file is left at outputPath.
func (a *Assembler) Assemble(ctx context.Context, imagePaths []string, outputPath string) (*Result, error) {
	if len(imagePaths) == 0 {
		return nil, ErrNoImages
	}
	for _, p := range imagePaths {
		if err := a.check(p); err != nil {
			return nil, err
		}
	}

	a.logger.Info("converting images to PDF", "count", len(imagePaths))

	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)

	for i, p := range imagePaths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a.logger.Debug("processing image", "index", i+1, "of", len(imagePaths), "path", p)
		if err := a.addPage(pdf, i, p); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	part := outputPath + partSuffix
	if err := pdf.OutputFileAndClose(part); err != nil {
		_ = os.Remove(part)
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	if err := os.Rename(part, outputPath); err != nil {
		_ = os.Remove(part)
		return nil, fmt.Errorf("failed to move PDF into place: %w", err)
	}

	st, err := os.Stat(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat PDF: %w", err)
	}
	a.logger.Info("PDF created", "pages", len(imagePaths), "size_bytes", st.Size())
	return &Result{OutputPath: outputPath, Pages: len(imagePaths), Size: st.Size()}, nil
}

func (a *Assembler) check(path string) error {
	name := filepath.Base(path)
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return &ItemError{Name: name, Kind: KindNotFound, Cause: err}
	}
	if !a.Supported(path) {
		return &ItemError{Name: name, Kind: KindUnsupported}
	}
	return nil
}

// addPage embeds the original bytes when fpdf understands the format and falls back to a
// decode, flatten and JPEG re-encode otherwise.
func (a *Assembler) addPage(pdf *fpdf.Fpdf, index int, path string) error {
	name := filepath.Base(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return &ItemError{Name: name, Kind: KindNotFound, Cause: err}
	}

	ext := normalizeExt(filepath.Ext(path))
	if imgType, ok := embeddable[ext]; ok {
		err := embed(pdf, fmt.Sprintf("img%d", index), imgType, data)
		if err == nil {
			return nil
		}
		a.logger.Warn("direct embedding failed, re-encoding", "image", name, "error", err)
	}

	encoded, err := reencode(data)
	if err != nil {
		kind := KindCorrupt
		if errors.Is(err, image.ErrFormat) {
			kind = KindUnsupported
		}
		return &ItemError{Name: name, Kind: kind, Cause: err}
	}
	if err := embed(pdf, fmt.Sprintf("img%d-jpeg", index), "JPG", encoded); err != nil {
		return &ItemError{Name: name, Kind: KindCorrupt, Cause: err}
	}
	return nil
}

// embed adds a page sized to the image at pageDPI. A failure clears the document error so the
// next strategy can run.
func embed(pdf *fpdf.Fpdf, name, imgType string, data []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("invalid image dimensions %dx%d", cfg.Width, cfg.Height)
	}

	opts := fpdf.ImageOptions{ImageType: imgType}
	pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))
	if err := pdf.Error(); err != nil {
		pdf.ClearError()
		return err
	}

	w := float64(cfg.Width) * 72 / pageDPI
	h := float64(cfg.Height) * 72 / pageDPI
	pdf.AddPageFormat("P", fpdf.SizeType{Wd: w, Ht: h})
	pdf.ImageOptions(name, 0, 0, w, h, false, opts, 0, "")
	if err := pdf.Error(); err != nil {
		pdf.ClearError()
		return err
	}
	return nil
}

// reencode decodes any registered format, flattens it onto white and returns JPEG bytes.
func reencode(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: fallbackJPEGQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
