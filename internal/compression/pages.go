package compression

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// psString quotes path as a PostScript string literal.
func psString(path string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return "(" + r.Replace(path) + ")"
}

// pageCountArgs keeps Ghostscript in SAFER mode and opens read access to path only.
func pageCountArgs(path, script string) []string {
	return []string{"-q", "-dNODISPLAY", "-dSAFER", "--permit-file-read=" + path, "-c", script}
}

// PageCount asks Ghostscript how many pages the PDF at path has.
func (g *Ghostscript) PageCount(ctx context.Context, path string) (int, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, &SourceMissingError{Path: path, Cause: err}
	}

	script := fmt.Sprintf("%s (r) file runpdfbegin pdfpagecount = quit", psString(path))
	stdout, stderr, err := g.runner.Run(ctx, g.cfg.Executable, pageCountArgs(path, script)...)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return 0, g.toolMissing(err)
		}
		return 0, fmt.Errorf("ghostscript page count failed: %w: %s",
			err, truncate(strings.TrimSpace(string(stderr)), maxStderr))
	}

	out := strings.TrimSpace(string(stdout))
	count, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("could not parse page count from ghostscript output: %q", out)
	}
	return count, nil
}
