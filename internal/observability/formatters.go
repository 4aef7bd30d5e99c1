// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/pdfsqueeze/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of ladder entries to display
	maxItemsToShow = 12
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// outcomeLabel describes an outcome kind for humans.
func outcomeLabel(kind types.OutcomeKind) string {
	switch kind {
	case types.OutcomeTargetReached:
		return "target reached"
	case types.OutcomeBestEffort:
		return "best effort (target not reached)"
	case types.OutcomeCustom:
		return "custom settings"
	case types.OutcomeUncompressed:
		return "uncompressed"
	default:
		return string(kind)
	}
}

// PrintReport outputs the summary of a finished compression or conversion.
func (p *Printer) PrintReport(report *types.CompressionReport, outputPath string) {
	if report == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Outcome:     %s\n", outcomeLabel(report.Kind)))
	sb.WriteString(fmt.Sprintf("Original:    %.2f MB\n", report.OriginalSizeMB))
	sb.WriteString(fmt.Sprintf("Compressed:  %.2f MB\n", report.CompressedSizeMB))
	sb.WriteString(fmt.Sprintf("Reduction:   %.1f%%\n", report.ReductionPercent))
	if report.ConfigUsed != nil {
		c := report.ConfigUsed
		sb.WriteString(fmt.Sprintf("Settings:    %s (%d DPI, quality %d)\n", c.Label, c.Resolution, c.Quality))
	}
	if report.Pages > 0 {
		sb.WriteString(fmt.Sprintf("Pages:       %d\n", report.Pages))
	}
	if outputPath != "" {
		sb.WriteString(fmt.Sprintf("Output:      %s\n", outputPath))
	}

	p.printBox("COMPRESSION RESULT", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintLadder outputs the search ladder, marking entries beyond maxAttempts as skipped.
func (p *Printer) PrintLadder(ladder types.Ladder, maxAttempts int) {
	if len(ladder) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d steps, mild to aggressive:\n\n", len(ladder)))

	count := min(len(ladder), maxItemsToShow)
	for i := 0; i < count; i++ {
		a := ladder[i]
		line := fmt.Sprintf("%2d. %3d DPI  q%-3d  %s", i+1, a.Resolution, a.Quality, a.Label)
		if maxAttempts > 0 && i >= maxAttempts {
			line += " (skipped)"
		}
		sb.WriteString(line + "\n")
	}
	if len(ladder) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("... and %d more\n", len(ladder)-maxItemsToShow))
	}

	p.printBox("COMPRESSION LADDER", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintPresets outputs the configured presets.
func (p *Printer) PrintPresets(presets []types.Preset) {
	if len(presets) == 0 {
		return
	}

	var sb strings.Builder
	for i, preset := range presets {
		sb.WriteString(fmt.Sprintf("%s (%s)\n", preset.Label, preset.Name))
		sb.WriteString(fmt.Sprintf("  %d DPI, quality %d\n", preset.Resolution, preset.Quality))
		if preset.Description != "" {
			sb.WriteString(fmt.Sprintf("  %s\n", preset.Description))
		}
		if i < len(presets)-1 {
			sb.WriteString("\n")
		}
	}

	p.printBox("PRESETS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintProgress outputs a single progress line.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintProgress(progress int, message string) {
	if message == "" {
		return
	}
	fmt.Fprintf(p.out, "[%3d%%] %s\n", progress, message)
}

// PrintFailure outputs a failed job with its code.
func (p *Printer) PrintFailure(code, message string) {
	p.printBox("FAILED", fmt.Sprintf("Code:    %s\nReason:  %s", code, message))
}
