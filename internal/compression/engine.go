package compression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jonathan/pdfsqueeze/internal/types"
)

// Invoker runs one compression attempt. *Ghostscript is the production implementation.
type Invoker interface {
	RunAttempt(ctx context.Context, inputPath, outputPath string, resolution, quality int) error
}

// AttemptFunc observes the ladder position right before an attempt runs.
// index is zero based and total is the number of attempts that will be tried at most.
type AttemptFunc func(index, total int, attempt types.Attempt)

// SearchRequest describes one size-targeting search.
type SearchRequest struct {
	InputPath  string
	OutputPath string
	// TargetSize is the size limit in bytes.
	TargetSize int64
	// Ladder is tried in order. Empty selects types.DefaultLadder.
	Ladder types.Ladder
	// MaxAttempts caps the number of entries tried. Non-positive means the whole ladder.
	MaxAttempts int
	OnAttempt   AttemptFunc
}

// Engine walks a quality ladder from gentle to aggressive and stops at the first output that
// fits the target.
type Engine struct {
	invoker Invoker
	logger  *slog.Logger
}

// NewEngine creates an engine around an invoker.
func NewEngine(logger *slog.Logger, invoker Invoker) *Engine {
	return &Engine{invoker: invoker, logger: logger}
}

// Search runs the ladder. An unreachable target is not an error: the result then carries the
// most aggressive successful attempt with TargetReached false.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*types.SearchResult, error) {
	initial, err := sourceSize(req.InputPath)
	if err != nil {
		return nil, err
	}

	ladder := req.Ladder
	if len(ladder) == 0 {
		ladder = types.DefaultLadder()
	}
	ladder = ladder.Limit(req.MaxAttempts)
	total := len(ladder)

	e.logger.Info("starting compression",
		"initial_mb", types.BytesToMB(initial),
		"target_mb", types.BytesToMB(req.TargetSize),
		"attempts", total,
	)

	var (
		best     types.Attempt
		haveBest bool
		lastErr  error
		runs     int
	)
	for i, attempt := range ladder {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("compression cancelled: %w", err)
		}
		if req.OnAttempt != nil {
			req.OnAttempt(i, total, attempt)
		}

		e.logger.Info("compression attempt",
			"attempt", i+1, "of", total,
			"dpi", attempt.Resolution, "quality", attempt.Quality, "description", attempt.Label)
		runs++

		if err := e.invoker.RunAttempt(ctx, req.InputPath, req.OutputPath, attempt.Resolution, attempt.Quality); err != nil {
			var missing *ToolMissingError
			if errors.As(err, &missing) {
				return nil, err
			}
			e.logger.Warn("compression attempt failed", "attempt", i+1, "error", err)
			lastErr = err
			continue
		}

		size, err := fileSize(req.OutputPath)
		if err != nil {
			e.logger.Warn("compression output missing", "attempt", i+1, "error", err)
			lastErr = err
			continue
		}
		e.logger.Info("compression attempt result", "attempt", i+1, "size_mb", types.BytesToMB(size))

		if size <= req.TargetSize {
			e.logger.Info("target size reached", "description", attempt.Label)
			return newResult(initial, size, attempt, true, runs, req.OutputPath), nil
		}
		best, haveBest = attempt, true
	}

	if !haveBest {
		if lastErr == nil {
			return nil, ErrNoSuccessfulAttempt
		}
		return nil, fmt.Errorf("%w: %w", ErrNoSuccessfulAttempt, lastErr)
	}

	final, err := fileSize(req.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoSuccessfulAttempt, err)
	}
	e.logger.Warn("could not reach target size",
		"final_mb", types.BytesToMB(final), "target_mb", types.BytesToMB(req.TargetSize))
	return newResult(initial, final, best, final <= req.TargetSize, runs, req.OutputPath), nil
}

// Single runs exactly one caller-chosen attempt.
func (e *Engine) Single(ctx context.Context, inputPath, outputPath string, attempt types.Attempt, target int64) (*types.SearchResult, error) {
	initial, err := sourceSize(inputPath)
	if err != nil {
		return nil, err
	}
	if err := e.invoker.RunAttempt(ctx, inputPath, outputPath, attempt.Resolution, attempt.Quality); err != nil {
		var missing *ToolMissingError
		if errors.As(err, &missing) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrNoSuccessfulAttempt, err)
	}
	final, err := fileSize(outputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoSuccessfulAttempt, err)
	}
	return newResult(initial, final, attempt, final <= target, 1, outputPath), nil
}

func newResult(initial, final int64, attempt types.Attempt, reached bool, runs int, out string) *types.SearchResult {
	return &types.SearchResult{
		InitialSize:      initial,
		FinalSize:        final,
		ReductionPercent: types.ReductionPercent(initial, final),
		Attempt:          attempt,
		TargetReached:    reached,
		AttemptsRun:      runs,
		OutputPath:       out,
	}
}

func sourceSize(path string) (int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, &SourceMissingError{Path: path, Cause: err}
	}
	if st.IsDir() {
		return 0, &SourceMissingError{Path: path}
	}
	return st.Size(), nil
}

func fileSize(path string) (int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}
