// Package pipeline runs compression and image conversion jobs end to end and mirrors their
// progress into the job store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/jonathan/pdfsqueeze/internal/assembly"
	"github.com/jonathan/pdfsqueeze/internal/compression"
	"github.com/jonathan/pdfsqueeze/internal/jobs"
	"github.com/jonathan/pdfsqueeze/internal/types"
)

// Progress checkpoints reported to the job store.
const (
	progressStart          = 10
	progressAssembling     = 20
	progressAssembled      = 50
	progressSearchImages   = 60
	progressSearchCeiling  = 95
	progressComplete       = 100
	defaultMaxConcurrent   = 4
	intermediateNameSuffix = "_temp.pdf"
)

// ProgressEvent represents a progress update during job execution
type ProgressEvent struct {
	JobID    string          `json:"job_id"`
	Status   types.JobStatus `json:"status"`
	Progress int             `json:"progress"`
	Message  string          `json:"message"`
}

// ProgressCallback is called after every store update made by the runner
type ProgressCallback func(event ProgressEvent)

// Searcher is the size-targeting search used by the runner. *compression.Engine implements it.
type Searcher interface {
	Search(ctx context.Context, req compression.SearchRequest) (*types.SearchResult, error)
	Single(ctx context.Context, inputPath, outputPath string, attempt types.Attempt, target int64) (*types.SearchResult, error)
}

// Assembler turns images into one PDF. *assembly.Assembler implements it.
type Assembler interface {
	Assemble(ctx context.Context, imagePaths []string, outputPath string) (*assembly.Result, error)
}

// PageCounter reports the page count of a PDF. *compression.Ghostscript implements it.
type PageCounter interface {
	PageCount(ctx context.Context, path string) (int, error)
}

// Options holds the collaborators and limits of a Runner
type Options struct {
	Store     *jobs.Store
	Searcher  Searcher
	Assembler Assembler
	// Pages, when set, fills the page count of compressed PDFs.
	Pages         PageCounter
	Ladder        types.Ladder
	MaxAttempts   int
	MaxConcurrent int
	Logger        *slog.Logger
	OnProgress    ProgressCallback
}

// PDFJob compresses one uploaded PDF.
type PDFJob struct {
	ID         string
	InputPath  string
	OutputPath string
	Request    types.CompressRequest
}

// ImagesJob converts uploaded images into a PDF and optionally compresses it.
type ImagesJob struct {
	ID         string
	ImagePaths []string
	OutputPath string
	Request    types.CompressRequest
}

// Runner executes jobs on their own goroutines, bounded by a semaphore.
type Runner struct {
	base   context.Context
	opts   Options
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	logger *slog.Logger
}

// New creates a runner. Jobs run on base, which is detached from any request and should be
// cancelled only at shutdown.
func New(base context.Context, opts Options) *Runner {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}
	if len(opts.Ladder) == 0 {
		opts.Ladder = types.DefaultLadder()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		base:   base,
		opts:   opts,
		sem:    semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		logger: logger,
	}
}

// Submit runs fn on its own goroutine once a concurrency slot is free.
func (r *Runner) Submit(fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.sem.Acquire(r.base, 1); err != nil {
			r.logger.Warn("job not started", "error", err)
			return
		}
		defer r.sem.Release(1)
		fn(r.base)
	}()
}

// SubmitPDF queues a PDF compression job.
func (r *Runner) SubmitPDF(job PDFJob) {
	r.Submit(func(ctx context.Context) {
		_ = r.RunPDF(ctx, job)
	})
}

// SubmitImages queues an image conversion job.
func (r *Runner) SubmitImages(job ImagesJob) {
	r.Submit(func(ctx context.Context) {
		_ = r.RunImages(ctx, job)
	})
}

// Wait blocks until every submitted job has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// RunPDF compresses job.InputPath into job.OutputPath and records the outcome on the job.
func (r *Runner) RunPDF(ctx context.Context, job PDFJob) error {
	logger := r.logger.With("job_id", job.ID)
	r.update(job.ID, types.JobUpdate{
		Status:   types.Ptr(types.JobStatusProcessing),
		Progress: types.Ptr(progressStart),
		Message:  types.Ptr("Compressing PDF..."),
	})

	res, kind, err := r.compress(ctx, job.ID, job.InputPath, job.OutputPath, job.Request, progressStart)
	if err != nil {
		logger.Error("compression failed", "error", err)
		r.fail(job.ID, ErrorCode(err), err)
		return err
	}

	report := types.NewReport(kind, res)
	if r.opts.Pages != nil {
		if n, err := r.opts.Pages.PageCount(ctx, job.OutputPath); err == nil {
			report.Pages = n
		} else {
			logger.Debug("page count unavailable", "error", err)
		}
	}
	r.complete(job.ID, job.OutputPath, "Compression successful", report)
	logger.Info("compression finished",
		"outcome", kind, "reduction_percent", res.ReductionPercent, "target_reached", res.TargetReached)
	return nil
}

// RunImages assembles job.ImagePaths into a PDF, compresses it when it exceeds the target and
// records the outcome on the job. When compression fails, the uncompressed document is kept
// and tagged with types.OutcomeUncompressed.
func (r *Runner) RunImages(ctx context.Context, job ImagesJob) error {
	logger := r.logger.With("job_id", job.ID)
	r.update(job.ID, types.JobUpdate{
		Status:   types.Ptr(types.JobStatusProcessing),
		Progress: types.Ptr(progressStart),
		Message:  types.Ptr("Preparing images..."),
	})
	r.update(job.ID, types.JobUpdate{
		Progress: types.Ptr(progressAssembling),
		Message:  types.Ptr("Converting images to PDF..."),
	})

	intermediate := intermediatePath(job.OutputPath)
	assembled, err := r.opts.Assembler.Assemble(ctx, job.ImagePaths, intermediate)
	if err != nil {
		logger.Error("image conversion failed", "error", err)
		r.fail(job.ID, types.CodeConversionFailed, err)
		return err
	}
	r.update(job.ID, types.JobUpdate{Progress: types.Ptr(progressAssembled)})

	target := types.MBToBytes(job.Request.TargetSizeMB)
	uncompressed := &types.SearchResult{
		InitialSize: assembled.Size,
		FinalSize:   assembled.Size,
		OutputPath:  job.OutputPath,
	}

	if job.Request.AutoCompress && assembled.Size > target {
		r.update(job.ID, types.JobUpdate{
			Progress: types.Ptr(progressSearchImages),
			Message:  types.Ptr("Compressing PDF..."),
		})
		res, kind, err := r.compress(ctx, job.ID, intermediate, job.OutputPath, job.Request, progressSearchImages)
		if err == nil {
			_ = os.Remove(intermediate)
			report := types.NewReport(kind, res)
			report.Pages = assembled.Pages
			r.complete(job.ID, job.OutputPath, "PDF created successfully", report)
			logger.Info("image conversion finished", "outcome", kind, "pages", assembled.Pages)
			return nil
		}
		logger.Warn("compression failed, keeping uncompressed PDF", "error", err)
	}

	if err := os.Rename(intermediate, job.OutputPath); err != nil {
		logger.Error("failed to move PDF into place", "error", err)
		r.fail(job.ID, types.CodeConversionFailed, err)
		return err
	}
	uncompressed.TargetReached = assembled.Size <= target
	report := types.NewReport(types.OutcomeUncompressed, uncompressed)
	report.Pages = assembled.Pages
	r.complete(job.ID, job.OutputPath, "PDF created successfully", report)
	logger.Info("image conversion finished", "outcome", types.OutcomeUncompressed, "pages", assembled.Pages)
	return nil
}

// compress runs either the ladder search or the single manual attempt. Ladder positions are
// mapped onto floor..progressSearchCeiling.
func (r *Runner) compress(ctx context.Context, id, in, out string, req types.CompressRequest, floor int) (*types.SearchResult, types.OutcomeKind, error) {
	target := types.MBToBytes(req.TargetSizeMB)

	if !req.AutoCompress {
		res, err := r.opts.Searcher.Single(ctx, in, out, req.ManualAttempt(), target)
		if err != nil {
			return nil, "", err
		}
		return res, types.OutcomeCustom, nil
	}

	res, err := r.opts.Searcher.Search(ctx, compression.SearchRequest{
		InputPath:   in,
		OutputPath:  out,
		TargetSize:  target,
		Ladder:      r.opts.Ladder,
		MaxAttempts: r.opts.MaxAttempts,
		OnAttempt: func(index, total int, attempt types.Attempt) {
			r.update(id, types.JobUpdate{
				Progress: types.Ptr(ladderProgress(floor, index, total)),
				Message:  types.Ptr(fmt.Sprintf("Trying %s (%d/%d)...", attempt.Label, index+1, total)),
			})
		},
	})
	if err != nil {
		return nil, "", err
	}
	return res, res.Kind(), nil
}

func (r *Runner) complete(id, outputPath, message string, report *types.CompressionReport) {
	r.update(id, types.JobUpdate{
		Status:     types.Ptr(types.JobStatusCompleted),
		Progress:   types.Ptr(progressComplete),
		Message:    types.Ptr(message),
		OutputPath: types.Ptr(outputPath),
		Result:     report,
	})
}

func (r *Runner) fail(id, code string, err error) {
	r.update(id, types.JobUpdate{
		Status:    types.Ptr(types.JobStatusFailed),
		Message:   types.Ptr(err.Error()),
		ErrorCode: types.Ptr(code),
	})
}

// update writes to the store and notifies OnProgress. Jobs removed mid-run are ignored.
func (r *Runner) update(id string, u types.JobUpdate) {
	job, err := r.opts.Store.Update(id, u)
	if err != nil {
		if !errors.Is(err, jobs.ErrJobNotFound) {
			r.logger.Warn("job update rejected", "job_id", id, "error", err)
		}
		return
	}
	if r.opts.OnProgress != nil {
		r.opts.OnProgress(ProgressEvent{
			JobID:    job.ID,
			Status:   job.Status,
			Progress: job.Progress,
			Message:  job.Message,
		})
	}
}

// ladderProgress maps attempt index of total onto floor..progressSearchCeiling.
func ladderProgress(floor, index, total int) int {
	if total <= 0 || floor >= progressSearchCeiling {
		return floor
	}
	return floor + (progressSearchCeiling-floor)*index/total
}

// intermediatePath returns "<name>_temp.pdf" next to the final output.
func intermediatePath(outputPath string) string {
	return strings.TrimSuffix(outputPath, ".pdf") + intermediateNameSuffix
}

// ErrorCode maps a job failure onto its stable code.
func ErrorCode(err error) string {
	var (
		missingSource *compression.SourceMissingError
		missingTool   *compression.ToolMissingError
		item          *assembly.ItemError
	)
	switch {
	case errors.As(err, &missingSource):
		return types.CodeSourceMissing
	case errors.As(err, &missingTool):
		return types.CodeToolMissing
	case errors.As(err, &item), errors.Is(err, assembly.ErrNoImages):
		return types.CodeConversionFailed
	default:
		return types.CodeCompressionFailed
	}
}
