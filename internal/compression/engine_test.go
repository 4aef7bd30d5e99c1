package compression

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonathan/pdfsqueeze/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mb = 1024 * 1024

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sizedInvoker writes an output of the next prescribed size on every call.
// A negative size makes that call fail.
type sizedInvoker struct {
	sizes []int64
	calls []types.Attempt
	err   error
}

func (s *sizedInvoker) RunAttempt(_ context.Context, _, out string, resolution, quality int) error {
	i := len(s.calls)
	s.calls = append(s.calls, types.Attempt{Resolution: resolution, Quality: quality})
	if s.err != nil {
		return s.err
	}
	if i >= len(s.sizes) || s.sizes[i] < 0 {
		return &AttemptError{Resolution: resolution, Quality: quality, Message: "stub failure"}
	}
	return writeSized(out, s.sizes[i])
}

func writeSized(path string, size int64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func testInput(t *testing.T, size int64) (string, string) {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "input.pdf")
	require.NoError(t, writeSized(in, size))
	return in, filepath.Join(dir, "output.pdf")
}

func shortLadder() types.Ladder {
	return types.Ladder{
		{Resolution: 150, Quality: 80, Label: "High quality"},
		{Resolution: 96, Quality: 60, Label: "Medium quality"},
		{Resolution: 50, Quality: 40, Label: "Very low quality"},
		{Resolution: 20, Quality: 15, Label: "Maximum compression"},
	}
}

func TestEngine_StopsAtFirstFit(t *testing.T) {
	in, out := testInput(t, 10*mb)
	inv := &sizedInvoker{sizes: []int64{9 * mb, 7 * mb, 4 * mb, 2 * mb}}
	eng := NewEngine(discardLogger(), inv)

	res, err := eng.Search(context.Background(), SearchRequest{
		InputPath:  in,
		OutputPath: out,
		TargetSize: 5 * mb,
		Ladder:     shortLadder(),
	})
	require.NoError(t, err)

	assert.True(t, res.TargetReached)
	assert.Equal(t, types.OutcomeTargetReached, res.Kind())
	assert.Equal(t, shortLadder()[2], res.Attempt)
	assert.Equal(t, 3, res.AttemptsRun)
	assert.Len(t, inv.calls, 3)
	assert.Equal(t, int64(10*mb), res.InitialSize)
	assert.Equal(t, int64(4*mb), res.FinalSize)
	assert.InDelta(t, 60.0, res.ReductionPercent, 0.001)
}

func TestEngine_BestEffortWhenUnreachable(t *testing.T) {
	in, out := testInput(t, 12*mb)
	inv := &sizedInvoker{sizes: []int64{11 * mb, 10 * mb, 10 * mb, 10 * mb}}
	eng := NewEngine(discardLogger(), inv)

	res, err := eng.Search(context.Background(), SearchRequest{
		InputPath:  in,
		OutputPath: out,
		TargetSize: 5 * mb,
		Ladder:     shortLadder(),
	})
	require.NoError(t, err)

	assert.False(t, res.TargetReached)
	assert.Equal(t, types.OutcomeBestEffort, res.Kind())
	assert.Equal(t, shortLadder()[3], res.Attempt)
	assert.Equal(t, int64(10*mb), res.FinalSize)
	assert.Equal(t, 4, res.AttemptsRun)
}

func TestEngine_ZeroSizeInput(t *testing.T) {
	in, out := testInput(t, 0)
	inv := &sizedInvoker{sizes: []int64{0}}
	eng := NewEngine(discardLogger(), inv)

	res, err := eng.Search(context.Background(), SearchRequest{
		InputPath:  in,
		OutputPath: out,
		TargetSize: mb,
		Ladder:     shortLadder(),
	})
	require.NoError(t, err)
	assert.True(t, res.TargetReached)
	assert.Equal(t, 0.0, res.ReductionPercent)
}

func TestEngine_AllAttemptsFail(t *testing.T) {
	in, out := testInput(t, 3*mb)
	inv := &sizedInvoker{sizes: []int64{-1, -1, -1, -1}}
	eng := NewEngine(discardLogger(), inv)

	_, err := eng.Search(context.Background(), SearchRequest{
		InputPath:  in,
		OutputPath: out,
		TargetSize: mb,
		Ladder:     shortLadder(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSuccessfulAttempt)

	var attemptErr *AttemptError
	assert.ErrorAs(t, err, &attemptErr)
	assert.Len(t, inv.calls, 4)
	assert.NoFileExists(t, out)
}

func TestEngine_FailuresAreSkipped(t *testing.T) {
	in, out := testInput(t, 8*mb)
	inv := &sizedInvoker{sizes: []int64{-1, 3 * mb}}
	eng := NewEngine(discardLogger(), inv)

	res, err := eng.Search(context.Background(), SearchRequest{
		InputPath:  in,
		OutputPath: out,
		TargetSize: 5 * mb,
		Ladder:     shortLadder(),
	})
	require.NoError(t, err)
	assert.Equal(t, shortLadder()[1], res.Attempt)
	assert.Equal(t, 2, res.AttemptsRun)
}

func TestEngine_ToolMissingAborts(t *testing.T) {
	in, out := testInput(t, 3*mb)
	inv := &sizedInvoker{err: &ToolMissingError{Executable: "gs", Message: "Ghostscript not found"}}
	eng := NewEngine(discardLogger(), inv)

	_, err := eng.Search(context.Background(), SearchRequest{
		InputPath:  in,
		OutputPath: out,
		TargetSize: mb,
		Ladder:     shortLadder(),
	})
	var missing *ToolMissingError
	require.ErrorAs(t, err, &missing)
	assert.Len(t, inv.calls, 1)
}

func TestEngine_SourceMissing(t *testing.T) {
	dir := t.TempDir()
	inv := &sizedInvoker{}
	eng := NewEngine(discardLogger(), inv)

	_, err := eng.Search(context.Background(), SearchRequest{
		InputPath:  filepath.Join(dir, "nope.pdf"),
		OutputPath: filepath.Join(dir, "out.pdf"),
		TargetSize: mb,
	})
	var missing *SourceMissingError
	require.ErrorAs(t, err, &missing)
	assert.Empty(t, inv.calls)
}

func TestEngine_MaxAttemptsAndDefaultLadder(t *testing.T) {
	in, out := testInput(t, 10*mb)
	inv := &sizedInvoker{sizes: []int64{9 * mb, 9 * mb, 9 * mb}}
	eng := NewEngine(discardLogger(), inv)

	var seen []int
	res, err := eng.Search(context.Background(), SearchRequest{
		InputPath:   in,
		OutputPath:  out,
		TargetSize:  mb,
		MaxAttempts: 3,
		OnAttempt: func(index, total int, _ types.Attempt) {
			assert.Equal(t, 3, total)
			seen = append(seen, index)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, seen)
	assert.Equal(t, types.DefaultLadder()[2], res.Attempt)
	assert.Equal(t, types.DefaultLadder()[0].Resolution, inv.calls[0].Resolution)
}

func TestEngine_CancelledContext(t *testing.T) {
	in, out := testInput(t, 10*mb)
	eng := NewEngine(discardLogger(), &sizedInvoker{sizes: []int64{mb}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.Search(ctx, SearchRequest{InputPath: in, OutputPath: out, TargetSize: mb})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestEngine_Single(t *testing.T) {
	in, out := testInput(t, 4*mb)
	inv := &sizedInvoker{sizes: []int64{3 * mb}}
	eng := NewEngine(discardLogger(), inv)

	custom := types.Attempt{Resolution: 100, Quality: 70, Label: "Custom"}
	res, err := eng.Single(context.Background(), in, out, custom, 2*mb)
	require.NoError(t, err)
	assert.False(t, res.TargetReached)
	assert.Equal(t, custom, res.Attempt)
	assert.Equal(t, 1, res.AttemptsRun)
	assert.InDelta(t, 25.0, res.ReductionPercent, 0.001)

	inv = &sizedInvoker{sizes: []int64{-1}}
	_, err = NewEngine(discardLogger(), inv).Single(context.Background(), in, out, custom, 2*mb)
	assert.ErrorIs(t, err, ErrNoSuccessfulAttempt)
}
