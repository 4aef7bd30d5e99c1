package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestPresetsCommand(t *testing.T) {
	out, err := execute(t, "presets")
	require.NoError(t, err)

	assert.Contains(t, out, "PRESETS")
	assert.Contains(t, out, "High Quality (high)")
	assert.Contains(t, out, "COMPRESSION LADDER")
	assert.Contains(t, out, "Ultra compression")
}

func TestCompressCommand_RejectsNonPDF(t *testing.T) {
	_, err := execute(t, "compress", "notes.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be a .pdf file")
}

func TestCompressCommand_RequiresInput(t *testing.T) {
	_, err := execute(t, "compress")
	require.Error(t, err)
}

func TestImagesCommand_NoCompress(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.png")
	second := filepath.Join(dir, "b.png")
	writePNG(t, first, 40, 30)
	writePNG(t, second, 20, 60)
	output := filepath.Join(dir, "album.pdf")

	out, err := execute(t, "images", first, second, "--out", output, "--no-compress")
	require.NoError(t, err)

	assert.Contains(t, out, "COMPRESSION RESULT")
	assert.Contains(t, out, "uncompressed")
	assert.Contains(t, out, "Pages:       2")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
	_, err = os.Stat(filepath.Join(dir, "album_temp.pdf"))
	assert.True(t, os.IsNotExist(err))
}

func TestImagesCommand_MissingImage(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "out.pdf")

	out, err := execute(t, "images", filepath.Join(dir, "missing.png"), "--out", output)
	require.Error(t, err)
	assert.Contains(t, out, "CONVERSION_FAILED")

	_, statErr := os.Stat(output)
	assert.True(t, os.IsNotExist(statErr))
}

func TestJobContext_SurvivesShutdownSignal(t *testing.T) {
	parent, signal := context.WithCancel(context.Background())
	jobCtx, cancelJobs := jobContext(parent)

	signal()
	assert.NoError(t, jobCtx.Err(), "jobs must keep running after the signal")

	cancelJobs()
	assert.ErrorIs(t, jobCtx.Err(), context.Canceled)
}
