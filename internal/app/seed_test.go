package app

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"image-pipeline/internal/domain"
	"image-pipeline/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedImages(t *testing.T) {
	dir := t.TempDir()

	img := image.NewNRGBA(image.Rect(0, 0, 12, 7))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "cat.png"), buf.Bytes(), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o700))

	images := memory.NewImageStore()
	objects := memory.NewObjectStore("images")

	n, err := seedImages(context.Background(), dir, "dev", images, objects)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := images.GetByID(context.Background(), "cat", "dev")
	require.NoError(t, err)
	assert.Equal(t, 12, got.Width)
	assert.Equal(t, 7, got.Height)
	assert.Equal(t, domain.FormatPNG, got.Format)
	assert.Equal(t, "originals/cat.png", got.StoragePath)

	data, err := objects.Get(context.Background(), got.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, buf.Bytes(), data)

	_, err = images.GetByID(context.Background(), "cat", "someone-else")
	assert.ErrorIs(t, err, domain.ErrImageNotFound)
}
