package app

import (
	"bytes"
	"context"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"image-pipeline/internal/domain"
	"image-pipeline/internal/repository/memory"
)

// seedImages registers every decodable image in dir as an uploaded image of
// userID. The file name without extension becomes the image id.
func seedImages(ctx context.Context, dir, userID string, images *memory.ImageStore, objects *memory.ObjectStore) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	seeded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return seeded, err
		}

		cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			continue
		}

		format := domain.NormalizeFormat(name)
		id := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		path := domain.PathPrefixOriginal + id + "." + format.Extension()

		if err := objects.Put(ctx, path, data, format.ContentType()); err != nil {
			return seeded, err
		}
		if err := images.Save(ctx, &domain.Image{
			ID:          id,
			UserID:      userID,
			Size:        int64(len(data)),
			Width:       cfg.Width,
			Height:      cfg.Height,
			Format:      format,
			StoragePath: path,
			CreatedAt:   time.Now().UTC(),
		}); err != nil {
			return seeded, err
		}
		seeded++
	}

	return seeded, nil
}
