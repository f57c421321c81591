package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"image-pipeline/internal/domain"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
)

// ImagesRepository reads the image records written by the upload service.
type ImagesRepository struct {
	db      *dbpg.DB
	retries retry.Strategy
}

func NewImagesRepository(db *dbpg.DB, retries retry.Strategy) *ImagesRepository {
	return &ImagesRepository{
		db:      db,
		retries: retries,
	}
}

func (r *ImagesRepository) GetByID(ctx context.Context, id, userID string) (*domain.Image, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrImageNotFound
	}

	query := `
		SELECT id, user_id, size, width, height, format, storage_path, created_at
		FROM images
		WHERE id = $1 AND user_id = $2
	`

	row, err := r.db.QueryRowWithRetry(ctx, r.retries, query, id, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query image: %w", err)
	}

	var (
		img    domain.Image
		format string
	)
	err = row.Scan(
		&img.ID,
		&img.UserID,
		&img.Size,
		&img.Width,
		&img.Height,
		&format,
		&img.StoragePath,
		&img.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrImageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan image: %w", err)
	}

	img.Format = domain.NormalizeFormat(format)
	return &img, nil
}
