package memory

import (
	"context"
	"sync"

	"image-pipeline/internal/domain"
)

type ImageStore struct {
	mu     sync.RWMutex
	images map[string]domain.Image
}

func NewImageStore() *ImageStore {
	return &ImageStore{images: make(map[string]domain.Image)}
}

// Save registers an image record. Uploads happen outside this service, so it
// is how memory mode and tests seed images.
func (s *ImageStore) Save(_ context.Context, img *domain.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[img.ID] = *img
	return nil
}

func (s *ImageStore) GetByID(_ context.Context, id, userID string) (*domain.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	img, ok := s.images[id]
	if !ok || img.UserID != userID {
		return nil, domain.ErrImageNotFound
	}
	return &img, nil
}
