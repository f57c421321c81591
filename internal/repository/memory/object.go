package memory

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"image-pipeline/internal/domain"
)

type object struct {
	data        []byte
	contentType string
}

// ObjectStore is a map-backed object storage.
type ObjectStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]object
}

func NewObjectStore(bucket string) *ObjectStore {
	return &ObjectStore{bucket: bucket, objects: make(map[string]object)}
}

func (s *ObjectStore) Get(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[path]
	if !ok {
		return nil, &domain.StorageError{Op: "get", Path: path, Err: domain.ErrObjectNotFound}
	}
	return append([]byte(nil), obj.data...), nil
}

func (s *ObjectStore) Put(_ context.Context, path string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = object{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

func (s *ObjectStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

func (s *ObjectStore) PresignedURL(_ context.Context, path string, expiry time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[path]
	s.mu.RUnlock()
	if !ok {
		return "", &domain.StorageError{Op: "presign", Path: path, Err: domain.ErrObjectNotFound}
	}

	u := url.URL{Scheme: "memory", Host: s.bucket, Path: "/" + path}
	q := u.Query()
	q.Set("expires", fmt.Sprintf("%d", int(expiry.Seconds())))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ContentType returns the content type an object was stored with.
func (s *ObjectStore) ContentType(path string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	return obj.contentType, ok
}
