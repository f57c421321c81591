package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"image-pipeline/internal/config"
	"image-pipeline/internal/domain"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/wb-go/wbf/zlog"
)

const codeNoSuchKey = "NoSuchKey"

// FileRepository stores original and processed images in a single bucket.
type FileRepository struct {
	client *minio.Client
	bucket string
	logger *zlog.Zerolog
}

func NewMinIORepository(cfg *config.Config, logger *zlog.Zerolog) (*FileRepository, error) {
	client, err := minio.New(cfg.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Minio.AccessKey, cfg.Minio.SecretKey, ""),
		Secure: cfg.Minio.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	repo := &FileRepository{
		client: client,
		bucket: cfg.Minio.Bucket,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := repo.ensureBucket(ctx); err != nil {
		return nil, err
	}

	return repo, nil
}

func (r *FileRepository) ensureBucket(ctx context.Context) error {
	exists, err := r.client.BucketExists(ctx, r.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", r.bucket, err)
	}
	if exists {
		return nil
	}

	if err := r.client.MakeBucket(ctx, r.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", r.bucket, err)
	}

	r.logger.Info().Str("bucket", r.bucket).Msg("Bucket created")
	return nil
}

// Get reads a whole object. minio-go retries transient failures itself.
func (r *FileRepository) Get(ctx context.Context, path string) ([]byte, error) {
	obj, err := r.client.GetObject(ctx, r.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, storageError("get", path, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, storageError("get", path, err)
	}

	return data, nil
}

func (r *FileRepository) Put(ctx context.Context, path string, data []byte, contentType string) error {
	_, err := r.client.PutObject(ctx, r.bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return storageError("put", path, err)
	}

	return nil
}

func (r *FileRepository) Delete(ctx context.Context, path string) error {
	if err := r.client.RemoveObject(ctx, r.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return storageError("delete", path, err)
	}
	return nil
}

func (r *FileRepository) PresignedURL(ctx context.Context, path string, expiry time.Duration) (string, error) {
	u, err := r.client.PresignedGetObject(ctx, r.bucket, path, expiry, nil)
	if err != nil {
		return "", storageError("presign", path, err)
	}
	return u.String(), nil
}

func isNotFound(err error) bool {
	return err != nil && minio.ToErrorResponse(err).Code == codeNoSuchKey
}

func storageError(op, path string, err error) error {
	if isNotFound(err) {
		err = fmt.Errorf("%w: %v", domain.ErrObjectNotFound, err)
	}
	return &domain.StorageError{Op: op, Path: path, Err: err}
}
