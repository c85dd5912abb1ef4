package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"squadlink/internal/storage"
	squadlink_errors "squadlink/pkg/errors"
)

// Presigner is the part of the object store the upload service needs.
type Presigner interface {
	PresignPut(ctx context.Context, key, contentType string, sizeBytes int64) (string, map[string]string, error)
	FileURL(key string) string
	PresignTTL() time.Duration
}

// UploadService hands out presigned uploads for image messages. The viewer
// PUTs the file, then sends a message with content_type=image whose content
// is the returned file URL.
type UploadService struct {
	storage Presigner
	now     func() time.Time
}

type ImageUploadInput struct {
	ViewerID    string
	FileName    string
	ContentType string
	FileSize    int64
}

type ImageUpload struct {
	ObjectKey string
	UploadURL string
	FileURL   string
	Headers   map[string]string
	ExpiresAt time.Time
}

func NewUploadService(storage Presigner) *UploadService {
	return &UploadService{storage: storage, now: time.Now}
}

func (s *UploadService) CreateImageUpload(ctx context.Context, in ImageUploadInput) (ImageUpload, error) {
	if s.storage == nil {
		return ImageUpload{}, fmt.Errorf("%w: object storage is not configured", squadlink_errors.ErrServiceUnavailable)
	}
	if in.ViewerID == "" {
		return ImageUpload{}, squadlink_errors.ErrNotAuthenticated
	}
	if in.FileName == "" {
		return ImageUpload{}, fmt.Errorf("%w: file name is required", squadlink_errors.ErrInvalidInput)
	}
	if err := storage.ValidateImage(in.ContentType, in.FileSize); err != nil {
		return ImageUpload{}, fmt.Errorf("%w: %v", squadlink_errors.ErrInvalidInput, err)
	}

	now := s.now()
	key := storage.ImageKey(in.ViewerID, in.ContentType, now)
	url, headers, err := s.storage.PresignPut(ctx, key, in.ContentType, in.FileSize)
	if err != nil {
		return ImageUpload{}, errors.Join(squadlink_errors.ErrServiceUnavailable, err)
	}

	return ImageUpload{
		ObjectKey: key,
		UploadURL: url,
		FileURL:   s.storage.FileURL(key),
		Headers:   headers,
		ExpiresAt: now.Add(s.storage.PresignTTL()),
	}, nil
}
