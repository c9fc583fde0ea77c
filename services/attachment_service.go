package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"

	"github.com/Dosada05/tournament-chat/metrics"
	"github.com/Dosada05/tournament-chat/models"
	"github.com/Dosada05/tournament-chat/storage"
	"github.com/dustin/go-humanize"
)

// Logical buckets exposed to chat clients. Each maps to a key prefix in the
// single R2 bucket.
const (
	BucketChatMedia = "chat-media"
	BucketChatFiles = "chat-files"
)

var allowedBuckets = map[string]bool{
	BucketChatMedia: true,
	BucketChatFiles: true,
}

type AttachmentService interface {
	Upload(ctx context.Context, actor models.Identity, input UploadInput) (*UploadedObject, error)
	PublicURL(bucket, key string) (string, error)
}

type UploadInput struct {
	Bucket      string
	Key         string
	ContentType string
	// Size is the declared length, -1 when unknown.
	Size   int64
	Reader io.Reader
}

type UploadedObject struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

type attachmentService struct {
	uploader storage.FileUploader
	maxBytes int64
	logger   *slog.Logger
}

func NewAttachmentService(uploader storage.FileUploader, maxBytes int64, logger *slog.Logger) AttachmentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &attachmentService{uploader: uploader, maxBytes: maxBytes, logger: logger}
}

func (s *attachmentService) Upload(ctx context.Context, actor models.Identity, input UploadInput) (*UploadedObject, error) {
	if s.uploader == nil {
		return nil, ErrStorageDisabled
	}
	objectKey, err := s.objectKey(input.Bucket, input.Key)
	if err != nil {
		metrics.Uploads.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if input.Size > s.maxBytes {
		metrics.Uploads.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %s > %s", ErrFileTooLarge, humanize.IBytes(uint64(input.Size)), humanize.IBytes(uint64(s.maxBytes)))
	}

	contentType := strings.TrimSpace(input.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, _, err := mime.ParseMediaType(contentType); err != nil {
		metrics.Uploads.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: invalid content type %q", ErrValidationFailed, contentType)
	}

	// Тело читается целиком: S3 API требует seekable body для подписи.
	data, err := io.ReadAll(io.LimitReader(input.Reader, s.maxBytes+1))
	if err != nil {
		metrics.Uploads.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to read upload body: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		metrics.Uploads.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: limit is %s", ErrFileTooLarge, humanize.IBytes(uint64(s.maxBytes)))
	}
	if len(data) == 0 {
		metrics.Uploads.WithLabelValues("rejected").Inc()
		return nil, ErrEmptyFile
	}

	result, err := s.uploader.Upload(ctx, objectKey, contentType, bytes.NewReader(data))
	if err != nil {
		metrics.Uploads.WithLabelValues("failed").Inc()
		s.logger.ErrorContext(ctx, "attachment upload failed", slog.String("key", objectKey), slog.Int("user_id", actor.ID), slog.Any("error", err))
		return nil, err
	}
	metrics.Uploads.WithLabelValues("stored").Inc()
	s.logger.InfoContext(ctx, "attachment stored",
		slog.String("key", objectKey),
		slog.Int("user_id", actor.ID),
		slog.String("size", humanize.IBytes(uint64(len(data)))),
	)

	return &UploadedObject{
		Bucket:      input.Bucket,
		Key:         input.Key,
		URL:         result.Location,
		Size:        int64(len(data)),
		ContentType: contentType,
	}, nil
}

func (s *attachmentService) PublicURL(bucket, key string) (string, error) {
	if s.uploader == nil {
		return "", ErrStorageDisabled
	}
	objectKey, err := s.objectKey(bucket, key)
	if err != nil {
		return "", err
	}
	return s.uploader.GetPublicURL(objectKey), nil
}

func (s *attachmentService) objectKey(bucket, key string) (string, error) {
	if !allowedBuckets[bucket] {
		return "", fmt.Errorf("%w: %q", ErrUnknownBucket, bucket)
	}
	objectKey, err := storage.ObjectKey(bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidObjectKey) {
			return "", ErrInvalidObjectKey
		}
		return "", err
	}
	return objectKey, nil
}
