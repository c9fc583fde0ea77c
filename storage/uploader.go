package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

var ErrInvalidObjectKey = errors.New("invalid object key")

type UploadResult struct {
	Key      string
	Location string
	ETag     string
}

type FileUploader interface {
	Upload(ctx context.Context, key string, contentType string, reader io.Reader) (*UploadResult, error)

	Delete(ctx context.Context, key string) error

	GetPublicURL(key string) string

	// Ping checks that the backing bucket is reachable.
	Ping(ctx context.Context) error
}

// ObjectKey joins a logical bucket and a client supplied key into the
// object key used in the storage backend. Keys that escape the bucket are
// rejected.
func ObjectKey(bucket, key string) (string, error) {
	bucket = strings.Trim(bucket, "/")
	key = strings.TrimPrefix(key, "/")
	if bucket == "" || key == "" || strings.Contains(bucket, "/") {
		return "", ErrInvalidObjectKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", ErrInvalidObjectKey
		}
	}
	return path.Join(bucket, key), nil
}
