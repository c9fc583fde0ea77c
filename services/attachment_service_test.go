package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/Dosada05/tournament-chat/models"
	"github.com/Dosada05/tournament-chat/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	objects  map[string][]byte
	types    map[string]string
	failPut  error
	failPing error
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeUploader) Upload(_ context.Context, key, contentType string, reader io.Reader) (*storage.UploadResult, error) {
	if f.failPut != nil {
		return nil, f.failPut
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	f.objects[key] = data
	f.types[key] = contentType
	return &storage.UploadResult{Key: key, Location: f.GetPublicURL(key)}, nil
}

func (f *fakeUploader) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeUploader) GetPublicURL(key string) string {
	return "https://cdn.test/" + key
}

func (f *fakeUploader) Ping(context.Context) error { return f.failPing }

func TestAttachmentUpload_StoresUnderBucketPrefix(t *testing.T) {
	up := newFakeUploader()
	svc := NewAttachmentService(up, 1024, nil)

	obj, err := svc.Upload(context.Background(), models.Identity{ID: 1}, UploadInput{
		Bucket:      BucketChatMedia,
		Key:         "1714564800000000000-map.png",
		ContentType: "image/png",
		Size:        4,
		Reader:      strings.NewReader("\x89PNG"),
	})
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.test/chat-media/1714564800000000000-map.png", obj.URL)
	assert.Equal(t, int64(4), obj.Size)
	assert.Equal(t, "image/png", up.types["chat-media/1714564800000000000-map.png"])
}

func TestAttachmentUpload_Rejections(t *testing.T) {
	up := newFakeUploader()
	svc := NewAttachmentService(up, 8, nil)
	ctx := context.Background()
	actor := models.Identity{ID: 1}

	_, err := svc.Upload(ctx, actor, UploadInput{Bucket: "avatars", Key: "a.png", Size: -1, Reader: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrUnknownBucket)

	_, err = svc.Upload(ctx, actor, UploadInput{Bucket: BucketChatFiles, Key: "../etc/passwd", Size: -1, Reader: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrInvalidObjectKey)

	_, err = svc.Upload(ctx, actor, UploadInput{Bucket: BucketChatFiles, Key: "big.bin", Size: 9, Reader: strings.NewReader("123456789")})
	assert.ErrorIs(t, err, ErrFileTooLarge)

	// Declared size lies; the body is still capped.
	_, err = svc.Upload(ctx, actor, UploadInput{Bucket: BucketChatFiles, Key: "big.bin", Size: -1, Reader: strings.NewReader("123456789")})
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = svc.Upload(ctx, actor, UploadInput{Bucket: BucketChatFiles, Key: "empty.txt", Size: -1, Reader: strings.NewReader("")})
	assert.ErrorIs(t, err, ErrEmptyFile)

	assert.Empty(t, up.objects)
}

func TestAttachmentUpload_StorageFailureSurfaces(t *testing.T) {
	up := newFakeUploader()
	up.failPut = errors.New("r2 down")
	svc := NewAttachmentService(up, 1024, nil)

	_, err := svc.Upload(context.Background(), models.Identity{ID: 1}, UploadInput{
		Bucket: BucketChatFiles, Key: "rules.pdf", ContentType: "application/pdf", Size: 3, Reader: strings.NewReader("pdf"),
	})
	assert.EqualError(t, err, "r2 down")
}

func TestAttachmentPublicURL(t *testing.T) {
	svc := NewAttachmentService(newFakeUploader(), 1024, nil)

	u, err := svc.PublicURL(BucketChatFiles, "rules.pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/chat-files/rules.pdf", u)

	disabled := NewAttachmentService(nil, 1024, nil)
	_, err = disabled.PublicURL(BucketChatFiles, "rules.pdf")
	assert.ErrorIs(t, err, ErrStorageDisabled)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestHealthCheck(t *testing.T) {
	up := newFakeUploader()
	healthy := NewHealthService(pingFunc(func(context.Context) error { return nil }), up, nil)

	report := healthy.Check(context.Background())
	assert.True(t, report.Healthy)
	assert.Equal(t, "ok", report.Components["database"])
	assert.Equal(t, "ok", report.Components["storage"])

	up.failPing = errors.New("bucket missing")
	report = healthy.Check(context.Background())
	assert.False(t, report.Healthy)
	assert.Equal(t, "bucket missing", report.Components["storage"])

	noStorage := NewHealthService(pingFunc(func(context.Context) error { return errors.New("db down") }), nil, nil)
	report = noStorage.Check(context.Background())
	assert.False(t, report.Healthy)
	assert.Equal(t, "disabled", report.Components["storage"])
	assert.Equal(t, "db down", report.Components["database"])
}
