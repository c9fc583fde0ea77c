package chatclient

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Dosada05/tournament-chat/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUploader(storage Storage, max int64) *AttachmentUploader {
	u := NewAttachmentUploader(storage, max, nil)
	u.now = func() time.Time { return time.Unix(1714564800, 42) }
	return u
}

func TestAttachmentUploader_Success(t *testing.T) {
	store := &memStorage{}
	u := newUploader(store, 1024)

	out := u.Upload(context.Background(), File{
		Name:        "scores.pdf",
		ContentType: "application/pdf",
		Size:        5,
		Reader:      strings.NewReader("%PDF-"),
	}, "")

	require.True(t, out.Success, "%v", out.Err)
	assert.NoError(t, out.Err)
	assert.Equal(t, models.KindFile, out.Kind)
	assert.Equal(t, "1714564800000000042-scores.pdf", out.Key)
	assert.Equal(t, "https://cdn.test/chat-files/1714564800000000042-scores.pdf", out.URL)
	assert.Equal(t, &models.Attachment{
		URL:           out.URL,
		FileName:      "scores.pdf",
		FileSizeBytes: 5,
		MIMEType:      "application/pdf",
	}, out.Attachment)

	require.Len(t, store.puts, 1)
	assert.Equal(t, putCall{bucket: "chat-files", key: out.Key, contentType: "application/pdf", body: "%PDF-", size: 5}, store.puts[0])
}

func TestAttachmentUploader_ExplicitBucket(t *testing.T) {
	store := &memStorage{}
	out := newUploader(store, 1024).Upload(context.Background(), File{
		Name: "clip.mp4", ContentType: "video/mp4", Size: 3, Reader: strings.NewReader("abc"),
	}, BucketFiles)

	require.True(t, out.Success)
	assert.Equal(t, models.KindVideo, out.Kind)
	assert.Equal(t, "chat-files", store.puts[0].bucket)
}

func TestAttachmentUploader_Rejections(t *testing.T) {
	cases := []struct {
		name string
		file File
		want error
	}{
		{"empty", File{Name: "a.txt", ContentType: "text/plain", Reader: strings.NewReader("")}, ErrFileEmpty},
		{"no reader", File{Name: "a.txt", Size: 3}, ErrFileEmpty},
		{"too large", File{Name: "a.bin", Size: 2048, Reader: strings.NewReader("x")}, ErrFileTooLarge},
		{"mime mismatch", File{Name: "a.png", ContentType: "text/plain", Kind: models.KindImage, Size: 1, Reader: strings.NewReader("x")}, ErrFileTypeInvalid},
		{"not an attachment kind", File{Name: "a.txt", ContentType: "text/plain", Kind: models.KindText, Size: 1, Reader: strings.NewReader("x")}, ErrFileTypeInvalid},
		{"unknown kind", File{Name: "a.txt", Kind: "sticker", Size: 1, Reader: strings.NewReader("x")}, models.ErrInvalidMessageKind},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &memStorage{}
			out := newUploader(store, 1024).Upload(context.Background(), tc.file, "")
			assert.False(t, out.Success)
			assert.ErrorIs(t, out.Err, tc.want)
			assert.Empty(t, store.puts)
		})
	}
}

func TestAttachmentUploader_SizeMessageIsHumanReadable(t *testing.T) {
	out := newUploader(&memStorage{}, 25<<20).Upload(context.Background(), File{
		Name: "raw.mov", ContentType: "video/quicktime", Size: 30 << 20, Reader: strings.NewReader("x"),
	}, "")
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "30 MiB")
	assert.Contains(t, out.Err.Error(), "25 MiB")
}

func TestAttachmentUploader_StorageFailure(t *testing.T) {
	for _, store := range []*memStorage{{putErr: errBoom}, {urlErr: errBoom}} {
		out := newUploader(store, 1024).Upload(context.Background(), File{
			Name: "a.png", ContentType: "image/png", Size: 1, Reader: strings.NewReader("x"),
		}, "")
		assert.False(t, out.Success)
		assert.ErrorIs(t, out.Err, ErrUploadFailed)
		assert.ErrorIs(t, out.Err, errBoom)
		assert.True(t, strings.HasPrefix(out.Err.Error(), "Failed to upload file"))
	}
}

func TestKindForContentType(t *testing.T) {
	assert.Equal(t, models.KindImage, KindForContentType("image/webp"))
	assert.Equal(t, models.KindVideo, KindForContentType("video/mp4"))
	assert.Equal(t, models.KindAudio, KindForContentType("audio/ogg; codecs=opus"))
	assert.Equal(t, models.KindFile, KindForContentType("application/zip"))
	assert.Equal(t, models.KindFile, KindForContentType(""))
}

func TestObjectKeyFor(t *testing.T) {
	at := time.Unix(0, 1700000000000000000)
	cases := map[string]string{
		"map.png":             "1700000000000000000-map.png",
		"My Bracket (1).png":  "1700000000000000000-My_Bracket__1_.png",
		"../../etc/passwd":    "1700000000000000000-passwd",
		`C:\Users\me\log.txt`: "1700000000000000000-log.txt",
		"фото.jpg":            "1700000000000000000-____.jpg",
		"":                    "1700000000000000000-file",
	}
	for name, want := range cases {
		assert.Equal(t, want, ObjectKeyFor(at, name), name)
	}
	long := ObjectKeyFor(at, strings.Repeat("a", 300)+".png")
	assert.True(t, strings.HasSuffix(long, ".png"))
	assert.LessOrEqual(t, len(long), len("1700000000000000000-")+maxKeyNameLen)
}
