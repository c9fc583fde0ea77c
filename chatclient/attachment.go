package chatclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/Dosada05/tournament-chat/models"
	"github.com/dustin/go-humanize"
)

const (
	BucketMedia = "chat-media"
	BucketFiles = "chat-files"

	DefaultMaxFileBytes int64 = 25 << 20
	maxKeyNameLen             = 100
)

// ErrUploadFailed is what the user sees when storage rejects a file.
var ErrUploadFailed = errors.New("Failed to upload file")

var (
	ErrFileTooLarge    = errors.New("file is too large")
	ErrFileTypeInvalid = errors.New("file type does not match the message kind")
	ErrFileEmpty       = errors.New("file is empty")
)

// File is a local file picked for upload. Kind is optional; when empty it is
// derived from ContentType.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Kind        models.MessageKind
	Reader      io.Reader
}

// UploadOutcome is the result of one upload. Err is nil when Success is set.
type UploadOutcome struct {
	Success    bool
	URL        string
	Key        string
	Attachment *models.Attachment
	Kind       models.MessageKind
	Err        error
}

type AttachmentUploader struct {
	storage  Storage
	maxBytes int64
	now      func() time.Time
	logger   *slog.Logger
}

func NewAttachmentUploader(storage Storage, maxBytes int64, logger *slog.Logger) *AttachmentUploader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AttachmentUploader{
		storage:  storage,
		maxBytes: maxBytes,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "uploader")),
	}
}

// Upload checks the file locally, stores it under a fresh key in bucket and
// resolves its public URL. The local checks are advisory; the server enforces
// its own limits.
func (u *AttachmentUploader) Upload(ctx context.Context, f File, bucket string) UploadOutcome {
	kind, err := u.check(f)
	if err != nil {
		return UploadOutcome{Err: err}
	}
	if bucket == "" {
		bucket = BucketForKind(kind)
	}

	key := ObjectKeyFor(u.now(), f.Name)
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if err := u.storage.Put(ctx, bucket, key, contentType, f.Reader, f.Size); err != nil {
		u.logger.Error("upload failed",
			slog.String("bucket", bucket),
			slog.String("key", key),
			slog.Any("error", err))
		return UploadOutcome{Key: key, Err: fmt.Errorf("%w: %w", ErrUploadFailed, err)}
	}
	url, err := u.storage.PublicURL(ctx, bucket, key)
	if err != nil {
		u.logger.Error("public url lookup failed", slog.String("key", key), slog.Any("error", err))
		return UploadOutcome{Key: key, Err: fmt.Errorf("%w: %w", ErrUploadFailed, err)}
	}

	u.logger.Info("file uploaded",
		slog.String("bucket", bucket),
		slog.String("key", key),
		slog.String("size", humanize.IBytes(uint64(f.Size))))

	return UploadOutcome{
		Success: true,
		URL:     url,
		Key:     key,
		Kind:    kind,
		Attachment: &models.Attachment{
			URL:           url,
			FileName:      f.Name,
			FileSizeBytes: f.Size,
			MIMEType:      contentType,
		},
	}
}

func (u *AttachmentUploader) check(f File) (models.MessageKind, error) {
	if f.Reader == nil || f.Size <= 0 {
		return "", ErrFileEmpty
	}
	if f.Size > u.maxBytes {
		return "", fmt.Errorf("%w: %s exceeds the %s limit", ErrFileTooLarge,
			humanize.IBytes(uint64(f.Size)), humanize.IBytes(uint64(u.maxBytes)))
	}

	kind := f.Kind
	if kind == "" {
		kind = KindForContentType(f.ContentType)
	}
	if err := kind.Validate(); err != nil {
		return "", err
	}
	if !kind.IsMedia() {
		return "", fmt.Errorf("%w: %s is not an attachment kind", ErrFileTypeInvalid, kind)
	}
	if prefix := kind.MIMEPrefix(); prefix != "" {
		mediaType, _, err := mime.ParseMediaType(f.ContentType)
		if err != nil || !strings.HasPrefix(mediaType, prefix) {
			return "", fmt.Errorf("%w: want %s*, got %q", ErrFileTypeInvalid, prefix, f.ContentType)
		}
	}
	return kind, nil
}

// KindForContentType maps a MIME type onto the message kind that displays it.
func KindForContentType(contentType string) models.MessageKind {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return models.KindFile
	}
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return models.KindImage
	case strings.HasPrefix(mediaType, "video/"):
		return models.KindVideo
	case strings.HasPrefix(mediaType, "audio/"):
		return models.KindAudio
	default:
		return models.KindFile
	}
}

// BucketForKind: картинки, видео и аудио идут в chat-media, остальное в chat-files.
func BucketForKind(kind models.MessageKind) string {
	if kind == models.KindFile {
		return BucketFiles
	}
	return BucketMedia
}

// ObjectKeyFor builds "<unix nanos>-<sanitized name>".
func ObjectKeyFor(now time.Time, name string) string {
	return strconv.FormatInt(now.UnixNano(), 10) + "-" + sanitizeFileName(name)
}

func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		out = "file"
	}
	if len(out) > maxKeyNameLen {
		out = out[len(out)-maxKeyNameLen:]
	}
	return out
}
