package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/student-crm/internal/apperror"
	"github.com/sakif/student-crm/internal/storage"
)

const (
	// MaxUploadSize is the largest document accepted, in bytes.
	MaxUploadSize = 10 << 20

	uploadTimeout = 20 * time.Second
)

// allowedMimeTypes maps each accepted content type to the extension used
// when the file name has none.
var allowedMimeTypes = map[string]string{
	"application/pdf":    "pdf",
	"image/jpeg":         "jpg",
	"image/jpg":          "jpg",
	"image/png":          "png",
	"application/msword": "doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "docx",
}

var folderPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// UploadInput is one file from a multipart form. Size is what the client
// declared; the store rejects a body of any other length.
type UploadInput struct {
	File     io.Reader
	FileName string
	Size     int64
	MimeType string
	Type     string
}

// UploadResult is what the client keeps and later sends back with the
// application form.
type UploadResult struct {
	FileURL     string `json:"fileUrl"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	MimeType    string `json:"mimeType"`
	Key         string `json:"s3Key"`
	StoragePath string `json:"storagePath"`
}

type UploadService struct {
	store  storage.ObjectStore
	logger *slog.Logger
	newKey func() string
}

func NewUploadService(store storage.ObjectStore, logger *slog.Logger) *UploadService {
	return &UploadService{
		store:  store,
		logger: logger,
		newKey: uuid.NewString,
	}
}

// Upload checks the file and stores it under "<type>/<uuid>.<ext>".
// Nothing reaches the store unless size and content type are acceptable.
func (s *UploadService) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	if in.File == nil {
		return nil, apperror.ValidationFailed("file", "No file provided")
	}
	if blank(in.Type) {
		return nil, apperror.ValidationFailed("type", "File type is required")
	}
	if !folderPattern.MatchString(in.Type) {
		return nil, apperror.ValidationFailed("type", "Invalid file type")
	}
	if in.Size > MaxUploadSize {
		return nil, apperror.ValidationFailed("file", "File size exceeds 10MB limit")
	}
	fallbackExt, ok := allowedMimeTypes[in.MimeType]
	if !ok {
		return nil, apperror.ValidationFailed("file", "File type not allowed. Please upload PDF, DOC, DOCX, JPG, or PNG files.")
	}

	ext := strings.TrimPrefix(filepath.Ext(in.FileName), ".")
	if ext == "" || !folderPattern.MatchString(ext) {
		ext = fallbackExt
	}
	key := in.Type + "/" + s.newKey() + "." + strings.ToLower(ext)

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	obj, err := s.store.Put(ctx, key, in.File, in.Size, in.MimeType)
	if err != nil {
		return nil, apperror.Upstream("Failed to upload file to storage", fmt.Errorf("service/upload: %s: %w", key, err))
	}
	s.logger.InfoContext(ctx, "file uploaded",
		slog.String("key", key),
		slog.Int64("size", in.Size),
	)

	return &UploadResult{
		FileURL:     obj.URL,
		FileName:    in.FileName,
		FileSize:    in.Size,
		MimeType:    in.MimeType,
		Key:         obj.Key,
		StoragePath: obj.Path,
	}, nil
}

// Delete removes a stored file by the key Upload returned.
func (s *UploadService) Delete(ctx context.Context, key string) error {
	if blank(key) {
		return apperror.ValidationFailed("key", "File key is required")
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	if err := s.store.Delete(ctx, key); err != nil {
		return apperror.Upstream("Failed to delete file", fmt.Errorf("service/upload: deleting %s: %w", key, err))
	}
	s.logger.InfoContext(ctx, "file deleted", slog.String("key", key))
	return nil
}
