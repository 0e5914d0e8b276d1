package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalStore writes objects to <dir>/<bucket>/<key>. PublicBaseURL must point
// at wherever dir is served; the server mounts it at /files.
type LocalStore struct {
	dir           string
	bucket        string
	publicBaseURL string
}

func NewLocalStore(dir, bucket, publicBaseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, bucket), 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating %s: %w", dir, err)
	}
	return &LocalStore{
		dir:           dir,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

// Dir is the root directory to serve.
func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*Object, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	full := s.filePath(key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating directory for %s: %w", key, err)
	}

	// Write to a temp file and rename so readers never see a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("storage: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("storage: writing %s: %w", key, err)
	}
	if size >= 0 && n != size {
		return nil, fmt.Errorf("storage: short write for %s: wrote %d of %d bytes", key, n, size)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return nil, fmt.Errorf("storage: storing %s: %w", key, err)
	}

	objPath := path.Join(s.bucket, key)
	return &Object{
		Key:  key,
		Path: objPath,
		URL:  s.publicBaseURL + "/" + objPath,
	}, nil
}

// Delete removes the object. Deleting a missing object succeeds.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.filePath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: deleting %s: %w", key, err)
	}
	return nil
}

func (s *LocalStore) filePath(key string) string {
	return filepath.Join(s.dir, s.bucket, filepath.FromSlash(key))
}
