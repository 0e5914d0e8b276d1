// Package storage keeps uploaded application documents in an object store.
//
// Two backends implement ObjectStore: LocalStore writes under a directory
// that the server exposes at /files, CloudinaryStore pushes to Cloudinary.
// Both address objects by the key the caller chose, so a delete needs only
// the key returned from Put.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrInvalidKey is returned for keys that are empty or escape the bucket.
var ErrInvalidKey = errors.New("storage: invalid object key")

// Object describes a stored file.
type Object struct {
	Key  string // caller-chosen key, e.g. "PASSPORT/<uuid>.pdf"
	Path string // bucket-qualified path, e.g. "applications/PASSPORT/<uuid>.pdf"
	URL  string // public URL clients can fetch
}

// ObjectStore is the blob store used for application documents.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*Object, error)
	Delete(ctx context.Context, key string) error
}

// cleanKey normalises key and rejects anything that would leave the bucket.
func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
