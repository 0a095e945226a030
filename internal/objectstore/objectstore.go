// Package objectstore stores source PDFs, extracted segment PDFs and export
// archives under string keys.
package objectstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("object not found")

// ContentTypePDF is the content type of source and segment files.
const ContentTypePDF = "application/pdf"

// ContentTypeZip is the content type of export archives.
const ContentTypeZip = "application/zip"

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
}

// Store is the object storage contract.
type Store interface {
	// Get returns the full object body.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes an object, replacing any existing one.
	Put(ctx context.Context, key string, body []byte, contentType string) error
	// Head returns object metadata, or ErrNotFound.
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	// PresignGet returns a time-limited download URL.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	// PresignPut returns a time-limited upload URL.
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
}

// Exists reports whether key is present.
func Exists(ctx context.Context, s Store, key string) (bool, error) {
	_, err := s.Head(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
