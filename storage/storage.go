// Package storage abstracts the external object store that holds file tunnel payloads.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cppla/accesso/config"
)

// ErrTooLarge is returned when a payload exceeds the size limit given to Put.
var ErrTooLarge = errors.New("object exceeds size limit")

// Object describes a stored payload.
type Object struct {
	// Key is the handle used for deletion.
	Key  string
	URL  string
	Size int64
}

// ObjectStore stores and deletes opaque blobs.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (Object, error)
	Delete(ctx context.Context, key string) error
}

// NewKey returns a collision-free storage key under prefix, keeping the file extension.
func NewKey(prefix, filename string) string {
	d := time.Now().UTC()
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(filename, "\\", "/"))))
	if len(ext) > 16 {
		ext = ""
	}
	key := fmt.Sprintf("%d/%02d/%02d/%s%s", d.Year(), d.Month(), d.Day(), uuid.New(), ext)
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		key = prefix + "/" + key
	}
	return key
}

// New builds the object store selected by configuration.
func New(ctx context.Context, cfg config.AppConfig) (ObjectStore, error) {
	switch cfg.StorageDriver {
	case "s3":
		return NewS3Store(ctx, S3Options{
			Region:        cfg.S3Region,
			Bucket:        cfg.S3Bucket,
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			PublicBaseURL: cfg.S3PublicBaseURL,
			PathStyle:     cfg.S3PathStyle,
		})
	case "local", "":
		return NewLocalStore(cfg.LocalStorageDir, cfg.LocalStorageURL)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
