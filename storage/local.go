package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore writes blobs below a directory served statically under baseURL.
type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the root directory, for mounting as static files.
func (s *LocalStore) Dir() string { return s.dir }

// BaseURL returns the URL prefix under which Dir is served.
func (s *LocalStore) BaseURL() string { return s.baseURL }

// Put writes r to disk, refusing payloads larger than size when size > 0.
func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (Object, error) {
	dst, err := s.pathFor(key)
	if err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Object{}, fmt.Errorf("create upload directory: %w", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return Object{}, fmt.Errorf("create %s: %w", key, err)
	}

	// Enforce the declared size by limited reader
	var src io.Reader = r
	if size > 0 {
		src = &io.LimitedReader{R: r, N: size + 1}
	}
	written, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = os.Remove(dst)
		return Object{}, fmt.Errorf("write %s: %w", key, err)
	}
	if size > 0 && written > size {
		_ = os.Remove(dst)
		return Object{}, ErrTooLarge
	}

	return Object{Key: key, URL: s.baseURL + "/" + filepath.ToSlash(key), Size: written}, nil
}

// Delete removes the blob; a missing file counts as deleted.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	p, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (s *LocalStore) pathFor(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(s.dir, clean), nil
}
