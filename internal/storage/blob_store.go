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

// ErrBlobNotFound is returned when a stored name has no blob behind it.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore persists file contents under server-generated stored names.
// Stored names are flat identifiers, never client-supplied paths.
type BlobStore interface {
	Put(ctx context.Context, storedName string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, storedName string) (io.ReadCloser, error)
	Delete(ctx context.Context, storedName string) error
}

// DiskStore keeps blobs as flat files under a base directory.
type DiskStore struct {
	basePath string
}

// NewDiskStore creates the base directory if missing.
func NewDiskStore(basePath string) (*DiskStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &DiskStore{basePath: basePath}, nil
}

// Put writes a blob. O_EXCL guards the stored-name uniqueness invariant: a
// name is never reused, so an existing file means a generation bug rather
// than a legitimate overwrite.
func (d *DiskStore) Put(_ context.Context, storedName string, r io.Reader, _ int64, _ string) error {
	target, err := d.path(storedName)
	if err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create blob: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		_ = os.Remove(target)
		return fmt.Errorf("write blob: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(target)
		return fmt.Errorf("close blob: %w", err)
	}
	return nil
}

// Open returns the blob contents for reading.
func (d *DiskStore) Open(_ context.Context, storedName string) (io.ReadCloser, error) {
	target, err := d.path(storedName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

// Delete removes a blob. A missing blob reports ErrBlobNotFound so callers
// can decide whether absence matters.
func (d *DiskStore) Delete(_ context.Context, storedName string) error {
	target, err := d.path(storedName)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil {
		if os.IsNotExist(err) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func (d *DiskStore) path(storedName string) (string, error) {
	if storedName == "" || storedName != filepath.Base(storedName) || strings.HasPrefix(storedName, ".") {
		return "", fmt.Errorf("invalid stored name %q", storedName)
	}
	return filepath.Join(d.basePath, storedName), nil
}
