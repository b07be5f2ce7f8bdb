package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"filedepot/internal/domain"
	"filedepot/internal/storage"
	"filedepot/internal/store"
)

const (
	minPage      = 1
	defaultLimit = 20
	maxLimit     = 50
)

// Upload stores the blob and records it under the owner's account. The blob
// is written first; if the record insert fails the blob is removed again so
// no orphan survives.
func (a *App) Upload(ctx context.Context, owner domain.User, originalName, contentType string, r io.Reader, size int64) (domain.FileRecord, error) {
	if size <= 0 {
		return domain.FileRecord{}, ErrEmptyUpload
	}
	if size > a.cfg.MaxUploadBytes {
		return domain.FileRecord{}, ErrFileTooLarge
	}
	ext, err := a.checkExtension(originalName)
	if err != nil {
		return domain.FileRecord{}, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// Stored names are server-generated and never reused, so a record can
	// always be traced to exactly one blob.
	storedName := uuid.NewString() + ext
	if err := a.blobs.Put(ctx, storedName, io.LimitReader(r, size), size, contentType); err != nil {
		return domain.FileRecord{}, fmt.Errorf("store blob: %w", err)
	}

	rec, err := a.store.CreateFile(domain.FileRecord{
		OwnerEmail:   owner.Email,
		StoredName:   storedName,
		OriginalName: filepath.Base(originalName),
		ContentType:  contentType,
		SizeBytes:    size,
		UploadedAt:   a.now(),
	})
	if err != nil {
		if delErr := a.blobs.Delete(ctx, storedName); delErr != nil {
			slog.Error("orphan blob left behind after failed insert",
				"stored_name", storedName, "error", delErr)
		}
		return domain.FileRecord{}, err
	}
	return rec, nil
}

// ListFiles returns a page of the viewer's files. Admins see every account's
// files and may narrow to one owner; non-admin queries are forced onto the
// viewer's own email regardless of what the request asked for.
func (a *App) ListFiles(ctx context.Context, viewer domain.User, q domain.FileQuery) ([]domain.FileRecord, int64, error) {
	if !viewer.IsAdmin() {
		q.OwnerEmail = viewer.Email
	}
	q.SortBy = allowedFileSort(q.SortBy)
	q.Page, q.Limit = ClampPage(q.Page, q.Limit)
	return a.store.ListFiles(q)
}

// Download opens the blob behind a live record. A record whose blob has gone
// missing is an integrity fault: it is logged and reported as not found.
func (a *App) Download(ctx context.Context, viewer domain.User, id int64) (domain.FileRecord, io.ReadCloser, error) {
	rec, err := a.authorizedFile(viewer, id)
	if err != nil {
		return domain.FileRecord{}, nil, err
	}
	rc, err := a.blobs.Open(ctx, rec.StoredName)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			slog.Error("file record has no backing blob",
				"file_id", rec.ID, "stored_name", rec.StoredName)
			return domain.FileRecord{}, nil, ErrNotFound
		}
		return domain.FileRecord{}, nil, err
	}
	return rec, rc, nil
}

// DeleteFile soft-deletes a record. The blob stays on storage until the purge
// sweeper collects it. Deleting twice reports not found.
func (a *App) DeleteFile(ctx context.Context, viewer domain.User, id int64) error {
	rec, err := a.authorizedFile(viewer, id)
	if err != nil {
		return err
	}
	if err := a.store.SoftDeleteFile(rec.ID, a.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (a *App) authorizedFile(viewer domain.User, id int64) (domain.FileRecord, error) {
	rec, ok, err := a.store.GetFile(id)
	if err != nil {
		return domain.FileRecord{}, err
	}
	if !ok {
		return domain.FileRecord{}, ErrNotFound
	}
	if !CanAccess(viewer, rec) {
		return domain.FileRecord{}, ErrForbidden
	}
	return rec, nil
}

func (a *App) checkExtension(name string) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if len(a.exts) == 0 {
		return ext, nil
	}
	if _, ok := a.exts[ext]; !ok {
		return "", ErrExtensionNotAllowed
	}
	return ext, nil
}

func allowedFileSort(sortBy string) string {
	switch sortBy {
	case domain.SortUploadDate, domain.SortFileSize, domain.SortOriginalName, domain.SortFileType:
		return sortBy
	default:
		return domain.SortUploadDate
	}
}

// ClampPage normalizes pagination input to safe bounds.
func ClampPage(page, limit int) (int, int) {
	if page < minPage {
		page = minPage
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}
