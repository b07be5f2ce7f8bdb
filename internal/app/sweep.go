package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"filedepot/internal/storage"
)

const sweepBatchSize = 100

// RunPurgeSweeper reclaims storage behind soft-deleted records. It wakes on
// the given interval, collects blobs whose deletion is older than the
// retention window, and marks each record purged once its blob is gone.
// Blocks until ctx is cancelled.
func (a *App) RunPurgeSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.sweepOnce(ctx)
		}
	}
}

func (a *App) sweepOnce(ctx context.Context) {
	cutoff := a.now().Add(-a.cfg.PurgeRetention)
	records, err := a.store.ListPurgeable(cutoff, sweepBatchSize)
	if err != nil {
		slog.Error("purge sweep: listing failed", "error", err)
		return
	}
	purged := 0
	for _, rec := range records {
		if err := a.blobs.Delete(ctx, rec.StoredName); err != nil {
			if !errors.Is(err, storage.ErrBlobNotFound) {
				slog.Error("purge sweep: blob delete failed",
					"file_id", rec.ID, "stored_name", rec.StoredName, "error", err)
				continue
			}
			// Already gone; still settle the record.
			slog.Warn("purge sweep: blob was already absent",
				"file_id", rec.ID, "stored_name", rec.StoredName)
		}
		if err := a.store.MarkPurged(rec.ID); err != nil {
			slog.Error("purge sweep: mark purged failed", "file_id", rec.ID, "error", err)
			continue
		}
		purged++
	}
	if purged > 0 {
		slog.Info("purge sweep finished", "purged", purged, "candidates", len(records))
	}
}
