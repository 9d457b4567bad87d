package service

import (
	"context"
	"errors"
	"log/slog"

	"securevault/internal/server/database"
	"securevault/internal/server/metrics"
)

// DeleteFile removes a file owned by p, or any file when p is an
// administrator. The record is removed and the owner's ledger recomputed in
// one locked section; the stored bytes are deleted afterwards on a
// best-effort basis and left to the orphan sweeper if that fails.
func (s *Service) DeleteFile(ctx context.Context, p Principal, fileID string) error {
	err := s.deleteFile(ctx, p, fileID)
	if err != nil {
		metrics.Deletions.WithLabelValues(string(codeOf(err))).Inc()
		return asServiceError(err)
	}
	metrics.Deletions.WithLabelValues(metrics.ResultDeleted).Inc()
	return nil
}

func (s *Service) deleteFile(ctx context.Context, p Principal, fileID string) error {
	f, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return lookupError(err, "file")
	}
	if f.OwnerID != p.ID && !p.Admin {
		return forbidden()
	}

	err = s.store.WithPrincipalLock(ctx, f.OwnerID, func(q database.Queries) error {
		if err := q.DeleteFile(ctx, f.ID); err != nil {
			return err
		}
		_, err := s.ledger.Recompute(ctx, q, f.OwnerID)
		return err
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return notFound("file")
		}
		slog.Error("failed to delete file record", "file_id", f.ID, "owner", f.OwnerID, "error", err)
		return storageFailure(err)
	}

	if err := s.blobs.Delete(context.WithoutCancel(ctx), f.StoredHandle); err != nil {
		metrics.ByteDeleteFailures.Inc()
		slog.Error("failed to delete stored bytes, leaving to sweeper",
			"file_id", f.ID,
			"handle", f.StoredHandle,
			"error", err,
		)
	}

	slog.Info("file deleted",
		"file_id", f.ID,
		"owner", f.OwnerID,
		"deleted_by", p.ID,
		"size", f.SizeBytes,
	)
	return nil
}
