package service

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"securevault/internal/server/database"
	"securevault/internal/server/quota"
	"securevault/internal/server/storage"
)

// ListFiles returns p's files, newest first.
func (s *Service) ListFiles(ctx context.Context, p Principal) ([]*database.FileRecord, error) {
	files, err := s.store.ListFilesByOwner(ctx, p.ID)
	if err != nil {
		return nil, storageFailure(err)
	}
	return files, nil
}

// ListAllFiles returns every file. Administrators only.
func (s *Service) ListAllFiles(ctx context.Context, p Principal) ([]*database.FileRecord, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	files, err := s.store.ListFiles(ctx)
	if err != nil {
		return nil, storageFailure(err)
	}
	return files, nil
}

// OpenFile returns a file's record and a reader for its bytes. The caller
// closes the reader.
func (s *Service) OpenFile(ctx context.Context, p Principal, fileID string) (*database.FileRecord, io.ReadCloser, error) {
	f, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, nil, lookupError(err, "file")
	}
	if f.OwnerID != p.ID && !p.Admin {
		return nil, nil, forbidden()
	}

	rc, err := s.blobs.Open(ctx, f.StoredHandle)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			slog.Error("file record without stored bytes", "file_id", f.ID, "handle", f.StoredHandle)
			return nil, nil, notFound("file content")
		}
		return nil, nil, storageFailure(err)
	}
	return f, rc, nil
}

// StorageInfo reports p's usage against its effective limit.
func (s *Service) StorageInfo(ctx context.Context, p Principal) (quota.Report, error) {
	return s.storageInfo(ctx, p.ID)
}

// UserStorageInfo reports another user's usage. Administrators only.
func (s *Service) UserStorageInfo(ctx context.Context, p Principal, userID string) (quota.Report, error) {
	if err := requireAdmin(p); err != nil {
		return quota.Report{}, err
	}
	return s.storageInfo(ctx, userID)
}

func (s *Service) storageInfo(ctx context.Context, userID string) (quota.Report, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return quota.Report{}, lookupError(err, "user")
	}
	r, err := s.ledger.Report(ctx, s.store, u)
	if err != nil {
		return quota.Report{}, storageFailure(err)
	}
	return r, nil
}
