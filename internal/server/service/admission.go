package service

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"securevault/internal/server/database"
	"securevault/internal/server/metrics"
	"securevault/internal/server/policy"
	"securevault/internal/server/settings"
)

// AdmitUpload runs the admission pipeline: extension gate, archive gate,
// quota gate, then persistence and ledger update. Either a FileRecord is
// created and the ledger recomputed, or nothing is left behind.
//
// declaredSize may be -1 when unknown; the admitted size is the number of
// bytes actually read from body.
func (s *Service) AdmitUpload(ctx context.Context, p Principal, displayName string, declaredSize int64, body io.Reader) (*database.FileRecord, error) {
	rec, err := s.admit(ctx, p, displayName, declaredSize, body)
	if err != nil {
		code := codeOf(err)
		metrics.Admissions.WithLabelValues(string(code)).Inc()
		if code == CodeStorageFailure {
			slog.Error("upload failed", "principal", p.ID, "filename", displayName, "error", err)
		} else {
			slog.Info("upload rejected", "principal", p.ID, "filename", displayName, "reason", code)
		}
		return nil, asServiceError(err)
	}

	metrics.Admissions.WithLabelValues(metrics.ResultAdmitted).Inc()
	metrics.AdmittedBytes.Add(float64(rec.SizeBytes))
	slog.Info("upload admitted",
		"principal", p.ID,
		"file_id", rec.ID,
		"filename", rec.DisplayName,
		"size", rec.SizeBytes,
		"mime_type", rec.MimeType,
	)
	return rec, nil
}

func (s *Service) admit(ctx context.Context, p Principal, displayName string, declaredSize int64, body io.Reader) (*database.FileRecord, error) {
	name := sanitizeFilename(displayName)
	ext := policy.Extension(name)

	// 1. Extension gate
	prohibited, err := s.policy.IsProhibited(ctx, ext)
	if err != nil {
		return nil, storageFailure(err)
	}
	if prohibited {
		return nil, NewError(CodeProhibitedExtension, fmt.Sprintf("files with extension .%s are not allowed", ext)).
			with("extension", ext)
	}

	// 2. Size ceiling, then buffer with a hard cap
	maxSize, err := s.maxFileSize(ctx)
	if err != nil {
		return nil, err
	}
	if declaredSize > maxSize {
		return nil, tooLarge(maxSize)
	}
	data, err := io.ReadAll(io.LimitReader(body, maxSize+1))
	if err != nil {
		return nil, validation("failed to read upload body").wrap(err)
	}
	if int64(len(data)) > maxSize {
		return nil, tooLarge(maxSize)
	}
	size := int64(len(data))
	if declaredSize >= 0 && declaredSize != size {
		slog.Debug("declared size differs from body", "declared", declaredSize, "actual", size)
	}

	// 3. Archive gate
	if s.archives.Applies(ext) {
		enabled, err := s.settings.Bool(ctx, settings.KeyEnableZipAnalysis, true)
		if err != nil {
			return nil, storageFailure(err)
		}
		if enabled {
			if err := s.archives.Inspect(ctx, bytes.NewReader(data), size); err != nil {
				return nil, archiveError(err)
			}
		}
	}

	mimeType := mimetype.Detect(data).String()
	sum := blake2b.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	// 4. Quota gate, persistence and ledger update under the principal's lock.
	// The default limit is read beforehand: inside the lock q holds a pool
	// connection and the settings store would need another.
	ledger, err := s.ledger.Pinned(ctx)
	if err != nil {
		return nil, storageFailure(err)
	}

	var rec *database.FileRecord
	var handle string
	err = s.store.WithPrincipalLock(ctx, p.ID, func(q database.Queries) error {
		u, err := q.GetUser(ctx, p.ID)
		if err != nil {
			return err
		}

		d, err := ledger.CanAdmit(ctx, q, u, size)
		if err != nil {
			return err
		}
		if !d.Allowed {
			return NewError(CodeQuotaExceeded, "storage quota exceeded").
				with("used", d.Used).
				with("limit", d.Limit.Bytes).
				with("incoming", d.Incoming)
		}

		handle, _, err = s.blobs.Put(ctx, bytes.NewReader(data))
		if err != nil {
			handle = ""
			return storageFailure(fmt.Errorf("failed to store bytes: %w", err))
		}

		rec = &database.FileRecord{
			ID:           uuid.NewString(),
			OwnerID:      p.ID,
			DisplayName:  name,
			StoredHandle: handle,
			SizeBytes:    size,
			Extension:    ext,
			MimeType:     mimeType,
			Checksum:     checksum,
			CreatedAt:    s.now(),
		}
		if err := q.CreateFile(ctx, rec); err != nil {
			return fmt.Errorf("failed to create file record: %w", err)
		}

		_, err = ledger.Recompute(ctx, q, p.ID)
		return err
	})
	if err != nil {
		if handle != "" {
			if derr := s.blobs.Delete(context.WithoutCancel(ctx), handle); derr != nil {
				slog.Error("failed to remove bytes of rejected upload", "handle", handle, "error", derr)
			}
		}
		if errors.Is(err, database.ErrNotFound) {
			return nil, notFound("principal")
		}
		return nil, err
	}
	return rec, nil
}

// maxFileSize returns the configured ceiling, lowered by the max_file_size
// setting when that is positive.
func (s *Service) maxFileSize(ctx context.Context) (int64, error) {
	limit := s.opts.MaxFileSize
	v, err := s.settings.Int(ctx, settings.KeyMaxFileSize, 0)
	if err != nil {
		return 0, storageFailure(err)
	}
	if v > 0 && v < limit {
		limit = v
	}
	return limit, nil
}

func tooLarge(limit int64) *Error {
	return NewError(CodeFileTooLarge, fmt.Sprintf("file exceeds maximum allowed size of %d bytes", limit)).
		with("limit", limit)
}

func archiveError(err error) error {
	var pm *policy.ProhibitedMemberError
	switch {
	case errors.As(err, &pm):
		return NewError(CodeProhibitedArchiveMember,
			fmt.Sprintf("archive contains prohibited file %q", pm.Member)).
			with("member", pm.Member).
			with("extension", pm.Extension)
	case errors.Is(err, policy.ErrCorruptArchive):
		return NewError(CodeCorruptArchive, "archive is corrupt or cannot be read").wrap(err)
	case errors.Is(err, policy.ErrArchiveLimitExceeded):
		return NewError(CodeArchiveLimitExceeded, "archive has too many entries or is too large to inspect").wrap(err)
	default:
		return storageFailure(err)
	}
}

// sanitizeFilename strips directory components and limits length.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes to forward slashes before
	// taking the base name.
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimSpace(path.Base(name))
	name = strings.ToValidUTF8(name, "\uFFFD")

	// Limit length to 255 bytes without splitting a character
	if len(name) > 255 {
		ext := path.Ext(name)
		if len(ext) > 32 {
			ext = ""
		}
		cut := 255 - len(ext)
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut] + ext
	}

	if name == "" || name == "." || name == "/" {
		name = "upload"
	}

	return name
}
