package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"securevault/internal/server/database"
	"securevault/internal/server/settings"
)

var defaultProhibited = []struct {
	ext         string
	description string
}{
	{"exe", "Executable files"},
	{"bat", "Batch files"},
	{"cmd", "Command files"},
	{"com", "Command files"},
	{"scr", "Screen saver files"},
	{"vbs", "VBScript files"},
	{"js", "JavaScript files"},
	{"php", "PHP files"},
	{"sh", "Shell scripts"},
}

// Seed installs the default extension rules and settings. Existing rules and
// settings are left untouched, so it is safe to run repeatedly.
func (s *Service) Seed(ctx context.Context) error {
	var added int
	for _, d := range defaultProhibited {
		_, err := s.store.GetExtensionRule(ctx, d.ext)
		if err == nil {
			continue
		}
		if !errors.Is(err, database.ErrNotFound) {
			return storageFailure(err)
		}

		now := s.now()
		if err := s.store.UpsertExtensionRule(ctx, &database.ExtensionRule{
			ID:           uuid.NewString(),
			Extension:    d.ext,
			IsProhibited: true,
			Description:  d.description,
			CreatedAt:    now,
			UpdatedAt:    now,
		}); err != nil {
			return storageFailure(err)
		}
		added++
	}

	type seeded struct {
		key   string
		apply func() error
	}
	defaults := []seeded{
		{settings.KeyDefaultStorageLimit, func() error {
			return s.settings.SetInt(ctx, settings.KeyDefaultStorageLimit, 50<<20, "Default storage limit in bytes")
		}},
		{settings.KeyMaxFileSize, func() error {
			return s.settings.SetInt(ctx, settings.KeyMaxFileSize, 100<<20, "Maximum file size in bytes")
		}},
		{settings.KeyEnableZipAnalysis, func() error {
			return s.settings.SetBool(ctx, settings.KeyEnableZipAnalysis, true, "Inspect archive contents on upload")
		}},
		{settings.KeySystemName, func() error {
			return s.settings.SetString(ctx, settings.KeySystemName, "SecureVault", "System name")
		}},
	}
	for _, d := range defaults {
		_, err := s.store.GetSetting(ctx, d.key)
		if err == nil {
			continue
		}
		if !errors.Is(err, database.ErrNotFound) {
			return storageFailure(err)
		}
		if err := d.apply(); err != nil {
			return storageFailure(err)
		}
		added++
	}

	slog.Info("seed complete", "added", added)
	return nil
}
