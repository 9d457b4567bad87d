package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"securevault/internal/server/database"
	"securevault/internal/server/policy"
	"securevault/internal/server/settings"
)

const maxDescriptionLength = 255

// SetDefaultLimit sets the system-wide fallback quota in bytes.
func (s *Service) SetDefaultLimit(ctx context.Context, p Principal, bytes int64) error {
	if err := requireAdmin(p); err != nil {
		return err
	}
	if bytes <= 0 {
		return validation("default storage limit must be positive")
	}

	if err := s.settings.SetInt(ctx, settings.KeyDefaultStorageLimit, bytes, "Default storage limit in bytes"); err != nil {
		return storageFailure(err)
	}
	slog.Info("default storage limit updated", "bytes", bytes, "by", p.ID)
	return nil
}

// DefaultLimit returns the system-wide fallback quota in bytes.
func (s *Service) DefaultLimit(ctx context.Context, p Principal) (int64, error) {
	if err := requireAdmin(p); err != nil {
		return 0, err
	}
	v, err := s.settings.DefaultStorageLimit(ctx)
	if err != nil {
		return 0, storageFailure(err)
	}
	return v, nil
}

// SetExtensionRule creates or replaces the rule for an extension.
func (s *Service) SetExtensionRule(ctx context.Context, p Principal, extension string, prohibited bool, description string) (*database.ExtensionRule, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	ext, err := policy.NormalizeExtension(extension)
	if err != nil {
		return nil, validation(err.Error())
	}
	if len(description) > maxDescriptionLength {
		return nil, validation(fmt.Sprintf("description must be at most %d characters", maxDescriptionLength))
	}

	now := s.now()
	rule := &database.ExtensionRule{
		ID:           uuid.NewString(),
		Extension:    ext,
		IsProhibited: prohibited,
		Description:  description,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.UpsertExtensionRule(ctx, rule); err != nil {
		return nil, storageFailure(err)
	}

	slog.Info("extension rule set", "extension", ext, "prohibited", prohibited, "by", p.ID)
	return rule, nil
}

// ListExtensionRules returns all rules. Administrators only.
func (s *Service) ListExtensionRules(ctx context.Context, p Principal) ([]*database.ExtensionRule, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	rules, err := s.store.ListExtensionRules(ctx)
	if err != nil {
		return nil, storageFailure(err)
	}
	return rules, nil
}

// DeleteExtensionRule removes a rule; the extension becomes allowed.
func (s *Service) DeleteExtensionRule(ctx context.Context, p Principal, id string) error {
	if err := requireAdmin(p); err != nil {
		return err
	}
	if err := s.store.DeleteExtensionRule(ctx, id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return notFound("extension rule")
		}
		return storageFailure(err)
	}
	slog.Info("extension rule deleted", "rule_id", id, "by", p.ID)
	return nil
}

// ListSettings returns every system setting. Administrators only.
func (s *Service) ListSettings(ctx context.Context, p Principal) ([]*database.Setting, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	list, err := s.settings.List(ctx)
	if err != nil {
		return nil, storageFailure(err)
	}
	return list, nil
}

// Setting returns the typed value of one system setting.
func (s *Service) Setting(ctx context.Context, p Principal, key string) (any, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	v, ok, err := s.settings.Value(ctx, key)
	if err != nil {
		return nil, storageFailure(err)
	}
	if !ok {
		return nil, notFound("setting")
	}
	return v, nil
}

// wellKnownTypes pins the type of settings the system itself reads.
var wellKnownTypes = map[string]string{
	settings.KeyDefaultStorageLimit: database.SettingInteger,
	settings.KeyMaxFileSize:         database.SettingInteger,
	settings.KeyEnableZipAnalysis:   database.SettingBoolean,
	settings.KeySystemName:          database.SettingString,
}

// UpdateSetting writes raw, a JSON value, under key. The stored type follows
// the JSON form: integers, booleans and strings keep their type, objects and
// arrays are stored as json. A key keeps the type it was first written with.
func (s *Service) UpdateSetting(ctx context.Context, p Principal, key string, raw json.RawMessage, description string) error {
	if err := requireAdmin(p); err != nil {
		return err
	}
	if key == "" || len(key) > 255 {
		return validation("setting key must be 1-255 characters")
	}
	if len(description) > maxDescriptionLength {
		return validation(fmt.Sprintf("description must be at most %d characters", maxDescriptionLength))
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return validation("setting value must be valid JSON")
	}

	var typ string
	switch value.(type) {
	case json.Number:
		typ = database.SettingInteger
	case bool:
		typ = database.SettingBoolean
	case string:
		typ = database.SettingString
	case map[string]any, []any:
		typ = database.SettingJSON
	default:
		return validation("setting value must not be null")
	}
	if want, ok := wellKnownTypes[key]; ok && want != typ {
		return validation(fmt.Sprintf("setting %s must be of type %s", key, want))
	}

	var err error
	switch v := value.(type) {
	case json.Number:
		n, perr := v.Int64()
		if perr != nil {
			return validation("integer settings must be whole numbers")
		}
		switch {
		case key == settings.KeyDefaultStorageLimit:
			return s.SetDefaultLimit(ctx, p, n)
		case key == settings.KeyMaxFileSize && n < 0:
			return validation("max file size must not be negative")
		}
		err = s.settings.SetInt(ctx, key, n, description)
	case bool:
		err = s.settings.SetBool(ctx, key, v, description)
	case string:
		err = s.settings.SetString(ctx, key, v, description)
	default:
		err = s.settings.SetJSON(ctx, key, raw, description)
	}
	if err != nil {
		if errors.Is(err, settings.ErrTypeMismatch) {
			return validation(err.Error())
		}
		return storageFailure(err)
	}

	slog.Info("setting updated", "key", key, "type", typ, "by", p.ID)
	return nil
}
