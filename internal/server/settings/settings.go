// Package settings provides typed access to the system key/value settings.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"securevault/internal/server/database"
	"securevault/internal/server/metrics"
)

// Well-known keys.
const (
	KeyDefaultStorageLimit = "default_storage_limit"
	KeyMaxFileSize         = "max_file_size"
	KeyEnableZipAnalysis   = "enable_zip_analysis"
	KeySystemName          = "system_name"
)

// FallbackDefaultStorageLimit applies when default_storage_limit was never written.
const FallbackDefaultStorageLimit int64 = 10 << 20 // 10MB

// ErrTypeMismatch is returned when a setter targets a key stored with another type.
var ErrTypeMismatch = errors.New("setting has a different type")

// Store is the persistence the provider reads through.
type Store interface {
	GetSetting(ctx context.Context, key string) (*database.Setting, error)
	ListSettings(ctx context.Context) ([]*database.Setting, error)
	UpsertSetting(ctx context.Context, s *database.Setting) error
}

// Provider reads settings through an expirable LRU. A nil cache value
// records that the key is absent. Writes made through the provider
// invalidate the key; the TTL bounds staleness for writes made elsewhere.
type Provider struct {
	store Store
	cache *expirable.LRU[string, *database.Setting]
}

// NewProvider creates a provider caching up to size keys for ttl.
func NewProvider(store Store, size int, ttl time.Duration) *Provider {
	return &Provider{
		store: store,
		cache: expirable.NewLRU[string, *database.Setting](size, nil, ttl),
	}
}

func (p *Provider) get(ctx context.Context, key string) (*database.Setting, error) {
	if s, ok := p.cache.Get(key); ok {
		metrics.SettingsCacheHits.Inc()
		return s, nil
	}
	metrics.SettingsCacheMisses.Inc()

	s, err := p.store.GetSetting(ctx, key)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			p.cache.Add(key, nil)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	p.cache.Add(key, s)
	return s, nil
}

// Int returns the integer value of key, or def if the key is unset or unparsable.
func (p *Provider) Int(ctx context.Context, key string, def int64) (int64, error) {
	s, err := p.get(ctx, key)
	if err != nil || s == nil {
		return def, err
	}
	v, err := strconv.ParseInt(s.Value, 10, 64)
	if err != nil {
		slog.Warn("unparsable integer setting, using default", "key", key, "value", s.Value, "default", def)
		return def, nil
	}
	return v, nil
}

// Bool returns the boolean value of key ("1"/"0", "true"/"false"), or def.
func (p *Provider) Bool(ctx context.Context, key string, def bool) (bool, error) {
	s, err := p.get(ctx, key)
	if err != nil || s == nil {
		return def, err
	}
	v, err := strconv.ParseBool(s.Value)
	if err != nil {
		slog.Warn("unparsable boolean setting, using default", "key", key, "value", s.Value, "default", def)
		return def, nil
	}
	return v, nil
}

// String returns the raw value of key, or def if unset.
func (p *Provider) String(ctx context.Context, key, def string) (string, error) {
	s, err := p.get(ctx, key)
	if err != nil || s == nil {
		return def, err
	}
	return s.Value, nil
}

// JSON decodes the value of key into dst. It reports false if the key is
// unset or does not decode, leaving dst untouched in the unset case.
func (p *Provider) JSON(ctx context.Context, key string, dst any) (bool, error) {
	s, err := p.get(ctx, key)
	if err != nil || s == nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(s.Value), dst); err != nil {
		slog.Warn("unparsable json setting", "key", key, "error", err)
		return false, nil
	}
	return true, nil
}

// Value returns the value of key decoded according to its stored type:
// int64, bool, string, or the generic JSON form for json settings. It reports
// false if the key is unset.
func (p *Provider) Value(ctx context.Context, key string) (any, bool, error) {
	s, err := p.get(ctx, key)
	if err != nil || s == nil {
		return nil, false, err
	}

	switch s.Type {
	case database.SettingInteger:
		v, err := p.Int(ctx, key, 0)
		return v, true, err
	case database.SettingBoolean:
		v, err := p.Bool(ctx, key, false)
		return v, true, err
	case database.SettingJSON:
		var v any
		if _, err := p.JSON(ctx, key, &v); err != nil {
			return nil, false, err
		}
		return v, true, nil
	default:
		return s.Value, true, nil
	}
}

// DefaultStorageLimit returns the system-wide quota fallback in bytes.
func (p *Provider) DefaultStorageLimit(ctx context.Context) (int64, error) {
	return p.Int(ctx, KeyDefaultStorageLimit, FallbackDefaultStorageLimit)
}

func (p *Provider) SetInt(ctx context.Context, key string, v int64, description string) error {
	return p.set(ctx, key, strconv.FormatInt(v, 10), database.SettingInteger, description)
}

func (p *Provider) SetBool(ctx context.Context, key string, v bool, description string) error {
	value := "0"
	if v {
		value = "1"
	}
	return p.set(ctx, key, value, database.SettingBoolean, description)
}

func (p *Provider) SetString(ctx context.Context, key, v, description string) error {
	return p.set(ctx, key, v, database.SettingString, description)
}

func (p *Provider) SetJSON(ctx context.Context, key string, v any, description string) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode setting %s: %w", key, err)
	}
	return p.set(ctx, key, string(b), database.SettingJSON, description)
}

func (p *Provider) set(ctx context.Context, key, value, typ, description string) error {
	existing, err := p.get(ctx, key)
	if err != nil {
		return err
	}
	if existing != nil && existing.Type != typ {
		return fmt.Errorf("%w: %s is %s, not %s", ErrTypeMismatch, key, existing.Type, typ)
	}

	err = p.store.UpsertSetting(ctx, &database.Setting{
		Key:         key,
		Value:       value,
		Type:        typ,
		Description: description,
		UpdatedAt:   time.Now().UTC(),
	})
	p.cache.Remove(key)
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

// List returns all settings straight from the store.
func (p *Provider) List(ctx context.Context) ([]*database.Setting, error) {
	list, err := p.store.ListSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	return list, nil
}
