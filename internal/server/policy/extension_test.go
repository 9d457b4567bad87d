package policy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securevault/internal/server/database"
)

type ruleMap map[string]bool

func (m ruleMap) GetExtensionRule(ctx context.Context, ext string) (*database.ExtensionRule, error) {
	prohibited, ok := m[strings.ToLower(ext)]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &database.ExtensionRule{Extension: ext, IsProhibited: prohibited}, nil
}

type failingRules struct{}

func (failingRules) GetExtensionRule(context.Context, string) (*database.ExtensionRule, error) {
	return nil, errors.New("connection refused")
}

func TestExtension(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"file.exe", "exe"},
		{"FILE.EXE", "exe"},
		{"archive.tar.gz", "gz"},
		{"README", ""},
		{"trailing.", ""},
		{".bashrc", "bashrc"},
		{"dir/sub/virus.JS", "js"},
		{`C:\Users\bob\evil.bat`, "bat"},
		{"folder.with.dots/", "dots"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extension(tt.name))
		})
	}
}

func TestNormalizeExtension(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"exe", "exe", false},
		{" .EXE ", "exe", false},
		{"mp4", "mp4", false},
		{"", "", true},
		{".", "", true},
		{"tar.gz", "", true},
		{"abcdefghijk", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeExtension(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidExtension)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtensionPolicy_IsProhibited(t *testing.T) {
	ctx := context.Background()
	p := NewExtensionPolicy(ruleMap{"exe": true, "txt": false})

	tests := []struct {
		ext  string
		want bool
	}{
		{"exe", true},
		{"EXE", true},
		{"Exe", true},
		{"txt", false},
		{"pdf", false}, // no rule: allowed
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			got, err := p.IsProhibited(ctx, tt.ext)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtensionPolicy_PropagatesStoreErrors(t *testing.T) {
	_, err := NewExtensionPolicy(failingRules{}).IsProhibited(context.Background(), "exe")
	assert.Error(t, err)
}
