package policy

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestZip builds an in-memory archive with entries in the given order.
func createTestZip(t *testing.T, names ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("content of " + name))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// createSizedZip builds an archive of empty stored entries whose headers
// declare the given uncompressed sizes.
func createSizedZip(t *testing.T, sizes ...uint64) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i, size := range sizes {
		_, err := zw.CreateRaw(&zip.FileHeader{
			Name:               fmt.Sprintf("part%d.bin", i),
			Method:             zip.Store,
			UncompressedSize64: size,
		})
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type countingChecker struct {
	rules ruleMap
	calls int
}

func (c *countingChecker) IsProhibited(ctx context.Context, ext string) (bool, error) {
	c.calls++
	return NewExtensionPolicy(c.rules).IsProhibited(ctx, ext)
}

func inspect(t *testing.T, a *ArchiveInspector, data []byte) error {
	t.Helper()
	return a.Inspect(context.Background(), bytes.NewReader(data), int64(len(data)))
}

func defaultLimits() Limits {
	return Limits{MaxEntries: 100, MaxUncompressed: 1 << 20}
}

func TestArchiveInspector_Inspect(t *testing.T) {
	rules := ruleMap{"js": true, "exe": true}

	t.Run("accepts allowed members", func(t *testing.T) {
		a := NewArchiveInspector(NewExtensionPolicy(rules), defaultLimits(), []string{"zip"})
		data := createTestZip(t, "notes.txt", "docs/readme.md", "images/")
		assert.NoError(t, inspect(t, a, data))
	})

	t.Run("rejects prohibited member by name", func(t *testing.T) {
		a := NewArchiveInspector(NewExtensionPolicy(rules), defaultLimits(), []string{"zip"})
		data := createTestZip(t, "notes.txt", "virus.js")

		err := inspect(t, a, data)
		var pm *ProhibitedMemberError
		require.ErrorAs(t, err, &pm)
		assert.Equal(t, "virus.js", pm.Member)
		assert.Equal(t, "js", pm.Extension)
		assert.Contains(t, err.Error(), "virus.js")
	})

	t.Run("stops at first prohibited member", func(t *testing.T) {
		a := NewArchiveInspector(NewExtensionPolicy(rules), defaultLimits(), []string{"zip"})
		data := createTestZip(t, "a.txt", "nested/SETUP.EXE", "z.js")

		var pm *ProhibitedMemberError
		require.ErrorAs(t, inspect(t, a, data), &pm)
		assert.Equal(t, "nested/SETUP.EXE", pm.Member)
	})

	t.Run("normalizes backslash member names", func(t *testing.T) {
		a := NewArchiveInspector(NewExtensionPolicy(rules), defaultLimits(), []string{"zip"})
		data := createTestZip(t, `win\dir\run.exe`)

		var pm *ProhibitedMemberError
		require.ErrorAs(t, inspect(t, a, data), &pm)
		assert.Equal(t, "exe", pm.Extension)
	})

	t.Run("looks up each extension once", func(t *testing.T) {
		checker := &countingChecker{rules: rules}
		a := NewArchiveInspector(checker, defaultLimits(), []string{"zip"})
		data := createTestZip(t, "a.txt", "b.txt", "c.txt", "d.md")

		require.NoError(t, inspect(t, a, data))
		assert.Equal(t, 2, checker.calls)
	})

	t.Run("empty archive", func(t *testing.T) {
		a := NewArchiveInspector(NewExtensionPolicy(rules), defaultLimits(), []string{"zip"})
		assert.NoError(t, inspect(t, a, createTestZip(t)))
	})
}

func TestArchiveInspector_Corrupt(t *testing.T) {
	a := NewArchiveInspector(NewExtensionPolicy(ruleMap{}), defaultLimits(), []string{"zip"})

	tests := []struct {
		name string
		data []byte
	}{
		{"not a zip", []byte("this is not a zip file")},
		{"empty", []byte{}},
		{"truncated", createTestZip(t, "a.txt")[:20]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, inspect(t, a, tt.data), ErrCorruptArchive)
		})
	}
}

func TestArchiveInspector_Limits(t *testing.T) {
	t.Run("too many entries", func(t *testing.T) {
		a := NewArchiveInspector(NewExtensionPolicy(ruleMap{}), Limits{MaxEntries: 2, MaxUncompressed: 1 << 20}, []string{"zip"})
		data := createTestZip(t, "a.txt", "b.txt", "c.txt")
		assert.ErrorIs(t, inspect(t, a, data), ErrArchiveLimitExceeded)
	})

	t.Run("declared size too large", func(t *testing.T) {
		a := NewArchiveInspector(NewExtensionPolicy(ruleMap{}), Limits{MaxEntries: 10, MaxUncompressed: 10}, []string{"zip"})
		data := createTestZip(t, "a.txt", "b.txt")
		assert.ErrorIs(t, inspect(t, a, data), ErrArchiveLimitExceeded)
	})

	t.Run("declared sizes that wrap uint64", func(t *testing.T) {
		a := NewArchiveInspector(NewExtensionPolicy(ruleMap{}), Limits{MaxEntries: 10, MaxUncompressed: 1 << 30}, []string{"zip"})
		data := createSizedZip(t, 2, math.MaxUint64-1)
		assert.ErrorIs(t, inspect(t, a, data), ErrArchiveLimitExceeded)
	})

	t.Run("declared sizes exactly at the limit", func(t *testing.T) {
		a := NewArchiveInspector(NewExtensionPolicy(ruleMap{}), Limits{MaxEntries: 10, MaxUncompressed: 100}, []string{"zip"})
		data := createSizedZip(t, 60, 40)
		assert.NoError(t, inspect(t, a, data))
	})

	t.Run("bounds checked before policy lookups", func(t *testing.T) {
		checker := &countingChecker{rules: ruleMap{}}
		a := NewArchiveInspector(checker, Limits{MaxEntries: 1, MaxUncompressed: 1 << 20}, []string{"zip"})
		data := createTestZip(t, "a.txt", "b.exe")

		require.ErrorIs(t, inspect(t, a, data), ErrArchiveLimitExceeded)
		assert.Zero(t, checker.calls)
	})
}

func TestArchiveInspector_Cancelled(t *testing.T) {
	a := NewArchiveInspector(NewExtensionPolicy(ruleMap{}), defaultLimits(), []string{"zip"})
	data := createTestZip(t, "a.txt")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.Inspect(ctx, bytes.NewReader(data), int64(len(data)))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestArchiveInspector_Applies(t *testing.T) {
	a := NewArchiveInspector(nil, Limits{}, []string{"zip", ".JAR"})
	assert.True(t, a.Applies("zip"))
	assert.True(t, a.Applies("ZIP"))
	assert.True(t, a.Applies("jar"))
	assert.False(t, a.Applies("txt"))
	assert.False(t, a.Applies(""))
}
