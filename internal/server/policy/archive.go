package policy

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrCorruptArchive       = errors.New("archive is corrupt or unreadable")
	ErrArchiveLimitExceeded = errors.New("archive exceeds inspection limits")
)

// ProhibitedMemberError names the first archive member whose extension is prohibited.
type ProhibitedMemberError struct {
	Member    string
	Extension string
}

func (e *ProhibitedMemberError) Error() string {
	return fmt.Sprintf("archive member %q has prohibited extension %q", e.Member, e.Extension)
}

// Checker decides whether a single extension is prohibited.
type Checker interface {
	IsProhibited(ctx context.Context, ext string) (bool, error)
}

// Limits bounds the work done on one archive.
type Limits struct {
	MaxEntries      int
	MaxUncompressed int64 // sum of declared uncompressed sizes
}

// ArchiveInspector applies an extension policy to every member of an archive
// by reading its central directory. Nothing is decompressed or extracted.
type ArchiveInspector struct {
	policy     Checker
	limits     Limits
	extensions map[string]bool
}

// NewArchiveInspector creates an inspector for the given archive extensions.
func NewArchiveInspector(policy Checker, limits Limits, extensions []string) *ArchiveInspector {
	exts := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		exts[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	return &ArchiveInspector{policy: policy, limits: limits, extensions: exts}
}

// Applies reports whether uploads with this extension are inspected.
func (a *ArchiveInspector) Applies(ext string) bool {
	return a.extensions[strings.ToLower(ext)]
}

// Inspect checks bounds, then scans members in directory order and stops at
// the first prohibited one, returning a *ProhibitedMemberError.
func (a *ArchiveInspector) Inspect(ctx context.Context, r io.ReaderAt, size int64) error {
	reader, err := zip.NewReader(r, size)
	if err != nil && !(errors.Is(err, zip.ErrInsecurePath) && reader != nil) {
		return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}

	if a.limits.MaxEntries > 0 && len(reader.File) > a.limits.MaxEntries {
		return fmt.Errorf("%w: %d entries, limit %d", ErrArchiveLimitExceeded, len(reader.File), a.limits.MaxEntries)
	}

	if a.limits.MaxUncompressed > 0 {
		limit := uint64(a.limits.MaxUncompressed)
		var total uint64
		for _, f := range reader.File {
			// total <= limit holds here, so limit-total cannot wrap.
			if f.UncompressedSize64 > limit-total {
				return fmt.Errorf("%w: uncompressed size exceeds %d bytes", ErrArchiveLimitExceeded, a.limits.MaxUncompressed)
			}
			total += f.UncompressedSize64
		}
	}

	decided := make(map[string]bool)
	for _, f := range reader.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		ext := Extension(f.Name)
		prohibited, seen := decided[ext]
		if !seen {
			prohibited, err = a.policy.IsProhibited(ctx, ext)
			if err != nil {
				return err
			}
			decided[ext] = prohibited
		}
		if prohibited {
			return &ProhibitedMemberError{Member: f.Name, Extension: ext}
		}
	}
	return nil
}
