// Package policy decides which file names and archive members may be admitted.
package policy

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"securevault/internal/server/database"
)

// MaxExtensionLength bounds rule extensions.
const MaxExtensionLength = 10

var (
	ErrInvalidExtension = errors.New("extension must be 1-10 characters of a-z and 0-9")

	extensionPattern = regexp.MustCompile(`^[a-z0-9]{1,10}$`)
)

// Extension derives the lower-cased extension of a file or member name.
// Backslashes count as separators and only the last path element is used.
// A name without a dot, or ending in one, has no extension.
func Extension(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := path.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	i := strings.LastIndexByte(base, '.')
	if i < 0 || i == len(base)-1 {
		return ""
	}
	return strings.ToLower(base[i+1:])
}

// NormalizeExtension canonicalizes an administrator-supplied extension
// (" .EXE " becomes "exe") and validates it.
func NormalizeExtension(ext string) (string, error) {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if !extensionPattern.MatchString(ext) {
		return "", fmt.Errorf("%w: %q", ErrInvalidExtension, ext)
	}
	return ext, nil
}

// RuleSource looks up extension rules.
type RuleSource interface {
	GetExtensionRule(ctx context.Context, extension string) (*database.ExtensionRule, error)
}

// ExtensionPolicy answers whether an extension is prohibited. Extensions
// without a rule are allowed.
type ExtensionPolicy struct {
	rules RuleSource
}

// NewExtensionPolicy creates a policy backed by rules.
func NewExtensionPolicy(rules RuleSource) *ExtensionPolicy {
	return &ExtensionPolicy{rules: rules}
}

// IsProhibited reports whether ext matches a prohibiting rule. Matching is
// case-insensitive and the empty extension never matches. Only rule store
// failures are returned as errors.
func (p *ExtensionPolicy) IsProhibited(ctx context.Context, ext string) (bool, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return false, nil
	}

	rule, err := p.rules.GetExtensionRule(ctx, ext)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up extension rule: %w", err)
	}
	return rule.IsProhibited, nil
}
