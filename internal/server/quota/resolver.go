// Package quota resolves storage ceilings and keeps the usage ledger consistent.
package quota

import (
	"context"
	"fmt"

	"securevault/internal/server/database"
)

// Tier names the level a limit was resolved from.
type Tier string

const (
	TierUser    Tier = "user"
	TierGroup   Tier = "group"
	TierDefault Tier = "default"
)

// Resolution is an effective limit and where it came from.
type Resolution struct {
	Bytes   int64
	Tier    Tier
	GroupID string // set when Tier is TierGroup
}

// Memberships lists a principal's groups, first-associated first.
type Memberships interface {
	ListUserGroups(ctx context.Context, userID string) ([]*database.Group, error)
}

// Defaults supplies the system-wide fallback limit.
type Defaults interface {
	DefaultStorageLimit(ctx context.Context) (int64, error)
}

// Resolver applies the user, first group, system default precedence.
type Resolver struct {
	defaults Defaults
}

// NewResolver creates a new Resolver.
func NewResolver(defaults Defaults) *Resolver {
	return &Resolver{defaults: defaults}
}

// Pinned reads the system default once and returns a Resolver that reuses
// it. EffectiveLimit on the result makes no reads outside q, so it is safe to
// call while q holds the only connection a caller can get.
func (r *Resolver) Pinned(ctx context.Context) (*Resolver, error) {
	def, err := r.defaults.DefaultStorageLimit(ctx)
	if err != nil {
		return nil, err
	}
	return NewResolver(fixedDefault(def)), nil
}

type fixedDefault int64

func (d fixedDefault) DefaultStorageLimit(context.Context) (int64, error) {
	return int64(d), nil
}

// EffectiveLimit resolves the ceiling for u. Only the first group is
// consulted; if it has no limit the system default applies even when later
// groups carry one.
func (r *Resolver) EffectiveLimit(ctx context.Context, q Memberships, u *database.User) (Resolution, error) {
	if u.ExplicitLimit != nil {
		return Resolution{Bytes: *u.ExplicitLimit, Tier: TierUser}, nil
	}

	groups, err := q.ListUserGroups(ctx, u.ID)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to list groups for %s: %w", u.ID, err)
	}
	if len(groups) > 0 && groups[0].Limit != nil {
		return Resolution{Bytes: *groups[0].Limit, Tier: TierGroup, GroupID: groups[0].ID}, nil
	}

	def, err := r.defaults.DefaultStorageLimit(ctx)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Bytes: def, Tier: TierDefault}, nil
}
