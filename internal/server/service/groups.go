package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"securevault/internal/server/database"
)

// GroupInput carries the editable fields of a group.
type GroupInput struct {
	Name        string
	Description string
	Limit       *int64 // bytes; nil defers to the system default
}

func (in *GroupInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" || len(in.Name) > 255 {
		return validation("group name must be 1-255 characters")
	}
	if len(in.Description) > 1000 {
		return validation("group description must be at most 1000 characters")
	}
	if in.Limit != nil && *in.Limit < 0 {
		return validation("group storage limit must not be negative")
	}
	return nil
}

// CreateGroup creates a group. Administrators only.
func (s *Service) CreateGroup(ctx context.Context, p Principal, in GroupInput) (*database.Group, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.now()
	g := &database.Group{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		Limit:       in.Limit,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateGroup(ctx, g); err != nil {
		return nil, writeError(err, "group")
	}

	slog.Info("group created", "group_id", g.ID, "name", g.Name, "by", p.ID)
	return g, nil
}

// UpdateGroup replaces a group's name, description and limit.
func (s *Service) UpdateGroup(ctx context.Context, p Principal, id string, in GroupInput) (*database.Group, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	g, err := s.store.GetGroup(ctx, id)
	if err != nil {
		return nil, lookupError(err, "group")
	}
	g.Name = in.Name
	g.Description = in.Description
	g.Limit = in.Limit
	g.UpdatedAt = s.now()
	if err := s.store.UpdateGroup(ctx, g); err != nil {
		return nil, writeError(err, "group")
	}

	slog.Info("group updated", "group_id", g.ID, "by", p.ID)
	return g, nil
}

// SetGroupLimit sets or clears (nil) a group's limit.
func (s *Service) SetGroupLimit(ctx context.Context, p Principal, id string, limit *int64) (*database.Group, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	g, err := s.store.GetGroup(ctx, id)
	if err != nil {
		return nil, lookupError(err, "group")
	}
	return s.UpdateGroup(ctx, p, id, GroupInput{Name: g.Name, Description: g.Description, Limit: limit})
}

// GetGroup returns a group. Administrators only.
func (s *Service) GetGroup(ctx context.Context, p Principal, id string) (*database.Group, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	g, err := s.store.GetGroup(ctx, id)
	if err != nil {
		return nil, lookupError(err, "group")
	}
	return g, nil
}

// ListGroups returns all groups. Administrators only.
func (s *Service) ListGroups(ctx context.Context, p Principal) ([]*database.Group, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return nil, storageFailure(err)
	}
	return groups, nil
}

// DeleteGroup removes a group and its memberships. Members' files are kept.
func (s *Service) DeleteGroup(ctx context.Context, p Principal, id string) error {
	if err := requireAdmin(p); err != nil {
		return err
	}
	if err := s.store.DeleteGroup(ctx, id); err != nil {
		return lookupError(err, "group")
	}
	slog.Info("group deleted", "group_id", id, "by", p.ID)
	return nil
}

// writeError maps create/update failures.
func writeError(err error, what string) error {
	switch {
	case errors.Is(err, database.ErrConflict):
		return NewError(CodeConflict, fmt.Sprintf("%s already exists", what))
	case errors.Is(err, database.ErrNotFound):
		return notFound(what)
	default:
		return storageFailure(err)
	}
}
