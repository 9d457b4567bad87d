package service

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"

	"securevault/internal/server/database"
)

// UserInput registers a principal issued by the identity provider.
type UserInput struct {
	ID    string
	Name  string
	Email string
}

// UserView is a user together with their groups in membership order.
type UserView struct {
	*database.User
	Groups []*database.Group
}

// RegisterUser records a principal with zero usage and no explicit limit.
// Principals may register themselves; administrators may register anyone.
func (s *Service) RegisterUser(ctx context.Context, p Principal, in UserInput) (*database.User, error) {
	in.ID = strings.TrimSpace(in.ID)
	if in.ID == "" || len(in.ID) > 64 {
		return nil, validation("user id must be 1-64 characters")
	}
	if in.ID != p.ID && !p.Admin {
		return nil, forbidden()
	}
	if len(in.Name) > 255 {
		return nil, validation("name must be at most 255 characters")
	}
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			return nil, validation("email address is invalid")
		}
	}

	now := s.now()
	u := &database.User{
		ID:        in.ID,
		Name:      in.Name,
		Email:     in.Email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, writeError(err, "user")
	}

	slog.Info("user registered", "user_id", u.ID, "by", p.ID)
	return u, nil
}

// ListUsers returns every user with their groups. Administrators only.
func (s *Service) ListUsers(ctx context.Context, p Principal) ([]UserView, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, storageFailure(err)
	}

	views := make([]UserView, 0, len(users))
	for _, u := range users {
		groups, err := s.store.ListUserGroups(ctx, u.ID)
		if err != nil {
			return nil, storageFailure(err)
		}
		views = append(views, UserView{User: u, Groups: groups})
	}
	return views, nil
}

// SetUserLimit sets a user's explicit limit. nil or 0 clears it so the
// group and system default apply again.
func (s *Service) SetUserLimit(ctx context.Context, p Principal, userID string, limit *int64) (*database.User, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	if limit != nil && *limit < 0 {
		return nil, validation("storage limit must not be negative")
	}
	if limit != nil && *limit == 0 {
		limit = nil
	}

	if err := s.store.SetUserLimit(ctx, userID, limit); err != nil {
		return nil, lookupError(err, "user")
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, lookupError(err, "user")
	}

	slog.Info("user storage limit updated", "user_id", userID, "cleared", limit == nil, "by", p.ID)
	return u, nil
}

// AddUserToGroup appends a membership; it becomes the user's last group.
func (s *Service) AddUserToGroup(ctx context.Context, p Principal, userID, groupID string) error {
	if err := requireAdmin(p); err != nil {
		return err
	}
	if err := s.store.AddGroupMember(ctx, groupID, userID); err != nil {
		return writeError(err, "membership")
	}
	slog.Info("user added to group", "user_id", userID, "group_id", groupID, "by", p.ID)
	return nil
}

// RemoveUserFromGroup deletes a membership.
func (s *Service) RemoveUserFromGroup(ctx context.Context, p Principal, userID, groupID string) error {
	if err := requireAdmin(p); err != nil {
		return err
	}
	if err := s.store.RemoveGroupMember(ctx, groupID, userID); err != nil {
		return lookupError(err, "membership")
	}
	slog.Info("user removed from group", "user_id", userID, "group_id", groupID, "by", p.ID)
	return nil
}
