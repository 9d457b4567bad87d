package database

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// Queries is the set of record operations available both on a Store and
// inside a principal-locked section.
type Queries interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	SetUserLimit(ctx context.Context, id string, limit *int64) error
	SetUserConsumed(ctx context.Context, id string, consumed int64) error

	CreateGroup(ctx context.Context, g *Group) error
	GetGroup(ctx context.Context, id string) (*Group, error)
	ListGroups(ctx context.Context) ([]*Group, error)
	UpdateGroup(ctx context.Context, g *Group) error
	DeleteGroup(ctx context.Context, id string) error
	AddGroupMember(ctx context.Context, groupID, userID string) error
	RemoveGroupMember(ctx context.Context, groupID, userID string) error
	// ListUserGroups returns the user's groups in membership creation order,
	// ties broken by group id.
	ListUserGroups(ctx context.Context, userID string) ([]*Group, error)

	CreateFile(ctx context.Context, f *FileRecord) error
	GetFile(ctx context.Context, id string) (*FileRecord, error)
	DeleteFile(ctx context.Context, id string) error
	// ListFilesByOwner returns the owner's files, newest first.
	ListFilesByOwner(ctx context.Context, ownerID string) ([]*FileRecord, error)
	// ListFiles returns every file, newest first.
	ListFiles(ctx context.Context) ([]*FileRecord, error)
	SumFileSizes(ctx context.Context, ownerID string) (int64, error)
	HandleReferenced(ctx context.Context, handle string) (bool, error)

	GetExtensionRule(ctx context.Context, extension string) (*ExtensionRule, error)
	ListExtensionRules(ctx context.Context) ([]*ExtensionRule, error)
	UpsertExtensionRule(ctx context.Context, r *ExtensionRule) error
	DeleteExtensionRule(ctx context.Context, id string) error

	GetSetting(ctx context.Context, key string) (*Setting, error)
	ListSettings(ctx context.Context) ([]*Setting, error)
	UpsertSetting(ctx context.Context, s *Setting) error
}

// Store is the relational store used by the service layer.
type Store interface {
	Queries

	// WithPrincipalLock runs fn while holding an exclusive lock on the
	// principal. Mutations made through q are committed only if fn returns
	// nil. Returns ErrNotFound if the principal does not exist.
	WithPrincipalLock(ctx context.Context, principalID string, fn func(q Queries) error) error

	HealthCheck(ctx context.Context) error
}
