package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Repository implements Queries with plain SQL over pgx.
type Repository struct {
	db DBTX
}

// NewRepository creates a new Repository.
func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Nullable limits are selected as (is_set, value) pairs so every column
// scans into a plain Go type.
const (
	userColumns  = `id, name, email, storage_limit IS NOT NULL, COALESCE(storage_limit, 0), storage_used, created_at, updated_at`
	groupColumns = `id, name, description, storage_limit IS NOT NULL, COALESCE(storage_limit, 0), created_at, updated_at`
	fileColumns  = `id, user_id, original_name, stored_handle, size, extension, mime_type, checksum, created_at`
	ruleColumns  = `id, extension, is_prohibited, COALESCE(description, ''), created_at, updated_at`
)

func scanUser(row rowScanner) (*User, error) {
	u := &User{}
	var hasLimit bool
	var limit int64
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &hasLimit, &limit, &u.ConsumedBytes, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if hasLimit {
		u.ExplicitLimit = &limit
	}
	return u, nil
}

func scanGroup(row rowScanner) (*Group, error) {
	g := &Group{}
	var hasLimit bool
	var limit int64
	if err := row.Scan(&g.ID, &g.Name, &g.Description, &hasLimit, &limit, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	if hasLimit {
		g.Limit = &limit
	}
	return g, nil
}

func scanFile(row rowScanner) (*FileRecord, error) {
	f := &FileRecord{}
	if err := row.Scan(&f.ID, &f.OwnerID, &f.DisplayName, &f.StoredHandle, &f.SizeBytes,
		&f.Extension, &f.MimeType, &f.Checksum, &f.CreatedAt); err != nil {
		return nil, err
	}
	return f, nil
}

func scanRule(row rowScanner) (*ExtensionRule, error) {
	r := &ExtensionRule{}
	if err := row.Scan(&r.ID, &r.Extension, &r.IsProhibited, &r.Description, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return r, nil
}

func collect[T any](rows pgx.Rows, scan func(rowScanner) (*T, error)) ([]*T, error) {
	defer rows.Close()
	var out []*T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// notFound maps pgx.ErrNoRows to ErrNotFound and wraps anything else.
func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

// --- Users ---

// CreateUser inserts a new principal with no explicit limit and zero usage.
func (r *Repository) CreateUser(ctx context.Context, u *User) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (id, name, email, storage_limit, storage_used, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.Name, u.Email, u.ExplicitLimit, u.ConsumedBytes, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (r *Repository) GetUser(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "user")
	}
	return u, nil
}

// ListUsers returns all users ordered by creation time.
func (r *Repository) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users, err := collect(rows, scanUser)
	if err != nil {
		return nil, fmt.Errorf("failed to scan users: %w", err)
	}
	return users, nil
}

// SetUserLimit sets or clears (nil) the user's explicit limit.
func (r *Repository) SetUserLimit(ctx context.Context, id string, limit *int64) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE users SET storage_limit = $2, updated_at = NOW() WHERE id = $1", id, limit)
	if err != nil {
		return fmt.Errorf("failed to update user limit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUserConsumed stores the recomputed usage aggregate.
func (r *Repository) SetUserConsumed(ctx context.Context, id string, consumed int64) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE users SET storage_used = $2, updated_at = NOW() WHERE id = $1", id, consumed)
	if err != nil {
		return fmt.Errorf("failed to update storage usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Groups ---

// CreateGroup inserts a new group.
func (r *Repository) CreateGroup(ctx context.Context, g *Group) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO groups (id, name, description, storage_limit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, g.ID, g.Name, g.Description, g.Limit, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create group: %w", err)
	}
	return nil
}

// GetGroup retrieves a group by ID.
func (r *Repository) GetGroup(ctx context.Context, id string) (*Group, error) {
	g, err := scanGroup(r.db.QueryRow(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "group")
	}
	return g, nil
}

// ListGroups returns all groups ordered by name.
func (r *Repository) ListGroups(ctx context.Context) ([]*Group, error) {
	rows, err := r.db.Query(ctx, `SELECT `+groupColumns+` FROM groups ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	groups, err := collect(rows, scanGroup)
	if err != nil {
		return nil, fmt.Errorf("failed to scan groups: %w", err)
	}
	return groups, nil
}

// UpdateGroup overwrites name, description and limit.
func (r *Repository) UpdateGroup(ctx context.Context, g *Group) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE groups SET name = $2, description = $3, storage_limit = $4, updated_at = $5
		WHERE id = $1
	`, g.ID, g.Name, g.Description, g.Limit, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteGroup removes a group and, through the FK cascade, its memberships.
func (r *Repository) DeleteGroup(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM groups WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddGroupMember attaches a user to a group. Re-adding is a conflict.
func (r *Repository) AddGroupMember(ctx context.Context, groupID, userID string) error {
	_, err := r.db.Exec(ctx,
		"INSERT INTO group_user (group_id, user_id) VALUES ($1, $2)", groupID, userID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to add group member: %w", err)
	}
	return nil
}

// RemoveGroupMember detaches a user from a group.
func (r *Repository) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	tag, err := r.db.Exec(ctx,
		"DELETE FROM group_user WHERE group_id = $1 AND user_id = $2", groupID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove group member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUserGroups returns the user's groups, first-associated first.
func (r *Repository) ListUserGroups(ctx context.Context, userID string) ([]*Group, error) {
	rows, err := r.db.Query(ctx, `
		SELECT g.id, g.name, g.description, g.storage_limit IS NOT NULL, COALESCE(g.storage_limit, 0),
		       g.created_at, g.updated_at
		FROM groups g
		JOIN group_user gu ON gu.group_id = g.id
		WHERE gu.user_id = $1
		ORDER BY gu.created_at, g.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user groups: %w", err)
	}
	groups, err := collect(rows, scanGroup)
	if err != nil {
		return nil, fmt.Errorf("failed to scan user groups: %w", err)
	}
	return groups, nil
}

// --- Files ---

// CreateFile inserts a new file record.
func (r *Repository) CreateFile(ctx context.Context, f *FileRecord) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO files (
			id, user_id, original_name, stored_handle, size,
			extension, mime_type, checksum, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		f.ID,
		f.OwnerID,
		f.DisplayName,
		f.StoredHandle,
		f.SizeBytes,
		f.Extension,
		f.MimeType,
		f.Checksum,
		f.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to create file: %w", err)
	}
	return nil
}

// GetFile retrieves a file record by ID.
func (r *Repository) GetFile(ctx context.Context, id string) (*FileRecord, error) {
	f, err := scanFile(r.db.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "file")
	}
	return f, nil
}

// DeleteFile removes a file record by ID.
func (r *Repository) DeleteFile(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM files WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListFilesByOwner returns the owner's files, newest first.
func (r *Repository) ListFilesByOwner(ctx context.Context, ownerID string) ([]*FileRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+fileColumns+` FROM files WHERE user_id = $1 ORDER BY created_at DESC, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	files, err := collect(rows, scanFile)
	if err != nil {
		return nil, fmt.Errorf("failed to scan files: %w", err)
	}
	return files, nil
}

// ListFiles returns every file, newest first.
func (r *Repository) ListFiles(ctx context.Context) ([]*FileRecord, error) {
	rows, err := r.db.Query(ctx, `SELECT `+fileColumns+` FROM files ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	files, err := collect(rows, scanFile)
	if err != nil {
		return nil, fmt.Errorf("failed to scan files: %w", err)
	}
	return files, nil
}

// SumFileSizes returns the total size of the owner's live files.
func (r *Repository) SumFileSizes(ctx context.Context, ownerID string) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx,
		"SELECT COALESCE(SUM(size), 0)::BIGINT FROM files WHERE user_id = $1", ownerID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum file sizes: %w", err)
	}
	return total, nil
}

// HandleReferenced reports whether any file record points at handle.
func (r *Repository) HandleReferenced(ctx context.Context, handle string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM files WHERE stored_handle = $1)", handle).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check handle: %w", err)
	}
	return exists, nil
}

// --- Extension rules ---

// GetExtensionRule looks up the rule for a lower-case extension.
func (r *Repository) GetExtensionRule(ctx context.Context, extension string) (*ExtensionRule, error) {
	rule, err := scanRule(r.db.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM file_restrictions WHERE extension = LOWER($1)`, extension))
	if err != nil {
		return nil, notFound(err, "extension rule")
	}
	return rule, nil
}

// ListExtensionRules returns all rules ordered by extension.
func (r *Repository) ListExtensionRules(ctx context.Context) ([]*ExtensionRule, error) {
	rows, err := r.db.Query(ctx, `SELECT `+ruleColumns+` FROM file_restrictions ORDER BY extension`)
	if err != nil {
		return nil, fmt.Errorf("failed to list extension rules: %w", err)
	}
	rules, err := collect(rows, scanRule)
	if err != nil {
		return nil, fmt.Errorf("failed to scan extension rules: %w", err)
	}
	return rules, nil
}

// UpsertExtensionRule creates the rule or updates the existing rule for the
// same extension. On update r.ID and r.CreatedAt are replaced with the stored values.
func (r *Repository) UpsertExtensionRule(ctx context.Context, rule *ExtensionRule) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO file_restrictions (id, extension, is_prohibited, description, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
		ON CONFLICT (extension) DO UPDATE
		SET is_prohibited = EXCLUDED.is_prohibited,
		    description = EXCLUDED.description,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`, rule.ID, rule.Extension, rule.IsProhibited, rule.Description, rule.CreatedAt, rule.UpdatedAt).
		Scan(&rule.ID, &rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert extension rule: %w", err)
	}
	return nil
}

// DeleteExtensionRule removes a rule by ID.
func (r *Repository) DeleteExtensionRule(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM file_restrictions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete extension rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- System settings ---

// GetSetting retrieves a setting by key.
func (r *Repository) GetSetting(ctx context.Context, key string) (*Setting, error) {
	s := &Setting{}
	err := r.db.QueryRow(ctx, `
		SELECT key, value, type, COALESCE(description, ''), updated_at
		FROM system_settings WHERE key = $1
	`, key).Scan(&s.Key, &s.Value, &s.Type, &s.Description, &s.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "setting")
	}
	return s, nil
}

// ListSettings returns all settings ordered by key.
func (r *Repository) ListSettings(ctx context.Context) ([]*Setting, error) {
	rows, err := r.db.Query(ctx, `
		SELECT key, value, type, COALESCE(description, ''), updated_at
		FROM system_settings ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	settings, err := collect(rows, func(row rowScanner) (*Setting, error) {
		s := &Setting{}
		if err := row.Scan(&s.Key, &s.Value, &s.Type, &s.Description, &s.UpdatedAt); err != nil {
			return nil, err
		}
		return s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan settings: %w", err)
	}
	return settings, nil
}

// UpsertSetting writes a setting, replacing any existing value for the key.
func (r *Repository) UpsertSetting(ctx context.Context, s *Setting) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO system_settings (key, value, type, description, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
		    type = EXCLUDED.type,
		    description = COALESCE(EXCLUDED.description, system_settings.description),
		    updated_at = EXCLUDED.updated_at
	`, s.Key, s.Value, s.Type, s.Description, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert setting: %w", err)
	}
	return nil
}
