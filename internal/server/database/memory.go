package database

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type membership struct {
	groupID string
	userID  string
	seq     uint64
}

// Memory is an in-process Store used for tests and single-node demos.
// Locked sections serialize per principal and roll back through an undo log.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]*User
	groups   map[string]*Group
	members  []membership
	seq      uint64
	files    map[string]*FileRecord
	rules    map[string]*ExtensionRule // keyed by extension
	settings map[string]*Setting

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]*User),
		groups:   make(map[string]*Group),
		files:    make(map[string]*FileRecord),
		rules:    make(map[string]*ExtensionRule),
		settings: make(map[string]*Setting),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (m *Memory) principalLock(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// WithPrincipalLock runs fn under the principal's mutex. If fn fails, every
// mutation it made through q is undone in reverse order.
func (m *Memory) WithPrincipalLock(ctx context.Context, principalID string, fn func(q Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l := m.principalLock(principalID)
	l.Lock()
	defer l.Unlock()

	if _, err := m.GetUser(ctx, principalID); err != nil {
		return err
	}

	tx := &memTx{Memory: m}
	if err := fn(tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

// HealthCheck always succeeds.
func (m *Memory) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

// --- Users ---

func (m *Memory) CreateUser(ctx context.Context, u *User) error {
	_, err := m.createUser(u)
	return err
}

func (m *Memory) createUser(u *User) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return nil, ErrConflict
	}
	c := copyUser(u)
	m.users[u.ID] = c
	return func() {
		m.mu.Lock()
		delete(m.users, u.ID)
		m.mu.Unlock()
	}, nil
}

func (m *Memory) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (m *Memory) ListUsers(ctx context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, copyUser(u))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) SetUserLimit(ctx context.Context, id string, limit *int64) error {
	_, err := m.setUserLimit(id, limit)
	return err
}

func (m *Memory) setUserLimit(id string, limit *int64) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	prev, prevUpdated := u.ExplicitLimit, u.UpdatedAt
	u.ExplicitLimit = copyLimit(limit)
	u.UpdatedAt = time.Now().UTC()
	return func() {
		m.mu.Lock()
		u.ExplicitLimit, u.UpdatedAt = prev, prevUpdated
		m.mu.Unlock()
	}, nil
}

func (m *Memory) SetUserConsumed(ctx context.Context, id string, consumed int64) error {
	_, err := m.setUserConsumed(id, consumed)
	return err
}

func (m *Memory) setUserConsumed(id string, consumed int64) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	prev, prevUpdated := u.ConsumedBytes, u.UpdatedAt
	u.ConsumedBytes = consumed
	u.UpdatedAt = time.Now().UTC()
	return func() {
		m.mu.Lock()
		u.ConsumedBytes, u.UpdatedAt = prev, prevUpdated
		m.mu.Unlock()
	}, nil
}

// --- Groups ---

func (m *Memory) CreateGroup(ctx context.Context, g *Group) error {
	_, err := m.createGroup(g)
	return err
}

func (m *Memory) createGroup(g *Group) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[g.ID]; ok {
		return nil, ErrConflict
	}
	for _, existing := range m.groups {
		if existing.Name == g.Name {
			return nil, ErrConflict
		}
	}
	m.groups[g.ID] = copyGroup(g)
	return func() {
		m.mu.Lock()
		delete(m.groups, g.ID)
		m.mu.Unlock()
	}, nil
}

func (m *Memory) GetGroup(ctx context.Context, id string) (*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyGroup(g), nil
}

func (m *Memory) ListGroups(ctx context.Context) ([]*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Group, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, copyGroup(g))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) UpdateGroup(ctx context.Context, g *Group) error {
	_, err := m.updateGroup(g)
	return err
}

func (m *Memory) updateGroup(g *Group) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.groups[g.ID]
	if !ok {
		return nil, ErrNotFound
	}
	for _, other := range m.groups {
		if other.ID != g.ID && other.Name == g.Name {
			return nil, ErrConflict
		}
	}
	prev := copyGroup(existing)
	updated := copyGroup(g)
	updated.CreatedAt = existing.CreatedAt
	m.groups[g.ID] = updated
	return func() {
		m.mu.Lock()
		m.groups[g.ID] = prev
		m.mu.Unlock()
	}, nil
}

func (m *Memory) DeleteGroup(ctx context.Context, id string) error {
	_, err := m.deleteGroup(id)
	return err
}

func (m *Memory) deleteGroup(id string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	prevMembers := append([]membership(nil), m.members...)
	delete(m.groups, id)
	kept := m.members[:0:0]
	for _, mb := range m.members {
		if mb.groupID != id {
			kept = append(kept, mb)
		}
	}
	m.members = kept
	return func() {
		m.mu.Lock()
		m.groups[id] = g
		m.members = prevMembers
		m.mu.Unlock()
	}, nil
}

func (m *Memory) AddGroupMember(ctx context.Context, groupID, userID string) error {
	_, err := m.addGroupMember(groupID, userID)
	return err
}

func (m *Memory) addGroupMember(groupID, userID string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[groupID]; !ok {
		return nil, ErrNotFound
	}
	if _, ok := m.users[userID]; !ok {
		return nil, ErrNotFound
	}
	for _, mb := range m.members {
		if mb.groupID == groupID && mb.userID == userID {
			return nil, ErrConflict
		}
	}
	m.seq++
	m.members = append(m.members, membership{groupID: groupID, userID: userID, seq: m.seq})
	return func() {
		m.mu.Lock()
		m.removeMembershipLocked(groupID, userID)
		m.mu.Unlock()
	}, nil
}

func (m *Memory) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	_, err := m.removeGroupMember(groupID, userID)
	return err
}

func (m *Memory) removeGroupMember(groupID, userID string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed, ok := m.removeMembershipLocked(groupID, userID)
	if !ok {
		return nil, ErrNotFound
	}
	return func() {
		m.mu.Lock()
		m.members = append(m.members, removed)
		m.mu.Unlock()
	}, nil
}

func (m *Memory) removeMembershipLocked(groupID, userID string) (membership, bool) {
	for i, mb := range m.members {
		if mb.groupID == groupID && mb.userID == userID {
			m.members = append(m.members[:i:i], m.members[i+1:]...)
			return mb, true
		}
	}
	return membership{}, false
}

func (m *Memory) ListUserGroups(ctx context.Context, userID string) ([]*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var mine []membership
	for _, mb := range m.members {
		if mb.userID == userID {
			mine = append(mine, mb)
		}
	}
	sort.Slice(mine, func(i, j int) bool {
		if mine[i].seq != mine[j].seq {
			return mine[i].seq < mine[j].seq
		}
		return mine[i].groupID < mine[j].groupID
	})
	out := make([]*Group, 0, len(mine))
	for _, mb := range mine {
		if g, ok := m.groups[mb.groupID]; ok {
			out = append(out, copyGroup(g))
		}
	}
	return out, nil
}

// --- Files ---

func (m *Memory) CreateFile(ctx context.Context, f *FileRecord) error {
	_, err := m.createFile(f)
	return err
}

func (m *Memory) createFile(f *FileRecord) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[f.ID]; ok {
		return nil, ErrConflict
	}
	if _, ok := m.users[f.OwnerID]; !ok {
		return nil, ErrNotFound
	}
	for _, existing := range m.files {
		if existing.StoredHandle == f.StoredHandle {
			return nil, ErrConflict
		}
	}
	c := *f
	m.files[f.ID] = &c
	return func() {
		m.mu.Lock()
		delete(m.files, f.ID)
		m.mu.Unlock()
	}, nil
}

func (m *Memory) GetFile(ctx context.Context, id string) (*FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *f
	return &c, nil
}

func (m *Memory) DeleteFile(ctx context.Context, id string) error {
	_, err := m.deleteFile(id)
	return err
}

func (m *Memory) deleteFile(id string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.files, id)
	return func() {
		m.mu.Lock()
		m.files[id] = f
		m.mu.Unlock()
	}, nil
}

func (m *Memory) ListFilesByOwner(ctx context.Context, ownerID string) ([]*FileRecord, error) {
	return m.listFiles(func(f *FileRecord) bool { return f.OwnerID == ownerID }), nil
}

func (m *Memory) ListFiles(ctx context.Context) ([]*FileRecord, error) {
	return m.listFiles(func(*FileRecord) bool { return true }), nil
}

func (m *Memory) listFiles(keep func(*FileRecord) bool) []*FileRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*FileRecord
	for _, f := range m.files {
		if keep(f) {
			c := *f
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) SumFileSizes(ctx context.Context, ownerID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, f := range m.files {
		if f.OwnerID == ownerID {
			total += f.SizeBytes
		}
	}
	return total, nil
}

func (m *Memory) HandleReferenced(ctx context.Context, handle string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.files {
		if f.StoredHandle == handle {
			return true, nil
		}
	}
	return false, nil
}

// --- Extension rules ---

func (m *Memory) GetExtensionRule(ctx context.Context, extension string) (*ExtensionRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[strings.ToLower(extension)]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r
	return &c, nil
}

func (m *Memory) ListExtensionRules(ctx context.Context) ([]*ExtensionRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ExtensionRule, 0, len(m.rules))
	for _, r := range m.rules {
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Extension < out[j].Extension })
	return out, nil
}

func (m *Memory) UpsertExtensionRule(ctx context.Context, r *ExtensionRule) error {
	_, err := m.upsertExtensionRule(r)
	return err
}

func (m *Memory) upsertExtensionRule(r *ExtensionRule) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, existed := m.rules[r.Extension]
	if existed {
		r.ID = prev.ID
		r.CreatedAt = prev.CreatedAt
	}
	c := *r
	m.rules[r.Extension] = &c
	return func() {
		m.mu.Lock()
		if existed {
			m.rules[r.Extension] = prev
		} else {
			delete(m.rules, r.Extension)
		}
		m.mu.Unlock()
	}, nil
}

func (m *Memory) DeleteExtensionRule(ctx context.Context, id string) error {
	_, err := m.deleteExtensionRule(id)
	return err
}

func (m *Memory) deleteExtensionRule(id string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ext, r := range m.rules {
		if r.ID == id {
			delete(m.rules, ext)
			return func() {
				m.mu.Lock()
				m.rules[ext] = r
				m.mu.Unlock()
			}, nil
		}
	}
	return nil, ErrNotFound
}

// --- System settings ---

func (m *Memory) GetSetting(ctx context.Context, key string) (*Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[key]
	if !ok {
		return nil, ErrNotFound
	}
	c := *s
	return &c, nil
}

func (m *Memory) ListSettings(ctx context.Context) ([]*Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Setting, 0, len(m.settings))
	for _, s := range m.settings {
		c := *s
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) UpsertSetting(ctx context.Context, s *Setting) error {
	_, err := m.upsertSetting(s)
	return err
}

func (m *Memory) upsertSetting(s *Setting) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, existed := m.settings[s.Key]
	c := *s
	if existed && c.Description == "" {
		c.Description = prev.Description
	}
	m.settings[s.Key] = &c
	return func() {
		m.mu.Lock()
		if existed {
			m.settings[s.Key] = prev
		} else {
			delete(m.settings, s.Key)
		}
		m.mu.Unlock()
	}, nil
}

func copyUser(u *User) *User {
	c := *u
	c.ExplicitLimit = copyLimit(u.ExplicitLimit)
	return &c
}

func copyGroup(g *Group) *Group {
	c := *g
	c.Limit = copyLimit(g.Limit)
	return &c
}

func copyLimit(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// memTx records an undo step for every mutation made inside a locked section.
type memTx struct {
	*Memory
	undo []func()
}

func (t *memTx) record(undo func(), err error) error {
	if err != nil {
		return err
	}
	t.undo = append(t.undo, undo)
	return nil
}

func (t *memTx) CreateUser(ctx context.Context, u *User) error {
	return t.record(t.createUser(u))
}

func (t *memTx) SetUserLimit(ctx context.Context, id string, limit *int64) error {
	return t.record(t.setUserLimit(id, limit))
}

func (t *memTx) SetUserConsumed(ctx context.Context, id string, consumed int64) error {
	return t.record(t.setUserConsumed(id, consumed))
}

func (t *memTx) CreateGroup(ctx context.Context, g *Group) error {
	return t.record(t.createGroup(g))
}

func (t *memTx) UpdateGroup(ctx context.Context, g *Group) error {
	return t.record(t.updateGroup(g))
}

func (t *memTx) DeleteGroup(ctx context.Context, id string) error {
	return t.record(t.deleteGroup(id))
}

func (t *memTx) AddGroupMember(ctx context.Context, groupID, userID string) error {
	return t.record(t.addGroupMember(groupID, userID))
}

func (t *memTx) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	return t.record(t.removeGroupMember(groupID, userID))
}

func (t *memTx) CreateFile(ctx context.Context, f *FileRecord) error {
	return t.record(t.createFile(f))
}

func (t *memTx) DeleteFile(ctx context.Context, id string) error {
	return t.record(t.deleteFile(id))
}

func (t *memTx) UpsertExtensionRule(ctx context.Context, r *ExtensionRule) error {
	return t.record(t.upsertExtensionRule(r))
}

func (t *memTx) DeleteExtensionRule(ctx context.Context, id string) error {
	return t.record(t.deleteExtensionRule(id))
}

func (t *memTx) UpsertSetting(ctx context.Context, s *Setting) error {
	return t.record(t.upsertSetting(s))
}
