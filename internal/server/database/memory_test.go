package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, m *Memory, id string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, m.CreateUser(context.Background(), &User{ID: id, Name: id, CreatedAt: now, UpdatedAt: now}))
}

func TestMemory_WithPrincipalLock_RollsBack(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedUser(t, m, "u1")

	boom := errors.New("boom")
	err := m.WithPrincipalLock(ctx, "u1", func(q Queries) error {
		require.NoError(t, q.CreateFile(ctx, &FileRecord{ID: "f1", OwnerID: "u1", StoredHandle: "h1", SizeBytes: 10}))
		require.NoError(t, q.SetUserConsumed(ctx, "u1", 10))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = m.GetFile(ctx, "f1")
	assert.ErrorIs(t, err, ErrNotFound)
	u, err := m.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), u.ConsumedBytes)
}

func TestMemory_WithPrincipalLock_Commits(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedUser(t, m, "u1")

	err := m.WithPrincipalLock(ctx, "u1", func(q Queries) error {
		return q.CreateFile(ctx, &FileRecord{ID: "f1", OwnerID: "u1", StoredHandle: "h1", SizeBytes: 10})
	})
	require.NoError(t, err)

	ok, err := m.HandleReferenced(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory_WithPrincipalLock_UnknownPrincipal(t *testing.T) {
	m := NewMemory()
	err := m.WithPrincipalLock(context.Background(), "ghost", func(q Queries) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_WithPrincipalLock_Serializes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedUser(t, m, "u1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithPrincipalLock(ctx, "u1", func(q Queries) error {
				u, err := q.GetUser(ctx, "u1")
				if err != nil {
					return err
				}
				return q.SetUserConsumed(ctx, "u1", u.ConsumedBytes+1)
			})
		}()
	}
	wg.Wait()

	u, err := m.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), u.ConsumedBytes)
}

func TestMemory_ListUserGroups_MembershipOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedUser(t, m, "u1")

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, m.CreateGroup(ctx, &Group{ID: id, Name: "group-" + id}))
	}
	require.NoError(t, m.AddGroupMember(ctx, "c", "u1"))
	require.NoError(t, m.AddGroupMember(ctx, "a", "u1"))
	require.NoError(t, m.AddGroupMember(ctx, "b", "u1"))
	assert.ErrorIs(t, m.AddGroupMember(ctx, "a", "u1"), ErrConflict)

	groups, err := m.ListUserGroups(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, groups, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{groups[0].ID, groups[1].ID, groups[2].ID})

	require.NoError(t, m.DeleteGroup(ctx, "c"))
	groups, err = m.ListUserGroups(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "a", groups[0].ID)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedUser(t, m, "u1")
	limit := int64(100)
	require.NoError(t, m.SetUserLimit(ctx, "u1", &limit))
	limit = 5

	u, err := m.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), *u.ExplicitLimit)

	*u.ExplicitLimit = 1
	again, err := m.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), *again.ExplicitLimit)
}

func TestMemory_UpsertExtensionRule(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first := &ExtensionRule{ID: "r1", Extension: "exe", IsProhibited: true}
	require.NoError(t, m.UpsertExtensionRule(ctx, first))

	second := &ExtensionRule{ID: "r2", Extension: "exe", IsProhibited: false}
	require.NoError(t, m.UpsertExtensionRule(ctx, second))
	assert.Equal(t, "r1", second.ID)

	rule, err := m.GetExtensionRule(ctx, "EXE")
	require.NoError(t, err)
	assert.False(t, rule.IsProhibited)

	rules, err := m.ListExtensionRules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	require.NoError(t, m.DeleteExtensionRule(ctx, "r1"))
	_, err = m.GetExtensionRule(ctx, "exe")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ListFilesByOwner_NewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedUser(t, m, "u1")
	seedUser(t, m, "u2")

	base := time.Now()
	require.NoError(t, m.CreateFile(ctx, &FileRecord{ID: "old", OwnerID: "u1", StoredHandle: "h1", CreatedAt: base}))
	require.NoError(t, m.CreateFile(ctx, &FileRecord{ID: "new", OwnerID: "u1", StoredHandle: "h2", CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, m.CreateFile(ctx, &FileRecord{ID: "other", OwnerID: "u2", StoredHandle: "h3", CreatedAt: base}))
	assert.ErrorIs(t, m.CreateFile(ctx, &FileRecord{ID: "dup", OwnerID: "u1", StoredHandle: "h1"}), ErrConflict)

	files, err := m.ListFilesByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "new", files[0].ID)
	assert.Equal(t, "old", files[1].ID)
}
