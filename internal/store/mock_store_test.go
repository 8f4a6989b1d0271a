package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ykst615/learn-zhihu-api/internal/models"
)

var (
	_ StoreInterface = (*Store)(nil)
	_ StoreInterface = (*MockStore)(nil)
	_ StoreInterface = MockStoreFail{}
)

func mustCreate(t *testing.T, m *MockStore, name string) models.User {
	t.Helper()
	u, err := m.CreateUser(context.Background(), models.User{Name: name, PasswordHash: "x"})
	require.NoError(t, err)
	return u
}

func TestMockStore_FollowIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMock()
	u1 := mustCreate(t, m, "u1")
	u2 := mustCreate(t, m, "u2")

	require.NoError(t, m.Follow(ctx, u1.ID, u2.ID))
	writes := m.Writes
	require.NoError(t, m.Follow(ctx, u1.ID, u2.ID))
	assert.Equal(t, writes, m.Writes, "second follow must not write")

	got, err := m.GetUser(ctx, u1.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{u2.ID}, got.Following)

	followers, err := m.ListFollowers(ctx, u2.ID)
	require.NoError(t, err)
	require.Len(t, followers, 1)
	assert.Equal(t, u1.ID, followers[0].ID)

	require.NoError(t, m.Unfollow(ctx, u1.ID, u2.ID))
	require.NoError(t, m.Unfollow(ctx, u1.ID, u2.ID))
	got, _ = m.GetUser(ctx, u1.ID)
	assert.Empty(t, got.Following)

	followers, _ = m.ListFollowers(ctx, u2.ID)
	assert.Empty(t, followers)
}

func TestMockStore_SelfFollowRejected(t *testing.T) {
	m := NewMock()
	u := mustCreate(t, m, "solo")
	require.ErrorIs(t, m.Follow(context.Background(), u.ID, u.ID), ErrSelfFollow)
}

func TestMockStore_ConcurrentFollowsDoNotLoseUpdates(t *testing.T) {
	ctx := context.Background()
	m := NewMock()
	actor := mustCreate(t, m, "actor")

	targets := make([]string, 50)
	for i := range targets {
		targets[i] = mustCreate(t, m, fmt.Sprintf("target-%d", i)).ID
	}

	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, m.Follow(ctx, actor.ID, id))
		}(target)
	}
	wg.Wait()

	following, err := m.ListFollowing(ctx, actor.ID)
	require.NoError(t, err)
	assert.Len(t, following, len(targets))
}

func TestMockStore_UniqueNames(t *testing.T) {
	ctx := context.Background()
	m := NewMock()
	a := mustCreate(t, m, "taken")

	_, err := m.CreateUser(ctx, models.User{Name: "taken"})
	require.ErrorIs(t, err, ErrNameTaken)
	assert.Len(t, m.Users, 1)

	b := mustCreate(t, m, "other")
	name := "taken"
	require.ErrorIs(t, m.UpdateUser(ctx, b.ID, models.UserPatch{Name: &name}), ErrNameTaken)

	newName := "renamed"
	require.NoError(t, m.UpdateUser(ctx, a.ID, models.UserPatch{Name: &newName}))
	_, err = m.GetUserByName(ctx, "taken")
	require.ErrorIs(t, err, ErrUserNotFound)
	got, err := m.GetUserByName(ctx, "renamed")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
}

func TestMockStore_DeleteKeepsOtherUsersFollowing(t *testing.T) {
	ctx := context.Background()
	m := NewMock()
	u1 := mustCreate(t, m, "u1")
	u2 := mustCreate(t, m, "u2")
	require.NoError(t, m.Follow(ctx, u1.ID, u2.ID))
	require.NoError(t, m.Follow(ctx, u2.ID, u1.ID))

	require.NoError(t, m.DeleteUser(ctx, u2.ID))
	require.ErrorIs(t, m.DeleteUser(ctx, u2.ID), ErrUserNotFound)

	raw, _ := m.GetUser(ctx, u1.ID)
	assert.Equal(t, []string{u2.ID}, raw.Following, "no cascading delete")

	resolved, err := m.ListFollowing(ctx, u1.ID)
	require.NoError(t, err)
	assert.Empty(t, resolved, "deleted users are skipped when resolving")

	followers, _ := m.ListFollowers(ctx, u1.ID)
	assert.Empty(t, followers, "index rows authored by the deleted user are gone")
}

func TestMockStore_ActivityDedupAndOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMock()
	for _, id := range []string{"e1", "e2", "e2", "e3"} {
		require.NoError(t, m.AddActivity(ctx, models.Activity{UserID: "u1", EventID: id, Kind: "followed"}))
	}

	got, err := m.ListActivity(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e3", got[0].EventID)
	assert.Equal(t, "e2", got[1].EventID)
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, dedupe([]string{"a", "", "b", "a"}))
}
