package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmemory/types"
)

type failingSnapshotStore struct{}

func (failingSnapshotStore) Load(context.Context, string, string) (*Snapshot, error) {
	return nil, errors.New("backend down")
}
func (failingSnapshotStore) Save(context.Context, *Snapshot) error {
	return errors.New("backend down")
}
func (failingSnapshotStore) Delete(context.Context, string, string) error {
	return errors.New("backend down")
}

func TestManager_GetCreatesAndReuses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewManager(ManagerConfig{}, nil, zap.NewNop())

	wm := m.Get(ctx, "u1", "s1")
	require.NotNil(t, wm)
	wm.AddTurn(types.RoleUser, "hi", nil, nil, "")

	again := m.Get(ctx, "u1", "s1")
	assert.Same(t, wm, again)
	assert.Equal(t, 1, m.Len())
}

func TestManager_PerUserSessionCapEvictsLRU(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := testClock(now)
	snaps := NewInMemorySnapshotStore()
	m := NewManager(ManagerConfig{
		MaxSessionsPerUser: 2,
		Now:                clock,
	}, snaps, zap.NewNop())

	s1 := m.Get(ctx, "u1", "s1")
	s1.AddTurn(types.RoleUser, "first", nil, nil, "")
	s2 := m.Get(ctx, "u1", "s2")
	s2.AddTurn(types.RoleUser, "second", nil, nil, "")
	m.Get(ctx, "u1", "s3")

	assert.Equal(t, 2, m.Len())
	_, live := m.Peek("u1", "s1")
	assert.False(t, live, "least recently active session should be evicted")

	// The evicted session was flushed, so a later Get recovers it.
	restored := m.Get(ctx, "u1", "s1")
	turns := restored.ContextWindow(0)
	require.Len(t, turns, 1)
	assert.Equal(t, "first", turns[0].Content)
}

func TestManager_ColdStartRecovery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	snaps := NewInMemorySnapshotStore()
	require.NoError(t, snaps.Save(ctx, &Snapshot{
		UserID:    "u1",
		SessionID: "s1",
		Turns: []types.Turn{
			{Role: types.RoleUser, Content: "from storage", Timestamp: time.Now()},
		},
		CurrentGoal: "finish migration",
	}))

	m := NewManager(ManagerConfig{}, snaps, zap.NewNop())
	wm := m.Get(ctx, "u1", "s1")

	assert.Equal(t, 1, wm.Len())
	assert.Equal(t, "finish migration", wm.CurrentGoal())
}

func TestManager_StoreFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewManager(ManagerConfig{}, failingSnapshotStore{}, zap.NewNop())

	wm := m.Get(ctx, "u1", "s1")
	require.NotNil(t, wm)
	assert.Zero(t, wm.Len())

	// Eviction with a failing store still removes the session.
	assert.True(t, m.Evict(ctx, "u1", "s1"))
	_, live := m.Peek("u1", "s1")
	assert.False(t, live)
}

func TestManager_SweepIdle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := now
	clockNow := func() time.Time { return current }

	m := NewManager(ManagerConfig{
		IdleTimeout: 30 * time.Minute,
		Now:         clockNow,
	}, NewInMemorySnapshotStore(), zap.NewNop())

	m.Get(ctx, "u1", "s1")
	m.Get(ctx, "u2", "s1")

	current = now.Add(10 * time.Minute)
	assert.Zero(t, m.SweepIdle(ctx))

	current = now.Add(time.Hour)
	assert.Equal(t, 2, m.SweepIdle(ctx))
	assert.Zero(t, m.Len())
}

func TestManager_ForUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewManager(ManagerConfig{}, nil, zap.NewNop())
	m.Get(ctx, "u1", "s1")
	m.Get(ctx, "u1", "s2")
	m.Get(ctx, "u2", "s1")

	assert.Len(t, m.ForUser("u1"), 2)
	assert.Len(t, m.ForUser("u2"), 1)
	assert.Empty(t, m.ForUser("u3"))
}

func TestManager_Users(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewManager(ManagerConfig{}, nil, zap.NewNop())

	assert.Empty(t, m.Users())

	m.Get(ctx, "ursula", "s1")
	m.Get(ctx, "ursula", "s2")
	m.Get(ctx, "amir", "s1")

	assert.Equal(t, []string{"amir", "ursula"}, m.Users())
}

func TestManager_StartStop(t *testing.T) {
	t.Parallel()

	m := NewManager(ManagerConfig{SweepInterval: time.Hour}, nil, zap.NewNop())
	require.NoError(t, m.Start(context.Background()))
	require.Error(t, m.Start(context.Background()))
	m.Stop()
	m.Stop() // idempotent
}
