package config

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReloader_AppliesValidChanges(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, "memory:\n  max_turns: 20\n")
	r, err := NewReloader(NewLoader().WithConfigPath(path), time.Minute, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 20, r.Current().Memory.MaxTurns)

	var notified atomic.Int32
	r.Subscribe(func(old, updated *Config) {
		assert.Equal(t, 20, old.Memory.MaxTurns)
		assert.Equal(t, 25, updated.Memory.MaxTurns)
		notified.Add(1)
	})

	require.NoError(t, os.WriteFile(path, []byte("memory:\n  max_turns: 25\n"), 0o644))
	require.NoError(t, r.Reload())

	assert.Equal(t, 25, r.Current().Memory.MaxTurns)
	assert.Equal(t, int32(1), notified.Load())

	// An unchanged file does not notify again.
	require.NoError(t, r.Reload())
	assert.Equal(t, int32(1), notified.Load())
}

func TestReloader_KeepsPreviousOnInvalidEdit(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, "memory:\n  max_turns: 20\n")
	r, err := NewReloader(NewLoader().WithConfigPath(path), time.Minute, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("memory:\n  max_turns: 0\n"), 0o644))
	assert.Error(t, r.Reload(), "validation failure rejects the edit")
	assert.Equal(t, 20, r.Current().Memory.MaxTurns, "previous config survives")

	require.NoError(t, os.WriteFile(path, []byte("log: [broken"), 0o644))
	assert.Error(t, r.Reload())
	assert.Equal(t, 20, r.Current().Memory.MaxTurns)
}

func TestReloader_RequiresConfigPath(t *testing.T) {
	t.Parallel()

	_, err := NewReloader(NewLoader(), time.Minute, zap.NewNop())
	assert.Error(t, err)
}

func TestFileWatcher_FiresOnModTimeChange(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, "memory:\n  max_turns: 20\n")
	w := NewFileWatcher(path, 5*time.Millisecond, zap.NewNop())

	var fired atomic.Int32
	w.OnChange(func() { fired.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	// Bump the mod time explicitly so coarse filesystem timestamps
	// cannot mask the change.
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Positive(t, fired.Load(), "watcher should observe the touched file")
}

func TestFileWatcher_StartStopIdempotent(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, "memory:\n  max_turns: 20\n")
	w := NewFileWatcher(path, time.Millisecond, zap.NewNop())

	ctx := context.Background()
	w.Start(ctx)
	w.Start(ctx)
	w.Stop()
	w.Stop()
}
