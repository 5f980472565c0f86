package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmemory/config"
)

func TestConnect_RoundTrip(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	cfg := config.DefaultRedisConfig()
	cfg.Addr = srv.Addr()

	ctx := context.Background()
	m, err := Connect(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.Ping(ctx))
	require.NoError(t, m.Client().Set(ctx, "k", "v", 0).Err())
	got, err := m.Client().Get(ctx, "k").Result()
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestConnect_UnreachableFails(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultRedisConfig()
	cfg.Addr = "127.0.0.1:1" // nothing listens here

	_, err := Connect(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	cfg := config.DefaultRedisConfig()
	cfg.Addr = srv.Addr()

	m, err := Connect(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Error(t, m.Ping(context.Background()))
}
