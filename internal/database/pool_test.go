package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agentmemory/config"
)

func openTestPool(t *testing.T) *Pool {
	t.Helper()
	cfg := config.DefaultDatabaseConfig()
	cfg.Name = filepath.Join(t.TempDir(), "pool_test.db")
	p, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestOpen_SqliteRoundTrip(t *testing.T) {
	t.Parallel()

	p := openTestPool(t)
	require.NoError(t, p.Ping(context.Background()))
	assert.NotNil(t, p.DB())
}

func TestOpen_UnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, zap.NewNop())
	assert.Error(t, err)
}

func TestPool_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	p := openTestPool(t)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Error(t, p.Ping(context.Background()))
}

type poolRecord struct {
	ID    uint `gorm:"primarykey"`
	Value string
}

func TestPool_WithTransaction(t *testing.T) {
	t.Parallel()

	p := openTestPool(t)
	require.NoError(t, p.DB().AutoMigrate(&poolRecord{}))

	ctx := context.Background()
	err := p.WithTransaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(&poolRecord{Value: "kept"}).Error
	})
	require.NoError(t, err)

	// A failing function rolls the transaction back.
	boom := errors.New("boom")
	err = p.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&poolRecord{Value: "discarded"}).Error; err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, p.DB().Model(&poolRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPool_WithTransactionRetry(t *testing.T) {
	t.Parallel()

	p := openTestPool(t)

	// Non-retryable errors surface immediately.
	calls := 0
	fatal := errors.New("constraint violation")
	err := p.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
		calls++
		return fatal
	})
	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)

	// Retryable errors are attempted again until they pass.
	calls = 0
	err = p.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
		calls++
		if calls < 2 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestIsRetryableError(t *testing.T) {
	t.Parallel()

	assert.False(t, isRetryableError(nil))
	assert.True(t, isRetryableError(errors.New("pq: deadlock detected")))
	assert.True(t, isRetryableError(errors.New("ERROR: could not serialize access (SQLSTATE 40001)")))
	assert.True(t, isRetryableError(errors.New("database is locked")))
	assert.False(t, isRetryableError(errors.New("UNIQUE constraint failed")))
}
