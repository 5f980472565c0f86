package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmemory/config"
)

// Manager owns a Redis client and keeps an eye on its health.
type Manager struct {
	mu     sync.RWMutex
	client *redis.Client
	closed bool

	healthInterval time.Duration
	stopCh         chan struct{}

	logger *zap.Logger
}

// Connect builds a client from configuration and verifies the connection
// with a bounded ping before handing it out.
func Connect(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	m := &Manager{
		client:         client,
		healthInterval: 30 * time.Second,
		stopCh:         make(chan struct{}),
		logger:         logger.With(zap.String("component", "redis_manager")),
	}
	go m.healthCheckLoop()

	m.logger.Info("redis connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return m, nil
}

// Client returns the managed client for store constructors.
func (m *Manager) Client() *redis.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// Ping checks liveness.
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("redis manager is closed")
	}
	return m.client.Ping(ctx).Err()
}

// Close releases the client. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.stopCh)
	m.logger.Info("closing redis connection")
	return m.client.Close()
}

func (m *Manager) healthCheckLoop() {
	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := m.Ping(ctx); err != nil {
				m.logger.Error("redis health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}
