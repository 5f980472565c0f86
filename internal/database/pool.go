package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/agentmemory/config"
)

// Pool owns the database connection behind the fact store.
type Pool struct {
	mu     sync.RWMutex
	db     *gorm.DB
	sqlDB  *sql.DB
	closed bool

	healthInterval time.Duration
	stopCh         chan struct{}

	logger *zap.Logger
}

// Open connects using the configured driver and returns a managed pool.
// sqlite is the zero-config default; postgres and mysql serve shared
// deployments.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "":
		name := cfg.Name
		if name == "" {
			name = ":memory:"
		}
		dialector = sqlite.Open(name)
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "mysql":
		dialector = mysql.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres, mysql)", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	return NewPool(db, cfg, logger)
}

// NewPool wraps an already opened gorm.DB with pool tuning and health
// checks.
func NewPool(db *gorm.DB, cfg config.DatabaseConfig, logger *zap.Logger) (*Pool, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}

	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	p := &Pool{
		db:             db,
		sqlDB:          sqlDB,
		healthInterval: 30 * time.Second,
		stopCh:         make(chan struct{}),
		logger:         logger.With(zap.String("component", "db_pool")),
	}
	go p.healthCheckLoop()

	p.logger.Info("database pool ready",
		zap.String("driver", cfg.Driver),
		zap.Int("max_open_conns", cfg.MaxOpenConns))

	return p, nil
}

// DB returns the gorm handle for store constructors.
func (p *Pool) DB() *gorm.DB {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.db
}

// Ping verifies the connection is alive.
func (p *Pool) Ping(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("pool is closed")
	}
	return p.sqlDB.PingContext(ctx)
}

// Stats exposes the raw sql.DB pool statistics.
func (p *Pool) Stats() sql.DBStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sqlDB.Stats()
}

// Close shuts the pool down. Safe to call more than once.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.stopCh)
	p.logger.Info("closing database pool")
	return p.sqlDB.Close()
}

func (p *Pool) healthCheckLoop() {
	ticker := time.NewTicker(p.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.Ping(ctx); err != nil {
				p.logger.Error("database health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// WithTransaction runs fn inside a transaction.
func (p *Pool) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("pool is closed")
	}
	db := p.db
	p.mu.RUnlock()

	return db.WithContext(ctx).Transaction(fn)
}

// WithTransactionRetry retries fn on transient failures with exponential
// backoff. Consolidation runs hit lock contention when they overlap user
// traffic; a deadlock there is retryable, a constraint violation is not.
func (p *Pool) WithTransactionRetry(ctx context.Context, maxRetries int, fn func(tx *gorm.DB) error) error {
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		err := p.WithTransaction(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return err
		}

		p.logger.Warn("transaction failed, retrying",
			zap.Int("attempt", i+1),
			zap.Error(err))

		backoff := time.Duration(1<<uint(i)) * 100 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("transaction failed after %d retries: %w", maxRetries, lastErr)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "deadlock"):
		return true
	// PostgreSQL serialization failure, SQLSTATE 40001.
	case strings.Contains(msg, "serialization failure"), strings.Contains(msg, "40001"):
		return true
	case strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "broken pipe"):
		return true
	case strings.Contains(msg, "lock timeout"), strings.Contains(msg, "lock wait timeout"):
		return true
	case strings.Contains(msg, "database is locked"): // sqlite busy
		return true
	case strings.Contains(msg, "bad connection"):
		return true
	}
	return false
}
