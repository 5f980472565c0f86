package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmemory/types"
)

// ErrSnapshotNotFound is returned when no snapshot exists for a session.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot is the durable form of a working memory buffer.
type Snapshot struct {
	UserID       string              `json:"user_id"`
	SessionID    string              `json:"session_id"`
	Turns        []types.Turn        `json:"turns"`
	PendingFacts []types.PendingFact `json:"pending_facts,omitempty"`
	CurrentGoal  string              `json:"current_goal,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	LastActivity time.Time           `json:"last_activity"`
}

// SnapshotStore persists session snapshots so evicted sessions can be
// recovered cold. Implementations must be safe for concurrent use.
type SnapshotStore interface {
	Load(ctx context.Context, userID, sessionID string) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Delete(ctx context.Context, userID, sessionID string) error
}

// RedisSnapshotStore stores snapshots as JSON blobs in Redis with a TTL.
type RedisSnapshotStore struct {
	rdb       *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisSnapshotStore creates a Redis-backed snapshot store.
// ttl <= 0 defaults to 7 days.
func NewRedisSnapshotStore(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisSnapshotStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisSnapshotStore{
		rdb:       rdb,
		keyPrefix: "memory:session:",
		ttl:       ttl,
		logger:    logger.With(zap.String("component", "snapshot_store_redis")),
	}
}

func (s *RedisSnapshotStore) key(userID, sessionID string) string {
	return s.keyPrefix + userID + ":" + sessionID
}

func (s *RedisSnapshotStore) Load(ctx context.Context, userID, sessionID string) (*Snapshot, error) {
	data, err := s.rdb.Get(ctx, s.key(userID, sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (s *RedisSnapshotStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot is nil")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(snap.UserID, snap.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisSnapshotStore) Delete(ctx context.Context, userID, sessionID string) error {
	return s.rdb.Del(ctx, s.key(userID, sessionID)).Err()
}

// InMemorySnapshotStore is a SnapshotStore for tests and embedded use.
type InMemorySnapshotStore struct {
	mu    sync.RWMutex
	snaps map[string]*Snapshot
}

// NewInMemorySnapshotStore creates an in-memory snapshot store.
func NewInMemorySnapshotStore() *InMemorySnapshotStore {
	return &InMemorySnapshotStore{snaps: make(map[string]*Snapshot)}
}

func (s *InMemorySnapshotStore) Load(ctx context.Context, userID, sessionID string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snaps[userID+":"+sessionID]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	copied := *snap
	return &copied, nil
}

func (s *InMemorySnapshotStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap == nil {
		return fmt.Errorf("snapshot is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *snap
	s.snaps[snap.UserID+":"+snap.SessionID] = &copied
	return nil
}

func (s *InMemorySnapshotStore) Delete(ctx context.Context, userID, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snaps, userID+":"+sessionID)
	return nil
}
