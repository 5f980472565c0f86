package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmemory/internal/metrics"
)

// ManagerConfig configures the session registry.
type ManagerConfig struct {
	// MaxSessionsPerUser caps live buffers per user. Defaults to 3.
	MaxSessionsPerUser int `json:"max_sessions_per_user"`

	// IdleTimeout evicts sessions with no activity for this long.
	// Defaults to 30 minutes.
	IdleTimeout time.Duration `json:"idle_timeout"`

	// SweepInterval is how often the idle sweep runs. Defaults to 5 minutes.
	SweepInterval time.Duration `json:"sweep_interval"`

	// SnapshotTimeout bounds each snapshot store call so the hot path never
	// blocks indefinitely on storage. Defaults to 2 seconds.
	SnapshotTimeout time.Duration `json:"snapshot_timeout"`

	// WorkingMemory configures the buffers this manager creates.
	WorkingMemory WorkingMemoryConfig `json:"working_memory"`

	// Now is used in tests. Defaults to time.Now.
	Now func() time.Time `json:"-"`
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxSessionsPerUser: 3,
		IdleTimeout:        30 * time.Minute,
		SweepInterval:      5 * time.Minute,
		SnapshotTimeout:    2 * time.Second,
		WorkingMemory:      DefaultWorkingMemoryConfig(),
	}
}

// Manager owns the map of live working memory buffers. It applies a
// per-user session cap with least-recently-active eviction, evicts idle
// sessions on a sweep timer, and flushes evicted sessions to the snapshot
// store so pending facts are not silently lost. Snapshot failures are
// non-fatal; the hot path always gets a buffer.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*WorkingMemory

	config    ManagerConfig
	snapshots SnapshotStore
	now       func() time.Time

	running bool
	stopCh  chan struct{}

	collector *metrics.Collector
	logger    *zap.Logger
}

// NewManager creates a session registry. snapshots may be nil, in which
// case eviction discards state and cold-start recovery is disabled.
func NewManager(config ManagerConfig, snapshots SnapshotStore, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultManagerConfig()
	if config.MaxSessionsPerUser <= 0 {
		config.MaxSessionsPerUser = defaults.MaxSessionsPerUser
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.SnapshotTimeout <= 0 {
		config.SnapshotTimeout = defaults.SnapshotTimeout
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	if config.WorkingMemory.Now == nil {
		config.WorkingMemory.Now = now
	}
	return &Manager{
		sessions:  make(map[string]*WorkingMemory),
		config:    config,
		snapshots: snapshots,
		now:       now,
		logger:    logger.With(zap.String("component", "memory_manager")),
	}
}

// SetMetrics attaches a metrics collector. Call before Start.
func (m *Manager) SetMetrics(collector *metrics.Collector) {
	m.collector = collector
}

func sessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

func (m *Manager) observeSessions(live int) {
	if m.collector != nil {
		m.collector.SetLiveSessions(live)
	}
}

func (m *Manager) recordEvictions(reason string, count int) {
	if m.collector == nil {
		return
	}
	for i := 0; i < count; i++ {
		m.collector.RecordEviction(reason)
	}
}

// Get returns the buffer for (userID, sessionID), creating it on demand.
// A miss first attempts a snapshot load for cold-start recovery; load
// failures fall back to an empty buffer and are only logged.
func (m *Manager) Get(ctx context.Context, userID, sessionID string) *WorkingMemory {
	key := sessionKey(userID, sessionID)

	m.mu.Lock()
	if wm, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		return wm
	}
	m.mu.Unlock()

	wm := NewWorkingMemory(userID, sessionID, m.config.WorkingMemory, m.logger)

	if m.snapshots != nil {
		loadCtx, cancel := context.WithTimeout(ctx, m.config.SnapshotTimeout)
		snap, err := m.snapshots.Load(loadCtx, userID, sessionID)
		cancel()
		switch {
		case err == nil:
			wm.Restore(snap)
			m.logger.Debug("session restored from snapshot",
				zap.String("user_id", userID),
				zap.String("session_id", sessionID),
				zap.Int("turns", wm.Len()))
		case errors.Is(err, ErrSnapshotNotFound):
			// Fresh session.
		default:
			if m.collector != nil {
				m.collector.RecordSnapshotFailure("load")
			}
			m.logger.Warn("snapshot load failed, starting empty",
				zap.String("user_id", userID),
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}

	m.mu.Lock()
	// Lost a race to another Get; keep the winner.
	if existing, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		return existing
	}
	m.sessions[key] = wm
	evictees := m.capUserSessionsLocked(userID)
	live := len(m.sessions)
	m.mu.Unlock()

	m.observeSessions(live)
	m.recordEvictions("capacity", len(evictees))
	for _, e := range evictees {
		m.flush(ctx, e)
	}
	return wm
}

// Peek returns the buffer if it is live, without creating or loading one.
func (m *Manager) Peek(userID, sessionID string) (*WorkingMemory, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wm, ok := m.sessions[sessionKey(userID, sessionID)]
	return wm, ok
}

// ForUser returns all live buffers for a user.
func (m *Manager) ForUser(userID string) []*WorkingMemory {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*WorkingMemory
	for _, wm := range m.sessions {
		if wm.UserID() == userID {
			out = append(out, wm)
		}
	}
	return out
}

// Users returns the distinct user IDs with at least one live session,
// sorted for deterministic iteration.
func (m *Manager) Users() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(m.sessions))
	var out []string
	for _, wm := range m.sessions {
		if !seen[wm.UserID()] {
			seen[wm.UserID()] = true
			out = append(out, wm.UserID())
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Evict removes a session, flushing it to the snapshot store first.
func (m *Manager) Evict(ctx context.Context, userID, sessionID string) bool {
	key := sessionKey(userID, sessionID)

	m.mu.Lock()
	wm, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	live := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return false
	}
	m.observeSessions(live)
	m.recordEvictions("explicit", 1)
	m.flush(ctx, wm)
	return true
}

// capUserSessionsLocked enforces the per-user cap, returning buffers that
// must be flushed by the caller after the lock is released.
func (m *Manager) capUserSessionsLocked(userID string) []*WorkingMemory {
	var owned []*WorkingMemory
	for _, wm := range m.sessions {
		if wm.UserID() == userID {
			owned = append(owned, wm)
		}
	}
	if len(owned) <= m.config.MaxSessionsPerUser {
		return nil
	}

	var evictees []*WorkingMemory
	for len(owned) > m.config.MaxSessionsPerUser {
		oldest := 0
		for i := 1; i < len(owned); i++ {
			if owned[i].LastActivity().Before(owned[oldest].LastActivity()) {
				oldest = i
			}
		}
		victim := owned[oldest]
		owned = append(owned[:oldest], owned[oldest+1:]...)
		delete(m.sessions, sessionKey(victim.UserID(), victim.SessionID()))
		evictees = append(evictees, victim)
	}
	return evictees
}

// flush saves a buffer snapshot, best effort.
func (m *Manager) flush(ctx context.Context, wm *WorkingMemory) {
	if m.snapshots == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(ctx, m.config.SnapshotTimeout)
	defer cancel()

	if err := m.snapshots.Save(saveCtx, wm.Snapshot()); err != nil {
		if m.collector != nil {
			m.collector.RecordSnapshotFailure("save")
		}
		m.logger.Warn("snapshot save failed, session state dropped",
			zap.String("user_id", wm.UserID()),
			zap.String("session_id", wm.SessionID()),
			zap.Error(err))
		return
	}
	m.logger.Debug("session flushed",
		zap.String("user_id", wm.UserID()),
		zap.String("session_id", wm.SessionID()))
}

// SweepIdle evicts sessions idle longer than the configured timeout and
// returns how many were evicted.
func (m *Manager) SweepIdle(ctx context.Context) int {
	cutoff := m.now().Add(-m.config.IdleTimeout)

	m.mu.Lock()
	var idle []*WorkingMemory
	for key, wm := range m.sessions {
		if wm.LastActivity().Before(cutoff) {
			delete(m.sessions, key)
			idle = append(idle, wm)
		}
	}
	live := len(m.sessions)
	m.mu.Unlock()

	if len(idle) > 0 {
		m.observeSessions(live)
		m.recordEvictions("idle", len(idle))
	}
	for _, wm := range idle {
		m.flush(ctx, wm)
	}
	if len(idle) > 0 {
		m.logger.Info("idle sessions evicted", zap.Int("count", len(idle)))
	}
	return len(idle)
}

// Start launches the periodic idle sweep.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("manager already running")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	go m.sweepLoop(ctx)
	m.logger.Info("memory manager started")
	return nil
}

// Stop halts the periodic idle sweep.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	close(m.stopCh)
	m.running = false
	m.logger.Info("memory manager stopped")
}

func (m *Manager) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.SweepIdle(ctx)
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
