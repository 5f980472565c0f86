package memory

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmemory/types"
)

// WorkingMemoryConfig configures a turn buffer.
type WorkingMemoryConfig struct {
	// MaxTurns caps the buffer length. Defaults to 15.
	MaxTurns int `json:"max_turns"`

	// Now is used in tests. Defaults to time.Now.
	Now func() time.Time `json:"-"`
}

// DefaultWorkingMemoryConfig returns sensible defaults.
func DefaultWorkingMemoryConfig() WorkingMemoryConfig {
	return WorkingMemoryConfig{
		MaxTurns: 15,
	}
}

// WorkingMemory is a session-scoped bounded buffer of conversational turns.
// It is safe for concurrent use; the buffer owns its map state behind its
// own lock, and callers only touch it through these methods.
type WorkingMemory struct {
	mu        sync.RWMutex
	userID    string
	sessionID string

	turns        []types.Turn
	pendingFacts []types.PendingFact
	currentGoal  string

	entityCounts map[string]int
	topicCounts  map[string]int

	maxTurns  int
	now       func() time.Time
	createdAt time.Time
	lastUsed  time.Time

	logger *zap.Logger
}

// NewWorkingMemory creates a turn buffer for one (user, session) pair.
func NewWorkingMemory(userID, sessionID string, config WorkingMemoryConfig, logger *zap.Logger) *WorkingMemory {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxTurns := config.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultWorkingMemoryConfig().MaxTurns
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	created := now()
	return &WorkingMemory{
		userID:       userID,
		sessionID:    sessionID,
		turns:        make([]types.Turn, 0, maxTurns),
		entityCounts: make(map[string]int),
		topicCounts:  make(map[string]int),
		maxTurns:     maxTurns,
		now:          now,
		createdAt:    created,
		lastUsed:     created,
		logger: logger.With(
			zap.String("component", "working_memory"),
			zap.String("user_id", userID),
			zap.String("session_id", sessionID),
		),
	}
}

// UserID returns the owning user.
func (w *WorkingMemory) UserID() string { return w.userID }

// SessionID returns the owning session.
func (w *WorkingMemory) SessionID() string { return w.sessionID }

// LastActivity returns the time of the most recent mutation.
func (w *WorkingMemory) LastActivity() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastUsed
}

// AddTurn appends a turn, evicting the oldest turns beyond capacity. After
// eviction the entity/topic tables are recomputed from the remaining buffer
// so they never reference evicted content.
func (w *WorkingMemory) AddTurn(role types.Role, content string, entities, topics []string, agentName string) types.Turn {
	w.mu.Lock()
	defer w.mu.Unlock()

	turn := types.Turn{
		Role:      role,
		Content:   content,
		Timestamp: w.now(),
		Entities:  entities,
		Topics:    topics,
		AgentName: agentName,
	}

	w.turns = append(w.turns, turn)
	evicted := 0
	if len(w.turns) > w.maxTurns {
		evicted = len(w.turns) - w.maxTurns
		w.turns = append(w.turns[:0:0], w.turns[evicted:]...)
	}

	if evicted > 0 {
		w.recomputeMentionTables()
		w.logger.Debug("turns evicted", zap.Int("evicted", evicted))
	} else {
		for _, e := range entities {
			w.entityCounts[e]++
		}
		for _, tp := range topics {
			w.topicCounts[tp]++
		}
	}

	w.lastUsed = turn.Timestamp
	return turn
}

// recomputeMentionTables rebuilds the entity/topic frequency tables from
// the current buffer contents. Incremental decrements would drift once a
// turn is evicted; a full rebuild keeps the invariant trivially true.
func (w *WorkingMemory) recomputeMentionTables() {
	w.entityCounts = make(map[string]int)
	w.topicCounts = make(map[string]int)
	for _, t := range w.turns {
		for _, e := range t.Entities {
			w.entityCounts[e]++
		}
		for _, tp := range t.Topics {
			w.topicCounts[tp]++
		}
	}
}

// ContextWindow returns the last n turns in order. n <= 0 returns all.
func (w *WorkingMemory) ContextWindow(n int) []types.Turn {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if n <= 0 || n > len(w.turns) {
		n = len(w.turns)
	}
	out := make([]types.Turn, n)
	copy(out, w.turns[len(w.turns)-n:])
	return out
}

// Len returns the number of buffered turns.
func (w *WorkingMemory) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.turns)
}

// ActiveEntities returns entities mentioned in the buffer, most frequently
// reinforced first, ties broken lexically for determinism.
func (w *WorkingMemory) ActiveEntities() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return sortedByCount(w.entityCounts)
}

// ActiveTopics returns topics mentioned in the buffer, most frequent first.
func (w *WorkingMemory) ActiveTopics() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return sortedByCount(w.topicCounts)
}

// EntityMentions returns the mention count for an entity.
func (w *WorkingMemory) EntityMentions(entity string) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.entityCounts[entity]
}

// SetGoal records the session's current goal text.
func (w *WorkingMemory) SetGoal(goal string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.currentGoal = goal
	w.lastUsed = w.now()
}

// CurrentGoal returns the session's current goal text, if any.
func (w *WorkingMemory) CurrentGoal() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.currentGoal
}

// AddPendingFact queues a candidate fact for consolidation.
func (w *WorkingMemory) AddPendingFact(content, category, source string, confidence float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pendingFacts = append(w.pendingFacts, types.PendingFact{
		Content:    content,
		Category:   category,
		Source:     source,
		Confidence: confidence,
		Timestamp:  w.now(),
		TurnIndex:  len(w.turns) - 1,
	})
	w.lastUsed = w.now()
}

// PendingFacts returns pending facts at or above the confidence floor.
func (w *WorkingMemory) PendingFacts(minConfidence float64) []types.PendingFact {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]types.PendingFact, 0, len(w.pendingFacts))
	for _, f := range w.pendingFacts {
		if f.Confidence >= minConfidence {
			out = append(out, f)
		}
	}
	return out
}

// RemovePendingFacts drops pending facts at or above the confidence floor,
// keeping lower-confidence candidates for later turns. Used after
// consolidation promotes them.
func (w *WorkingMemory) RemovePendingFacts(minConfidence float64) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.pendingFacts[:0]
	removed := 0
	for _, f := range w.pendingFacts {
		if f.Confidence >= minConfidence {
			removed++
			continue
		}
		kept = append(kept, f)
	}
	w.pendingFacts = kept
	return removed
}

// Clear resets the buffer to empty while keeping identity and capacity.
func (w *WorkingMemory) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.turns = w.turns[:0]
	w.pendingFacts = nil
	w.currentGoal = ""
	w.entityCounts = make(map[string]int)
	w.topicCounts = make(map[string]int)
	w.lastUsed = w.now()
}

// Snapshot captures the buffer state for durable storage.
func (w *WorkingMemory) Snapshot() *Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	turns := make([]types.Turn, len(w.turns))
	copy(turns, w.turns)
	facts := make([]types.PendingFact, len(w.pendingFacts))
	copy(facts, w.pendingFacts)
	return &Snapshot{
		UserID:       w.userID,
		SessionID:    w.sessionID,
		Turns:        turns,
		PendingFacts: facts,
		CurrentGoal:  w.currentGoal,
		CreatedAt:    w.createdAt,
		LastActivity: w.lastUsed,
	}
}

// Restore replaces the buffer state from a snapshot, re-applying the
// capacity bound and recomputing mention tables.
func (w *WorkingMemory) Restore(snap *Snapshot) {
	if snap == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	turns := snap.Turns
	if len(turns) > w.maxTurns {
		turns = turns[len(turns)-w.maxTurns:]
	}
	w.turns = append(w.turns[:0:0], turns...)
	w.pendingFacts = append([]types.PendingFact(nil), snap.PendingFacts...)
	w.currentGoal = snap.CurrentGoal
	if !snap.CreatedAt.IsZero() {
		w.createdAt = snap.CreatedAt
	}
	if !snap.LastActivity.IsZero() {
		w.lastUsed = snap.LastActivity
	}
	w.recomputeMentionTables()
}

func sortedByCount(counts map[string]int) []string {
	out := make([]string, 0, len(counts))
	for k := range counts {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
