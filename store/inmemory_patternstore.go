package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmemory/types"
)

// InMemoryPatternStore is a mutex-owned PatternStore for tests and embedded
// deployments.
type InMemoryPatternStore struct {
	mu       sync.RWMutex
	patterns map[string]*BehaviorPattern

	now    func() time.Time
	logger *zap.Logger
}

// NewInMemoryPatternStore creates an in-memory pattern store. now may be nil.
func NewInMemoryPatternStore(now func() time.Time, logger *zap.Logger) *InMemoryPatternStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &InMemoryPatternStore{
		patterns: make(map[string]*BehaviorPattern),
		now:      now,
		logger:   logger.With(zap.String("component", "pattern_store_inmemory")),
	}
}

// Record stores a new behavior pattern observation for an agent.
func (s *InMemoryPatternStore) Record(agentName, pattern string, confidence float64) *BehaviorPattern {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := &BehaviorPattern{
		ID:         uuid.NewString(),
		AgentName:  agentName,
		Pattern:    pattern,
		Confidence: clamp01(confidence),
		UseCount:   1,
		LastUsed:   s.now(),
	}
	s.patterns[p.ID] = p
	copied := *p
	return &copied
}

// MarkUsed bumps a pattern's use count and last-used timestamp.
func (s *InMemoryPatternStore) MarkUsed(patternID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[patternID]
	if !ok {
		return types.NewError(types.ErrNotFound, fmt.Sprintf("pattern %q not found", patternID))
	}
	p.UseCount++
	p.LastUsed = s.now()
	return nil
}

func (s *InMemoryPatternStore) StalePatterns(ctx context.Context, cutoff time.Time) ([]*BehaviorPattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []*BehaviorPattern
	for _, p := range s.patterns {
		if p.LastUsed.Before(cutoff) {
			copied := *p
			stale = append(stale, &copied)
		}
	}
	return stale, nil
}

func (s *InMemoryPatternStore) Penalize(ctx context.Context, patternID string, penalty float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[patternID]
	if !ok {
		return types.NewError(types.ErrNotFound, fmt.Sprintf("pattern %q not found", patternID))
	}
	p.Confidence = clamp01(p.Confidence - penalty)
	// A penalty counts as a simulated use: only renewed disuse repeats it.
	p.LastUsed = s.now()

	s.logger.Debug("pattern penalized",
		zap.String("id", patternID),
		zap.Float64("confidence", p.Confidence))
	return nil
}

// Get returns a copy of a pattern, for tests and inspection.
func (s *InMemoryPatternStore) Get(patternID string) (*BehaviorPattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patterns[patternID]
	if !ok {
		return nil, false
	}
	copied := *p
	return &copied, true
}
