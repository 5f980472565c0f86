package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmemory/types"
)

// InMemoryFactStoreConfig configures the in-memory fact store.
type InMemoryFactStoreConfig struct {
	// Now is used in tests. Defaults to time.Now.
	Now func() time.Time
}

// InMemoryFactStore is a mutex-owned FactStore implementation for local
// development, tests, and small-scale deployments.
type InMemoryFactStore struct {
	mu    sync.RWMutex
	facts map[string]*types.Fact

	now    func() time.Time
	logger *zap.Logger
}

// NewInMemoryFactStore creates an in-memory fact store.
func NewInMemoryFactStore(config InMemoryFactStoreConfig, logger *zap.Logger) *InMemoryFactStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &InMemoryFactStore{
		facts:  make(map[string]*types.Fact),
		now:    now,
		logger: logger.With(zap.String("component", "fact_store_inmemory")),
	}
}

func (s *InMemoryFactStore) LearnFact(ctx context.Context, userID, content, category, source string, confidence float64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if userID == "" || content == "" {
		return "", types.NewError(types.ErrInvalidArgument, "user id and content are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	fact := &types.Fact{
		ID:           uuid.NewString(),
		UserID:       userID,
		Content:      content,
		Category:     category,
		Source:       source,
		Confidence:   clamp01(confidence),
		CreatedAt:    now,
		LastAccessed: now,
	}
	s.facts[fact.ID] = fact

	s.logger.Debug("fact learned",
		zap.String("id", fact.ID),
		zap.String("user_id", userID),
		zap.String("category", category))

	return fact.ID, nil
}

func (s *InMemoryFactStore) SearchFacts(ctx context.Context, userID, query string, limit int) ([]*types.Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))

	var results []*types.Fact
	for _, f := range s.facts {
		if f.UserID != userID {
			continue
		}
		if len(terms) > 0 && !matchesAnyTerm(f.Content, terms) {
			continue
		}
		copied := *f
		results = append(results, &copied)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})

	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	return results, nil
}

func (s *InMemoryFactStore) GetFacts(ctx context.Context, userID, category string, limit int, minConfidence float64) ([]*types.Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*types.Fact
	for _, f := range s.facts {
		if f.UserID != userID {
			continue
		}
		if category != "" && f.Category != category {
			continue
		}
		if f.Confidence < minConfidence {
			continue
		}
		copied := *f
		results = append(results, &copied)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})

	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	return results, nil
}

func (s *InMemoryFactStore) UpdateFactConfidence(ctx context.Context, factID string, confidence float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fact, ok := s.facts[factID]
	if !ok {
		return types.NewError(types.ErrNotFound, fmt.Sprintf("fact %q not found", factID))
	}
	fact.Confidence = clamp01(confidence)
	// Maintenance counts as access for staleness purposes, so a decayed fact
	// is not decayed again on the next pass.
	fact.LastAccessed = s.now()
	return nil
}

func (s *InMemoryFactStore) TouchFact(ctx context.Context, factID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fact, ok := s.facts[factID]
	if !ok {
		return types.NewError(types.ErrNotFound, fmt.Sprintf("fact %q not found", factID))
	}
	fact.AccessCount++
	fact.LastAccessed = s.now()
	return nil
}

func (s *InMemoryFactStore) DeleteFact(ctx context.Context, factID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.facts, factID)
	return nil
}

func matchesAnyTerm(content string, terms []string) bool {
	lower := strings.ToLower(content)
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
