package store

import (
	"context"
	"time"

	"github.com/BaSui01/agentmemory/types"
)

// FactStore is the contract for durable fact persistence. Implementations
// must be safe for concurrent use.
type FactStore interface {
	// LearnFact persists a new fact and returns its ID.
	LearnFact(ctx context.Context, userID, content, category, source string, confidence float64) (string, error)

	// SearchFacts returns facts matching the query text, best first.
	SearchFacts(ctx context.Context, userID, query string, limit int) ([]*types.Fact, error)

	// GetFacts returns facts for a user, optionally filtered by category and
	// minimum confidence. An empty category matches all.
	GetFacts(ctx context.Context, userID, category string, limit int, minConfidence float64) ([]*types.Fact, error)

	// UpdateFactConfidence sets a fact's confidence, clamped to [0, 1], and
	// refreshes the last-accessed stamp so maintenance resets staleness.
	UpdateFactConfidence(ctx context.Context, factID string, confidence float64) error

	// TouchFact records an access, bumping the access count and timestamp.
	TouchFact(ctx context.Context, factID string) error

	// DeleteFact removes a fact outright.
	DeleteFact(ctx context.Context, factID string) error
}

// GraphNode is a node record returned by a graph store.
type GraphNode struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// GraphStore is the contract for knowledge graph access. Query dispatches a
// named query with parameters; the memory layer never embeds a graph query
// language.
type GraphStore interface {
	Query(ctx context.Context, name string, params map[string]any) ([]map[string]any, error)
	GetNode(ctx context.Context, id string) (*GraphNode, error)
	CreateNode(ctx context.Context, nodeType string, properties map[string]any) (*GraphNode, error)
}

// BehaviorPattern is a learned per-agent behavior with a success-weighted
// confidence.
type BehaviorPattern struct {
	ID         string    `json:"id"`
	AgentName  string    `json:"agent_name"`
	Pattern    string    `json:"pattern"`
	Confidence float64   `json:"confidence"`
	UseCount   int       `json:"use_count"`
	LastUsed   time.Time `json:"last_used"`
}

// PatternStore holds learned behavior patterns. Consolidation softly
// penalizes stale patterns instead of deleting them, so repeated disuse,
// not a single miss, drives them toward irrelevance.
type PatternStore interface {
	// StalePatterns returns patterns unused since the cutoff.
	StalePatterns(ctx context.Context, cutoff time.Time) ([]*BehaviorPattern, error)

	// Penalize applies a soft confidence penalty to a pattern and refreshes
	// its last-used stamp, so only renewed disuse repeats the penalty.
	Penalize(ctx context.Context, patternID string, penalty float64) error
}
