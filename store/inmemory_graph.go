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

// Named queries understood by InMemoryGraph. Production deployments back
// GraphStore with a real graph database; the episode detector only depends
// on these names and their parameter/record shapes.
const (
	QueryRecentDocuments  = "recent_documents"
	QueryRecentMessages   = "recent_messages"
	QueryUpcomingDeadline = "upcoming_deadlines"
)

// InMemoryGraphConfig configures the in-memory graph store.
type InMemoryGraphConfig struct {
	// Now is used in tests. Defaults to time.Now.
	Now func() time.Time
}

// InMemoryGraph is a GraphStore implementation over typed in-memory nodes.
// It supports the named queries the episode detector issues, matched on
// node type and timestamp properties.
type InMemoryGraph struct {
	mu    sync.RWMutex
	nodes map[string]*GraphNode

	now    func() time.Time
	logger *zap.Logger
}

// NewInMemoryGraph creates an in-memory graph store.
func NewInMemoryGraph(config InMemoryGraphConfig, logger *zap.Logger) *InMemoryGraph {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &InMemoryGraph{
		nodes:  make(map[string]*GraphNode),
		now:    now,
		logger: logger.With(zap.String("component", "graph_inmemory")),
	}
}

func (g *InMemoryGraph) CreateNode(ctx context.Context, nodeType string, properties map[string]any) (*GraphNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if nodeType == "" {
		return nil, types.NewError(types.ErrInvalidArgument, "node type is required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	props := make(map[string]any, len(properties))
	for k, v := range properties {
		props[k] = v
	}

	node := &GraphNode{
		ID:         uuid.NewString(),
		Type:       nodeType,
		Properties: props,
		CreatedAt:  g.now(),
	}
	g.nodes[node.ID] = node

	g.logger.Debug("node created", zap.String("id", node.ID), zap.String("type", nodeType))

	copied := *node
	return &copied, nil
}

func (g *InMemoryGraph) GetNode(ctx context.Context, id string) (*GraphNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.nodes[id]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, fmt.Sprintf("node %q not found", id))
	}
	copied := *node
	return &copied, nil
}

// Query dispatches a named query. Records are copies; callers may mutate
// them freely.
func (g *InMemoryGraph) Query(ctx context.Context, name string, params map[string]any) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch name {
	case QueryRecentDocuments:
		return g.nodesSince(params, "document", "modified_at", false)
	case QueryRecentMessages:
		return g.nodesSince(params, "message", "sent_at", false)
	case QueryUpcomingDeadline:
		return g.nodesSince(params, "task", "due_date", true)
	default:
		return nil, types.NewError(types.ErrInvalidArgument, fmt.Sprintf("unknown query %q", name))
	}
}

// nodesSince returns records of the given type whose time property falls in
// [since, until]. For deadline-style queries the window looks forward
// instead of back, and only open items qualify.
func (g *InMemoryGraph) nodesSince(params map[string]any, nodeType, timeProp string, openOnly bool) ([]map[string]any, error) {
	userID, _ := params["user_id"].(string)
	since, _ := params["since"].(time.Time)
	until, _ := params["until"].(time.Time)

	g.mu.RLock()
	defer g.mu.RUnlock()

	var records []map[string]any
	for _, node := range g.nodes {
		if node.Type != nodeType {
			continue
		}
		if userID != "" {
			if owner, _ := node.Properties["user_id"].(string); owner != userID {
				continue
			}
		}
		if openOnly {
			if done, _ := node.Properties["completed"].(bool); done {
				continue
			}
		}
		ts, ok := node.Properties[timeProp].(time.Time)
		if !ok {
			continue
		}
		if !since.IsZero() && ts.Before(since) {
			continue
		}
		if !until.IsZero() && ts.After(until) {
			continue
		}

		record := make(map[string]any, len(node.Properties)+2)
		for k, v := range node.Properties {
			record[k] = v
		}
		record["id"] = node.ID
		record["type"] = node.Type
		records = append(records, record)
	}
	return records, nil
}
