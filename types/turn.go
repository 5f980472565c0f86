package types

import "time"

// Role identifies the author of a conversational turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single conversational exchange entry. Turns are immutable once
// appended to a working memory buffer.
type Turn struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Entities  []string       `json:"entities,omitempty"`
	Topics    []string       `json:"topics,omitempty"`
	AgentName string         `json:"agent_name,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// PendingFact is a candidate fact extracted from conversation. It lives only
// inside a working memory buffer until consolidation promotes or discards it.
type PendingFact struct {
	Content    string    `json:"content"`
	Category   string    `json:"category"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	TurnIndex  int       `json:"turn_index"`
}

// Fact is a durable fact record owned by a fact store.
type Fact struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Content      string    `json:"content"`
	Category     string    `json:"category"`
	Source       string    `json:"source,omitempty"`
	Confidence   float64   `json:"confidence"`
	AccessCount  int       `json:"access_count,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed,omitempty"`
}
