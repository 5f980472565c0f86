package types

import "time"

// GoalStatus is the lifecycle state of a goal.
type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalAbandoned GoalStatus = "abandoned"
	GoalPaused    GoalStatus = "paused"
	// GoalArchived is terminal. Archived goals are retained, never deleted.
	GoalArchived GoalStatus = "archived"
)

// GoalPriority orders goals for retrieval and urgency checks.
type GoalPriority string

const (
	PriorityCritical GoalPriority = "critical"
	PriorityHigh     GoalPriority = "high"
	PriorityMedium   GoalPriority = "medium"
	PriorityLow      GoalPriority = "low"
)

// Rank returns the sort rank of a priority, lower is more urgent.
// Unknown priorities sort last.
func (p GoalPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// GoalSource records how a goal entered the tracker.
type GoalSource string

const (
	GoalSourceExplicit GoalSource = "explicit"
	GoalSourceInferred GoalSource = "inferred"
	GoalSourceSystem   GoalSource = "system"
)

// Goal is a tracked user objective with a status state machine:
// active -> {completed, abandoned, paused} -> archived.
type Goal struct {
	ID                 string       `json:"id"`
	UserID             string       `json:"user_id"`
	Description        string       `json:"description"`
	Status             GoalStatus   `json:"status"`
	Priority           GoalPriority `json:"priority"`
	Source             GoalSource   `json:"source"`
	CreatedAt          time.Time    `json:"created_at"`
	DueDate            *time.Time   `json:"due_date,omitempty"`
	CompletedAt        *time.Time   `json:"completed_at,omitempty"`
	RelatedEntities    []string     `json:"related_entities,omitempty"`
	ProgressNotes      []string     `json:"progress_notes,omitempty"`
	ProgressPercentage float64      `json:"progress_percentage,omitempty"`
}

// IsOverdue reports whether the goal is active and past its due date.
// Goals without a due date, and goals in any non-active state, are never
// overdue.
func (g *Goal) IsOverdue(now time.Time) bool {
	if g.Status != GoalActive || g.DueDate == nil {
		return false
	}
	return g.DueDate.Before(now)
}

// DueSoon reports whether the goal is active and due within the window.
func (g *Goal) DueSoon(now time.Time, window time.Duration) bool {
	if g.Status != GoalActive || g.DueDate == nil {
		return false
	}
	return !g.DueDate.Before(now) && g.DueDate.Sub(now) <= window
}
