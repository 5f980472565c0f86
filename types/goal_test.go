package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGoal_IsOverdue(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	tests := []struct {
		name    string
		status  GoalStatus
		due     *time.Time
		overdue bool
	}{
		{"active past due", GoalActive, &past, true},
		{"active not yet due", GoalActive, &future, false},
		{"active without due date", GoalActive, nil, false},
		{"completed past due", GoalCompleted, &past, false},
		{"archived past due", GoalArchived, &past, false},
		{"paused past due", GoalPaused, &past, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &Goal{Status: tt.status, DueDate: tt.due}
			assert.Equal(t, tt.overdue, g.IsOverdue(now))
		})
	}
}

func TestGoal_DueSoon(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	soon := now.Add(6 * time.Hour)
	far := now.Add(72 * time.Hour)
	past := now.Add(-time.Hour)

	g := &Goal{Status: GoalActive, DueDate: &soon}
	assert.True(t, g.DueSoon(now, 24*time.Hour))

	g.DueDate = &far
	assert.False(t, g.DueSoon(now, 24*time.Hour))

	// Past-due goals are overdue, not due soon.
	g.DueDate = &past
	assert.False(t, g.DueSoon(now, 24*time.Hour))
}

func TestGoalPriority_Rank(t *testing.T) {
	t.Parallel()

	assert.Less(t, PriorityCritical.Rank(), PriorityHigh.Rank())
	assert.Less(t, PriorityHigh.Rank(), PriorityMedium.Rank())
	assert.Less(t, PriorityMedium.Rank(), PriorityLow.Rank())
	assert.Greater(t, GoalPriority("bogus").Rank(), PriorityLow.Rank())
}

func TestConsolidationResult_Touched(t *testing.T) {
	t.Parallel()

	var r ConsolidationResult
	assert.False(t, r.Touched())

	r.Merged = 1
	assert.True(t, r.Touched())
}
