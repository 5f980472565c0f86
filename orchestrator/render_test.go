package orchestrator

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmemory/types"
)

func fullContext() *types.AssembledContext {
	return &types.AssembledContext{
		RecentTurns: []types.Turn{
			{Role: types.RoleUser, Content: "where did we land on the venue?"},
			{Role: types.RoleAssistant, Content: "the riverside hall, pending budget."},
		},
		ActiveEntities:      []string{"riverside hall"},
		ActiveTopics:        []string{"venue"},
		CurrentGoal:         "book the jazz festival venue",
		RelevantFacts:       []types.ScoredMemory{{Content: "user plays tenor saxophone", Score: 0.8}},
		UserPreferences:     []string{"prefers evening rehearsals"},
		GraphContext:        []string{"venue-shortlist.md (festival)"},
		RelatedPeople:       []string{"Sam"},
		ProactiveInsights:   []string{"Due soon: book the jazz festival venue (due Mar 3)"},
		CrossSessionContext: []string{"the migration plan needs a rollback step"},
	}
}

func TestRender_SectionOrder(t *testing.T) {
	t.Parallel()

	out := Render(fullContext(), 0)

	headers := []string{
		"## Recent Conversation",
		"## Current Focus",
		"## Proactive Insights",
		"## Relevant Facts",
		"## User Preferences",
		"## Knowledge Context",
		"## Related People",
		"## From Other Sessions",
	}
	prev := -1
	for _, h := range headers {
		idx := strings.Index(out, h)
		require.GreaterOrEqual(t, idx, 0, "missing section %q", h)
		assert.Greater(t, idx, prev, "section %q out of order", h)
		prev = idx
	}

	assert.Contains(t, out, "user: where did we land on the venue?")
	assert.Contains(t, out, "Goal: book the jazz festival venue")
}

func TestRender_OmitsEmptySections(t *testing.T) {
	t.Parallel()

	out := Render(&types.AssembledContext{
		CurrentGoal: "book the jazz festival venue",
	}, 0)

	assert.Contains(t, out, "## Current Focus")
	assert.NotContains(t, out, "## Recent Conversation")
	assert.NotContains(t, out, "## Relevant Facts")

	assert.Empty(t, Render(&types.AssembledContext{}, 0))
	assert.Empty(t, Render(nil, 100))
}

func TestRender_TruncatesAtLimit(t *testing.T) {
	t.Parallel()

	out := Render(fullContext(), 120)

	assert.LessOrEqual(t, len(out), 120)
	assert.True(t, strings.HasSuffix(out, TruncationMarker))

	// A generous limit leaves the render untouched.
	full := Render(fullContext(), 100000)
	assert.False(t, strings.Contains(full, TruncationMarker))
}

func TestRender_TruncationKeepsRuneBoundary(t *testing.T) {
	t.Parallel()

	ac := &types.AssembledContext{
		UserPreferences: []string{strings.Repeat("héllo wörld ", 40)},
	}

	// Sweep the limit across a stretch of multi-byte content so the cut
	// lands inside a rune at least once.
	for maxLen := len(TruncationMarker) + 24; maxLen < len(TruncationMarker)+48; maxLen++ {
		out := Render(ac, maxLen)
		assert.True(t, utf8.ValidString(out), "limit %d split a rune", maxLen)
		assert.LessOrEqual(t, len(out), maxLen)
		assert.True(t, strings.HasSuffix(out, TruncationMarker))
	}
}

func TestRenderContext_UsesConfiguredBound(t *testing.T) {
	t.Parallel()

	orch := New(nil, nil, nil, nil, nil, nil, Config{MaxContextLength: 120}, nil, zap.NewNop())

	out := orch.RenderContext(fullContext(), 0)
	assert.LessOrEqual(t, len(out), 120)
	assert.True(t, strings.HasSuffix(out, TruncationMarker))

	// An explicit bound overrides the configured one.
	full := orch.RenderContext(fullContext(), 100000)
	assert.False(t, strings.Contains(full, TruncationMarker))
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	assert.Zero(t, EstimateTokens(""))

	n := EstimateTokens("the quick brown fox jumps over the lazy dog")
	assert.Greater(t, n, 0)
	assert.Less(t, n, 20)

	// More text, more tokens.
	longer := EstimateTokens(strings.Repeat("memory consolidation ", 50))
	assert.Greater(t, longer, n)
}
