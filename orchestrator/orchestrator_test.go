package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmemory/episodes"
	"github.com/BaSui01/agentmemory/goals"
	"github.com/BaSui01/agentmemory/memory"
	"github.com/BaSui01/agentmemory/store"
	"github.com/BaSui01/agentmemory/types"
)

var orchNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type orchFixture struct {
	sessions *memory.Manager
	tracker  *goals.Tracker
	facts    *store.InMemoryFactStore
	graph    *store.InMemoryGraph
	orch     *Orchestrator
}

func newOrchFixture(t *testing.T) *orchFixture {
	t.Helper()
	clock := func() time.Time { return orchNow }

	mgrCfg := memory.DefaultManagerConfig()
	mgrCfg.Now = clock
	sessions := memory.NewManager(mgrCfg, nil, zap.NewNop())

	trackerCfg := goals.DefaultTrackerConfig()
	trackerCfg.Now = clock
	tracker := goals.NewTracker(trackerCfg, zap.NewNop())

	facts := store.NewInMemoryFactStore(store.InMemoryFactStoreConfig{Now: clock}, zap.NewNop())
	graph := store.NewInMemoryGraph(store.InMemoryGraphConfig{Now: clock}, zap.NewNop())

	epCfg := episodes.DefaultDetectorConfig()
	epCfg.Now = clock
	detector := episodes.NewDetector(graph, epCfg, zap.NewNop())

	cfg := DefaultConfig()
	cfg.Now = clock
	orch := New(sessions, tracker, facts, graph, nil, detector, cfg, nil, zap.NewNop())

	return &orchFixture{
		sessions: sessions,
		tracker:  tracker,
		facts:    facts,
		graph:    graph,
		orch:     orch,
	}
}

func TestOrchestrator_ContextForAgent(t *testing.T) {
	t.Parallel()

	f := newOrchFixture(t)
	ctx := context.Background()

	wm := f.sessions.Get(ctx, "u1", "s1")
	wm.AddTurn(types.RoleUser, "help me plan the jazz festival set", []string{"festival"}, []string{"music"}, "")
	wm.AddTurn(types.RoleAssistant, "sure, what is the venue?", nil, nil, "planner")

	_, err := f.facts.LearnFact(ctx, "u1", "user plays tenor saxophone in a jazz quartet", "background", "conversation", 0.9)
	require.NoError(t, err)
	_, err = f.facts.LearnFact(ctx, "u1", "user prefers evening rehearsals", "preference", "conversation", 0.7)
	require.NoError(t, err)

	due := orchNow.Add(6 * time.Hour)
	f.tracker.AddGoal("u1", "book the jazz festival venue", types.PriorityHigh, types.GoalSourceExplicit, &due)

	ac := f.orch.ContextForAgent(ctx, Request{
		UserID:    "u1",
		AgentName: "planner",
		Query:     "jazz festival venue",
		SessionID: "s1",
		TaskType:  "planning",
	})

	require.NotNil(t, ac)
	assert.Len(t, ac.RecentTurns, 2)
	assert.Equal(t, "book the jazz festival venue", ac.CurrentGoal)
	require.NotEmpty(t, ac.RelevantFacts)
	assert.Contains(t, ac.RelevantFacts[0].Content, "jazz")
	assert.Contains(t, ac.UserPreferences, "user prefers evening rehearsals")
	assert.NotEmpty(t, ac.ProactiveInsights, "a goal due in 6h is a proactive insight")
	assert.Contains(t, ac.SourcesQueried, SourceWorkingMemory)
	assert.Contains(t, ac.SourcesQueried, SourceFacts)
	assert.Greater(t, ac.Confidence, 0.0)
}

func TestOrchestrator_RetrievalRecordsFactAccess(t *testing.T) {
	t.Parallel()

	f := newOrchFixture(t)
	ctx := context.Background()

	id, err := f.facts.LearnFact(ctx, "u1", "user plays tenor saxophone in a jazz quartet", "background", "conversation", 0.9)
	require.NoError(t, err)

	req := Request{UserID: "u1", AgentName: "planner", Query: "saxophone", SessionID: "s1"}
	ac := f.orch.ContextForAgent(ctx, req)
	require.NotEmpty(t, ac.RelevantFacts)

	stored, err := f.facts.GetFacts(ctx, "u1", "", 0, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, id, stored[0].ID)
	assert.Equal(t, 1, stored[0].AccessCount)

	// The recorded access shows up as a non-zero frequency factor on the
	// next retrieval.
	ac = f.orch.ContextForAgent(ctx, req)
	require.NotEmpty(t, ac.RelevantFacts)
	assert.Greater(t, ac.RelevantFacts[0].Factors.Frequency, 0.0)
}

func TestOrchestrator_SourcesListOnlyContributors(t *testing.T) {
	t.Parallel()

	f := newOrchFixture(t)

	// Healthy collaborators with nothing to return contribute no sources.
	ac := f.orch.ContextForAgent(context.Background(), Request{
		UserID:    "u1",
		AgentName: "planner",
		Query:     "anything at all",
	})

	require.NotNil(t, ac)
	assert.Empty(t, ac.SourcesQueried)
	assert.Zero(t, ac.Confidence)
}

func TestOrchestrator_TotalOutageStillReturnsContext(t *testing.T) {
	t.Parallel()

	clock := func() time.Time { return orchNow }
	mgrCfg := memory.DefaultManagerConfig()
	mgrCfg.Now = clock
	sessions := memory.NewManager(mgrCfg, nil, zap.NewNop())

	trackerCfg := goals.DefaultTrackerConfig()
	trackerCfg.Now = clock
	tracker := goals.NewTracker(trackerCfg, zap.NewNop())

	epCfg := episodes.DefaultDetectorConfig()
	epCfg.Now = clock
	detector := episodes.NewDetector(downGraph{}, epCfg, zap.NewNop())

	cfg := DefaultConfig()
	cfg.Now = clock
	orch := New(sessions, tracker, downFactStore{}, downGraph{}, nil, detector, cfg, nil, zap.NewNop())

	ac := orch.ContextForAgent(context.Background(), Request{
		UserID:    "u1",
		AgentName: "planner",
		Query:     "anything at all",
		SessionID: "s1",
	})

	require.NotNil(t, ac, "total collaborator outage must still yield a context")
	assert.Empty(t, ac.RelevantFacts)
	assert.Empty(t, ac.UserPreferences)
	assert.Empty(t, ac.GraphContext)
	assert.NotContains(t, ac.SourcesQueried, SourceFacts)
	assert.NotContains(t, ac.SourcesQueried, SourceGraph)
}

func TestOrchestrator_RememberImportanceBands(t *testing.T) {
	t.Parallel()

	f := newOrchFixture(t)
	ctx := context.Background()

	// Ephemeral: working memory only.
	require.True(t, f.orch.Remember(ctx, "u1", "mentioned the weather", "smalltalk", "conversation", 0.2, "s1"))
	facts, err := f.facts.GetFacts(ctx, "u1", "", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, facts)
	wm := f.sessions.Get(ctx, "u1", "s1")
	assert.Len(t, wm.PendingFacts(0), 1)

	// Mid band: also persisted as a fact at the importance value.
	require.True(t, f.orch.Remember(ctx, "u1", "user works remotely on fridays", "schedule", "conversation", 0.6, "s1"))
	facts, err = f.facts.GetFacts(ctx, "u1", "", 0, 0)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, 0.6, facts[0].Confidence)

	// High band: additionally a durable graph node.
	require.True(t, f.orch.Remember(ctx, "u1", "user is allergic to penicillin", "medical", "conversation", 0.9, ""))
	facts, err = f.facts.GetFacts(ctx, "u1", "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, facts, 2)

	nodes, err := f.graph.Query(ctx, store.QueryRecentDocuments, map[string]any{"user_id": "u1"})
	require.NoError(t, err)
	assert.Empty(t, nodes, "memory nodes are not documents")
}

func TestOrchestrator_RememberDurableFailure(t *testing.T) {
	t.Parallel()

	clock := func() time.Time { return orchNow }
	mgrCfg := memory.DefaultManagerConfig()
	mgrCfg.Now = clock
	sessions := memory.NewManager(mgrCfg, nil, zap.NewNop())
	trackerCfg := goals.DefaultTrackerConfig()
	trackerCfg.Now = clock
	tracker := goals.NewTracker(trackerCfg, zap.NewNop())

	orch := New(sessions, tracker, downFactStore{}, nil, nil, nil, DefaultConfig(), nil, zap.NewNop())

	ctx := context.Background()
	assert.False(t, orch.Remember(ctx, "u1", "important thing", "misc", "conversation", 0.6, "s1"))
	// The working-memory write still happened.
	wm := sessions.Get(ctx, "u1", "s1")
	assert.Len(t, wm.PendingFacts(0), 1)
}

func TestOrchestrator_LearnFromTurn(t *testing.T) {
	t.Parallel()

	f := newOrchFixture(t)
	ctx := context.Background()

	f.orch.LearnFromTurn(ctx, "u1", "s1",
		"I need to finish the Q4 report by tomorrow",
		"Noted. I'll help you structure it.",
		"planner", []string{"Q4 report"}, []string{"work"}, true)

	wm := f.sessions.Get(ctx, "u1", "s1")
	assert.Equal(t, 2, wm.Len())
	assert.Equal(t, "finish the Q4 report", wm.CurrentGoal())

	active := f.tracker.ActiveGoals("u1")
	require.Len(t, active, 1)
	assert.Equal(t, "finish the Q4 report", active[0].Description)

	// Completing the goal in conversation clears the buffer's goal slot.
	f.orch.LearnFromTurn(ctx, "u1", "s1",
		"I finished the Q4 report",
		"Congratulations!",
		"planner", nil, nil, true)

	assert.Empty(t, f.tracker.ActiveGoals("u1"))
	assert.Empty(t, wm.CurrentGoal())
}

func TestOrchestrator_LearnFromTurnDetectsCorrection(t *testing.T) {
	t.Parallel()

	f := newOrchFixture(t)
	ctx := context.Background()

	f.orch.LearnFromTurn(ctx, "u1", "s1",
		"what time zone is the denver office in",
		"The Denver office is in Pacific Time.",
		"assistant", nil, nil, true)

	f.orch.LearnFromTurn(ctx, "u1", "s1",
		"that's wrong, Denver is Mountain Time",
		"You're right, my mistake. Denver is in Mountain Time.",
		"assistant", nil, nil, true)

	wm := f.sessions.Get(ctx, "u1", "s1")
	pending := wm.PendingFacts(0)
	require.NotEmpty(t, pending)
	found := false
	for _, pf := range pending {
		if pf.Category == "agent_outcome" {
			found = true
		}
	}
	assert.True(t, found, "correction should record an agent outcome fact")
}

func TestOrchestrator_CrossSessionContext(t *testing.T) {
	t.Parallel()

	f := newOrchFixture(t)
	ctx := context.Background()

	other := f.sessions.Get(ctx, "u1", "s-old")
	other.AddTurn(types.RoleUser, "the migration plan needs a rollback step", nil, nil, "")

	ac := f.orch.ContextForAgent(ctx, Request{
		UserID:    "u1",
		AgentName: "planner",
		Query:     "migration rollback",
		SessionID: "s-new",
	})

	require.NotEmpty(t, ac.CrossSessionContext)
	assert.Contains(t, ac.CrossSessionContext[0], "migration plan")
}

type downFactStore struct{}

var errDown = errors.New("collaborator down")

func (downFactStore) LearnFact(ctx context.Context, userID, content, category, source string, confidence float64) (string, error) {
	return "", errDown
}

func (downFactStore) SearchFacts(ctx context.Context, userID, query string, limit int) ([]*types.Fact, error) {
	return nil, errDown
}

func (downFactStore) GetFacts(ctx context.Context, userID, category string, limit int, minConfidence float64) ([]*types.Fact, error) {
	return nil, errDown
}

func (downFactStore) UpdateFactConfidence(ctx context.Context, factID string, confidence float64) error {
	return errDown
}

func (downFactStore) TouchFact(ctx context.Context, factID string) error { return errDown }

func (downFactStore) DeleteFact(ctx context.Context, factID string) error { return errDown }

type downGraph struct{}

func (downGraph) Query(ctx context.Context, name string, params map[string]any) ([]map[string]any, error) {
	return nil, errDown
}

func (downGraph) GetNode(ctx context.Context, id string) (*store.GraphNode, error) {
	return nil, errDown
}

func (downGraph) CreateNode(ctx context.Context, nodeType string, properties map[string]any) (*store.GraphNode, error) {
	return nil, errDown
}
