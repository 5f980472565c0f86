package consolidation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmemory/goals"
	"github.com/BaSui01/agentmemory/memory"
	"github.com/BaSui01/agentmemory/orchestrator"
	"github.com/BaSui01/agentmemory/store"
	"github.com/BaSui01/agentmemory/types"
)

var workerNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	sessions *memory.Manager
	facts    *store.InMemoryFactStore
	tracker  *goals.Tracker
	patterns *store.InMemoryPatternStore
	worker   *Worker
	now      *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	now := workerNow
	clock := func() time.Time { return now }

	mgrCfg := memory.DefaultManagerConfig()
	mgrCfg.Now = clock
	sessions := memory.NewManager(mgrCfg, nil, zap.NewNop())

	facts := store.NewInMemoryFactStore(store.InMemoryFactStoreConfig{Now: clock}, zap.NewNop())

	trackerCfg := goals.DefaultTrackerConfig()
	trackerCfg.Now = clock
	tracker := goals.NewTracker(trackerCfg, zap.NewNop())

	patterns := store.NewInMemoryPatternStore(clock, zap.NewNop())

	workerCfg := DefaultWorkerConfig()
	workerCfg.Now = clock
	worker := NewWorker(sessions, facts, tracker, patterns, workerCfg, zap.NewNop())

	f := &fixture{
		sessions: sessions,
		facts:    facts,
		tracker:  tracker,
		patterns: patterns,
		worker:   worker,
	}
	f.now = &now
	return f
}

func TestWorker_PromotesConfidentPendingFacts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	wm := f.sessions.Get(ctx, "u1", "s1")
	wm.AddPendingFact("user works at acme corp", "employment", "conversation", 0.9)
	wm.AddPendingFact("user might like tea", "preference", "conversation", 0.4)

	result := f.worker.RunOnce(ctx, "u1")
	assert.Equal(t, 1, result.Promoted)
	assert.Empty(t, result.Errors)

	stored, err := f.facts.GetFacts(ctx, "u1", "", 0, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "user works at acme corp", stored[0].Content)
	assert.Equal(t, 0.9, stored[0].Confidence)

	// The confident fact left the buffer; the weak one stays pending.
	assert.Empty(t, wm.PendingFacts(0.7))
	assert.Len(t, wm.PendingFacts(0), 1)
}

func TestWorker_MergesNearDuplicateFacts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.facts.LearnFact(ctx, "u1", "User likes jazz", "preference", "conversation", 0.6)
	require.NoError(t, err)
	_, err = f.facts.LearnFact(ctx, "u1", "User enjoys jazz music", "preference", "conversation", 0.8)
	require.NoError(t, err)
	// Same words, different category: never merged.
	_, err = f.facts.LearnFact(ctx, "u1", "User likes jazz", "music_history", "conversation", 0.7)
	require.NoError(t, err)

	result := f.worker.RunOnce(ctx, "u1")
	assert.Equal(t, 1, result.Merged)

	stored, err := f.facts.GetFacts(ctx, "u1", "preference", 0, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "User enjoys jazz music", stored[0].Content)
	assert.InDelta(t, 0.85, stored[0].Confidence, 1e-9)
}

func TestWorker_DecayAndRemoval(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	staleID, err := f.facts.LearnFact(ctx, "u1", "old trivia about printers", "misc", "conversation", 0.5)
	require.NoError(t, err)
	doomedID, err := f.facts.LearnFact(ctx, "u1", "barely believed rumor", "misc", "conversation", 0.05)
	require.NoError(t, err)
	freshID, err := f.facts.LearnFact(ctx, "u1", "current project is apollo", "work", "conversation", 0.9)
	require.NoError(t, err)

	// Two weeks pass without any access.
	*f.now = f.now.Add(14 * 24 * time.Hour)
	require.NoError(t, f.facts.TouchFact(ctx, freshID))

	result := f.worker.RunOnce(ctx, "u1")
	assert.Equal(t, 1, result.Removed, "sub-floor fact is deleted")
	assert.GreaterOrEqual(t, result.Decayed, 1)

	stored, err := f.facts.GetFacts(ctx, "u1", "", 0, 0)
	require.NoError(t, err)
	byID := make(map[string]*types.Fact)
	for _, fact := range stored {
		byID[fact.ID] = fact
	}

	assert.NotContains(t, byID, doomedID)
	// Two weeks stale at 0.05/week takes 0.5 down by ~0.1.
	require.Contains(t, byID, staleID)
	assert.InDelta(t, 0.4, byID[staleID].Confidence, 1e-6)
	// The freshly touched fact is untouched.
	require.Contains(t, byID, freshID)
	assert.Equal(t, 0.9, byID[freshID].Confidence)
}

func TestWorker_RetrievedFactsSurviveDecay(t *testing.T) {
	t.Parallel()

	now := workerNow
	clock := func() time.Time { return now }

	mgrCfg := memory.DefaultManagerConfig()
	mgrCfg.Now = clock
	sessions := memory.NewManager(mgrCfg, nil, zap.NewNop())

	facts := store.NewInMemoryFactStore(store.InMemoryFactStoreConfig{Now: clock}, zap.NewNop())

	trackerCfg := goals.DefaultTrackerConfig()
	trackerCfg.Now = clock
	tracker := goals.NewTracker(trackerCfg, zap.NewNop())

	ctx := context.Background()
	id, err := facts.LearnFact(ctx, "u1", "user plays tenor saxophone", "background", "conversation", 0.9)
	require.NoError(t, err)

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.Now = clock
	orch := orchestrator.New(sessions, tracker, facts, nil, nil, nil, orchCfg, nil, zap.NewNop())

	workerCfg := DefaultWorkerConfig()
	workerCfg.Now = clock
	worker := NewWorker(sessions, facts, tracker, nil, workerCfg, zap.NewNop())

	// Ten days later the fact is retrieved, then maintenance runs the same
	// day. The retrieval stamped an access, so the decay phase skips it.
	now = workerNow.Add(10 * 24 * time.Hour)
	ac := orch.ContextForAgent(ctx, orchestrator.Request{
		UserID:    "u1",
		AgentName: "planner",
		Query:     "saxophone",
	})
	require.NotEmpty(t, ac.RelevantFacts)

	result := worker.RunOnce(ctx, "u1")
	assert.Zero(t, result.Decayed, "a fact retrieved today is not stale")

	stored, err := facts.GetFacts(ctx, "u1", "", 0, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, id, stored[0].ID)
	assert.Equal(t, 0.9, stored[0].Confidence)
}

func TestWorker_ArchivesOldCompletedGoals(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	goal := f.tracker.AddGoal("u1", "migrate billing service", types.PriorityMedium, types.GoalSourceExplicit, nil)
	_, ok := f.tracker.CompleteGoal(goal.ID)
	require.True(t, ok)

	// Not yet past the retention window.
	*f.now = f.now.Add(10 * 24 * time.Hour)
	result := f.worker.RunOnce(ctx, "u1")
	assert.Zero(t, result.GoalsArchived)

	*f.now = f.now.Add(25 * 24 * time.Hour)
	result = f.worker.RunOnce(ctx, "u1")
	assert.Equal(t, 1, result.GoalsArchived)

	archived, ok := f.tracker.Get(goal.ID)
	require.True(t, ok)
	assert.Equal(t, types.GoalArchived, archived.Status)
}

func TestWorker_PenalizesStalePatterns(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	p := f.patterns.Record("planner", "prefers bullet summaries", 0.8)

	*f.now = f.now.Add(15 * 24 * time.Hour)
	result := f.worker.RunOnce(ctx, "u1")
	assert.Equal(t, 1, result.PatternsReinforced)

	got, ok := f.patterns.Get(p.ID)
	require.True(t, ok)
	assert.InDelta(t, 0.7, got.Confidence, 1e-9)

	// The penalty stamped last-used, so an immediate rerun skips it.
	result = f.worker.RunOnce(ctx, "u1")
	assert.Zero(t, result.PatternsReinforced)
}

func TestWorker_SecondRunIsNoOp(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	wm := f.sessions.Get(ctx, "u1", "s1")
	wm.AddPendingFact("user works at acme corp", "employment", "conversation", 0.9)

	_, err := f.facts.LearnFact(ctx, "u1", "User likes jazz", "preference", "conversation", 0.6)
	require.NoError(t, err)
	_, err = f.facts.LearnFact(ctx, "u1", "User enjoys jazz music", "preference", "conversation", 0.8)
	require.NoError(t, err)
	_, err = f.facts.LearnFact(ctx, "u1", "barely believed rumor", "misc", "conversation", 0.05)
	require.NoError(t, err)

	goal := f.tracker.AddGoal("u1", "ship the migration", types.PriorityMedium, types.GoalSourceExplicit, nil)
	_, ok := f.tracker.CompleteGoal(goal.ID)
	require.True(t, ok)
	f.patterns.Record("planner", "prefers bullet summaries", 0.8)

	*f.now = f.now.Add(40 * 24 * time.Hour)

	first := f.worker.RunOnce(ctx, "u1")
	assert.True(t, first.Touched())
	assert.Empty(t, first.Errors)

	second := f.worker.RunOnce(ctx, "u1")
	assert.False(t, second.Touched(), "second run on unchanged data must touch nothing: %+v", second)
	assert.Empty(t, second.Errors)

	history := f.worker.History()
	require.Len(t, history, 2)
	assert.Same(t, first, history[0])
}

func TestWorker_PhaseFailureDoesNotAbortLaterPhases(t *testing.T) {
	t.Parallel()

	now := workerNow
	clock := func() time.Time { return now }

	mgrCfg := memory.DefaultManagerConfig()
	mgrCfg.Now = clock
	sessions := memory.NewManager(mgrCfg, nil, zap.NewNop())

	trackerCfg := goals.DefaultTrackerConfig()
	trackerCfg.Now = clock
	tracker := goals.NewTracker(trackerCfg, zap.NewNop())

	cfg := DefaultWorkerConfig()
	cfg.Now = clock
	worker := NewWorker(sessions, failingFactStore{}, tracker, nil, cfg, zap.NewNop())

	goal := tracker.AddGoal("u1", "write postmortem", types.PriorityMedium, types.GoalSourceExplicit, nil)
	_, ok := tracker.CompleteGoal(goal.ID)
	require.True(t, ok)
	now = now.Add(40 * 24 * time.Hour)

	result := worker.RunOnce(context.Background(), "u1")

	// Fact phases failed and were recorded; goal archival still ran.
	assert.NotEmpty(t, result.Errors)
	assert.Equal(t, 1, result.GoalsArchived)
}

type failingFactStore struct{}

func (failingFactStore) LearnFact(ctx context.Context, userID, content, category, source string, confidence float64) (string, error) {
	return "", types.NewError(types.ErrSourceUnavailable, "store down")
}

func (failingFactStore) SearchFacts(ctx context.Context, userID, query string, limit int) ([]*types.Fact, error) {
	return nil, types.NewError(types.ErrSourceUnavailable, "store down")
}

func (failingFactStore) GetFacts(ctx context.Context, userID, category string, limit int, minConfidence float64) ([]*types.Fact, error) {
	return nil, types.NewError(types.ErrSourceUnavailable, "store down")
}

func (failingFactStore) UpdateFactConfidence(ctx context.Context, factID string, confidence float64) error {
	return types.NewError(types.ErrSourceUnavailable, "store down")
}

func (failingFactStore) TouchFact(ctx context.Context, factID string) error {
	return types.NewError(types.ErrSourceUnavailable, "store down")
}

func (failingFactStore) DeleteFact(ctx context.Context, factID string) error {
	return types.NewError(types.ErrSourceUnavailable, "store down")
}
