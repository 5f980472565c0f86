package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentmemory/episodes"
	"github.com/BaSui01/agentmemory/goals"
	"github.com/BaSui01/agentmemory/internal/metrics"
	"github.com/BaSui01/agentmemory/memory"
	"github.com/BaSui01/agentmemory/salience"
	"github.com/BaSui01/agentmemory/store"
	"github.com/BaSui01/agentmemory/types"
)

// Source names recorded on AssembledContext.SourcesQueried.
const (
	SourceWorkingMemory = "working_memory"
	SourceGoals         = "goals"
	SourceFacts         = "facts"
	SourcePreferences   = "preferences"
	SourceGraph         = "graph"
	SourceCrossSession  = "cross_session"
	SourceEpisodes      = "episodes"
)

// Config configures an Orchestrator.
type Config struct {
	// FactSearchLimit caps relevant facts per request. Defaults to 10.
	FactSearchLimit int `json:"fact_search_limit"`

	// RecentTurnWindow is how many turns of working memory go into the
	// context. Defaults to 10.
	RecentTurnWindow int `json:"recent_turn_window"`

	// BranchTimeout bounds each fan-out branch. A timed-out branch
	// contributes nothing, same as a failed one. Defaults to 2s.
	BranchTimeout time.Duration `json:"branch_timeout"`

	// DueSoonWindow is how far ahead a due date counts as a proactive
	// insight. Defaults to 24h.
	DueSoonWindow time.Duration `json:"due_soon_window"`

	// MaxContextLength is the default render length bound in characters.
	// Defaults to 4000.
	MaxContextLength int `json:"max_context_length"`

	// Now is used in tests. Defaults to time.Now.
	Now func() time.Time `json:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FactSearchLimit:  10,
		RecentTurnWindow: 10,
		BranchTimeout:    2 * time.Second,
		DueSoonWindow:    24 * time.Hour,
		MaxContextLength: 4000,
	}
}

// Request identifies one context assembly.
type Request struct {
	UserID    string
	AgentName string
	Query     string
	SessionID string
	TaskType  string

	// MaxContextLength overrides the configured render bound when > 0.
	MaxContextLength int
}

// Orchestrator composes the memory layer. The session manager and goal
// tracker are required; facts, graph, and episode detector are optional
// collaborators, and a nil one simply contributes nothing. The metrics
// collector is optional too.
type Orchestrator struct {
	sessions *memory.Manager
	tracker  *goals.Tracker
	facts    store.FactStore
	graph    store.GraphStore
	scorer   *salience.Scorer
	detector *episodes.Detector

	config    Config
	collector *metrics.Collector
	now       func() time.Time
	logger    *zap.Logger
}

// New creates an orchestrator.
func New(sessions *memory.Manager, tracker *goals.Tracker, facts store.FactStore, graph store.GraphStore, scorer *salience.Scorer, detector *episodes.Detector, config Config, collector *metrics.Collector, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if config.FactSearchLimit <= 0 {
		config.FactSearchLimit = defaults.FactSearchLimit
	}
	if config.RecentTurnWindow <= 0 {
		config.RecentTurnWindow = defaults.RecentTurnWindow
	}
	if config.BranchTimeout <= 0 {
		config.BranchTimeout = defaults.BranchTimeout
	}
	if config.DueSoonWindow <= 0 {
		config.DueSoonWindow = defaults.DueSoonWindow
	}
	if config.MaxContextLength <= 0 {
		config.MaxContextLength = defaults.MaxContextLength
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	if scorer == nil {
		scorer = salience.NewScorer(salience.DefaultScorerConfig(), logger)
	}
	return &Orchestrator{
		sessions:  sessions,
		tracker:   tracker,
		facts:     facts,
		graph:     graph,
		scorer:    scorer,
		detector:  detector,
		config:    config,
		collector: collector,
		now:       now,
		logger:    logger.With(zap.String("component", "orchestrator")),
	}
}

// fanoutResult collects branch contributions. Each branch writes only its
// own fields; the errgroup join orders those writes before the merge.
type fanoutResult struct {
	facts        []types.ScoredMemory
	factsOK      bool
	preferences  []string
	prefsOK      bool
	graphContext []string
	people       []string
	graphOK      bool
	crossSession []string
	crossOK      bool
	episodeCtx   *types.EpisodeContext
	episodesOK   bool
}

// ContextForAgent assembles the memory context for one agent request.
// Working memory and goals are read synchronously; everything else fans out
// concurrently with per-branch timeouts. It always returns a context; in a
// total outage every section is simply empty. A source appears in
// SourcesQueried only when it contributed data, and Confidence is the
// contributing fraction of the fan-out.
func (o *Orchestrator) ContextForAgent(ctx context.Context, req Request) *types.AssembledContext {
	start := o.now()
	ac := &types.AssembledContext{}
	var sources []string

	// Synchronous phase: the turn buffer and goals are in-process and cheap.
	if req.SessionID != "" {
		wm := o.sessions.Get(ctx, req.UserID, req.SessionID)
		ac.RecentTurns = wm.ContextWindow(o.config.RecentTurnWindow)
		ac.ActiveEntities = wm.ActiveEntities()
		ac.ActiveTopics = wm.ActiveTopics()
		ac.CurrentGoal = wm.CurrentGoal()
		if len(ac.RecentTurns) > 0 {
			sources = append(sources, SourceWorkingMemory)
		}
	}

	activeGoals := o.tracker.ActiveGoals(req.UserID)
	goalTexts := make([]string, 0, len(activeGoals))
	nowT := o.now()
	for _, g := range activeGoals {
		goalTexts = append(goalTexts, g.Description)
		if g.IsOverdue(nowT) {
			ac.ProactiveInsights = append(ac.ProactiveInsights,
				fmt.Sprintf("Overdue: %s (was due %s)", g.Description, g.DueDate.Format("Jan 2")))
		} else if g.DueSoon(nowT, o.config.DueSoonWindow) {
			ac.ProactiveInsights = append(ac.ProactiveInsights,
				fmt.Sprintf("Due soon: %s (due %s)", g.Description, g.DueDate.Format("Jan 2")))
		}
	}
	if ac.CurrentGoal == "" && len(activeGoals) > 0 {
		ac.CurrentGoal = activeGoals[0].Description
	}
	if len(activeGoals) > 0 {
		sources = append(sources, SourceGoals)
	}

	// Fan-out phase. Branches never return errors; a failure is a logged
	// empty contribution, so siblings always run to completion.
	res := &fanoutResult{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		res.facts, res.factsOK = o.fetchFacts(gctx, req, goalTexts, ac.ActiveEntities, nowT)
		return nil
	})
	g.Go(func() error {
		res.preferences, res.prefsOK = o.fetchPreferences(gctx, req.UserID)
		return nil
	})
	g.Go(func() error {
		res.graphContext, res.people, res.graphOK = o.fetchGraphContext(gctx, req.UserID, nowT)
		return nil
	})
	g.Go(func() error {
		res.crossSession, res.crossOK = o.fetchCrossSession(req)
		return nil
	})
	g.Go(func() error {
		res.episodeCtx, res.episodesOK = o.fetchEpisodes(gctx, req)
		return nil
	})

	// Branches only return nil; Wait is a pure join.
	_ = g.Wait()

	ac.RelevantFacts = res.facts
	ac.UserPreferences = res.preferences
	ac.GraphContext = res.graphContext
	ac.RelatedPeople = res.people
	ac.CrossSessionContext = res.crossSession
	if res.episodeCtx != nil && res.episodeCtx.Summary != "" {
		ac.ProactiveInsights = append(ac.ProactiveInsights, res.episodeCtx.Summary)
	}

	attempted := 5
	succeeded := 0
	for name, ok := range map[string]bool{
		SourceFacts:        res.factsOK,
		SourcePreferences:  res.prefsOK,
		SourceGraph:        res.graphOK,
		SourceCrossSession: res.crossOK,
		SourceEpisodes:     res.episodesOK,
	} {
		if ok {
			succeeded++
			sources = append(sources, name)
		}
	}
	ac.SourcesQueried = sources
	ac.Confidence = float64(succeeded) / float64(attempted)
	ac.RetrievalTime = o.now().Sub(start)

	if o.collector != nil {
		o.collector.RecordRetrieval(req.AgentName, req.TaskType, ac.RetrievalTime, ac.Confidence)
	}
	o.logger.Debug("context assembled",
		zap.String("user_id", req.UserID),
		zap.String("agent", req.AgentName),
		zap.Strings("sources", sources),
		zap.Duration("took", ac.RetrievalTime))
	return ac
}

func (o *Orchestrator) fetchFacts(ctx context.Context, req Request, goalTexts, entities []string, now time.Time) ([]types.ScoredMemory, bool) {
	if o.facts == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, o.config.BranchTimeout)
	defer cancel()

	// Over-fetch so salience ranking has something to reorder.
	raw, err := o.facts.SearchFacts(ctx, req.UserID, req.Query, o.config.FactSearchLimit*3)
	if err != nil {
		o.branchFailed(SourceFacts, err)
		return nil, false
	}

	items := make([]salience.Item, 0, len(raw))
	idByContent := make(map[string]string, len(raw))
	for _, f := range raw {
		idByContent[f.Content] = f.ID
		items = append(items, salience.Item{
			Content:     f.Content,
			Timestamp:   f.LastAccessed,
			AccessCount: f.AccessCount,
			Importance:  &f.Confidence,
			Source:      f.Category,
		})
	}
	scored := o.scorer.ScoreBatch(ctx, items, salience.Query{
		Text:            req.Query,
		TaskType:        req.TaskType,
		ActiveGoals:     goalTexts,
		CurrentEntities: entities,
		Now:             now,
	})
	if len(scored) > o.config.FactSearchLimit {
		scored = scored[:o.config.FactSearchLimit]
	}

	// Returning a fact counts as an access: the touch feeds the frequency
	// factor and keeps facts in active use out of the decay phase.
	for _, sm := range scored {
		id, ok := idByContent[sm.Content]
		if !ok {
			continue
		}
		if err := o.facts.TouchFact(ctx, id); err != nil {
			o.logger.Debug("fact access not recorded",
				zap.String("fact_id", id), zap.Error(err))
		}
	}
	return scored, len(scored) > 0
}

func (o *Orchestrator) fetchPreferences(ctx context.Context, userID string) ([]string, bool) {
	if o.facts == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, o.config.BranchTimeout)
	defer cancel()

	prefs, err := o.facts.GetFacts(ctx, userID, "preference", 5, 0.3)
	if err != nil {
		o.branchFailed(SourcePreferences, err)
		return nil, false
	}
	out := make([]string, 0, len(prefs))
	for _, p := range prefs {
		out = append(out, p.Content)
	}
	return out, len(out) > 0
}

func (o *Orchestrator) fetchGraphContext(ctx context.Context, userID string, now time.Time) ([]string, []string, bool) {
	if o.graph == nil {
		return nil, nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, o.config.BranchTimeout)
	defer cancel()

	records, err := o.graph.Query(ctx, store.QueryRecentDocuments, map[string]any{
		"user_id": userID,
		"since":   now.Add(-7 * 24 * time.Hour),
		"until":   now,
	})
	if err != nil {
		o.branchFailed(SourceGraph, err)
		return nil, nil, false
	}

	var docs, people []string
	for _, rec := range records {
		name, _ := rec["name"].(string)
		if name == "" {
			continue
		}
		if project, _ := rec["project"].(string); project != "" {
			docs = append(docs, fmt.Sprintf("%s (%s)", name, project))
		} else {
			docs = append(docs, name)
		}
		if author, _ := rec["author"].(string); author != "" {
			people = append(people, author)
		}
	}
	people = dedupe(people)
	return docs, people, len(docs) > 0 || len(people) > 0
}

// fetchCrossSession scans the user's other live sessions for turns that
// share words with the query. In-process only, but run inside the fan-out
// so a large session set never delays the synchronous phase.
func (o *Orchestrator) fetchCrossSession(req Request) ([]string, bool) {
	if req.Query == "" {
		return nil, false
	}
	terms := strings.Fields(strings.ToLower(req.Query))

	var out []string
	for _, wm := range o.sessions.ForUser(req.UserID) {
		if wm.SessionID() == req.SessionID {
			continue
		}
		for _, turn := range wm.ContextWindow(o.config.RecentTurnWindow) {
			lower := strings.ToLower(turn.Content)
			for _, term := range terms {
				if len(term) >= 3 && strings.Contains(lower, term) {
					out = append(out, turn.Content)
					break
				}
			}
			if len(out) >= 5 {
				return out, true
			}
		}
	}
	return out, len(out) > 0
}

func (o *Orchestrator) fetchEpisodes(ctx context.Context, req Request) (*types.EpisodeContext, bool) {
	if o.detector == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, o.config.BranchTimeout)
	defer cancel()

	ec := o.detector.RetrievalContext(ctx, req.UserID, req.Query, false)
	return ec, len(ec.Episodes) > 0
}

func (o *Orchestrator) branchFailed(source string, err error) {
	if o.collector != nil {
		o.collector.RecordSourceFailure(source)
	}
	o.logger.Warn("retrieval source failed", zap.String("source", source), zap.Error(err))
}

// Remember routes new information by importance band: below 0.3 it stays
// ephemeral in working memory; from 0.3 it is also persisted as a fact at a
// confidence equal to the importance; from 0.8 it additionally becomes a
// durable graph node. Returns false only when a requested durable write
// failed; the working-memory write always stands.
func (o *Orchestrator) Remember(ctx context.Context, userID, content, category, source string, importance float64, sessionID string) bool {
	if importance < 0 {
		importance = 0
	}
	if importance > 1 {
		importance = 1
	}

	if sessionID != "" {
		wm := o.sessions.Get(ctx, userID, sessionID)
		wm.AddPendingFact(content, category, source, importance)
	}

	ok := true
	if importance >= 0.3 && o.facts != nil {
		if _, err := o.facts.LearnFact(ctx, userID, content, category, source, importance); err != nil {
			o.logger.Warn("remember: fact write failed", zap.Error(err))
			ok = false
		}
	}
	if importance >= 0.8 && o.graph != nil {
		_, err := o.graph.CreateNode(ctx, "memory", map[string]any{
			"user_id":  userID,
			"content":  content,
			"category": category,
			"source":   source,
		})
		if err != nil {
			o.logger.Warn("remember: graph write failed", zap.Error(err))
			ok = false
		}
	}
	return ok
}

// correctionMarkers open user messages that push back on the previous
// assistant turn.
var correctionMarkers = []string{
	"no,", "no.", "that's wrong", "that is wrong", "that's not",
	"actually", "incorrect", "not what i", "try again", "you misunderstood",
}

// LearnFromTurn appends one user/assistant exchange to working memory,
// applies the outcome heuristic against the previous assistant turn, and
// runs goal completion and detection on the user message. It never returns
// an error; memory learning must not block the agent's response path.
func (o *Orchestrator) LearnFromTurn(ctx context.Context, userID, sessionID, userMessage, assistantResponse, agentName string, entities, topics []string, success bool) {
	wm := o.sessions.Get(ctx, userID, sessionID)

	// Outcome heuristic: a correction-shaped user message degrades the
	// previous assistant turn's recorded outcome before the new turns land.
	corrected := o.detectCorrection(wm.ContextWindow(1), userMessage)
	if corrected {
		success = false
		wm.AddPendingFact(
			fmt.Sprintf("%s response was corrected by the user", agentName),
			"agent_outcome", agentName, 0.6)
		o.logger.Debug("correction detected",
			zap.String("user_id", userID),
			zap.String("agent", agentName))
	}

	wm.AddTurn(types.RoleUser, userMessage, entities, topics, "")
	wm.AddTurn(types.RoleAssistant, assistantResponse, nil, nil, agentName)
	if !success && !corrected {
		wm.AddPendingFact(
			fmt.Sprintf("%s could not resolve the user's request", agentName),
			"agent_outcome", agentName, 0.4)
	}

	// Goal completion first: "I finished X" must settle an existing goal
	// before detection could read it as a new one.
	if done := o.tracker.DetectCompletion(ctx, userID, userMessage); done != nil && wm.CurrentGoal() == done.Description {
		wm.SetGoal("")
	}
	if goal := o.tracker.DetectGoal(ctx, userID, userMessage); goal != nil {
		wm.SetGoal(goal.Description)
	}
}

func (o *Orchestrator) detectCorrection(lastTurns []types.Turn, userMessage string) bool {
	if len(lastTurns) == 0 || lastTurns[len(lastTurns)-1].Role != types.RoleAssistant {
		return false
	}
	lower := strings.ToLower(strings.TrimSpace(userMessage))
	for _, marker := range correctionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// RenderContext renders an assembled context at maxLen characters, falling
// back to the configured bound when maxLen is not positive. A cut render is
// counted as a truncation.
func (o *Orchestrator) RenderContext(ac *types.AssembledContext, maxLen int) string {
	if maxLen <= 0 {
		maxLen = o.config.MaxContextLength
	}
	out := Render(ac, maxLen)
	if o.collector != nil && strings.HasSuffix(out, TruncationMarker) {
		o.collector.RecordTruncation()
	}
	return out
}

// GetWorkingMemory exposes the session buffer, creating it on demand.
func (o *Orchestrator) GetWorkingMemory(ctx context.Context, userID, sessionID string) *memory.WorkingMemory {
	return o.sessions.Get(ctx, userID, sessionID)
}

// Goals exposes the goal tracker surface.
func (o *Orchestrator) Goals() *goals.Tracker {
	return o.tracker
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
