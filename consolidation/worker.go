package consolidation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/agentmemory/goals"
	"github.com/BaSui01/agentmemory/internal/metrics"
	"github.com/BaSui01/agentmemory/memory"
	"github.com/BaSui01/agentmemory/store"
	"github.com/BaSui01/agentmemory/types"
)

// WorkerConfig configures a consolidation Worker.
type WorkerConfig struct {
	// Interval between periodic runs per user. Defaults to 1h.
	Interval time.Duration `json:"interval"`

	// RunTimeout bounds a single user's run. Defaults to 30s.
	RunTimeout time.Duration `json:"run_timeout"`

	// PromotionThreshold is the minimum pending-fact confidence for
	// promotion into the durable store. Defaults to 0.7.
	PromotionThreshold float64 `json:"promotion_threshold"`

	// DecayAfter is how long a fact may go unaccessed before it decays.
	// Defaults to 7 days.
	DecayAfter time.Duration `json:"decay_after"`

	// DecayRate is the weekly-normalized confidence reduction applied per
	// stale period. Defaults to 0.05.
	DecayRate float64 `json:"decay_rate"`

	// MergeThreshold is the word-overlap similarity at which two
	// same-category facts merge, measured as the overlap coefficient
	// |A∩B| / min(|A|,|B|). Defaults to 0.85.
	MergeThreshold float64 `json:"merge_threshold"`

	// MergeBoost is the confidence bump the surviving fact receives.
	// Defaults to 0.05.
	MergeBoost float64 `json:"merge_boost"`

	// RemovalFloor deletes facts whose confidence falls below it.
	// Defaults to 0.1.
	RemovalFloor float64 `json:"removal_floor"`

	// GoalRetention is how long completed goals stay before archival.
	// Defaults to 30 days.
	GoalRetention time.Duration `json:"goal_retention"`

	// PatternStaleness is how long a behavior pattern may go unused before
	// it is penalized. Defaults to 14 days.
	PatternStaleness time.Duration `json:"pattern_staleness"`

	// PatternPenalty is the soft confidence penalty for a stale pattern.
	// Defaults to 0.1.
	PatternPenalty float64 `json:"pattern_penalty"`

	// StoreOpsPerSecond paces fact-store writes so maintenance never
	// saturates the backend. Defaults to 50.
	StoreOpsPerSecond float64 `json:"store_ops_per_second"`

	// HistoryLimit caps the retained run history. Defaults to 50.
	HistoryLimit int `json:"history_limit"`

	// Now is used in tests. Defaults to time.Now.
	Now func() time.Time `json:"-"`
}

// DefaultWorkerConfig returns sensible defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Interval:           time.Hour,
		RunTimeout:         30 * time.Second,
		PromotionThreshold: 0.7,
		DecayAfter:         7 * 24 * time.Hour,
		DecayRate:          0.05,
		MergeThreshold:     0.85,
		MergeBoost:         0.05,
		RemovalFloor:       0.1,
		GoalRetention:      30 * 24 * time.Hour,
		PatternStaleness:   14 * 24 * time.Hour,
		PatternPenalty:     0.1,
		StoreOpsPerSecond:  50,
		HistoryLimit:       50,
	}
}

// Worker performs periodic memory maintenance. Patterns may be nil when no
// pattern store is deployed; that phase is then skipped.
type Worker struct {
	sessions *memory.Manager
	facts    store.FactStore
	tracker  *goals.Tracker
	patterns store.PatternStore

	config    WorkerConfig
	limiter   *rate.Limiter
	collector *metrics.Collector
	now       func() time.Time
	logger    *zap.Logger

	mu      sync.Mutex
	history []*types.ConsolidationResult
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewWorker creates a consolidation worker.
func NewWorker(sessions *memory.Manager, facts store.FactStore, tracker *goals.Tracker, patterns store.PatternStore, config WorkerConfig, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultWorkerConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = defaults.RunTimeout
	}
	if config.PromotionThreshold <= 0 {
		config.PromotionThreshold = defaults.PromotionThreshold
	}
	if config.DecayAfter <= 0 {
		config.DecayAfter = defaults.DecayAfter
	}
	if config.DecayRate <= 0 {
		config.DecayRate = defaults.DecayRate
	}
	if config.MergeThreshold <= 0 {
		config.MergeThreshold = defaults.MergeThreshold
	}
	if config.MergeBoost <= 0 {
		config.MergeBoost = defaults.MergeBoost
	}
	if config.RemovalFloor <= 0 {
		config.RemovalFloor = defaults.RemovalFloor
	}
	if config.GoalRetention <= 0 {
		config.GoalRetention = defaults.GoalRetention
	}
	if config.PatternStaleness <= 0 {
		config.PatternStaleness = defaults.PatternStaleness
	}
	if config.PatternPenalty <= 0 {
		config.PatternPenalty = defaults.PatternPenalty
	}
	if config.StoreOpsPerSecond <= 0 {
		config.StoreOpsPerSecond = defaults.StoreOpsPerSecond
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = defaults.HistoryLimit
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Worker{
		sessions: sessions,
		facts:    facts,
		tracker:  tracker,
		patterns: patterns,
		config:   config,
		limiter:  rate.NewLimiter(rate.Limit(config.StoreOpsPerSecond), int(config.StoreOpsPerSecond)),
		now:      now,
		logger:   logger.With(zap.String("component", "consolidation")),
		stopCh:   make(chan struct{}),
	}
}

// SetMetrics attaches a metrics collector. Call before Start.
func (w *Worker) SetMetrics(collector *metrics.Collector) {
	w.collector = collector
}

// RunOnce performs one full consolidation pass for a user. Every phase runs
// even when an earlier one fails; failures are recorded on the result.
func (w *Worker) RunOnce(ctx context.Context, userID string) *types.ConsolidationResult {
	result := &types.ConsolidationResult{
		UserID:    userID,
		StartedAt: w.now(),
	}

	w.promote(ctx, userID, result)
	w.decay(ctx, userID, result)
	w.merge(ctx, userID, result)
	w.remove(ctx, userID, result)
	w.archiveGoals(userID, result)
	w.reinforcePatterns(ctx, result)

	result.FinishedAt = w.now()

	if w.collector != nil {
		w.collector.RecordConsolidation(result.Promoted, result.Decayed,
			result.Merged, result.Removed, result.GoalsArchived,
			result.PatternsReinforced, len(result.Errors))
	}

	w.mu.Lock()
	w.history = append(w.history, result)
	if len(w.history) > w.config.HistoryLimit {
		w.history = w.history[len(w.history)-w.config.HistoryLimit:]
	}
	w.mu.Unlock()

	w.logger.Info("consolidation run finished",
		zap.String("user_id", userID),
		zap.Int("promoted", result.Promoted),
		zap.Int("decayed", result.Decayed),
		zap.Int("merged", result.Merged),
		zap.Int("removed", result.Removed),
		zap.Int("goals_archived", result.GoalsArchived),
		zap.Int("patterns_reinforced", result.PatternsReinforced),
		zap.Int("errors", len(result.Errors)))
	return result
}

// History returns the retained run results, oldest first.
func (w *Worker) History() []*types.ConsolidationResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*types.ConsolidationResult, len(w.history))
	copy(out, w.history)
	return out
}

// promote pushes confident pending facts from every live session buffer of
// the user into the durable store, then drops them from the buffer. Facts
// that fail to persist stay pending for the next run.
func (w *Worker) promote(ctx context.Context, userID string, result *types.ConsolidationResult) {
	for _, wm := range w.sessions.ForUser(userID) {
		pending := wm.PendingFacts(w.config.PromotionThreshold)
		if w.collector != nil {
			w.collector.ObservePendingFacts(len(pending))
		}
		if len(pending) == 0 {
			continue
		}
		allPersisted := true
		for _, pf := range pending {
			if err := w.limiter.Wait(ctx); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("promote: %v", err))
				return
			}
			if _, err := w.facts.LearnFact(ctx, userID, pf.Content, pf.Category, pf.Source, pf.Confidence); err != nil {
				allPersisted = false
				result.Errors = append(result.Errors, fmt.Sprintf("promote: %v", err))
				continue
			}
			result.Promoted++
		}
		if allPersisted {
			wm.RemovePendingFacts(w.config.PromotionThreshold)
		}
	}
}

// decay reduces confidence on facts unaccessed past the staleness window,
// proportional to how many weeks stale they are.
func (w *Worker) decay(ctx context.Context, userID string, result *types.ConsolidationResult) {
	facts, err := w.facts.GetFacts(ctx, userID, "", 0, 0)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("decay: %v", err))
		return
	}

	now := w.now()
	week := 7 * 24 * time.Hour
	for _, f := range facts {
		last := f.LastAccessed
		if last.IsZero() {
			last = f.CreatedAt
		}
		stale := now.Sub(last)
		if stale <= w.config.DecayAfter {
			continue
		}
		weeksStale := float64(stale) / float64(week)
		newConfidence := f.Confidence - weeksStale*w.config.DecayRate
		if newConfidence < 0 {
			newConfidence = 0
		}
		if err := w.limiter.Wait(ctx); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("decay: %v", err))
			return
		}
		if err := w.facts.UpdateFactConfidence(ctx, f.ID, newConfidence); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("decay: %v", err))
			continue
		}
		result.Decayed++
	}
}

// merge finds near-duplicate same-category facts by word-overlap similarity,
// keeps the higher-confidence one with a small boost, and deletes the other.
func (w *Worker) merge(ctx context.Context, userID string, result *types.ConsolidationResult) {
	facts, err := w.facts.GetFacts(ctx, userID, "", 0, 0)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("merge: %v", err))
		return
	}

	byCategory := make(map[string][]*types.Fact)
	for _, f := range facts {
		byCategory[f.Category] = append(byCategory[f.Category], f)
	}

	for _, group := range byCategory {
		// Deterministic pairing order regardless of store iteration order.
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		deleted := make(map[string]bool)

		for i := 0; i < len(group); i++ {
			if deleted[group[i].ID] {
				continue
			}
			for j := i + 1; j < len(group); j++ {
				if deleted[group[j].ID] {
					continue
				}
				if factSimilarity(group[i].Content, group[j].Content) < w.config.MergeThreshold {
					continue
				}

				keep, drop := group[i], group[j]
				if drop.Confidence > keep.Confidence {
					keep, drop = drop, keep
				}
				boosted := keep.Confidence + w.config.MergeBoost
				if boosted > 1 {
					boosted = 1
				}

				if err := w.limiter.Wait(ctx); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("merge: %v", err))
					return
				}
				if err := w.facts.DeleteFact(ctx, drop.ID); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("merge: %v", err))
					continue
				}
				if err := w.facts.UpdateFactConfidence(ctx, keep.ID, boosted); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("merge: %v", err))
				}
				deleted[drop.ID] = true
				keep.Confidence = boosted
				result.Merged++
				if deleted[group[i].ID] {
					break
				}
			}
		}
	}
}

// remove deletes facts below the hard confidence floor.
func (w *Worker) remove(ctx context.Context, userID string, result *types.ConsolidationResult) {
	facts, err := w.facts.GetFacts(ctx, userID, "", 0, 0)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("remove: %v", err))
		return
	}
	for _, f := range facts {
		if f.Confidence >= w.config.RemovalFloor {
			continue
		}
		if err := w.limiter.Wait(ctx); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("remove: %v", err))
			return
		}
		if err := w.facts.DeleteFact(ctx, f.ID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("remove: %v", err))
			continue
		}
		result.Removed++
	}
}

// archiveGoals moves completed goals past the retention window to archived.
func (w *Worker) archiveGoals(userID string, result *types.ConsolidationResult) {
	if w.tracker == nil {
		return
	}
	cutoff := w.now().Add(-w.config.GoalRetention)
	result.GoalsArchived += w.tracker.ArchiveCompletedBefore(userID, cutoff)
}

// reinforcePatterns softly penalizes behavior patterns unused past the
// staleness window. Disuse has to repeat across runs to sink a pattern; the
// store moves the last-used stamp forward when it applies the penalty.
func (w *Worker) reinforcePatterns(ctx context.Context, result *types.ConsolidationResult) {
	if w.patterns == nil {
		return
	}
	cutoff := w.now().Add(-w.config.PatternStaleness)
	stale, err := w.patterns.StalePatterns(ctx, cutoff)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("patterns: %v", err))
		return
	}
	for _, p := range stale {
		if err := w.patterns.Penalize(ctx, p.ID, w.config.PatternPenalty); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("patterns: %v", err))
			continue
		}
		result.PatternsReinforced++
	}
}

// Start launches the periodic loop. With a fixed user list every tick
// consolidates exactly those users; with an empty list each tick
// consolidates whoever currently holds a live session.
func (w *Worker) Start(ctx context.Context, userIDs []string) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return types.NewError(types.ErrInternalError, "consolidation worker already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(ctx, userIDs)
	w.logger.Info("consolidation worker started",
		zap.Duration("interval", w.config.Interval),
		zap.Int("users", len(userIDs)))
	return nil
}

// Stop halts the periodic loop and waits for an in-flight run to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("consolidation worker stopped")
}

func (w *Worker) loop(ctx context.Context, userIDs []string) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			users := userIDs
			if len(users) == 0 {
				users = w.sessions.Users()
			}
			for _, userID := range users {
				runCtx, cancel := context.WithTimeout(ctx, w.config.RunTimeout)
				w.RunOnce(runCtx, userID)
				cancel()
			}
		}
	}
}

// factSimilarity is word-overlap similarity on content words: the overlap
// coefficient |A∩B| / min(|A|,|B|), case-insensitive, with grammatical
// words and common preference verbs filtered out. Phrasing variants of the
// same fact ("likes jazz" / "enjoys jazz music") land near 1.0; unrelated
// facts near 0.
func factSimilarity(a, b string) float64 {
	sa := factWords(a)
	sb := factWords(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for w := range sa {
		if sb[w] {
			inter++
		}
	}
	min := len(sa)
	if len(sb) < min {
		min = len(sb)
	}
	return float64(inter) / float64(min)
}

// factStopWords drops words that carry no fact identity, including the
// preference verbs that vary freely between phrasings of the same fact.
var factStopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "in": true, "is": true, "it": true,
	"of": true, "on": true, "or": true, "that": true, "the": true,
	"their": true, "they": true, "this": true, "to": true, "was": true,
	"with": true,
	"dislikes": true, "enjoys": true, "hates": true, "likes": true,
	"loves": true, "prefers": true, "wants": true,
}

func factWords(s string) map[string]bool {
	out := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,;:!?\"'()")
		if f == "" || factStopWords[f] {
			continue
		}
		out[f] = true
	}
	return out
}
