package goals

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmemory/types"
)

// Classifier is an optional semantic goal detector that can replace the
// built-in pattern rules, e.g. an LLM-backed extractor.
type Classifier interface {
	// DetectGoal returns a detection or nil when the text states no goal.
	DetectGoal(ctx context.Context, text string) (*Detection, error)
}

// Detection is a classifier or pattern result before it becomes a goal.
type Detection struct {
	Description string
	Confidence  float64
	Priority    types.GoalPriority
	DueDate     *time.Time
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// MinConfidence discards classifier detections below this floor.
	// Defaults to 0.6.
	MinConfidence float64 `json:"min_confidence"`

	// CompletionOverlap is the fuzzy token-overlap threshold for matching
	// completion statements to active goals. Defaults to 0.6.
	CompletionOverlap float64 `json:"completion_overlap"`

	// Classifier is optional; see Classifier.
	Classifier Classifier `json:"-"`

	// Now is used in tests. Defaults to time.Now.
	Now func() time.Time `json:"-"`
}

// DefaultTrackerConfig returns sensible defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MinConfidence:     0.6,
		CompletionOverlap: 0.6,
	}
}

// Tracker owns the goal map. All access goes through its methods; invalid
// state transitions are no-ops that return false rather than errors, so a
// misdetected completion can never corrupt an existing goal.
type Tracker struct {
	mu    sync.RWMutex
	goals map[string]*types.Goal

	config TrackerConfig
	now    func() time.Time
	logger *zap.Logger
}

// NewTracker creates a goal tracker.
func NewTracker(config TrackerConfig, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultTrackerConfig()
	if config.MinConfidence <= 0 {
		config.MinConfidence = defaults.MinConfidence
	}
	if config.CompletionOverlap <= 0 {
		config.CompletionOverlap = defaults.CompletionOverlap
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		goals:  make(map[string]*types.Goal),
		config: config,
		now:    now,
		logger: logger.With(zap.String("component", "goal_tracker")),
	}
}

// AddGoal registers a goal explicitly and returns it.
func (t *Tracker) AddGoal(userID, description string, priority types.GoalPriority, source types.GoalSource, dueDate *time.Time) *types.Goal {
	if priority == "" {
		priority = types.PriorityMedium
	}
	if source == "" {
		source = types.GoalSourceExplicit
	}
	goal := &types.Goal{
		ID:          uuid.NewString(),
		UserID:      userID,
		Description: strings.TrimSpace(description),
		Status:      types.GoalActive,
		Priority:    priority,
		Source:      source,
		CreatedAt:   t.now(),
		DueDate:     dueDate,
	}

	t.mu.Lock()
	t.goals[goal.ID] = goal
	t.mu.Unlock()

	t.logger.Debug("goal added",
		zap.String("id", goal.ID),
		zap.String("user_id", userID),
		zap.String("priority", string(priority)))

	copied := *goal
	return &copied
}

// DetectGoal inspects text for a goal statement. Pattern rules run first;
// if none match and a classifier is configured, it is consulted with the
// confidence floor applied. Internal errors are logged and reported as "no
// goal detected"; detection never raises to the caller.
func (t *Tracker) DetectGoal(ctx context.Context, userID, text string) *types.Goal {
	det := detectByPattern(text, t.now())
	source := types.GoalSourceInferred

	if det == nil && t.config.Classifier != nil {
		classified, err := t.config.Classifier.DetectGoal(ctx, text)
		if err != nil {
			t.logger.Warn("goal classifier failed", zap.Error(err))
			return nil
		}
		if classified == nil || classified.Confidence < t.config.MinConfidence {
			return nil
		}
		det = classified
	}
	if det == nil {
		return nil
	}
	if len(strings.TrimSpace(det.Description)) < minDescriptionLen {
		return nil
	}

	return t.AddGoal(userID, det.Description, det.Priority, source, det.DueDate)
}

// DetectCompletion inspects text for a completion statement and, on a fuzzy
// match against an active goal's description, completes that goal. Returns
// the completed goal or nil.
func (t *Tracker) DetectCompletion(ctx context.Context, userID, text string) *types.Goal {
	subject := completionSubject(text)
	if subject == "" {
		return nil
	}

	t.mu.RLock()
	var bestID string
	best := 0.0
	for _, g := range t.goals {
		if g.UserID != userID || g.Status != types.GoalActive {
			continue
		}
		score := tokenOverlapRatio(subject, g.Description)
		if score > best {
			best = score
			bestID = g.ID
		}
	}
	t.mu.RUnlock()

	if bestID == "" || best < t.config.CompletionOverlap {
		return nil
	}

	goal, ok := t.CompleteGoal(bestID)
	if !ok {
		return nil
	}
	t.logger.Info("goal completed via detection",
		zap.String("id", goal.ID),
		zap.Float64("match", best))
	return goal
}

// Get returns a copy of a goal.
func (t *Tracker) Get(goalID string) (*types.Goal, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	g, ok := t.goals[goalID]
	if !ok {
		return nil, false
	}
	copied := *g
	return &copied, true
}

// ActiveGoals returns a user's active goals sorted by priority rank, then
// due date ascending, goals without a due date last.
func (t *Tracker) ActiveGoals(userID string) []*types.Goal {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*types.Goal
	for _, g := range t.goals {
		if g.UserID == userID && g.Status == types.GoalActive {
			copied := *g
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank(); ri != rj {
			return ri < rj
		}
		di, dj := out[i].DueDate, out[j].DueDate
		switch {
		case di == nil && dj == nil:
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return di.Before(*dj)
		}
	})
	return out
}

// GoalsForContext returns up to limit goals relevant to the query: active
// goals first in priority order, re-ranked by token overlap with the query
// when one is given.
func (t *Tracker) GoalsForContext(userID, query string, limit int) []*types.Goal {
	active := t.ActiveGoals(userID)
	if query != "" {
		sort.SliceStable(active, func(i, j int) bool {
			return tokenOverlapRatio(query, active[i].Description) >
				tokenOverlapRatio(query, active[j].Description)
		})
	}
	if limit > 0 && limit < len(active) {
		active = active[:limit]
	}
	return active
}

// CompleteGoal transitions an active or paused goal to completed and stamps
// CompletedAt. Returns false when the goal is missing or not completable.
func (t *Tracker) CompleteGoal(goalID string) (*types.Goal, bool) {
	return t.transition(goalID, types.GoalCompleted)
}

// AbandonGoal transitions an active or paused goal to abandoned.
func (t *Tracker) AbandonGoal(goalID string) (*types.Goal, bool) {
	return t.transition(goalID, types.GoalAbandoned)
}

// PauseGoal transitions an active goal to paused.
func (t *Tracker) PauseGoal(goalID string) (*types.Goal, bool) {
	return t.transition(goalID, types.GoalPaused)
}

// ResumeGoal transitions a paused goal back to active.
func (t *Tracker) ResumeGoal(goalID string) (*types.Goal, bool) {
	return t.transition(goalID, types.GoalActive)
}

// ArchiveGoal transitions a settled goal (completed, abandoned, or paused)
// to archived. Archived is terminal; archived goals are retained forever.
func (t *Tracker) ArchiveGoal(goalID string) (*types.Goal, bool) {
	return t.transition(goalID, types.GoalArchived)
}

// validTransitions encodes the one-way state machine.
var validTransitions = map[types.GoalStatus]map[types.GoalStatus]bool{
	types.GoalActive: {
		types.GoalCompleted: true,
		types.GoalAbandoned: true,
		types.GoalPaused:    true,
	},
	types.GoalPaused: {
		types.GoalActive:    true,
		types.GoalCompleted: true,
		types.GoalAbandoned: true,
		types.GoalArchived:  true,
	},
	types.GoalCompleted: {
		types.GoalArchived: true,
	},
	types.GoalAbandoned: {
		types.GoalArchived: true,
	},
}

func (t *Tracker) transition(goalID string, to types.GoalStatus) (*types.Goal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.goals[goalID]
	if !ok {
		return nil, false
	}
	if !validTransitions[g.Status][to] {
		t.logger.Debug("invalid goal transition ignored",
			zap.String("id", goalID),
			zap.String("from", string(g.Status)),
			zap.String("to", string(to)))
		return nil, false
	}

	g.Status = to
	if to == types.GoalCompleted {
		now := t.now()
		g.CompletedAt = &now
		g.ProgressPercentage = 100
	}

	copied := *g
	return &copied, true
}

// AddProgressNote appends a note and optionally updates the completion
// percentage (pass a negative pct to leave it unchanged).
func (t *Tracker) AddProgressNote(goalID, note string, pct float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.goals[goalID]
	if !ok || g.Status == types.GoalArchived {
		return false
	}
	if note != "" {
		g.ProgressNotes = append(g.ProgressNotes, note)
	}
	if pct >= 0 {
		if pct > 100 {
			pct = 100
		}
		g.ProgressPercentage = pct
	}
	return true
}

// ArchiveCompletedBefore archives completed goals whose completion time is
// older than the cutoff, returning how many were archived. Used by the
// consolidation worker.
func (t *Tracker) ArchiveCompletedBefore(userID string, cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	archived := 0
	for _, g := range t.goals {
		if g.UserID != userID || g.Status != types.GoalCompleted {
			continue
		}
		if g.CompletedAt != nil && g.CompletedAt.Before(cutoff) {
			g.Status = types.GoalArchived
			archived++
		}
	}
	return archived
}

// OverdueGoals returns a user's active goals past their due date.
func (t *Tracker) OverdueGoals(userID string) []*types.Goal {
	now := t.now()

	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*types.Goal
	for _, g := range t.goals {
		if g.UserID == userID && g.IsOverdue(now) {
			copied := *g
			out = append(out, &copied)
		}
	}
	return out
}
