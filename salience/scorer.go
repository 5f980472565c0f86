// Package salience scores memory items for retrieval worthiness.
// Scores combine recency, frequency, relevance, importance, goal alignment,
// and entity overlap into a single bounded value.
package salience

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmemory/types"
)

// Weights holds the per-factor weights of the composite score. Weights that
// do not sum to 1 are renormalized at construction.
type Weights struct {
	Recency       float64 `json:"recency"`
	Frequency     float64 `json:"frequency"`
	Relevance     float64 `json:"relevance"`
	Importance    float64 `json:"importance"`
	GoalAlignment float64 `json:"goal_alignment"`
	EntityOverlap float64 `json:"entity_overlap"`
}

// DefaultWeights returns the default factor weights.
func DefaultWeights() Weights {
	return Weights{
		Recency:       0.20,
		Frequency:     0.10,
		Relevance:     0.30,
		Importance:    0.15,
		GoalAlignment: 0.15,
		EntityOverlap: 0.10,
	}
}

// WeightsForTask returns a preset tuned for a task type: "research" boosts
// relevance, "fact_check" boosts importance, "planning" boosts goal
// alignment. Anything else gets the defaults.
func WeightsForTask(taskType string) Weights {
	switch taskType {
	case "research":
		return Weights{Recency: 0.15, Frequency: 0.05, Relevance: 0.45, Importance: 0.15, GoalAlignment: 0.10, EntityOverlap: 0.10}
	case "fact_check":
		return Weights{Recency: 0.10, Frequency: 0.10, Relevance: 0.30, Importance: 0.30, GoalAlignment: 0.10, EntityOverlap: 0.10}
	case "planning":
		return Weights{Recency: 0.15, Frequency: 0.05, Relevance: 0.20, Importance: 0.15, GoalAlignment: 0.35, EntityOverlap: 0.10}
	default:
		return DefaultWeights()
	}
}

func (w Weights) sum() float64 {
	return w.Recency + w.Frequency + w.Relevance + w.Importance + w.GoalAlignment + w.EntityOverlap
}

func (w Weights) normalized() Weights {
	total := w.sum()
	if total <= 0 {
		return DefaultWeights()
	}
	return Weights{
		Recency:       w.Recency / total,
		Frequency:     w.Frequency / total,
		Relevance:     w.Relevance / total,
		Importance:    w.Importance / total,
		GoalAlignment: w.GoalAlignment / total,
		EntityOverlap: w.EntityOverlap / total,
	}
}

// Item is the scoring input: one memory item with whatever metadata is
// known about it. Zero values are acceptable everywhere; the scorer treats
// missing data as neutral rather than failing.
type Item struct {
	Content     string
	Timestamp   time.Time
	AccessCount int
	// Importance is the item's own importance estimate in [0, 1];
	// nil means unknown (scored as 0.5).
	Importance *float64
	Entities   []string
	Source     string
}

// Query is the scoring context for one request.
type Query struct {
	Text            string
	ActiveGoals     []string
	CurrentEntities []string
	Now             time.Time

	// TaskType selects a weight preset for this query ("research",
	// "fact_check", "planning"); empty uses the scorer's own weights.
	TaskType string
}

// Embedder produces embeddings for relevance scoring. Optional; when nil,
// the scorer falls back to token overlap.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ScorerConfig configures a Scorer.
type ScorerConfig struct {
	Weights Weights `json:"weights"`

	// RecencyHalfLife is the age at which the recency score halves.
	// Defaults to 24h.
	RecencyHalfLife time.Duration `json:"recency_half_life"`

	// MaxAssumedAccesses normalizes the frequency factor. Defaults to 100.
	MaxAssumedAccesses int `json:"max_assumed_accesses"`

	// Embedder is optional; see Embedder.
	Embedder Embedder `json:"-"`
}

// DefaultScorerConfig returns sensible defaults.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		Weights:            DefaultWeights(),
		RecencyHalfLife:    24 * time.Hour,
		MaxAssumedAccesses: 100,
	}
}

// Scorer computes bounded composite salience scores. It is stateless apart
// from its configuration and safe for concurrent use without
// synchronization.
type Scorer struct {
	weights     Weights
	halfLife    time.Duration
	maxAccesses int
	embedder    Embedder
	logger      *zap.Logger
}

// NewScorer creates a Scorer, renormalizing weights that do not sum to 1.
func NewScorer(config ScorerConfig, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultScorerConfig()
	if config.Weights.sum() <= 0 {
		config.Weights = defaults.Weights
	}
	if config.RecencyHalfLife <= 0 {
		config.RecencyHalfLife = defaults.RecencyHalfLife
	}
	if config.MaxAssumedAccesses <= 0 {
		config.MaxAssumedAccesses = defaults.MaxAssumedAccesses
	}
	return &Scorer{
		weights:     config.Weights.normalized(),
		halfLife:    config.RecencyHalfLife,
		maxAccesses: config.MaxAssumedAccesses,
		embedder:    config.Embedder,
		logger:      logger.With(zap.String("component", "salience_scorer")),
	}
}

// Score computes the composite salience of one item for one query. The
// result and every factor are in [0, 1] for arbitrary finite inputs.
func (s *Scorer) Score(ctx context.Context, item Item, query Query) types.ScoredMemory {
	factors := types.ScoreFactors{
		Recency:       s.recency(item.Timestamp, query.Now),
		Frequency:     s.frequency(item.AccessCount),
		Relevance:     s.relevance(ctx, item.Content, query.Text),
		Importance:    importanceOf(item),
		GoalAlignment: goalAlignment(item.Content, query.ActiveGoals),
		EntityOverlap: entityOverlap(item.Entities, query.CurrentEntities),
	}

	weights := s.weights
	if query.TaskType != "" {
		weights = WeightsForTask(query.TaskType).normalized()
	}

	total := weights.Recency*factors.Recency +
		weights.Frequency*factors.Frequency +
		weights.Relevance*factors.Relevance +
		weights.Importance*factors.Importance +
		weights.GoalAlignment*factors.GoalAlignment +
		weights.EntityOverlap*factors.EntityOverlap

	return types.ScoredMemory{
		Content: item.Content,
		Score:   clamp01(total),
		Factors: factors,
		Source:  item.Source,
	}
}

// ScoreBatch scores items and returns them sorted by score, highest first.
// The sort is stable so equal scores keep input order.
func (s *Scorer) ScoreBatch(ctx context.Context, items []Item, query Query) []types.ScoredMemory {
	scored := make([]types.ScoredMemory, 0, len(items))
	for _, item := range items {
		scored = append(scored, s.Score(ctx, item, query))
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

// recency applies exponential decay with the configured half-life. Unknown
// timestamps score a neutral 0.5; future timestamps clamp to 1.
func (s *Scorer) recency(ts, now time.Time) float64 {
	if ts.IsZero() {
		return 0.5
	}
	if now.IsZero() {
		now = time.Now()
	}
	age := now.Sub(ts)
	if age <= 0 {
		return 1.0
	}
	ageHours := age.Hours()
	halfLifeHours := s.halfLife.Hours()
	return clamp01(math.Exp2(-ageHours / halfLifeHours))
}

// frequency log-scales the access count against the assumed maximum.
func (s *Scorer) frequency(count int) float64 {
	if count <= 0 {
		return 0
	}
	return clamp01(math.Log1p(float64(count)) / math.Log1p(float64(s.maxAccesses)))
}

// relevance uses embedding cosine similarity when an embedder is present,
// otherwise token overlap.
func (s *Scorer) relevance(ctx context.Context, content, query string) float64 {
	if query == "" || content == "" {
		return 0
	}

	if s.embedder != nil {
		a, errA := s.embedder.Embed(ctx, content)
		b, errB := s.embedder.Embed(ctx, query)
		if errA == nil && errB == nil {
			// Cosine similarity lands in [-1, 1]; shift into [0, 1].
			return clamp01((cosineSimilarity(a, b) + 1) / 2)
		}
		s.logger.Debug("embedding failed, falling back to token overlap")
	}

	return tokenRelevance(content, query)
}

// tokenRelevance combines Jaccard similarity (0.4) with query-term coverage
// (0.6) over stop-word-filtered tokens.
func tokenRelevance(content, query string) float64 {
	contentTokens := tokenSet(content)
	queryTokens := tokenSet(query)
	if len(contentTokens) == 0 || len(queryTokens) == 0 {
		return 0
	}

	intersection := 0
	for tok := range queryTokens {
		if contentTokens[tok] {
			intersection++
		}
	}
	union := len(contentTokens) + len(queryTokens) - intersection

	jaccard := 0.0
	if union > 0 {
		jaccard = float64(intersection) / float64(union)
	}
	coverage := float64(intersection) / float64(len(queryTokens))

	return clamp01(0.4*jaccard + 0.6*coverage)
}

func importanceOf(item Item) float64 {
	if item.Importance == nil {
		return 0.5
	}
	return clamp01(*item.Importance)
}

// goalAlignment is 1.0 on a substring match against any active goal,
// otherwise the best token-overlap ratio against goal text.
func goalAlignment(content string, goals []string) float64 {
	if content == "" || len(goals) == 0 {
		return 0
	}
	lower := strings.ToLower(content)

	best := 0.0
	for _, goal := range goals {
		goalLower := strings.ToLower(goal)
		if goalLower == "" {
			continue
		}
		if strings.Contains(lower, goalLower) || strings.Contains(goalLower, lower) {
			return 1.0
		}

		goalTokens := tokenSet(goal)
		if len(goalTokens) == 0 {
			continue
		}
		contentTokens := tokenSet(content)
		overlap := 0
		for tok := range goalTokens {
			if contentTokens[tok] {
				overlap++
			}
		}
		if ratio := float64(overlap) / float64(len(goalTokens)); ratio > best {
			best = ratio
		}
	}
	return clamp01(best)
}

// entityOverlap is |memory ∩ context| / |context|, 0 when either is empty.
func entityOverlap(memoryEntities, contextEntities []string) float64 {
	if len(memoryEntities) == 0 || len(contextEntities) == 0 {
		return 0
	}
	memSet := make(map[string]bool, len(memoryEntities))
	for _, e := range memoryEntities {
		memSet[strings.ToLower(e)] = true
	}
	overlap := 0
	seen := make(map[string]bool, len(contextEntities))
	for _, e := range contextEntities {
		key := strings.ToLower(e)
		if seen[key] {
			continue
		}
		seen[key] = true
		if memSet[key] {
			overlap++
		}
	}
	return clamp01(float64(overlap) / float64(len(seen)))
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
