package types

// ScoreFactors is the per-factor breakdown of a salience score. Every factor
// is bounded to [0, 1].
type ScoreFactors struct {
	Recency       float64 `json:"recency"`
	Frequency     float64 `json:"frequency"`
	Relevance     float64 `json:"relevance"`
	Importance    float64 `json:"importance"`
	GoalAlignment float64 `json:"goal_alignment"`
	EntityOverlap float64 `json:"entity_overlap"`
}

// ScoredMemory is a memory item annotated with its salience score for one
// query. It is ephemeral, produced per scoring pass.
type ScoredMemory struct {
	Content string       `json:"content"`
	Score   float64      `json:"score"`
	Factors ScoreFactors `json:"factors"`
	Source  string       `json:"source,omitempty"`
}
