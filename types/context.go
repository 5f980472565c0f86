package types

import "time"

// ConsolidationResult reports the outcome of one consolidation run for one
// user. Phase failures land in Errors; they never abort later phases.
type ConsolidationResult struct {
	UserID             string    `json:"user_id"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	Promoted           int       `json:"promoted"`
	Decayed            int       `json:"decayed"`
	Merged             int       `json:"merged"`
	Removed            int       `json:"removed"`
	PatternsReinforced int       `json:"patterns_reinforced"`
	GoalsArchived      int       `json:"goals_archived"`
	Errors             []string  `json:"errors,omitempty"`
}

// Touched reports whether the run changed any record. Two consecutive runs
// on unchanged data must yield Touched() == false on the second run.
func (r *ConsolidationResult) Touched() bool {
	return r.Promoted+r.Decayed+r.Merged+r.Removed+r.PatternsReinforced+r.GoalsArchived > 0
}

// AssembledContext is the size-bounded bundle of memory fragments assembled
// for one agent request. It is built fresh per request and never mutated
// after construction.
type AssembledContext struct {
	RecentTurns         []Turn         `json:"recent_turns,omitempty"`
	ActiveEntities      []string       `json:"active_entities,omitempty"`
	ActiveTopics        []string       `json:"active_topics,omitempty"`
	CurrentGoal         string         `json:"current_goal,omitempty"`
	RelevantFacts       []ScoredMemory `json:"relevant_facts,omitempty"`
	UserPreferences     []string       `json:"user_preferences,omitempty"`
	GraphContext        []string       `json:"graph_context,omitempty"`
	RelatedPeople       []string       `json:"related_people,omitempty"`
	ProactiveInsights   []string       `json:"proactive_insights,omitempty"`
	CrossSessionContext []string       `json:"cross_session_context,omitempty"`
	RetrievalTime       time.Duration  `json:"retrieval_time_ms"`
	SourcesQueried      []string       `json:"sources_queried,omitempty"`
	Confidence          float64        `json:"confidence"`
}
