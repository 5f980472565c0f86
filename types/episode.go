package types

import "time"

// EpisodeType categorizes a detected activity cluster.
type EpisodeType string

const (
	EpisodeProject       EpisodeType = "project"
	EpisodeConversation  EpisodeType = "conversation"
	EpisodeDeadline      EpisodeType = "deadline"
	EpisodeMeetingSeries EpisodeType = "meeting_series"
	EpisodeResearch      EpisodeType = "research"
)

// Episode is a cluster of correlated recent activity (a project burst, a
// conversation thread, co-occurring deadlines). Episodes are recomputed per
// detection cycle and cached briefly; they are never persisted.
type Episode struct {
	ID            string      `json:"episode_id"`
	Type          EpisodeType `json:"type"`
	Title         string      `json:"title"`
	WindowStart   time.Time   `json:"window_start"`
	WindowEnd     time.Time   `json:"window_end"`
	MemberIDs     []string    `json:"member_ids,omitempty"`
	ActivityScore float64     `json:"activity_score"`
	RecencyScore  float64     `json:"recency_score"`
}

// Relevance is the combined ranking score for an episode.
func (e *Episode) Relevance() float64 {
	return e.ActivityScore * e.RecencyScore
}

// EpisodeContext is what episode detection contributes to retrieval: the top
// episodes, a flattened boost set of member node IDs, a scalar retrieval
// boost factor in [1.0, 1.5], and a one-line summary of the leading titles.
type EpisodeContext struct {
	Episodes    []*Episode `json:"episodes"`
	BoostIDs    []string   `json:"boost_ids,omitempty"`
	BoostFactor float64    `json:"boost_factor"`
	Summary     string     `json:"summary,omitempty"`
}
