package episodes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmemory/internal/metrics"
	"github.com/BaSui01/agentmemory/store"
	"github.com/BaSui01/agentmemory/types"
)

// DetectorConfig configures an episode Detector.
type DetectorConfig struct {
	// Window is the sliding activity window. Defaults to 48h. Deadline
	// detection looks forward roughly twice this far.
	Window time.Duration `json:"window"`

	// MinClusterSize is the minimum member count for project and
	// conversation episodes. Defaults to 3.
	MinClusterSize int `json:"min_cluster_size"`

	// MinDeadlineCluster is the minimum number of items due on the same day
	// to form a deadline episode. Defaults to 2.
	MinDeadlineCluster int `json:"min_deadline_cluster"`

	// ActivityNorm is the member count at which activity saturates at 1.0.
	// Defaults to 10.
	ActivityNorm int `json:"activity_norm"`

	// CacheTTL bounds how long per-user detection results are reused.
	// Defaults to 15m.
	CacheTTL time.Duration `json:"cache_ttl"`

	// MaxEpisodes caps how many episodes a retrieval context carries.
	// Defaults to 5.
	MaxEpisodes int `json:"max_episodes"`

	// Now is used in tests. Defaults to time.Now.
	Now func() time.Time `json:"-"`
}

// DefaultDetectorConfig returns sensible defaults.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Window:             48 * time.Hour,
		MinClusterSize:     3,
		MinDeadlineCluster: 2,
		ActivityNorm:       10,
		CacheTTL:           15 * time.Minute,
		MaxEpisodes:        5,
	}
}

type cacheEntry struct {
	fetchedAt time.Time
	episodes  []*types.Episode
}

// Detector finds active episodes in graph activity and caches them per
// user.
type Detector struct {
	graph     store.GraphStore
	config    DetectorConfig
	collector *metrics.Collector
	now       func() time.Time
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewDetector creates an episode detector over a graph store.
func NewDetector(graph store.GraphStore, config DetectorConfig, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultDetectorConfig()
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	if config.MinClusterSize <= 0 {
		config.MinClusterSize = defaults.MinClusterSize
	}
	if config.MinDeadlineCluster <= 0 {
		config.MinDeadlineCluster = defaults.MinDeadlineCluster
	}
	if config.ActivityNorm <= 0 {
		config.ActivityNorm = defaults.ActivityNorm
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaults.CacheTTL
	}
	if config.MaxEpisodes <= 0 {
		config.MaxEpisodes = defaults.MaxEpisodes
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Detector{
		graph:  graph,
		config: config,
		now:    now,
		logger: logger.With(zap.String("component", "episode_detector")),
		cache:  make(map[string]cacheEntry),
	}
}

// SetMetrics attaches a metrics collector for cache hit/miss accounting.
func (d *Detector) SetMetrics(collector *metrics.Collector) {
	d.collector = collector
}

// Detect returns the user's current episodes, ranked by relevance. Results
// are served from the per-user cache unless it is stale or forceRefresh is
// set.
func (d *Detector) Detect(ctx context.Context, userID string, forceRefresh bool) []*types.Episode {
	now := d.now()

	if !forceRefresh {
		d.mu.Lock()
		entry, ok := d.cache[userID]
		d.mu.Unlock()
		if ok && now.Sub(entry.fetchedAt) < d.config.CacheTTL {
			if d.collector != nil {
				d.collector.RecordCacheHit("episodes")
			}
			return entry.episodes
		}
	}
	if d.collector != nil {
		d.collector.RecordCacheMiss("episodes")
	}

	var episodes []*types.Episode
	episodes = append(episodes, d.detectProjects(ctx, userID, now)...)
	episodes = append(episodes, d.detectConversations(ctx, userID, now)...)
	episodes = append(episodes, d.detectDeadlines(ctx, userID, now)...)

	sort.SliceStable(episodes, func(i, j int) bool {
		return episodes[i].Relevance() > episodes[j].Relevance()
	})

	d.mu.Lock()
	d.cache[userID] = cacheEntry{fetchedAt: now, episodes: episodes}
	d.mu.Unlock()

	d.logger.Debug("episodes detected",
		zap.String("user_id", userID),
		zap.Int("count", len(episodes)))
	return episodes
}

// RetrievalContext runs detection and folds the result into the boost-set
// contract: top episodes, flattened member IDs, a boost factor in
// [1.0, 1.5] that grows with relevance, and a one-line title summary. When
// a query is given, episodes whose titles overlap it lexically rank ahead.
func (d *Detector) RetrievalContext(ctx context.Context, userID, query string, forceRefresh bool) *types.EpisodeContext {
	episodes := d.Detect(ctx, userID, forceRefresh)

	ranked := make([]*types.Episode, len(episodes))
	copy(ranked, episodes)
	if query != "" {
		sort.SliceStable(ranked, func(i, j int) bool {
			return queryWeightedRelevance(ranked[i], query) > queryWeightedRelevance(ranked[j], query)
		})
	}
	if len(ranked) > d.config.MaxEpisodes {
		ranked = ranked[:d.config.MaxEpisodes]
	}

	out := &types.EpisodeContext{
		Episodes:    ranked,
		BoostFactor: 1.0,
	}
	if len(ranked) == 0 {
		return out
	}

	seen := make(map[string]bool)
	var titles []string
	top := 0.0
	for _, ep := range ranked {
		for _, id := range ep.MemberIDs {
			if !seen[id] {
				seen[id] = true
				out.BoostIDs = append(out.BoostIDs, id)
			}
		}
		titles = append(titles, ep.Title)
		if r := ep.Relevance(); r > top {
			top = r
		}
	}

	// Most relevant episode drives the boost: relevance 0 -> 1.0, 1 -> 1.5.
	out.BoostFactor = 1.0 + 0.5*clamp01(top)
	if len(titles) > 3 {
		titles = titles[:3]
	}
	out.Summary = fmt.Sprintf("Active: %s", strings.Join(titles, "; "))
	return out
}

// InvalidateUser drops the user's cache entry.
func (d *Detector) InvalidateUser(userID string) {
	d.mu.Lock()
	delete(d.cache, userID)
	d.mu.Unlock()
}

// detectProjects groups recent documents by their project property into
// episodes of MinClusterSize or more.
func (d *Detector) detectProjects(ctx context.Context, userID string, now time.Time) []*types.Episode {
	records, err := d.graph.Query(ctx, store.QueryRecentDocuments, map[string]any{
		"user_id": userID,
		"since":   now.Add(-d.config.Window),
		"until":   now,
	})
	if err != nil {
		d.logger.Warn("project detection failed", zap.String("user_id", userID), zap.Error(err))
		return nil
	}

	groups := make(map[string][]map[string]any)
	for _, rec := range records {
		project, _ := rec["project"].(string)
		if project == "" {
			continue
		}
		groups[project] = append(groups[project], rec)
	}

	var out []*types.Episode
	for project, members := range groups {
		if len(members) < d.config.MinClusterSize {
			continue
		}
		ep := d.newEpisode(types.EpisodeProject, fmt.Sprintf("Project: %s", project), members, now)
		ep.WindowStart = now.Add(-d.config.Window)
		ep.WindowEnd = now
		ep.RecencyScore = 1.0 // window already elapsed
		out = append(out, ep)
	}
	return out
}

// detectConversations groups recent messages by thread id.
func (d *Detector) detectConversations(ctx context.Context, userID string, now time.Time) []*types.Episode {
	records, err := d.graph.Query(ctx, store.QueryRecentMessages, map[string]any{
		"user_id": userID,
		"since":   now.Add(-d.config.Window),
		"until":   now,
	})
	if err != nil {
		d.logger.Warn("conversation detection failed", zap.String("user_id", userID), zap.Error(err))
		return nil
	}

	groups := make(map[string][]map[string]any)
	titles := make(map[string]string)
	for _, rec := range records {
		thread, _ := rec["thread_id"].(string)
		if thread == "" {
			continue
		}
		groups[thread] = append(groups[thread], rec)
		if subject, _ := rec["subject"].(string); subject != "" && titles[thread] == "" {
			titles[thread] = subject
		}
	}

	var out []*types.Episode
	for thread, members := range groups {
		if len(members) < d.config.MinClusterSize {
			continue
		}
		title := titles[thread]
		if title == "" {
			title = fmt.Sprintf("Thread %s", thread)
		}
		ep := d.newEpisode(types.EpisodeConversation, fmt.Sprintf("Conversation: %s", title), members, now)
		ep.WindowStart = now.Add(-d.config.Window)
		ep.WindowEnd = now
		ep.RecencyScore = 1.0
		out = append(out, ep)
	}
	return out
}

// detectDeadlines groups open items due within twice the window by due-day.
// Future windows decay: the further out the due-day, the lower the recency
// score.
func (d *Detector) detectDeadlines(ctx context.Context, userID string, now time.Time) []*types.Episode {
	horizon := 2 * d.config.Window
	records, err := d.graph.Query(ctx, store.QueryUpcomingDeadline, map[string]any{
		"user_id": userID,
		"since":   now,
		"until":   now.Add(horizon),
	})
	if err != nil {
		d.logger.Warn("deadline detection failed", zap.String("user_id", userID), zap.Error(err))
		return nil
	}

	byDay := make(map[string][]map[string]any)
	days := make(map[string]time.Time)
	for _, rec := range records {
		due, ok := rec["due_date"].(time.Time)
		if !ok {
			continue
		}
		key := due.Format("2006-01-02")
		byDay[key] = append(byDay[key], rec)
		days[key] = due
	}

	var out []*types.Episode
	for key, members := range byDay {
		if len(members) < d.config.MinDeadlineCluster {
			continue
		}
		due := days[key]
		ep := d.newEpisode(types.EpisodeDeadline,
			fmt.Sprintf("%d deadlines on %s", len(members), key), members, now)
		ep.WindowStart = now
		ep.WindowEnd = due
		ep.RecencyScore = futureDecay(due.Sub(now), horizon)
		out = append(out, ep)
	}
	return out
}

func (d *Detector) newEpisode(epType types.EpisodeType, title string, members []map[string]any, now time.Time) *types.Episode {
	ids := make([]string, 0, len(members))
	for _, rec := range members {
		if id, _ := rec["id"].(string); id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return &types.Episode{
		ID:            uuid.NewString(),
		Type:          epType,
		Title:         title,
		MemberIDs:     ids,
		ActivityScore: clamp01(float64(len(members)) / float64(d.config.ActivityNorm)),
	}
}

// futureDecay maps time-until-due onto (0, 1]: imminent deadlines score near
// 1, deadlines at the horizon near 0.5.
func futureDecay(until, horizon time.Duration) float64 {
	if until <= 0 {
		return 1.0
	}
	if horizon <= 0 {
		return 0.5
	}
	frac := float64(until) / float64(horizon)
	return clamp01(1.0 - 0.5*frac)
}

// queryWeightedRelevance boosts relevance by lexical overlap between the
// episode title and the query.
func queryWeightedRelevance(ep *types.Episode, query string) float64 {
	overlap := titleOverlap(ep.Title, query)
	return ep.Relevance() * (1.0 + overlap)
}

func titleOverlap(title, query string) float64 {
	qt := wordSet(query)
	if len(qt) == 0 {
		return 0
	}
	tt := wordSet(title)
	hits := 0
	for w := range qt {
		if tt[w] {
			hits++
		}
	}
	return float64(hits) / float64(len(qt))
}

func wordSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,;:!?\"'()")
		if len(f) >= 2 {
			out[f] = true
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
