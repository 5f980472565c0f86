// Package episodes detects clusters of correlated recent activity by
// querying an external graph: document bursts grouped by project, message
// threads, and co-occurring deadlines. Episodes carry an activity score and
// an exponentially decaying recency score; their product ranks them.
//
// Detection results are cached per user for a short TTL. Staleness is
// judged purely by elapsed wall-clock time; the graph sends no invalidation
// signals. A failure in any one category degrades to "no episodes of that
// category" and never aborts the whole detection pass.
package episodes
