// Package memory provides session-scoped working memory for AI agents.
//
// # Overview
//
// A WorkingMemory is a bounded ring buffer of conversational turns plus
// derived entity/topic frequency tables, pending facts awaiting
// consolidation, and a single current-goal slot. The Manager owns the map
// of live buffers, applies per-user session caps and idle-timeout eviction,
// and snapshots evicted sessions to a durable SnapshotStore so pending
// facts are not silently lost.
//
// # Core types
//
//   - [WorkingMemory]: per (user, session) turn buffer with eviction
//   - [Manager]: session registry with LRU-plus-idle-timeout policy
//   - [SnapshotStore]: durable snapshot contract; see [RedisSnapshotStore]
//     and [InMemorySnapshotStore]
//
// # Invariants
//
// The buffer never exceeds its configured capacity, oldest turns are
// evicted first, and after any eviction the entity/topic tables are fully
// recomputed from the remaining turns so they never reference evicted
// content.
//
// Snapshot load/save failures are non-fatal: the registry falls back to an
// empty in-memory buffer and logs. No hot-path operation blocks
// indefinitely on storage.
package memory
