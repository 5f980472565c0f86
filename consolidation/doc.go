// Package consolidation runs periodic per-user memory maintenance: pending
// facts with high confidence are promoted out of working memory into the
// durable fact store, stale facts decay, near-duplicate facts merge, facts
// below a hard floor are removed, old completed goals are archived, and
// unused behavior patterns are softly penalized.
//
// Phases run in a fixed order and are individually fault-isolated: a phase
// failure is recorded on the run result and never aborts later phases. The
// worker holds no lock the retrieval hot path depends on; it reads current
// state through public methods and commits phase by phase. Running twice on
// unchanged data is a no-op the second time.
package consolidation
