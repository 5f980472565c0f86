// Package goals tracks user goals detected from conversation.
//
// Detection is a best-effort heuristic layer: an ordered list of pattern
// rules finds goal statements ("I need to X by Y", "trying to X"), a
// separate pattern set plus fuzzy matching detects completions, and
// relative due-date phrases are parsed into concrete dates. A pluggable
// semantic classifier can replace the patterns without touching the state
// machine.
//
// Goals move through a one-way state machine:
//
//	active -> {completed, abandoned, paused} -> archived
//
// Detection never returns an error to the caller; it is acceptable to miss
// a goal, unacceptable to corrupt an existing one.
package goals
