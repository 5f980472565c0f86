// Package types provides unified type definitions for the agentmemory library.
//
// It holds the data model shared by every memory subsystem: conversational
// turns, pending and durable facts, goals, detected episodes, salience
// scores, consolidation run reports, and the assembled context bundle that
// is ultimately handed to an agent.
package types
