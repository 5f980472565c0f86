// Package orchestrator is the composition root of the memory layer. For
// each agent request it reads working memory synchronously, fans out
// concurrently to fact search, graph context, cross-session search, and
// episode detection, and merges whatever settled into one AssembledContext.
//
// Every fan-out branch carries its own timeout and fails in isolation: a
// dead collaborator costs its contribution and a log line, never the
// request. Write-back entry points route new information to working memory
// and durable stores by importance band.
package orchestrator
