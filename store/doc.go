// Package store defines the narrow interfaces through which the memory
// layer talks to its external collaborators (the durable fact store, the
// knowledge graph, and the per-agent behavior pattern store) together with
// default implementations for local development, tests, and small-scale
// deployments.
//
// The orchestration layer never owns durable storage; everything in this
// package is a collaborator it calls through these contracts.
package store
