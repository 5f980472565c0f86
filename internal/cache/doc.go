// Package cache manages the Redis connection behind the session snapshot
// store: client construction from configuration, background health
// checks, and graceful shutdown. Snapshot serialization lives with the
// store; this package only owns the connection.
package cache
