// Package database opens and manages the connection pool behind the
// durable fact store. It translates the service's database configuration
// into a gorm.DB with tuned pooling, periodic health checks, and
// retryable transactions for contended consolidation writes.
package database
