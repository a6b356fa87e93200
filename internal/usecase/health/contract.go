package health

import "context"

// DBPinger checks relational store availability.
type DBPinger interface {
	PingContext(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// CachePinger checks the key-value cache backend.
type CachePinger interface {
	Ping(ctx context.Context) error
}
