// Package health aggregates component availability checks for the
// readiness endpoint.
package health

import "context"

// Status is the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates an optional component is down; searches still
	// run on the remaining signals.
	Degraded Status = "degraded"
	// Unhealthy indicates the store is unreachable and no request can
	// be served.
	Unhealthy Status = "error"
)

// CheckResult is one component's health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// Service coordinates health checks. The database is load-bearing; the
// embedding provider and cache backend only degrade service when down.
type Service struct {
	db        DBPinger
	embedding EmbeddingChecker
	cache     CachePinger
}

// New creates a health service. embedding and cache can be nil.
func New(db DBPinger, embedding EmbeddingChecker, cache CachePinger) *Service {
	return &Service{db: db, embedding: embedding, cache: cache}
}

// Check runs health checks against all wired components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)
	status := Healthy

	if err := s.db.PingContext(ctx); err != nil {
		checks["database"] = CheckError
		status = Unhealthy
	} else {
		checks["database"] = CheckOK
	}

	if s.embedding != nil {
		if err := s.embedding.HealthCheck(ctx); err != nil {
			checks["embedding"] = CheckError
			if status == Healthy {
				status = Degraded
			}
		} else {
			checks["embedding"] = CheckOK
		}
	}

	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			checks["cache"] = CheckError
			if status == Healthy {
				status = Degraded
			}
		} else {
			checks["cache"] = CheckOK
		}
	}

	return Report{Status: status, Checks: checks}
}
