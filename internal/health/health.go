// Package health implements health and queue telemetry reporting (C10).
package health

import (
	"context"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/richtunnel/partnerstestapi/internal/queue"
)

// Status is the overall or per-component health state.
type Status string

const (
	StatusHealthy     Status = "healthy"
	StatusDegraded    Status = "degraded"
	StatusUnhealthy   Status = "unhealthy"
)

// Soft latency thresholds above which a healthy probe is reported degraded.
const (
	dbSoftThreshold        = 5 * time.Second
	queueSoftThreshold     = 3 * time.Second
	rateLimitSoftThreshold = 2 * time.Second
)

// Memory thresholds, in bytes, for resident heap.
const (
	memoryDegradedBytes  = 400 * 1024 * 1024
	memoryUnhealthyBytes = 800 * 1024 * 1024
)

// Component reports one dependency's probe outcome.
type Component struct {
	Status    Status        `json:"status"`
	LatencyMS float64       `json:"latency_ms"`
	Error     string        `json:"error,omitempty"`
}

// Report is the full JSON body of GET /health.
type Report struct {
	Status     Status               `json:"status"`
	Components map[string]Component `json:"components"`
}

// Checker probes every dependency and aggregates their status.
type Checker struct {
	db    *pgxpool.Pool
	rdb   *redis.Client
	queue queue.Telemetry
}

// NewChecker creates a Checker.
func NewChecker(db *pgxpool.Pool, rdb *redis.Client, q queue.Telemetry) *Checker {
	return &Checker{db: db, rdb: rdb, queue: q}
}

// Check runs every component probe and aggregates the overall status: the
// worst of any component's status, and unhealthy if memory exceeds the
// unhealthy threshold regardless of dependency state.
func (c *Checker) Check(ctx context.Context) Report {
	components := map[string]Component{
		"database":     probe(ctx, dbSoftThreshold, c.pingDB),
		"queue":        probe(ctx, queueSoftThreshold, c.pingQueue),
		"rate_limiter": probe(ctx, rateLimitSoftThreshold, c.pingRedis),
		"memory":       memoryComponent(),
	}

	overall := StatusHealthy
	for _, comp := range components {
		if comp.Status == StatusUnhealthy {
			overall = StatusUnhealthy
			break
		}
		if comp.Status == StatusDegraded && overall == StatusHealthy {
			overall = StatusDegraded
		}
	}

	return Report{Status: overall, Components: components}
}

func (c *Checker) pingDB(ctx context.Context) error {
	return c.db.Ping(ctx)
}

func (c *Checker) pingRedis(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Checker) pingQueue(ctx context.Context) error {
	_, err := c.queue.Depths(ctx)
	return err
}

// probe times fn and maps the outcome to a Component: error -> unhealthy,
// over threshold -> degraded, otherwise healthy.
func probe(ctx context.Context, softThreshold time.Duration, fn func(context.Context) error) Component {
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	if err != nil {
		return Component{Status: StatusUnhealthy, LatencyMS: msFloat(elapsed), Error: err.Error()}
	}
	if elapsed > softThreshold {
		return Component{Status: StatusDegraded, LatencyMS: msFloat(elapsed)}
	}
	return Component{Status: StatusHealthy, LatencyMS: msFloat(elapsed)}
}

func memoryComponent() Component {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	status := StatusHealthy
	switch {
	case m.HeapAlloc > memoryUnhealthyBytes:
		status = StatusUnhealthy
	case m.HeapAlloc > memoryDegradedBytes:
		status = StatusDegraded
	}

	return Component{Status: status, LatencyMS: 0}
}

func msFloat(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

// HTTPStatus maps the overall status to the response code: 503 only for
// unhealthy, 200 for healthy and degraded.
func (r Report) HTTPStatus() int {
	if r.Status == StatusUnhealthy {
		return 503
	}
	return 200
}
