// Package dbgate bounds the number of concurrently in-flight SQL statements.
//
// HTTP handler concurrency is unrelated to how many statements the database
// can usefully serve at once; without a gate, a traffic spike turns into
// connection-pool exhaustion and a long latency tail instead of a clean
// queue. The gate is acquired for the span of one statement or one explicit
// transaction and released on every exit path, including errors.
package dbgate

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/renerocksai/tigerfans-go/internal/metrics"
)

// Gate is a weighted semaphore sized to the configured concurrent-statement
// limit.
type Gate struct {
	sem *semaphore.Weighted
}

// New creates a Gate allowing up to limit concurrent acquisitions.
func New(limit int64) *Gate {
	if limit < 1 {
		limit = 1
	}
	return &Gate{sem: semaphore.NewWeighted(limit)}
}

// Do acquires the gate, runs fn, and releases the gate regardless of
// whether fn returns an error.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	metrics.DBGateQueueDepth.Inc()
	err := g.sem.Acquire(ctx, 1)
	metrics.DBGateQueueDepth.Dec()
	if err != nil {
		return err
	}
	defer g.sem.Release(1)
	return fn(ctx)
}
