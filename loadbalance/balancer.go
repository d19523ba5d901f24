// Package loadbalance provides traffic load balancers that select the next
// instance to serve a request from a fixed instance set.
//
// Four strategies are implemented:
//   - Random:             uniform pick, equal-capacity instances
//   - RoundRobin:         deterministic cycle, equal-capacity instances
//   - WeightedRandom:     heterogeneous instances (different CPU/memory)
//   - WeightedRoundRobin: deterministic cycle with weight-proportional frequency
//
// Balancers are constructed once from a non-empty instance collection and are
// safe for concurrent use.
package loadbalance

import (
	"context"
	"errors"
)

// Balancer is the interface for load balancing strategies.
// Next is called before every request and must be goroutine-safe.
type Balancer[T any] interface {
	// Next selects the instance that should serve req.
	Next(ctx context.Context, req any) (T, error)
}

// ErrNoInstances is returned by constructors handed an empty instance set.
var ErrNoInstances = errors.New("loadbalance: no instances available")
