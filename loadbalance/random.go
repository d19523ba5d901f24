package loadbalance

import (
	"context"
	"math/rand"
)

// random picks uniformly among a fixed set, independent of the request.
type random[T any] struct {
	instances []T
}

// NewRandom returns a balancer that selects instances uniformly at random.
// The global rand source is internally locked, so Next needs no extra
// synchronization.
func NewRandom[T any](instances []T) (Balancer[T], error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	fixed := make([]T, len(instances))
	copy(fixed, instances)
	return &random[T]{instances: fixed}, nil
}

func (r *random[T]) Next(ctx context.Context, req any) (T, error) {
	return r.instances[rand.Intn(len(r.instances))], nil
}
