package loadbalance

import (
	"disco/weighted"
)

// NewWeightedRandom returns a random balancer whose selection probability is
// proportional to each instance's weight. The weighted collection is expanded
// into the smallest proportion-preserving sequence first, so memory stays
// bounded even for large weights with common factors.
func NewWeightedRandom[T weighted.Weighted](instances []T) (Balancer[T], error) {
	expanded, err := weighted.ExpandToLoadBalanced(instances)
	if err != nil {
		return nil, err
	}
	return NewRandom(expanded)
}

// NewWeightedRoundRobin returns a round-robin balancer whose selection
// frequency is proportional to each instance's weight.
func NewWeightedRoundRobin[T weighted.Weighted](instances []T) (Balancer[T], error) {
	expanded, err := weighted.ExpandToLoadBalanced(instances)
	if err != nil {
		return nil, err
	}
	return NewRoundRobin(expanded)
}
