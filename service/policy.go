package service

import (
	"fmt"

	"disco/loadbalance"
	"disco/weighted"
)

// TrafficPolicy is the caller-supplied configuration governing how instances
// of a resolved service are selected. Policies with equal fingerprints are
// interchangeable: the fingerprint keys cached services and feeds instance
// key hashing, so it must cover every field that affects balancing.
type TrafficPolicy interface {
	// Fingerprint returns a stable value-equality surrogate for the policy.
	Fingerprint() string

	// NewLoadBalancer builds a balancer over instances. An empty collection
	// is rejected with loadbalance.ErrNoInstances.
	NewLoadBalancer(instances []Instance) (loadbalance.Balancer[Instance], error)
}

// Strategy names one of the built-in load balancing strategies.
type Strategy string

const (
	StrategyRandom             Strategy = "random"
	StrategyRoundRobin         Strategy = "round-robin"
	StrategyWeightedRandom     Strategy = "weighted-random"
	StrategyWeightedRoundRobin Strategy = "weighted-round-robin"
)

// BalancerPolicy is a TrafficPolicy selecting a built-in strategy. The
// weighted strategies require every instance to implement weighted.Weighted.
type BalancerPolicy struct {
	Strategy Strategy
}

func (p BalancerPolicy) Fingerprint() string {
	return "strategy=" + string(p.Strategy)
}

func (p BalancerPolicy) NewLoadBalancer(instances []Instance) (loadbalance.Balancer[Instance], error) {
	if len(instances) == 0 {
		return nil, loadbalance.ErrNoInstances
	}
	switch p.Strategy {
	case StrategyRandom:
		return loadbalance.NewRandom(instances)
	case StrategyRoundRobin, "":
		return loadbalance.NewRoundRobin(instances)
	case StrategyWeightedRandom, StrategyWeightedRoundRobin:
		expanded, err := weighted.ExpandFunc(instances, instanceWeight)
		if err != nil {
			return nil, err
		}
		if p.Strategy == StrategyWeightedRandom {
			return loadbalance.NewRandom(expanded)
		}
		return loadbalance.NewRoundRobin(expanded)
	default:
		return nil, fmt.Errorf("service: unknown load balancing strategy %q", p.Strategy)
	}
}

// instanceWeight reads an instance's weight, zero (rejected by the expansion)
// when the instance carries none.
func instanceWeight(inst Instance) int {
	w, ok := inst.(weighted.Weighted)
	if !ok {
		return 0
	}
	return w.Weight()
}
