// Package service defines service identity, traffic policies and the
// refreshable Service: a resolved set of live instances tied to a load
// balancer, reconciled in place against successive resolutions.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"disco/loadbalance"
)

// ErrServiceGone is returned by GetInstance when the service has no resolved
// instances: it was shut down, or no resolution ever produced any.
var ErrServiceGone = errors.New("service: no instances resolved")

// Service is a resolved, refreshable set of instances plus the load balancer
// selecting among them.
type Service interface {
	// ID returns the service's identity, fixed at construction.
	ID() ServiceID

	// TrafficPolicy returns the current policy; it changes only through a
	// successful Refresh.
	TrafficPolicy() TrafficPolicy

	// GetInstance returns the instance that should serve req.
	GetInstance(ctx context.Context, req any) (Instance, error)

	// Instances returns a snapshot of the current instance set, safe to
	// iterate without locking.
	Instances() []Instance

	// Refresh re-resolves the instance set under policy (the current policy
	// when nil). A nil Service with a nil error means no instance could be
	// resolved: the service is gone.
	Refresh(ctx context.Context, policy TrafficPolicy) (Service, error)

	// LastRefreshed reports when the last Refresh completed, whether it
	// succeeded, failed or came back empty. Zero before the first refresh.
	LastRefreshed() time.Time

	// Shutdown tears down every owned instance immediately.
	Shutdown(ctx context.Context) error

	// ShutdownGracefully tears down every owned instance gracefully.
	ShutdownGracefully(ctx context.Context) error
}

// InstanceFactory lazily materializes one instance. It is invoked only for
// resolved keys that are not already owned.
type InstanceFactory func(ctx context.Context) (Instance, error)

// InstanceResolver produces the desired instance set for a refresh, keyed by
// InstanceKey. Discovery backends plug their resolution logic in here.
type InstanceResolver interface {
	ResolveInstances(ctx context.Context, policy TrafficPolicy) (map[uint64]InstanceFactory, error)
}

// InstanceResolverFunc adapts a function to InstanceResolver.
type InstanceResolverFunc func(ctx context.Context, policy TrafficPolicy) (map[uint64]InstanceFactory, error)

func (f InstanceResolverFunc) ResolveInstances(ctx context.Context, policy TrafficPolicy) (map[uint64]InstanceFactory, error) {
	return f(ctx, policy)
}

// Refreshable is the canonical Service implementation. Refresh diffs the
// resolver's output against the owned instance map: unchanged keys keep their
// existing instance, missing keys are shut down gracefully in the background,
// new keys are materialized through their factory.
//
// Refresh must not be called concurrently with itself; callers serialize
// refreshes (the caching layer holds a per-entry lock across them). Reads are
// safe at any time and observe either the pre- or post-refresh state.
type Refreshable struct {
	id       ServiceID
	resolver InstanceResolver
	logger   *zap.Logger

	lastRefreshed atomic.Int64 // unix millis, 0 before first refresh

	mu        sync.RWMutex
	policy    TrafficPolicy
	instances map[uint64]Instance
	balancer  loadbalance.Balancer[Instance] // nil while instances is empty
}

// NewRefreshable creates a Service with an empty instance set. The first
// Refresh populates it. A nil logger falls back to a no-op logger.
func NewRefreshable(id ServiceID, policy TrafficPolicy, resolver InstanceResolver, logger *zap.Logger) *Refreshable {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refreshable{
		id:        id,
		resolver:  resolver,
		logger:    logger,
		policy:    policy,
		instances: make(map[uint64]Instance),
	}
}

func (s *Refreshable) ID() ServiceID { return s.id }

func (s *Refreshable) TrafficPolicy() TrafficPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

func (s *Refreshable) GetInstance(ctx context.Context, req any) (Instance, error) {
	s.mu.RLock()
	balancer := s.balancer
	s.mu.RUnlock()
	if balancer == nil {
		return nil, fmt.Errorf("%w: %s", ErrServiceGone, s.id)
	}
	return balancer.Next(ctx, req)
}

func (s *Refreshable) Instances() []Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, inst)
	}
	return out
}

func (s *Refreshable) LastRefreshed() time.Time {
	ms := s.lastRefreshed.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Refresh implements Service.
func (s *Refreshable) Refresh(ctx context.Context, policy TrafficPolicy) (Service, error) {
	// The timestamp moves on every completion path so the refresh scheduler
	// never busy-loops on a persistently failing service.
	defer s.lastRefreshed.Store(time.Now().UnixMilli())

	if policy == nil {
		policy = s.TrafficPolicy()
	}

	resolved, err := s.resolver.ResolveInstances(ctx, policy)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	current := make(map[uint64]Instance, len(s.instances))
	for key, inst := range s.instances {
		current[key] = inst
	}
	s.mu.RUnlock()

	next := make(map[uint64]Instance, len(resolved))
	for key, factory := range resolved {
		// Unchanged server: keep the existing instance, no churn.
		if inst, ok := current[key]; ok {
			next[key] = inst
			continue
		}
		inst, err := factory(ctx)
		if err != nil {
			s.logger.Warn("failed to create service instance",
				zap.Stringer("service", s.id),
				zap.Uint64("key", key),
				zap.Error(err))
			continue
		}
		next[key] = inst
	}

	var balancer loadbalance.Balancer[Instance]
	if len(next) > 0 {
		instances := make([]Instance, 0, len(next))
		for _, inst := range next {
			instances = append(instances, inst)
		}
		balancer, err = policy.NewLoadBalancer(instances)
		if err != nil {
			// Don't leak the instances created this round.
			for key, inst := range next {
				if _, ok := current[key]; ok {
					continue
				}
				go func(inst Instance) {
					if err := inst.ShutdownGracefully(context.Background()); err != nil {
						s.logger.Warn("failed to shut down orphaned instance",
							zap.Stringer("service", s.id),
							zap.Error(err))
					}
				}(inst)
			}
			return nil, err
		}
	}

	s.mu.Lock()
	s.instances = next
	s.balancer = balancer
	s.policy = policy
	s.mu.Unlock()

	// Instances that disappeared from the resolution are shut down in the
	// background, only once the swap has committed: until then a failed
	// refresh must leave the pre-refresh state fully servable. Teardown
	// errors never fail the refresh.
	for key, inst := range current {
		if _, ok := resolved[key]; ok {
			continue
		}
		go func(key uint64, inst Instance) {
			if err := inst.ShutdownGracefully(context.Background()); err != nil {
				s.logger.Warn("failed to shut down removed instance",
					zap.Stringer("service", s.id),
					zap.Uint64("key", key),
					zap.Error(err))
			}
		}(key, inst)
	}

	if len(next) == 0 {
		return nil, nil
	}
	return s, nil
}

func (s *Refreshable) Shutdown(ctx context.Context) error {
	return s.shutdown(ctx, Instance.Shutdown)
}

func (s *Refreshable) ShutdownGracefully(ctx context.Context) error {
	return s.shutdown(ctx, Instance.ShutdownGracefully)
}

// shutdown tears down every owned instance concurrently, aggregating errors
// so no instance's failure blocks another's teardown. A second call finds an
// empty map and no-ops.
func (s *Refreshable) shutdown(ctx context.Context, stop func(Instance, context.Context) error) error {
	s.mu.Lock()
	instances := s.instances
	s.instances = make(map[uint64]Instance)
	s.balancer = nil
	s.mu.Unlock()

	var (
		wg   sync.WaitGroup
		emu  sync.Mutex
		errs error
	)
	for _, inst := range instances {
		wg.Add(1)
		go func(inst Instance) {
			defer wg.Done()
			if err := stop(inst, ctx); err != nil {
				emu.Lock()
				errs = multierr.Append(errs, err)
				emu.Unlock()
			}
		}(inst)
	}
	wg.Wait()
	return errs
}
