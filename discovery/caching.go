package discovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"disco/service"
)

// ErrCacheOwned is returned when a caller shuts down a cached service
// directly; only the owning caching discovery service may tear them down.
var ErrCacheOwned = errors.New("discovery: service is owned by the caching discovery service")

// ErrCacheClosed is returned by Resolve after the caching discovery service
// has been shut down.
var ErrCacheClosed = errors.New("discovery: caching discovery service is shut down")

// DefaultTTL is the refresh time-to-live used when none is configured.
const DefaultTTL = 30 * time.Second

// CachingOption configures a Caching discovery service.
type CachingOption func(*Caching)

// WithTTL sets how long a cached service may go without a refresh.
func WithTTL(ttl time.Duration) CachingOption {
	return func(c *Caching) { c.ttl = ttl }
}

// WithLogger sets the logger for swallowed refresh/teardown errors.
func WithLogger(logger *zap.Logger) CachingOption {
	return func(c *Caching) { c.logger = logger }
}

// Caching wraps a discovery service with a (ServiceID, TrafficPolicy)-keyed
// cache of resolved services. Concurrent resolutions for the same key share
// one in-flight call, and a single shared timer refreshes stale entries,
// rescheduling itself for whenever the next entry comes due.
type Caching struct {
	wrapped DiscoveryService
	ttl     time.Duration
	logger  *zap.Logger

	flight singleflight.Group

	mu      sync.Mutex // serializes entries/timer mutation
	entries map[string]*cachedService
	timer   *time.Timer
	closed  bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewCaching wraps a discovery service with caching and TTL-based refresh.
func NewCaching(wrapped DiscoveryService, opts ...CachingOption) *Caching {
	c := &Caching{
		wrapped: wrapped,
		ttl:     DefaultTTL,
		logger:  zap.NewNop(),
		entries: make(map[string]*cachedService),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Caching) Supports(id service.ServiceID) bool { return c.wrapped.Supports(id) }

func (c *Caching) SupportedSchemes() []string { return c.wrapped.SupportedSchemes() }

func cacheKey(id service.ServiceID, policy service.TrafficPolicy) string {
	return id.URI() + "|" + policy.Fingerprint()
}

// Resolve returns the cached service for (id, policy), resolving through the
// wrapped discovery service on a miss. At most one resolution is in flight
// per key; concurrent callers share its result.
func (c *Caching) Resolve(ctx context.Context, id service.ServiceID, policy service.TrafficPolicy) (service.Service, error) {
	key := cacheKey(id, policy)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCacheClosed
	}
	if entry, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return entry, nil
	}
	c.mu.Unlock()

	v, err, _ := c.flight.Do(key, func() (any, error) {
		// An earlier flight may have filled the entry between the fast-path
		// check and this call.
		c.mu.Lock()
		if entry, ok := c.entries[key]; ok {
			c.mu.Unlock()
			return entry, nil
		}
		c.mu.Unlock()

		svc, err := c.wrapped.Resolve(ctx, id, policy)
		if err != nil {
			return nil, err
		}
		if svc == nil {
			return nil, nil // nothing resolved, nothing cached
		}

		entry := &cachedService{
			cache:          c,
			key:            key,
			id:             id,
			originalPolicy: policy,
			svc:            svc,
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			go c.teardown(svc)
			return nil, ErrCacheClosed
		}
		c.entries[key] = entry
		c.armLocked()
		c.mu.Unlock()
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(service.Service), nil
}

// refreshWithNewPolicy serves a cached wrapper's refresh under a policy that
// differs from its original: the shared entry must not change, so a fresh
// resolution happens under the new policy. If that hit an entry already
// cached before this operation started, one explicit refresh guarantees the
// caller sees up-to-date data.
func (c *Caching) refreshWithNewPolicy(ctx context.Context, id service.ServiceID, policy service.TrafficPolicy) (service.Service, error) {
	// LastRefreshed carries millisecond precision, so compare at the same
	// granularity or a resolution landing in the same millisecond would look
	// stale.
	start := time.Now().Truncate(time.Millisecond)
	svc, err := c.Resolve(ctx, id, policy)
	if err != nil || svc == nil {
		return nil, err
	}
	if svc.LastRefreshed().Before(start) {
		return svc.Refresh(ctx, policy)
	}
	return svc, nil
}

// evict drops an entry whose refresh came back empty and tears the
// underlying service down in the background.
func (c *Caching) evict(e *cachedService) {
	c.mu.Lock()
	if cur, ok := c.entries[e.key]; ok && cur == e {
		delete(c.entries, e.key)
	}
	c.mu.Unlock()
	go c.teardown(e.underlying())
}

func (c *Caching) teardown(svc service.Service) {
	if err := svc.ShutdownGracefully(context.Background()); err != nil {
		c.logger.Warn("failed to shut down evicted service",
			zap.Stringer("service", svc.ID()),
			zap.Error(err))
	}
}

// armLocked starts the shared refresh timer when entries exist and no timer
// is pending. Caller holds c.mu.
func (c *Caching) armLocked() {
	if c.timer != nil || c.closed || len(c.entries) == 0 {
		return
	}
	oldest := time.Time{}
	for _, e := range c.entries {
		if lr := e.LastRefreshed(); oldest.IsZero() || lr.Before(oldest) {
			oldest = lr
		}
	}
	// Wake when the oldest entry comes due, bounded by the TTL ceiling.
	delay := time.Until(oldest.Add(c.ttl))
	if delay > c.ttl {
		delay = c.ttl
	}
	if delay < time.Millisecond {
		delay = time.Millisecond
	}
	c.timer = time.AfterFunc(delay, c.sweep)
}

// sweep refreshes every entry past its TTL, always under the entry's
// original traffic policy, then re-arms the timer for the next due entry.
// One failing service never stops the pass or kills the timer.
func (c *Caching) sweep() {
	c.mu.Lock()
	c.timer = nil
	entries := make([]*cachedService, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	now := time.Now()
	for _, e := range entries {
		if now.Sub(e.LastRefreshed()) <= c.ttl {
			continue
		}
		if _, err := e.Refresh(context.Background(), e.originalPolicy); err != nil {
			c.logger.Warn("background refresh failed",
				zap.Stringer("service", e.id),
				zap.Error(err))
		}
	}

	c.mu.Lock()
	c.armLocked() // no-op once the cache is empty; next Resolve restarts it
	c.mu.Unlock()
}

// Shutdown tears down every cached service immediately. Idempotent: repeat
// calls return the first call's result.
func (c *Caching) Shutdown(ctx context.Context) error {
	return c.shutdownAll(ctx, service.Service.Shutdown)
}

// ShutdownGracefully tears down every cached service gracefully. Idempotent
// like Shutdown.
func (c *Caching) ShutdownGracefully(ctx context.Context) error {
	return c.shutdownAll(ctx, service.Service.ShutdownGracefully)
}

func (c *Caching) shutdownAll(ctx context.Context, stop func(service.Service, context.Context) error) error {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
		entries := c.entries
		c.entries = make(map[string]*cachedService)
		c.mu.Unlock()

		var (
			wg  sync.WaitGroup
			emu sync.Mutex
		)
		for _, e := range entries {
			wg.Add(1)
			go func(svc service.Service) {
				defer wg.Done()
				if err := stop(svc, ctx); err != nil {
					emu.Lock()
					c.shutdownErr = multierr.Append(c.shutdownErr, err)
					emu.Unlock()
				}
			}(e.underlying())
		}
		wg.Wait()
	})
	return c.shutdownErr
}

// cachedService is the cache-owned wrapper handed to callers. It remembers
// the traffic policy used at first resolution, so a refresh under a
// different policy routes to a fresh resolution instead of mutating state
// other callers depend on.
type cachedService struct {
	cache          *Caching
	key            string
	id             service.ServiceID
	originalPolicy service.TrafficPolicy

	// refreshMu serializes same-policy refreshes: the underlying Refresh is
	// not safe against itself, and both callers and the background sweep go
	// through this wrapper.
	refreshMu sync.Mutex

	mu  sync.RWMutex
	svc service.Service
}

var _ service.Service = (*cachedService)(nil)

func (e *cachedService) underlying() service.Service {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.svc
}

func (e *cachedService) ID() service.ServiceID { return e.id }

func (e *cachedService) TrafficPolicy() service.TrafficPolicy {
	return e.underlying().TrafficPolicy()
}

func (e *cachedService) GetInstance(ctx context.Context, req any) (service.Instance, error) {
	return e.underlying().GetInstance(ctx, req)
}

func (e *cachedService) Instances() []service.Instance {
	return e.underlying().Instances()
}

func (e *cachedService) LastRefreshed() time.Time {
	return e.underlying().LastRefreshed()
}

// Refresh refreshes the cached service. Under the original policy the
// underlying service refreshes in place; an empty result evicts the entry
// and reports the service gone. Under a different policy the refresh is
// served by a fresh cache resolution.
func (e *cachedService) Refresh(ctx context.Context, policy service.TrafficPolicy) (service.Service, error) {
	if policy == nil {
		policy = e.originalPolicy
	}
	if policy.Fingerprint() != e.originalPolicy.Fingerprint() {
		return e.cache.refreshWithNewPolicy(ctx, e.id, policy)
	}

	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	refreshed, err := e.underlying().Refresh(ctx, policy)
	if err != nil {
		return nil, err
	}
	if refreshed == nil {
		e.cache.evict(e)
		return nil, nil
	}

	e.mu.Lock()
	e.svc = refreshed
	e.mu.Unlock()
	return e, nil
}

// Shutdown always fails: cached services are torn down by their cache.
func (e *cachedService) Shutdown(ctx context.Context) error {
	return ErrCacheOwned
}

// ShutdownGracefully always fails: cached services are torn down by their
// cache.
func (e *cachedService) ShutdownGracefully(ctx context.Context) error {
	return ErrCacheOwned
}
