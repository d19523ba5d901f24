package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"go.uber.org/zap"

	"disco/conn"
	"disco/service"
)

// Resolver is the injected network name-resolution capability.
type Resolver interface {
	// ResolveAll resolves host into zero or more addresses.
	ResolveAll(ctx context.Context, host string) ([]string, error)
}

// NetResolver adapts the standard library resolver.
type NetResolver struct {
	R *net.Resolver
}

func (r NetResolver) ResolveAll(ctx context.Context, host string) ([]string, error) {
	res := r.R
	if res == nil {
		res = net.DefaultResolver
	}
	return res.LookupHost(ctx, host)
}

// DNSConfig configures a DNS-based discovery service.
type DNSConfig struct {
	// Schemes this service answers for. Required.
	Schemes []string

	// Resolver performs the lookups. Defaults to the stdlib resolver.
	Resolver Resolver

	// Address derives the unresolved host:port pair for a service ID.
	// Defaults to the ID's own host and port (or DefaultPort).
	Address func(id service.ServiceID) (host string, port int, err error)

	// NewInstance builds the instance serving one resolved "host:port".
	// Defaults to a pooled-connection instance (conn.New).
	NewInstance func(ctx context.Context, addr string, policy service.TrafficPolicy) (service.Instance, error)

	// DefaultPort is used when the service authority carries no port.
	DefaultPort int

	// PoolSize bounds the default pooled-connection instances. Ignored when
	// NewInstance is set.
	PoolSize int

	Logger *zap.Logger
}

// DNS resolves services whose authority is a DNS name: every address the
// name resolves to becomes one instance, keyed by the resolved address and
// the traffic policy.
type DNS struct {
	schemes     schemeSet
	resolver    Resolver
	address     func(id service.ServiceID) (string, int, error)
	newInstance func(ctx context.Context, addr string, policy service.TrafficPolicy) (service.Instance, error)
	logger      *zap.Logger
}

// NewDNS creates a DNS-based discovery service.
func NewDNS(cfg DNSConfig) (*DNS, error) {
	if len(cfg.Schemes) == 0 {
		return nil, fmt.Errorf("discovery: DNS discovery needs at least one scheme")
	}
	d := &DNS{
		schemes:     newSchemeSet(cfg.Schemes),
		resolver:    cfg.Resolver,
		address:     cfg.Address,
		newInstance: cfg.NewInstance,
		logger:      cfg.Logger,
	}
	if d.resolver == nil {
		d.resolver = NetResolver{}
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.address == nil {
		defaultPort := cfg.DefaultPort
		d.address = func(id service.ServiceID) (string, int, error) {
			if p := id.Port(); p != "" {
				port, err := strconv.Atoi(p)
				if err != nil {
					return "", 0, fmt.Errorf("discovery: bad port in %s: %w", id, err)
				}
				return id.Host(), port, nil
			}
			if defaultPort == 0 {
				return "", 0, fmt.Errorf("discovery: no port in %s and no default port configured", id)
			}
			return id.Host(), defaultPort, nil
		}
	}
	if d.newInstance == nil {
		poolSize := cfg.PoolSize
		if poolSize <= 0 {
			poolSize = 4
		}
		d.newInstance = func(ctx context.Context, addr string, policy service.TrafficPolicy) (service.Instance, error) {
			return conn.New(addr, poolSize, nil), nil
		}
	}
	return d, nil
}

func (d *DNS) Supports(id service.ServiceID) bool { return d.schemes.supports(id) }

func (d *DNS) SupportedSchemes() []string { return d.schemes.list() }

// Resolve performs the first resolution for id: it builds a refreshable
// service backed by DNS lookups and triggers its initial refresh. An empty
// lookup yields an empty result.
func (d *DNS) Resolve(ctx context.Context, id service.ServiceID, policy service.TrafficPolicy) (service.Service, error) {
	if !d.schemes.supports(id) {
		return nil, &UnsupportedSchemeError{Scheme: id.Scheme()}
	}
	host, port, err := d.address(id)
	if err != nil {
		return nil, err
	}

	svc := service.NewRefreshable(id, policy, d.instanceResolver(host, port), d.logger)
	refreshed, err := svc.Refresh(ctx, policy)
	if err != nil {
		return nil, err
	}
	if refreshed == nil {
		return nil, nil
	}
	return refreshed, nil
}

// instanceResolver maps every resolved address to a lazy instance factory
// keyed by hash(resolvedAddress, trafficPolicy).
func (d *DNS) instanceResolver(host string, port int) service.InstanceResolver {
	return service.InstanceResolverFunc(func(ctx context.Context, policy service.TrafficPolicy) (map[uint64]service.InstanceFactory, error) {
		addrs, err := d.resolver.ResolveAll(ctx, host)
		if err != nil {
			return nil, err
		}
		factories := make(map[uint64]service.InstanceFactory, len(addrs))
		for _, addr := range addrs {
			resolved := net.JoinHostPort(addr, strconv.Itoa(port))
			factories[service.InstanceKey(resolved, policy)] = func(ctx context.Context) (service.Instance, error) {
				return d.newInstance(ctx, resolved, policy)
			}
		}
		return factories, nil
	})
}
