package discovery

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"disco/service"
)

// ConfigSource is the injected configuration-read capability.
type ConfigSource interface {
	// Get returns the value stored at key, reporting whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
}

// StaticSource is a map-backed ConfigSource for fixed topologies and tests.
type StaticSource map[string]string

func (s StaticSource) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := s[key]
	return v, ok, nil
}

// DescriptorParser turns the raw descriptor string stored for a service into
// a typed descriptor.
type DescriptorParser[D any] func(id service.ServiceID, raw string) (D, error)

// ServiceBuilder constructs the Service described by a parsed descriptor.
type ServiceBuilder[D any] func(ctx context.Context, id service.ServiceID, policy service.TrafficPolicy, desc D) (service.Service, error)

// Config resolves services from descriptors held in an external
// configuration source, at keys derived from a prefix plus the service host.
type Config[D any] struct {
	schemes schemeSet
	source  ConfigSource
	prefix  string
	parse   DescriptorParser[D]
	build   ServiceBuilder[D]
	logger  *zap.Logger
}

// NewConfig creates a configuration-based discovery service. parse and build
// supply the descriptor format and the service construction; both are
// required.
func NewConfig[D any](
	source ConfigSource,
	prefix string,
	schemes []string,
	parse DescriptorParser[D],
	build ServiceBuilder[D],
	logger *zap.Logger,
) (*Config[D], error) {
	if source == nil {
		return nil, fmt.Errorf("discovery: config discovery needs a source")
	}
	if len(schemes) == 0 {
		return nil, fmt.Errorf("discovery: config discovery needs at least one scheme")
	}
	if parse == nil || build == nil {
		return nil, fmt.Errorf("discovery: config discovery needs parse and build hooks")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Config[D]{
		schemes: newSchemeSet(schemes),
		source:  source,
		prefix:  prefix,
		parse:   parse,
		build:   build,
		logger:  logger,
	}, nil
}

func (c *Config[D]) Supports(id service.ServiceID) bool { return c.schemes.supports(id) }

func (c *Config[D]) SupportedSchemes() []string { return c.schemes.list() }

// Resolve fetches and parses the descriptor for id, builds the described
// service and triggers its first refresh. A missing key yields an empty
// result; an unparsable descriptor is a MalformedDescriptorError.
func (c *Config[D]) Resolve(ctx context.Context, id service.ServiceID, policy service.TrafficPolicy) (service.Service, error) {
	if !c.schemes.supports(id) {
		return nil, &UnsupportedSchemeError{Scheme: id.Scheme()}
	}

	raw, ok, err := c.source.Get(ctx, c.prefix+id.Host())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	desc, err := c.parse(id, raw)
	if err != nil {
		return nil, &MalformedDescriptorError{ID: id, Err: err}
	}

	svc, err := c.build(ctx, id, policy, desc)
	if err != nil {
		return nil, err
	}

	refreshed, err := svc.Refresh(ctx, policy)
	if err != nil {
		return nil, err
	}
	if refreshed == nil {
		return nil, nil
	}
	return refreshed, nil
}
