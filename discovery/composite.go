package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"disco/service"
)

// Composite aggregates discovery services and dispatches resolution by exact
// scheme match.
type Composite struct {
	byScheme map[string]DiscoveryService
}

// NewComposite builds a composite over the given services. Two services
// declaring the same scheme is a configuration error, rejected before any
// resolution can happen.
func NewComposite(services ...DiscoveryService) (*Composite, error) {
	byScheme := make(map[string]DiscoveryService)
	for _, ds := range services {
		for _, scheme := range ds.SupportedSchemes() {
			scheme = strings.ToLower(scheme)
			if _, ok := byScheme[scheme]; ok {
				return nil, fmt.Errorf("discovery: duplicate scheme %q", scheme)
			}
			byScheme[scheme] = ds
		}
	}
	return &Composite{byScheme: byScheme}, nil
}

func (c *Composite) Supports(id service.ServiceID) bool {
	_, ok := c.byScheme[id.Scheme()]
	return ok
}

func (c *Composite) SupportedSchemes() []string {
	out := make([]string, 0, len(c.byScheme))
	for scheme := range c.byScheme {
		out = append(out, scheme)
	}
	sort.Strings(out)
	return out
}

// Resolve dispatches to the sub-service registered for id's scheme. A scheme
// no sub-service declared is a hard error, unlike a supported scheme that
// resolves no instances (which yields an empty result).
func (c *Composite) Resolve(ctx context.Context, id service.ServiceID, policy service.TrafficPolicy) (service.Service, error) {
	ds, ok := c.byScheme[id.Scheme()]
	if !ok {
		return nil, &UnsupportedSchemeError{Scheme: id.Scheme()}
	}
	return ds.Resolve(ctx, id, policy)
}
