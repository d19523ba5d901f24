// Package discovery resolves logical service identifiers into live,
// refreshable Services. Resolvers are dispatched by URI scheme and can be
// composed; a caching layer keeps resolved services alive and refreshes them
// on a shared timer.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"disco/service"
)

// DiscoveryService resolves a ServiceID plus a TrafficPolicy into a Service.
// A nil Service with a nil error means the resolution found nothing ("try
// again later"); resolving an unsupported scheme is a hard error.
type DiscoveryService interface {
	// Supports reports whether id's scheme is handled here.
	Supports(id service.ServiceID) bool

	// SupportedSchemes returns the handled schemes, lower-cased and sorted.
	SupportedSchemes() []string

	// Resolve produces a Service for id under policy.
	Resolve(ctx context.Context, id service.ServiceID, policy service.TrafficPolicy) (service.Service, error)
}

// UnsupportedSchemeError reports a resolve against a scheme this discovery
// service does not handle.
type UnsupportedSchemeError struct {
	Scheme string
}

func (e *UnsupportedSchemeError) Error() string {
	return fmt.Sprintf("discovery: unsupported scheme %q", e.Scheme)
}

// NotFoundError signals that resolution definitively failed for a service,
// as opposed to an empty result.
type NotFoundError struct {
	ID service.ServiceID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("discovery: service %s not found", e.ID)
}

// MalformedDescriptorError wraps a service-descriptor parse failure.
type MalformedDescriptorError struct {
	ID  service.ServiceID
	Err error
}

func (e *MalformedDescriptorError) Error() string {
	return fmt.Sprintf("discovery: malformed descriptor for service %s: %v", e.ID, e.Err)
}

func (e *MalformedDescriptorError) Unwrap() error { return e.Err }

// schemeSet is the case-insensitive scheme set shared by the concrete
// discovery services.
type schemeSet map[string]struct{}

func newSchemeSet(list []string) schemeSet {
	s := make(schemeSet, len(list))
	for _, scheme := range list {
		s[strings.ToLower(scheme)] = struct{}{}
	}
	return s
}

func (s schemeSet) supports(id service.ServiceID) bool {
	_, ok := s[id.Scheme()]
	return ok
}

func (s schemeSet) list() []string {
	out := make([]string, 0, len(s))
	for scheme := range s {
		out = append(out, scheme)
	}
	sort.Strings(out)
	return out
}
