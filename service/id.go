package service

import (
	"fmt"
	"net/url"
	"strings"
)

// ServiceID identifies a logical service by a normalized absolute URI.
// Request-target components (path, query, fragment) are stripped during
// construction, so two IDs compare equal whenever their scheme and authority
// match. ServiceID is a comparable value type and usable as a map key.
//
// The zero value is not a valid ID; construct one with ParseID or IDFromURL.
type ServiceID struct {
	scheme string
	// authority of a hierarchical URI, or the scheme-specific part of an
	// opaque one
	authority string
	opaque    bool
}

// ParseID parses raw into a normalized ServiceID.
// The URI must be absolute. A hierarchical URI (scheme://authority/...) must
// carry a non-blank authority; an opaque URI (scheme:rest) may carry a
// fragment only if that fragment is an absolute path.
func ParseID(raw string) (ServiceID, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ServiceID{}, fmt.Errorf("service: invalid service URI %q: %w", raw, err)
	}
	return IDFromURL(u)
}

// IDFromURL builds a ServiceID from an already parsed URI, applying the same
// validation and normalization as ParseID.
func IDFromURL(u *url.URL) (ServiceID, error) {
	if !u.IsAbs() {
		return ServiceID{}, fmt.Errorf("service: service URI must be absolute: %q", u)
	}
	scheme := strings.ToLower(u.Scheme)
	if u.Opaque != "" {
		if u.Fragment != "" && !strings.HasPrefix(u.Fragment, "/") {
			return ServiceID{}, fmt.Errorf("service: fragment of opaque service URI must be an absolute path: %q", u)
		}
		return ServiceID{scheme: scheme, authority: u.Opaque, opaque: true}, nil
	}
	if strings.TrimSpace(u.Host) == "" {
		return ServiceID{}, fmt.Errorf("service: service URI has no authority: %q", u)
	}
	return ServiceID{scheme: scheme, authority: strings.ToLower(u.Host)}, nil
}

// Scheme returns the lower-cased URI scheme.
func (id ServiceID) Scheme() string { return id.scheme }

// Authority returns the authority of a hierarchical ID, or the
// scheme-specific part of an opaque one.
func (id ServiceID) Authority() string { return id.authority }

// Host returns the host component of the authority, without the port.
func (id ServiceID) Host() string {
	if id.opaque {
		return id.authority
	}
	u := url.URL{Host: id.authority}
	return u.Hostname()
}

// Port returns the port component of the authority, or "" if absent.
func (id ServiceID) Port() string {
	if id.opaque {
		return ""
	}
	u := url.URL{Host: id.authority}
	return u.Port()
}

// URI returns the normalized URI, request-target stripped.
func (id ServiceID) URI() string {
	if id.opaque {
		return id.scheme + ":" + id.authority
	}
	return id.scheme + "://" + id.authority
}

func (id ServiceID) String() string { return id.URI() }

// IsZero reports whether id is the invalid zero value.
func (id ServiceID) IsZero() bool { return id.scheme == "" }

// RequestTarget returns the request-target portion of a service URI — the
// path, query and fragment that ParseID strips. For an opaque URI this is the
// fragment; for a hierarchical one, "/path?query#fragment".
func RequestTarget(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("service: invalid service URI %q: %w", raw, err)
	}
	if u.Opaque != "" {
		return u.Fragment, nil
	}
	var b strings.Builder
	b.WriteString(u.EscapedPath())
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.EscapedFragment())
	}
	return b.String(), nil
}
