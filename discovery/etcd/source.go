// Package etcd backs the configuration-based discovery service with etcd v3.
//
// Service descriptors live as plain values under a key prefix, e.g.
//
//	Key:   /disco/services/{host}
//	Value: descriptor string (format chosen by the discovery's parse hook)
//
// etcd's strong consistency makes it a natural home for topology that every
// client must agree on.
package etcd

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"

	"disco/discovery"
)

// Source reads service descriptors from etcd.
type Source struct {
	client *clientv3.Client
	// ownsClient records whether Close should close the client.
	ownsClient bool
}

var _ discovery.ConfigSource = (*Source)(nil)

// NewSource connects to the given etcd endpoints.
func NewSource(endpoints []string) (*Source, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &Source{client: c, ownsClient: true}, nil
}

// FromClient wraps an existing etcd client. The caller keeps ownership of
// the client; Close becomes a no-op.
func FromClient(c *clientv3.Client) *Source {
	return &Source{client: c}
}

// Get returns the value stored at key, if any.
func (s *Source) Get(ctx context.Context, key string) (string, bool, error) {
	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

// Close releases the underlying client if this source created it.
func (s *Source) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Close()
}
