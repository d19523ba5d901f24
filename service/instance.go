package service

import (
	"context"
	"hash/fnv"
)

// Instance is a live, resource-holding handle (a connection, a client)
// capable of serving one request. Instances are owned exclusively by their
// Service; callers must never shut one down directly.
type Instance interface {
	// Shutdown releases the instance's resources immediately.
	Shutdown(ctx context.Context) error

	// ShutdownGracefully drains in-flight work before releasing resources.
	ShutdownGracefully(ctx context.Context) error
}

// InstanceKey derives the unique per-instance map key from a
// resolution-specific identity (for DNS-resolved instances, the resolved
// host:port) and the traffic policy the instance was created under.
func InstanceKey(identity string, policy TrafficPolicy) uint64 {
	h := fnv.New64a()
	h.Write([]byte(identity))
	h.Write([]byte{0})
	h.Write([]byte(policy.Fingerprint()))
	return h.Sum64()
}
