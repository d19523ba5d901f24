package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"

	"disco/service"
)

// fakeResolver returns a mutable address list.
type fakeResolver struct {
	mu    sync.Mutex
	addrs []string
	err   error
}

func (r *fakeResolver) set(addrs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addrs = addrs
}

func (r *fakeResolver) ResolveAll(ctx context.Context, host string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addrs, r.err
}

// memInstance is an in-memory instance remembering its resolved address.
type memInstance struct {
	addr string
}

func (m *memInstance) Shutdown(ctx context.Context) error           { return nil }
func (m *memInstance) ShutdownGracefully(ctx context.Context) error { return nil }

func newMemDNS(t *testing.T, r Resolver) *DNS {
	t.Helper()
	d, err := NewDNS(DNSConfig{
		Schemes:  []string{"http"},
		Resolver: r,
		NewInstance: func(ctx context.Context, addr string, policy service.TrafficPolicy) (service.Instance, error) {
			return &memInstance{addr: addr}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestDNSResolve(t *testing.T) {
	resolver := &fakeResolver{addrs: []string{"10.0.0.1", "10.0.0.2"}}
	d := newMemDNS(t, resolver)

	policy := service.BalancerPolicy{Strategy: service.StrategyRoundRobin}
	svc, err := d.Resolve(context.Background(), mustID(t, "http://orders:8080"), policy)
	if err != nil {
		t.Fatal(err)
	}
	if svc == nil {
		t.Fatal("expect resolved service")
	}

	instances := svc.Instances()
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}
	addrs := map[string]bool{}
	for _, inst := range instances {
		addrs[inst.(*memInstance).addr] = true
	}
	if !addrs["10.0.0.1:8080"] || !addrs["10.0.0.2:8080"] {
		t.Fatalf("unexpected instance addresses %v", addrs)
	}
}

func TestDNSResolveEmpty(t *testing.T) {
	d := newMemDNS(t, &fakeResolver{})

	policy := service.BalancerPolicy{Strategy: service.StrategyRoundRobin}
	svc, err := d.Resolve(context.Background(), mustID(t, "http://orders:8080"), policy)
	if err != nil {
		t.Fatal(err)
	}
	if svc != nil {
		t.Fatal("expect empty result for empty lookup")
	}
}

func TestDNSRefreshTracksResolution(t *testing.T) {
	resolver := &fakeResolver{addrs: []string{"10.0.0.1"}}
	d := newMemDNS(t, resolver)

	policy := service.BalancerPolicy{Strategy: service.StrategyRoundRobin}
	svc, err := d.Resolve(context.Background(), mustID(t, "http://orders:8080"), policy)
	if err != nil {
		t.Fatal(err)
	}

	resolver.set("10.0.0.1", "10.0.0.3")
	refreshed, err := svc.Refresh(context.Background(), policy)
	if err != nil {
		t.Fatal(err)
	}
	if refreshed == nil {
		t.Fatal("expect non-empty refresh")
	}

	// The surviving address keeps its instance object.
	byAddr := map[string]service.Instance{}
	for _, inst := range refreshed.Instances() {
		byAddr[inst.(*memInstance).addr] = inst
	}
	if len(byAddr) != 2 {
		t.Fatalf("expect 2 instances after refresh, got %d", len(byAddr))
	}
	if _, ok := byAddr["10.0.0.3:8080"]; !ok {
		t.Fatal("new address missing after refresh")
	}
}

func TestDNSUnsupportedScheme(t *testing.T) {
	d := newMemDNS(t, &fakeResolver{})

	policy := service.BalancerPolicy{Strategy: service.StrategyRoundRobin}
	_, err := d.Resolve(context.Background(), mustID(t, "redis://cache:6379"), policy)
	var unsupported *UnsupportedSchemeError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expect UnsupportedSchemeError, got %v", err)
	}
}

func TestDNSNoPortNoDefault(t *testing.T) {
	d := newMemDNS(t, &fakeResolver{addrs: []string{"10.0.0.1"}})

	policy := service.BalancerPolicy{Strategy: service.StrategyRoundRobin}
	if _, err := d.Resolve(context.Background(), mustID(t, "http://orders"), policy); err == nil {
		t.Fatal("expect error when neither the ID nor the config carries a port")
	}
}
