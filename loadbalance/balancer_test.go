package loadbalance

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type backend struct {
	addr string
	w    int
}

func (b backend) Weight() int { return b.w }

var testInstances = []backend{
	{addr: ":8001", w: 10},
	{addr: ":8002", w: 5},
	{addr: ":8003", w: 10},
}

func TestRoundRobinCycle(t *testing.T) {
	b, err := NewRoundRobin(testInstances)
	if err != nil {
		t.Fatal(err)
	}

	// Two full cycles must return instances in exact insertion order.
	want := []string{":8001", ":8002", ":8003", ":8001", ":8002", ":8003"}
	for i, addr := range want {
		inst, err := b.Next(context.Background(), nil)
		if err != nil {
			t.Fatal(err)
		}
		if inst.addr != addr {
			t.Fatalf("call %d: expect %s, got %s", i, addr, inst.addr)
		}
	}
}

func TestRoundRobinConcurrent(t *testing.T) {
	b, err := NewRoundRobin(testInstances)
	if err != nil {
		t.Fatal(err)
	}

	const (
		goroutines = 10
		perG       = 30 // total is a multiple of the instance count
	)
	var (
		mu     sync.Mutex
		counts = map[string]int{}
		wg     sync.WaitGroup
	)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				inst, err := b.Next(context.Background(), nil)
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				counts[inst.addr]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Every CAS advances the cursor exactly once, so the distribution is
	// perfectly fair over a whole number of cycles.
	want := goroutines * perG / len(testInstances)
	for _, inst := range testInstances {
		if counts[inst.addr] != want {
			t.Fatalf("expect %d picks for %s, got %v", want, inst.addr, counts)
		}
	}
}

func TestRandomCoverage(t *testing.T) {
	b, err := NewRandom(testInstances)
	if err != nil {
		t.Fatal(err)
	}

	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		inst, err := b.Next(context.Background(), nil)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.addr]++
	}
	for _, inst := range testInstances {
		if counts[inst.addr] == 0 {
			t.Fatalf("instance %s never selected: %v", inst.addr, counts)
		}
	}
}

func TestWeightedRandomDistribution(t *testing.T) {
	b, err := NewWeightedRandom(testInstances)
	if err != nil {
		t.Fatal(err)
	}

	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		inst, err := b.Next(context.Background(), nil)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.addr]++
	}

	// Weight ratio is 10:5:10, so :8001 should see ~2x of :8002.
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :8001/:8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRoundRobinFrequency(t *testing.T) {
	b, err := NewWeightedRoundRobin([]backend{
		{addr: ":8001", w: 10},
		{addr: ":8002", w: 20},
	})
	if err != nil {
		t.Fatal(err)
	}

	// The 10:20 ratio reduces to 1:2; each full cycle is 3 picks with :8002
	// appearing exactly twice.
	for cycle := 0; cycle < 4; cycle++ {
		counts := map[string]int{}
		for i := 0; i < 3; i++ {
			inst, err := b.Next(context.Background(), nil)
			if err != nil {
				t.Fatal(err)
			}
			counts[inst.addr]++
		}
		if counts[":8001"] != 1 || counts[":8002"] != 2 {
			t.Fatalf("cycle %d: expect 1:2, got %v", cycle, counts)
		}
	}
}

func TestEmptyInstances(t *testing.T) {
	if _, err := NewRandom([]backend{}); !errors.Is(err, ErrNoInstances) {
		t.Fatalf("expect ErrNoInstances, got %v", err)
	}
	if _, err := NewRoundRobin([]backend{}); !errors.Is(err, ErrNoInstances) {
		t.Fatalf("expect ErrNoInstances, got %v", err)
	}
	if _, err := NewWeightedRandom([]backend{}); !errors.Is(err, ErrNoInstances) {
		t.Fatalf("expect ErrNoInstances, got %v", err)
	}
	if _, err := NewWeightedRoundRobin([]backend{}); !errors.Is(err, ErrNoInstances) {
		t.Fatalf("expect ErrNoInstances, got %v", err)
	}
}

func TestWeightedRejectsNonPositiveWeight(t *testing.T) {
	_, err := NewWeightedRandom([]backend{{addr: ":8001", w: 0}})
	if err == nil {
		t.Fatal("expect error for zero weight")
	}
}
