package loadbalance

import (
	"context"
	"sync/atomic"
)

// node is one element of the circular singly-linked ring.
type node[T any] struct {
	instance T
	next     *node[T]
}

// roundRobin cycles through instances in insertion order. The cursor advance
// is a single compare-and-swap, so no two concurrent calls ever observe the
// same ring position: over any window of N consecutive completions all N
// instances appear exactly once.
type roundRobin[T any] struct {
	cursor atomic.Pointer[node[T]]
}

// NewRoundRobin returns a balancer that returns instances in sequence,
// wrapping around after the last one.
func NewRoundRobin[T any](instances []T) (Balancer[T], error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	head := &node[T]{instance: instances[0]}
	prev := head
	for _, instance := range instances[1:] {
		n := &node[T]{instance: instance}
		prev.next = n
		prev = n
	}
	prev.next = head // close the ring

	rr := &roundRobin[T]{}
	rr.cursor.Store(head)
	return rr, nil
}

func (r *roundRobin[T]) Next(ctx context.Context, req any) (T, error) {
	for {
		cur := r.cursor.Load()
		if r.cursor.CompareAndSwap(cur, cur.next) {
			return cur.instance, nil
		}
	}
}
