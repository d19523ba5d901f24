// Package weighted expands a weighted collection of elements into a
// load-balance-ready sequence: element multiplicities in the output are
// proportional to the input weights, using the smallest integer ratios that
// preserve the proportions.
//
// Weights sharing common prime factors are divided by their GCD before
// expansion, so weights {10, 20, 30} produce 6 elements rather than 60.
package weighted

import (
	"fmt"
	"math/rand"
)

// Weighted is implemented by anything carrying a load-balancing weight.
// Weights must be strictly positive.
type Weighted interface {
	Weight() int
}

// ExpandToLoadBalanced expands items into a randomly shuffled sequence whose
// element multiplicities are proportional to the item weights.
// Any non-positive weight is rejected before any expansion happens.
func ExpandToLoadBalanced[T Weighted](items []T) ([]T, error) {
	return ExpandFunc(items, func(item T) int { return item.Weight() })
}

// ExpandFunc is ExpandToLoadBalanced with the weight supplied by a function,
// for element types that don't implement Weighted themselves.
func ExpandFunc[T any](items []T, weight func(T) int) ([]T, error) {
	weights := make([]int, len(items))
	hasUnit := false
	for i, item := range items {
		w := weight(item)
		if w <= 0 {
			return nil, fmt.Errorf("weighted: non-positive weight %d for element %d", w, i)
		}
		if w == 1 {
			hasUnit = true
		}
		weights[i] = w
	}

	// A unit weight means the ratios are already minimal.
	if !hasUnit && len(weights) > 0 {
		weights = sanitize(weights)
	}

	var out []T
	for i, item := range items {
		for n := 0; n < weights[i]; n++ {
			out = append(out, item)
		}
	}
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out, nil
}

// sanitize divides every weight by the greatest common divisor of all
// weights, computed prime by prime: for every prime present in all
// factorizations, the minimum exponent across the weights is subtracted from
// each. Primes missing from any weight keep their exponents untouched.
func sanitize(weights []int) []int {
	factors := make([]map[int]int, len(weights))
	for i, w := range weights {
		factors[i] = factorize(w)
	}

	for p, min := range factors[0] {
		for _, f := range factors[1:] {
			e, ok := f[p]
			if !ok {
				min = 0
				break
			}
			if e < min {
				min = e
			}
		}
		if min == 0 {
			continue
		}
		for _, f := range factors {
			f[p] -= min
		}
	}

	out := make([]int, len(weights))
	for i, f := range factors {
		w := 1
		for p, e := range f {
			for n := 0; n < e; n++ {
				w *= p
			}
		}
		out[i] = w
	}
	return out
}

// factorize returns the prime factorization of n as prime → exponent.
func factorize(n int) map[int]int {
	f := make(map[int]int)
	for p := 2; p*p <= n; p++ {
		for n%p == 0 {
			f[p]++
			n /= p
		}
	}
	if n > 1 {
		f[n]++
	}
	return f
}
