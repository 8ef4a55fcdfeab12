package engine

import (
	"sort"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestAllocator_StartsAtZero(t *testing.T) {
	a := NewAllocator()
	assert.Equal(t, uint64(0), a.Last())
	assert.Equal(t, uint64(0), a.Allocate())
	assert.Equal(t, uint64(1), a.Allocate())
	assert.Equal(t, uint64(2), a.Allocate())
	assert.Equal(t, uint64(3), a.Last())
}

func TestAllocator_Reinit(t *testing.T) {
	a := NewAllocator()
	a.Allocate()
	a.Allocate()

	a.Reinit()
	assert.Equal(t, uint64(0), a.Last())
	assert.Equal(t, uint64(0), a.Allocate())
}

func TestAllocator_ConcurrentAllocationsAreUnique(t *testing.T) {
	a := NewAllocator()
	const goroutines = 64
	const perGoroutine = 200

	var wg sync.WaitGroup
	results := make([][]uint64, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				results[idx] = append(results[idx], a.Allocate())
			}
		}(i)
	}
	wg.Wait()

	var all []uint64
	for i, r := range results {
		// Each goroutine sees strictly increasing ids.
		assert.True(t, sort.SliceIsSorted(r, func(x, y int) bool { return r[x] < r[y] }), "goroutine %d", i)
		all = append(all, r...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	for i, id := range all {
		if !assert.Equal(t, uint64(i), id) {
			break
		}
	}
}

func TestAllocator_Metrics(t *testing.T) {
	m := NewMetrics()
	a := NewAllocator(WithAllocatorMetrics(m))
	for i := 0; i < 5; i++ {
		a.Allocate()
	}
	assert.Equal(t, 5.0, promtest.ToFloat64(m.TxnsAllocated))
}

func TestProperty_AllocatorHandsOutDenseIDs(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("N concurrent allocations yield exactly 0..N-1", prop.ForAll(
		func(workers, each int) bool {
			a := NewAllocator()
			var mu sync.Mutex
			seen := make(map[uint64]bool)

			var wg sync.WaitGroup
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < each; i++ {
						id := a.Allocate()
						mu.Lock()
						seen[id] = true
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			total := workers * each
			if len(seen) != total {
				return false
			}
			for i := 0; i < total; i++ {
				if !seen[uint64(i)] {
					return false
				}
			}
			return a.Last() == uint64(total)
		},
		gen.IntRange(1, 16),
		gen.IntRange(1, 50),
	))

	properties.Property("reinit restarts at zero", prop.ForAll(
		func(before int) bool {
			a := NewAllocator()
			for i := 0; i < before; i++ {
				a.Allocate()
			}
			a.Reinit()
			return a.Allocate() == 0
		},
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
