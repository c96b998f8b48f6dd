// Package buffer provides a bucketed byte-slice pool for the copy engine
// and data-plane transport, backed by a global byte budget so that no
// number of concurrent streams can push the process past its configured
// memory ceiling.
package buffer

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BytePool provides object pooling for byte slices to reduce GC pressure
type BytePool struct {
	pools map[int]*sync.Pool
	sizes []int
	mu    sync.RWMutex
}

// defaultSizes are the bucket sizes used when none are supplied. They span
// the small-file batching floor up to the chunk size a single stream
// copies in one pass.
var defaultSizes = []int{
	32 * 1024,         // 32KB
	256 * 1024,        // 256KB
	1 * 1024 * 1024,   // 1MB
	4 * 1024 * 1024,   // 4MB
	16 * 1024 * 1024,  // 16MB
	64 * 1024 * 1024,  // 64MB
}

// NewBytePool creates a new byte pool with predefined size buckets
func NewBytePool() *BytePool {
	return NewBytePoolWithSizes(defaultSizes)
}

// NewBytePoolWithSizes creates a byte pool using caller-supplied bucket
// sizes, letting configuration override the defaults for a given link
// class (LAN vs WAN chunking differs by an order of magnitude).
func NewBytePoolWithSizes(sizes []int) *BytePool {
	pools := make(map[int]*sync.Pool, len(sizes))
	for _, size := range sizes {
		size := size // capture loop variable
		pools[size] = &sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		}
	}

	return &BytePool{
		pools: pools,
		sizes: sizes,
	}
}

// Get retrieves a byte slice of at least the specified size
func (p *BytePool) Get(size int) []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()

	// Find the smallest bucket that can accommodate the requested size
	for _, bucketSize := range p.sizes {
		if bucketSize >= size {
			if pool, exists := p.pools[bucketSize]; exists {
				buf := pool.Get().([]byte)
				return buf[:size] // Return slice with requested length
			}
		}
	}

	// If no suitable pool exists, allocate directly
	return make([]byte, size)
}

// BucketSize reports the actual capacity Get(size) would hand back: the
// smallest configured bucket that fits, or size itself when none does (the
// direct-allocation path). Callers that need to account for real memory
// held (rather than requested length) use this instead of size.
func (p *BytePool) BucketSize(size int) int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, bucketSize := range p.sizes {
		if bucketSize >= size {
			return bucketSize
		}
	}
	return size
}

// Put returns a byte slice to the pool for reuse
func (p *BytePool) Put(buf []byte) {
	if buf == nil {
		return
	}

	capacity := cap(buf)

	p.mu.RLock()
	defer p.mu.RUnlock()

	// Find matching pool by capacity
	if pool, exists := p.pools[capacity]; exists {
		// Reset length to capacity before putting back
		buf = buf[:capacity]
		// Store the slice back in the pool
		// nolint:staticcheck // SA6002: sync.Pool.Put requires interface{}, slice allocation is expected
		pool.Put(buf)
	}
	// If no matching pool, let GC handle it
}

// PoolStats reports statistics about pool usage
type PoolStats struct {
	PoolSizes     []int `json:"pool_sizes"`
	TotalPools    int   `json:"total_pools"`
	MaxBufferSize int   `json:"max_buffer_size"`
	MinBufferSize int   `json:"min_buffer_size"`
}

// GetStats returns current pool statistics
func (p *BytePool) GetStats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := PoolStats{
		PoolSizes:  make([]int, len(p.sizes)),
		TotalPools: len(p.pools),
	}

	copy(stats.PoolSizes, p.sizes)

	if len(p.sizes) > 0 {
		stats.MinBufferSize = p.sizes[0]
		stats.MaxBufferSize = p.sizes[len(p.sizes)-1]
	}

	return stats
}

// Pool is the budget-limited buffer pool handed to the copy engine and
// data-plane transport. It wraps a BytePool with a weighted semaphore so
// the sum of outstanding buffers across every worker and stream never
// exceeds the configured byte budget, regardless of how many goroutines
// are copying concurrently.
type Pool struct {
	bytes  *BytePool
	budget *semaphore.Weighted
	total  int64

	mu        sync.Mutex
	inUse     int64
	acquires  uint64
	waits     uint64
}

// NewPool creates a budget-limited pool. budgetBytes bounds the total
// size of buffers that may be checked out at once; bucketSizes configures
// the underlying BytePool's allocation buckets.
func NewPool(budgetBytes int64, bucketSizes []int) *Pool {
	if len(bucketSizes) == 0 {
		bucketSizes = defaultSizes
	}
	return &Pool{
		bytes:  NewBytePoolWithSizes(bucketSizes),
		budget: semaphore.NewWeighted(budgetBytes),
		total:  budgetBytes,
	}
}

// Get blocks until size bytes are available within the budget, then
// returns a buffer of exactly that length. It implements
// types.BufferPool. The caller must call Put once done, or leak budget
// permanently.
func (p *Pool) Get(ctx context.Context, size int) ([]byte, error) {
	reserve := int64(p.bytes.BucketSize(size))

	p.mu.Lock()
	p.acquires++
	wouldBlock := p.inUse+reserve > p.total
	if wouldBlock {
		p.waits++
	}
	p.mu.Unlock()

	if err := p.budget.Acquire(ctx, reserve); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.inUse += reserve
	p.mu.Unlock()

	return p.bytes.Get(size), nil
}

// Put returns buf to the underlying pool and frees its reservation from
// the byte budget. The reservation size is taken from buf's capacity, so
// callers must pass back the exact slice (or a re-sliced view of it)
// that Get or TryGet returned.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	size := int64(cap(buf))

	p.bytes.Put(buf)
	p.budget.Release(size)

	p.mu.Lock()
	p.inUse -= size
	p.mu.Unlock()
}

// TryGet attempts to reserve size bytes without blocking, returning
// ok=false if the budget is currently exhausted.
func (p *Pool) TryGet(size int) (buf []byte, ok bool) {
	reserve := int64(p.bytes.BucketSize(size))
	if !p.budget.TryAcquire(reserve) {
		return nil, false
	}

	p.mu.Lock()
	p.inUse += reserve
	p.mu.Unlock()

	return p.bytes.Get(size), true
}

// Stats reports current pool utilization.
type Stats struct {
	BudgetBytes  int64     `json:"budget_bytes"`
	InUseBytes   int64     `json:"in_use_bytes"`
	Acquires     uint64    `json:"acquires"`
	Waits        uint64    `json:"waits"`
	BucketSizes  PoolStats `json:"buckets"`
}

// GetStats returns current budget and bucket utilization.
func (p *Pool) GetStats() Stats {
	p.mu.Lock()
	inUse, acquires, waits := p.inUse, p.acquires, p.waits
	p.mu.Unlock()

	return Stats{
		BudgetBytes: p.total,
		InUseBytes:  inUse,
		Acquires:    acquires,
		Waits:       waits,
		BucketSizes: p.bytes.GetStats(),
	}
}
