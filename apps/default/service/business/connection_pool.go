package business

import (
	"hash/maphash"
	"sync"
	"sync/atomic"
)

const (
	// poolShardCount is the number of shards for the connection pool.
	// Must be a power of 2 for efficient modulo operation.
	poolShardCount = 32
)

// poolShard represents a single shard of the connection pool.
type poolShard struct {
	mu          sync.RWMutex
	connections map[string]*liveConnection
}

// connectionPool holds the live connection entries with sharding for high
// concurrency. Each shard has its own RWMutex so operations on different
// connections rarely contend, and the global size is tracked atomically for
// lock-free capacity checks.
type connectionPool struct {
	shards      [poolShardCount]*poolShard
	hashSeed    maphash.Seed
	maxSize     int32
	currentSize int32 // Atomic access
}

// newConnectionPool creates a sharded connection pool with the specified capacity.
func newConnectionPool(maxSize int32) *connectionPool {
	pool := &connectionPool{
		maxSize:  maxSize,
		hashSeed: maphash.MakeSeed(),
	}

	const minShardCapacity = 8
	shardCapacity := int(maxSize) / poolShardCount
	if shardCapacity < minShardCapacity {
		shardCapacity = minShardCapacity
	}

	for i := range poolShardCount {
		pool.shards[i] = &poolShard{
			connections: make(map[string]*liveConnection, shardCapacity),
		}
	}

	return pool
}

// getShard returns the shard for a given key using maphash (zero-allocation).
func (p *connectionPool) getShard(key string) *poolShard {
	h := maphash.String(p.hashSeed, key)
	return p.shards[h&(poolShardCount-1)]
}

// add inserts a connection into the pool keyed by its id.
// Returns errPoolFull at capacity and errPoolDuplicate when the id is
// already present.
func (p *connectionPool) add(lc *liveConnection) error {
	if atomic.LoadInt32(&p.currentSize) >= p.maxSize {
		return errPoolFull
	}

	shard := p.getShard(lc.id)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, exists := shard.connections[lc.id]; exists {
		return errPoolDuplicate
	}
	shard.connections[lc.id] = lc
	atomic.AddInt32(&p.currentSize, 1)
	return nil
}

// get retrieves a connection from the pool.
func (p *connectionPool) get(id string) (*liveConnection, bool) {
	shard := p.getShard(id)

	shard.mu.RLock()
	lc, exists := shard.connections[id]
	shard.mu.RUnlock()
	return lc, exists
}

// remove deletes a connection from the pool. No-op if absent.
func (p *connectionPool) remove(id string) {
	shard := p.getShard(id)

	shard.mu.Lock()
	if _, exists := shard.connections[id]; exists {
		delete(shard.connections, id)
		atomic.AddInt32(&p.currentSize, -1)
	}
	shard.mu.Unlock()
}

// size returns the current number of connections in the pool.
func (p *connectionPool) size() int32 {
	return atomic.LoadInt32(&p.currentSize)
}

// forEach iterates over all connections, calling fn for each.
// Snapshots per shard so fn never runs under a shard lock.
func (p *connectionPool) forEach(fn func(*liveConnection)) {
	var all []*liveConnection

	for i := range poolShardCount {
		shard := p.shards[i]
		shard.mu.RLock()
		for _, lc := range shard.connections {
			all = append(all, lc)
		}
		shard.mu.RUnlock()
	}

	for _, lc := range all {
		fn(lc)
	}
}
