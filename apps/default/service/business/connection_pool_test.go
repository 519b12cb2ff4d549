package business

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTestEntry(id string) *liveConnection {
	return newLiveConnection(id, "owner-1", "desk "+id, time.Now())
}

func TestConnectionPool_NewPool(t *testing.T) {
	pool := newConnectionPool(100)
	require.NotNil(t, pool)
	assert.Equal(t, int32(0), pool.size())
	assert.Equal(t, int32(100), pool.maxSize)

	// All shards should be initialized
	for i := range poolShardCount {
		assert.NotNil(t, pool.shards[i])
		assert.NotNil(t, pool.shards[i].connections)
	}
}

func TestConnectionPool_Add(t *testing.T) {
	pool := newConnectionPool(100)

	err := pool.add(makeTestEntry("conn-1"))
	require.NoError(t, err)

	assert.Equal(t, int32(1), pool.size())
}

func TestConnectionPool_AddMultiple(t *testing.T) {
	pool := newConnectionPool(100)

	for i := range 10 {
		err := pool.add(makeTestEntry(fmt.Sprintf("conn-%d", i)))
		require.NoError(t, err)
	}

	assert.Equal(t, int32(10), pool.size())
}

func TestConnectionPool_AddDuplicate(t *testing.T) {
	pool := newConnectionPool(100)

	require.NoError(t, pool.add(makeTestEntry("conn-1")))

	err := pool.add(makeTestEntry("conn-1"))
	assert.ErrorIs(t, err, errPoolDuplicate)
	assert.Equal(t, int32(1), pool.size())
}

func TestConnectionPool_AddFull(t *testing.T) {
	pool := newConnectionPool(3)

	for i := range 3 {
		require.NoError(t, pool.add(makeTestEntry(fmt.Sprintf("conn-%d", i))))
	}

	err := pool.add(makeTestEntry("conn-extra"))
	assert.ErrorIs(t, err, errPoolFull)
	assert.Equal(t, int32(3), pool.size())
}

func TestConnectionPool_Get(t *testing.T) {
	pool := newConnectionPool(100)

	require.NoError(t, pool.add(makeTestEntry("conn-1")))

	retrieved, ok := pool.get("conn-1")
	assert.True(t, ok)
	require.NotNil(t, retrieved)
	assert.Equal(t, "conn-1", retrieved.id)
	assert.Equal(t, "owner-1", retrieved.ownerID)
}

func TestConnectionPool_GetNonExistent(t *testing.T) {
	pool := newConnectionPool(100)

	retrieved, ok := pool.get("nonexistent")
	assert.False(t, ok)
	assert.Nil(t, retrieved)
}

func TestConnectionPool_Remove(t *testing.T) {
	pool := newConnectionPool(100)

	require.NoError(t, pool.add(makeTestEntry("conn-1")))
	assert.Equal(t, int32(1), pool.size())

	pool.remove("conn-1")
	assert.Equal(t, int32(0), pool.size())

	_, ok := pool.get("conn-1")
	assert.False(t, ok)
}

func TestConnectionPool_RemoveNonExistent(t *testing.T) {
	pool := newConnectionPool(100)

	pool.remove("nonexistent")
	assert.Equal(t, int32(0), pool.size())
}

func TestConnectionPool_RemoveFreesCapacity(t *testing.T) {
	pool := newConnectionPool(2)

	require.NoError(t, pool.add(makeTestEntry("conn-1")))
	require.NoError(t, pool.add(makeTestEntry("conn-2")))

	assert.ErrorIs(t, pool.add(makeTestEntry("conn-3")), errPoolFull)

	pool.remove("conn-1")

	err := pool.add(makeTestEntry("conn-3"))
	assert.NoError(t, err)
	assert.Equal(t, int32(2), pool.size())
}

func TestConnectionPool_ForEach(t *testing.T) {
	pool := newConnectionPool(100)

	expectedIDs := make(map[string]bool)
	for i := range 5 {
		id := fmt.Sprintf("conn-%d", i)
		require.NoError(t, pool.add(makeTestEntry(id)))
		expectedIDs[id] = true
	}

	visitedIDs := make(map[string]bool)
	pool.forEach(func(lc *liveConnection) {
		visitedIDs[lc.id] = true
	})

	assert.Equal(t, expectedIDs, visitedIDs)
}

func TestConnectionPool_ShardDistribution(t *testing.T) {
	pool := newConnectionPool(10000)

	for i := range 1000 {
		require.NoError(t, pool.add(makeTestEntry(fmt.Sprintf("conn-%d", i))))
	}

	shardsUsed := 0
	for i := range poolShardCount {
		pool.shards[i].mu.RLock()
		if len(pool.shards[i].connections) > 0 {
			shardsUsed++
		}
		pool.shards[i].mu.RUnlock()
	}

	// With 1000 connections across 32 shards, we expect most shards to be used
	assert.GreaterOrEqual(t, shardsUsed, 20,
		"expected connections to be distributed across most shards, got %d of %d", shardsUsed, poolShardCount)
}

func TestConnectionPool_SameKeyAlwaysSameShard(t *testing.T) {
	pool := newConnectionPool(100)

	shard1 := pool.getShard("conn-123")
	shard2 := pool.getShard("conn-123")
	shard3 := pool.getShard("conn-123")

	assert.Same(t, shard1, shard2)
	assert.Same(t, shard2, shard3)
}

func TestConnectionPool_ConcurrentAddRemove(t *testing.T) {
	pool := newConnectionPool(10000)

	var wg sync.WaitGroup
	numGoroutines := 100
	numOpsPerGoroutine := 50

	wg.Add(numGoroutines)
	for g := range numGoroutines {
		go func(gID int) {
			defer wg.Done()
			for i := range numOpsPerGoroutine {
				_ = pool.add(makeTestEntry(fmt.Sprintf("conn_%d_%d", gID, i)))
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, int32(numGoroutines*numOpsPerGoroutine), pool.size())

	wg.Add(numGoroutines)
	for g := range numGoroutines {
		go func(gID int) {
			defer wg.Done()
			for i := range numOpsPerGoroutine {
				pool.remove(fmt.Sprintf("conn_%d_%d", gID, i))
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, int32(0), pool.size())
}

func TestConnectionPool_ConcurrentAddAndGet(t *testing.T) {
	pool := newConnectionPool(10000)

	var wg sync.WaitGroup
	numOps := 500

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range numOps {
			_ = pool.add(makeTestEntry(fmt.Sprintf("conn-%d", i)))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range numOps {
			pool.get(fmt.Sprintf("conn-%d", i))
		}
	}()

	wg.Wait()

	assert.Equal(t, int32(numOps), pool.size())
}

func BenchmarkConnectionPool_Add(b *testing.B) {
	pool := newConnectionPool(int32(b.N + 1))
	entries := make([]*liveConnection, b.N)
	for i := range b.N {
		entries[i] = makeTestEntry(fmt.Sprintf("conn-%d", i))
	}

	b.ResetTimer()
	for i := range b.N {
		_ = pool.add(entries[i])
	}
}

func BenchmarkConnectionPool_Get(b *testing.B) {
	pool := newConnectionPool(int32(b.N + 1))
	keys := make([]string, b.N)
	for i := range b.N {
		keys[i] = fmt.Sprintf("conn-%d", i)
		_ = pool.add(makeTestEntry(keys[i]))
	}

	b.ResetTimer()
	for i := range b.N {
		pool.get(keys[i%len(keys)])
	}
}
