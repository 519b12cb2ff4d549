package internal

// FNV-1a 32-bit parameters.
const (
	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619
)

// DeliveryShard maps a connection id onto one of the realtime delivery queue
// shards. The mapping is stable across restarts, so one connection's events
// always flow through the same queue and stay ordered.
//
// shardCount must be > 0.
func DeliveryShard(connectionID string, shardCount int) int {
	if shardCount <= 0 {
		panic("shardCount must be > 0")
	}

	hash := uint32(fnvOffset32)
	for i := range len(connectionID) {
		hash ^= uint32(connectionID[i])
		hash *= fnvPrime32
	}

	return int(hash % uint32(shardCount))
}
