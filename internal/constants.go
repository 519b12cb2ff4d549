package internal

const (
	HeaderConnectionID = "connection_id"
	HeaderOwnerID      = "owner_id"
	HeaderEventType    = "event_type"
	HeaderShardID      = "shard_id"
	HeaderRetryCount   = "retry_count"

	// Dead-letter queue headers
	HeaderDLQOriginalQueue = "dlq_original_queue"
	HeaderDLQErrorMessage  = "dlq_error_message"
)
