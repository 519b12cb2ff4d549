package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pitabwire/frame/config"
)

type WhatsAppConfig struct {
	config.ConfigurationDefault

	// Owner used for requests that carry no authenticated subject.
	DefaultOwnerID string `envDefault:"" env:"DEFAULT_OWNER_ID"`

	// Upstream whatsapp socket bridge endpoint.
	WhatsAppBridgeURI string `envDefault:"ws://localhost:9400" env:"WHATSAPP_BRIDGE_URI"`

	// Live connection registry capacity.
	MaxConnections int `envDefault:"1000" env:"MAX_CONNECTIONS"`

	// Session lifecycle timings.
	ReconnectDelaySeconds    int `envDefault:"5"  env:"RECONNECT_DELAY_SECONDS"`
	ConnectTimeoutSeconds    int `envDefault:"60" env:"CONNECT_TIMEOUT_SECONDS"`
	SendTimeoutSeconds       int `envDefault:"30" env:"SEND_TIMEOUT_SECONDS"`
	KeepAliveIntervalSeconds int `envDefault:"30" env:"KEEP_ALIVE_INTERVAL_SECONDS"`

	// Best-effort history backfill when a session opens.
	HistoryBackfillLimit int `envDefault:"50" env:"HISTORY_BACKFILL_LIMIT"`

	// Read path pagination.
	DefaultPageSize int `envDefault:"40"  env:"DEFAULT_PAGE_SIZE"`
	MaxPageSize     int `envDefault:"200" env:"MAX_PAGE_SIZE"`

	QueueEventDeliveryName string   `envDefault:"whatsapp.event.delivery.%d"    env:"QUEUE_EVENT_DELIVERY_NAME"`
	QueueEventDeliveryURI  []string `envDefault:"mem://whatsapp.event.delivery.0" env:"QUEUE_EVENT_DELIVERY_URI"`

	ShardCount int `envDefault:"1" env:"SHARD_COUNT"`

	// Dead-letter queue for deliveries that exceed max retries
	QueueDeadLetterName string `envDefault:"dead.letter.queue"       env:"QUEUE_DEAD_LETTER_NAME"`
	QueueDeadLetterURI  string `envDefault:"mem://dead.letter.queue" env:"QUEUE_DEAD_LETTER_URI"`
	MaxDeliveryRetries  int    `envDefault:"5"                       env:"MAX_DELIVERY_RETRIES"`

	// Primary store circuit breaker and fallback cache.
	StoreBreakerMaxFailures      int `envDefault:"5"     env:"STORE_BREAKER_MAX_FAILURES"`
	StoreBreakerResetSeconds     int `envDefault:"30"    env:"STORE_BREAKER_RESET_SECONDS"`
	FallbackCacheCapacity        int `envDefault:"10000" env:"FALLBACK_CACHE_CAPACITY"`
	FallbackDrainIntervalSeconds int `envDefault:"15"    env:"FALLBACK_DRAIN_INTERVAL_SECONDS"`
}

// ReconnectDelay is the fixed wait before a dropped session is redialed.
func (c *WhatsAppConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySeconds) * time.Second
}

// ConnectTimeout bounds the initial session dial.
func (c *WhatsAppConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// SendTimeout bounds a single upstream send.
func (c *WhatsAppConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// FallbackDrainInterval is how often cached writes are retried against the
// primary store.
func (c *WhatsAppConfig) FallbackDrainInterval() time.Duration {
	return time.Duration(c.FallbackDrainIntervalSeconds) * time.Second
}

// Validate checks that the configuration is valid.
// Returns an error if any validation fails.
func (c *WhatsAppConfig) Validate() error {
	var errs []error

	// Validate ShardCount
	if c.ShardCount <= 0 {
		errs = append(errs, errors.New("ShardCount must be > 0"))
	}

	// Validate ShardCount matches delivery queue URIs
	if len(c.QueueEventDeliveryURI) != c.ShardCount {
		errs = append(errs, fmt.Errorf("QueueEventDeliveryURI count (%d) must match ShardCount (%d)",
			len(c.QueueEventDeliveryURI), c.ShardCount))
	}

	if c.MaxConnections <= 0 {
		errs = append(errs, errors.New("MaxConnections must be > 0"))
	}

	if c.ReconnectDelaySeconds <= 0 {
		errs = append(errs, errors.New("ReconnectDelaySeconds must be > 0"))
	}

	if c.DefaultPageSize <= 0 || c.MaxPageSize < c.DefaultPageSize {
		errs = append(errs, errors.New("page sizes must satisfy 0 < DefaultPageSize <= MaxPageSize"))
	}

	// Validate queue URIs
	for i, uri := range c.QueueEventDeliveryURI {
		if err := validateQueueURI(uri, fmt.Sprintf("QueueEventDeliveryURI[%d]", i)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := validateQueueURI(c.QueueDeadLetterURI, "QueueDeadLetterURI"); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// validateQueueURI checks that a queue URI has a valid scheme.
func validateQueueURI(uri, name string) error {
	if uri == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}

	validSchemes := []string{"mem://", "redis://", "amqp://", "nats://", "kafka://"}
	for _, scheme := range validSchemes {
		if strings.HasPrefix(uri, scheme) {
			return nil
		}
	}

	return fmt.Errorf("%s has invalid scheme (must be one of: %s): %s", name, strings.Join(validSchemes, ", "), uri)
}
