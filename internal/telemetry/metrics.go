// Package telemetry provides OpenTelemetry metrics and tracing for the whatsapp service.
package telemetry

import "github.com/pitabwire/frame/telemetry"

// Connection metrics track session lifecycle operations.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	ConnectionsCreatedCounter = telemetry.DimensionlessMeasure(
		"",
		"whatsapp.connections.created",
		"Total connections created",
	)

	ConnectionsDeletedCounter = telemetry.DimensionlessMeasure(
		"",
		"whatsapp.connections.deleted",
		"Total connections deleted",
	)

	ConnectionsOpenedCounter = telemetry.DimensionlessMeasure(
		"",
		"whatsapp.connections.opened",
		"Total sessions that reached the open state",
	)

	ConnectionsLoggedOutCounter = telemetry.DimensionlessMeasure(
		"",
		"whatsapp.connections.logged_out",
		"Total sessions terminated by upstream logout",
	)

	ReconnectsScheduledCounter = telemetry.DimensionlessMeasure(
		"",
		"whatsapp.connections.reconnects",
		"Total reconnect attempts scheduled",
	)
)

// Durability metrics track the message write path.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	MessagesPersistedCounter = telemetry.DimensionlessMeasure(
		"",
		"whatsapp.messages.persisted",
		"Total messages written to the primary store",
	)

	MessagesFallbackCounter = telemetry.DimensionlessMeasure(
		"",
		"whatsapp.messages.fallback",
		"Total messages diverted to the fallback cache",
	)

	MessagesDedupedCounter = telemetry.DimensionlessMeasure(
		"",
		"whatsapp.messages.deduped",
		"Total duplicate message events dropped",
	)

	FallbackDrainedCounter = telemetry.DimensionlessMeasure(
		"",
		"whatsapp.messages.fallback_drained",
		"Total fallback entries drained into the primary store",
	)

	MessagesSentCounter = telemetry.DimensionlessMeasure(
		"",
		"whatsapp.messages.sent",
		"Total outbound messages sent upstream",
	)

	PersistLatencyHistogram = telemetry.LatencyMeasure(
		"whatsapp.persist",
	)
)

// Fan-out metrics track the realtime delivery pipeline.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	EventsBroadcastCounter = telemetry.DimensionlessMeasure(
		"",
		"whatsapp.events.broadcast",
		"Total events published for fan-out",
	)

	EventsDeliveredCounter = telemetry.DimensionlessMeasure(
		"",
		"whatsapp.events.delivered",
		"Total events delivered to websocket subscribers",
	)

	EventsDeadLetteredCounter = telemetry.DimensionlessMeasure(
		"",
		"whatsapp.events.dead_lettered",
		"Total events sent to the dead letter queue",
	)
)
