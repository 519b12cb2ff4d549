package telemetry_test

import (
	"context"
	"testing"

	watel "github.com/quipp/service-whatsapp/internal/telemetry"
)

func TestMetricsInitialization(t *testing.T) {
	ctx := context.Background()

	// Smoke test: increment each metric and verify no panic
	watel.ConnectionsCreatedCounter.Add(ctx, 1)
	watel.ConnectionsDeletedCounter.Add(ctx, 1)
	watel.ConnectionsOpenedCounter.Add(ctx, 1)
	watel.ConnectionsLoggedOutCounter.Add(ctx, 1)
	watel.ReconnectsScheduledCounter.Add(ctx, 1)
	watel.MessagesPersistedCounter.Add(ctx, 1)
	watel.MessagesFallbackCounter.Add(ctx, 1)
	watel.MessagesDedupedCounter.Add(ctx, 1)
	watel.FallbackDrainedCounter.Add(ctx, 1)
	watel.MessagesSentCounter.Add(ctx, 1)
	watel.EventsBroadcastCounter.Add(ctx, 1)
	watel.EventsDeliveredCounter.Add(ctx, 1)
	watel.EventsDeadLetteredCounter.Add(ctx, 1)

	// Verify histogram can record
	watel.PersistLatencyHistogram.Record(ctx, 42.0)
}

func TestTracersInitialization(t *testing.T) {
	ctx := context.Background()

	// Smoke test: start and end spans
	ctx1, span1 := watel.ConnectionTracer.Start(ctx, "test")
	watel.ConnectionTracer.End(ctx1, span1, nil)

	ctx2, span2 := watel.MessageTracer.Start(ctx, "test")
	watel.MessageTracer.End(ctx2, span2, nil)

	ctx3, span3 := watel.DeliveryTracer.Start(ctx, "test")
	watel.DeliveryTracer.End(ctx3, span3, nil)
}
