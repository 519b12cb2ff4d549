package telemetry

import (
	"github.com/pitabwire/frame/telemetry"
)

// Service tracers for different components.
//
//nolint:gochecknoglobals // OpenTelemetry tracers must be global for instrumentation
var (
	ConnectionTracer = telemetry.NewTracer("whatsapp.connection")
	MessageTracer    = telemetry.NewTracer("whatsapp.message")
	DeliveryTracer   = telemetry.NewTracer("whatsapp.delivery")
)
