package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/datastore"
	"github.com/pitabwire/frame/datastore/pool"
	"github.com/pitabwire/util"

	aconfig "github.com/quipp/service-whatsapp/apps/default/config"
	"github.com/quipp/service-whatsapp/apps/default/service/business"
	"github.com/quipp/service-whatsapp/apps/default/service/events"
	"github.com/quipp/service-whatsapp/apps/default/service/fanout"
	"github.com/quipp/service-whatsapp/apps/default/service/handlers"
	"github.com/quipp/service-whatsapp/apps/default/service/queues"
	"github.com/quipp/service-whatsapp/apps/default/service/repository"
	"github.com/quipp/service-whatsapp/apps/default/service/wasession"
	"github.com/quipp/service-whatsapp/internal/health"
)

// runService initializes and starts the whatsapp service with all dependencies.
func runService(ctx context.Context) error {
	// Initialize configuration
	cfg, err := config.LoadWithOIDC[aconfig.WhatsAppConfig](ctx)
	if err != nil {
		util.Log(ctx).With("err", err).Error("could not process configs")
		return err
	}

	if cfg.Name() == "" {
		cfg.ServiceName = "service_whatsapp"
	}

	if err = cfg.Validate(); err != nil {
		util.Log(ctx).WithError(err).Error("invalid configuration")
		return err
	}

	// Create service
	ctx, svc := frame.NewServiceWithContext(
		ctx,
		frame.WithConfig(&cfg),
		frame.WithRegisterServerOauth2Client(),
		frame.WithDatastore(),
	)
	defer svc.Stop(ctx)
	log := svc.Log(ctx)

	queueMan := svc.QueueManager()

	dbManager := svc.DatastoreManager()
	dbPool := dbManager.GetPool(ctx, datastore.DefaultPoolName)

	// Handle database migration if requested
	if handleDatabaseMigration(ctx, svc, cfg) {
		return nil
	}

	connectionRepo := repository.NewConnectionRepository(svc)
	conversationRepo := repository.NewConversationRepository(svc)
	messageRepo := repository.NewMessageRepository(svc)

	hub := fanout.NewHub()
	dialer := wasession.NewBridgeDialer(cfg.WhatsAppBridgeURI)
	broadcaster := events.NewEmitter(svc)

	writer := business.NewDurabilityWriter(ctx, &cfg, conversationRepo, messageRepo, broadcaster)
	registry := business.NewConnectionRegistry(&cfg, connectionRepo, dialer, writer, broadcaster, hub)
	readPath := business.NewReadPath(&cfg, conversationRepo, messageRepo, writer)

	// Setup health checks
	healthHandler := setupHealthChecks(dbPool, registry)

	// Create multiplexer for HTTP handlers
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	handlers.NewAPIServer(&cfg, registry, readPath).Register(mux)
	handlers.NewWSServer(&cfg, registry, hub).Register(mux)

	serviceOptions := []frame.Option{frame.WithHTTPHandler(mux)}

	deadLetterQueuePublisher := frame.WithRegisterPublisher(
		cfg.QueueDeadLetterName,
		cfg.QueueDeadLetterURI,
	)
	serviceOptions = append(serviceOptions, deadLetterQueuePublisher)

	dlp := queues.NewDeadLetterPublisher(&cfg, queueMan)

	for i := range cfg.ShardCount {
		deliveryQueueName := fmt.Sprintf(cfg.QueueEventDeliveryName, i)
		deliveryQueueURI := cfg.QueueEventDeliveryURI[i]

		deliveryQueuePublisher := frame.WithRegisterPublisher(
			deliveryQueueName,
			deliveryQueueURI,
		)
		serviceOptions = append(serviceOptions, deliveryQueuePublisher)

		deliveryQueueSubscriber := frame.WithRegisterSubscriber(
			deliveryQueueName,
			deliveryQueueURI,
			queues.NewRealtimeDeliveryQueueHandler(&cfg, hub, dlp, i),
		)
		serviceOptions = append(serviceOptions, deliveryQueueSubscriber)
	}

	// Register event handlers
	serviceOptions = append(serviceOptions,
		frame.WithRegisterEvents(
			events.NewBroadcastEventHandler(&cfg, queueMan),
		))

	// Initialize the service with all options
	svc.Init(ctx, serviceOptions...)

	if err = registry.RestoreFromStore(ctx); err != nil {
		log.WithError(err).Error("main -- could not restore connections from store")
		return err
	}

	writer.StartDrain(ctx)

	// Start the service
	return svc.Run(ctx, "")
}

func main() {
	ctx := context.Background()
	if err := runService(ctx); err != nil {
		util.Log(ctx).WithError(err).Fatal("could not run service")
	}
}

// setupHealthChecks creates the health check handler with database and
// registry capacity checkers.
func setupHealthChecks(dbPool pool.Pool, registry business.ConnectionRegistry) *health.Handler {
	handler := health.NewHandler()

	dbChecker := health.NewDatabaseChecker(dbPool, 5*time.Second)
	handler.AddChecker(dbChecker)

	capacityChecker := health.NewCapacityChecker("connection_registry", registry.Stats, 0.9)
	handler.AddChecker(capacityChecker)

	return handler
}

// handleDatabaseMigration performs database migration if configured to do so.
func handleDatabaseMigration(
	ctx context.Context,
	svc *frame.Service,
	cfg aconfig.WhatsAppConfig,
) bool {
	if !cfg.DoDatabaseMigrate() {
		return false
	}

	err := repository.Migrate(ctx, svc, cfg.GetDatabaseMigrationPath())
	if err != nil {
		util.Log(ctx).WithError(err).Fatal("main -- Could not migrate successfully")
	}
	return true
}
