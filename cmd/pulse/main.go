package main

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"eventhub/pulse/internal/analytics"
	"eventhub/pulse/internal/handlers"
	"eventhub/pulse/internal/metrics"
	"eventhub/pulse/internal/scheduler"
	"eventhub/pulse/internal/store"
	"eventhub/pulse/internal/websocket"
	"eventhub/pulse/pkg/cache"
	"eventhub/pulse/pkg/config"
	"eventhub/pulse/pkg/database"
	"eventhub/pulse/pkg/kafka"
	"eventhub/pulse/pkg/logging"
	"eventhub/pulse/pkg/monitoring"
	"eventhub/pulse/pkg/server"
	"eventhub/pulse/pkg/version"
)

const snapshotCacheKey = "analytics_snapshot"

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("pulse")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Pulse (Analytics Broadcast Hub)")

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("pulse", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("pulse", version.Version, version.GitCommit)
	serviceMetrics := metrics.New(metricsCollector)

	// Connect to the registration database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = config.RequireEnv("DATABASE_URL")
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	jwtSecret := []byte(config.RequireEnv("JWT_SECRET"))
	serviceToken := config.RequireEnv("SERVICE_TOKEN")

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":  dbConfig.URL,
		"JWT_SECRET":    string(jwtSecret),
		"SERVICE_TOKEN": serviceToken,
	}))

	// Initialize WebSocket hub
	hub := websocket.NewHub(logger, serviceMetrics)
	go hub.Run()

	// Snapshot pipeline: store queries -> builder -> short-TTL cache
	dbQueries, dbQueryDuration := metricsCollector.CreateDatabaseMetrics()
	eventStore := store.New(db, logger).WithQueryMetrics(dbQueries, dbQueryDuration)
	builder := analytics.NewBuilder(eventStore, logger, hub.ClientCount)

	cacheOp := func(op string) func(string) {
		return func(string) { serviceMetrics.CacheOps.WithLabelValues(op).Inc() }
	}
	snapCache := cache.New(cache.MetricsHooks{
		OnHit:   cacheOp("hit"),
		OnMiss:  cacheOp("miss"),
		OnStale: cacheOp("stale"),
		OnStore: cacheOp("store"),
		OnError: cacheOp("error"),
	})

	snapshotTTL := config.GetEnvDuration("SNAPSHOT_CACHE_TTL_SECONDS", 10*time.Second)
	buildSnapshot := func(ctx context.Context) (*analytics.Snapshot, error) {
		value, err := snapCache.GetOrCompute(ctx, snapshotCacheKey, snapshotTTL, func(ctx context.Context) (interface{}, error) {
			return builder.Build(ctx, time.Now().UTC())
		})
		if err != nil {
			return nil, err
		}
		return value.(*analytics.Snapshot), nil
	}
	hub.SetSnapshotProvider(buildSnapshot)

	// Broadcast scheduler with debounced event reaction
	interval := config.GetEnvDuration("BROADCAST_INTERVAL_SECONDS", scheduler.DefaultInterval)
	debounce := config.GetEnvDuration("EVENT_DEBOUNCE_SECONDS", scheduler.DefaultDebounce)
	sched := scheduler.New(logger, serviceMetrics, hub, buildSnapshot, interval, debounce)
	sched.Start()
	defer sched.Stop()

	// Optional Kafka domain-event feed; the HTTP notify endpoint is always on
	if brokersEnv := config.GetEnv("KAFKA_BROKERS", ""); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		groupID := config.GetEnv("KAFKA_GROUP_ID", "pulse-group")
		clientID := config.GetEnv("KAFKA_CLIENT_ID", "pulse")
		topic := config.GetEnv("KAFKA_TOPIC", "domain_events")

		consumer, err := kafka.NewConsumer(brokers, groupID, clientID, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize Kafka consumer")
		}
		defer consumer.Close()

		consumer.AddHandler(topic, func(_ context.Context, msg kafka.Message) error {
			var ev analytics.DomainEvent
			if err := json.Unmarshal(msg.Value, &ev); err != nil {
				// Malformed events are committed; a retry cannot fix them.
				logger.WithError(err).WithField("offset", msg.Offset).Warn("Malformed domain event, skipping")
				return nil
			}
			serviceMetrics.DomainEvents.WithLabelValues(ev.Kind, "kafka").Inc()
			sched.Notify(ev)
			return nil
		})

		healthChecker.AddCheck("kafka", monitoring.KafkaConsumerHealthCheck(consumer.GetClient()))

		kafkaCtx, kafkaCancel := context.WithCancel(context.Background())
		defer kafkaCancel()
		go func() {
			if err := consumer.Start(kafkaCtx); err != nil && kafkaCtx.Err() == nil {
				logger.WithError(err).Error("Kafka consumer error")
			}
		}()

		logger.WithFields(logging.Fields{
			"brokers": brokersEnv,
			"topic":   topic,
			"group":   groupID,
		}).Info("Kafka domain-event feed enabled")
	}

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "pulse", healthChecker, metricsCollector)

	pulseHandlers := handlers.New(logger, serviceMetrics, hub, snapCache, eventStore, sched, buildSnapshot, jwtSecret)
	pulseHandlers.RegisterRoutes(router, serviceToken)

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("pulse", "8090")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
