// FileFlow Outbox Dispatcher
//
// Standalone dispatcher binary for production deployments. Polls the
// transactional outbox for PENDING records and delivers them: queue-bound
// event types to the task queues, callbacks and webhooks over HTTP.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.fileflow.dev/internal/common/health"
	"go.fileflow.dev/internal/common/leader"
	"go.fileflow.dev/internal/common/lifecycle"
	"go.fileflow.dev/internal/config"
	"go.fileflow.dev/internal/outbox"
	"go.fileflow.dev/internal/queue"
	natsqueue "go.fileflow.dev/internal/queue/nats"
	sqsqueue "go.fileflow.dev/internal/queue/sqs"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Configure logging
	logLevel := slog.LevelInfo
	if os.Getenv("FILEFLOW_DEV") == "true" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting FileFlow Outbox Dispatcher",
		"version", version,
		"build_time", buildTime,
		"component", "outbox")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Phased shutdown: HTTP drains first, then the dispatcher, then the
	// leader lock is released and connections closed
	shutdown := lifecycle.NewManager()

	// Initialize health checker
	healthChecker := health.NewChecker()

	// Initialize MongoDB connection
	slog.Info("Connecting to MongoDB", "uri", maskURI(cfg.MongoDB.URI))
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDB.URI))
	if err != nil {
		slog.Error("Failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	shutdown.RegisterDatabaseShutdown("mongodb", func(ctx context.Context) error {
		return mongoClient.Disconnect(ctx)
	})

	// Ping MongoDB to verify connection
	if err := mongoClient.Ping(ctx, nil); err != nil {
		slog.Error("Failed to ping MongoDB", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to MongoDB", "database", cfg.MongoDB.Database)

	// Add MongoDB health check
	healthChecker.AddReadinessCheck(health.MongoDBCheck(func() error {
		return mongoClient.Ping(ctx, nil)
	}))

	db := mongoClient.Database(cfg.MongoDB.Database)
	repo := outbox.NewRepository(db)

	// Queue sink for task-bound event types
	queueSink, closeQueue, err := createQueueSink(ctx, cfg)
	if err != nil {
		slog.Error("Failed to create queue sink", "error", err)
		os.Exit(1)
	}
	shutdown.RegisterQueueShutdown("queue-sink", func(ctx context.Context) error {
		closeQueue()
		return nil
	})

	// Webhook sink for HTTP-bound event types
	webhookSink := outbox.NewWebhookSink(30 * time.Second)

	dispatcherConfig := &outbox.DispatcherConfig{
		Enabled:          cfg.Outbox.Enabled,
		PollInterval:     cfg.Outbox.PollInterval,
		BatchSize:        cfg.Outbox.BatchSize,
		DeliveryRate:     cfg.Outbox.DeliveryRate,
		StuckAfter:       cfg.Outbox.StuckAfter,
		RecoveryInterval: cfg.Outbox.RecoveryInterval,
	}

	dispatcher := outbox.NewDispatcher(repo, queueSink, webhookSink, dispatcherConfig)

	// Leader election keeps exactly one dispatcher polling. ClaimPending is
	// atomic either way; election just avoids wasted polls.
	if cfg.Leader.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		shutdown.RegisterDatabaseShutdown("redis", func(ctx context.Context) error {
			return redisClient.Close()
		})

		electorConfig := leader.DefaultRedisElectorConfig("fileflow:outbox:leader")
		if cfg.Leader.InstanceID != "" {
			electorConfig.InstanceID = cfg.Leader.InstanceID
		}
		if cfg.Leader.TTL > 0 {
			electorConfig.TTL = cfg.Leader.TTL
		}
		if cfg.Leader.RefreshInterval > 0 {
			electorConfig.RefreshInterval = cfg.Leader.RefreshInterval
		}

		elector := leader.NewRedisLeaderElector(redisClient, electorConfig)
		dispatcher.WithLeaderElection(elector)
		if err := elector.Start(ctx); err != nil {
			slog.Error("Failed to start leader election", "error", err)
			os.Exit(1)
		}
	}

	if err := dispatcher.Start(ctx); err != nil {
		slog.Error("Failed to start dispatcher", "error", err)
		os.Exit(1)
	}
	// Dispatcher stop also releases the leader lock
	shutdown.RegisterWorkerShutdown("outbox-dispatcher", func(ctx context.Context) error {
		dispatcher.Stop()
		return nil
	})

	healthChecker.AddReadinessCheck(health.DispatcherCheck(dispatcher.IsRunning, dispatcher.IsPrimary))

	slog.Info("Outbox dispatcher started",
		"pollInterval", dispatcherConfig.PollInterval,
		"batchSize", dispatcherConfig.BatchSize,
		"deliveryRate", dispatcherConfig.DeliveryRate,
		"leaderElection", cfg.Leader.Enabled)

	// Set up HTTP router for health/metrics only
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/q/health", healthChecker.HandleHealth)
	r.Get("/q/health/live", healthChecker.HandleLive)
	r.Get("/q/health/ready", healthChecker.HandleReady)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/q/metrics", promhttp.Handler())

	// Dispatcher status endpoint
	r.Get("/outbox/status", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"enabled":%v,"primary":%v,"lastPoll":"%s","pollInterval":"%s","batchSize":%d}`,
			dispatcherConfig.Enabled,
			dispatcher.IsPrimary(),
			dispatcher.LastPollTime().Format(time.RFC3339),
			dispatcherConfig.PollInterval,
			dispatcherConfig.BatchSize)
	})

	// Start HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdown.RegisterHTTPShutdown("outbox-http", server.Shutdown)

	go func() {
		slog.Info("HTTP server starting", "port", cfg.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
			shutdown.Shutdown()
		}
	}()

	// Block until SIGINT/SIGTERM, then run the phased shutdown
	if err := shutdown.Run(); err != nil {
		slog.Error("Graceful shutdown incomplete", "error", err)
	}

	slog.Info("FileFlow Outbox Dispatcher stopped")
}

// createQueueSink builds the sink delivering queue-bound records for the
// configured backend. SQS needs one publisher per task queue; NATS routes by
// subject within one stream.
func createQueueSink(ctx context.Context, cfg *config.Config) (outbox.Sink, func(), error) {
	subjects := map[outbox.EventType]string{
		outbox.EventTypeDownloadRequested: queue.SubjectExternalDownload,
		outbox.EventTypeFileProcessing:    queue.SubjectFileProcessing,
	}

	switch cfg.Queue.Type {
	case "nats":
		client, err := natsqueue.NewClient(&queue.NATSConfig{
			URL:        cfg.Queue.NATS.URL,
			StreamName: cfg.Queue.NATS.StreamName,
			Subjects:   []string{"fileflow.>"},
		})
		if err != nil {
			return nil, nil, err
		}
		if err := client.EnsureStream(ctx); err != nil {
			client.Close()
			return nil, nil, err
		}
		return outbox.NewQueueSink(client.Publisher(), subjects), func() { client.Close() }, nil

	case "sqs", "":
		sc := cfg.Queue.SQS
		if sc.DownloadQueueURL == "" || sc.ProcessingQueueURL == "" {
			return nil, nil, fmt.Errorf("SQS queue URLs for download and processing are required")
		}
		client, err := sqsqueue.NewClientWithConfig(ctx, &sqsqueue.ClientConfig{
			QueueConfig: &queue.SQSConfig{
				Region: sc.Region,
			},
			CustomEndpoint:  sc.CustomEndpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
		})
		if err != nil {
			return nil, nil, err
		}
		publishers := map[outbox.EventType]queue.Publisher{
			outbox.EventTypeDownloadRequested: client.PublisherFor(sc.DownloadQueueURL),
			outbox.EventTypeFileProcessing:    client.PublisherFor(sc.ProcessingQueueURL),
		}
		return outbox.NewMultiQueueSink(publishers, subjects), func() { client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown queue type %q", cfg.Queue.Type)
	}
}

// maskURI masks sensitive parts of a MongoDB URI for logging
func maskURI(uri string) string {
	if len(uri) > 20 {
		return uri[:20] + "..."
	}
	return uri
}
