// FileFlow Worker
//
// Consumes the task queues: external downloads, post-upload file processing,
// and scheduled crawl tasks, plus their dead letter queues. Also runs the
// periodic expiry sweep over stale upload sessions.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"go.fileflow.dev/internal/common/health"
	"go.fileflow.dev/internal/common/lifecycle"
	"go.fileflow.dev/internal/common/lock"
	commonmongo "go.fileflow.dev/internal/common/mongo"
	"go.fileflow.dev/internal/config"
	"go.fileflow.dev/internal/download"
	downloadops "go.fileflow.dev/internal/download/operations"
	"go.fileflow.dev/internal/outbox"
	"go.fileflow.dev/internal/queue"
	natsqueue "go.fileflow.dev/internal/queue/nats"
	sqsqueue "go.fileflow.dev/internal/queue/sqs"
	"go.fileflow.dev/internal/scheduler"
	"go.fileflow.dev/internal/storage"
	"go.fileflow.dev/internal/upload"
	uploadops "go.fileflow.dev/internal/upload/operations"
	"go.fileflow.dev/internal/worker"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	setupLogging()

	slog.Info("Starting FileFlow Worker",
		"version", version,
		"build_time", buildTime,
		"component", "worker")

	ctx := context.Background()

	// ========================================
	// 1. INFRASTRUCTURE INITIALIZATION
	// ========================================
	app, cleanup, err := lifecycle.Initialize(ctx, lifecycle.AppOptions{})
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer cleanup()
	cfg := app.Config

	mongoClient, err := commonmongo.Connect(ctx, cfg.MongoDB)
	if err != nil {
		slog.Error("Failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	app.AddCleanup(func() error { return mongoClient.Disconnect(context.Background()) })

	store, err := storage.NewS3Store(ctx, &storage.S3Config{
		Region:          cfg.Storage.Region,
		CustomEndpoint:  cfg.Storage.CustomEndpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		UsePathStyle:    cfg.Storage.UsePathStyle,
	})
	if err != nil {
		slog.Error("Failed to create object store", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	app.AddCleanup(redisClient.Close)
	locks := lock.NewRedisCoordinator(redisClient, "fileflow:lock:")

	consumers, err := createConsumers(ctx, cfg)
	if err != nil {
		slog.Error("Failed to create queue consumers", "error", err)
		os.Exit(1)
	}
	app.AddCleanup(consumers.close)

	// ========================================
	// 2. COMPONENT WIRING
	// ========================================
	db := mongoClient.Database()
	sessions := upload.NewMongoSessionRepository(db)
	multipart := upload.NewMongoMultipartRepository(db)
	downloads := download.NewMongoRepository(db)
	outboxRepo := outbox.NewRepository(db)

	processDownload := downloadops.NewProcessExternalDownloadUseCase(downloads, store, cfg.Worker.DownloadTimeout)
	markFailed := downloadops.NewMarkDownloadFailedUseCase(downloads)
	requestDownload := downloadops.NewRequestExternalDownloadUseCase(downloads, outboxRepo, mongoClient)
	expireSessions := uploadops.NewExpireStaleSessionsUseCase(sessions, multipart, store, slog.Default())

	services := []lifecycle.Service{
		consumerService(worker.ExternalDownloadConsumerName,
			worker.NewExternalDownloadConsumer(consumers.download, locks, processDownload)),
		consumerService(worker.FileProcessingConsumerName,
			worker.NewFileProcessingConsumer(consumers.processing, locks, sessions, worker.NewPassthroughProcessor(store))),
		consumerService(worker.CrawlConsumerName,
			worker.NewCrawlTaskConsumer(consumers.crawl, locks,
				worker.NewCrawlTaskHandler(requestDownload, cfg.Storage.Bucket, cfg.Worker.CrawlTimeout))),
		sweepService(expireSessions, cfg.Upload.ExpirySweepInterval),
	}

	if consumers.downloadDLQ != nil {
		services = append(services, dlqService(worker.DownloadDLQConsumerName,
			worker.NewDownloadDLQConsumer(consumers.downloadDLQ, markFailed)))
	}
	if consumers.processingDLQ != nil {
		services = append(services, dlqService(worker.FileProcessingDLQConsumerName,
			worker.NewFileProcessingDLQConsumer(consumers.processingDLQ, sessions)))
	}

	// Crawl scheduler, leader-gated so only one worker publishes tasks
	if cfg.Scheduler.Enabled {
		crawlScheduler := scheduler.NewScheduler(db, downloads, consumers.crawlPublisher, &scheduler.SchedulerConfig{
			PollInterval:     cfg.Scheduler.PollInterval,
			BatchSize:        cfg.Scheduler.BatchSize,
			LagCheckInterval: time.Minute,
			LeaderElection: scheduler.LeaderElectionConfig{
				Enabled:         cfg.Leader.Enabled,
				InstanceID:      cfg.Leader.InstanceID,
				TTL:             cfg.Leader.TTL,
				RefreshInterval: cfg.Leader.RefreshInterval,
			},
		})
		services = append(services, lifecycle.NewServiceFunc("crawl-scheduler",
			func(ctx context.Context) error {
				crawlScheduler.Start()
				<-ctx.Done()
				return nil
			},
			func(ctx context.Context) error {
				crawlScheduler.Stop()
				return nil
			},
		))
	}

	// Health and metrics endpoint
	healthChecker := health.NewChecker()
	healthChecker.AddReadinessCheck(health.MongoDBCheck(func() error {
		return mongoClient.Ping(ctx)
	}))
	healthChecker.AddReadinessCheck(health.RedisCheck(func() error {
		return redisClient.Ping(ctx).Err()
	}))
	services = append(services, lifecycle.NewHTTPService("worker-http", &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      setupHTTPRouter(healthChecker),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}))

	// ========================================
	// 3. RUN UNTIL SHUTDOWN
	// ========================================
	slog.Info("FileFlow Worker ready",
		"queueType", cfg.Queue.Type,
		"sweepInterval", cfg.Upload.ExpirySweepInterval)

	if err := lifecycle.Run(ctx, services...); err != nil {
		slog.Error("Service error", "error", err)
		os.Exit(1)
	}

	slog.Info("FileFlow Worker stopped")
}

// setupLogging configures the slog default logger.
func setupLogging() {
	logLevel := slog.LevelInfo
	if os.Getenv("FILEFLOW_DEV") == "true" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// queueConsumers holds one consumer per task queue. The DLQ consumers are nil
// when no DLQ is configured (NATS handles redelivery budgets in the stream).
type queueConsumers struct {
	download      queue.Consumer
	downloadDLQ   queue.Consumer
	processing    queue.Consumer
	processingDLQ queue.Consumer
	crawl         queue.Consumer

	// crawlPublisher feeds the crawl queue; used by the crawl scheduler
	crawlPublisher queue.Publisher

	close func() error
}

// createConsumers builds the task queue consumers for the configured backend.
func createConsumers(ctx context.Context, cfg *config.Config) (*queueConsumers, error) {
	switch cfg.Queue.Type {
	case "nats":
		return createNATSConsumers(ctx, cfg)
	case "sqs", "":
		return createSQSConsumers(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown queue type %q", cfg.Queue.Type)
	}
}

func createSQSConsumers(ctx context.Context, cfg *config.Config) (*queueConsumers, error) {
	sc := cfg.Queue.SQS
	if sc.DownloadQueueURL == "" || sc.ProcessingQueueURL == "" || sc.CrawlQueueURL == "" {
		return nil, errors.New("SQS queue URLs for download, processing, and crawl are required")
	}

	client, err := sqsqueue.NewClientWithConfig(ctx, &sqsqueue.ClientConfig{
		QueueConfig: &queue.SQSConfig{
			Region:            sc.Region,
			WaitTimeSeconds:   int32(sc.WaitTimeSeconds),
			VisibilityTimeout: int32(sc.VisibilityTimeout),
		},
		CustomEndpoint:  sc.CustomEndpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}

	qc := &queueConsumers{close: client.Close}

	if qc.download, err = client.CreateConsumer(ctx, worker.ExternalDownloadConsumerName, sc.DownloadQueueURL); err != nil {
		return nil, err
	}
	if qc.processing, err = client.CreateConsumer(ctx, worker.FileProcessingConsumerName, sc.ProcessingQueueURL); err != nil {
		return nil, err
	}
	if qc.crawl, err = client.CreateConsumer(ctx, worker.CrawlConsumerName, sc.CrawlQueueURL); err != nil {
		return nil, err
	}
	qc.crawlPublisher = client.PublisherFor(sc.CrawlQueueURL)
	if sc.DownloadDLQURL != "" {
		if qc.downloadDLQ, err = client.CreateConsumer(ctx, worker.DownloadDLQConsumerName, sc.DownloadDLQURL); err != nil {
			return nil, err
		}
	}
	if sc.ProcessingDLQURL != "" {
		if qc.processingDLQ, err = client.CreateConsumer(ctx, worker.FileProcessingDLQConsumerName, sc.ProcessingDLQURL); err != nil {
			return nil, err
		}
	}

	return qc, nil
}

func createNATSConsumers(ctx context.Context, cfg *config.Config) (*queueConsumers, error) {
	nc := cfg.Queue.NATS
	client, err := natsqueue.NewClient(&queue.NATSConfig{
		URL:          nc.URL,
		StreamName:   nc.StreamName,
		ConsumerName: nc.ConsumerName,
		Subjects:     []string{"fileflow.>"},
	})
	if err != nil {
		return nil, err
	}
	if err := client.EnsureStream(ctx); err != nil {
		return nil, err
	}

	qc := &queueConsumers{close: client.Close}

	if qc.download, err = client.CreateConsumer(ctx, worker.ExternalDownloadConsumerName, queue.SubjectExternalDownload); err != nil {
		return nil, err
	}
	if qc.processing, err = client.CreateConsumer(ctx, worker.FileProcessingConsumerName, queue.SubjectFileProcessing); err != nil {
		return nil, err
	}
	if qc.crawl, err = client.CreateConsumer(ctx, worker.CrawlConsumerName, queue.SubjectCrawlTask); err != nil {
		return nil, err
	}
	qc.crawlPublisher = client.Publisher()

	return qc, nil
}

// consumerService wraps a locked consumer as a supervised service.
func consumerService(name string, c *worker.LockedConsumer) lifecycle.Service {
	return lifecycle.NewServiceFunc(name,
		func(ctx context.Context) error {
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
		func(ctx context.Context) error { return c.Close() },
	)
}

// dlqService wraps a DLQ consumer as a supervised service.
func dlqService(name string, c *worker.DLQConsumer) lifecycle.Service {
	return lifecycle.NewServiceFunc(name,
		func(ctx context.Context) error {
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
		func(ctx context.Context) error { return c.Close() },
	)
}

// sweepService runs the expiry sweep on a fixed interval.
func sweepService(uc *uploadops.ExpireStaleSessionsUseCase, interval time.Duration) lifecycle.Service {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return lifecycle.NewServiceFunc("expiry-sweep",
		func(ctx context.Context) error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					result := uc.Execute(ctx)
					if result.IsFailure() {
						slog.Error("Expiry sweep failed", "error", result.Error)
					}
				}
			}
		},
		func(ctx context.Context) error { return nil },
	)
}

// setupHTTPRouter serves health and metrics for the worker.
func setupHTTPRouter(healthChecker *health.Checker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/q/health", healthChecker.HandleHealth)
	r.Get("/q/health/live", healthChecker.HandleLive)
	r.Get("/q/health/ready", healthChecker.HandleReady)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/q/metrics", promhttp.Handler())

	return r
}
