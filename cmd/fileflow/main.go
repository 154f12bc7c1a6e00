// FileFlow API
//
// Public upload/download orchestration API. Opens upload sessions, issues
// presigned URLs, accepts external download requests, and exposes the
// outbox admin surface.
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
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.fileflow.dev/internal/api"
	"go.fileflow.dev/internal/common/health"
	"go.fileflow.dev/internal/common/lifecycle"
	commonmongo "go.fileflow.dev/internal/common/mongo"
	"go.fileflow.dev/internal/download"
	downloadops "go.fileflow.dev/internal/download/operations"
	"go.fileflow.dev/internal/outbox"
	"go.fileflow.dev/internal/storage"
	"go.fileflow.dev/internal/upload"
	uploadops "go.fileflow.dev/internal/upload/operations"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	setupLogging()

	slog.Info("Starting FileFlow API",
		"version", version,
		"build_time", buildTime,
		"component", "api")

	ctx := context.Background()

	// ========================================
	// 1. INFRASTRUCTURE INITIALIZATION
	// ========================================
	// Transactions need the wrapped client, so MongoDB is connected below
	// rather than through AppOptions
	app, cleanup, err := lifecycle.Initialize(ctx, lifecycle.AppOptions{})
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	mongoClient, err := commonmongo.Connect(ctx, app.Config.MongoDB)
	if err != nil {
		slog.Error("Failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	app.AddCleanup(func() error { return mongoClient.Disconnect(context.Background()) })

	if err := commonmongo.NewIndexInitializer(mongoClient).Initialize(ctx); err != nil {
		slog.Error("Failed to initialize indexes", "error", err)
		os.Exit(1)
	}

	store, err := storage.NewS3Store(ctx, &storage.S3Config{
		Region:          app.Config.Storage.Region,
		CustomEndpoint:  app.Config.Storage.CustomEndpoint,
		AccessKeyID:     app.Config.Storage.AccessKeyID,
		SecretAccessKey: app.Config.Storage.SecretAccessKey,
		UsePathStyle:    app.Config.Storage.UsePathStyle,
	})
	if err != nil {
		slog.Error("Failed to create object store", "error", err)
		os.Exit(1)
	}

	// ========================================
	// 2. COMPONENT WIRING
	// ========================================
	healthChecker := health.NewChecker()
	healthChecker.AddReadinessCheck(health.MongoDBCheck(func() error {
		return mongoClient.Ping(ctx)
	}))
	healthChecker.AddReadinessCheck(health.ObjectStoreCheck(func() error {
		return store.CheckBucket(ctx, app.Config.Storage.Bucket)
	}))

	db := mongoClient.Database()
	sessions := upload.NewMongoSessionRepository(db)
	multipart := upload.NewMongoMultipartRepository(db)
	downloads := download.NewMongoRepository(db)
	outboxRepo := outbox.NewRepository(db)

	uploadCfg := uploadops.Config{
		Bucket:      app.Config.Storage.Bucket,
		SessionTTL:  app.Config.Upload.SessionTTL,
		PresignTTL:  app.Config.Upload.PresignTTL,
		MaxFileSize: app.Config.Upload.MaxFileSize,
	}

	uploadHandler := api.NewUploadHandler(
		uploadops.NewCreateUploadSessionUseCase(sessions, multipart, store, uploadCfg),
		uploadops.NewInitiateMultipartUseCase(sessions, multipart, store, uploadCfg),
		uploadops.NewMarkPartUploadedUseCase(sessions, multipart),
		uploadops.NewCompleteMultipartUseCase(sessions, multipart, outboxRepo, store, mongoClient),
		uploadops.NewCompleteSingleUploadUseCase(sessions, outboxRepo, store, mongoClient),
		uploadops.NewAbortSessionUseCase(sessions, multipart, store, slog.Default()),
		uploadops.NewGetSessionUseCase(sessions, multipart),
	)

	downloadHandler := api.NewDownloadHandler(
		downloadops.NewRequestExternalDownloadUseCase(downloads, outboxRepo, mongoClient),
		downloadops.NewGetDownloadUseCase(downloads),
		app.Config.Storage.Bucket,
	)

	outboxHandler := api.NewOutboxHandler(outboxRepo)

	httpRouter := setupHTTPRouter(app, healthChecker, uploadHandler, downloadHandler, outboxHandler)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", app.Config.HTTP.Port),
		Handler:      httpRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// ========================================
	// 3. RUN UNTIL SHUTDOWN
	// ========================================
	httpService := lifecycle.NewHTTPService("fileflow-api", httpServer)

	slog.Info("FileFlow API ready", "port", app.Config.HTTP.Port)

	if err := lifecycle.Run(ctx, httpService); err != nil {
		slog.Error("Service error", "error", err)
		os.Exit(1)
	}

	slog.Info("FileFlow API stopped")
}

// setupLogging configures the slog default logger.
func setupLogging() {
	logLevel := slog.LevelInfo
	if os.Getenv("FILEFLOW_DEV") == "true" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// setupHTTPRouter creates the HTTP router with all routes and middleware.
func setupHTTPRouter(
	app *lifecycle.App,
	healthChecker *health.Checker,
	uploadHandler *api.UploadHandler,
	downloadHandler *api.DownloadHandler,
	outboxHandler *api.OutboxHandler,
) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.Config.HTTP.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints
	r.Get("/q/health", healthChecker.HandleHealth)
	r.Get("/q/health/live", healthChecker.HandleLive)
	r.Get("/q/health/ready", healthChecker.HandleReady)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/q/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/upload-sessions", uploadHandler.Routes())
		r.Mount("/external-downloads", downloadHandler.Routes())
		r.Mount("/outbox", outboxHandler.Routes())
	})

	return r
}
