package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for FileFlow
type Config struct {
	// HTTP server configuration
	HTTP HTTPConfig

	// MongoDB configuration
	MongoDB MongoDBConfig

	// Queue configuration (SQS or NATS)
	Queue QueueConfig

	// Redis configuration (locks, leader election)
	Redis RedisConfig

	// Storage configuration (object store)
	Storage StorageConfig

	// Upload session configuration
	Upload UploadConfig

	// Outbox dispatcher configuration
	Outbox OutboxConfig

	// Worker configuration
	Worker WorkerConfig

	// Crawl scheduler configuration
	Scheduler SchedulerConfig

	// Leader election configuration
	Leader LeaderConfig

	// Development mode
	DevMode bool
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port        int
	CORSOrigins []string
}

// MongoDBConfig holds MongoDB connection configuration
type MongoDBConfig struct {
	URI      string
	Database string
}

// QueueConfig holds queue configuration
type QueueConfig struct {
	Type string // "sqs", "nats"

	NATS NATSConfig
	SQS  SQSConfig
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL          string
	StreamName   string
	ConsumerName string
}

// SQSConfig holds AWS SQS configuration. Each task family has its own queue
// with a redrive policy pointing at its DLQ.
type SQSConfig struct {
	Region         string
	CustomEndpoint string // LocalStack in development

	DownloadQueueURL   string
	DownloadDLQURL     string
	ProcessingQueueURL string
	ProcessingDLQURL   string
	CrawlQueueURL      string

	WaitTimeSeconds   int
	VisibilityTimeout int
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// StorageConfig holds object store configuration
type StorageConfig struct {
	Region          string
	Bucket          string
	CustomEndpoint  string // MinIO/LocalStack in development
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// UploadConfig holds upload session configuration
type UploadConfig struct {
	// SessionTTL is how long a session may stay open before expiry
	SessionTTL time.Duration

	// PresignTTL is the lifetime of presigned upload URLs
	PresignTTL time.Duration

	// MaxFileSize rejects absurd declared sizes (0 = unlimited)
	MaxFileSize int64

	// ExpirySweepInterval is how often the worker expires stale sessions
	ExpirySweepInterval time.Duration
}

// OutboxConfig holds outbox dispatcher configuration
type OutboxConfig struct {
	// Enabled controls whether this instance runs the dispatcher
	Enabled bool

	// PollInterval is the delay between poll cycles
	PollInterval time.Duration

	// BatchSize is how many records one poll claims
	BatchSize int

	// DeliveryRate caps deliveries per second (0 = unlimited)
	DeliveryRate float64

	// StuckAfter is how long a PROCESSING record may sit before recovery
	StuckAfter time.Duration

	// RecoveryInterval is how often stuck records are recovered
	RecoveryInterval time.Duration
}

// WorkerConfig holds queue worker configuration
type WorkerConfig struct {
	// DownloadTimeout bounds one external fetch
	DownloadTimeout time.Duration

	// CrawlTimeout bounds one seller listing fetch
	CrawlTimeout time.Duration
}

// LeaderConfig holds leader election configuration
type LeaderConfig struct {
	// Enabled controls whether leader election is active
	Enabled bool

	// InstanceID uniquely identifies this instance (defaults to HOSTNAME)
	InstanceID string

	// TTL is how long the lock is valid before expiring
	TTL time.Duration

	// RefreshInterval is how often to refresh the lock while primary
	RefreshInterval time.Duration
}

// SchedulerConfig holds crawl scheduler configuration
type SchedulerConfig struct {
	// Enabled controls whether this instance runs the crawl scheduler
	Enabled bool

	// PollInterval is how often due schedules are polled
	PollInterval time.Duration

	// BatchSize is the maximum schedules handled per poll
	BatchSize int
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Port:        getEnvInt("HTTP_PORT", 8080),
			CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:4200"}),
		},

		MongoDB: MongoDBConfig{
			URI:      getEnv("MONGODB_URI", "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true"),
			Database: getEnv("MONGODB_DATABASE", "fileflow"),
		},

		Queue: QueueConfig{
			Type: getEnv("QUEUE_TYPE", "sqs"),
			NATS: NATSConfig{
				URL:          getEnv("NATS_URL", "nats://localhost:4222"),
				StreamName:   getEnv("NATS_STREAM", "FILEFLOW"),
				ConsumerName: getEnv("NATS_CONSUMER", "fileflow-worker"),
			},
			SQS: SQSConfig{
				Region:             getEnv("AWS_REGION", "us-east-1"),
				CustomEndpoint:     getEnv("SQS_ENDPOINT", ""),
				DownloadQueueURL:   getEnv("SQS_DOWNLOAD_QUEUE_URL", ""),
				DownloadDLQURL:     getEnv("SQS_DOWNLOAD_DLQ_URL", ""),
				ProcessingQueueURL: getEnv("SQS_PROCESSING_QUEUE_URL", ""),
				ProcessingDLQURL:   getEnv("SQS_PROCESSING_DLQ_URL", ""),
				CrawlQueueURL:      getEnv("SQS_CRAWL_QUEUE_URL", ""),
				WaitTimeSeconds:    getEnvInt("SQS_WAIT_TIME_SECONDS", 20),
				VisibilityTimeout:  getEnvInt("SQS_VISIBILITY_TIMEOUT", 120),
			},
		},

		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},

		Storage: StorageConfig{
			Region:          getEnv("S3_REGION", getEnv("AWS_REGION", "us-east-1")),
			Bucket:          getEnv("S3_BUCKET", "fileflow-uploads"),
			CustomEndpoint:  getEnv("S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			UsePathStyle:    getEnvBool("S3_USE_PATH_STYLE", false),
		},

		Upload: UploadConfig{
			SessionTTL:          getEnvDuration("UPLOAD_SESSION_TTL", 24*time.Hour),
			PresignTTL:          getEnvDuration("UPLOAD_PRESIGN_TTL", 15*time.Minute),
			MaxFileSize:         getEnvInt64("UPLOAD_MAX_FILE_SIZE", 0),
			ExpirySweepInterval: getEnvDuration("UPLOAD_EXPIRY_SWEEP_INTERVAL", 5*time.Minute),
		},

		Outbox: OutboxConfig{
			Enabled:          getEnvBool("OUTBOX_DISPATCHER_ENABLED", true),
			PollInterval:     getEnvDuration("OUTBOX_POLL_INTERVAL", time.Second),
			BatchSize:        getEnvInt("OUTBOX_BATCH_SIZE", 100),
			DeliveryRate:     getEnvFloat("OUTBOX_DELIVERY_RATE", 200),
			StuckAfter:       getEnvDuration("OUTBOX_STUCK_AFTER", 5*time.Minute),
			RecoveryInterval: getEnvDuration("OUTBOX_RECOVERY_INTERVAL", time.Minute),
		},

		Worker: WorkerConfig{
			DownloadTimeout: getEnvDuration("WORKER_DOWNLOAD_TIMEOUT", 5*time.Minute),
			CrawlTimeout:    getEnvDuration("WORKER_CRAWL_TIMEOUT", 30*time.Second),
		},

		Scheduler: SchedulerConfig{
			Enabled:      getEnvBool("SCHEDULER_ENABLED", false),
			PollInterval: getEnvDuration("SCHEDULER_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getEnvInt("SCHEDULER_BATCH_SIZE", 100),
		},

		Leader: LeaderConfig{
			Enabled:         getEnvBool("LEADER_ELECTION_ENABLED", false),
			InstanceID:      getEnv("HOSTNAME", ""),
			TTL:             getEnvDuration("LEADER_TTL", 30*time.Second),
			RefreshInterval: getEnvDuration("LEADER_REFRESH_INTERVAL", 10*time.Second),
		},

		DevMode: getEnvBool("FILEFLOW_DEV", false),
	}

	return cfg, nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, ok := os.LookupEnv(key); ok {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.Split(value, ",")
	}
	return defaultValue
}
