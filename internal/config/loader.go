package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the TOML configuration file structure
type TOMLConfig struct {
	HTTP      TOMLHTTPConfig      `toml:"http"`
	MongoDB   TOMLMongoDBConfig   `toml:"mongodb"`
	Queue     TOMLQueueConfig     `toml:"queue"`
	Redis     TOMLRedisConfig     `toml:"redis"`
	Storage   TOMLStorageConfig   `toml:"storage"`
	Upload    TOMLUploadConfig    `toml:"upload"`
	Outbox    TOMLOutboxConfig    `toml:"outbox"`
	Worker    TOMLWorkerConfig    `toml:"worker"`
	Scheduler TOMLSchedulerConfig `toml:"scheduler"`
	Leader    TOMLLeaderConfig    `toml:"leader"`
	DevMode   bool                `toml:"dev_mode"`
}

// TOMLHTTPConfig represents HTTP configuration in TOML
type TOMLHTTPConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// TOMLMongoDBConfig represents MongoDB configuration in TOML
type TOMLMongoDBConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

// TOMLQueueConfig represents queue configuration in TOML
type TOMLQueueConfig struct {
	Type string         `toml:"type"`
	NATS TOMLNATSConfig `toml:"nats"`
	SQS  TOMLSQSConfig  `toml:"sqs"`
}

// TOMLNATSConfig represents NATS configuration in TOML
type TOMLNATSConfig struct {
	URL          string `toml:"url"`
	StreamName   string `toml:"stream_name"`
	ConsumerName string `toml:"consumer_name"`
}

// TOMLSQSConfig represents SQS configuration in TOML
type TOMLSQSConfig struct {
	Region             string `toml:"region"`
	CustomEndpoint     string `toml:"endpoint"`
	DownloadQueueURL   string `toml:"download_queue_url"`
	DownloadDLQURL     string `toml:"download_dlq_url"`
	ProcessingQueueURL string `toml:"processing_queue_url"`
	ProcessingDLQURL   string `toml:"processing_dlq_url"`
	CrawlQueueURL      string `toml:"crawl_queue_url"`
	WaitTimeSeconds    int    `toml:"wait_time_seconds"`
	VisibilityTimeout  int    `toml:"visibility_timeout"`
}

// TOMLRedisConfig represents Redis configuration in TOML
type TOMLRedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// TOMLStorageConfig represents object store configuration in TOML
type TOMLStorageConfig struct {
	Region          string `toml:"region"`
	Bucket          string `toml:"bucket"`
	CustomEndpoint  string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UsePathStyle    bool   `toml:"use_path_style"`
}

// TOMLUploadConfig represents upload session configuration in TOML
type TOMLUploadConfig struct {
	SessionTTL          string `toml:"session_ttl"`
	PresignTTL          string `toml:"presign_ttl"`
	MaxFileSize         int64  `toml:"max_file_size"`
	ExpirySweepInterval string `toml:"expiry_sweep_interval"`
}

// TOMLOutboxConfig represents outbox dispatcher configuration in TOML
type TOMLOutboxConfig struct {
	Enabled          bool    `toml:"enabled"`
	PollInterval     string  `toml:"poll_interval"`
	BatchSize        int     `toml:"batch_size"`
	DeliveryRate     float64 `toml:"delivery_rate"`
	StuckAfter       string  `toml:"stuck_after"`
	RecoveryInterval string  `toml:"recovery_interval"`
}

// TOMLWorkerConfig represents worker configuration in TOML
type TOMLWorkerConfig struct {
	DownloadTimeout string `toml:"download_timeout"`
	CrawlTimeout    string `toml:"crawl_timeout"`
}

// TOMLSchedulerConfig represents crawl scheduler configuration in TOML
type TOMLSchedulerConfig struct {
	Enabled      bool   `toml:"enabled"`
	PollInterval string `toml:"poll_interval"`
	BatchSize    int    `toml:"batch_size"`
}

// TOMLLeaderConfig represents leader election configuration in TOML
type TOMLLeaderConfig struct {
	Enabled         bool   `toml:"enabled"`
	InstanceID      string `toml:"instance_id"`
	TTL             string `toml:"ttl"`
	RefreshInterval string `toml:"refresh_interval"`
}

// ConfigPaths lists the paths to search for config files
var ConfigPaths = []string{
	"config.toml",
	"application.toml",
	"fileflow.toml",
	"./config/config.toml",
	"./config/application.toml",
	"/etc/fileflow/config.toml",
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	var tomlCfg TOMLConfig

	if _, err := toml.DecodeFile(path, &tomlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return tomlConfigToConfig(&tomlCfg)
}

// LoadWithFile loads configuration from file first, then overrides with env vars
func LoadWithFile() (*Config, error) {
	// Start with defaults from environment
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	// Check for explicit config file path
	configPath := os.Getenv("FILEFLOW_CONFIG")
	if configPath == "" {
		// Search for config file in standard locations
		for _, path := range ConfigPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}
	}

	// If no config file found, just use env vars
	if configPath == "" {
		return cfg, nil
	}

	// Load from file
	fileCfg, err := LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	// Merge: file config as base, env vars override
	return mergeConfigs(fileCfg, cfg), nil
}

// tomlConfigToConfig converts TOML config to the internal Config struct
func tomlConfigToConfig(tc *TOMLConfig) (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Port:        tc.HTTP.Port,
			CORSOrigins: tc.HTTP.CORSOrigins,
		},
		MongoDB: MongoDBConfig{
			URI:      tc.MongoDB.URI,
			Database: tc.MongoDB.Database,
		},
		Queue: QueueConfig{
			Type: tc.Queue.Type,
			NATS: NATSConfig{
				URL:          tc.Queue.NATS.URL,
				StreamName:   tc.Queue.NATS.StreamName,
				ConsumerName: tc.Queue.NATS.ConsumerName,
			},
			SQS: SQSConfig{
				Region:             tc.Queue.SQS.Region,
				CustomEndpoint:     tc.Queue.SQS.CustomEndpoint,
				DownloadQueueURL:   tc.Queue.SQS.DownloadQueueURL,
				DownloadDLQURL:     tc.Queue.SQS.DownloadDLQURL,
				ProcessingQueueURL: tc.Queue.SQS.ProcessingQueueURL,
				ProcessingDLQURL:   tc.Queue.SQS.ProcessingDLQURL,
				CrawlQueueURL:      tc.Queue.SQS.CrawlQueueURL,
				WaitTimeSeconds:    tc.Queue.SQS.WaitTimeSeconds,
				VisibilityTimeout:  tc.Queue.SQS.VisibilityTimeout,
			},
		},
		Redis: RedisConfig{
			Addr:     tc.Redis.Addr,
			Password: tc.Redis.Password,
			DB:       tc.Redis.DB,
		},
		Storage: StorageConfig{
			Region:          tc.Storage.Region,
			Bucket:          tc.Storage.Bucket,
			CustomEndpoint:  tc.Storage.CustomEndpoint,
			AccessKeyID:     tc.Storage.AccessKeyID,
			SecretAccessKey: tc.Storage.SecretAccessKey,
			UsePathStyle:    tc.Storage.UsePathStyle,
		},
		Upload: UploadConfig{
			MaxFileSize: tc.Upload.MaxFileSize,
		},
		Outbox: OutboxConfig{
			Enabled:      tc.Outbox.Enabled,
			BatchSize:    tc.Outbox.BatchSize,
			DeliveryRate: tc.Outbox.DeliveryRate,
		},
		Scheduler: SchedulerConfig{
			Enabled:   tc.Scheduler.Enabled,
			BatchSize: tc.Scheduler.BatchSize,
		},
		Leader: LeaderConfig{
			Enabled:    tc.Leader.Enabled,
			InstanceID: tc.Leader.InstanceID,
		},
		DevMode: tc.DevMode,
	}

	// Parse durations
	setDuration(&cfg.Upload.SessionTTL, tc.Upload.SessionTTL)
	setDuration(&cfg.Upload.PresignTTL, tc.Upload.PresignTTL)
	setDuration(&cfg.Upload.ExpirySweepInterval, tc.Upload.ExpirySweepInterval)
	setDuration(&cfg.Outbox.PollInterval, tc.Outbox.PollInterval)
	setDuration(&cfg.Outbox.StuckAfter, tc.Outbox.StuckAfter)
	setDuration(&cfg.Outbox.RecoveryInterval, tc.Outbox.RecoveryInterval)
	setDuration(&cfg.Worker.DownloadTimeout, tc.Worker.DownloadTimeout)
	setDuration(&cfg.Worker.CrawlTimeout, tc.Worker.CrawlTimeout)
	setDuration(&cfg.Scheduler.PollInterval, tc.Scheduler.PollInterval)
	setDuration(&cfg.Leader.TTL, tc.Leader.TTL)
	setDuration(&cfg.Leader.RefreshInterval, tc.Leader.RefreshInterval)

	return cfg, nil
}

func setDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}

// mergeConfigs merges two configs, with override taking precedence for
// values that differ from the environment defaults
func mergeConfigs(base, override *Config) *Config {
	result := *base

	// HTTP
	if override.HTTP.Port != 0 && override.HTTP.Port != 8080 {
		result.HTTP.Port = override.HTTP.Port
	}
	if len(override.HTTP.CORSOrigins) > 0 {
		result.HTTP.CORSOrigins = override.HTTP.CORSOrigins
	}

	// MongoDB
	if override.MongoDB.URI != "" && override.MongoDB.URI != "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true" {
		result.MongoDB.URI = override.MongoDB.URI
	}
	if override.MongoDB.Database != "" && override.MongoDB.Database != "fileflow" {
		result.MongoDB.Database = override.MongoDB.Database
	}

	// Queue
	if override.Queue.Type != "" && override.Queue.Type != "sqs" {
		result.Queue.Type = override.Queue.Type
	}
	if override.Queue.NATS.URL != "" {
		result.Queue.NATS.URL = override.Queue.NATS.URL
	}
	if override.Queue.SQS.DownloadQueueURL != "" {
		result.Queue.SQS.DownloadQueueURL = override.Queue.SQS.DownloadQueueURL
	}
	if override.Queue.SQS.DownloadDLQURL != "" {
		result.Queue.SQS.DownloadDLQURL = override.Queue.SQS.DownloadDLQURL
	}
	if override.Queue.SQS.ProcessingQueueURL != "" {
		result.Queue.SQS.ProcessingQueueURL = override.Queue.SQS.ProcessingQueueURL
	}
	if override.Queue.SQS.ProcessingDLQURL != "" {
		result.Queue.SQS.ProcessingDLQURL = override.Queue.SQS.ProcessingDLQURL
	}
	if override.Queue.SQS.CrawlQueueURL != "" {
		result.Queue.SQS.CrawlQueueURL = override.Queue.SQS.CrawlQueueURL
	}
	if override.Queue.SQS.Region != "" {
		result.Queue.SQS.Region = override.Queue.SQS.Region
	}

	// Redis
	if override.Redis.Addr != "" && override.Redis.Addr != "localhost:6379" {
		result.Redis.Addr = override.Redis.Addr
	}

	// Storage
	if override.Storage.Bucket != "" && override.Storage.Bucket != "fileflow-uploads" {
		result.Storage.Bucket = override.Storage.Bucket
	}
	if override.Storage.CustomEndpoint != "" {
		result.Storage.CustomEndpoint = override.Storage.CustomEndpoint
	}

	// Scheduler
	if override.Scheduler.Enabled {
		result.Scheduler.Enabled = true
	}

	// Leader
	if override.Leader.Enabled {
		result.Leader.Enabled = true
	}
	if override.Leader.InstanceID != "" {
		result.Leader.InstanceID = override.Leader.InstanceID
	}

	// General
	if override.DevMode {
		result.DevMode = true
	}

	return &result
}

// WriteExampleConfig writes an example configuration file
func WriteExampleConfig(path string) error {
	example := `# FileFlow Configuration
# Environment variables override these settings

[http]
port = 8080
cors_origins = ["http://localhost:4200"]

[mongodb]
uri = "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true"
database = "fileflow"

[queue]
type = "sqs"  # sqs or nats

[queue.nats]
url = "nats://localhost:4222"
stream_name = "FILEFLOW"
consumer_name = "fileflow-worker"

[queue.sqs]
region = "us-east-1"
endpoint = ""  # LocalStack in development
download_queue_url = ""
download_dlq_url = ""
processing_queue_url = ""
processing_dlq_url = ""
crawl_queue_url = ""
wait_time_seconds = 20
visibility_timeout = 120

[redis]
addr = "localhost:6379"
password = ""
db = 0

[storage]
region = "us-east-1"
bucket = "fileflow-uploads"
endpoint = ""  # MinIO/LocalStack in development
access_key_id = ""
secret_access_key = ""
use_path_style = false

[upload]
session_ttl = "24h"
presign_ttl = "15m"
max_file_size = 0  # bytes, 0 = unlimited
expiry_sweep_interval = "5m"

[outbox]
enabled = true
poll_interval = "1s"
batch_size = 100
delivery_rate = 200.0
stuck_after = "5m"
recovery_interval = "1m"

[worker]
download_timeout = "5m"
crawl_timeout = "30s"

[scheduler]
enabled = false
poll_interval = "5s"
batch_size = 100

[leader]
enabled = false
instance_id = ""
ttl = "30s"
refresh_interval = "10s"

dev_mode = false
`

	// Ensure directory exists
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	return os.WriteFile(path, []byte(example), 0644)
}
