package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// PipelineConfig is the explicit wiring handed to the gateway and worker at
// construction time.
type PipelineConfig struct {
	QueueEndpoint string `envconfig:"QUEUE_ENDPOINT" default:""`
	Concurrency   int    `envconfig:"WORKER_CONCURRENCY" default:"4"`
	StorageRoot   string `envconfig:"STORAGE_ROOT" default:"./data"`
}

// Config holds application configuration.
type Config struct {
	Port            string   `envconfig:"PORT" default:"8080"`
	Env             string   `envconfig:"ENV" default:"dev"`
	CORSAllowOrigin []string `envconfig:"CORS_ALLOW_ORIGINS" default:"http://localhost:3000"`
	DatabaseURL     string   `envconfig:"DATABASE_URL" default:""`
	LogLevel        string   `envconfig:"LOG_LEVEL" default:"info"`
	JWTSecret       string   `envconfig:"JWT_SECRET" default:""`

	Pipeline PipelineConfig

	QueueBackend      string        `envconfig:"QUEUE_BACKEND" default:"memory"`
	QueueName         string        `envconfig:"QUEUE_NAME" default:"document-extraction"`
	VisibilityTimeout time.Duration `envconfig:"QUEUE_VISIBILITY_TIMEOUT" default:"5m"`
	ShutdownTimeout   time.Duration `envconfig:"WORKER_SHUTDOWN_TIMEOUT" default:"30s"`

	ReconcileInterval  time.Duration `envconfig:"RECONCILE_INTERVAL" default:"1m"`
	ReconcileStaleAge  time.Duration `envconfig:"RECONCILE_STALE_AFTER" default:"10m"`
	ReconcileBatchSize int           `envconfig:"RECONCILE_BATCH_SIZE" default:"100"`

	ObjectStoreType string `envconfig:"OBJECT_STORE" default:"local"`
	AWSRegion       string `envconfig:"AWS_REGION" default:""`
	S3Bucket        string `envconfig:"S3_BUCKET" default:""`
	S3Prefix        string `envconfig:"S3_PREFIX" default:""`
	SSEKMSKeyID     string `envconfig:"SSE_KMS_KEY_ID" default:""`

	OCRCommand     string   `envconfig:"OCR_COMMAND" default:"tesseract"`
	OCRLanguages   string   `envconfig:"OCR_LANGUAGES" default:"eng"`
	MaxUploadBytes int64    `envconfig:"MAX_UPLOAD_BYTES" default:"10485760"`
	MaxUploadFiles int      `envconfig:"MAX_UPLOAD_FILES" default:"10"`
	AllowedMIME    []string `envconfig:"ALLOWED_MIME_TYPES" default:""`
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg, err := LoadE()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// LoadE is Load without the fatal exit.
func LoadE() (Config, error) {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}

	cfg.Env = normalizeEnv(cfg.Env)
	cfg.ObjectStoreType = normalizeStoreType(cfg.ObjectStoreType)
	cfg.QueueBackend = normalizeQueueBackend(cfg.QueueBackend)
	cfg.CORSAllowOrigin = trimAll(cfg.CORSAllowOrigin)
	cfg.AllowedMIME = trimAll(cfg.AllowedMIME)
	if cfg.Pipeline.Concurrency < 1 {
		cfg.Pipeline.Concurrency = 1
	}

	if cfg.Env == "production" && cfg.DatabaseURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}
	if cfg.QueueBackend != "memory" && strings.TrimSpace(cfg.Pipeline.QueueEndpoint) == "" {
		return Config{}, fmt.Errorf("QUEUE_ENDPOINT is required for QUEUE_BACKEND=%s", cfg.QueueBackend)
	}
	return cfg, nil
}

// IsDevLike reports whether in-memory fallbacks are acceptable.
func (c Config) IsDevLike() bool {
	switch c.Env {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func trimAll(in []string) []string {
	var out []string
	for _, p := range in {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeQueueBackend(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sqs":
		return "sqs"
	case "redis":
		return "redis"
	case "amqp", "rabbitmq":
		return "amqp"
	default:
		return "memory"
	}
}
