package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"autograde/internal/common/cache"
	"autograde/internal/common/db"
	"autograde/internal/common/mq"
	"autograde/internal/common/storage"
	"autograde/internal/grading/files"
	"autograde/internal/grading/outputs"
	"autograde/internal/grading/runner"
	"autograde/internal/grading/sandbox"
	"autograde/pkg/utils/logger"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultJobsTopic       = "grading.jobs"
	defaultAlertsTopic     = "grading.alerts"
	defaultConsumerGroup   = "autograde-grader"
	defaultAlertTimeout    = 3 * time.Second
	defaultAuthIssuer      = "autograde"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// KafkaConfig holds Kafka settings.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ClientID      string        `yaml:"clientID"`
	MinBytes      int           `yaml:"minBytes"`
	MaxBytes      int           `yaml:"maxBytes"`
	MaxWait       time.Duration `yaml:"maxWait"`
	BatchSize     int           `yaml:"batchSize"`
	BatchTimeout  time.Duration `yaml:"batchTimeout"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	RequiredAcks  int           `yaml:"requiredAcks"`
	Compression   string        `yaml:"compression"`
	ConsumerGroup string        `yaml:"consumerGroup"`
}

// TopicsConfig names the grading topics.
type TopicsConfig struct {
	Jobs         string        `yaml:"jobs"`
	DeadLetter   string        `yaml:"deadLetter"`
	Alerts       string        `yaml:"alerts"`
	AlertTimeout time.Duration `yaml:"alertTimeout"`
}

// GradingConfig holds grading work settings.
type GradingConfig struct {
	WorkerPoolSize      int            `yaml:"workerPoolSize"`
	JobTimeout          time.Duration  `yaml:"jobTimeout"`
	SlotTimeout         time.Duration  `yaml:"slotTimeout"`
	RecoverableAttempts int            `yaml:"recoverableAttempts"`
	RecoverableBackoff  time.Duration  `yaml:"recoverableBackoff"`
	MediaRoot           string         `yaml:"mediaRoot"`
	Runner              runner.Config  `yaml:"runner"`
	Files               files.Config   `yaml:"files"`
	Outputs             outputs.Config `yaml:"outputs"`
}

// AuthConfig holds ops API token settings.
type AuthConfig struct {
	Secret string   `yaml:"secret"`
	Issuer string   `yaml:"issuer"`
	Roles  []string `yaml:"roles"`
}

// AppConfig holds grader config.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	Logger   logger.Config       `yaml:"logger"`
	Database db.MySQLConfig      `yaml:"database"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	Kafka    KafkaConfig         `yaml:"kafka"`
	Topics   TopicsConfig        `yaml:"topics"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Sandbox  sandbox.Config      `yaml:"sandbox"`
	Grading  GradingConfig       `yaml:"grading"`
	Auth     AuthConfig          `yaml:"auth"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path, envFile string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(&cfg, envFile); err != nil {
		return nil, err
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("auth secret is required")
	}
	applyRedisDefaults(&cfg.Redis)
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = defaultConsumerGroup
	}
	if cfg.Topics.Jobs == "" {
		cfg.Topics.Jobs = defaultJobsTopic
	}
	if cfg.Topics.DeadLetter == "" {
		cfg.Topics.DeadLetter = cfg.Topics.Jobs + ".dead"
	}
	if cfg.Topics.Alerts == "" {
		cfg.Topics.Alerts = defaultAlertsTopic
	}
	if cfg.Topics.AlertTimeout == 0 {
		cfg.Topics.AlertTimeout = defaultAlertTimeout
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = defaultAuthIssuer
	}
	if len(cfg.Auth.Roles) == 0 {
		cfg.Auth.Roles = []string{"staff", "admin"}
	}
	if cfg.Grading.WorkerPoolSize <= 0 {
		cfg.Grading.WorkerPoolSize = 1
	}
	if cfg.Grading.Files.Bucket == "" {
		cfg.Grading.Files.Bucket = cfg.MinIO.Bucket
	}
	if cfg.Grading.Outputs.Bucket == "" {
		cfg.Grading.Outputs.Bucket = cfg.MinIO.Bucket
	}
	if cfg.Grading.Outputs.Root == "" && cfg.Grading.MediaRoot != "" {
		cfg.Grading.Outputs.Root = cfg.Grading.MediaRoot + "/outputs"
	}
	if cfg.Grading.Files.CacheDir == "" && cfg.Grading.MediaRoot != "" {
		cfg.Grading.Files.CacheDir = cfg.Grading.MediaRoot + "/instructor_files"
	}
	return &cfg, nil
}

// applyEnvOverrides fills secrets from the environment, loading envFile first
// when it exists. Values already exported in the environment win.
func applyEnvOverrides(cfg *AppConfig, envFile string) error {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("load env file failed: %w", err)
			}
		}
	}
	overrides := map[string]*string{
		"AUTOGRADE_DATABASE_DSN":   &cfg.Database.DSN,
		"AUTOGRADE_REDIS_PASSWORD": &cfg.Redis.Password,
		"AUTOGRADE_MINIO_ACCESS":   &cfg.MinIO.AccessKey,
		"AUTOGRADE_MINIO_SECRET":   &cfg.MinIO.SecretKey,
		"AUTOGRADE_AUTH_SECRET":    &cfg.Auth.Secret,
	}
	for key, field := range overrides {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*field = v
		}
	}
	return nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	cfg := mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		ReadTimeout:  k.ReadTimeout,
		WriteTimeout: k.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
	}
	cfg.Compression = parseCompression(k.Compression)
	return cfg
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}
