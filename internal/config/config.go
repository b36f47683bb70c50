package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// EnvPrefix prefixes every environment override, e.g. UPLOADS_DB_PASSWORD.
	EnvPrefix = "UPLOADS_"

	StorageDriverLocal = "local"
	StorageDriverS3    = "s3"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Upload    UploadConfig    `yaml:"upload"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Reaper    ReaperConfig    `yaml:"reaper"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"DB_HOST"`
	Port            int           `yaml:"port" env:"DB_PORT"`
	User            string        `yaml:"user" env:"DB_USER"`
	Password        string        `yaml:"password" env:"DB_PASSWORD"`
	Database        string        `yaml:"database" env:"DB_NAME"`
	SSLMode         string        `yaml:"sslmode" env:"DB_SSLMODE"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"DB_AUTO_MIGRATE"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host" env:"RABBITMQ_HOST"`
	Port       int              `yaml:"port" env:"RABBITMQ_PORT"`
	User       string           `yaml:"user" env:"RABBITMQ_USER"`
	Password   string           `yaml:"password" env:"RABBITMQ_PASSWORD"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`

	// DeadLetterExchange receives messages rejected without requeue.
	DeadLetterExchange string `yaml:"dead_letter_exchange"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" env:"LOG_LEVEL"`
	Format       string `yaml:"format" env:"LOG_FORMAT"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment" env:"APP_ENV"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency" env:"WORKER_CONCURRENCY"`
	MaxAttempts     int           `yaml:"max_attempts"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay"`
	FileTimeout     time.Duration `yaml:"file_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects and configures the blob store backend
type StorageConfig struct {
	Driver string             `yaml:"driver" env:"STORAGE_DRIVER"`
	Local  LocalStorageConfig `yaml:"local"`
	S3     S3StorageConfig    `yaml:"s3"`
}

// LocalStorageConfig holds the local disk backend settings
type LocalStorageConfig struct {
	Root string `yaml:"root" env:"STORAGE_ROOT"`
}

// S3StorageConfig holds the S3-compatible backend settings
type S3StorageConfig struct {
	Endpoint     string `yaml:"endpoint" env:"S3_ENDPOINT"`
	AccessKey    string `yaml:"access_key" env:"S3_ACCESS_KEY"`
	SecretKey    string `yaml:"secret_key" env:"S3_SECRET_KEY"`
	Bucket       string `yaml:"bucket" env:"S3_BUCKET"`
	Region       string `yaml:"region"`
	UseSSL       bool   `yaml:"use_ssl"`
	CreateBucket bool   `yaml:"create_bucket"`
}

// RedisConfig holds the Redis connection used for notifications and rate limiting
type RedisConfig struct {
	Enabled        bool          `yaml:"enabled" env:"REDIS_ENABLED"`
	Addr           string        `yaml:"addr" env:"REDIS_ADDR"`
	Password       string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB             int           `yaml:"db"`
	ChannelPrefix  string        `yaml:"channel_prefix"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// UploadConfig holds per-request upload limits and status caching
type UploadConfig struct {
	MaxFiles         int           `yaml:"max_files"`
	MaxFileSize      int64         `yaml:"max_file_size"`
	AllowedMIMETypes []string      `yaml:"allowed_mime_types"`
	StatusCacheSize  int           `yaml:"status_cache_size"`
	StatusCacheTTL   time.Duration `yaml:"status_cache_ttl"`
}

// RateLimitConfig holds the per-user upload rate limit
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Limit   int           `yaml:"limit"`
	Window  time.Duration `yaml:"window"`
}

// MetricsConfig holds the prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port" env:"METRICS_PORT"`
	Path    string `yaml:"path"`
}

// ReaperConfig holds the stuck-file reaper settings
type ReaperConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
	BatchSize  int           `yaml:"batch_size"`
}

// Load reads and parses the configuration file, then applies environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := env.ParseWithOptions(&config, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageDriverLocal
	}
	if c.Storage.Local.Root == "" {
		c.Storage.Local.Root = "uploads"
	}
	if c.Redis.ChannelPrefix == "" {
		c.Redis.ChannelPrefix = "uploads"
	}
	if c.Redis.PublishTimeout == 0 {
		c.Redis.PublishTimeout = 2 * time.Second
	}
	if c.Upload.MaxFiles == 0 {
		c.Upload.MaxFiles = 5
	}
	if c.Upload.MaxFileSize == 0 {
		c.Upload.MaxFileSize = 5 << 20
	}
	if len(c.Upload.AllowedMIMETypes) == 0 {
		c.Upload.AllowedMIMETypes = []string{
			"application/pdf",
			"image/jpeg",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		}
	}
	if c.Upload.StatusCacheSize == 0 {
		c.Upload.StatusCacheSize = 1024
	}
	if c.Upload.StatusCacheTTL == 0 {
		c.Upload.StatusCacheTTL = 10 * time.Minute
	}
	if c.Worker.MaxAttempts == 0 {
		c.Worker.MaxAttempts = 3
	}
	if c.Worker.RetryBaseDelay == 0 {
		c.Worker.RetryBaseDelay = 200 * time.Millisecond
	}
	if c.Worker.RetryMaxDelay == 0 {
		c.Worker.RetryMaxDelay = 5 * time.Second
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Reaper.BatchSize == 0 {
		c.Reaper.BatchSize = 100
	}
}

// Validate checks the settings shared by every service
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	switch c.Storage.Driver {
	case StorageDriverLocal, "":
	case StorageDriverS3:
		if c.Storage.S3.Endpoint == "" || c.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3 endpoint and bucket are required for the s3 storage driver")
		}
	default:
		return fmt.Errorf("unsupported storage driver: %q", c.Storage.Driver)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when redis is enabled")
	}

	return nil
}

// ValidateAPI checks the settings the API service needs on top of Validate
func (c *Config) ValidateAPI() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Upload.MaxFiles < 0 {
		return fmt.Errorf("upload max_files must not be negative")
	}

	if c.Upload.MaxFileSize < 0 {
		return fmt.Errorf("upload max_file_size must not be negative")
	}

	if c.RateLimit.Enabled {
		if !c.Redis.Enabled {
			return fmt.Errorf("rate limiting requires redis to be enabled")
		}
		if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate_limit limit and window must be greater than 0")
		}
	}

	return nil
}

// ValidateWorker checks the settings the worker service needs on top of Validate
func (c *Config) ValidateWorker() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker max_attempts must be greater than 0")
	}

	if c.Worker.FileTimeout <= 0 {
		return fmt.Errorf("worker file_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Reaper.Enabled && (c.Reaper.Interval <= 0 || c.Reaper.StaleAfter <= 0) {
		return fmt.Errorf("reaper interval and stale_after must be greater than 0")
	}

	// A file still inside its processing deadline must never look stuck.
	if c.Reaper.Enabled && c.Reaper.StaleAfter <= c.Worker.FileTimeout {
		return fmt.Errorf("reaper stale_after (%s) must be greater than worker file_timeout (%s)", c.Reaper.StaleAfter, c.Worker.FileTimeout)
	}

	if c.Metrics.Enabled && (c.Metrics.Port < MinPort || c.Metrics.Port > MaxPort) {
		return fmt.Errorf("invalid metrics port: %d (must be between %d and %d)", c.Metrics.Port, MinPort, MaxPort)
	}

	return nil
}

// DatabaseURL renders the connection settings as a postgres:// URL
func (d DatabaseConfig) DatabaseURL() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.Database,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}
