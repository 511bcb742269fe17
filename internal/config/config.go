package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Google    GoogleConfig    `mapstructure:"google"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// GoogleConfig holds Google OAuth2 client configuration
type GoogleConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	// TokenKey is the secret used to encrypt OAuth tokens at rest.
	TokenKey string `mapstructure:"token_key"`
}

// BucketConfig holds token bucket settings for one service operation
type BucketConfig struct {
	Capacity        int     `mapstructure:"capacity"`
	RefillPerSecond float64 `mapstructure:"refill_per_second"`
}

// RateLimitConfig holds rate limiter configuration
type RateLimitConfig struct {
	GmailRead     BucketConfig `mapstructure:"gmail_read"`
	GmailMetadata BucketConfig `mapstructure:"gmail_metadata"`
	GmailSend     BucketConfig `mapstructure:"gmail_send"`
	CalendarRead  BucketConfig `mapstructure:"calendar_read"`

	BackoffInitial    time.Duration `mapstructure:"backoff_initial"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	BackoffJitter     float64       `mapstructure:"backoff_jitter"`
	RateLimitedFactor float64       `mapstructure:"rate_limited_factor"`
	PermissionFactor  float64       `mapstructure:"permission_factor"`
	BreakerThreshold  int           `mapstructure:"breaker_threshold"`
	BreakerCooldown   time.Duration `mapstructure:"breaker_cooldown"`
	ShortWait         time.Duration `mapstructure:"short_wait"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
}

// SyncConfig holds sync run bounds and fetcher tuning
type SyncConfig struct {
	MaxItemsPerRun int           `mapstructure:"max_items_per_run"`
	ChunkSize      int           `mapstructure:"chunk_size"`
	Deadline       time.Duration `mapstructure:"deadline"`
	ChunkPause     time.Duration `mapstructure:"chunk_pause"`
	PageSize       int64         `mapstructure:"page_size"`
	PreviewLimit   int           `mapstructure:"preview_limit"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
}

// SchedulerConfig holds job poller configuration
type SchedulerConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
	BatchSize       int `mapstructure:"batch_size"`
	MaxAttempts     int `mapstructure:"max_attempts"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set defaults
	setDefaults()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()

	// Bind environment variables
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)
	viper.SetDefault("database.sslmode", "disable")

	// Gmail quota units are metered per operation class, so read, metadata
	// and send get separate buckets. Calendar has a single read quota.
	viper.SetDefault("ratelimit.gmail_read.capacity", 25)
	viper.SetDefault("ratelimit.gmail_read.refill_per_second", 5.0)
	viper.SetDefault("ratelimit.gmail_metadata.capacity", 50)
	viper.SetDefault("ratelimit.gmail_metadata.refill_per_second", 10.0)
	viper.SetDefault("ratelimit.gmail_send.capacity", 5)
	viper.SetDefault("ratelimit.gmail_send.refill_per_second", 0.5)
	viper.SetDefault("ratelimit.calendar_read.capacity", 25)
	viper.SetDefault("ratelimit.calendar_read.refill_per_second", 5.0)

	viper.SetDefault("ratelimit.backoff_initial", "1s")
	viper.SetDefault("ratelimit.backoff_max", "5m")
	viper.SetDefault("ratelimit.backoff_multiplier", 2.0)
	viper.SetDefault("ratelimit.backoff_jitter", 0.2)
	viper.SetDefault("ratelimit.rate_limited_factor", 2.0)
	viper.SetDefault("ratelimit.permission_factor", 4.0)
	viper.SetDefault("ratelimit.breaker_threshold", 5)
	viper.SetDefault("ratelimit.breaker_cooldown", "2m")
	viper.SetDefault("ratelimit.short_wait", "1m")
	viper.SetDefault("ratelimit.sweep_interval", "1h")
	viper.SetDefault("ratelimit.stale_after", "24h")

	viper.SetDefault("sync.max_items_per_run", 500)
	viper.SetDefault("sync.chunk_size", 10)
	viper.SetDefault("sync.deadline", "4m")
	viper.SetDefault("sync.chunk_pause", "200ms")
	viper.SetDefault("sync.page_size", 100)
	viper.SetDefault("sync.preview_limit", 25)
	viper.SetDefault("sync.call_timeout", "10s")
	viper.SetDefault("sync.retry_attempts", 3)
	viper.SetDefault("sync.retry_base_delay", "500ms")

	viper.SetDefault("scheduler.interval_seconds", 30)
	viper.SetDefault("scheduler.batch_size", 5)
	viper.SetDefault("scheduler.max_attempts", 3)
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")
	viper.BindEnv("database.sslmode", "DB_SSLMODE")

	// Google
	viper.BindEnv("google.client_id", "GOOGLE_CLIENT_ID")
	viper.BindEnv("google.client_secret", "GOOGLE_CLIENT_SECRET")
	viper.BindEnv("google.token_key", "TOKEN_ENCRYPTION_KEY")

	// Scheduler
	viper.BindEnv("scheduler.interval_seconds", "SCHEDULER_INTERVAL_SECONDS")
	viper.BindEnv("scheduler.batch_size", "SCHEDULER_BATCH_SIZE")
	viper.BindEnv("scheduler.max_attempts", "SCHEDULER_MAX_ATTEMPTS")

	// Sync bounds
	viper.BindEnv("sync.max_items_per_run", "SYNC_MAX_ITEMS_PER_RUN")
	viper.BindEnv("sync.deadline", "SYNC_DEADLINE")
	viper.BindEnv("sync.chunk_size", "SYNC_CHUNK_SIZE")
	viper.BindEnv("sync.call_timeout", "SYNC_CALL_TIMEOUT")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if c.Google.ClientID == "" || c.Google.ClientSecret == "" {
		return fmt.Errorf("Google OAuth2 client credentials are required")
	}
	if c.Google.TokenKey == "" {
		return fmt.Errorf("token encryption key is required")
	}

	for _, b := range []BucketConfig{c.RateLimit.GmailRead, c.RateLimit.GmailMetadata, c.RateLimit.GmailSend, c.RateLimit.CalendarRead} {
		if b.Capacity <= 0 || b.RefillPerSecond <= 0 {
			return fmt.Errorf("rate limit buckets require positive capacity and refill rate")
		}
	}
	if c.RateLimit.BreakerThreshold <= 0 {
		return fmt.Errorf("circuit breaker threshold must be greater than 0")
	}

	if c.Sync.MaxItemsPerRun <= 0 || c.Sync.ChunkSize <= 0 {
		return fmt.Errorf("sync item cap and chunk size must be greater than 0")
	}

	if c.Scheduler.IntervalSeconds <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	return nil
}
