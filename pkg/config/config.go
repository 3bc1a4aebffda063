package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App            AppConfig            `mapstructure:"app"`
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	OTel           OTelConfig           `mapstructure:"otel"`
	Gateway        GatewayConfig        `mapstructure:"gateway"`
	Idempotency    IdempotencyConfig    `mapstructure:"idempotency"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
	LogLevel    string `mapstructure:"log_level"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka/Redpanda connection settings
type KafkaConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	ClientID string   `mapstructure:"client_id"`
	Topic    string   `mapstructure:"topic"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// GatewayConfig selects and tunes the payment gateway client
type GatewayConfig struct {
	Type            string        `mapstructure:"type"` // mock, stripe
	StripeSecretKey string        `mapstructure:"stripe_secret_key"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
	MockDelay       time.Duration `mapstructure:"mock_delay"`
	MockHangDelay   time.Duration `mapstructure:"mock_hang_delay"`
}

// IdempotencyConfig holds idempotency store settings
type IdempotencyConfig struct {
	Store         string        `mapstructure:"store"` // postgres, redis, memory
	ProcessingTTL time.Duration `mapstructure:"processing_ttl"`
	CompletedTTL  time.Duration `mapstructure:"completed_ttl"`
	InFlightWait  time.Duration `mapstructure:"in_flight_wait"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
}

// ReconciliationConfig holds settings for resolving unknown gateway outcomes
type ReconciliationConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ScanInterval   time.Duration `mapstructure:"scan_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	MinAge         time.Duration `mapstructure:"min_age"`
	LookupRetries  int           `mapstructure:"lookup_retries"`
	LookupInterval time.Duration `mapstructure:"lookup_interval"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// .env is optional, environment variables still apply
	_ = v.ReadInConfig()

	return load(v)
}

// LoadWithPath loads configuration from a specific path
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	bindConfig(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "payment-orchestrator")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")
	v.SetDefault("APP_LOG_LEVEL", "info")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "100s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// Database defaults
	v.SetDefault("DATABASE_ENABLED", true)
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "payment_db")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 50)
	v.SetDefault("DATABASE_MIN_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "30m")
	v.SetDefault("DATABASE_MAX_RETRIES", 3)
	v.SetDefault("DATABASE_RUN_MIGRATIONS", true)

	// Redis defaults
	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka defaults
	v.SetDefault("KAFKA_ENABLED", false)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CLIENT_ID", "payment-orchestrator")
	v.SetDefault("KAFKA_TOPIC", "payment.transactions")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "payment-orchestrator")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	// Gateway defaults
	v.SetDefault("GATEWAY_TYPE", "mock")
	v.SetDefault("GATEWAY_STRIPE_SECRET_KEY", "")
	v.SetDefault("GATEWAY_CALL_TIMEOUT", "30s")
	v.SetDefault("GATEWAY_MOCK_DELAY", "100ms")
	v.SetDefault("GATEWAY_MOCK_HANG_DELAY", "60s")

	// Idempotency defaults
	v.SetDefault("IDEMPOTENCY_STORE", "postgres")
	v.SetDefault("IDEMPOTENCY_PROCESSING_TTL", "2m")
	v.SetDefault("IDEMPOTENCY_COMPLETED_TTL", "24h")
	v.SetDefault("IDEMPOTENCY_IN_FLIGHT_WAIT", "65s")
	v.SetDefault("IDEMPOTENCY_POLL_INTERVAL", "50ms")

	// Reconciliation defaults
	v.SetDefault("RECONCILIATION_ENABLED", true)
	v.SetDefault("RECONCILIATION_SCAN_INTERVAL", "30s")
	v.SetDefault("RECONCILIATION_BATCH_SIZE", 50)
	v.SetDefault("RECONCILIATION_MIN_AGE", "1m")
	v.SetDefault("RECONCILIATION_LOOKUP_RETRIES", 3)
	v.SetDefault("RECONCILIATION_LOOKUP_INTERVAL", "500ms")
}

func bindConfig(v *viper.Viper, cfg *Config) {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")
	cfg.App.LogLevel = v.GetString("APP_LOG_LEVEL")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	// Database
	cfg.Database.Enabled = v.GetBool("DATABASE_ENABLED")
	cfg.Database.Host = v.GetString("DATABASE_HOST")
	cfg.Database.Port = v.GetInt("DATABASE_PORT")
	cfg.Database.User = v.GetString("DATABASE_USER")
	cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	cfg.Database.DBName = v.GetString("DATABASE_DBNAME")
	cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	cfg.Database.MaxOpenConns = v.GetInt("DATABASE_MAX_OPEN_CONNS")
	cfg.Database.MinConns = v.GetInt("DATABASE_MIN_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DATABASE_CONN_MAX_LIFETIME")
	cfg.Database.ConnMaxIdleTime = v.GetDuration("DATABASE_CONN_MAX_IDLE_TIME")
	cfg.Database.MaxRetries = v.GetInt("DATABASE_MAX_RETRIES")
	cfg.Database.RunMigrations = v.GetBool("DATABASE_RUN_MIGRATIONS")

	// Redis
	cfg.Redis.Enabled = v.GetBool("REDIS_ENABLED")
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Kafka
	cfg.Kafka.Enabled = v.GetBool("KAFKA_ENABLED")
	cfg.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")
	cfg.Kafka.Topic = v.GetString("KAFKA_TOPIC")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	// Gateway
	cfg.Gateway.Type = strings.ToLower(v.GetString("GATEWAY_TYPE"))
	cfg.Gateway.StripeSecretKey = v.GetString("GATEWAY_STRIPE_SECRET_KEY")
	cfg.Gateway.CallTimeout = v.GetDuration("GATEWAY_CALL_TIMEOUT")
	cfg.Gateway.MockDelay = v.GetDuration("GATEWAY_MOCK_DELAY")
	cfg.Gateway.MockHangDelay = v.GetDuration("GATEWAY_MOCK_HANG_DELAY")

	// Idempotency
	cfg.Idempotency.Store = strings.ToLower(v.GetString("IDEMPOTENCY_STORE"))
	cfg.Idempotency.ProcessingTTL = v.GetDuration("IDEMPOTENCY_PROCESSING_TTL")
	cfg.Idempotency.CompletedTTL = v.GetDuration("IDEMPOTENCY_COMPLETED_TTL")
	cfg.Idempotency.InFlightWait = v.GetDuration("IDEMPOTENCY_IN_FLIGHT_WAIT")
	cfg.Idempotency.PollInterval = v.GetDuration("IDEMPOTENCY_POLL_INTERVAL")

	// Reconciliation
	cfg.Reconciliation.Enabled = v.GetBool("RECONCILIATION_ENABLED")
	cfg.Reconciliation.ScanInterval = v.GetDuration("RECONCILIATION_SCAN_INTERVAL")
	cfg.Reconciliation.BatchSize = v.GetInt("RECONCILIATION_BATCH_SIZE")
	cfg.Reconciliation.MinAge = v.GetDuration("RECONCILIATION_MIN_AGE")
	cfg.Reconciliation.LookupRetries = v.GetInt("RECONCILIATION_LOOKUP_RETRIES")
	cfg.Reconciliation.LookupInterval = v.GetDuration("RECONCILIATION_LOOKUP_INTERVAL")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Gateway.Type {
	case "mock":
		if c.IsProduction() {
			return fmt.Errorf("mock gateway is not allowed in production")
		}
	case "stripe":
		if c.Gateway.StripeSecretKey == "" {
			return fmt.Errorf("GATEWAY_STRIPE_SECRET_KEY is required for stripe gateway")
		}
	default:
		return fmt.Errorf("unknown gateway type: %s", c.Gateway.Type)
	}

	if c.Gateway.CallTimeout <= 0 {
		return fmt.Errorf("gateway call timeout must be positive")
	}

	switch c.Idempotency.Store {
	case "postgres":
		if !c.Database.Enabled {
			return fmt.Errorf("postgres idempotency store requires DATABASE_ENABLED")
		}
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("redis idempotency store requires REDIS_ENABLED")
		}
	case "memory":
		if c.IsProduction() {
			return fmt.Errorf("memory idempotency store is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown idempotency store: %s", c.Idempotency.Store)
	}

	// The slowest request is a gateway call that times out followed by inline reconciliation,
	// which is bounded by the same call timeout
	worstCase := 2 * c.Gateway.CallTimeout
	if c.Idempotency.ProcessingTTL <= worstCase {
		return fmt.Errorf("IDEMPOTENCY_PROCESSING_TTL (%s) must exceed twice GATEWAY_CALL_TIMEOUT (%s)",
			c.Idempotency.ProcessingTTL, c.Gateway.CallTimeout)
	}
	if c.Idempotency.InFlightWait <= worstCase {
		return fmt.Errorf("IDEMPOTENCY_IN_FLIGHT_WAIT (%s) must exceed twice GATEWAY_CALL_TIMEOUT (%s)",
			c.Idempotency.InFlightWait, c.Gateway.CallTimeout)
	}
	// A duplicate may wait out the original and then reconcile a pending result itself
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= c.Idempotency.InFlightWait+c.Gateway.CallTimeout {
		return fmt.Errorf("SERVER_WRITE_TIMEOUT (%s) must exceed IDEMPOTENCY_IN_FLIGHT_WAIT plus GATEWAY_CALL_TIMEOUT (%s)",
			c.Server.WriteTimeout, c.Idempotency.InFlightWait+c.Gateway.CallTimeout)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when kafka is enabled")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
