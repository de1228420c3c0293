package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	HelloAsso HelloAssoConfig `yaml:"helloasso"`
	FFTT      FFTTConfig      `yaml:"fftt"`
	Cache     CacheConfig     `yaml:"cache"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Overrides OverridesConfig `yaml:"overrides"`
	Retry     RetryConfig     `yaml:"retry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel maps the configured level name to a slog level
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Store drivers
const (
	StoreDriverRedis    = "redis"
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// StoreConfig selects the key-value backend behind the cache
type StoreConfig struct {
	Driver    string `yaml:"driver"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds the refresh-request consumer configuration
type KafkaConfig struct {
	Brokers        []string      `yaml:"brokers"`
	Topic          string        `yaml:"topic"`
	GroupID        string        `yaml:"group_id"`
	Enabled        bool          `yaml:"enabled"`
	ProcessTimeout time.Duration `yaml:"process_timeout"`
}

// Registration listings the fetcher can walk
const (
	SourceItems  = "items"
	SourceOrders = "orders"
)

// HelloAssoConfig holds registration platform credentials and endpoints
type HelloAssoConfig struct {
	ClientID         string        `yaml:"client_id"`
	ClientSecret     string        `yaml:"client_secret"`
	OrganizationSlug string        `yaml:"organization_slug"`
	FormSlug         string        `yaml:"form_slug"`
	Source           string        `yaml:"source"`
	AuthURL          string        `yaml:"auth_url"`
	APIBase          string        `yaml:"api_base"`
	PageSize         int           `yaml:"page_size"`
	MaxPages         int           `yaml:"max_pages"`
	Timeout          time.Duration `yaml:"timeout"`
}

// FFTTConfig holds federation ranking API credentials and lookup tuning
type FFTTConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Serial            string        `yaml:"serial"`
	Password          string        `yaml:"password"`
	APIBase           string        `yaml:"api_base"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	BatchSize         int           `yaml:"batch_size"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
}

// CacheConfig holds TTLs for cached views
type CacheConfig struct {
	PlayersTTL time.Duration `yaml:"players_ttl"`
	StatsTTL   time.Duration `yaml:"stats_ttl"`
}

// Grouping strategies for the reconciler
const (
	GroupByEmail = "email"
	GroupByOrder = "order"
)

// RefreshConfig holds manual refresh settings
type RefreshConfig struct {
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
	GroupBy         string        `yaml:"group_by"`
}

// ScheduleConfig holds the periodic refresh job settings
type ScheduleConfig struct {
	Enabled bool          `yaml:"enabled"`
	Spec    string        `yaml:"spec"`
	Timeout time.Duration `yaml:"timeout"`
}

// OverridesConfig points at the static override table
type OverridesConfig struct {
	File string `yaml:"file"`
}

// RetryConfig holds backoff settings for outbound calls
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values no component can work with
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverRedis, StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("invalid store driver %q", c.Store.Driver)
	}
	switch c.HelloAsso.Source {
	case SourceItems, SourceOrders:
	default:
		return fmt.Errorf("invalid helloasso.source %q", c.HelloAsso.Source)
	}
	switch c.Refresh.GroupBy {
	case GroupByEmail, GroupByOrder:
	default:
		return fmt.Errorf("invalid refresh.group_by %q", c.Refresh.GroupBy)
	}
	return nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 2 * time.Minute
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Store.Driver == "" {
		c.Store.Driver = StoreDriverRedis
	}
	if c.Store.KeyPrefix == "" {
		c.Store.KeyPrefix = "tournament:"
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 20
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 2
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 10
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 1
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "refresh-requests"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "tournament-registry"
	}
	if c.Kafka.ProcessTimeout == 0 {
		c.Kafka.ProcessTimeout = 2 * time.Minute
	}

	// HelloAsso defaults
	if c.HelloAsso.AuthURL == "" {
		c.HelloAsso.AuthURL = "https://api.helloasso.com/oauth2/token"
	}
	if c.HelloAsso.APIBase == "" {
		c.HelloAsso.APIBase = "https://api.helloasso.com/v5"
	}
	if c.HelloAsso.Source == "" {
		c.HelloAsso.Source = SourceItems
	}
	if c.HelloAsso.PageSize == 0 {
		c.HelloAsso.PageSize = 100
	}
	if c.HelloAsso.MaxPages == 0 {
		c.HelloAsso.MaxPages = 50
	}
	if c.HelloAsso.Timeout == 0 {
		c.HelloAsso.Timeout = 30 * time.Second
	}

	// FFTT defaults
	if c.FFTT.APIBase == "" {
		c.FFTT.APIBase = "https://apiv2.fftt.com/mobile/pxml"
	}
	if c.FFTT.CacheTTL == 0 {
		c.FFTT.CacheTTL = 24 * time.Hour
	}
	if c.FFTT.BatchSize == 0 {
		c.FFTT.BatchSize = 10
	}
	if c.FFTT.RequestsPerSecond == 0 {
		c.FFTT.RequestsPerSecond = 20
	}
	if c.FFTT.Burst == 0 {
		c.FFTT.Burst = 10
	}
	if c.FFTT.Timeout == 0 {
		c.FFTT.Timeout = 10 * time.Second
	}

	// Cache defaults
	if c.Cache.PlayersTTL == 0 {
		c.Cache.PlayersTTL = 10 * time.Minute
	}
	if c.Cache.StatsTTL == 0 {
		c.Cache.StatsTTL = 10 * time.Minute
	}

	// Refresh defaults
	if c.Refresh.RateLimitWindow == 0 {
		c.Refresh.RateLimitWindow = 60 * time.Second
	}
	if c.Refresh.GroupBy == "" {
		c.Refresh.GroupBy = GroupByEmail
	}

	// Schedule defaults
	if c.Schedule.Spec == "" {
		c.Schedule.Spec = "@every 1m"
	}
	if c.Schedule.Timeout == 0 {
		c.Schedule.Timeout = 2 * time.Minute
	}

	// Retry defaults
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = 1 * time.Second
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 10 * time.Second
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 2
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Schedule.Enabled = true
	cfg.FFTT.Enabled = true
	return cfg
}
