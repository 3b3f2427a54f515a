package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Notification backends
const (
	NotificationBackendLog   = "log"
	NotificationBackendRedis = "redis"
	NotificationBackendKafka = "kafka"
)

// Config is the process configuration, one field per TOML section.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Log          LogConfig          `mapstructure:"log"`
	Stripe       StripeConfig       `mapstructure:"stripe"`
	Reconciler   ReconcilerConfig   `mapstructure:"reconciler"`
	Notification NotificationConfig `mapstructure:"notification"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
	Output string `mapstructure:"output"` // stdout, stderr or a file path
}

// AppConfig names the deployment. Env "production" turns on the stricter checks in validate.
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Port string `mapstructure:"port"`
}

// DatabaseConfig is the PostgreSQL connection and pool sizing.
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`  // minutes
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"` // minutes
	LogLevel        string `mapstructure:"log_level"`
	// StatementCacheSize caps the prepared statements kept per pool.
	// IN-list queries prepare one statement per distinct list length.
	StatementCacheSize int `mapstructure:"statement_cache_size"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns host:port for the go-redis client.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// StripeConfig holds the provider credentials and the plan price lookup keys.
type StripeConfig struct {
	SecretKey          string `mapstructure:"secret_key"`
	IsTestMode         bool   `mapstructure:"is_test_mode"`
	MaxNetworkRetries  int64  `mapstructure:"max_network_retries"`
	FreePriceLookupKey string `mapstructure:"free_price_lookup_key"`
	PaidPriceLookupKey string `mapstructure:"paid_price_lookup_key"`
	// "model/mode" -> price lookup key. Read with GetStringMapString because
	// model names may contain dots, which viper would treat as nesting.
	ModelPriceLookupKeys map[string]string `mapstructure:"-"`
}

// ReconcilerConfig drives the two periodic loops.
type ReconcilerConfig struct {
	EventReconciliationEnabled bool          `mapstructure:"event_reconciliation_enabled"`
	UsageSyncEnabled           bool          `mapstructure:"usage_sync_enabled"`
	EventPollInterval          time.Duration `mapstructure:"event_poll_interval"`
	EventsPageSize             int64         `mapstructure:"events_page_size"`
	StalePageThreshold         int           `mapstructure:"stale_page_threshold"`
	EventStalenessHorizon      time.Duration `mapstructure:"event_staleness_horizon"`
	UsageSyncInterval          time.Duration `mapstructure:"usage_sync_interval"`
	TickTimeout                time.Duration `mapstructure:"tick_timeout"`
	ShutdownTimeout            time.Duration `mapstructure:"shutdown_timeout"`
}

type NotificationConfig struct {
	Backend      string        `mapstructure:"backend"` // log, redis, kafka
	Channel      string        `mapstructure:"channel"` // Redis channel or Kafka topic
	MaxRetries   uint64        `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	QueueSize    int           `mapstructure:"queue_size"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

type HTTPConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
	TrustedProxies []string      `mapstructure:"trusted_proxies"`

	// OperatorSecret signs the bearer tokens required on state-changing API
	// routes. Empty leaves those routes open outside production.
	OperatorSecret   string        `mapstructure:"operator_secret"`
	OperatorIssuer   string        `mapstructure:"operator_issuer"`
	OperatorTokenTTL time.Duration `mapstructure:"operator_token_ttl"`
}

// TelemetryConfig controls OTLP span export. ServiceName falls back to app.name.
type TelemetryConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	CollectorEndpoint string  `mapstructure:"collector_endpoint"` // host:port of the OTLP/gRPC collector
	SamplingRatio     float64 `mapstructure:"sampling_ratio"`     // 0..1
	ServiceName       string  `mapstructure:"service_name"`
	Insecure          bool    `mapstructure:"insecure"`
}

// defaults lists every key. Env overrides only reach Unmarshal for keys
// viper already knows, so secrets are registered here with empty values.
var defaults = map[string]any{
	"app.name": "stripe-reconciler",
	"app.env":  "development",
	"app.port": "8080",

	"database.host":                 "localhost",
	"database.port":                 5432,
	"database.user":                 "postgres",
	"database.password":             "",
	"database.dbname":               "reconciler",
	"database.sslmode":              "disable",
	"database.max_open_conns":       10,
	"database.max_idle_conns":       5,
	"database.conn_max_lifetime":    60,
	"database.conn_max_idle_time":   30,
	"database.log_level":            "warn",
	"database.statement_cache_size": 128,

	"redis.host":     "localhost",
	"redis.port":     6379,
	"redis.password": "",
	"redis.db":       0,

	"kafka.brokers":       []string{"localhost:9092"},
	"kafka.batch_timeout": 10 * time.Millisecond,

	"log.level":  "info",
	"log.format": "console",
	"log.output": "stdout",

	"stripe.secret_key":            "",
	"stripe.is_test_mode":          true,
	"stripe.max_network_retries":   2,
	"stripe.free_price_lookup_key": "free-plan",
	"stripe.paid_price_lookup_key": "pro-plan",

	"reconciler.event_reconciliation_enabled": true,
	"reconciler.usage_sync_enabled":           true,
	"reconciler.event_poll_interval":          5 * time.Second,
	"reconciler.events_page_size":             100,
	"reconciler.stale_page_threshold":         4,
	"reconciler.event_staleness_horizon":      24 * time.Hour,
	"reconciler.usage_sync_interval":          60 * time.Second,
	"reconciler.tick_timeout":                 5 * time.Minute,
	"reconciler.shutdown_timeout":             30 * time.Second,

	"notification.backend":       NotificationBackendLog,
	"notification.channel":       "billing.notifications",
	"notification.max_retries":   3,
	"notification.retry_backoff": 200 * time.Millisecond,
	"notification.queue_size":    256,
	"notification.drain_timeout": 5 * time.Second,

	"http.enabled":            true,
	"http.read_timeout":       15 * time.Second,
	"http.write_timeout":      15 * time.Second,
	"http.idle_timeout":       60 * time.Second,
	"http.max_header_bytes":   1 << 20,
	"http.trusted_proxies":    []string{},
	"http.operator_secret":    "",
	"http.operator_issuer":    "stripe-reconciler",
	"http.operator_token_ttl": time.Hour,

	"telemetry.enabled":            false,
	"telemetry.collector_endpoint": "localhost:4317",
	"telemetry.sampling_ratio":     1.0,
	"telemetry.service_name":       "",
	"telemetry.insecure":           false,
}

// Load reads config.toml from the working directory or /app, then applies
// RECONCILER_<SECTION>_<KEY> environment overrides on top of the defaults,
// and validates the result.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase is Load restricted to the [database] checks, so the migration
// tool runs without provider credentials.
func LoadDatabase() (*DatabaseConfig, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.validateDatabase(); err != nil {
		return nil, err
	}
	return &cfg.Database, nil
}

// LoadHTTP is Load restricted to the operator auth checks, so tokens can be
// minted without provider credentials.
func LoadHTTP() (*HTTPConfig, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.validateOperatorAuth(); err != nil {
		return nil, err
	}
	return &cfg.HTTP, nil
}

// defaultConfig returns the configuration used when no file or environment is present.
func defaultConfig() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(fmt.Sprintf("config: defaults do not decode: %v", err))
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix("RECONCILER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func read() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.Stripe.ModelPriceLookupKeys = v.GetStringMapString("stripe.model_price_lookup_keys")
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	r := c.Reconciler
	if r.EventPollInterval <= 0 {
		return fmt.Errorf("reconciler.event_poll_interval must be positive")
	}
	if r.UsageSyncInterval <= 0 {
		return fmt.Errorf("reconciler.usage_sync_interval must be positive")
	}
	if r.TickTimeout <= 0 {
		return fmt.Errorf("reconciler.tick_timeout must be positive")
	}
	if r.EventStalenessHorizon <= 0 {
		return fmt.Errorf("reconciler.event_staleness_horizon must be positive")
	}
	if r.EventsPageSize < 1 || r.EventsPageSize > 100 {
		return fmt.Errorf("reconciler.events_page_size must be between 1 and 100, got %d", r.EventsPageSize)
	}
	if r.StalePageThreshold < 1 {
		return fmt.Errorf("reconciler.stale_page_threshold must be at least 1")
	}
	if (r.EventReconciliationEnabled || r.UsageSyncEnabled) && c.Stripe.SecretKey == "" {
		return fmt.Errorf("stripe.secret_key is required while a reconciliation loop is enabled")
	}

	switch c.Notification.Backend {
	case NotificationBackendLog, NotificationBackendRedis, NotificationBackendKafka:
	default:
		return fmt.Errorf("notification.backend must be one of log, redis, kafka, got %q", c.Notification.Backend)
	}

	if c.App.Env == "production" && c.Stripe.IsTestMode {
		return errors.New("stripe.is_test_mode must be false in production")
	}
	if err := c.validateOperatorAuth(); err != nil {
		return err
	}
	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		return fmt.Errorf("telemetry.sampling_ratio must be within [0, 1], got %g", c.Telemetry.SamplingRatio)
	}

	return nil
}

func (c *Config) validateDatabase() error {
	db := c.Database
	switch {
	case db.MaxOpenConns <= 0:
		return errors.New("database.max_open_conns must be positive")
	case db.MaxIdleConns < 0:
		return errors.New("database.max_idle_conns cannot be negative")
	case db.MaxIdleConns > db.MaxOpenConns:
		return fmt.Errorf("database.max_idle_conns (%d) exceeds database.max_open_conns (%d)", db.MaxIdleConns, db.MaxOpenConns)
	case db.StatementCacheSize <= 0:
		return errors.New("database.statement_cache_size must be positive")
	}
	if c.App.Env != "production" {
		return nil
	}
	if db.Password == "" {
		return errors.New("database.password is required in production")
	}
	if db.SSLMode == "disable" {
		return errors.New("database.sslmode must not be disable in production")
	}
	return nil
}

// minOperatorSecretLen is the HS256 key size
const minOperatorSecretLen = 32

func (c *Config) validateOperatorAuth() error {
	h := c.HTTP
	switch {
	case h.OperatorSecret == "" && c.App.Env == "production" && h.Enabled:
		return errors.New("http.operator_secret is required in production")
	case h.OperatorSecret != "" && len(h.OperatorSecret) < minOperatorSecretLen:
		return fmt.Errorf("http.operator_secret must be at least %d bytes", minOperatorSecretLen)
	case h.OperatorTokenTTL <= 0:
		return errors.New("http.operator_token_ttl must be positive")
	}
	return nil
}

// DSN renders a postgres:// URL; credentials are percent-encoded.
func (d *DatabaseConfig) DSN() string {
	return (&url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     d.DBName,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}).String()
}
