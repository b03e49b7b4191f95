package domain

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Component configurations
	Store    StoreConfig    `json:"store"`
	Cache    CacheConfig    `json:"cache"`
	EventBus EventBusConfig `json:"eventBus"`

	// Source is the external system transactions are pulled from.
	Source ConnectorConfig `json:"source"`

	// Sync tunables
	Sync SyncConfig `json:"sync"`

	// Detection tunables
	Detection DetectionConfig `json:"detection"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// SyncConfig holds synchronization run defaults. Per-run options can
// override each field.
type SyncConfig struct {
	BatchSize          int           `json:"batchSize"`
	MaxRecords         int           `json:"maxRecords"`
	DaysBack           int           `json:"daysBack"`
	DedupEnabled       bool          `json:"dedupEnabled"`
	DedupWindowMinutes int           `json:"dedupWindowMinutes"`
	MaxRetries         int           `json:"maxRetries"`
	RetryDelay         time.Duration `json:"retryDelay"`
	DedupRetention     time.Duration `json:"dedupRetention"`
}

// DetectionConfig holds detection engine tunables.
type DetectionConfig struct {
	// LookbackDays bounds how far back each run scans entity tables.
	LookbackDays int `json:"lookbackDays"`

	// GhostCancellationDelay is the minimum sale-to-cancel delay
	// before a cancellation is considered suspicious.
	GhostCancellationDelay time.Duration `json:"ghostCancellationDelay"`

	// PbmWindow is the half-width of the sale search window around an
	// approved authorization.
	PbmWindow time.Duration `json:"pbmWindow"`

	// NoSaleThreshold is the per-shift drawer opening count above
	// which an alert fires.
	NoSaleThreshold int `json:"noSaleThreshold"`

	// CpfThreshold is the occurrence count at or above which repeated
	// customer CPF use fires. Employee CPFs use CpfEmployeeThreshold.
	CpfThreshold         int `json:"cpfThreshold"`
	CpfEmployeeThreshold int `json:"cpfEmployeeThreshold"`

	// CashDiscrepancyMin is the minimum absolute cash difference, in
	// currency units, that fires an alert.
	CashDiscrepancyMin float64 `json:"cashDiscrepancyMin"`

	// RunOnSyncCompleted chains a detection run after each sync.
	RunOnSyncCompleted bool `json:"runOnSyncCompleted"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp
	Endpoint     string `json:"endpoint"`
}

// DefaultConfig returns a single-node configuration with SQLite,
// in-process channels and the local LRU cache.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Source: ConnectorConfig{
			Type:              DialectMySQL,
			Host:              "localhost",
			Port:              3306,
			Database:          "pos",
			Username:          "kestrel",
			ConnectionTimeout: 10 * time.Second,
		},
		Sync: SyncConfig{
			BatchSize:          500,
			MaxRecords:         50000,
			DaysBack:           7,
			DedupEnabled:       true,
			DedupWindowMinutes: 5,
			MaxRetries:         3,
			RetryDelay:         time.Second,
			DedupRetention:     30 * 24 * time.Hour,
		},
		Detection: DetectionConfig{
			LookbackDays:           30,
			GhostCancellationDelay: 60 * time.Second,
			PbmWindow:              5 * time.Minute,
			NoSaleThreshold:        3,
			CpfThreshold:           20,
			CpfEmployeeThreshold:   10,
			CashDiscrepancyMin:     10.0,
			RunOnSyncCompleted:     true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// DistributedConfig returns a configuration for multi-node deployments
// with PostgreSQL, NATS and Redis.
func DistributedConfig() *Config {
	cfg := DefaultConfig()
	cfg.Store = StoreConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:      "redis",
		RedisAddr: "localhost:6379",
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadConfig builds the configuration from the environment. A .env
// file in the working directory is read first when present; real
// environment variables win over it.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if os.Getenv("KESTREL_MODE") == "distributed" {
		cfg = DistributedConfig()
	}

	applyEnv(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	envString("KESTREL_HOST", &cfg.Server.Host)
	envInt("KESTREL_PORT", &cfg.Server.Port)

	envString("KESTREL_DB_DRIVER", &cfg.Store.Driver)
	envString("KESTREL_SQLITE_PATH", &cfg.Store.SQLitePath)
	envString("KESTREL_POSTGRES_HOST", &cfg.Store.PostgresHost)
	envInt("KESTREL_POSTGRES_PORT", &cfg.Store.PostgresPort)
	envString("KESTREL_POSTGRES_USER", &cfg.Store.PostgresUser)
	envString("KESTREL_POSTGRES_PASSWORD", &cfg.Store.PostgresPassword)
	envString("KESTREL_POSTGRES_DB", &cfg.Store.PostgresDB)
	envString("KESTREL_POSTGRES_SSLMODE", &cfg.Store.PostgresSSLMode)

	envString("KESTREL_CACHE_TYPE", &cfg.Cache.Type)
	envString("KESTREL_REDIS_ADDR", &cfg.Cache.RedisAddr)
	envString("KESTREL_REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	envInt("KESTREL_REDIS_DB", &cfg.Cache.RedisDB)

	envString("KESTREL_BUS_TYPE", &cfg.EventBus.Type)
	envString("KESTREL_NATS_URL", &cfg.EventBus.NATSUrl)
	envString("KESTREL_NATS_TOKEN", &cfg.EventBus.NATSToken)

	if v := os.Getenv("KESTREL_SOURCE_TYPE"); v != "" {
		cfg.Source.Type = DatabaseType(v)
	}
	envString("KESTREL_SOURCE_HOST", &cfg.Source.Host)
	envInt("KESTREL_SOURCE_PORT", &cfg.Source.Port)
	envString("KESTREL_SOURCE_DATABASE", &cfg.Source.Database)
	envString("KESTREL_SOURCE_USER", &cfg.Source.Username)
	envString("KESTREL_SOURCE_PASSWORD", &cfg.Source.Password)
	envBool("KESTREL_SOURCE_SSL", &cfg.Source.SSL)

	envInt("KESTREL_SYNC_BATCH_SIZE", &cfg.Sync.BatchSize)
	envInt("KESTREL_SYNC_MAX_RECORDS", &cfg.Sync.MaxRecords)
	envInt("KESTREL_SYNC_DAYS_BACK", &cfg.Sync.DaysBack)
	envBool("KESTREL_SYNC_DEDUP", &cfg.Sync.DedupEnabled)
	envInt("KESTREL_SYNC_DEDUP_WINDOW_MINUTES", &cfg.Sync.DedupWindowMinutes)
	envInt("KESTREL_SYNC_MAX_RETRIES", &cfg.Sync.MaxRetries)

	envBool("KESTREL_DETECT_ON_SYNC", &cfg.Detection.RunOnSyncCompleted)
	envInt("KESTREL_DETECT_LOOKBACK_DAYS", &cfg.Detection.LookbackDays)

	envString("KESTREL_LOG_LEVEL", &cfg.Logging.Level)
	envString("KESTREL_LOG_FORMAT", &cfg.Logging.Format)

	envBool("KESTREL_TRACING_ENABLED", &cfg.Tracing.Enabled)
	envString("KESTREL_TRACING_ENDPOINT", &cfg.Tracing.Endpoint)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
