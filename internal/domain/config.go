package domain

import "time"

// Config holds the complete FuelGuard configuration.
type Config struct {
	// Server settings
	Server ServerConfig `koanf:"server" json:"server"`

	// Tier determines feature availability
	Tier Tier `koanf:"tier" json:"tier"`

	// Component configurations
	Repository RepositoryConfig `koanf:"repository" json:"repository"`
	Cache      CacheConfig      `koanf:"cache" json:"cache"`
	EventBus   EventBusConfig   `koanf:"eventbus" json:"eventBus"`

	// Detection pipeline
	Cases   CasesConfig   `koanf:"cases" json:"cases"`
	Alerts  AlertsConfig  `koanf:"alerts" json:"alerts"`
	Monitor MonitorConfig `koanf:"monitor" json:"monitor"`
	Seed    SeedConfig    `koanf:"seed" json:"seed"`

	// Ingest enables the bus-driven event worker.
	Ingest bool `koanf:"ingest" json:"ingest"`

	// Observability
	Logging LoggingConfig `koanf:"logging" json:"logging"`
	Tracing TracingConfig `koanf:"tracing" json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `koanf:"host" json:"host"`
	Port         int    `koanf:"port" json:"port"`
	ReadTimeout  int    `koanf:"read_timeout" json:"readTimeout"`   // seconds
	WriteTimeout int    `koanf:"write_timeout" json:"writeTimeout"` // seconds

	// CORSOrigins lists browser origins allowed to call the API; empty allows any.
	CORSOrigins []string `koanf:"cors_origins" json:"corsOrigins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" json:"level"`   // debug, info, warn, error
	Format string `koanf:"format" json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `koanf:"enabled" json:"enabled"`
	ServiceName string `koanf:"service_name" json:"serviceName"`
}

// CasesConfig controls case persistence.
type CasesConfig struct {
	// PersistRetries is how many times a failed insert is retried before the
	// case is reported as lost.
	PersistRetries int           `koanf:"persist_retries" json:"persistRetries"`
	RetryInterval  time.Duration `koanf:"retry_interval" json:"retryInterval"`

	// ForwardToBus publishes every new case on the event bus.
	ForwardToBus bool `koanf:"forward_to_bus" json:"forwardToBus"`
}

// AlertsConfig controls websocket alert delivery.
type AlertsConfig struct {
	ClientBuffer int `koanf:"client_buffer" json:"clientBuffer"`
}

// LoopConfig configures one background monitoring loop.
type LoopConfig struct {
	Enabled  bool          `koanf:"enabled" json:"enabled"`
	Interval time.Duration `koanf:"interval" json:"interval"`
	Lookback time.Duration `koanf:"lookback" json:"lookback"`
}

// MonitorConfig holds the per-domain monitoring loops.
type MonitorConfig struct {
	Enabled     bool       `koanf:"enabled" json:"enabled"`
	Pump        LoopConfig `koanf:"pump" json:"pump"`
	Driver      LoopConfig `koanf:"driver" json:"driver"`
	Inventory   LoopConfig `koanf:"inventory" json:"inventory"`
	Transaction LoopConfig `koanf:"transaction" json:"transaction"`
	Pricing     LoopConfig `koanf:"pricing" json:"pricing"`
	Document    LoopConfig `koanf:"document" json:"document"`
}

// LongestLookback is the widest window any loop scans. A scored-record
// marker must outlive it or the loop would pick the record up again.
func (m MonitorConfig) LongestLookback() time.Duration {
	var longest time.Duration
	for _, l := range []LoopConfig{m.Pump, m.Driver, m.Inventory, m.Transaction, m.Pricing, m.Document} {
		w := l.Lookback
		if w <= 0 {
			w = l.Interval
		}
		if w > longest {
			longest = w
		}
	}
	return longest
}

// SeedConfig controls loading the built-in catalogues into an empty store.
type SeedConfig struct {
	Rules    bool `koanf:"rules" json:"rules"`
	Patterns bool `koanf:"patterns" json:"patterns"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./fuelguard.db",
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
		Cases: CasesConfig{
			PersistRetries: 3,
			RetryInterval:  200 * time.Millisecond,
		},
		Alerts: AlertsConfig{
			ClientBuffer: 64,
		},
		Monitor: MonitorConfig{
			Enabled:     true,
			Pump:        LoopConfig{Enabled: true, Interval: 30 * time.Second, Lookback: 5 * time.Minute},
			Driver:      LoopConfig{Enabled: true, Interval: 60 * time.Second, Lookback: 15 * time.Minute},
			Inventory:   LoopConfig{Enabled: true, Interval: 300 * time.Second, Lookback: time.Hour},
			Transaction: LoopConfig{Interval: 60 * time.Second, Lookback: 5 * time.Minute},
			Pricing:     LoopConfig{Interval: 300 * time.Second, Lookback: time.Hour},
			Document:    LoopConfig{Interval: 600 * time.Second, Lookback: time.Hour},
		},
		Seed: SeedConfig{
			Rules:    true,
			Patterns: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "fuelguard",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "fuelguard",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		KeyPrefix:      "fuelguard:",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "fuelguard-ingest",
	}
	cfg.Cases.ForwardToBus = true
	cfg.Cases.PersistRetries = 5
	cfg.Ingest = true
	cfg.Tracing.Enabled = true
	return cfg
}
