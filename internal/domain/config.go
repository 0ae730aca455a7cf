package domain

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the complete Kestrel configuration. It is threaded
// explicitly through constructors; there is no ambient/global state.
type Config struct {
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier determines component backends (sqlite/channel/memory vs
	// postgres/nats/redis).
	Tier Tier `json:"tier" yaml:"tier"`

	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"eventBus"`

	// Agent is the external scoring/training service relay target.
	Agent AgentConfig `json:"agent" yaml:"agent"`

	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"readTimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"writeTimeout"` // seconds
}

// AgentConfig holds settings for the external scoring agent relay.
type AgentConfig struct {
	BaseURL string `json:"baseUrl" yaml:"baseUrl"`
	Timeout int    `json:"timeout" yaml:"timeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"serviceName"`
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-memory LRU.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis.
	TierPro Tier = "pro"
)

// DefaultConfig returns a Community tier configuration.
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
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Agent: AgentConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 180,
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

// ProConfig returns a Pro tier configuration.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
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

// LoadConfigFile overlays a YAML config file onto cfg in place.
func LoadConfigFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Currency describes one supported settlement currency: display label,
// symbol, and the exchange multiplier applied to generated monetary fields.
type Currency struct {
	Code   string  `json:"code"`
	Label  string  `json:"label"`
	Symbol string  `json:"symbol"`
	FX     float64 `json:"fx"`
}

// Currencies is the supported currency table, keyed by code.
var Currencies = map[string]Currency{
	"USD": {Code: "USD", Label: "USD $", Symbol: "$", FX: 1.0},
	"EUR": {Code: "EUR", Label: "EUR €", Symbol: "€", FX: 0.93},
	"GBP": {Code: "GBP", Label: "GBP £", Symbol: "£", FX: 0.80},
	"JPY": {Code: "JPY", Label: "JPY ¥", Symbol: "¥", FX: 150.0},
	"VND": {Code: "VND", Label: "VND ₫", Symbol: "₫", FX: 24000.0},
}

// CurrencyOrDefault resolves a currency code, falling back to USD.
func CurrencyOrDefault(code string) Currency {
	if c, ok := Currencies[code]; ok {
		return c
	}
	return Currencies["USD"]
}
