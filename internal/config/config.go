package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the causality node configuration
type Config struct {
	Node          NodeConfig          `mapstructure:"node" yaml:"node"`
	Lamport       LamportConfig       `mapstructure:"lamport" yaml:"lamport"`
	VectorClock   VectorClockConfig   `mapstructure:"vector_clock" yaml:"vector_clock"`
	VersionVector VersionVectorConfig `mapstructure:"version_vector" yaml:"version_vector"`
	Conflict      ConflictConfig      `mapstructure:"conflict" yaml:"conflict"`
	Store         StoreConfig         `mapstructure:"store" yaml:"store"`
	Redis         RedisConfig         `mapstructure:"redis" yaml:"redis"`
	EventLog      EventLogConfig      `mapstructure:"event_log" yaml:"event_log"`
	Database      DatabaseConfig      `mapstructure:"database" yaml:"database"`
	Sync          SyncConfig          `mapstructure:"sync" yaml:"sync"`
	Membership    MembershipConfig    `mapstructure:"membership" yaml:"membership"`
	Transport     TransportConfig     `mapstructure:"transport" yaml:"transport"`
	Metrics       MetricsConfig       `mapstructure:"metrics" yaml:"metrics"`
	Health        HealthConfig        `mapstructure:"health" yaml:"health"`
	Logging       LoggingConfig       `mapstructure:"logging" yaml:"logging"`
	Server        ServerConfig        `mapstructure:"server" yaml:"server"`
}

// NodeConfig identifies the local node
type NodeConfig struct {
	ID string `mapstructure:"id" yaml:"id"`
}

// LamportConfig configures the Lamport clock
type LamportConfig struct {
	PersistenceEnabled bool          `mapstructure:"persistence_enabled" yaml:"persistence_enabled"`
	SyncInterval       time.Duration `mapstructure:"sync_interval" yaml:"sync_interval"`
}

// VectorClockConfig configures vector clock garbage collection
type VectorClockConfig struct {
	MaxEntries  int     `mapstructure:"max_entries" yaml:"max_entries"`
	GCThreshold float64 `mapstructure:"gc_threshold" yaml:"gc_threshold"`
}

// VersionVectorConfig configures version vector history
type VersionVectorConfig struct {
	HistoryLimit      int `mapstructure:"history_limit" yaml:"history_limit"`
	MergeHistoryLimit int `mapstructure:"merge_history_limit" yaml:"merge_history_limit"`
}

// ConflictConfig configures conflict detection
type ConflictConfig struct {
	Window          int    `mapstructure:"window" yaml:"window"`
	DefaultLimit    int    `mapstructure:"default_limit" yaml:"default_limit"`
	DefaultStrategy string `mapstructure:"default_strategy" yaml:"default_strategy"`
}

// StoreConfig selects the durable state store
type StoreConfig struct {
	Backend        string        `mapstructure:"backend" yaml:"backend"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout" yaml:"persist_timeout"`
}

// RedisConfig represents the Redis state store connection
type RedisConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	PoolSize int    `mapstructure:"pool_size" yaml:"pool_size"`
}

// EventLogConfig selects the event log backend
type EventLogConfig struct {
	Backend   string        `mapstructure:"backend" yaml:"backend"`
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

// DatabaseConfig represents the PostgreSQL event log connection
type DatabaseConfig struct {
	Host           string `mapstructure:"host" yaml:"host"`
	Port           int    `mapstructure:"port" yaml:"port"`
	Database       string `mapstructure:"database" yaml:"database"`
	User           string `mapstructure:"user" yaml:"user"`
	Password       string `mapstructure:"password" yaml:"password"`
	MaxConnections int    `mapstructure:"max_connections" yaml:"max_connections"`
	MinConnections int    `mapstructure:"min_connections" yaml:"min_connections"`
}

// SyncConfig configures the periodic sync sweep
type SyncConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// MembershipConfig configures gossip membership
type MembershipConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	BindAddr          string        `mapstructure:"bind_addr" yaml:"bind_addr"`
	BindPort          int           `mapstructure:"bind_port" yaml:"bind_port"`
	SeedNodes         []string      `mapstructure:"seed_nodes" yaml:"seed_nodes"`
	GossipInterval    time.Duration `mapstructure:"gossip_interval" yaml:"gossip_interval"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	ProbeInterval     time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
	UnregisterOnLeave bool          `mapstructure:"unregister_on_leave" yaml:"unregister_on_leave"`
}

// TransportConfig configures the gRPC timestamp exchange
type TransportConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Host           string        `mapstructure:"host" yaml:"host"`
	Port           int           `mapstructure:"port" yaml:"port"`
	AdvertiseAddr  string        `mapstructure:"advertise_addr" yaml:"advertise_addr"`
	Peers          []string      `mapstructure:"peers" yaml:"peers"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout" yaml:"publish_timeout"`
	PublishWorkers int           `mapstructure:"publish_workers" yaml:"publish_workers"`
	QueueSize      int           `mapstructure:"queue_size" yaml:"queue_size"`
	RateLimit      float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst          int           `mapstructure:"burst" yaml:"burst"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port" yaml:"port"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// HealthConfig represents the health probe server
type HealthConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ServerConfig represents process lifecycle settings
type ServerConfig struct {
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Lamport: LamportConfig{
			PersistenceEnabled: true,
			SyncInterval:       time.Second,
		},
		VectorClock: VectorClockConfig{
			MaxEntries:  1000,
			GCThreshold: 0.8,
		},
		VersionVector: VersionVectorConfig{
			HistoryLimit:      100,
			MergeHistoryLimit: 50,
		},
		Conflict: ConflictConfig{
			Window:          100,
			DefaultLimit:    10,
			DefaultStrategy: "merge",
		},
		Store: StoreConfig{
			Backend:        "memory",
			PersistTimeout: 500 * time.Millisecond,
		},
		Redis: RedisConfig{
			Host:     "localhost",
			Port:     6379,
			PoolSize: 100,
		},
		EventLog: EventLogConfig{
			Backend: "memory",
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "causality",
			User:           "causality",
			MaxConnections: 20,
			MinConnections: 2,
		},
		Sync: SyncConfig{
			Enabled:  true,
			Interval: time.Second,
		},
		Membership: MembershipConfig{
			Enabled:        false,
			BindPort:       7946,
			GossipInterval: 200 * time.Millisecond,
			ProbeTimeout:   500 * time.Millisecond,
			ProbeInterval:  time.Second,
		},
		Transport: TransportConfig{
			Enabled:        false,
			Host:           "0.0.0.0",
			Port:           50061,
			PublishTimeout: 2 * time.Second,
			PublishWorkers: 4,
			QueueSize:      1024,
			RateLimit:      0,
			Burst:          100,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Health: HealthConfig{
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

// Validate validates the configuration and fills derived defaults
func (c *Config) Validate() error {
	if c.Node.ID == "" {
		return errors.New("node.id is required")
	}
	if strings.ContainsAny(c.Node.ID, ": \t\n") {
		return errors.New("node.id cannot contain ':' or whitespace")
	}
	if c.VectorClock.MaxEntries <= 0 {
		return errors.New("vector_clock.max_entries must be positive")
	}
	if c.VectorClock.GCThreshold <= 0 || c.VectorClock.GCThreshold > 1 {
		return errors.New("vector_clock.gc_threshold must be in (0, 1]")
	}
	if c.VersionVector.HistoryLimit <= 0 {
		return errors.New("version_vector.history_limit must be positive")
	}
	if c.VersionVector.MergeHistoryLimit <= 0 {
		return errors.New("version_vector.merge_history_limit must be positive")
	}
	if c.Conflict.Window <= 0 {
		return errors.New("conflict.window must be positive")
	}
	if c.Conflict.DefaultLimit <= 0 {
		c.Conflict.DefaultLimit = 10
	}
	switch c.Conflict.DefaultStrategy {
	case "":
		c.Conflict.DefaultStrategy = "merge"
	case "merge", "last-write-wins", "manual":
	default:
		return errors.New("conflict.default_strategy must be one of: merge, last-write-wins, manual")
	}

	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Redis.Host == "" {
			return errors.New("redis.host is required when store.backend is redis")
		}
	default:
		return fmt.Errorf("store.backend must be one of: memory, redis (got %q)", c.Store.Backend)
	}
	if c.Store.PersistTimeout <= 0 {
		c.Store.PersistTimeout = 500 * time.Millisecond
	}

	switch c.EventLog.Backend {
	case "memory":
	case "postgres":
		if c.Database.Host == "" || c.Database.Database == "" || c.Database.User == "" {
			return errors.New("database.host, database.database and database.user are required when event_log.backend is postgres")
		}
	default:
		return fmt.Errorf("event_log.backend must be one of: memory, postgres (got %q)", c.EventLog.Backend)
	}
	if c.EventLog.Retention < 0 {
		return errors.New("event_log.retention cannot be negative")
	}

	if c.Sync.Interval <= 0 {
		c.Sync.Interval = c.Lamport.SyncInterval
	}
	if c.Sync.Enabled && c.Sync.Interval <= 0 {
		return errors.New("sync.interval must be positive when sync is enabled")
	}

	if c.Transport.Enabled && (c.Transport.Port <= 0 || c.Transport.Port > 65535) {
		return errors.New("transport.port must be between 1 and 65535")
	}
	if c.Transport.RateLimit < 0 {
		return errors.New("transport.rate_limit cannot be negative")
	}
	if c.Membership.Enabled && (c.Membership.BindPort < 0 || c.Membership.BindPort > 65535) {
		return errors.New("membership.bind_port must be between 0 and 65535")
	}
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	switch c.Logging.Level {
	case "":
		c.Logging.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return errors.New("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "":
		c.Logging.Format = "json"
	case "json", "console":
	default:
		return errors.New("logging.format must be one of: json, console")
	}
	return nil
}

// TransportAdvertiseAddr is the exchange address gossiped to peers
func (c *Config) TransportAdvertiseAddr() string {
	if c.Transport.AdvertiseAddr != "" {
		return c.Transport.AdvertiseAddr
	}
	return fmt.Sprintf("%s:%d", c.Transport.Host, c.Transport.Port)
}

// YAML renders the effective configuration. Passwords are masked.
func (c *Config) YAML() ([]byte, error) {
	masked := *c
	if masked.Redis.Password != "" {
		masked.Redis.Password = "******"
	}
	if masked.Database.Password != "" {
		masked.Database.Password = "******"
	}
	return yaml.Marshal(&masked)
}
