package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
node:
  id: node-a
vector_clock:
  max_entries: 50
  gc_threshold: 0.5
store:
  backend: redis
  persist_timeout: 250ms
redis:
  host: redis.internal
transport:
  enabled: true
  port: 6000
  peers: ["node-b:6000", "node-c:6000"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "node-a", cfg.Node.ID)
	assert.Equal(t, 50, cfg.VectorClock.MaxEntries)
	assert.Equal(t, 0.5, cfg.VectorClock.GCThreshold)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Store.PersistTimeout)
	assert.Equal(t, "redis.internal", cfg.Redis.Host)
	assert.Equal(t, 6379, cfg.Redis.Port, "unset keys keep their default")
	assert.Equal(t, []string{"node-b:6000", "node-c:6000"}, cfg.Transport.Peers)
	assert.Equal(t, 100, cfg.VersionVector.HistoryLimit)
	assert.Equal(t, time.Second, cfg.Sync.Interval)
}

func TestLoad_MissingFileUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("CAUSALITY_NODE_ID", "env-node")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("DATABASE_NAME", "events")
	t.Setenv("TRANSPORT_PEERS", "a:1, b:2,,")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "env-node", cfg.Node.ID)
	assert.Equal(t, 6380, cfg.Redis.Port)
	assert.Equal(t, "events", cfg.Database.Database)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Transport.Peers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	t.Setenv("CAUSALITY_NODE_ID", "from-env")
	path := writeConfig(t, "node:\n  id: from-file\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Node.ID)
}

func TestLoad_InvalidFile(t *testing.T) {
	path := writeConfig(t, "node: [unterminated\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RequiresNodeID(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node.id is required")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"node id with colon", func(c *Config) { c.Node.ID = "a:b" }, "node.id"},
		{"gc threshold above one", func(c *Config) { c.VectorClock.GCThreshold = 1.5 }, "gc_threshold"},
		{"zero max entries", func(c *Config) { c.VectorClock.MaxEntries = 0 }, "max_entries"},
		{"zero history", func(c *Config) { c.VersionVector.HistoryLimit = 0 }, "history_limit"},
		{"unknown strategy", func(c *Config) { c.Conflict.DefaultStrategy = "coin-flip" }, "default_strategy"},
		{"unknown store", func(c *Config) { c.Store.Backend = "etcd" }, "store.backend"},
		{"redis without host", func(c *Config) { c.Store.Backend = "redis"; c.Redis.Host = "" }, "redis.host"},
		{"unknown event log", func(c *Config) { c.EventLog.Backend = "kafka" }, "event_log.backend"},
		{"postgres without user", func(c *Config) { c.EventLog.Backend = "postgres"; c.Database.User = "" }, "database"},
		{"negative retention", func(c *Config) { c.EventLog.Retention = -time.Second }, "retention"},
		{"bad transport port", func(c *Config) { c.Transport.Enabled = true; c.Transport.Port = 0 }, "transport.port"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Node.ID = "n1"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_FillsDerivedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Node.ID = "n1"
	cfg.Lamport.SyncInterval = 3 * time.Second
	cfg.Sync.Interval = 0
	cfg.Store.PersistTimeout = 0
	cfg.Conflict.DefaultStrategy = ""
	cfg.Logging = LoggingConfig{}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 500*time.Millisecond, cfg.Store.PersistTimeout)
	assert.Equal(t, "merge", cfg.Conflict.DefaultStrategy)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestYAML_MasksPasswords(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Node.ID = "n1"
	cfg.Redis.Password = "secret"
	cfg.Database.Password = "hunter2"

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "secret")
	assert.NotContains(t, string(out), "hunter2")
	assert.Equal(t, "secret", cfg.Redis.Password, "the original config is untouched")

	var decoded Config
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Equal(t, "n1", decoded.Node.ID)
	assert.Equal(t, cfg.VectorClock, decoded.VectorClock)
}

func TestTransportAdvertiseAddr(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "0.0.0.0:50061", cfg.TransportAdvertiseAddr())

	cfg.Transport.AdvertiseAddr = "10.1.2.3:50061"
	assert.Equal(t, "10.1.2.3:50061", cfg.TransportAdvertiseAddr())
}
