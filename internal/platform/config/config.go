// Package config loads node configuration from defaults, an optional YAML file
// and ACCORD_* environment variables, in that order of precedence.
package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"accord/internal/precedent/models"
	id "accord/pkg/domain"
	dErrors "accord/pkg/domain-errors"
)

// Config is the full node configuration.
type Config struct {
	NodeID      string               `yaml:"node_id"`
	Environment string               `yaml:"environment"`
	Log         LogConfig            `yaml:"log"`
	Server      Server               `yaml:"server"`
	Privacy     models.PrivacyConfig `yaml:"privacy"`
	Federation  FederationConfig     `yaml:"federation"`
	Embedding   EmbeddingConfig      `yaml:"embedding"`
	Database    DatabaseConfig       `yaml:"database"`
	Redis       RedisConfig          `yaml:"redis"`
	Kafka       KafkaConfig          `yaml:"kafka"`
	RateLimit   RateLimitConfig      `yaml:"rate_limit"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// Server captures the operations HTTP endpoint.
type Server struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// FederationConfig tunes the sync protocol.
type FederationConfig struct {
	ProtocolVersion string `yaml:"protocol_version"`
	HistoryCapacity int    `yaml:"history_capacity"`
	WireFormat      string `yaml:"wire_format"`
}

// EmbeddingConfig tunes the in-process hashing embedder.
type EmbeddingConfig struct {
	Dimensions int `yaml:"dimensions"`
	Workers    int `yaml:"workers"`
}

// DatabaseConfig points at the Postgres instance holding bundles and the audit
// outbox. An empty URL keeps everything in memory.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig points at the Redis instance holding the synced bundle ledger.
// An empty URL keeps the ledger in memory.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	KeyPrefix    string        `yaml:"key_prefix"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// KafkaConfig enables relaying audit outbox entries to a topic. No brokers
// disables the relay.
type KafkaConfig struct {
	Brokers           []string      `yaml:"brokers"`
	ClientID          string        `yaml:"client_id"`
	AuditTopic        string        `yaml:"audit_topic"`
	Partitions        int32         `yaml:"partitions"`
	ReplicationFactor int16         `yaml:"replication_factor"`
	RelayInterval     time.Duration `yaml:"relay_interval"`
	RelayBatchSize    int           `yaml:"relay_batch_size"`
}

// RateLimitConfig throttles inbound sync requests per peer. SyncRequests of
// zero disables the limiter.
type RateLimitConfig struct {
	SyncRequests int           `yaml:"sync_requests"`
	Window       time.Duration `yaml:"window"`
}

// Default returns a configuration that runs a single in-memory node.
func Default() Config {
	return Config{
		NodeID:      "node-local",
		Environment: "development",
		Log:         LogConfig{Level: "info", Format: "json"},
		Server:      Server{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Privacy:     models.DefaultPrivacyConfig(),
		Federation: FederationConfig{
			ProtocolVersion: string(id.ProtocolVersionV1),
			HistoryCapacity: 1000,
			WireFormat:      "json",
		},
		Embedding: EmbeddingConfig{Dimensions: 256, Workers: 8},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			KeyPrefix:    "accord",
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			ClientID:          "accord",
			AuditTopic:        "accord.audit",
			Partitions:        3,
			ReplicationFactor: 1,
			RelayInterval:     2 * time.Second,
			RelayBatchSize:    100,
		},
		RateLimit: RateLimitConfig{SyncRequests: 60, Window: time.Minute},
	}
}

// FromEnv builds the configuration from defaults and environment variables.
func FromEnv() (Config, error) {
	return Load("")
}

// Load reads defaults, then the YAML file at path when path is non-empty,
// then environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, dErrors.Wrap(err, dErrors.CodeInvalidConfiguration, "failed to read config file")
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, dErrors.Wrap(err, dErrors.CodeInvalidConfiguration, "failed to parse config file")
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if _, err := id.ParseNodeID(c.NodeID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidConfiguration, "invalid node_id")
	}
	if err := c.Privacy.Validate(); err != nil {
		return err
	}
	if _, err := id.ParseProtocolVersion(c.Federation.ProtocolVersion); err != nil {
		return err
	}
	if c.Federation.HistoryCapacity < 1 {
		return dErrors.New(dErrors.CodeInvalidConfiguration, "federation.history_capacity must be positive")
	}
	switch strings.ToLower(c.Federation.WireFormat) {
	case "json", "cbor":
	default:
		return dErrors.Newf(dErrors.CodeInvalidConfiguration, "federation.wire_format %q is not json or cbor", c.Federation.WireFormat)
	}
	if c.Embedding.Dimensions < 8 {
		return dErrors.New(dErrors.CodeInvalidConfiguration, "embedding.dimensions must be at least 8")
	}
	if c.RateLimit.SyncRequests < 0 {
		return dErrors.New(dErrors.CodeInvalidConfiguration, "rate_limit.sync_requests must not be negative")
	}
	if c.RateLimit.SyncRequests > 0 && c.RateLimit.Window <= 0 {
		return dErrors.New(dErrors.CodeInvalidConfiguration, "rate_limit.window must be positive")
	}
	if len(c.Kafka.Brokers) > 0 && c.Database.URL == "" {
		return dErrors.New(dErrors.CodeInvalidConfiguration, "kafka audit relay requires database.url for the outbox")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.AuditTopic == "" {
		return dErrors.New(dErrors.CodeInvalidConfiguration, "kafka.audit_topic is required when brokers are set")
	}
	return nil
}

// RelayEnabled reports whether audit events are relayed to Kafka.
func (c Config) RelayEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}
