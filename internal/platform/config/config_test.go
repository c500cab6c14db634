package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "accord/pkg/domain-errors"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
	assert.False(t, Default().RelayEnabled())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accord.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node_id: node-eu-1
privacy:
  min_k: 7
  max_k: 20
  similarity_threshold: 0.8
  require_consent: true
  suppress_pii: true
federation:
  wire_format: cbor
redis:
  url: redis://localhost:6379/0
  dial_timeout: 2s
`), 0o600))

	t.Run("file values overlay defaults", func(t *testing.T) {
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "node-eu-1", cfg.NodeID)
		assert.Equal(t, 7, cfg.Privacy.MinK)
		assert.Equal(t, 20, cfg.Privacy.MaxK)
		assert.InDelta(t, 0.8, cfg.Privacy.SimilarityThreshold, 1e-9)
		assert.Equal(t, "cbor", cfg.Federation.WireFormat)
		assert.Equal(t, 2*time.Second, cfg.Redis.DialTimeout)
		assert.Equal(t, 3*time.Second, cfg.Redis.ReadTimeout, "untouched fields keep defaults")
		assert.Equal(t, ":8080", cfg.Server.Addr)
	})

	t.Run("environment wins over the file", func(t *testing.T) {
		t.Setenv("ACCORD_NODE_ID", "node-eu-2")
		t.Setenv("ACCORD_MIN_K", "8")
		t.Setenv("ACCORD_MAX_K", "0")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "node-eu-2", cfg.NodeID)
		assert.Equal(t, 8, cfg.Privacy.MinK)
		assert.Zero(t, cfg.Privacy.MaxK)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "absent.yaml"))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidConfiguration))
	})
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"ACCORD_KAFKA_BROKERS":        "b1:9092, b2:9092,",
		"ACCORD_DIFFERENTIAL_PRIVACY": "true",
		"ACCORD_NOISE_SCALE":          "0.25",
		"ACCORD_KAFKA_RELAY_INTERVAL": "500ms",
		"ACCORD_SYNC_RATE_LIMIT":      "5",
		"ACCORD_SYNC_RATE_WINDOW":     "10s",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, applyEnv(&cfg, lookup))
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Privacy.DifferentialPrivacy)
	assert.InDelta(t, 0.25, cfg.Privacy.NoiseScale, 1e-9)
	assert.Equal(t, 500*time.Millisecond, cfg.Kafka.RelayInterval)
	assert.Equal(t, 5, cfg.RateLimit.SyncRequests)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.Window)

	env["ACCORD_MIN_K"] = "five"
	err := applyEnv(&cfg, lookup)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidConfiguration))
	assert.Contains(t, err.Error(), "ACCORD_MIN_K")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty node id":         func(c *Config) { c.NodeID = " " },
		"bad privacy":           func(c *Config) { c.Privacy.MinK = 0 },
		"unknown protocol":      func(c *Config) { c.Federation.ProtocolVersion = "9.9" },
		"unknown wire format":   func(c *Config) { c.Federation.WireFormat = "xml" },
		"tiny embeddings":       func(c *Config) { c.Embedding.Dimensions = 2 },
		"relay without outbox":  func(c *Config) { c.Kafka.Brokers = []string{"b1:9092"} },
		"zero history capacity": func(c *Config) { c.Federation.HistoryCapacity = 0 },
		"negative rate limit":   func(c *Config) { c.RateLimit.SyncRequests = -1 },
		"zero rate window":      func(c *Config) { c.RateLimit.Window = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidConfiguration))
		})
	}
}
