package config

import (
	"strconv"
	"strings"
	"time"

	dErrors "accord/pkg/domain-errors"
)

const envPrefix = "ACCORD_"

type lookupFunc func(string) (string, bool)

// applyEnv overlays ACCORD_* variables. Unset variables leave cfg unchanged.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("NODE_ID", &cfg.NodeID)
	e.str("ENVIRONMENT", &cfg.Environment)
	e.str("LOG_LEVEL", &cfg.Log.Level)
	e.str("LOG_FORMAT", &cfg.Log.Format)
	e.str("ADDR", &cfg.Server.Addr)
	e.duration("SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	e.integer("MIN_K", &cfg.Privacy.MinK)
	e.integer("MAX_K", &cfg.Privacy.MaxK)
	e.float("SIMILARITY_THRESHOLD", &cfg.Privacy.SimilarityThreshold)
	e.boolean("REQUIRE_CONSENT", &cfg.Privacy.RequireConsent)
	e.boolean("SUPPRESS_PII", &cfg.Privacy.SuppressPII)
	e.list("SUPPRESS_FIELDS", &cfg.Privacy.SuppressFields)
	e.boolean("DIFFERENTIAL_PRIVACY", &cfg.Privacy.DifferentialPrivacy)
	e.float("NOISE_SCALE", &cfg.Privacy.NoiseScale)

	e.str("PROTOCOL_VERSION", &cfg.Federation.ProtocolVersion)
	e.integer("HISTORY_CAPACITY", &cfg.Federation.HistoryCapacity)
	e.str("WIRE_FORMAT", &cfg.Federation.WireFormat)

	e.integer("EMBEDDING_DIMENSIONS", &cfg.Embedding.Dimensions)
	e.integer("EMBEDDING_WORKERS", &cfg.Embedding.Workers)

	e.str("DATABASE_URL", &cfg.Database.URL)
	e.integer("DATABASE_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	e.integer("DATABASE_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns)
	e.duration("DATABASE_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime)

	e.str("REDIS_URL", &cfg.Redis.URL)
	e.str("REDIS_KEY_PREFIX", &cfg.Redis.KeyPrefix)
	e.integer("REDIS_POOL_SIZE", &cfg.Redis.PoolSize)

	e.list("KAFKA_BROKERS", &cfg.Kafka.Brokers)
	e.str("KAFKA_CLIENT_ID", &cfg.Kafka.ClientID)
	e.str("KAFKA_AUDIT_TOPIC", &cfg.Kafka.AuditTopic)
	e.duration("KAFKA_RELAY_INTERVAL", &cfg.Kafka.RelayInterval)
	e.integer("KAFKA_RELAY_BATCH_SIZE", &cfg.Kafka.RelayBatchSize)

	e.integer("SYNC_RATE_LIMIT", &cfg.RateLimit.SyncRequests)
	e.duration("SYNC_RATE_WINDOW", &cfg.RateLimit.Window)

	return e.err
}

// envReader records the first parse failure and ignores later variables.
type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) get(name string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v, ok := e.lookup(envPrefix + name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(name string, err error) {
	e.err = dErrors.Wrap(err, dErrors.CodeInvalidConfiguration, "invalid "+envPrefix+name)
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) list(name string, dst *[]string) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) integer(name string, dst *int) {
	if v, ok := e.get(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(name string, dst *float64) {
	if v, ok := e.get(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(name string, dst *bool) {
	if v, ok := e.get(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(name string, dst *time.Duration) {
	if v, ok := e.get(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = d
	}
}
