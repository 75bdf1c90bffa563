package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	// OperatorTokenHash is the bcrypt hash of the admin API bearer token.
	OperatorTokenHash string
}

type Log struct {
	Level  string
	Format string
}

// Database configures the PostgreSQL gateway. An empty URL selects the
// in-memory store.
type Database struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	TxTimeout       time.Duration
}

// RedisConfig configures the shared rate limiter. An empty URL keeps limits
// in process memory.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Kafka struct {
	Brokers  []string
	Topic    string
	ClientID string
}

type Webhook struct {
	URL    string
	Secret string
}

type Outbox struct {
	Interval  time.Duration
	BatchSize int
}

type Scheduler struct {
	MaxConcurrent    int
	Tick             time.Duration
	FailureThreshold int
}

type ObjectStorage struct {
	S3Region   string
	S3Endpoint string
	GCS        bool
}

// Config is the process configuration, read from VENDORGRID_* variables.
type Config struct {
	Server        Server
	Log           Log
	Database      Database
	Redis         RedisConfig
	Kafka         Kafka
	Webhook       Webhook
	Outbox        Outbox
	Scheduler     Scheduler
	ObjectStorage ObjectStorage

	// SourcesFile is the YAML source catalog.
	SourcesFile string
	// FieldKey is the master secret for encrypting sensitive fields at rest.
	FieldKey string
}

// FromEnv loads an optional .env file, then builds the config from the
// environment so main stays lean.
func FromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var errs []error
	e := env{errs: &errs}
	cfg := Config{
		Server: Server{
			Addr:              e.str("VENDORGRID_ADDR", ":8080"),
			ShutdownTimeout:   e.duration("VENDORGRID_SHUTDOWN_TIMEOUT", 15*time.Second),
			OperatorTokenHash: e.str("VENDORGRID_OPERATOR_TOKEN_HASH", ""),
		},
		Log: Log{
			Level:  e.str("VENDORGRID_LOG_LEVEL", "info"),
			Format: e.str("VENDORGRID_LOG_FORMAT", "json"),
		},
		Database: Database{
			URL:             e.str("VENDORGRID_DATABASE_URL", ""),
			MaxOpenConns:    e.integer("VENDORGRID_DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    e.integer("VENDORGRID_DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: e.duration("VENDORGRID_DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
			TxTimeout:       e.duration("VENDORGRID_DATABASE_TX_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			URL:          e.str("VENDORGRID_REDIS_URL", ""),
			PoolSize:     e.integer("VENDORGRID_REDIS_POOL_SIZE", 10),
			MinIdleConns: e.integer("VENDORGRID_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  e.duration("VENDORGRID_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("VENDORGRID_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.duration("VENDORGRID_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:  e.list("VENDORGRID_KAFKA_BROKERS"),
			Topic:    e.str("VENDORGRID_KAFKA_TOPIC", ""),
			ClientID: e.str("VENDORGRID_KAFKA_CLIENT_ID", "vendorgrid"),
		},
		Webhook: Webhook{
			URL:    e.str("VENDORGRID_WEBHOOK_URL", ""),
			Secret: e.str("VENDORGRID_WEBHOOK_SECRET", ""),
		},
		Outbox: Outbox{
			Interval:  e.duration("VENDORGRID_OUTBOX_INTERVAL", 2*time.Second),
			BatchSize: e.integer("VENDORGRID_OUTBOX_BATCH_SIZE", 100),
		},
		Scheduler: Scheduler{
			MaxConcurrent:    e.integer("VENDORGRID_MAX_CONCURRENT_CYCLES", 4),
			Tick:             e.duration("VENDORGRID_SCHEDULER_TICK", time.Second),
			FailureThreshold: e.integer("VENDORGRID_CIRCUIT_FAILURE_THRESHOLD", 3),
		},
		ObjectStorage: ObjectStorage{
			S3Region:   e.str("VENDORGRID_S3_REGION", ""),
			S3Endpoint: e.str("VENDORGRID_S3_ENDPOINT", ""),
			GCS:        e.boolean("VENDORGRID_GCS_ENABLED", false),
		},
		SourcesFile: e.str("VENDORGRID_SOURCES_FILE", "sources.yaml"),
		FieldKey:    e.str("VENDORGRID_FIELD_KEY", ""),
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type env struct {
	errs *[]error
}

func (e env) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e env) integer(key string, def int) int {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("%s: %q is not an integer", key, raw))
		return def
	}
	return n
}

func (e env) duration(key string, def time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("%s: %q is not a duration", key, raw))
		return def
	}
	return d
}

func (e env) boolean(key string, def bool) bool {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("%s: %q is not a boolean", key, raw))
		return def
	}
	return b
}

func (e env) list(key string) []string {
	raw := e.str(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
