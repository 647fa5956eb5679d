package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	pebblestore "github.com/hari-yahoo/CourseStatus/internal/storage/pebble"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the top-level configuration loaded from file/env.
type Config struct {
	HTTPAddr string `json:"http_addr" yaml:"http_addr" env:"HTTP_ADDR"`
	GRPCAddr string `json:"grpc_addr" yaml:"grpc_addr" env:"GRPC_ADDR"`
	DataDir  string `json:"data_dir" yaml:"data_dir" env:"DATA_DIR"`
	Fsync    string `json:"fsync" yaml:"fsync" env:"FSYNC"`

	RetryLimit        int      `json:"retry_limit" yaml:"retry_limit" env:"RETRY_LIMIT"`
	VisibilityTimeout Duration `json:"visibility_timeout" yaml:"visibility_timeout" env:"VISIBILITY_TIMEOUT"`
	// DedupWindow is the interval in which a repeated id is dropped.
	DedupWindow   Duration `json:"dedup_window" yaml:"dedup_window" env:"DEDUP_WINDOW"`
	MaxLeaseBatch int      `json:"max_lease_batch" yaml:"max_lease_batch" env:"MAX_LEASE_BATCH"`
	Workers       int      `json:"workers" yaml:"workers" env:"WORKERS"`
	PollInterval  Duration `json:"poll_interval" yaml:"poll_interval" env:"POLL_INTERVAL"`
	SweepInterval Duration `json:"sweep_interval" yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	Backoff       Backoff  `json:"backoff" yaml:"backoff" envPrefix:"BACKOFF_"`

	DefaultGroup string `json:"default_group" yaml:"default_group" env:"DEFAULT_GROUP"`
	// GroupKeyExpr is a CEL expression over the decoded JSON body (`body`)
	// yielding the group key. Empty disables it.
	GroupKeyExpr string `json:"group_key_expr" yaml:"group_key_expr" env:"GROUP_KEY_EXPR"`
	MaxBodyBytes int64  `json:"max_body_bytes" yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`

	Naming    Naming    `json:"naming" yaml:"naming" envPrefix:"NAMING_"`
	Log       Log       `json:"log" yaml:"log" envPrefix:"LOG_"`
	Postgres  Postgres  `json:"postgres" yaml:"postgres" envPrefix:"POSTGRES_"`
	Tracing   Tracing   `json:"tracing" yaml:"tracing" envPrefix:"TRACING_"`
	RateLimit RateLimit `json:"rate_limit" yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Notify    Notify    `json:"notify" yaml:"notify" envPrefix:"NOTIFY_"`
}

// Notify publishes dead-letter events to NATS. An empty NATSURL disables it.
type Notify struct {
	NATSURL string `json:"nats_url" yaml:"nats_url" env:"NATS_URL"`
	Subject string `json:"subject" yaml:"subject" env:"SUBJECT"`
}

// RateLimit throttles the ingestion routes across all callers. Storage is
// "memory" (per node) or "redis" (shared through RedisURL).
type RateLimit struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	RPS      int    `json:"rps" yaml:"rps" env:"RPS"`
	Storage  string `json:"storage" yaml:"storage" env:"STORAGE"`
	RedisURL string `json:"redis_url" yaml:"redis_url" env:"REDIS_URL"`
}

// Backoff bounds requeue delays. A zero Base requeues immediately.
type Backoff struct {
	Base Duration `json:"base" yaml:"base" env:"BASE"`
	Max  Duration `json:"max" yaml:"max" env:"MAX"`
}

// Log selects the logger level and format.
type Log struct {
	Level  string `json:"level" yaml:"level" env:"LEVEL"`
	Format string `json:"format" yaml:"format" env:"FORMAT"`
}

// Postgres locates the course status store. Leave Host and DSN empty to run
// without a database.
type Postgres struct {
	DSN      string `json:"dsn" yaml:"dsn" env:"DSN"`
	Host     string `json:"host" yaml:"host" env:"HOST"`
	Port     string `json:"port" yaml:"port" env:"PORT"`
	Name     string `json:"name" yaml:"name" env:"NAME"`
	User     string `json:"user" yaml:"user" env:"USER"`
	Password string `json:"password" yaml:"password" env:"PASSWORD"`
}

// Enabled reports whether a database is configured.
func (p Postgres) Enabled() bool { return p.DSN != "" || p.Host != "" }

// ConnectionString returns DSN when set, else a keyword/value string built
// from the individual fields.
func (p Postgres) ConnectionString() string {
	if p.DSN != "" {
		return p.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		p.Host, p.Port, p.User, p.Name, p.Password,
	)
}

// Tracing configures the OTLP/HTTP span exporter. An empty Endpoint
// disables export.
type Tracing struct {
	Endpoint    string  `json:"endpoint" yaml:"endpoint" env:"ENDPOINT"`
	Insecure    bool    `json:"insecure" yaml:"insecure" env:"INSECURE"`
	ServiceName string  `json:"service_name" yaml:"service_name" env:"SERVICE_NAME"`
	SampleRatio float64 `json:"sample_ratio" yaml:"sample_ratio" env:"SAMPLE_RATIO"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr:          ":8080",
		GRPCAddr:          ":9090",
		DataDir:           DefaultDataDir(),
		Fsync:             pebblestore.FsyncModeAlways.String(),
		RetryLimit:        3,
		VisibilityTimeout: Duration(30 * time.Second),
		DedupWindow:       Duration(5 * time.Minute),
		MaxLeaseBatch:     1,
		Workers:           4,
		PollInterval:      Duration(250 * time.Millisecond),
		SweepInterval:     Duration(time.Second),
		Backoff:           Backoff{Base: 0, Max: Duration(30 * time.Second)},
		DefaultGroup:      "CourseStatusUpdate",
		MaxBodyBytes:      256 << 10,
		Naming:            Naming{Prefix: "CourseStatus", Suffix: "Staging"},
		Log:               Log{Level: "info", Format: "text"},
		Postgres:          Postgres{Port: "5432"},
		Tracing:           Tracing{ServiceName: "coursestatus", SampleRatio: 1},
		RateLimit:         RateLimit{RPS: 1000, Storage: "memory"},
		Notify:            Notify{Subject: "coursestatus.deadletter"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension) over the
// defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}
	check(c.RetryLimit >= 1, "retry_limit must be at least 1, got %d", c.RetryLimit)
	check(c.VisibilityTimeout > 0, "visibility_timeout must be positive")
	check(c.DedupWindow > 0, "dedup_window must be positive")
	check(c.MaxLeaseBatch >= 1, "max_lease_batch must be at least 1, got %d", c.MaxLeaseBatch)
	check(c.Workers >= 1, "workers must be at least 1, got %d", c.Workers)
	check(c.PollInterval > 0, "poll_interval must be positive")
	check(c.SweepInterval > 0, "sweep_interval must be positive")
	check(c.Backoff.Base >= 0, "backoff.base must not be negative")
	check(c.Backoff.Max >= c.Backoff.Base, "backoff.max must be at least backoff.base")
	check(c.DefaultGroup != "" && !strings.ContainsRune(c.DefaultGroup, 0), "default_group must be a non-empty string without NUL")
	check(c.MaxBodyBytes > 0, "max_body_bytes must be positive")
	check(c.DataDir != "", "data_dir is required")
	if _, err := pebblestore.ParseFsyncMode(c.Fsync); err != nil {
		check(false, "fsync: %v", err)
	}
	if err := c.Naming.Validate(); err != nil {
		errs = append(errs, err)
	}
	check(c.Tracing.SampleRatio >= 0 && c.Tracing.SampleRatio <= 1, "tracing.sample_ratio must be within [0,1]")
	if rl := c.RateLimit; rl.Enabled {
		check(rl.RPS >= 1, "rate_limit.rps must be at least 1, got %d", rl.RPS)
		check(rl.Storage == "memory" || rl.Storage == "redis", "rate_limit.storage must be memory or redis, got %q", rl.Storage)
		check(rl.Storage != "redis" || rl.RedisURL != "", "rate_limit.redis_url is required for redis storage")
	}
	check(c.Notify.NATSURL == "" || strings.TrimSpace(c.Notify.Subject) != "", "notify.subject is required when notify.nats_url is set")
	return errors.Join(errs...)
}
