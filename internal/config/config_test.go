package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 3, cfg.RetryLimit)
	assert.Equal(t, 30*time.Second, cfg.VisibilityTimeout.D())
	assert.Equal(t, 5*time.Minute, cfg.DedupWindow.D())
	assert.Equal(t, 1, cfg.MaxLeaseBatch)
	assert.Equal(t, 4, cfg.Workers)
	assert.Zero(t, cfg.Backoff.Base)
	assert.Equal(t, "CourseStatusUpdate", cfg.DefaultGroup)
	assert.Equal(t, int64(256<<10), cfg.MaxBodyBytes)
	assert.False(t, cfg.Postgres.Enabled())
	require.NoError(t, cfg.Validate())
}

func TestNaming(t *testing.T) {
	n := Default().Naming
	assert.Equal(t, "CourseStatusQueueStaging", n.QueueName())
	assert.Equal(t, "CourseStatusDLQStaging", n.DeadLetterName())
	assert.Equal(t, "coursestatus-staging", n.StageName())

	prod := Naming{Prefix: "CourseStatus", Suffix: "Prod"}
	assert.Equal(t, "CourseStatusQueueProd", prod.QueueName())
	assert.Equal(t, "coursestatus-prod", prod.StageName())

	assert.ErrorIs(t, Naming{}.Validate(), ErrInvalid)
	assert.ErrorIs(t, Naming{Prefix: "a/b"}.Validate(), ErrInvalid)
}

func TestLoadJSON(t *testing.T) {
	file := filepath.Join(t.TempDir(), "coursestatus.json")
	data := []byte(`{"retry_limit":5,"visibility_timeout":"45s","backoff":{"base":"200ms","max":"10s"},"naming":{"prefix":"CourseStatus","suffix":"Prod"}}`)
	require.NoError(t, os.WriteFile(file, data, 0o644))

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.RetryLimit)
	assert.Equal(t, 45*time.Second, cfg.VisibilityTimeout.D())
	assert.Equal(t, 200*time.Millisecond, cfg.Backoff.Base.D())
	assert.Equal(t, "CourseStatusQueueProd", cfg.Naming.QueueName())
	// untouched fields keep defaults
	assert.Equal(t, 4, cfg.Workers)
}

func TestLoadYAML(t *testing.T) {
	file := filepath.Join(t.TempDir(), "coursestatus.yaml")
	data := []byte(`
workers: 8
dedup_window: 2m
group_key_expr: body.course_id
postgres:
  host: db.internal
  name: courses
`)
	require.NoError(t, os.WriteFile(file, data, 0o644))

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 2*time.Minute, cfg.DedupWindow.D())
	assert.Equal(t, "body.course_id", cfg.GroupKeyExpr)
	assert.True(t, cfg.Postgres.Enabled())
	assert.Contains(t, cfg.Postgres.ConnectionString(), "host=db.internal")
	assert.Contains(t, cfg.Postgres.ConnectionString(), "dbname=courses")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"poll_interval":"soon"}`), 0o644))
	_, err := Load(file)
	assert.Error(t, err)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("COURSESTATUS_RETRY_LIMIT", "7")
	t.Setenv("COURSESTATUS_VISIBILITY_TIMEOUT", "1m")
	t.Setenv("COURSESTATUS_NAMING_SUFFIX", "Prod")
	t.Setenv("COURSESTATUS_BACKOFF_BASE", "50ms")
	t.Setenv("COURSESTATUS_POSTGRES_DSN", "postgres://u:p@localhost/courses")
	t.Setenv("COURSESTATUS_LOG_LEVEL", "debug")
	t.Setenv("COURSESTATUS_RATE_LIMIT_ENABLED", "true")
	t.Setenv("COURSESTATUS_RATE_LIMIT_RPS", "25")
	t.Setenv("COURSESTATUS_NOTIFY_NATS_URL", "nats://localhost:4222")

	cfg := Default()
	require.NoError(t, FromEnv(&cfg))
	assert.Equal(t, 7, cfg.RetryLimit)
	assert.Equal(t, time.Minute, cfg.VisibilityTimeout.D())
	assert.Equal(t, "CourseStatusDLQProd", cfg.Naming.DeadLetterName())
	assert.Equal(t, 50*time.Millisecond, cfg.Backoff.Base.D())
	assert.Equal(t, "postgres://u:p@localhost/courses", cfg.Postgres.ConnectionString())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, RateLimit{Enabled: true, RPS: 25, Storage: "memory"}, cfg.RateLimit)
	assert.Equal(t, Notify{NATSURL: "nats://localhost:4222", Subject: "coursestatus.deadletter"}, cfg.Notify)
	// unset variables leave defaults
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "CourseStatus", cfg.Naming.Prefix)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(file, []byte("COURSESTATUS_WORKERS=9\n"), 0o644))
	t.Setenv("COURSESTATUS_WORKERS", "")
	require.NoError(t, os.Unsetenv("COURSESTATUS_WORKERS"))

	n, err := LoadDotEnv(file, filepath.Join(dir, ".env.local"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cfg := Default()
	require.NoError(t, FromEnv(&cfg))
	assert.Equal(t, 9, cfg.Workers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"retry limit", func(c *Config) { c.RetryLimit = 0 }},
		{"visibility", func(c *Config) { c.VisibilityTimeout = 0 }},
		{"dedup window", func(c *Config) { c.DedupWindow = -1 }},
		{"batch", func(c *Config) { c.MaxLeaseBatch = 0 }},
		{"workers", func(c *Config) { c.Workers = 0 }},
		{"backoff order", func(c *Config) { c.Backoff = Backoff{Base: Duration(time.Minute), Max: Duration(time.Second)} }},
		{"default group", func(c *Config) { c.DefaultGroup = "" }},
		{"body limit", func(c *Config) { c.MaxBodyBytes = 0 }},
		{"fsync", func(c *Config) { c.Fsync = "sometimes" }},
		{"naming", func(c *Config) { c.Naming.Prefix = "" }},
		{"sample ratio", func(c *Config) { c.Tracing.SampleRatio = 2 }},
		{"rate limit rps", func(c *Config) { c.RateLimit = RateLimit{Enabled: true, Storage: "memory"} }},
		{"rate limit storage", func(c *Config) { c.RateLimit = RateLimit{Enabled: true, RPS: 5, Storage: "disk"} }},
		{"rate limit redis url", func(c *Config) { c.RateLimit = RateLimit{Enabled: true, RPS: 5, Storage: "redis"} }},
		{"notify subject", func(c *Config) { c.Notify = Notify{NATSURL: "nats://localhost:4222"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestResolve(t *testing.T) {
	file := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(file, []byte("workers: 2\n"), 0o644))
	t.Setenv("COURSESTATUS_WORKERS", "3")

	cfg, err := Resolve(file)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Workers)

	t.Setenv("COURSESTATUS_RETRY_LIMIT", "0")
	_, err = Resolve(file)
	assert.ErrorIs(t, err, ErrInvalid)
}
