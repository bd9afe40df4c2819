package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, 5, cfg.Pool.Size)
	assert.Equal(t, time.Second, cfg.Pool.PollInterval)
	assert.Equal(t, 300*time.Second, cfg.Queue.Lease)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Queue.BackoffBase)
	assert.Equal(t, 300*time.Second, cfg.Queue.BackoffCap)
	assert.Equal(t, 30*time.Second, cfg.Pool.StopTimeout)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "8080", cfg.HTTP.Port)
	assert.Equal(t, 1<<20, cfg.HTTP.BodyLimit)
	assert.Equal(t, "events.relay", cfg.Relay.Topic)
}

func TestNew_Lists(t *testing.T) {
	t.Setenv("STORE_DRIVER", "redis")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("DISPATCH_RELAY_TYPES", "order.paid,order.refunded")
	t.Setenv("DISPATCH_NOOP_TYPES", "ping")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"order.paid", "order.refunded"}, cfg.Dispatch.RelayTypes)
	assert.Equal(t, []string{"ping"}, cfg.Dispatch.NoopTypes)
}

func TestNew_Rejects(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown driver":       {"STORE_DRIVER": "mongo"},
		"postgres without url": {"STORE_DRIVER": "postgres", "PG_URL": ""},
		"relay without kafka":  {"STORE_DRIVER": "sqlite", "DISPATCH_RELAY_TYPES": "a"},
		"cap below base":       {"STORE_DRIVER": "sqlite", "QUEUE_BACKOFF_BASE": "1m", "QUEUE_BACKOFF_CAP": "10s"},
		"zero pool":            {"STORE_DRIVER": "sqlite", "POOL_SIZE": "0"},
		"archive without s3":   {"STORE_DRIVER": "sqlite", "DISPATCH_ARCHIVE_TYPES": "a"},
		"long instance id":     {"STORE_DRIVER": "sqlite", "POOL_INSTANCE_ID": strings.Repeat("x", 81)},
	}

	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range vars {
				t.Setenv(k, v)
			}

			_, err := New()
			assert.Error(t, err)
		})
	}
}

func TestNew_InstanceIDAtLimit(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("POOL_INSTANCE_ID", strings.Repeat("x", 80))

	cfg, err := New()
	require.NoError(t, err)
	assert.Len(t, cfg.Pool.InstanceID, 80)
}
