package config_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvue/invoice-engine/config"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "invoices.db", cfg.Store.DSN)
	assert.Empty(t, cfg.Events.Brokers)
}

func TestLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invoice-engine.yaml")

	want := config.Default()
	want.Server.Port = 9090
	want.Store.Driver = "postgres"
	want.Store.DSN = "postgres://localhost/invoices?sslmode=disable"
	want.Events.Brokers = []string{"localhost:9092"}
	require.NoError(t, config.Save(path, want))

	got, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, got.Server.Port)
	assert.Equal(t, "postgres", got.Store.Driver)
	assert.Equal(t, want.Store.DSN, got.Store.DSN)
	assert.Equal(t, want.Events.Brokers, got.Events.Brokers)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("STORE_DSN", ":memory:")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, ":memory:", cfg.Store.DSN)
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "oracle")

	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store driver")
}
