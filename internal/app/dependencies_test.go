package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/fulfillment/internal/health"
)

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	return logger.WithField("component", "app-test")
}

func TestNewDependencies_Memory(t *testing.T) {
	deps, err := NewDependencies(context.Background(), DefaultConfig(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, deps.Close()) })

	require.NotNil(t, deps.Orders)
	require.NotNil(t, deps.Outbox)
	require.NotNil(t, deps.Timeline)
	require.NotNil(t, deps.Idempotency)

	entry, err := deps.Catalog.Lookup(context.Background(), "cement-50kg")
	require.NoError(t, err)
	assert.Equal(t, int64(100), entry.PacksPerPallet)

	_, err = deps.Catalog.Lookup(context.Background(), "unknown")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	require.Contains(t, deps.Checks, "storage")
	require.Contains(t, deps.Checks, "outbox")
	for name, checker := range deps.Checks {
		assert.Equal(t, healthcheck.StatusHealthy, checker.Check(context.Background()).Status, name)
	}
}

func TestNewDependencies_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "sqlite" }},
		{name: "broken catalog", mutate: func(c *Config) { c.Catalog.Products = []string{"broken"} }},
		{name: "product without pallets", mutate: func(c *Config) { c.Catalog.Products = []string{"a|A|0|1.00"} }},
		{name: "bad postgres dsn", mutate: func(c *Config) {
			c.Storage.Driver = StorageDriverPostgres
			c.Storage.DSN = "postgres://%zz"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			deps, err := NewDependencies(context.Background(), cfg, testLogger())
			require.Error(t, err)
			assert.Nil(t, deps)
		})
	}
}

func TestDependencies_CloseNil(t *testing.T) {
	var deps *Dependencies
	assert.NoError(t, deps.Close())
}
