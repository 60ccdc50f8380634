package database

import (
	"testing"
	"time"

	"github.com/leafline/marketplace/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolConfigFrom_AppliesSizing(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Host:              "db.internal",
		Port:              5433,
		User:              "market",
		Password:          "pw",
		Name:              "marketplace",
		SSLMode:           "disable",
		MaxConns:          12,
		MinConns:          3,
		MaxConnLifetime:   10 * time.Minute,
		MaxConnIdleTime:   2 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
	}

	pc, err := poolConfigFrom(cfg)
	require.NoError(t, err)

	assert.Equal(t, int32(12), pc.MaxConns)
	assert.Equal(t, int32(3), pc.MinConns)
	assert.Equal(t, 10*time.Minute, pc.MaxConnLifetime)
	assert.Equal(t, 2*time.Minute, pc.MaxConnIdleTime)
	assert.Equal(t, 30*time.Second, pc.HealthCheckPeriod)
	assert.Equal(t, "db.internal", pc.ConnConfig.Host)
	assert.Equal(t, uint16(5433), pc.ConnConfig.Port)
	assert.Equal(t, "marketplace", pc.ConnConfig.Database)
}

func TestPoolConfigFrom_RejectsMalformedDSN(t *testing.T) {
	cfg := &config.DatabaseConfig{Host: "localhost", Port: 5432, SSLMode: "not-a-mode"}

	_, err := poolConfigFrom(cfg)
	assert.Error(t, err)
}
