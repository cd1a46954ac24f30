package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 48*time.Hour, cfg.Dispute.EscalationThreshold)
	assert.Equal(t, time.Hour, cfg.Dispute.EscalationInterval)
	assert.False(t, cfg.Dispute.AutoOpen)
	assert.Equal(t, 30.0, cfg.Matching.DefaultRadiusKm)
	assert.Equal(t, "EPAL", cfg.Registry.SerialPrefix)
	assert.Empty(t, cfg.NATS.URL)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("DISPUTE_ESCALATION_THRESHOLD", "72h")
	t.Setenv("DISPUTE_AUTO_OPEN", "true")
	t.Setenv("MATCHING_DEFAULT_RADIUS_KM", "12.5")
	t.Setenv("LEDGER_HISTORY_RETENTION", "not-a-number")
	t.Setenv("METRICS_ENABLED", "maybe")

	cfg := Load()

	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 72*time.Hour, cfg.Dispute.EscalationThreshold)
	assert.True(t, cfg.Dispute.AutoOpen)
	assert.Equal(t, 12.5, cfg.Matching.DefaultRadiusKm)
	assert.Equal(t, 100, cfg.Ledger.HistoryRetention)
	assert.True(t, cfg.Metrics.Enabled)
}
