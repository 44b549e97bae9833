package observability

import (
	"testing"

	"github.com/smallbiznis/fiscalsync/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(config.Config{Environment: "development"})

	assert.Equal(t, "fiscalsync", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.False(t, cfg.OtelEnabled)
	assert.True(t, cfg.Debug())
}

func TestLoadConfigEnablesOtelOnlyWithEndpoint(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppName: "fiscalsync-api",
		Telemetry: config.TelemetryConfig{
			DeploymentEnv: "production",
			OtelEnabled:   true,
			OTLPEndpoint:  "collector:4317",
			SamplingRatio: 4,
		},
	})
	assert.True(t, cfg.OtelEnabled)
	assert.Equal(t, "collector:4317", cfg.OtelExporterEndpoint)
	assert.Equal(t, 0.1, cfg.OtelSamplingRatio)
	assert.False(t, cfg.Debug())

	cfg = LoadConfig(config.Config{Telemetry: config.TelemetryConfig{OtelEnabled: true}})
	assert.False(t, cfg.OtelEnabled)
}
