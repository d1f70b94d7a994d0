package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aislelabs/pricetagd/internal/config"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), config.TelemetryConfig{Enabled: false}, "test")
	require.NoError(t, err)
	require.NotNil(t, tel)
	assert.NotNil(t, tel.Registry)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_EnabledWithoutOTLP(t *testing.T) {
	cfg := config.TelemetryConfig{
		Enabled:     true,
		ServiceName: "pricetagd-test",
	}
	tel, err := New(context.Background(), cfg, "test")
	require.NoError(t, err)
	require.NotNil(t, tel)

	// Prometheus registry gathers without error even before instruments exist.
	_, err = tel.Registry.Gather()
	assert.NoError(t, err)

	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestShutdown_NilReceiver(t *testing.T) {
	var tel *Telemetry
	assert.NoError(t, tel.Shutdown(context.Background()))
}
