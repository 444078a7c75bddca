package logging

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"index_trader/pkg/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZapLogger_OTelBridge(t *testing.T) {
	tel, err := telemetry.Setup("test-logger")
	require.NoError(t, err)
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	logger, err := NewZapLogger("DEBUG")
	require.NoError(t, err)

	logger.Info("Test OTel bridging", "key", "value")
	time.Sleep(100 * time.Millisecond)
	logger.Debug("Debug message", "status", "testing")

	_ = logger.Sync()
}

func TestZapLogger_WritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger("INFO", WithWriter(&buf), WithoutOTel())
	require.NoError(t, err)

	logger.WithField("component", "engine").Info("cycle finished", "orders", 3, "error", errors.New("boom"))
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "cycle finished")
	assert.Contains(t, out, "engine")
	assert.Contains(t, out, "boom")
	assert.NotContains(t, out, "hidden")
}

func TestParseLevel(t *testing.T) {
	_, err := ParseLevel("verbose")
	assert.Error(t, err)

	lvl, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, "warn", lvl.String())
}
