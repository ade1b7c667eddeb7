package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/procscope/procscope/internal/config"
)

// TestNew_WiresWithoutError checks construction alone — it never calls
// Start, so it never shells out to the real OS collectors.
func TestNew_WiresWithoutError(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Server.Port = "0"

	eng, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, eng.Store())
}

// TestStop_SucceedsWithoutStart verifies the shutdown path tolerates
// being called on an engine that was never started (orchestrator never
// ran, pool never did any work).
func TestStop_SucceedsWithoutStart(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Server.Port = "0"
	cfg.Server.ShutdownTimeoutSec = 1

	eng, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, eng.Stop(ctx))
}
