package engine

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminate_ExitsOnSignalWithoutEscalating(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// sleep honors SIGTERM by default, so terminate should never need to
	// escalate to SIGKILL.
	cmd := exec.CommandContext(ctx, "sleep", "5")
	require.NoError(t, cmd.Start())

	start := time.Now()
	err := terminate(cmd, 2*time.Second)
	elapsed := time.Since(start)

	assert.Error(t, err) // sleep exits non-zero on SIGTERM
	assert.Less(t, elapsed, 2*time.Second, "terminate should return as soon as the process exits, not wait out the full grace period")
}

func TestTerminate_EscalatesToKillAfterGracePeriod(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A shell that traps SIGTERM and ignores it forces terminate to fall
	// through to SIGKILL once the grace period elapses.
	cmd := exec.CommandContext(ctx, "sh", "-c", "trap '' TERM; sleep 5")
	require.NoError(t, cmd.Start())

	start := time.Now()
	err := terminate(cmd, 200*time.Millisecond)
	elapsed := time.Since(start)

	assert.Error(t, err)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second, "terminate must not wait for the full 5s sleep once the grace period elapses")
}
