//go:build !windows

package supervisor

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopNotHeldByDescendantOutput(t *testing.T) {
	requireUnix(t)
	// the background sleep keeps the output pipe open after sh exits
	cfg := testConfig(`sh -c 'echo "Server started."; sleep 5 & read l; exit 0'`)
	cfg.GracePeriod = 3 * time.Second
	s := newSupervisor(t, cfg)
	ctx := ctxT(t)
	require.NoError(t, s.Start(ctx))
	pid := s.PID()
	t.Cleanup(func() { _ = syscall.Kill(-pid, syscall.SIGKILL) })

	start := time.Now()
	require.NoError(t, s.Stop(ctx))
	assert.Less(t, time.Since(start), cfg.GracePeriod, "exit seen without waiting for the kill")
	assert.Equal(t, StateOffline, s.Snapshot().State)

	require.NoError(t, s.Start(ctx), "supervisor usable again")
}
