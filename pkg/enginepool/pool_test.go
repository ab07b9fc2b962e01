package enginepool

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/stretchr/testify/require"
)

// echoReadyConfig spawns a trivial shell engine that answers every
// stdin line with "readyok", standing in for a real UCI engine binary.
func echoReadyConfig(poolSize int) Config {
	return Config{
		PoolSize:       poolSize,
		EngineBinary:   "sh",
		EngineArgs:     []string{"-c", "while IFS= read -r line; do echo readyok; done"},
		SpawnTimeout:   2 * time.Second,
		ReadyTimeout:   time.Second,
		ZombieInterval: time.Hour,
	}
}

func TestCheckoutSpawnsThenReleaseReturnsToIdle(t *testing.T) {
	p := New(echoReadyConfig(1))
	defer p.Close()

	lease, err := p.Checkout(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, lease)

	m := p.Metrics()
	require.Equal(t, 1, m.Busy)

	p.Release(lease, Ok)
	m = p.Metrics()
	require.Equal(t, 1, m.Idle)
	require.Equal(t, 0, m.Busy)
}

func TestCheckoutTimesOutWhenExhausted(t *testing.T) {
	p := New(echoReadyConfig(1))
	defer p.Close()

	lease, err := p.Checkout(context.Background(), time.Second)
	require.NoError(t, err)

	_, err = p.Checkout(context.Background(), 100*time.Millisecond)
	require.ErrorIs(t, err, clustertypes.ErrTimedOut)

	p.Release(lease, Ok)
}

func TestReleaseCrashedMarksDeadAndAllowsRespawn(t *testing.T) {
	p := New(echoReadyConfig(1))
	defer p.Close()

	lease, err := p.Checkout(context.Background(), time.Second)
	require.NoError(t, err)

	p.Release(lease, Crashed)
	m := p.Metrics()
	require.Equal(t, 1, m.Dead)

	lease2, err := p.Checkout(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, lease2)
	p.Release(lease2, Ok)
}

func TestDrainRejectsNewCheckouts(t *testing.T) {
	p := New(echoReadyConfig(1))
	defer p.Close()
	p.Drain()

	_, err := p.Checkout(context.Background(), time.Second)
	require.ErrorIs(t, err, clustertypes.ErrPoolDraining)
}

func TestSpawnFailureEntersBackoffThenQuarantine(t *testing.T) {
	cfg := echoReadyConfig(1)
	cfg.EngineBinary = "sh"
	cfg.EngineArgs = []string{"-c", "exit 1"}
	cfg.SpawnTimeout = 50 * time.Millisecond
	cfg.ReadyTimeout = 20 * time.Millisecond
	cfg.RestartBase = time.Millisecond
	cfg.RestartCap = 2 * time.Millisecond
	cfg.FailThreshold = 2
	cfg.FailWindow = time.Minute

	p := New(cfg)
	defer p.Close()

	for i := 0; i < 3; i++ {
		_, _ = p.Checkout(context.Background(), 200*time.Millisecond)
		time.Sleep(10 * time.Millisecond)
	}

	p.mu.Lock()
	quarantined := p.handles[0].quarantined
	p.mu.Unlock()
	require.True(t, quarantined)
}
