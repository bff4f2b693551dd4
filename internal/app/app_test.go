package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crosstrade/internal/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func devConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Mode = "dev"
	cfg.Scheduler.Backend = "memory"
	cfg.Chain.RPCURL = ""
	cfg.Security.ServerSecret = "server-secret-0123456789abcdef0123"
	cfg.Security.SealSecret = "seal-secret-0123456789abcdef012345"
	return &cfg
}

func TestWire_DevModeIsInMemory(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), devConfig(), quietLogger())
	require.NoError(t, err)
	t.Cleanup(cleanup)

	assert.NotNil(t, deps.IntentStore)
	assert.NotNil(t, deps.WalletStore)
	assert.NotNil(t, deps.SignalBus)
	assert.NotNil(t, deps.RateLimiter)
	assert.Nil(t, deps.Queue)
	assert.Nil(t, deps.QueueDepth)
	assert.Nil(t, deps.SharedMarkets)
	assert.Nil(t, deps.BlobWriter)
	assert.Empty(t, deps.Pingers)
}

func TestBuild_DevRuntime(t *testing.T) {
	cfg := devConfig()
	a := New(cfg, quietLogger())
	t.Cleanup(a.Close)

	deps, cleanup, err := Wire(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(cleanup)

	rt, err := a.build(context.Background(), deps)
	require.NoError(t, err)
	assert.NotNil(t, rt.intents)
	assert.NotNil(t, rt.reconciler)
	assert.NotNil(t, rt.executor)
	assert.NotNil(t, rt.poller)
	assert.NotNil(t, rt.metrics.Handler())
}

func TestBuild_RejectsMissingSecrets(t *testing.T) {
	cfg := devConfig()
	cfg.Security.SealSecret = ""
	a := New(cfg, quietLogger())

	deps, cleanup, err := Wire(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(cleanup)

	_, err = a.build(context.Background(), deps)
	assert.ErrorContains(t, err, "sealer")
}

func TestWorkerMode_RequiresQueue(t *testing.T) {
	cfg := devConfig()
	a := New(cfg, quietLogger())
	err := a.WorkerMode(context.Background(), &Dependencies{}, &runtime{})
	assert.ErrorContains(t, err, "requires scheduler.backend")
}

func TestPolicyConfig(t *testing.T) {
	cfg := config.Defaults()
	pc := policyConfig(cfg.Resilience)

	assert.Equal(t, 10*time.Second, pc.Breaker.Window)
	assert.Equal(t, 5, pc.Breaker.VolumeThreshold)
	assert.Equal(t, 50.0, pc.Breaker.ErrorPercent)
	assert.Equal(t, 3, pc.Retry.MaxAttempts)
	assert.Equal(t, 15*time.Second, pc.QuoteTimeout)
	assert.Equal(t, 30*time.Second, pc.OrderTimeout)
	assert.NotEmpty(t, pc.Retry.Retryable)
}

func TestRiskConfig(t *testing.T) {
	cfg := config.Defaults()
	rc, err := riskConfig(cfg.Risk)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000", rc.MinAmountWei.String())
	assert.Equal(t, 500, rc.MaxSlippageBps)

	cfg.Risk.MaxAmountWei = "lots"
	_, err = riskConfig(cfg.Risk)
	assert.ErrorContains(t, err, "max_amount_wei")
}
