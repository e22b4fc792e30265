package main

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcspend/address"
	"github.com/btcsuite/btcspend/fees"
	"github.com/btcsuite/btcspend/spend"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

// TestConfigValidate checks network selection and option checks.
func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	require.NoError(t, cfg.validate())
	require.Equal(t, &chaincfg.MainNetParams, cfg.params)

	cfg = defaultConfig()
	cfg.RegTest = true
	require.NoError(t, cfg.validate())
	require.Equal(t, &chaincfg.RegressionNetParams, cfg.params)
	require.Contains(t, cfg.LogDir, chaincfg.RegressionNetParams.Name)

	cfg = defaultConfig()
	cfg.TestNet3 = true
	cfg.SimNet = true
	require.Error(t, cfg.validate())

	cfg = defaultConfig()
	cfg.DBBackend = dbBackendPostgres
	require.Error(t, cfg.validate())

	cfg = defaultConfig()
	cfg.DustLimit = 0
	require.Error(t, cfg.validate())
}

// TestSpendConfig checks that policy options reach the engine config.
func TestSpendConfig(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.DustLimit = 1_000
	cfg.MinParticipants = 7
	cfg.NoShuffleChange = true
	require.NoError(t, cfg.validate())

	policy := cfg.spendConfig(address.Taproot)
	require.Equal(t, btcutil.Amount(1_000), policy.DustLimit)
	require.Equal(t, 7, policy.MinParticipants)
	require.False(t, policy.RandomizeChange)
	require.Equal(t, address.Taproot, policy.Estimator.InputType)
	require.Equal(t, address.Taproot, policy.Estimator.OutputType)
}

// TestSpendConfigLegacy checks that a legacy wallet's engine prices legacy
// inputs and outputs.
func TestSpendConfigLegacy(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	require.NoError(t, cfg.validate())

	policy := cfg.spendConfig(address.Legacy)
	engine := spend.NewEngine(
		policy, "wallet", nil, nil, nil, clock.NewDefaultClock(),
	)

	want := fees.NewEstimator(address.Legacy, address.Legacy)
	require.Equal(t, want, engine.Config().Estimator)
}

// TestParseDebugLevels checks global and per subsystem levels.
func TestParseDebugLevels(t *testing.T) {
	require.NoError(t, parseAndSetDebugLevels("debug"))
	require.NoError(t, parseAndSetDebugLevels("info,SPND=trace,POOL=warn"))

	require.Error(t, parseAndSetDebugLevels("loud"))
	require.Error(t, parseAndSetDebugLevels("SPND=loud"))
	require.Error(t, parseAndSetDebugLevels("NOPE=info"))
	require.Error(t, parseAndSetDebugLevels("SPND=info,debug"))

	require.Contains(t, supportedSubsystems(), "CHIO")
}
