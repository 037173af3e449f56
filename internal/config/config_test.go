package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WALLET_ADDRESS", "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(1), cfg.Chain.MinConfirm)
	assert.Equal(t, 30*time.Second, cfg.PollInterval())
	assert.Equal(t, 10000, cfg.Monitor.DedupCapacity)
	assert.Equal(t, int64(100), cfg.Monitor.BackfillBlocks)
	assert.Equal(t, "USDT-TRC20", cfg.Chain.AcceptedToken)
	assert.Equal(t, 15*time.Minute, cfg.OrderTTL())
	assert.Contains(t, cfg.DSN(), "dbname=storefront")
}

func TestLoadRequiresWallet(t *testing.T) {
	t.Setenv("WALLET_ADDRESS", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsZeroConfirmations(t *testing.T) {
	t.Setenv("WALLET_ADDRESS", "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE")
	t.Setenv("MIN_CONFIRMATIONS", "0")
	_, err := Load()
	assert.ErrorContains(t, err, "MIN_CONFIRMATIONS")
}

func TestPollIntervalInSeconds(t *testing.T) {
	t.Setenv("WALLET_ADDRESS", "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE")
	t.Setenv("POLL_INTERVAL", "45")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.PollInterval())

	t.Setenv("POLL_INTERVAL", "0")
	_, err = Load()
	assert.ErrorContains(t, err, "POLL_INTERVAL")
}
