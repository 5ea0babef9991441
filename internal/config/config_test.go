package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresRPCURL(t *testing.T) {
	_, err := Load(EnvMap{})
	require.ErrorContains(t, err, "RPC_URL")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(EnvMap{"RPC_URL": "https://rpc.example"})
	require.NoError(t, err)

	assert.Equal(t, uint64(11155111), cfg.ChainID)
	assert.Equal(t, uint8(6), cfg.TokenDecimals)
	assert.Equal(t, "zerodev-salt", cfg.SignerSalt)
	assert.Equal(t, uint64(100_000), cfg.HistoryMaxDepth)
	assert.Equal(t, uint64(8_000), cfg.HistoryChunkSize)
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.Equal(t, 2*time.Second, cfg.ReceiptPollInterval)
	assert.Equal(t, 2*time.Minute, cfg.ReceiptTimeout)
	assert.Equal(t, LedgerBackendSQLite, cfg.LedgerBackend)
	assert.Equal(t, "https://sepolia.etherscan.io", cfg.ExplorerURL)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.False(t, cfg.LedgerRedisCache)
	assert.Equal(t, time.Hour, cfg.LedgerCacheTTL)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(EnvMap{
		"RPC_URL":            "https://rpc.example",
		"BUNDLER_URL":        "https://bundler.example",
		"CHAIN_ID":           "1",
		"TOKEN_DECIMALS":     "18",
		"HISTORY_CHUNK_SIZE": "500",
		"RECEIPT_TIMEOUT":    "30s",
		"LEDGER_BACKEND":     "Redis",
		"KAFKA_BROKERS":      "a:9092, b:9092,",
		"EXPLORER_URL":       "https://etherscan.io/",
		"LEDGER_REDIS_CACHE": "true",
		"LEDGER_CACHE_TTL":   "10m",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://bundler.example", cfg.BundlerURL)
	assert.Equal(t, uint64(1), cfg.ChainID)
	assert.Equal(t, uint8(18), cfg.TokenDecimals)
	assert.Equal(t, uint64(500), cfg.HistoryChunkSize)
	assert.Equal(t, 30*time.Second, cfg.ReceiptTimeout)
	assert.Equal(t, LedgerBackendRedis, cfg.LedgerBackend)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "https://etherscan.io", cfg.ExplorerURL)
	assert.True(t, cfg.LedgerRedisCache)
	assert.Equal(t, 10*time.Minute, cfg.LedgerCacheTTL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]EnvMap{
		"chain id":      {"CHAIN_ID": "sepolia"},
		"zero chain":    {"CHAIN_ID": "0"},
		"decimals":      {"TOKEN_DECIMALS": "99"},
		"token address": {"TOKEN_ADDRESS": "0x123"},
		"chunk size":    {"HISTORY_CHUNK_SIZE": "0"},
		"poll interval": {"RECEIPT_POLL_INTERVAL": "soon"},
		"backend":       {"LEDGER_BACKEND": "postgres"},
		"cache flag":    {"LEDGER_REDIS_CACHE": "maybe"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			env["RPC_URL"] = "https://rpc.example"
			_, err := Load(env)
			require.Error(t, err)
		})
	}
}

func TestLoadFromEnvReadsProcessEnvironment(t *testing.T) {
	t.Setenv("RPC_URL", "https://rpc.example")
	t.Setenv("HISTORY_LIMIT", "20")
	t.Setenv(envFileKey, "does-not-exist.env")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "https://rpc.example", cfg.RPCURL)
	assert.Equal(t, 20, cfg.HistoryLimit)
}
