package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"interaction-indexer-go/internal/limiter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no stray .env
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, limiter.TierFree, cfg.Tier)
	assert.Equal(t, 10*time.Second, cfg.FailoverTimeout)
	assert.Equal(t, 60*time.Second, cfg.CacheTTL)
	assert.Equal(t, int64(100), cfg.DirectScanCeiling)

	lisk, ok := cfg.Network("lisk")
	require.True(t, ok)
	assert.Equal(t, "evm", lisk.Family)
	require.NotEmpty(t, lisk.Providers)
	assert.Equal(t, "lisk-0", lisk.Providers[0].Name)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	for _, n := range cfg.Networks {
		for _, p := range n.Providers {
			assert.NoError(t, reg.VerifyEndpointURL(n.ID, p.URL), "default provider %s of %s", p.URL, n.ID)
		}
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("INDEXER_TIER", "pro")
	t.Setenv("FAILOVER_TIMEOUT", "3s")
	t.Setenv("CACHE_TTL", "90")
	t.Setenv("DIRECT_SCAN_CEILING", "50")
	t.Setenv("VERIFY_CHAIN_ID", "true")
	t.Setenv("RPC_URLS_LISK_SEPOLIA", "https://a.lisk-sepolia.example, https://b.lisk-sepolia.example")
	t.Setenv("EXPLORER_API_KEY_ETHEREUM", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, limiter.TierPro, cfg.Tier)
	assert.Equal(t, 3*time.Second, cfg.FailoverTimeout)
	assert.Equal(t, 90*time.Second, cfg.CacheTTL)
	assert.Equal(t, int64(50), cfg.DirectScanCeiling)
	assert.True(t, cfg.VerifyChainID)

	ls, _ := cfg.Network("lisk-sepolia")
	require.Len(t, ls.Providers, 2)
	assert.Equal(t, "https://b.lisk-sepolia.example", ls.Providers[1].URL)
	assert.Equal(t, 1, ls.Providers[1].Priority)

	eth, _ := cfg.Network("ethereum")
	assert.Equal(t, "secret", eth.ExplorerAPIKey)
}

func TestLoad_BadTier(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("INDEXER_TIER", "gold")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_NetworksFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "networks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
networks:
  - id: lisk
    providers:
      - name: primary
        url: https://lisk.gateway.example/rpc
        priority: 0
        rps: 5
  - id: base
    name: Base Mainnet
    family: evm
    chain_id: "0x2105"
    block_time_seconds: 2
    url_tokens: ["base"]
    providers:
      - url: https://base.llamarpc.com
`), 0o600))
	t.Setenv("NETWORKS_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	lisk, _ := cfg.Network("lisk")
	require.Len(t, lisk.Providers, 1)
	assert.Equal(t, "primary", lisk.Providers[0].Name)
	assert.Equal(t, 5.0, lisk.Providers[0].RPS)
	assert.Equal(t, "0x46f", lisk.ChainID, "unset fields keep built-in values")

	base, ok := cfg.Network("base")
	require.True(t, ok)
	assert.Equal(t, "base-0", base.Providers[0].Name)
	assert.Equal(t, 2*time.Second, base.Spec().BlockTime)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	assert.NoError(t, reg.VerifyEndpointURL("base", "https://base.llamarpc.com"))
	assert.Error(t, reg.VerifyEndpointURL("ethereum", "https://base.llamarpc.com"))
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		FailoverTimeout:     time.Second,
		HealthCheckInterval: time.Second,
		CacheTTL:            time.Second,
		Retry:               RetryConfig{MaxAttempts: 1},
		Networks:            []NetworkConfig{{ID: "x", Family: "move"}},
	}
	assert.Error(t, cfg.Validate())

	cfg.Networks = []NetworkConfig{{ID: "x", Family: "evm", Providers: []ProviderConfig{{URL: " "}}}}
	assert.Error(t, cfg.Validate())

	cfg.Networks = []NetworkConfig{{ID: "x", Family: "evm"}, {ID: "x", Family: "evm"}}
	assert.Error(t, cfg.Validate())
}

func TestLoad_RejectsNegativeDirectScanCeiling(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DIRECT_SCAN_CEILING", "-1")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DIRECT_SCAN_CEILING")
}

func TestValidate_Ranges(t *testing.T) {
	base := func() *Config {
		return &Config{
			FailoverTimeout:     time.Second,
			HealthCheckInterval: time.Second,
			CacheTTL:            time.Second,
			Retry:               RetryConfig{MaxAttempts: 1},
		}
	}
	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative ceiling", func(c *Config) { c.DirectScanCeiling = -1 }},
		{"ceiling too large", func(c *Config) { c.DirectScanCeiling = MaxDirectScanCeiling + 1 }},
		{"negative batch", func(c *Config) { c.BatchSize = -5 }},
		{"negative tracker size", func(c *Config) { c.ErrorTrackerSize = -1 }},
		{"no retry attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := base()
	cfg.DirectScanCeiling = MaxDirectScanCeiling
	assert.NoError(t, cfg.Validate())
}
