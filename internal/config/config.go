package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"interaction-indexer-go/internal/limiter"
	"interaction-indexer-go/pkg/network"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProviderConfig 单个 RPC 节点配置
type ProviderConfig struct {
	Name     string  `yaml:"name"`
	URL      string  `yaml:"url"`
	Priority int     `yaml:"priority"` // 越小越优先
	RPS      float64 `yaml:"rps"`      // 0 表示不限速
}

// NetworkConfig 单条链的配置
type NetworkConfig struct {
	ID               string           `yaml:"id"`
	Name             string           `yaml:"name"`
	Family           string           `yaml:"family"`
	ChainID          string           `yaml:"chain_id"`
	BlockTimeSeconds float64          `yaml:"block_time_seconds"`
	URLTokens        []string         `yaml:"url_tokens"`
	Providers        []ProviderConfig `yaml:"providers"`
	ExplorerURL      string           `yaml:"explorer_url"`
	ExplorerAPIKey   string           `yaml:"explorer_api_key"`
}

type networksFile struct {
	Networks []NetworkConfig `yaml:"networks"`
}

// RetryConfig feeds the retry policy shared by all chain clients.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// MaxDirectScanCeiling bounds how many blocks a direct scan may walk.
const MaxDirectScanCeiling = 100_000

type Config struct {
	Networks            []NetworkConfig
	DefaultNetwork      string
	Tier                limiter.Tier
	BatchSize           int // 0 = 跟随 tier
	FailoverTimeout     time.Duration
	HealthCheckInterval time.Duration
	CacheTTL            time.Duration
	DirectScanCeiling   int64
	ErrorTrackerSize    int
	DeploymentStorePath string
	VerifyChainID       bool
	Retry               RetryConfig
	LogLevel            string
	LogFormat           string
}

var defaultProviders = map[string][]string{
	"ethereum":         {"https://eth.llamarpc.com", "https://ethereum-rpc.publicnode.com"},
	"sepolia":          {"https://ethereum-sepolia-rpc.publicnode.com", "https://rpc.sepolia.org"},
	"lisk":             {"https://rpc.api.lisk.com", "https://lisk.drpc.org"},
	"lisk-sepolia":     {"https://rpc.sepolia-api.lisk.com", "https://lisk-sepolia.drpc.org"},
	"starknet":         {"https://starknet-mainnet.public.blastapi.io/rpc/v0_7", "https://rpc.starknet.lava.build"},
	"starknet-sepolia": {"https://starknet-sepolia.public.blastapi.io/rpc/v0_7", "https://starknet-sepolia.drpc.org"},
}

var defaultExplorers = map[string]string{
	"ethereum":     "https://api.etherscan.io/api",
	"sepolia":      "https://api-sepolia.etherscan.io/api",
	"lisk":         "https://blockscout.lisk.com/api",
	"lisk-sepolia": "https://sepolia-blockscout.lisk.com/api",
}

// Load reads .env (optional), the networks file (optional) and environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env文件是可选的

	tier, err := limiter.ParseTier(getEnv("INDEXER_TIER", string(limiter.TierFree)))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Networks:            builtinNetworks(),
		DefaultNetwork:      getEnv("DEFAULT_NETWORK", "ethereum"),
		Tier:                tier,
		BatchSize:           int(getEnvAsInt64("BATCH_SIZE", 0)),
		FailoverTimeout:     getEnvAsDuration("FAILOVER_TIMEOUT", 10*time.Second),
		HealthCheckInterval: getEnvAsDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
		CacheTTL:            getEnvAsDuration("CACHE_TTL", 60*time.Second),
		DirectScanCeiling:   getEnvAsInt64("DIRECT_SCAN_CEILING", 100),
		ErrorTrackerSize:    int(getEnvAsInt64("ERROR_TRACKER_SIZE", 500)),
		DeploymentStorePath: getEnv("DEPLOYMENT_STORE_PATH", ""),
		VerifyChainID:       getEnvAsBool("VERIFY_CHAIN_ID", false),
		Retry: RetryConfig{
			MaxAttempts: int(getEnvAsInt64("RETRY_MAX_ATTEMPTS", 3)),
			BaseDelay:   getEnvAsDuration("RETRY_BASE_DELAY", 250*time.Millisecond),
			MaxDelay:    getEnvAsDuration("RETRY_MAX_DELAY", 4*time.Second),
		},
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if path := getEnv("NETWORKS_FILE", ""); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func builtinNetworks() []NetworkConfig {
	specs := network.Defaults()
	out := make([]NetworkConfig, 0, len(specs))
	for _, s := range specs {
		nc := NetworkConfig{
			ID:               s.ID,
			Name:             s.Name,
			Family:           string(s.Family),
			ChainID:          s.ChainID,
			BlockTimeSeconds: s.BlockTime.Seconds(),
			URLTokens:        s.URLTokens,
			ExplorerURL:      defaultExplorers[s.ID],
		}
		for i, u := range defaultProviders[s.ID] {
			nc.Providers = append(nc.Providers, ProviderConfig{URL: u, Priority: i})
		}
		out = append(out, nc)
	}
	return out
}

// mergeFile overlays a YAML networks file: known ids are patched field by
// field, unknown ids are appended as new networks.
func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read networks file: %w", err)
	}
	var file networksFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse networks file %s: %w", path, err)
	}
	for _, n := range file.Networks {
		idx := c.networkIndex(n.ID)
		if idx < 0 {
			c.Networks = append(c.Networks, n)
			continue
		}
		cur := &c.Networks[idx]
		if n.Name != "" {
			cur.Name = n.Name
		}
		if n.Family != "" {
			cur.Family = n.Family
		}
		if n.ChainID != "" {
			cur.ChainID = n.ChainID
		}
		if n.BlockTimeSeconds > 0 {
			cur.BlockTimeSeconds = n.BlockTimeSeconds
		}
		if n.URLTokens != nil {
			cur.URLTokens = n.URLTokens
		}
		if len(n.Providers) > 0 {
			cur.Providers = n.Providers
		}
		if n.ExplorerURL != "" {
			cur.ExplorerURL = n.ExplorerURL
		}
		if n.ExplorerAPIKey != "" {
			cur.ExplorerAPIKey = n.ExplorerAPIKey
		}
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	// RPC_URLS 兼容旧配置：作用于默认网络
	if legacy := getEnv("RPC_URLS", ""); legacy != "" {
		if idx := c.networkIndex(c.DefaultNetwork); idx >= 0 {
			c.Networks[idx].Providers = providersFromList(legacy)
		}
	}
	for i := range c.Networks {
		n := &c.Networks[i]
		suffix := envSuffix(n.ID)
		if list := getEnv("RPC_URLS_"+suffix, ""); list != "" {
			n.Providers = providersFromList(list)
		}
		if u := getEnv("EXPLORER_URL_"+suffix, ""); u != "" {
			n.ExplorerURL = u
		}
		if key := getEnv("EXPLORER_API_KEY_"+suffix, ""); key != "" {
			n.ExplorerAPIKey = key
		}
	}
}

// Validate checks ranges and fills provider names.
func (c *Config) Validate() error {
	if c.FailoverTimeout <= 0 {
		return fmt.Errorf("FAILOVER_TIMEOUT must be positive")
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("HEALTH_CHECK_INTERVAL must be positive")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("BATCH_SIZE must not be negative")
	}
	if c.DirectScanCeiling < 0 || c.DirectScanCeiling > MaxDirectScanCeiling {
		return fmt.Errorf("DIRECT_SCAN_CEILING must be between 0 and %d", MaxDirectScanCeiling)
	}
	if c.ErrorTrackerSize < 0 {
		return fmt.Errorf("ERROR_TRACKER_SIZE must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	seen := make(map[string]struct{}, len(c.Networks))
	for i := range c.Networks {
		n := &c.Networks[i]
		if n.ID == "" {
			return fmt.Errorf("network #%d has no id", i)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("network %s defined twice", n.ID)
		}
		seen[n.ID] = struct{}{}
		if !network.Family(n.Family).Valid() {
			return fmt.Errorf("network %s: unknown family %q", n.ID, n.Family)
		}
		for j := range n.Providers {
			p := &n.Providers[j]
			if strings.TrimSpace(p.URL) == "" {
				return fmt.Errorf("network %s: provider #%d has no url", n.ID, j)
			}
			if p.Name == "" {
				p.Name = fmt.Sprintf("%s-%d", n.ID, j)
			}
		}
	}
	return nil
}

// Network returns the configuration of one network.
func (c *Config) Network(id string) (NetworkConfig, bool) {
	if idx := c.networkIndex(id); idx >= 0 {
		return c.Networks[idx], true
	}
	return NetworkConfig{}, false
}

// Registry builds the network registry used for endpoint signatures.
func (c *Config) Registry() (*network.Registry, error) {
	specs := make([]network.Spec, 0, len(c.Networks))
	for _, n := range c.Networks {
		specs = append(specs, n.Spec())
	}
	return network.NewRegistry(specs)
}

func (n NetworkConfig) Spec() network.Spec {
	name := n.Name
	if name == "" {
		name = n.ID
	}
	return network.Spec{
		ID:        n.ID,
		Name:      name,
		Family:    network.Family(n.Family),
		ChainID:   n.ChainID,
		BlockTime: time.Duration(n.BlockTimeSeconds * float64(time.Second)),
		URLTokens: n.URLTokens,
	}
}

func (c *Config) networkIndex(id string) int {
	for i, n := range c.Networks {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func providersFromList(list string) []ProviderConfig {
	var out []ProviderConfig
	for _, u := range strings.Split(list, ",") {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		out = append(out, ProviderConfig{URL: u, Priority: len(out)})
	}
	return out
}

func envSuffix(id string) string {
	return strings.ToUpper(strings.ReplaceAll(id, "-", "_"))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		log.Printf("Invalid %s: %s, using default %d", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Printf("Invalid %s: %s, using default %s", key, valueStr, defaultValue)
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid %s: %s, using default %v", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}
