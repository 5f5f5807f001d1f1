// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	Injected  InjectedConfig  `mapstructure:"injected"`
	Network   NetworkConfig   `mapstructure:"network"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Health    HealthConfig    `mapstructure:"health"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	TUIMode     bool   `mapstructure:"-"` // Set at runtime, not from config file
}

// WalletConfig holds connection lifecycle settings.
type WalletConfig struct {
	SupportedChainIDs []uint64 `mapstructure:"supported_chain_ids"`
	EagerConnect      bool     `mapstructure:"eager_connect"`
}

// IsSupported reports whether chainID is in the supported set.
func (c *WalletConfig) IsSupported(chainID uint64) bool {
	return slices.Contains(c.SupportedChainIDs, chainID)
}

// InjectedConfig describes the locally exposed wallet endpoint.
type InjectedConfig struct {
	URL           string        `mapstructure:"url"` // empty = no injected provider
	WatchInterval time.Duration `mapstructure:"watch_interval"`
}

// EndpointConfig maps a chain id to a JSON-RPC URL.
type EndpointConfig struct {
	ChainID uint64 `mapstructure:"chain_id"`
	URL     string `mapstructure:"url"`
}

// NetworkConfig holds read-only RPC endpoints.
type NetworkConfig struct {
	DefaultChainID uint64           `mapstructure:"default_chain_id"`
	URL            string           `mapstructure:"url"` // override for the default chain
	Endpoints      []EndpointConfig `mapstructure:"endpoints"`
}

// URLFor returns the RPC URL configured for chainID.
func (c *NetworkConfig) URLFor(chainID uint64) (string, bool) {
	if chainID == c.DefaultChainID && c.URL != "" {
		return c.URL, true
	}
	for _, e := range c.Endpoints {
		if e.ChainID == chainID && e.URL != "" {
			return e.URL, true
		}
	}
	return "", false
}

// URLs returns the chain id -> RPC URL map, with the override applied.
func (c *NetworkConfig) URLs() map[uint64]string {
	out := make(map[uint64]string, len(c.Endpoints)+1)
	for _, e := range c.Endpoints {
		if e.URL != "" {
			out[e.ChainID] = e.URL
		}
	}
	if c.URL != "" {
		out[c.DefaultChainID] = c.URL
	}
	return out
}

// BridgeConfig holds bridge relay settings for WalletConnect and WalletLink.
type BridgeConfig struct {
	WalletConnectURL string        `mapstructure:"walletconnect_url"`
	WalletLinkURL    string        `mapstructure:"walletlink_url"`
	ApprovalTimeout  time.Duration `mapstructure:"approval_timeout"`
}

// EthereumConfig holds provider handle settings.
type EthereumConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	PollInterval      time.Duration `mapstructure:"poll_interval"` // head polling for HTTP transports
	BufferSize        int           `mapstructure:"buffer_size"`
}

// HealthConfig holds the health server settings.
type HealthConfig struct {
	Port int `mapstructure:"port"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	TraceProvider  string `mapstructure:"trace_provider"` // zipkin, otlp-grpc, otlp-http, console, none
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
	PrometheusPort int    `mapstructure:"prometheus_port"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("WALLET")
	v.AutomaticEnv()

	bindEnvVars(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	// App
	v.BindEnv("app.name", "WALLET_APP_NAME", "SERVICE_NAME")
	v.BindEnv("app.environment", "WALLET_ENVIRONMENT", "ENVIRONMENT")
	v.BindEnv("app.log_level", "WALLET_LOG_LEVEL", "LOG_LEVEL")

	// Wallet
	v.BindEnv("wallet.supported_chain_ids", "WALLET_SUPPORTED_CHAIN_IDS")
	v.BindEnv("wallet.eager_connect", "WALLET_EAGER_CONNECT")

	// Injected provider
	v.BindEnv("injected.url", "WALLET_INJECTED_URL", "ETHEREUM_PROVIDER")

	// Network
	v.BindEnv("network.url", "WALLET_NETWORK_URL", "ETH_HTTP_URL")
	v.BindEnv("network.default_chain_id", "WALLET_DEFAULT_CHAIN_ID", "ETH_CHAIN_ID")

	// Bridges
	v.BindEnv("bridge.walletconnect_url", "WALLET_WALLETCONNECT_BRIDGE")
	v.BindEnv("bridge.walletlink_url", "WALLET_WALLETLINK_BRIDGE")

	// Telemetry
	v.BindEnv("telemetry.enabled", "WALLET_OTEL_ENABLED", "OTEL_ENABLED")
	v.BindEnv("telemetry.service_name", "WALLET_OTEL_SERVICE_NAME", "OTEL_SERVICE_NAME")
	v.BindEnv("telemetry.otlp_endpoint", "WALLET_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	v.BindEnv("telemetry.trace_provider", "WALLET_OTEL_TRACE_PROVIDER")
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "walletd")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// Wallet defaults: mainnet and the public testnets
	v.SetDefault("wallet.supported_chain_ids", []uint64{1, 3, 4, 5, 42, 11155111})
	v.SetDefault("wallet.eager_connect", true)

	// Injected defaults
	v.SetDefault("injected.url", "")
	v.SetDefault("injected.watch_interval", "2s")

	// Network defaults
	v.SetDefault("network.default_chain_id", 1)
	v.SetDefault("network.endpoints", []map[string]any{
		{"chain_id": 1, "url": "https://ethereum-rpc.publicnode.com"},
		{"chain_id": 11155111, "url": "https://ethereum-sepolia-rpc.publicnode.com"},
	})

	// Bridge defaults
	v.SetDefault("bridge.walletconnect_url", "wss://bridge.walletconnect.org")
	v.SetDefault("bridge.walletlink_url", "wss://www.walletlink.org/rpc")
	v.SetDefault("bridge.approval_timeout", "2m")

	// Ethereum provider defaults
	v.SetDefault("ethereum.requests_per_second", 10)
	v.SetDefault("ethereum.burst", 5)
	v.SetDefault("ethereum.poll_interval", "8s")
	v.SetDefault("ethereum.buffer_size", 16)

	// Health defaults
	v.SetDefault("health.port", 8081)

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "walletd")
	v.SetDefault("telemetry.trace_provider", "zipkin")
	v.SetDefault("telemetry.otlp_endpoint", "http://localhost:9411/api/v2/spans")
	v.SetDefault("telemetry.prometheus_port", 9090)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Wallet.SupportedChainIDs) == 0 {
		return fmt.Errorf("wallet.supported_chain_ids cannot be empty")
	}
	if c.Network.DefaultChainID == 0 {
		return fmt.Errorf("network.default_chain_id is required")
	}
	if _, ok := c.Network.URLFor(c.Network.DefaultChainID); !ok {
		return fmt.Errorf("no network endpoint for default chain %d", c.Network.DefaultChainID)
	}
	if c.Ethereum.PollInterval <= 0 {
		return fmt.Errorf("ethereum.poll_interval must be positive")
	}
	if c.Injected.WatchInterval <= 0 {
		return fmt.Errorf("injected.watch_interval must be positive")
	}
	return nil
}
