package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.App.Name != "walletd" {
		t.Errorf("expected default app name, got %q", cfg.App.Name)
	}
	if !cfg.Wallet.IsSupported(1) {
		t.Error("expected mainnet to be supported by default")
	}
	if cfg.Wallet.IsSupported(9999) {
		t.Error("expected chain 9999 to be unsupported")
	}
	if cfg.Ethereum.PollInterval != 8*time.Second {
		t.Errorf("expected 8s poll interval, got %s", cfg.Ethereum.PollInterval)
	}
	if _, ok := cfg.Network.URLFor(1); !ok {
		t.Error("expected a default mainnet endpoint")
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
wallet:
  supported_chain_ids: [5]
network:
  default_chain_id: 5
  endpoints:
    - chain_id: 5
      url: http://localhost:8545
injected:
  url: ws://127.0.0.1:1248
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WALLET_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.App.LogLevel != "debug" {
		t.Errorf("expected env override, got %q", cfg.App.LogLevel)
	}
	if cfg.Injected.URL != "ws://127.0.0.1:1248" {
		t.Errorf("unexpected injected url %q", cfg.Injected.URL)
	}
	if url, _ := cfg.Network.URLFor(5); url != "http://localhost:8545" {
		t.Errorf("unexpected goerli url %q", url)
	}
	if cfg.Wallet.IsSupported(1) {
		t.Error("expected file to replace the supported set")
	}
}

func TestValidate(t *testing.T) {
	cfg := Config{
		Wallet:   WalletConfig{SupportedChainIDs: []uint64{1}},
		Network:  NetworkConfig{DefaultChainID: 1, URL: "http://localhost:8545"},
		Ethereum: EthereumConfig{PollInterval: time.Second},
		Injected: InjectedConfig{WatchInterval: time.Second},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cfg.Network.URL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected missing default endpoint to fail validation")
	}
}

func TestNetworkConfig_URLs(t *testing.T) {
	cfg := NetworkConfig{
		DefaultChainID: 1,
		URL:            "http://override:8545",
		Endpoints: []EndpointConfig{
			{ChainID: 1, URL: "http://mainnet:8545"},
			{ChainID: 5, URL: "http://goerli:8545"},
			{ChainID: 42},
		},
	}

	urls := cfg.URLs()
	if urls[1] != "http://override:8545" {
		t.Errorf("expected override for default chain, got %q", urls[1])
	}
	if urls[5] != "http://goerli:8545" {
		t.Errorf("unexpected goerli url %q", urls[5])
	}
	if _, ok := urls[42]; ok {
		t.Error("expected empty endpoint to be skipped")
	}
}
