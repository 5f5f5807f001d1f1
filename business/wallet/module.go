// Package wallet implements the wallet connection lifecycle bounded context.
package wallet

import (
	"context"
	"fmt"

	"github.com/tqthu/web3-thu-duc/business/wallet/app"
	walletDI "github.com/tqthu/web3-thu-duc/business/wallet/di"
	"github.com/tqthu/web3-thu-duc/business/wallet/infra/bridge"
	"github.com/tqthu/web3-thu-duc/business/wallet/infra/ethereum"
	"github.com/tqthu/web3-thu-duc/business/wallet/infra/injected"
	"github.com/tqthu/web3-thu-duc/business/wallet/infra/network"
	"github.com/tqthu/web3-thu-duc/internal/config"
	"github.com/tqthu/web3-thu-duc/internal/di"
	"github.com/tqthu/web3-thu-duc/internal/health"
	"github.com/tqthu/web3-thu-duc/internal/logger"
	"github.com/tqthu/web3-thu-duc/internal/monolith"
)

// Module implements the wallet bounded context.
type Module struct {
	service *app.WalletService
}

// RegisterServices registers all wallet services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Connectors (private - only reachable through the registry)
	di.RegisterToken(c, walletDI.InjectedConnector, func(sr di.ServiceRegistry) app.Connector {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		injCfg := injected.DefaultConfig(cfg.Injected.URL)
		injCfg.WatchInterval = cfg.Injected.WatchInterval
		injCfg.Provider = providerConfig(cfg, "injected")
		return injected.New(injCfg, log)
	})

	di.RegisterToken(c, walletDI.NetworkConnector, func(sr di.ServiceRegistry) app.Connector {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		conn, err := network.New(network.Config{
			DefaultChainID: cfg.Network.DefaultChainID,
			URLs:           cfg.Network.URLs(),
			Provider:       providerConfig(cfg, "network"),
		}, log)
		if err != nil {
			panic("failed to create network connector: " + err.Error())
		}
		return conn
	})

	di.RegisterToken(c, walletDI.WalletConnectConnector, func(sr di.ServiceRegistry) app.Connector {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		return newBridge(cfg, log, app.ConnectorWalletConnect, cfg.Bridge.WalletConnectURL)
	})

	di.RegisterToken(c, walletDI.WalletLinkConnector, func(sr di.ServiceRegistry) app.Connector {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		return newBridge(cfg, log, app.ConnectorWalletLink, cfg.Bridge.WalletLinkURL)
	})

	di.RegisterToken(c, walletDI.Registry, func(sr di.ServiceRegistry) *app.Registry {
		return app.NewRegistry(
			app.Descriptor{Name: app.ConnectorInjected, Connector: di.GetToken(sr, walletDI.InjectedConnector)},
			app.Descriptor{Name: app.ConnectorNetwork, Connector: di.GetToken(sr, walletDI.NetworkConnector)},
			app.Descriptor{Name: app.ConnectorWalletConnect, Connector: di.GetToken(sr, walletDI.WalletConnectConnector)},
			app.Descriptor{Name: app.ConnectorWalletLink, Connector: di.GetToken(sr, walletDI.WalletLinkConnector)},
		)
	})

	// Register WalletService (public - exposed to other modules)
	di.RegisterToken(c, walletDI.WalletService, func(sr di.ServiceRegistry) *app.WalletService {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		trackerCfg := app.DefaultTrackerConfig()
		if cfg.Ethereum.BufferSize > 0 {
			trackerCfg.BufferSize = cfg.Ethereum.BufferSize
		}

		svc, err := app.NewWalletService(app.ServiceConfig{
			Machine:      app.MachineConfig{SupportedChainIDs: cfg.Wallet.SupportedChainIDs},
			Tracker:      trackerCfg,
			EagerConnect: cfg.Wallet.EagerConnect,
		}, walletDI.GetRegistry(sr), log)
		if err != nil {
			panic("failed to create wallet service: " + err.Error())
		}
		return svc
	})

	return nil
}

// Startup starts the eager probe and the session URI watchers.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()

	m.service = walletDI.GetWalletService(mono.Services())
	m.service.Start(ctx)

	log.Info(ctx, "wallet module started", "connectors", m.service.Connectors())
	return nil
}

// Shutdown ends the active session and stops background work.
func (m *Module) Shutdown(ctx context.Context) error {
	if m.service != nil {
		m.service.Close(ctx)
	}
	return nil
}

// HealthCheck reports an errored connection as unhealthy.
func HealthCheck(svc *app.WalletService) health.CheckFunc {
	return func(ctx context.Context) (bool, string) {
		v := svc.View()
		switch {
		case v.Error != nil:
			return false, v.Error.Message()
		case v.Active:
			return true, fmt.Sprintf("%s on chain %d", v.Connector, v.ChainID)
		default:
			return true, "idle"
		}
	}
}

func providerConfig(cfg *config.Config, name string) ethereum.ProviderConfig {
	p := ethereum.DefaultProviderConfig(name)
	if cfg.Ethereum.PollInterval > 0 {
		p.PollInterval = cfg.Ethereum.PollInterval
	}
	if cfg.Ethereum.BufferSize > 0 {
		p.BufferSize = cfg.Ethereum.BufferSize
	}
	if cfg.Ethereum.RequestsPerSecond > 0 {
		p.RequestsPerSecond = cfg.Ethereum.RequestsPerSecond
	}
	if cfg.Ethereum.Burst > 0 {
		p.Burst = cfg.Ethereum.Burst
	}
	return p
}

func newBridge(cfg *config.Config, log logger.LoggerInterface, name, url string) *bridge.Connector {
	return bridge.New(bridge.Config{
		Name:            name,
		BridgeURL:       url,
		RPCURLs:         cfg.Network.URLs(),
		ApprovalTimeout: cfg.Bridge.ApprovalTimeout,
		Provider:        providerConfig(cfg, name),
	}, log)
}

var _ monolith.Closer = (*Module)(nil)
