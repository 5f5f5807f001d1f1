// Package di contains dependency injection tokens for the wallet context.
package di

import (
	"github.com/tqthu/web3-thu-duc/business/wallet/app"
	"github.com/tqthu/web3-thu-duc/internal/di"
)

// Public service tokens - exposed to other modules
var (
	WalletService = di.NewToken[*app.WalletService]("wallet.WalletService")
)

// Private dependency tokens - internal to wallet module
var (
	Registry               = di.NewToken[*app.Registry]("wallet:registry")
	InjectedConnector      = di.NewToken[app.Connector]("wallet:injectedConnector")
	NetworkConnector       = di.NewToken[app.Connector]("wallet:networkConnector")
	WalletConnectConnector = di.NewToken[app.Connector]("wallet:walletConnectConnector")
	WalletLinkConnector    = di.NewToken[app.Connector]("wallet:walletLinkConnector")
)

// Helper functions for type-safe access
func GetWalletService(c di.ServiceRegistry) *app.WalletService {
	return di.GetToken(c, WalletService)
}

func GetRegistry(c di.ServiceRegistry) *app.Registry {
	return di.GetToken(c, Registry)
}
