// Package app contains the connection lifecycle services and port definitions
// for the wallet context.
package app

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"github.com/tqthu/web3-thu-duc/business/wallet/domain"
)

// Connector names registered by default.
const (
	ConnectorInjected      = "Injected"
	ConnectorNetwork       = "Network"
	ConnectorWalletConnect = "WalletConnect"
	ConnectorWalletLink    = "WalletLink"
)

// Provider is the read/subscribe handle obtained from a successful activation.
// Consumers other than the owning connector must only call read methods.
type Provider interface {
	// BlockNumber returns the current block height.
	BlockNumber(ctx context.Context) (uint64, error)

	// BalanceAt returns the latest balance of account in wei.
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)

	// WatchBlocks opens the transport-level new-head subscription that feeds
	// SubscribeBlocks listeners. ctx only bounds establishing it.
	WatchBlocks(ctx context.Context) (event.Subscription, error)

	// SubscribeBlocks registers ch to receive block numbers while a
	// WatchBlocks subscription is open.
	SubscribeBlocks(ch chan<- uint64) event.Subscription
}

// Activation is the result of a successful connector activation.
type Activation struct {
	Provider Provider
	ChainID  uint64
	Account  domain.Account
}

// Connector establishes a session with a wallet or node.
// Activate on a connector that already holds a session replaces it.
// Deactivate is idempotent and releases the provider.
type Connector interface {
	Activate(ctx context.Context) (Activation, error)
	Deactivate()
}

// Authorizer is implemented by connectors that can tell whether the user has
// already granted access, without prompting.
type Authorizer interface {
	IsAuthorized(ctx context.Context) (bool, error)
}

// EventSource is implemented by connectors whose transport emits
// connect/chainChanged/accountsChanged notifications.
type EventSource interface {
	SubscribeProviderEvents(ch chan<- domain.ProviderEvent) event.Subscription
}

// SessionURISource is implemented by bridge connectors that publish a pairing
// URI for the user to scan.
type SessionURISource interface {
	SubscribeSessionURI(ch chan<- string) event.Subscription
}

// Descriptor binds a connector to its registry name.
type Descriptor struct {
	Name      string
	Connector Connector
}
