package domain

import "github.com/ethereum/go-ethereum/common"

// ProviderEventKind names an EIP-1193 provider notification.
type ProviderEventKind string

const (
	EventConnect         ProviderEventKind = "connect"
	EventChainChanged    ProviderEventKind = "chainChanged"
	EventAccountsChanged ProviderEventKind = "accountsChanged"
)

// ProviderEvent is a presence/change notification from the injected transport.
type ProviderEvent struct {
	Kind     ProviderEventKind
	ChainID  uint64
	Accounts []common.Address
}

// TriggersActivation reports whether the event should start an activation
// while no connector is active.
func (e ProviderEvent) TriggersActivation() bool {
	switch e.Kind {
	case EventConnect, EventChainChanged:
		return true
	case EventAccountsChanged:
		return len(e.Accounts) > 0
	default:
		return false
	}
}
