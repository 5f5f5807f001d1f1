// Package domain contains the core domain types for the wallet context.
package domain

import (
	"github.com/ethereum/go-ethereum/common"
)

// Status is the state machine's lifecycle phase.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusActivating   Status = "activating"
	StatusActive       Status = "active"
	StatusErrored      Status = "errored"
)

// AccountState distinguishes an unresolved account from an explicit "none".
type AccountState int

const (
	// AccountUnknown means the account has not been determined yet.
	AccountUnknown AccountState = iota
	// AccountNone means the provider reports no authorized account.
	AccountNone
	// AccountPresent means Address is set.
	AccountPresent
)

// Account is the three-valued account identity.
type Account struct {
	Address common.Address
	State   AccountState
}

// UnknownAccount returns the unresolved account.
func UnknownAccount() Account { return Account{} }

// NoAccount returns the explicit "no authorized account" value.
func NoAccount() Account { return Account{State: AccountNone} }

// AccountOf returns a present account.
func AccountOf(addr common.Address) Account {
	return Account{Address: addr, State: AccountPresent}
}

// IsPresent reports whether an address is set.
func (a Account) IsPresent() bool { return a.State == AccountPresent }

// String renders the account the way the status view shows it.
func (a Account) String() string {
	switch a.State {
	case AccountPresent:
		hex := a.Address.Hex()
		return hex[:6] + "..." + hex[len(hex)-4:]
	case AccountNone:
		return "None"
	default:
		return "N/A"
	}
}

// ConnectionState is a snapshot of the state machine.
// Active is true iff a connector and provider are set and Error is nil.
// ChainID 0 means no chain.
type ConnectionState struct {
	Status     Status
	Connector  string // active connector name, empty when none
	Activating string // connector name of the in-flight activation, if any
	ChainID    uint64
	Account    Account
	Active     bool
	Error      *ConnectionError
}

// HasSession reports whether a connector session is held.
func (s ConnectionState) HasSession() bool {
	return s.Connector != ""
}
