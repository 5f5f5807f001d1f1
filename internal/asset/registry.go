package asset

import (
	"fmt"
	"sync"
)

// Chain IDs with a well-known native coin.
const (
	ChainIDMainnet = 1
	ChainIDRopsten = 3
	ChainIDRinkeby = 4
	ChainIDGoerli  = 5
	ChainIDKovan   = 42
	ChainIDSepolia = 11155111
)

// EtherSign prefixes ether amounts.
const EtherSign = "Ξ"

// Registry is a thread-safe chain id -> native coin mapping.
type Registry struct {
	mu      sync.RWMutex
	natives map[uint64]*Asset
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{natives: make(map[uint64]*Asset)}
}

// Register adds a native coin. Registering a chain twice panics.
func (r *Registry) Register(a *Asset) {
	if a == nil {
		panic("asset: cannot register nil asset")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.natives[a.ChainID()]; exists {
		panic(fmt.Sprintf("asset: chain %d already registered", a.ChainID()))
	}
	r.natives[a.ChainID()] = a
}

// Native returns the native coin of chainID. Unknown chains get an 18
// decimal coin named after the chain so balances still render.
func (r *Registry) Native(chainID uint64) *Asset {
	r.mu.RLock()
	a, ok := r.natives[chainID]
	r.mu.RUnlock()
	if ok {
		return a
	}
	return NewAsset(chainID, "ETH", fmt.Sprintf("Chain %d Ether", chainID), EtherSign, 18)
}

// Has reports whether chainID has a registered coin.
func (r *Registry) Has(chainID uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.natives[chainID]
	return ok
}

// DefaultRegistry returns a registry with ether on mainnet and the public
// testnets.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewAsset(ChainIDMainnet, "ETH", "Ether", EtherSign, 18))
	r.Register(NewAsset(ChainIDRopsten, "ETH", "Ropsten Ether", EtherSign, 18))
	r.Register(NewAsset(ChainIDRinkeby, "ETH", "Rinkeby Ether", EtherSign, 18))
	r.Register(NewAsset(ChainIDGoerli, "ETH", "Goerli Ether", EtherSign, 18))
	r.Register(NewAsset(ChainIDKovan, "ETH", "Kovan Ether", EtherSign, 18))
	r.Register(NewAsset(ChainIDSepolia, "ETH", "Sepolia Ether", EtherSign, 18))
	return r
}
