// Package asset describes native coins and renders amounts of them.
package asset

import "fmt"

// Asset is the metadata of a chain's native coin.
type Asset struct {
	chainID  uint64
	symbol   string
	name     string
	sign     string
	decimals uint8
}

// NewAsset creates an Asset. The sign is the short prefix shown before an
// amount; it falls back to the symbol.
func NewAsset(chainID uint64, symbol, name, sign string, decimals uint8) *Asset {
	if symbol == "" {
		panic("asset: empty symbol")
	}
	if decimals > 30 {
		panic("asset: suspicious decimals (>30)")
	}
	if sign == "" {
		sign = symbol
	}
	return &Asset{
		chainID:  chainID,
		symbol:   symbol,
		name:     name,
		sign:     sign,
		decimals: decimals,
	}
}

// ChainID returns the chain the coin is native to.
func (a *Asset) ChainID() uint64 { return a.chainID }

// Symbol returns the ticker symbol (e.g., "ETH").
func (a *Asset) Symbol() string { return a.symbol }

// Name returns the human-readable name.
func (a *Asset) Name() string {
	if a.name == "" {
		return a.symbol
	}
	return a.name
}

// Sign returns the display prefix (e.g., "Ξ").
func (a *Asset) Sign() string { return a.sign }

// Decimals returns the number of decimal places.
func (a *Asset) Decimals() uint8 { return a.decimals }

func (a *Asset) String() string {
	return fmt.Sprintf("%s (chain %d)", a.symbol, a.chainID)
}
