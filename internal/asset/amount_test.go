package asset_test

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tqthu/web3-thu-duc/internal/asset"
)

func wei(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad wei literal " + s)
	}
	return n
}

func TestAmount_ToDecimal(t *testing.T) {
	eth := asset.DefaultRegistry().Native(asset.ChainIDMainnet)
	oneETH := asset.NewAmount(eth, wei("1000000000000000000"))

	if oneETH.IsZero() {
		t.Error("expected non-zero amount")
	}
	if !oneETH.ToDecimal().Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected 1, got %s", oneETH.ToDecimal())
	}
}

func TestAmount_Significant(t *testing.T) {
	eth := asset.DefaultRegistry().Native(asset.ChainIDMainnet)

	tests := []struct {
		name string
		wei  string
		want string
	}{
		{"zero", "0", "0.000"},
		{"one ether", "1000000000000000000", "1.000"},
		{"rounds half up", "1234560000000000000", "1.235"},
		{"small", "123456000000000", "0.0001235"},
		{"large", "12345600000000000000000", "12350"},
		{"carry", "9999960000000000000", "10.00"},
		{"one wei", "1", "0.000000000000000001000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := asset.NewAmount(eth, wei(tt.wei)).Significant(4)
			if got != tt.want {
				t.Errorf("Significant(4) = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAmount_String(t *testing.T) {
	eth := asset.DefaultRegistry().Native(asset.ChainIDGoerli)
	got := asset.NewAmount(eth, wei("2500000000000000000")).String()
	if got != "Ξ 2.500" {
		t.Errorf("expected Ξ 2.500, got %q", got)
	}
}

func TestNewAmount_Negative(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on negative amount")
		}
	}()
	asset.NewAmount(asset.DefaultRegistry().Native(1), big.NewInt(-1))
}

func TestRegistry_Native(t *testing.T) {
	r := asset.DefaultRegistry()

	if !r.Has(asset.ChainIDSepolia) {
		t.Error("expected sepolia to be registered")
	}
	if got := r.Native(asset.ChainIDKovan).Name(); got != "Kovan Ether" {
		t.Errorf("unexpected kovan coin %q", got)
	}

	unknown := r.Native(9999)
	if unknown.Decimals() != 18 || unknown.Sign() != asset.EtherSign {
		t.Errorf("expected ether fallback for unknown chain, got %s", unknown)
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate chain")
		}
	}()
	r := asset.NewRegistry()
	r.Register(asset.NewAsset(1, "ETH", "Ether", asset.EtherSign, 18))
	r.Register(asset.NewAsset(1, "ETH", "Ether", asset.EtherSign, 18))
}
