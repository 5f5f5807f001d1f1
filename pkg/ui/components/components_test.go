package components

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tqthu/web3-thu-duc/business/wallet/app"
	"github.com/tqthu/web3-thu-duc/business/wallet/domain"
	"github.com/tqthu/web3-thu-duc/internal/asset"
)

func TestIndicator(t *testing.T) {
	tests := []struct {
		name string
		view app.View
		want string
	}{
		{"active", app.View{Active: true}, "🟢"},
		{"errored", app.View{Error: &domain.ConnectionError{Kind: domain.KindUnknown}}, "🔴"},
		{"idle", app.View{}, "🟠"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Indicator(tt.view); got != tt.want {
				t.Errorf("Indicator() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatBalance(t *testing.T) {
	assets := asset.DefaultRegistry()
	oneAndAHalf, _ := new(big.Int).SetString("1500000000000000000", 10)

	tests := []struct {
		name string
		d    domain.Derived[*big.Int]
		want string
	}{
		{"unknown", domain.Derived[*big.Int]{}, "N/A"},
		{"failed", domain.Derived[*big.Int]{State: domain.DerivedFailed}, "Error"},
		{"known", domain.Derived[*big.Int]{State: domain.DerivedKnown, Value: oneAndAHalf}, "Ξ 1.500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatBalance(tt.d, 1, assets); got != tt.want {
				t.Errorf("FormatBalance() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatBlock(t *testing.T) {
	if got := FormatBlock(domain.Derived[uint64]{}); got != "..." {
		t.Errorf("unknown block = %q", got)
	}
	if got := FormatBlock(domain.Derived[uint64]{State: domain.DerivedFailed}); got != "Error" {
		t.Errorf("failed block = %q", got)
	}
	if got := FormatBlock(domain.Derived[uint64]{State: domain.DerivedKnown, Value: 17}); got != "#17" {
		t.Errorf("known block = %q", got)
	}
}

func TestStatusComponent_View(t *testing.T) {
	s := NewStatusComponent(asset.DefaultRegistry())
	s.Update(app.View{
		Active:    true,
		Connector: app.ConnectorInjected,
		ChainID:   1,
		Account:   domain.AccountOf(common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678")),
	})

	out := s.View()
	for _, want := range []string{"🟢", "Injected", "0x1234...5678", "N/A"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in status view:\n%s", want, out)
		}
	}
}

func TestConnectorsComponent_Disabled(t *testing.T) {
	c := NewConnectorsComponent([]string{app.ConnectorInjected, app.ConnectorNetwork})

	if !c.Disabled(app.ConnectorNetwork) {
		t.Error("expected connectors disabled before the eager probe finishes")
	}

	c.Update(app.View{EagerTried: true})
	if c.Disabled(app.ConnectorNetwork) {
		t.Error("expected connector enabled once idle")
	}

	c.Update(app.View{EagerTried: true, Active: true, Connector: app.ConnectorInjected})
	if !c.Disabled(app.ConnectorInjected) || c.Disabled(app.ConnectorNetwork) {
		t.Error("expected only the current connector disabled")
	}

	c.Update(app.View{EagerTried: true, Activating: app.ConnectorNetwork})
	if !c.Disabled(app.ConnectorInjected) {
		t.Error("expected every connector disabled while activating")
	}
	if !strings.Contains(c.View("*"), app.ConnectorNetwork+" *") {
		t.Error("expected spinner beside the activating connector")
	}
}

func TestConnectorsComponent_Cursor(t *testing.T) {
	c := NewConnectorsComponent([]string{"a", "b"})
	c.ScrollUp()
	if c.Selected() != "a" {
		t.Errorf("expected a, got %s", c.Selected())
	}
	c.ScrollDown()
	c.ScrollDown()
	if c.Selected() != "b" {
		t.Errorf("expected b, got %s", c.Selected())
	}
}
