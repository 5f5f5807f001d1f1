package app

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tqthu/web3-thu-duc/business/wallet/domain"
)

func newTestListener(c *fakeInjected, act Activator) *InactiveListener {
	return NewInactiveListener(Descriptor{Name: ConnectorInjected, Connector: c}, c, act, testLogger)
}

func TestInactiveListener_NoDuplicateSubscriptions(t *testing.T) {
	c := newFakeInjected(1)
	l := newTestListener(c, &countingActivator{})
	defer l.Close()

	l.Sync(false, false)
	l.Sync(false, false)
	l.Sync(false, false)

	if l.Installs() != 1 {
		t.Errorf("expected one install, got %d", l.Installs())
	}
	if n := c.events.Send(domain.ProviderEvent{Kind: "disconnect"}); n != 1 {
		t.Errorf("expected exactly one subscriber, got %d", n)
	}
}

func TestInactiveListener_SuppressAndActiveTearDown(t *testing.T) {
	tests := []struct {
		name     string
		suppress bool
		active   bool
	}{
		{"suppressed", true, false},
		{"active", false, true},
		{"both", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newFakeInjected(1)
			l := newTestListener(c, &countingActivator{})
			defer l.Close()

			l.Sync(false, false)
			l.Sync(tt.suppress, tt.active)

			if l.Installed() {
				t.Error("expected subscription removed")
			}
			if n := c.events.Send(domain.ProviderEvent{Kind: domain.EventConnect}); n != 0 {
				t.Errorf("expected no subscribers, got %d", n)
			}
		})
	}
}

func TestInactiveListener_SuppressedInstallsNothing(t *testing.T) {
	c := newFakeInjected(1)
	l := newTestListener(c, &countingActivator{})
	defer l.Close()

	l.Sync(true, false)
	if l.Installed() || l.Installs() != 0 {
		t.Error("suppressed listener must not subscribe")
	}
}

func TestInactiveListener_ReinstallAfterTeardown(t *testing.T) {
	c := newFakeInjected(1)
	l := newTestListener(c, &countingActivator{})
	defer l.Close()

	for range 5 {
		l.Sync(false, false)
		l.Sync(false, true)
	}
	l.Sync(false, false)

	if l.Installs() != 6 {
		t.Errorf("expected 6 installs, got %d", l.Installs())
	}
	if n := c.events.Send(domain.ProviderEvent{Kind: "disconnect"}); n != 1 {
		t.Errorf("expected listeners not to accumulate, got %d", n)
	}
}

func TestInactiveListener_EventsTriggerActivation(t *testing.T) {
	tests := []struct {
		name  string
		event domain.ProviderEvent
		want  bool
	}{
		{"connect", domain.ProviderEvent{Kind: domain.EventConnect}, true},
		{"chain changed", domain.ProviderEvent{Kind: domain.EventChainChanged, ChainID: 4}, true},
		{"accounts changed", domain.ProviderEvent{Kind: domain.EventAccountsChanged, Accounts: []common.Address{{1}}}, true},
		{"accounts cleared", domain.ProviderEvent{Kind: domain.EventAccountsChanged}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(t)
			c := newFakeInjected(1)
			act := &countingActivator{machine: m}
			l := newTestListener(c, act)

			l.Sync(false, false)
			c.emit(t, tt.event)
			if tt.want {
				waitFor(t, "activation", func() bool { return m.State().Active })
			}
			l.Close()

			if got := act.calls.Load() > 0; got != tt.want {
				t.Errorf("expected activation=%v, got %v", tt.want, got)
			}
			m.Deactivate(context.Background())
		})
	}
}
