package app

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"github.com/tqthu/web3-thu-duc/business/wallet/domain"
	"github.com/tqthu/web3-thu-duc/internal/apperror"
)

// fakeBridge publishes a pairing uri and waits for approval.
type fakeBridge struct {
	*fakeConnector
	uris event.FeedOf[string]
}

func (b *fakeBridge) SubscribeSessionURI(ch chan<- string) event.Subscription {
	return b.uris.Subscribe(ch)
}

type serviceFixture struct {
	svc      *WalletService
	injected *fakeInjected
	network  *fakeConnector
	bridge   *fakeBridge
}

func newServiceFixture(t *testing.T, eager bool) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		injected: newFakeInjected(1),
		network:  newFakeConnector(1),
		bridge:   &fakeBridge{fakeConnector: newFakeConnector(1)},
	}
	f.network.account = domain.NoAccount()
	f.network.provider.balanceFn = func(context.Context, common.Address) (*big.Int, error) {
		return nil, errBoom
	}

	registry := NewRegistry(
		Descriptor{Name: ConnectorInjected, Connector: f.injected},
		Descriptor{Name: ConnectorNetwork, Connector: f.network},
		Descriptor{Name: ConnectorWalletConnect, Connector: f.bridge},
	)

	cfg := ServiceConfig{
		Machine:      MachineConfig{SupportedChainIDs: []uint64{1, 4}},
		Tracker:      DefaultTrackerConfig(),
		EagerConnect: eager,
	}
	svc, err := NewWalletService(cfg, registry, testLogger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.svc = svc
	return f
}

func TestWalletService_EagerConnect(t *testing.T) {
	f := newServiceFixture(t, true)
	f.injected.authorized = true
	ctx := context.Background()

	f.svc.Start(ctx)
	waitFor(t, "eager activation", func() bool {
		v := f.svc.View()
		return v.Active && v.BlockHeight.IsKnown() && v.Balance.IsKnown()
	})

	v := f.svc.View()
	if v.Connector != ConnectorInjected || v.ChainID != 1 || !v.EagerTried {
		t.Errorf("unexpected view %+v", v)
	}
	if h, _ := v.BlockHeight.Get(); h != 100 {
		t.Errorf("expected height 100, got %d", h)
	}
	if f.svc.listener.Installed() {
		t.Error("inactive listener must be down while active")
	}

	f.svc.Close(ctx)

	if f.injected.deactivations.Load() != 1 {
		t.Error("expected connector released on close")
	}
	if f.injected.provider.watchers.Load() != 0 {
		t.Error("expected block watch closed on close")
	}
}

func TestWalletService_ListenerActivatesAfterProbe(t *testing.T) {
	f := newServiceFixture(t, true)
	ctx := context.Background()

	f.svc.Start(ctx)
	waitFor(t, "probe completion", func() bool { return f.svc.View().EagerTried })
	waitFor(t, "listener install", f.svc.listener.Installed)

	f.injected.emit(t, domain.ProviderEvent{Kind: domain.EventConnect})
	waitFor(t, "listener activation", func() bool { return f.svc.View().Active })
	waitFor(t, "listener teardown", func() bool { return !f.svc.listener.Installed() })

	f.svc.RequestDeactivation(ctx)
	waitFor(t, "listener reinstall", f.svc.listener.Installed)

	f.svc.Close(ctx)
}

func TestWalletService_RequestActivation(t *testing.T) {
	f := newServiceFixture(t, false)
	ctx := context.Background()
	f.svc.Start(ctx)
	defer f.svc.Close(ctx)

	if err := f.svc.RequestActivation(ctx, "Ledger"); apperror.GetCode(err) != apperror.CodeUnknownConnector {
		t.Fatalf("expected unknown connector, got %v", err)
	}

	if err := f.svc.RequestActivation(ctx, ConnectorNetwork); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, "block height", func() bool { return f.svc.View().BlockHeight.IsKnown() })

	v := f.svc.View()
	if !v.Active || v.Account != domain.NoAccount() {
		t.Errorf("expected active read-only session, got %+v", v)
	}
	if v.Balance.State != domain.DerivedUnknown {
		t.Error("balance must stay unknown without an account")
	}

	f.svc.RequestDeactivation(ctx)
	v = f.svc.View()
	if v.Active || v.BlockHeight.State != domain.DerivedUnknown {
		t.Errorf("expected derived values reset, got %+v", v)
	}
}

func TestWalletService_ActivationFailureInView(t *testing.T) {
	f := newServiceFixture(t, false)
	f.network.err = rpcError{code: 4001}
	ctx := context.Background()
	f.svc.Start(ctx)
	defer f.svc.Close(ctx)

	if err := f.svc.RequestActivation(ctx, ConnectorNetwork); err != nil {
		t.Fatalf("activation failure must be absorbed, got %v", err)
	}

	v := f.svc.View()
	if v.Status != domain.StatusErrored || v.Error == nil || v.Error.Kind != domain.KindUserRejected {
		t.Errorf("expected user rejected, got %+v", v)
	}
}

func TestWalletService_SessionURI(t *testing.T) {
	f := newServiceFixture(t, false)
	f.bridge.gate = make(chan struct{})
	started := make(chan struct{})
	f.bridge.started = started
	ctx := context.Background()
	f.svc.Start(ctx)
	defer f.svc.Close(ctx)

	done := make(chan error, 1)
	go func() { done <- f.svc.RequestActivation(ctx, ConnectorWalletConnect) }()
	<-started

	waitFor(t, "uri subscriber", func() bool { return f.bridge.uris.Send("wc:abc@1") > 0 })
	waitFor(t, "uri in view", func() bool { return f.svc.View().SessionURI == "wc:abc@1" })

	if err := f.svc.RequestActivation(ctx, ConnectorInjected); !errors.Is(err, domain.ErrAlreadyActivating) {
		t.Errorf("expected already activating, got %v", err)
	}

	close(f.bridge.gate)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v := f.svc.View(); !v.Active || v.SessionURI != "" {
		t.Errorf("expected active without pending uri, got %+v", v)
	}
}

func TestWalletService_SubscribeViews(t *testing.T) {
	f := newServiceFixture(t, false)
	ctx := context.Background()

	ch := make(chan View, 64)
	sub := f.svc.SubscribeViews(ch)

	f.svc.Start(ctx)
	_ = f.svc.RequestActivation(ctx, ConnectorNetwork)

	waitFor(t, "active view", func() bool {
		for {
			select {
			case v := <-ch:
				if v.Active {
					return true
				}
			default:
				return false
			}
		}
	})

	sub.Unsubscribe()
	f.svc.Close(ctx)
}

func TestWalletService_ListenerDownWhileErrored(t *testing.T) {
	f := newServiceFixture(t, false)
	f.injected.err = rpcError{code: 4001}
	ctx := context.Background()
	f.svc.Start(ctx)
	defer f.svc.Close(ctx)

	waitFor(t, "listener install", f.svc.listener.Installed)

	_ = f.svc.RequestActivation(ctx, ConnectorInjected)
	v := f.svc.View()
	if v.Error == nil || v.Error.Kind != domain.KindUserRejected {
		t.Fatalf("expected user rejected, got %+v", v)
	}
	if f.svc.listener.Installed() {
		t.Fatal("listener must stay down while an error is pending")
	}
	if n := f.injected.events.Send(domain.ProviderEvent{Kind: domain.EventChainChanged, ChainID: 4}); n != 0 {
		t.Errorf("expected no event subscribers, got %d", n)
	}
	if f.injected.activations.Load() != 1 {
		t.Errorf("expected no re-prompt, got %d activations", f.injected.activations.Load())
	}

	f.svc.RequestDeactivation(ctx)
	waitFor(t, "listener reinstall", f.svc.listener.Installed)
}

func TestWalletService_ViewCarriesEagerError(t *testing.T) {
	f := newServiceFixture(t, true)
	f.injected.authErr = apperror.New(apperror.CodeNoProviderAvailable, apperror.WithContext("no endpoint"))
	ctx := context.Background()
	defer f.svc.Close(ctx)

	f.svc.Start(ctx)
	waitFor(t, "eager completion", func() bool { return f.svc.View().EagerTried })

	v := f.svc.View()
	if v.EagerError == nil || v.EagerError.Kind != domain.KindNoProvider {
		t.Errorf("expected no provider in the view, got %v", v.EagerError)
	}
	if v.Error != nil || v.Status != domain.StatusDisconnected {
		t.Errorf("eager failure must not touch connection state, got %+v", v)
	}
}
