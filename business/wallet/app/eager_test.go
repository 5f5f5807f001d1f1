package app

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/tqthu/web3-thu-duc/business/wallet/domain"
	"github.com/tqthu/web3-thu-duc/internal/apperror"
)

type countingActivator struct {
	machine *Machine
	calls   atomic.Int32
}

func (a *countingActivator) ActivateIfIdle(ctx context.Context, d Descriptor) bool {
	a.calls.Add(1)
	if a.machine == nil {
		return true
	}
	return a.machine.ActivateIfIdle(ctx, d)
}

func TestEagerProbe_AuthorizedActivates(t *testing.T) {
	m := newTestMachine(t)
	c := newFakeInjected(1)
	c.authorized = true
	d := Descriptor{Name: ConnectorInjected, Connector: c}
	ctx := context.Background()

	p := NewEagerProbe(d, m, testLogger)
	if !p.Run(ctx) {
		t.Fatal("expected probe completion")
	}
	if !m.State().Active {
		t.Error("expected injected connector active")
	}
	if !p.Completed() {
		t.Error("expected completed flag")
	}

	m.Deactivate(ctx)
}

func TestEagerProbe_NotAuthorized(t *testing.T) {
	c := newFakeInjected(1)
	act := &countingActivator{}

	p := NewEagerProbe(Descriptor{Name: ConnectorInjected, Connector: c}, act, testLogger)
	if !p.Run(context.Background()) {
		t.Fatal("expected probe completion")
	}
	if act.calls.Load() != 0 {
		t.Error("unauthorized probe must not activate")
	}
}

func TestEagerProbe_NoProviderStillCompletes(t *testing.T) {
	m := newTestMachine(t)
	c := newFakeInjected(1)
	c.authErr = apperror.New(apperror.CodeNoProviderAvailable, apperror.WithContext("no endpoint"))

	p := NewEagerProbe(Descriptor{Name: ConnectorInjected, Connector: c}, m, testLogger)
	if !p.Run(context.Background()) {
		t.Fatal("expected probe completion")
	}

	select {
	case <-p.Done():
	default:
		t.Error("expected done channel closed")
	}
	if p.LastError() == nil || p.LastError().Kind != domain.KindNoProvider {
		t.Errorf("expected no provider recorded, got %v", p.LastError())
	}
	if st := m.State(); st.Status != domain.StatusDisconnected || st.Error != nil {
		t.Errorf("probe failure must not touch connection state, got %+v", st)
	}
}

func TestEagerProbe_RunsOnce(t *testing.T) {
	c := newFakeInjected(1)
	c.authorized = true
	act := &countingActivator{}
	p := NewEagerProbe(Descriptor{Name: ConnectorInjected, Connector: c}, act, testLogger)

	for range 3 {
		if !p.Run(context.Background()) {
			t.Fatal("expected memoized completion")
		}
	}
	if act.calls.Load() != 1 {
		t.Errorf("expected a single probe, got %d", act.calls.Load())
	}
}

func TestEagerProbe_MarkCompletedBeforeRun(t *testing.T) {
	c := newFakeInjected(1)
	c.authorized = true
	act := &countingActivator{}
	p := NewEagerProbe(Descriptor{Name: ConnectorInjected, Connector: c}, act, testLogger)

	p.MarkCompleted()
	p.MarkCompleted()
	if !p.Completed() {
		t.Fatal("expected completed")
	}
	if !p.Run(context.Background()) {
		t.Error("expected completion")
	}
}

func TestEagerProbe_ConnectorWithoutAuthorizer(t *testing.T) {
	act := &countingActivator{}
	p := NewEagerProbe(Descriptor{Name: ConnectorNetwork, Connector: newFakeConnector(1)}, act, testLogger)

	if !p.Run(context.Background()) {
		t.Fatal("expected completion")
	}
	if act.calls.Load() != 0 {
		t.Error("expected no activation")
	}
}
