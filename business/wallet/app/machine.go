package app

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tqthu/web3-thu-duc/business/wallet/domain"
	"github.com/tqthu/web3-thu-duc/internal/apperror"
	"github.com/tqthu/web3-thu-duc/internal/logger"
)

const (
	tracerName = "github.com/tqthu/web3-thu-duc/business/wallet/app"
	meterName  = "github.com/tqthu/web3-thu-duc/business/wallet/app"
)

// Session is what observers of the machine see: the public state plus the
// shared provider handle (nil unless active).
type Session struct {
	State    domain.ConnectionState
	Provider Provider
}

// Observer is notified after every transition, in transition order.
type Observer func(Session)

// MachineConfig holds state machine settings.
type MachineConfig struct {
	SupportedChainIDs []uint64 // empty = every chain is supported
}

type machineMetrics struct {
	activations   metric.Int64Counter
	rejected      metric.Int64Counter
	deactivations metric.Int64Counter
	superseded    metric.Int64Counter
}

// Machine is the connection state machine. It owns the active connector,
// the provider handle and the session-scoped subscriptions.
type Machine struct {
	config MachineConfig
	logger logger.LoggerInterface

	mu         sync.Mutex
	status     domain.Status
	descriptor Descriptor // active session, zero when none
	provider   Provider
	chainID    uint64
	account    domain.Account
	err        *domain.ConnectionError
	inflight   string // in-flight activation marker
	superseded map[string]int // superseded attempts still running, by connector name
	epoch      uint64 // bumped by every activation start and deactivation
	seq        uint64 // transition counter for ordered delivery

	blockSub   event.Subscription
	sessionSub event.Subscription

	notifyMu  sync.Mutex
	delivered uint64
	observers []Observer

	tracer  trace.Tracer
	metrics *machineMetrics
}

// NewMachine creates a machine in the Disconnected state.
func NewMachine(cfg MachineConfig, log logger.LoggerInterface) (*Machine, error) {
	m := &Machine{
		config: cfg,
		logger: log,
		status:     domain.StatusDisconnected,
		superseded: make(map[string]int),
		tracer:     otel.Tracer(tracerName),
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return m, nil
}

func (m *Machine) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	m.metrics = &machineMetrics{}

	m.metrics.activations, err = meter.Int64Counter(
		"wallet_activations_total",
		metric.WithDescription("Resolved activations by connector and result"),
		metric.WithUnit("{activation}"),
	)
	if err != nil {
		return err
	}

	m.metrics.rejected, err = meter.Int64Counter(
		"wallet_activations_rejected_total",
		metric.WithDescription("Activation requests rejected by the single-flight guard"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	m.metrics.deactivations, err = meter.Int64Counter(
		"wallet_deactivations_total",
		metric.WithDescription("Explicit deactivations"),
		metric.WithUnit("{deactivation}"),
	)
	if err != nil {
		return err
	}

	m.metrics.superseded, err = meter.Int64Counter(
		"wallet_activations_superseded_total",
		metric.WithDescription("Activations discarded because a deactivation happened mid-flight"),
		metric.WithUnit("{activation}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Observe registers an observer. Observers run synchronously after each
// transition and must not call back into Activate or Deactivate inline.
func (m *Machine) Observe(o Observer) {
	m.notifyMu.Lock()
	m.observers = append(m.observers, o)
	m.notifyMu.Unlock()
}

// State returns the current snapshot.
func (m *Machine) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Session returns the current snapshot with the provider handle.
func (m *Machine) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Session{State: m.stateLocked(), Provider: m.provider}
}

// Activate runs the activation path for d. It returns an AlreadyActivating
// error if another activation is in flight; activation failures are recorded
// in the state and never returned.
func (m *Machine) Activate(ctx context.Context, d Descriptor) error {
	return m.activate(ctx, d, false)
}

// ActivateIfIdle activates d only from Disconnected with nothing in flight.
// It is the entry point for background triggers (listener, probe) and
// reports whether an activation was started. A pending error is left for
// the user to clear.
func (m *Machine) ActivateIfIdle(ctx context.Context, d Descriptor) bool {
	return m.activate(ctx, d, true) == nil
}

func (m *Machine) activate(ctx context.Context, d Descriptor, onlyIfIdle bool) error {
	m.mu.Lock()
	if m.inflight != "" {
		inflight := m.inflight
		m.mu.Unlock()

		m.metrics.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("connector", d.Name)))
		m.logger.Warn(ctx, "activation rejected, another activation in flight",
			"requested", d.Name, "in_flight", inflight)
		return apperror.New(apperror.CodeAlreadyActivating,
			apperror.WithCause(domain.ErrAlreadyActivating),
			apperror.WithContext(fmt.Sprintf("%s requested while %s in flight", d.Name, inflight)))
	}
	if n := m.superseded[d.Name]; n > 0 {
		m.mu.Unlock()

		m.metrics.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("connector", d.Name)))
		m.logger.Warn(ctx, "activation rejected, superseded attempt still running",
			"connector", d.Name, "pending", n)
		return apperror.New(apperror.CodeAlreadyActivating,
			apperror.WithCause(domain.ErrAlreadyActivating),
			apperror.WithContext(d.Name+" has a superseded activation still running"))
	}
	if onlyIfIdle && m.status != domain.StatusDisconnected {
		status := m.status
		m.mu.Unlock()
		m.logger.Debug(ctx, "background activation skipped", "connector", d.Name, "status", status)
		return apperror.New(apperror.CodeInvalidState, apperror.WithContext(string(status)))
	}

	m.epoch++
	epoch := m.epoch
	m.inflight = d.Name
	m.status = domain.StatusActivating
	sess, seq := m.transitionLocked()
	m.mu.Unlock()

	m.publish(sess, seq)

	ctx, span := m.tracer.Start(ctx, "wallet.activate",
		trace.WithAttributes(attribute.String("connector", d.Name)),
	)
	defer span.End()

	m.logger.Info(ctx, "activating connector", "connector", d.Name)

	act, blockSub, err := m.establish(ctx, d)

	m.mu.Lock()
	if m.epoch != epoch {
		if m.superseded[d.Name]--; m.superseded[d.Name] <= 0 {
			delete(m.superseded, d.Name)
		}
		live := m.descriptor.Name == d.Name || m.inflight == d.Name
		m.mu.Unlock()

		// Deactivated while in flight: release whatever was established,
		// leaving the connector alone if it backs a newer attempt.
		if err == nil {
			blockSub.Unsubscribe()
			if !live {
				d.Connector.Deactivate()
			}
		}
		m.metrics.superseded.Add(ctx, 1, metric.WithAttributes(attribute.String("connector", d.Name)))
		m.logger.Info(ctx, "activation result discarded, superseded by deactivation", "connector", d.Name)
		span.AddEvent("superseded")
		return nil
	}

	prev := m.descriptor
	prevBlockSub, prevSessionSub := m.blockSub, m.sessionSub
	m.inflight = ""

	if err != nil {
		m.clearSessionLocked()
		m.err = Classify(err)
		m.status = domain.StatusErrored
	} else {
		m.descriptor = d
		m.provider = act.Provider
		m.chainID = act.ChainID
		m.account = act.Account
		m.blockSub = blockSub
		m.sessionSub = nil
		m.err = nil
		m.status = domain.StatusActive
		if src, ok := d.Connector.(EventSource); ok {
			m.sessionSub = m.watchSession(epoch, d.Name, src)
		}
	}
	cerr := m.err
	sess, seq = m.transitionLocked()
	m.mu.Unlock()

	// Tear down the session this activation replaced.
	if prevBlockSub != nil {
		prevBlockSub.Unsubscribe()
	}
	if prevSessionSub != nil {
		prevSessionSub.Unsubscribe()
	}
	if prev.Connector != nil && (err != nil || prev.Connector != d.Connector) {
		prev.Connector.Deactivate()
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(cerr.Kind))
		m.metrics.activations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("connector", d.Name),
			attribute.String("result", string(cerr.Kind))))
		m.logger.Error(ctx, "activation failed", "connector", d.Name, "kind", cerr.Kind,
			"temporary", apperror.IsTemporary(err), "error", err)
	} else {
		span.SetStatus(codes.Ok, "active")
		m.metrics.activations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("connector", d.Name),
			attribute.String("result", "active")))
		m.logger.Info(ctx, "connector active", "connector", d.Name,
			"chain_id", act.ChainID, "account", act.Account.String())
	}

	m.publish(sess, seq)
	return nil
}

// establish activates the connector, checks the chain and opens the block
// subscription. On error nothing is left open.
func (m *Machine) establish(ctx context.Context, d Descriptor) (Activation, event.Subscription, error) {
	act, err := d.Connector.Activate(ctx)
	if err != nil {
		return Activation{}, nil, err
	}

	if !m.isSupported(act.ChainID) {
		d.Connector.Deactivate()
		return Activation{}, nil, apperror.New(apperror.CodeUnsupportedChain,
			apperror.WithCause(domain.ErrUnsupportedChain),
			apperror.WithContext(fmt.Sprintf("chain id %d", act.ChainID)))
	}

	if act.Provider == nil {
		d.Connector.Deactivate()
		return Activation{}, nil, apperror.New(apperror.CodeInternalError,
			apperror.WithContext(d.Name+" returned no provider"))
	}

	blockSub, err := act.Provider.WatchBlocks(ctx)
	if err != nil {
		d.Connector.Deactivate()
		return Activation{}, nil, apperror.New(apperror.CodeEthereumSubscribeFailed,
			apperror.WithCause(err),
			apperror.WithContext("block subscription"))
	}

	return act, blockSub, nil
}

// Deactivate ends the session. It is idempotent and wins over any
// activation in flight.
func (m *Machine) Deactivate(ctx context.Context) {
	m.mu.Lock()
	if m.status == domain.StatusDisconnected && m.inflight == "" {
		m.mu.Unlock()
		return
	}

	prev := m.descriptor
	subs := m.detachLocked()
	m.supersedeLocked()
	m.clearSessionLocked()
	m.err = nil
	m.status = domain.StatusDisconnected
	sess, seq := m.transitionLocked()
	m.mu.Unlock()

	release(prev, subs)

	m.metrics.deactivations.Add(ctx, 1)
	m.logger.Info(ctx, "connector deactivated", "connector", prev.Name)

	m.publish(sess, seq)
}

// watchSession applies chain/account notifications from the active
// connector's transport until the returned subscription is unsubscribed.
func (m *Machine) watchSession(epoch uint64, name string, src EventSource) event.Subscription {
	ch := make(chan domain.ProviderEvent, 8)
	sub := src.SubscribeProviderEvents(ch)

	go func() {
		for {
			select {
			case ev := <-ch:
				m.applySessionEvent(epoch, name, ev)
			case <-sub.Err():
				return
			}
		}
	}()

	return sub
}

func (m *Machine) applySessionEvent(epoch uint64, name string, ev domain.ProviderEvent) {
	ctx := context.Background()

	m.mu.Lock()
	if m.epoch != epoch || m.status != domain.StatusActive {
		m.mu.Unlock()
		return
	}

	switch ev.Kind {
	case domain.EventChainChanged:
		if ev.ChainID == m.chainID {
			m.mu.Unlock()
			return
		}
		if !m.isSupported(ev.ChainID) {
			m.mu.Unlock()
			m.failSession(ctx, epoch, apperror.New(apperror.CodeUnsupportedChain,
				apperror.WithCause(domain.ErrUnsupportedChain),
				apperror.WithContext(fmt.Sprintf("chain id %d", ev.ChainID))))
			return
		}
		m.chainID = ev.ChainID

	case domain.EventAccountsChanged:
		if len(ev.Accounts) == 0 {
			m.mu.Unlock()
			m.logger.Info(ctx, "provider reports no accounts, deactivating", "connector", name)
			m.Deactivate(ctx)
			return
		}
		m.account = domain.AccountOf(ev.Accounts[0])

	default:
		m.mu.Unlock()
		return
	}

	sess, seq := m.transitionLocked()
	m.mu.Unlock()

	m.logger.Info(ctx, "session updated", "connector", name, "event", ev.Kind,
		"chain_id", sess.State.ChainID, "account", sess.State.Account.String())
	m.publish(sess, seq)
}

// failSession tears the session down into Errored with a classified error.
func (m *Machine) failSession(ctx context.Context, epoch uint64, err error) {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return
	}

	prev := m.descriptor
	subs := m.detachLocked()
	m.supersedeLocked()
	m.clearSessionLocked()
	m.err = Classify(err)
	m.status = domain.StatusErrored
	kind := m.err.Kind
	sess, seq := m.transitionLocked()
	m.mu.Unlock()

	release(prev, subs)

	m.logger.Error(ctx, "session failed", "connector", prev.Name, "kind", kind, "error", err)
	m.publish(sess, seq)
}

func (m *Machine) isSupported(chainID uint64) bool {
	if len(m.config.SupportedChainIDs) == 0 {
		return true
	}
	return slices.Contains(m.config.SupportedChainIDs, chainID)
}

// detachLocked hands over the session subscriptions. They are released
// outside m.mu: unsubscribing waits for producers that may be delivering to
// goroutines blocked on the machine.
func (m *Machine) detachLocked() []event.Subscription {
	var subs []event.Subscription
	if m.blockSub != nil {
		subs = append(subs, m.blockSub)
	}
	if m.sessionSub != nil {
		subs = append(subs, m.sessionSub)
	}
	return subs
}

// supersedeLocked invalidates the current epoch. An activation in flight
// stays counted against its connector until it resolves.
func (m *Machine) supersedeLocked() {
	m.epoch++
	if m.inflight != "" {
		m.superseded[m.inflight]++
		m.inflight = ""
	}
}

// release unsubscribes subs, then deactivates d's connector.
func release(d Descriptor, subs []event.Subscription) {
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if d.Connector != nil {
		d.Connector.Deactivate()
	}
}

func (m *Machine) clearSessionLocked() {
	m.descriptor = Descriptor{}
	m.provider = nil
	m.chainID = 0
	m.account = domain.UnknownAccount()
	m.blockSub = nil
	m.sessionSub = nil
}

func (m *Machine) stateLocked() domain.ConnectionState {
	return domain.ConnectionState{
		Status:     m.status,
		Connector:  m.descriptor.Name,
		Activating: m.inflight,
		ChainID:    m.chainID,
		Account:    m.account,
		Active:     m.descriptor.Connector != nil && m.provider != nil && m.err == nil,
		Error:      m.err,
	}
}

func (m *Machine) transitionLocked() (Session, uint64) {
	m.seq++
	return Session{State: m.stateLocked(), Provider: m.provider}, m.seq
}

// publish delivers sess to observers unless a later transition already
// went out.
func (m *Machine) publish(sess Session, seq uint64) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	if seq <= m.delivered {
		return
	}
	m.delivered = seq

	for _, o := range m.observers {
		o(sess)
	}
}
