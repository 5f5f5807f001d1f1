package app

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/event"

	"github.com/tqthu/web3-thu-duc/business/wallet/domain"
	"github.com/tqthu/web3-thu-duc/internal/logger"
)

// View is the read-only snapshot exposed to presentation.
type View struct {
	Status      domain.Status
	Active      bool
	Error       *domain.ConnectionError
	Connector   string
	Activating  string
	ChainID     uint64
	Account     domain.Account
	BlockHeight domain.Derived[uint64]
	Balance     domain.Derived[*big.Int]
	SessionURI  string
	EagerTried  bool
	EagerError  *domain.ConnectionError
}

// ServiceConfig holds wallet service settings.
type ServiceConfig struct {
	Machine      MachineConfig
	Tracker      TrackerConfig
	EagerConnect bool
}

// WalletService wires the registry, the state machine, the eager probe, the
// inactive listener and both trackers together.
type WalletService struct {
	config   ServiceConfig
	logger   logger.LoggerInterface
	registry *Registry
	machine  *Machine
	probe    *EagerProbe
	listener *InactiveListener
	block    *BlockTracker
	balance  *BalanceTracker

	views     event.FeedOf[View]
	refreshMu sync.Mutex

	mu         sync.Mutex
	sessionURI string
	uriSubs    []event.Subscription
	started    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWalletService creates a service. The registry must contain the
// Injected connector; it drives the eager probe and the inactive listener.
func NewWalletService(cfg ServiceConfig, registry *Registry, log logger.LoggerInterface) (*WalletService, error) {
	machine, err := NewMachine(cfg.Machine, log)
	if err != nil {
		return nil, err
	}

	block, err := NewBlockTracker(cfg.Tracker, log)
	if err != nil {
		return nil, err
	}

	balance, err := NewBalanceTracker(cfg.Tracker, log)
	if err != nil {
		return nil, err
	}

	injected, err := registry.Lookup(ConnectorInjected)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &WalletService{
		config:   cfg,
		logger:   log,
		registry: registry,
		machine:  machine,
		block:    block,
		balance:  balance,
		probe:    NewEagerProbe(injected, machine, log),
		ctx:      ctx,
		cancel:   cancel,
	}

	if src, ok := injected.Connector.(EventSource); ok {
		s.listener = NewInactiveListener(injected, src, machine, log)
	}

	machine.Observe(s.onSession)
	block.OnChange(s.refresh)
	balance.OnChange(s.refresh)

	return s, nil
}

// Start subscribes to session URIs and runs the eager probe in the
// background. With eager connect disabled the probe completes immediately.
func (s *WalletService) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	for _, name := range s.registry.Names() {
		d, _ := s.registry.Lookup(name)
		if src, ok := d.Connector.(SessionURISource); ok {
			s.watchSessionURI(name, src)
		}
	}

	if !s.config.EagerConnect {
		s.probe.MarkCompleted()
		s.logger.Info(ctx, "eager connect disabled")
		s.syncListener()
		s.refresh()
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.probe.Run(s.ctx)
		s.syncListener()
		s.refresh()
	}()
}

func (s *WalletService) watchSessionURI(name string, src SessionURISource) {
	ch := make(chan string, 4)
	sub := src.SubscribeSessionURI(ch)

	s.mu.Lock()
	s.uriSubs = append(s.uriSubs, sub)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case uri := <-ch:
				s.logger.Info(s.ctx, "session uri available", "connector", name, "uri", uri)
				s.mu.Lock()
				s.sessionURI = uri
				s.mu.Unlock()
				s.refresh()
			case <-sub.Err():
				return
			}
		}
	}()
}

// RequestActivation activates the named connector. It fails only for an
// unknown name or a concurrent activation; activation failures end up in
// the view.
func (s *WalletService) RequestActivation(ctx context.Context, name string) error {
	d, err := s.registry.Lookup(name)
	if err != nil {
		s.logger.Error(ctx, "activation requested for unknown connector", "connector", name)
		return err
	}
	return s.machine.Activate(ctx, d)
}

// RequestDeactivation ends the current session.
func (s *WalletService) RequestDeactivation(ctx context.Context) {
	s.machine.Deactivate(ctx)
}

// Connectors returns the registered connector names.
func (s *WalletService) Connectors() []string { return s.registry.Names() }

// Probe exposes the eager probe.
func (s *WalletService) Probe() *EagerProbe { return s.probe }

// View returns the current snapshot.
func (s *WalletService) View() View {
	st := s.machine.State()

	s.mu.Lock()
	uri := s.sessionURI
	s.mu.Unlock()

	if st.Activating == "" {
		// A pairing URI is only meaningful while an activation is pending.
		uri = ""
	}

	return View{
		Status:      st.Status,
		Active:      st.Active,
		Error:       st.Error,
		Connector:   st.Connector,
		Activating:  st.Activating,
		ChainID:     st.ChainID,
		Account:     st.Account,
		BlockHeight: s.block.Value(),
		Balance:     s.balance.Value(),
		SessionURI:  uri,
		EagerTried:  s.probe.Completed(),
		EagerError:  s.probe.LastError(),
	}
}

// SubscribeViews delivers a snapshot after every change. The channel should
// be buffered; delivery blocks until it is received.
func (s *WalletService) SubscribeViews(ch chan<- View) event.Subscription {
	return s.views.Subscribe(ch)
}

func (s *WalletService) onSession(sess Session) {
	st := sess.State
	if st.Active {
		s.probe.MarkCompleted()
	}

	s.syncListenerWith(st)
	s.block.Sync(sess.Provider, st.ChainID)
	s.balance.Sync(sess.Provider, st.Account, st.ChainID)
	s.refresh()
}

func (s *WalletService) syncListener() {
	s.syncListenerWith(s.machine.State())
}

func (s *WalletService) syncListenerWith(st domain.ConnectionState) {
	if s.listener == nil {
		return
	}
	suppress := !s.probe.Completed() || st.Activating != ""
	// A pending error keeps the listener down until it is cleared.
	s.listener.Sync(suppress, st.Active || st.Error != nil)
}

func (s *WalletService) refresh() {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	s.views.Send(s.View())
}

// Close stops background work, ends the session and releases every
// subscription.
func (s *WalletService) Close(ctx context.Context) {
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	subs := s.uriSubs
	s.uriSubs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}

	s.wg.Wait()

	s.machine.Deactivate(ctx)
	s.block.Close()
	s.balance.Close()

	s.logger.Info(ctx, "wallet service closed")
}
