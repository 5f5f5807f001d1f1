package app

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/event"

	"github.com/tqthu/web3-thu-duc/business/wallet/domain"
	"github.com/tqthu/web3-thu-duc/internal/logger"
)

// InactiveListener watches the injected transport while nothing is active
// and activates the injected connector when it announces itself.
type InactiveListener struct {
	descriptor Descriptor
	source     EventSource
	activator  Activator
	logger     logger.LoggerInterface
	bufferSize int

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sub      event.Subscription
	closed   bool
	installs int

	wg sync.WaitGroup
}

// NewInactiveListener creates a listener for d. The connector must
// implement EventSource.
func NewInactiveListener(d Descriptor, source EventSource, activator Activator, log logger.LoggerInterface) *InactiveListener {
	ctx, cancel := context.WithCancel(context.Background())
	return &InactiveListener{
		descriptor: d,
		source:     source,
		activator:  activator,
		logger:     log,
		bufferSize: 8,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Sync installs the subscription when neither suppressed nor engaged (a
// session is active or an error is pending) and tears it down otherwise.
// It never holds more than one subscription.
func (l *InactiveListener) Sync(suppress, engaged bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	want := !suppress && !engaged && !l.closed
	switch {
	case want && l.sub == nil:
		l.installLocked()
	case !want && l.sub != nil:
		l.teardownLocked()
	}
}

// Installed reports whether a subscription is currently held.
func (l *InactiveListener) Installed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sub != nil
}

// Installs returns how many subscriptions have been installed so far.
func (l *InactiveListener) Installs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.installs
}

func (l *InactiveListener) installLocked() {
	ch := make(chan domain.ProviderEvent, l.bufferSize)
	sub := l.source.SubscribeProviderEvents(ch)
	l.sub = sub
	l.installs++

	l.logger.Debug(l.ctx, "inactive listener installed", "connector", l.descriptor.Name)

	l.wg.Add(1)
	go l.consume(ch, sub)
}

func (l *InactiveListener) teardownLocked() {
	l.sub.Unsubscribe()
	l.sub = nil
	l.logger.Debug(l.ctx, "inactive listener removed", "connector", l.descriptor.Name)
}

func (l *InactiveListener) consume(ch <-chan domain.ProviderEvent, sub event.Subscription) {
	defer l.wg.Done()
	for {
		select {
		case ev := <-ch:
			if !ev.TriggersActivation() {
				continue
			}
			l.logger.Info(l.ctx, "provider event while inactive, activating",
				"connector", l.descriptor.Name, "event", ev.Kind)

			// The activation re-enters Sync through the machine's observers.
			l.wg.Add(1)
			go func() {
				defer l.wg.Done()
				l.activator.ActivateIfIdle(l.ctx, l.descriptor)
			}()
		case <-sub.Err():
			return
		}
	}
}

// Close removes the subscription, aborts pending activations and waits for
// the listener's goroutines.
func (l *InactiveListener) Close() {
	l.mu.Lock()
	l.closed = true
	if l.sub != nil {
		l.teardownLocked()
	}
	l.mu.Unlock()

	l.cancel()
	l.wg.Wait()
}
