package app

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tqthu/web3-thu-duc/business/wallet/domain"
	"github.com/tqthu/web3-thu-duc/internal/logger"
)

// Activator runs a background activation. It reports whether the
// activation was started.
type Activator interface {
	ActivateIfIdle(ctx context.Context, d Descriptor) bool
}

// EagerProbe silently reconnects the injected connector at startup when the
// user has already authorized it. It runs once per process.
type EagerProbe struct {
	descriptor Descriptor
	activator  Activator
	logger     logger.LoggerInterface

	once      sync.Once
	doneOnce  sync.Once
	done      chan struct{}
	completed atomic.Bool

	mu      sync.Mutex
	lastErr *domain.ConnectionError
}

// NewEagerProbe creates a probe for d.
func NewEagerProbe(d Descriptor, activator Activator, log logger.LoggerInterface) *EagerProbe {
	return &EagerProbe{
		descriptor: d,
		activator:  activator,
		logger:     log,
		done:       make(chan struct{}),
	}
}

// Run performs the probe on the first call and blocks until it completes.
// Later calls return the memoized completion signal. The result reports
// whether the probe completed, not whether it connected.
func (p *EagerProbe) Run(ctx context.Context) bool {
	p.once.Do(func() {
		defer p.MarkCompleted()
		p.probe(ctx)
	})

	select {
	case <-p.done:
		return true
	case <-ctx.Done():
		return p.completed.Load()
	}
}

func (p *EagerProbe) probe(ctx context.Context) {
	auth, ok := p.descriptor.Connector.(Authorizer)
	if !ok {
		p.logger.Info(ctx, "eager connect skipped, connector cannot report authorization", "connector", p.descriptor.Name)
		return
	}

	authorized, err := auth.IsAuthorized(ctx)
	if err != nil {
		cerr := Classify(err)
		p.mu.Lock()
		p.lastErr = cerr
		p.mu.Unlock()

		if cerr.Kind == domain.KindNoProvider {
			p.logger.Info(ctx, "eager connect: no injected provider", "connector", p.descriptor.Name)
			return
		}
		p.logger.Warn(ctx, "eager connect: authorization check failed", "connector", p.descriptor.Name, "kind", cerr.Kind, "error", err)
		return
	}

	if !authorized {
		p.logger.Info(ctx, "eager connect: not previously authorized", "connector", p.descriptor.Name)
		return
	}

	if p.activator.ActivateIfIdle(ctx, p.descriptor) {
		p.logger.Info(ctx, "eager connect attempted", "connector", p.descriptor.Name)
	} else {
		p.logger.Info(ctx, "eager connect skipped, machine busy", "connector", p.descriptor.Name)
	}
}

// MarkCompleted signals completion without probing, e.g. once another
// activation has already succeeded.
func (p *EagerProbe) MarkCompleted() {
	p.doneOnce.Do(func() {
		p.completed.Store(true)
		close(p.done)
	})
}

// Completed reports whether the probe has completed.
func (p *EagerProbe) Completed() bool { return p.completed.Load() }

// Done is closed once the probe completes.
func (p *EagerProbe) Done() <-chan struct{} { return p.done }

// LastError returns the classified error the probe hit, if any.
func (p *EagerProbe) LastError() *domain.ConnectionError {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}
