package app

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tqthu/web3-thu-duc/business/wallet/domain"
	"github.com/tqthu/web3-thu-duc/internal/logger"
)

// TrackerConfig holds derived-state tracker settings.
type TrackerConfig struct {
	FetchTimeout time.Duration
	BufferSize   int // block notification channel size
}

// DefaultTrackerConfig returns sensible defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		FetchTimeout: 10 * time.Second,
		BufferSize:   16,
	}
}

type trackerMetrics struct {
	fetches     metric.Int64Counter
	stale       metric.Int64Counter
	blockEvents metric.Int64Counter
}

func newTrackerMetrics() (*trackerMetrics, error) {
	meter := otel.Meter(meterName)
	var err error
	m := &trackerMetrics{}

	m.fetches, err = meter.Int64Counter(
		"wallet_derived_fetches_total",
		metric.WithDescription("One-shot derived-state reads by tracker and result"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, err
	}

	m.stale, err = meter.Int64Counter(
		"wallet_derived_stale_total",
		metric.WithDescription("Derived-state results discarded for a stale generation"),
		metric.WithUnit("{result}"),
	)
	if err != nil {
		return nil, err
	}

	m.blockEvents, err = meter.Int64Counter(
		"wallet_block_events_total",
		metric.WithDescription("Block notifications applied to the block height"),
		metric.WithUnit("{block}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// tracked is the generation-guarded slot shared by both trackers. Every
// write goes through apply, which drops results from older generations.
type tracked[T any] struct {
	name    string
	logger  logger.LoggerInterface
	metrics *trackerMetrics

	mu        sync.Mutex
	gen       uint64
	value     domain.Derived[T]
	cancel    context.CancelFunc
	listeners []func()
	closed    bool

	fetches sync.WaitGroup
	wg      sync.WaitGroup
}

// advance starts a new generation, resetting the value to unknown and
// cancelling the previous generation's fetch context. It returns the new
// generation and a context for work issued under it.
func (t *tracked[T]) advance(timeout time.Duration) (uint64, context.Context, context.CancelFunc) {
	if t.cancel != nil {
		t.cancel()
	}
	t.gen++
	t.value = domain.Derived[T]{Generation: t.gen}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.cancel = cancel
	return t.gen, ctx, cancel
}

// apply runs fn on the value if gen is still current. fn reports whether it
// changed anything.
func (t *tracked[T]) apply(gen uint64, fn func(*domain.Derived[T]) bool) bool {
	t.mu.Lock()
	if gen != t.gen || t.closed {
		t.mu.Unlock()
		return false
	}
	changed := fn(&t.value)
	listeners := t.listeners
	t.mu.Unlock()

	if changed {
		for _, l := range listeners {
			l()
		}
	}
	return true
}

func (t *tracked[T]) get() domain.Derived[T] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

func (t *tracked[T]) generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen
}

func (t *tracked[T]) onChange(fn func()) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

func (t *tracked[T]) notify() {
	t.mu.Lock()
	listeners := t.listeners
	t.mu.Unlock()
	for _, l := range listeners {
		l()
	}
}

// fetch runs read in the background and writes its outcome under gen.
func (t *tracked[T]) fetch(ctx context.Context, cancel context.CancelFunc, tracer trace.Tracer, gen uint64, read func(context.Context) (T, error), merge func(*domain.Derived[T], T, error) bool) {
	t.fetches.Add(1)
	go func() {
		defer t.fetches.Done()
		defer cancel()

		ctx, span := tracer.Start(ctx, "wallet.track."+t.name,
			trace.WithAttributes(attribute.Int64("generation", int64(gen))),
		)
		defer span.End()

		v, err := read(ctx)

		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "fetch failed")
		}
		t.metrics.fetches.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tracker", t.name),
			attribute.String("result", result)))

		applied := t.apply(gen, func(d *domain.Derived[T]) bool { return merge(d, v, err) })
		if !applied {
			t.metrics.stale.Add(ctx, 1, metric.WithAttributes(attribute.String("tracker", t.name)))
			t.logger.Debug(ctx, "discarded stale fetch result", "tracker", t.name, "generation", gen)
			return
		}
		if err != nil {
			t.logger.Warn(ctx, "derived fetch failed", "tracker", t.name, "error", err)
		}
	}()
}

func (t *tracked[T]) close() {
	t.mu.Lock()
	t.closed = true
	t.gen++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.mu.Unlock()
	t.fetches.Wait()
	t.wg.Wait()
}

// BlockTracker derives the block height from (provider, chain id). It
// issues one read per tuple and then follows block notifications.
type BlockTracker struct {
	config TrackerConfig
	tracer trace.Tracer
	slot   *tracked[uint64]

	provider Provider
	chainID  uint64
	sub      event.Subscription
	fromHead bool // value was set by a block notification
}

// NewBlockTracker creates a block height tracker with an unknown value.
func NewBlockTracker(cfg TrackerConfig, log logger.LoggerInterface) (*BlockTracker, error) {
	m, err := newTrackerMetrics()
	if err != nil {
		return nil, err
	}
	return &BlockTracker{
		config: cfg,
		tracer: otel.Tracer(tracerName),
		slot:   &tracked[uint64]{name: "block", logger: log, metrics: m},
	}, nil
}

// Sync points the tracker at a new governing tuple. A nil provider resets
// the value to unknown and detaches the block listener. An unchanged tuple
// is a no-op.
func (b *BlockTracker) Sync(provider Provider, chainID uint64) {
	t := b.slot
	t.mu.Lock()
	if t.closed || (provider == b.provider && chainID == b.chainID) {
		t.mu.Unlock()
		return
	}

	if b.sub != nil {
		b.sub.Unsubscribe()
		b.sub = nil
	}
	b.provider, b.chainID = provider, chainID
	b.fromHead = false
	gen, ctx, cancel := t.advance(b.config.FetchTimeout)

	if provider == nil {
		cancel()
		t.mu.Unlock()
		t.logger.Debug(context.Background(), "block tracker reset", "generation", gen)
		t.notify()
		return
	}

	ch := make(chan uint64, b.config.BufferSize)
	sub := provider.SubscribeBlocks(ch)
	b.sub = sub
	t.mu.Unlock()

	t.notify()
	t.logger.Debug(ctx, "block tracker following provider", "chain_id", chainID, "generation", gen)

	t.wg.Add(1)
	go b.follow(gen, ch, sub)

	t.fetch(ctx, cancel, b.tracer, gen, provider.BlockNumber, func(d *domain.Derived[uint64], v uint64, err error) bool {
		if b.fromHead {
			// A block notification already produced a value; only move forward.
			if err != nil || v <= d.Value {
				return false
			}
		}
		if err != nil {
			d.State = domain.DerivedFailed
			d.Value = 0
			return true
		}
		d.Value, d.State = v, domain.DerivedKnown
		return true
	})
}

func (b *BlockTracker) follow(gen uint64, ch <-chan uint64, sub event.Subscription) {
	defer b.slot.wg.Done()
	for {
		select {
		case n := <-ch:
			b.slot.apply(gen, func(d *domain.Derived[uint64]) bool {
				b.fromHead = true
				if d.State == domain.DerivedKnown && d.Value == n {
					return false
				}
				d.Value, d.State = n, domain.DerivedKnown
				return true
			})
			b.slot.metrics.blockEvents.Add(context.Background(), 1)
		case <-sub.Err():
			return
		}
	}
}

// Value returns the current block height.
func (b *BlockTracker) Value() domain.Derived[uint64] { return b.slot.get() }

// Generation returns the current generation token.
func (b *BlockTracker) Generation() uint64 { return b.slot.generation() }

// OnChange registers fn to run after the value changes.
func (b *BlockTracker) OnChange(fn func()) { b.slot.onChange(fn) }

// Close detaches the listener, invalidates pending work and waits for the
// tracker's goroutines to exit.
func (b *BlockTracker) Close() {
	b.slot.mu.Lock()
	if b.sub != nil {
		b.sub.Unsubscribe()
		b.sub = nil
	}
	b.provider = nil
	b.slot.mu.Unlock()
	b.slot.close()
}

// BalanceTracker derives the account balance from (provider, account,
// chain id).
type BalanceTracker struct {
	config TrackerConfig
	tracer trace.Tracer
	slot   *tracked[*big.Int]

	provider Provider
	account  domain.Account
	chainID  uint64
}

// NewBalanceTracker creates a balance tracker with an unknown value.
func NewBalanceTracker(cfg TrackerConfig, log logger.LoggerInterface) (*BalanceTracker, error) {
	m, err := newTrackerMetrics()
	if err != nil {
		return nil, err
	}
	return &BalanceTracker{
		config: cfg,
		tracer: otel.Tracer(tracerName),
		slot:   &tracked[*big.Int]{name: "balance", logger: log, metrics: m},
	}, nil
}

// Sync points the tracker at a new governing tuple. Without a provider or a
// present account the value resets to unknown.
func (b *BalanceTracker) Sync(provider Provider, account domain.Account, chainID uint64) {
	t := b.slot
	t.mu.Lock()
	if t.closed || (provider == b.provider && account == b.account && chainID == b.chainID) {
		t.mu.Unlock()
		return
	}

	b.provider, b.account, b.chainID = provider, account, chainID
	gen, ctx, cancel := t.advance(b.config.FetchTimeout)

	if provider == nil || !account.IsPresent() {
		cancel()
		t.mu.Unlock()
		t.logger.Debug(context.Background(), "balance tracker reset", "generation", gen)
		t.notify()
		return
	}
	t.mu.Unlock()

	t.notify()
	t.logger.Debug(ctx, "fetching balance", "account", account.String(), "chain_id", chainID, "generation", gen)

	addr := account.Address
	read := func(ctx context.Context) (*big.Int, error) { return provider.BalanceAt(ctx, addr) }
	t.fetch(ctx, cancel, b.tracer, gen, read, func(d *domain.Derived[*big.Int], v *big.Int, err error) bool {
		if err != nil || v == nil {
			d.Value, d.State = nil, domain.DerivedFailed
			return true
		}
		d.Value, d.State = new(big.Int).Set(v), domain.DerivedKnown
		return true
	})
}

// Value returns the current balance in wei.
func (b *BalanceTracker) Value() domain.Derived[*big.Int] { return b.slot.get() }

// Generation returns the current generation token.
func (b *BalanceTracker) Generation() uint64 { return b.slot.generation() }

// OnChange registers fn to run after the value changes.
func (b *BalanceTracker) OnChange(fn func()) { b.slot.onChange(fn) }

// Close invalidates pending work and waits for in-flight fetches.
func (b *BalanceTracker) Close() {
	b.slot.mu.Lock()
	b.provider = nil
	b.slot.mu.Unlock()
	b.slot.close()
}
