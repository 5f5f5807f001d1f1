// Package ethereum provides the provider handle over a go-ethereum RPC client.
package ethereum

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tqthu/web3-thu-duc/internal/apperror"
	"github.com/tqthu/web3-thu-duc/internal/circuitbreaker"
	"github.com/tqthu/web3-thu-duc/internal/logger"
	"github.com/tqthu/web3-thu-duc/internal/ratelimit"
)

const (
	tracerName = "github.com/tqthu/web3-thu-duc/business/wallet/infra/ethereum"
	meterName  = "github.com/tqthu/web3-thu-duc/business/wallet/infra/ethereum"
)

// ProviderConfig holds configuration for a provider handle.
type ProviderConfig struct {
	Name              string        // breaker and log name
	PollInterval      time.Duration // head polling interval when push is unavailable
	BufferSize        int           // header channel buffer size
	RequestsPerSecond float64       // read throttle, 0 = unlimited
	Burst             int
}

// DefaultProviderConfig returns sensible defaults.
func DefaultProviderConfig(name string) ProviderConfig {
	return ProviderConfig{
		Name:              name,
		PollInterval:      12 * time.Second, // ~1 block time
		BufferSize:        16,
		RequestsPerSecond: 10,
		Burst:             5,
	}
}

// providerMetrics holds OTEL metric instruments.
type providerMetrics struct {
	blocksReceived  metric.Int64Counter
	subscribeErrors metric.Int64Counter
	readErrors      metric.Int64Counter
	pollFallback    metric.Int64Counter
}

// Provider is a read/subscribe handle over one RPC endpoint. Head updates
// come from a newHeads subscription when the transport supports it and
// from polling otherwise.
type Provider struct {
	config ProviderConfig
	logger logger.LoggerInterface

	rpc    *rpc.Client
	client *ethclient.Client

	limiter   *ratelimit.Limiter
	blockCB   *circuitbreaker.CircuitBreaker[uint64]
	balanceCB *circuitbreaker.CircuitBreaker[*big.Int]

	blocks    event.FeedOf[uint64]
	lastBlock atomic.Uint64
	polling   atomic.Bool

	closeOnce sync.Once

	tracer  trace.Tracer
	metrics *providerMetrics
}

// Dial connects to url and returns a provider.
func Dial(ctx context.Context, url string, cfg ProviderConfig, log logger.LoggerInterface) (*Provider, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "eth.dial",
		trace.WithAttributes(attribute.String("url", url)),
	)
	defer span.End()

	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		return nil, apperror.New(apperror.CodeEthereumConnectionFailed,
			apperror.WithCause(err),
			apperror.WithContext(url))
	}

	p, err := NewProvider(client, cfg, log)
	if err != nil {
		client.Close()
		return nil, err
	}

	span.SetStatus(codes.Ok, "connected")
	return p, nil
}

// NewProvider wraps an existing RPC client. The provider owns it.
func NewProvider(client *rpc.Client, cfg ProviderConfig, log logger.LoggerInterface) (*Provider, error) {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultProviderConfig(cfg.Name).PollInterval
	}

	p := &Provider{
		config:  cfg,
		logger:  log,
		rpc:     client,
		client:  ethclient.NewClient(client),
		limiter: ratelimit.New(cfg.RequestsPerSecond, cfg.Burst),
		tracer:  otel.Tracer(tracerName),
	}

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	p.initCircuitBreakers()

	return p, nil
}

// initMetrics initializes OTEL metric instruments.
func (p *Provider) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	p.metrics = &providerMetrics{}

	p.metrics.blocksReceived, err = meter.Int64Counter(
		"eth_blocks_received_total",
		metric.WithDescription("Total block heads received by providers"),
		metric.WithUnit("{block}"),
	)
	if err != nil {
		return err
	}

	p.metrics.subscribeErrors, err = meter.Int64Counter(
		"eth_subscribe_errors_total",
		metric.WithDescription("Total head subscription errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	p.metrics.readErrors, err = meter.Int64Counter(
		"eth_read_errors_total",
		metric.WithDescription("Total failed provider reads"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	p.metrics.pollFallback, err = meter.Int64Counter(
		"eth_poll_fallback_total",
		metric.WithDescription("Times head polling replaced a push subscription"),
		metric.WithUnit("{fallback}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// initCircuitBreakers initializes circuit breakers for reads.
func (p *Provider) initCircuitBreakers() {
	onChange := func(name string, from, to gobreaker.State) {
		p.logger.Info(context.Background(), "circuit breaker state change",
			"breaker", name, "from", from.String(), "to", to.String())
	}

	blockCfg := circuitbreaker.DefaultConfig(p.config.Name + "-block")
	blockCfg.OnStateChange = onChange
	p.blockCB = circuitbreaker.New[uint64](blockCfg)

	balanceCfg := circuitbreaker.DefaultConfig(p.config.Name + "-balance")
	balanceCfg.OnStateChange = onChange
	p.balanceCB = circuitbreaker.New[*big.Int](balanceCfg)
}

// BlockNumber returns the current block height.
func (p *Provider) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, span := p.tracer.Start(ctx, "eth.block_number")
	defer span.End()

	if err := p.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		return 0, apperror.New(apperror.CodeRateLimitExceeded, apperror.WithCause(err))
	}

	n, err := p.blockCB.Execute(func() (uint64, error) {
		return p.client.BlockNumber(ctx)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		p.metrics.readErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("method", "eth_blockNumber")))
		return 0, wrapRead(err, "eth_blockNumber")
	}

	span.SetStatus(codes.Ok, "fetched")
	return n, nil
}

// BalanceAt returns the latest balance of account in wei.
func (p *Provider) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	ctx, span := p.tracer.Start(ctx, "eth.balance_at",
		trace.WithAttributes(attribute.String("account", account.Hex())),
	)
	defer span.End()

	if err := p.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		return nil, apperror.New(apperror.CodeRateLimitExceeded, apperror.WithCause(err))
	}

	bal, err := p.balanceCB.Execute(func() (*big.Int, error) {
		return p.client.BalanceAt(ctx, account, nil) // nil = latest
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		p.metrics.readErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("method", "eth_getBalance")))
		return nil, wrapRead(err, "eth_getBalance")
	}

	span.SetStatus(codes.Ok, "fetched")
	return bal, nil
}

// ChainID returns the endpoint's chain id.
func (p *Provider) ChainID(ctx context.Context) (uint64, error) {
	ctx, span := p.tracer.Start(ctx, "eth.chain_id")
	defer span.End()

	id, err := p.client.ChainID(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, apperror.New(apperror.CodeEthereumRPCError,
			apperror.WithCause(err),
			apperror.WithContext("failed to get chain id"))
	}

	span.SetStatus(codes.Ok, "fetched")
	return id.Uint64(), nil
}

// SubscribeBlocks registers ch for block numbers.
func (p *Provider) SubscribeBlocks(ch chan<- uint64) event.Subscription {
	return p.blocks.Subscribe(ch)
}

// Polling reports whether heads currently come from polling.
func (p *Provider) Polling() bool { return p.polling.Load() }

// WatchBlocks opens the head subscription feeding SubscribeBlocks. It
// falls back to polling when the transport has no notifications, and
// switches to polling if a push subscription drops.
func (p *Provider) WatchBlocks(ctx context.Context) (event.Subscription, error) {
	ctx, span := p.tracer.Start(ctx, "eth.watch_blocks")
	defer span.End()

	headers := make(chan *types.Header, p.config.BufferSize)
	sub, err := p.client.SubscribeNewHead(ctx, headers)
	switch {
	case errors.Is(err, rpc.ErrNotificationsUnsupported):
		span.AddEvent("push_unsupported_polling")
		p.logger.Info(ctx, "head push unsupported, polling", "provider", p.config.Name, "interval", p.config.PollInterval)
		p.polling.Store(true)
		return event.NewSubscription(func(quit <-chan struct{}) error {
			p.poll(quit)
			return nil
		}), nil

	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "subscribe failed")
		p.metrics.subscribeErrors.Add(ctx, 1)
		return nil, apperror.New(apperror.CodeEthereumSubscribeFailed,
			apperror.WithCause(err),
			apperror.WithContext("newHeads"))
	}

	p.logger.Info(ctx, "subscribed to new heads", "provider", p.config.Name)
	p.polling.Store(false)
	span.SetStatus(codes.Ok, "subscribed")

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case <-quit:
				return nil
			case err := <-sub.Err():
				if err == nil || errors.Is(err, rpc.ErrClientQuit) {
					return nil
				}
				p.logger.Warn(context.Background(), "head subscription dropped, polling", "provider", p.config.Name, "error", err)
				p.metrics.subscribeErrors.Add(context.Background(), 1)
				p.metrics.pollFallback.Add(context.Background(), 1)
				p.polling.Store(true)
				p.poll(quit)
				return nil
			case header := <-headers:
				if header == nil || header.Number == nil {
					continue
				}
				p.emit(context.Background(), header.Number.Uint64())
			}
		}
	}), nil
}

// poll reads the head every PollInterval until quit closes.
func (p *Provider) poll(quit <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.BlockNumber(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Error(ctx, "head poll failed", "provider", p.config.Name, "error", err)
				}
				continue
			}
			if n <= p.lastBlock.Load() {
				continue
			}
			p.emit(ctx, n)
		}
	}
}

// emit publishes a head to block listeners.
func (p *Provider) emit(ctx context.Context, n uint64) {
	p.lastBlock.Store(n)
	sent := p.blocks.Send(n)
	p.metrics.blocksReceived.Add(ctx, 1)
	p.logger.Debug(ctx, "block received", "provider", p.config.Name, "number", n, "listeners", sent)
}

// Close closes the RPC client.
func (p *Provider) Close() {
	p.closeOnce.Do(func() {
		p.logger.Info(context.Background(), "closing provider", "provider", p.config.Name)
		p.rpc.Close()
	})
}

func wrapRead(err error, method string) error {
	if apperror.GetCode(err) == apperror.CodeCircuitOpen {
		return err
	}
	return apperror.New(apperror.CodeEthereumRPCError,
		apperror.WithCause(err),
		apperror.WithContext(method))
}
