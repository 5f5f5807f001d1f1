// Package injected implements the connector for a locally exposed wallet
// endpoint speaking the EIP-1193 JSON-RPC methods.
package injected

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tqthu/web3-thu-duc/business/wallet/app"
	"github.com/tqthu/web3-thu-duc/business/wallet/domain"
	"github.com/tqthu/web3-thu-duc/business/wallet/infra/ethereum"
	"github.com/tqthu/web3-thu-duc/internal/apperror"
	"github.com/tqthu/web3-thu-duc/internal/logger"
)

const tracerName = "github.com/tqthu/web3-thu-duc/business/wallet/infra/injected"

const userRejectedCode = 4001

// Config holds configuration for the injected connector.
type Config struct {
	URL           string        // wallet endpoint, empty = no wallet installed
	WatchInterval time.Duration // transport poll interval for provider events
	DialTimeout   time.Duration
	Provider      ethereum.ProviderConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(url string) Config {
	return Config{
		URL:           url,
		WatchInterval: 2 * time.Second,
		DialTimeout:   5 * time.Second,
		Provider:      ethereum.DefaultProviderConfig("injected"),
	}
}

// Connector talks to the local wallet endpoint.
type Connector struct {
	config Config
	logger logger.LoggerInterface
	tracer trace.Tracer

	mu       sync.Mutex
	provider *ethereum.Provider

	events      event.FeedOf[domain.ProviderEvent]
	watchMu     sync.Mutex
	watchRefs   int
	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

var (
	_ app.Connector   = (*Connector)(nil)
	_ app.Authorizer  = (*Connector)(nil)
	_ app.EventSource = (*Connector)(nil)
)

// New creates an injected connector.
func New(cfg Config, log logger.LoggerInterface) *Connector {
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = DefaultConfig(cfg.URL).WatchInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultConfig(cfg.URL).DialTimeout
	}
	return &Connector{
		config: cfg,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}
}

// Activate requests account access and opens a provider on the endpoint.
func (c *Connector) Activate(ctx context.Context) (app.Activation, error) {
	ctx, span := c.tracer.Start(ctx, "injected.activate",
		trace.WithAttributes(attribute.String("url", c.config.URL)),
	)
	defer span.End()

	client, err := c.dial(ctx)
	if err != nil {
		span.RecordError(err)
		return app.Activation{}, err
	}

	p, err := ethereum.NewProvider(client, c.config.Provider, c.logger)
	if err != nil {
		client.Close()
		return app.Activation{}, err
	}

	var accounts []common.Address
	if err := client.CallContext(ctx, &accounts, "eth_requestAccounts"); err != nil {
		p.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "request accounts failed")
		return app.Activation{}, c.requestError(err)
	}

	chainID, err := p.ChainID(ctx)
	if err != nil {
		p.Close()
		span.RecordError(err)
		return app.Activation{}, err
	}

	account := domain.NoAccount()
	if len(accounts) > 0 {
		account = domain.AccountOf(accounts[0])
	}

	c.mu.Lock()
	prev := c.provider
	c.provider = p
	c.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	span.SetStatus(codes.Ok, "active")
	c.logger.Info(ctx, "injected wallet authorized", "chain_id", chainID, "account", account.String())

	return app.Activation{Provider: p, ChainID: chainID, Account: account}, nil
}

// Deactivate closes the provider.
func (c *Connector) Deactivate() {
	c.mu.Lock()
	p := c.provider
	c.provider = nil
	c.mu.Unlock()

	if p != nil {
		p.Close()
	}
}

// IsAuthorized reports whether the wallet already exposes an account
// without prompting.
func (c *Connector) IsAuthorized(ctx context.Context) (bool, error) {
	client, err := c.dial(ctx)
	if err != nil {
		return false, err
	}
	defer client.Close()

	accounts, err := accountsOf(ctx, client)
	if err != nil {
		return false, apperror.New(apperror.CodeNoProviderAvailable,
			apperror.WithCause(err),
			apperror.WithContext("eth_accounts"))
	}
	return len(accounts) > 0, nil
}

// SubscribeProviderEvents delivers connect, chainChanged and
// accountsChanged notifications. The endpoint is watched only while at
// least one subscription is open.
func (c *Connector) SubscribeProviderEvents(ch chan<- domain.ProviderEvent) event.Subscription {
	inner := c.events.Subscribe(ch)
	c.retainWatcher()

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer c.releaseWatcher()
		defer inner.Unsubscribe()

		select {
		case <-quit:
			return nil
		case err := <-inner.Err():
			return err
		}
	})
}

func (c *Connector) dial(ctx context.Context) (*rpc.Client, error) {
	if c.config.URL == "" {
		return nil, apperror.New(apperror.CodeNoProviderAvailable,
			apperror.WithCause(domain.ErrNoProvider),
			apperror.WithContext("no injected endpoint configured"))
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	defer cancel()

	client, err := rpc.DialContext(ctx, c.config.URL)
	if err != nil {
		return nil, apperror.New(apperror.CodeNoProviderAvailable,
			apperror.WithCause(err),
			apperror.WithContext(c.config.URL))
	}
	return client, nil
}

// requestError maps an eth_requestAccounts failure. Transport failures mean
// nothing is listening on the endpoint.
func (c *Connector) requestError(err error) error {
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return apperror.New(apperror.CodeNoProviderAvailable,
			apperror.WithCause(err),
			apperror.WithContext(c.config.URL))
	}
	if rpcErr.ErrorCode() == userRejectedCode {
		return apperror.New(apperror.CodeUserRejected,
			apperror.WithCause(err),
			apperror.WithContext("eth_requestAccounts"))
	}
	return apperror.New(apperror.CodeEthereumRPCError,
		apperror.WithCause(err),
		apperror.WithContext("eth_requestAccounts"))
}

func (c *Connector) retainWatcher() {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()

	c.watchRefs++
	if c.watchRefs > 1 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.watchCancel, c.watchDone = cancel, done

	go func() {
		defer close(done)
		c.watch(ctx)
	}()
}

func (c *Connector) releaseWatcher() {
	c.watchMu.Lock()
	c.watchRefs--
	if c.watchRefs > 0 {
		c.watchMu.Unlock()
		return
	}
	cancel, done := c.watchCancel, c.watchDone
	c.watchCancel, c.watchDone = nil, nil
	c.watchMu.Unlock()

	cancel()
	<-done
}

// snapshot is what the watcher last saw on the endpoint.
type snapshot struct {
	reachable bool
	chainID   uint64
	accounts  []common.Address
}

func (c *Connector) watch(ctx context.Context) {
	c.logger.Debug(ctx, "injected watcher started", "url", c.config.URL)
	defer c.logger.Debug(context.Background(), "injected watcher stopped", "url", c.config.URL)

	var client *rpc.Client
	defer func() {
		if client != nil {
			client.Close()
		}
	}()

	observe := func() snapshot {
		if client == nil {
			cl, err := c.dial(ctx)
			if err != nil {
				return snapshot{}
			}
			client = cl
		}

		rctx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
		defer cancel()

		var id hexutil.Big
		if err := client.CallContext(rctx, &id, "eth_chainId"); err != nil {
			client.Close()
			client = nil
			return snapshot{}
		}
		accounts, err := accountsOf(rctx, client)
		if err != nil {
			return snapshot{reachable: true, chainID: id.ToInt().Uint64()}
		}
		return snapshot{reachable: true, chainID: id.ToInt().Uint64(), accounts: accounts}
	}

	last := observe()

	ticker := time.NewTicker(c.config.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cur := observe()
		if ctx.Err() != nil {
			return
		}

		switch {
		case !cur.reachable:
		case !last.reachable:
			c.emit(ctx, domain.ProviderEvent{Kind: domain.EventConnect, ChainID: cur.chainID})
		default:
			if cur.chainID != last.chainID {
				c.emit(ctx, domain.ProviderEvent{Kind: domain.EventChainChanged, ChainID: cur.chainID})
			}
			if !slices.Equal(cur.accounts, last.accounts) {
				c.emit(ctx, domain.ProviderEvent{Kind: domain.EventAccountsChanged, Accounts: cur.accounts})
			}
		}
		last = cur
	}
}

func (c *Connector) emit(ctx context.Context, ev domain.ProviderEvent) {
	n := c.events.Send(ev)
	c.logger.Debug(ctx, "injected provider event", "event", ev.Kind, "chain_id", ev.ChainID, "subscribers", n)
}

func accountsOf(ctx context.Context, client *rpc.Client) ([]common.Address, error) {
	var accounts []common.Address
	if err := client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, err
	}
	return accounts, nil
}
