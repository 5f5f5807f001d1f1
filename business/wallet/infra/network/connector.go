// Package network implements the read-only connector over remote RPC
// endpoints keyed by chain id.
package network

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tqthu/web3-thu-duc/business/wallet/app"
	"github.com/tqthu/web3-thu-duc/business/wallet/domain"
	"github.com/tqthu/web3-thu-duc/business/wallet/infra/ethereum"
	"github.com/tqthu/web3-thu-duc/internal/apperror"
	"github.com/tqthu/web3-thu-duc/internal/logger"
)

const tracerName = "github.com/tqthu/web3-thu-duc/business/wallet/infra/network"

// Config holds configuration for the network connector.
type Config struct {
	DefaultChainID uint64
	URLs           map[uint64]string
	Provider       ethereum.ProviderConfig
}

// Connector reads from a remote node. It never holds an account.
type Connector struct {
	config Config
	logger logger.LoggerInterface
	tracer trace.Tracer

	mu       sync.Mutex
	provider *ethereum.Provider
}

var _ app.Connector = (*Connector)(nil)

// New creates a network connector on the default chain.
func New(cfg Config, log logger.LoggerInterface) (*Connector, error) {
	if _, ok := cfg.URLs[cfg.DefaultChainID]; !ok {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext(fmt.Sprintf("no rpc url for default chain %d", cfg.DefaultChainID)))
	}
	if cfg.Provider.Name == "" {
		cfg.Provider = ethereum.DefaultProviderConfig("network")
	}
	return &Connector{
		config: cfg,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// Activate dials the default chain's endpoint. The chain id reported by
// the endpoint wins over the configured one.
func (c *Connector) Activate(ctx context.Context) (app.Activation, error) {
	chainID := c.config.DefaultChainID
	url := c.config.URLs[chainID]

	ctx, span := c.tracer.Start(ctx, "network.activate",
		trace.WithAttributes(attribute.Int64("chain_id", int64(chainID))),
	)
	defer span.End()

	p, err := ethereum.Dial(ctx, url, c.config.Provider, c.logger)
	if err != nil {
		span.RecordError(err)
		return app.Activation{}, err
	}

	reported, err := p.ChainID(ctx)
	if err != nil {
		p.Close()
		span.RecordError(err)
		return app.Activation{}, err
	}
	if reported != chainID {
		c.logger.Warn(ctx, "endpoint reports a different chain", "configured", chainID, "reported", reported)
	}

	c.mu.Lock()
	prev := c.provider
	c.provider = p
	c.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	c.logger.Info(ctx, "network provider ready", "chain_id", reported)
	return app.Activation{Provider: p, ChainID: reported, Account: domain.NoAccount()}, nil
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
