// Package bridge implements connectors that pair with a remote wallet
// through a websocket relay.
package bridge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tqthu/web3-thu-duc/business/wallet/app"
	"github.com/tqthu/web3-thu-duc/business/wallet/domain"
	"github.com/tqthu/web3-thu-duc/business/wallet/infra/ethereum"
	"github.com/tqthu/web3-thu-duc/internal/apperror"
	"github.com/tqthu/web3-thu-duc/internal/logger"
	"github.com/tqthu/web3-thu-duc/internal/wsconn"
)

const tracerName = "github.com/tqthu/web3-thu-duc/business/wallet/infra/bridge"

// Relay message types.
const (
	TypeSub = "sub"
	TypePub = "pub"
)

// Message is the relay envelope.
type Message struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Silent  bool   `json:"silent"`
}

// SessionPayload is what the wallet publishes to approve, update or end a
// session.
type SessionPayload struct {
	Approved bool             `json:"approved"`
	ChainID  uint64           `json:"chainId"`
	Accounts []common.Address `json:"accounts"`
}

// Config holds configuration for a bridge connector.
type Config struct {
	Name            string
	BridgeURL       string
	RPCURLs         map[uint64]string
	ApprovalTimeout time.Duration
	Provider        ethereum.ProviderConfig
}

// Connector pairs with a remote wallet. Each activation opens a new
// session topic and publishes its pairing URI.
type Connector struct {
	config Config
	logger logger.LoggerInterface
	tracer trace.Tracer

	uris   event.FeedOf[string]
	events event.FeedOf[domain.ProviderEvent]

	mu      sync.Mutex
	session *session
}

var (
	_ app.Connector        = (*Connector)(nil)
	_ app.EventSource      = (*Connector)(nil)
	_ app.SessionURISource = (*Connector)(nil)
)

// session is one pairing with the wallet.
type session struct {
	topic    string
	client   *wsconn.Client
	provider *ethereum.Provider
	approval chan SessionPayload

	mu       sync.Mutex
	approved bool
	chainID  uint64
	accounts []common.Address
}

// New creates a bridge connector.
func New(cfg Config, log logger.LoggerInterface) *Connector {
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = 2 * time.Minute
	}
	if cfg.Provider.Name == "" {
		cfg.Provider = ethereum.DefaultProviderConfig(cfg.Name)
	}
	return &Connector{
		config: cfg,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}
}

// SubscribeSessionURI delivers the pairing URI of every new session.
func (c *Connector) SubscribeSessionURI(ch chan<- string) event.Subscription {
	return c.uris.Subscribe(ch)
}

// SubscribeProviderEvents delivers session updates from the wallet.
func (c *Connector) SubscribeProviderEvents(ch chan<- domain.ProviderEvent) event.Subscription {
	return c.events.Subscribe(ch)
}

// Activate opens a session on the relay, publishes its URI and waits for
// the wallet to approve it.
func (c *Connector) Activate(ctx context.Context) (app.Activation, error) {
	ctx, span := c.tracer.Start(ctx, "bridge.activate",
		trace.WithAttributes(
			attribute.String("connector", c.config.Name),
			attribute.String("bridge", c.config.BridgeURL),
		),
	)
	defer span.End()

	s, uri, err := c.open(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		return app.Activation{}, err
	}

	span.SetAttributes(attribute.String("topic", s.topic))
	c.logger.Info(ctx, "session uri published", "connector", c.config.Name, "topic", s.topic)
	c.uris.Send(uri)

	payload, err := c.awaitApproval(ctx, s)
	if err != nil {
		s.client.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "not approved")
		return app.Activation{}, err
	}

	rpcURL, ok := c.config.RPCURLs[payload.ChainID]
	if !ok {
		c.kill(ctx, s)
		return app.Activation{}, apperror.New(apperror.CodeUnsupportedChain,
			apperror.WithCause(domain.ErrUnsupportedChain),
			apperror.WithContext(fmt.Sprintf("no rpc url for chain %d", payload.ChainID)))
	}

	p, err := ethereum.Dial(ctx, rpcURL, c.config.Provider, c.logger)
	if err != nil {
		c.kill(ctx, s)
		span.RecordError(err)
		return app.Activation{}, err
	}
	s.provider = p

	account := domain.NoAccount()
	if len(payload.Accounts) > 0 {
		account = domain.AccountOf(payload.Accounts[0])
	}

	c.mu.Lock()
	prev := c.session
	c.session = s
	c.mu.Unlock()
	if prev != nil {
		c.kill(ctx, prev)
	}

	span.SetStatus(codes.Ok, "approved")
	c.logger.Info(ctx, "bridge session approved", "connector", c.config.Name,
		"chain_id", payload.ChainID, "account", account.String())

	return app.Activation{Provider: p, ChainID: payload.ChainID, Account: account}, nil
}

// open connects to the relay and subscribes to a fresh topic.
func (c *Connector) open(ctx context.Context) (*session, string, error) {
	key, err := newKey()
	if err != nil {
		return nil, "", apperror.New(apperror.CodeInternalError, apperror.WithCause(err))
	}

	cfg := wsconn.DefaultConfig(c.config.BridgeURL, c.config.Name)
	cfg.MaxReconnects = -1

	client, err := wsconn.New(cfg)
	if err != nil {
		return nil, "", err
	}

	s := &session{
		topic:    uuid.NewString(),
		client:   client,
		approval: make(chan SessionPayload, 1),
	}
	client.OnMessage(func(ctx context.Context, msg []byte) { c.handle(ctx, s, msg) })

	if err := client.Connect(ctx); err != nil {
		client.Close()
		return nil, "", apperror.New(apperror.CodeBridgeSessionFailed,
			apperror.WithCause(err),
			apperror.WithContext(c.config.BridgeURL))
	}

	if err := client.SendJSON(ctx, Message{Topic: s.topic, Type: TypeSub, Silent: true}); err != nil {
		client.Close()
		return nil, "", apperror.New(apperror.CodeBridgeSessionFailed,
			apperror.WithCause(err),
			apperror.WithContext("subscribe"))
	}

	uri := fmt.Sprintf("wc:%s@1?bridge=%s&key=%s", s.topic, url.QueryEscape(c.config.BridgeURL), key)
	return s, uri, nil
}

func (c *Connector) awaitApproval(ctx context.Context, s *session) (SessionPayload, error) {
	timer := time.NewTimer(c.config.ApprovalTimeout)
	defer timer.Stop()

	select {
	case p := <-s.approval:
		if !p.Approved {
			return SessionPayload{}, apperror.New(apperror.CodeUserRejected,
				apperror.WithCause(domain.ErrUserRejected),
				apperror.WithContext("session rejected by wallet"))
		}
		return p, nil
	case <-timer.C:
		return SessionPayload{}, apperror.New(apperror.CodeBridgeSessionFailed,
			apperror.WithContext("approval timed out"))
	case <-ctx.Done():
		return SessionPayload{}, ctx.Err()
	}
}

// handle processes relay messages for s.
func (c *Connector) handle(ctx context.Context, s *session, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Topic != s.topic || msg.Type != TypePub {
		return
	}

	var p SessionPayload
	if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
		c.logger.Warn(ctx, "malformed session payload", "connector", c.config.Name, "error", err)
		return
	}

	s.mu.Lock()
	if !s.approved {
		s.approved = p.Approved
		s.chainID, s.accounts = p.ChainID, p.Accounts
		s.mu.Unlock()
		select {
		case s.approval <- p:
		default:
		}
		return
	}

	var evs []domain.ProviderEvent
	switch {
	case !p.Approved:
		s.approved = false
		evs = append(evs, domain.ProviderEvent{Kind: domain.EventAccountsChanged})
	default:
		if p.ChainID != s.chainID {
			evs = append(evs, domain.ProviderEvent{Kind: domain.EventChainChanged, ChainID: p.ChainID})
		}
		if !slices.Equal(p.Accounts, s.accounts) {
			evs = append(evs, domain.ProviderEvent{Kind: domain.EventAccountsChanged, Accounts: p.Accounts})
		}
		s.chainID, s.accounts = p.ChainID, p.Accounts
	}
	s.mu.Unlock()

	c.mu.Lock()
	current := c.session == s
	c.mu.Unlock()
	if !current {
		return
	}

	for _, ev := range evs {
		c.logger.Info(ctx, "bridge session update", "connector", c.config.Name, "event", ev.Kind)
		c.events.Send(ev)
	}
}

// Deactivate ends the session with the wallet.
func (c *Connector) Deactivate() {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()

	if s != nil {
		c.kill(context.Background(), s)
	}
}

// kill tells the wallet the session is over and releases it.
func (c *Connector) kill(ctx context.Context, s *session) {
	payload, _ := json.Marshal(SessionPayload{Approved: false})

	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.client.SendJSON(sctx, Message{Topic: s.topic, Type: TypePub, Payload: string(payload), Silent: true}); err != nil {
		c.logger.Debug(ctx, "session kill not delivered", "connector", c.config.Name, "error", err)
	}

	s.client.Close()
	if s.provider != nil {
		s.provider.Close()
	}
	c.logger.Info(ctx, "bridge session closed", "connector", c.config.Name, "topic", s.topic)
}

func newKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
