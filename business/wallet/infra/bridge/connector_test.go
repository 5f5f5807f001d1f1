package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/goleak"

	"github.com/tqthu/web3-thu-duc/business/wallet/app"
	"github.com/tqthu/web3-thu-duc/business/wallet/domain"
	"github.com/tqthu/web3-thu-duc/business/wallet/infra/ethereum/ethtest"
	"github.com/tqthu/web3-thu-duc/internal/apperror"
	"github.com/tqthu/web3-thu-duc/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

var walletAddr = common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678")

// relay forwards pub messages to the other subscribers of a topic.
type relay struct {
	mu     sync.Mutex
	topics map[string][]*websocket.Conn
}

func newRelay(t *testing.T) *httptest.Server {
	t.Helper()
	r := &relay{topics: make(map[string][]*websocket.Conn)}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := websocket.Accept(w, req, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := req.Context()
		for {
			var msg Message
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				return
			}
			switch msg.Type {
			case TypeSub:
				r.mu.Lock()
				r.topics[msg.Topic] = append(r.topics[msg.Topic], conn)
				r.mu.Unlock()
			case TypePub:
				r.mu.Lock()
				peers := append([]*websocket.Conn{}, r.topics[msg.Topic]...)
				r.mu.Unlock()
				for _, p := range peers {
					if p != conn {
						_ = wsjson.Write(ctx, p, msg)
					}
				}
			}
		}
	}))
}

// wallet is the remote side of a pairing.
type wallet struct {
	conn  *websocket.Conn
	topic string
}

func pair(t *testing.T, uri string) *wallet {
	t.Helper()
	rest, ok := strings.CutPrefix(uri, "wc:")
	if !ok {
		t.Fatalf("unexpected uri %q", uri)
	}
	topic, query, _ := strings.Cut(rest, "@1?")
	q, err := url.ParseQuery(query)
	if err != nil {
		t.Fatalf("bad uri query: %v", err)
	}
	if len(q.Get("key")) != 64 {
		t.Errorf("expected 32-byte hex key, got %q", q.Get("key"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, q.Get("bridge"), nil)
	if err != nil {
		t.Fatalf("wallet dial: %v", err)
	}
	w := &wallet{conn: conn, topic: topic}
	if err := wsjson.Write(ctx, conn, Message{Topic: topic, Type: TypeSub, Silent: true}); err != nil {
		t.Fatalf("wallet sub: %v", err)
	}
	return w
}

func (w *wallet) publish(t *testing.T, p SessionPayload) {
	t.Helper()
	body, _ := json.Marshal(p)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, w.conn, Message{Topic: w.topic, Type: TypePub, Payload: string(body)}); err != nil {
		t.Fatalf("wallet pub: %v", err)
	}
}

func (w *wallet) next(t *testing.T) SessionPayload {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var msg Message
	if err := wsjson.Read(ctx, w.conn, &msg); err != nil {
		t.Fatalf("wallet read: %v", err)
	}
	var p SessionPayload
	if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
		t.Fatalf("wallet payload: %v", err)
	}
	return p
}

func (w *wallet) close() { w.conn.CloseNow() }

type fixture struct {
	connector *Connector
	uris      chan string
	close     func()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	relaySrv := newRelay(t)
	backend := ethtest.NewBackend(1)
	rpcSrv := backend.HTTPServer()

	c := New(Config{
		Name:            app.ConnectorWalletConnect,
		BridgeURL:       "ws" + strings.TrimPrefix(relaySrv.URL, "http"),
		RPCURLs:         map[uint64]string{1: rpcSrv.URL},
		ApprovalTimeout: 2 * time.Second,
	}, logger.NewDiscard())

	uris := make(chan string, 4)
	sub := c.SubscribeSessionURI(uris)

	return &fixture{
		connector: c,
		uris:      uris,
		close: func() {
			sub.Unsubscribe()
			rpcSrv.Close()
			backend.Close()
			relaySrv.Close()
		},
	}
}

type result struct {
	act app.Activation
	err error
}

func (f *fixture) activate() <-chan result {
	done := make(chan result, 1)
	go func() {
		act, err := f.connector.Activate(context.Background())
		done <- result{act, err}
	}()
	return done
}

func (f *fixture) uri(t *testing.T) string {
	t.Helper()
	select {
	case uri := <-f.uris:
		return uri
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session uri")
		return ""
	}
}

func TestConnector_Approve(t *testing.T) {
	f := newFixture(t)
	defer f.close()

	done := f.activate()
	w := pair(t, f.uri(t))
	defer w.close()

	w.publish(t, SessionPayload{Approved: true, ChainID: 1, Accounts: []common.Address{walletAddr}})

	r := <-done
	if r.err != nil {
		t.Fatalf("unexpected error: %v", r.err)
	}
	if r.act.ChainID != 1 || r.act.Account != domain.AccountOf(walletAddr) {
		t.Errorf("unexpected activation %+v", r.act)
	}
	if _, err := r.act.Provider.BlockNumber(context.Background()); err != nil {
		t.Errorf("expected provider reads to work: %v", err)
	}

	f.connector.Deactivate()
	if p := w.next(t); p.Approved {
		t.Error("expected wallet to be told the session ended")
	}
}

func TestConnector_Rejected(t *testing.T) {
	f := newFixture(t)
	defer f.close()

	done := f.activate()
	w := pair(t, f.uri(t))
	defer w.close()

	w.publish(t, SessionPayload{Approved: false})

	r := <-done
	if apperror.GetCode(r.err) != apperror.CodeUserRejected {
		t.Fatalf("expected user rejected, got %v", r.err)
	}
	if app.Classify(r.err).Kind != domain.KindUserRejected {
		t.Error("expected user rejected classification")
	}
}

func TestConnector_UnsupportedChain(t *testing.T) {
	f := newFixture(t)
	defer f.close()

	done := f.activate()
	w := pair(t, f.uri(t))
	defer w.close()

	w.publish(t, SessionPayload{Approved: true, ChainID: 9999, Accounts: []common.Address{walletAddr}})

	r := <-done
	if app.Classify(r.err).Kind != domain.KindUnsupportedChain {
		t.Fatalf("expected unsupported chain, got %v", r.err)
	}
}

func TestConnector_ApprovalTimeout(t *testing.T) {
	f := newFixture(t)
	defer f.close()
	f.connector.config.ApprovalTimeout = 50 * time.Millisecond

	done := f.activate()
	f.uri(t)

	r := <-done
	if apperror.GetCode(r.err) != apperror.CodeBridgeSessionFailed {
		t.Errorf("expected bridge session failure, got %v", r.err)
	}
}

func TestConnector_RelayUnreachable(t *testing.T) {
	c := New(Config{Name: app.ConnectorWalletLink, BridgeURL: "ws://127.0.0.1:1"}, logger.NewDiscard())

	_, err := c.Activate(context.Background())
	if apperror.GetCode(err) != apperror.CodeBridgeSessionFailed {
		t.Errorf("expected bridge session failure, got %v", err)
	}
}

func TestConnector_SessionUpdates(t *testing.T) {
	f := newFixture(t)
	defer f.close()

	events := make(chan domain.ProviderEvent, 4)
	sub := f.connector.SubscribeProviderEvents(events)
	defer sub.Unsubscribe()

	done := f.activate()
	w := pair(t, f.uri(t))
	defer w.close()

	w.publish(t, SessionPayload{Approved: true, ChainID: 1, Accounts: []common.Address{walletAddr}})
	if r := <-done; r.err != nil {
		t.Fatalf("unexpected error: %v", r.err)
	}
	defer f.connector.Deactivate()

	other := common.HexToAddress("0xBBB")
	w.publish(t, SessionPayload{Approved: true, ChainID: 4, Accounts: []common.Address{other}})

	ev := nextEvent(t, events)
	if ev.Kind != domain.EventChainChanged || ev.ChainID != 4 {
		t.Errorf("expected chainChanged to 4, got %+v", ev)
	}
	ev = nextEvent(t, events)
	if ev.Kind != domain.EventAccountsChanged || len(ev.Accounts) != 1 || ev.Accounts[0] != other {
		t.Errorf("expected accountsChanged to 0xBBB, got %+v", ev)
	}

	w.publish(t, SessionPayload{Approved: false})
	ev = nextEvent(t, events)
	if ev.Kind != domain.EventAccountsChanged || len(ev.Accounts) != 0 {
		t.Errorf("expected accounts cleared, got %+v", ev)
	}
}

func nextEvent(t *testing.T, ch <-chan domain.ProviderEvent) domain.ProviderEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session event")
		return domain.ProviderEvent{}
	}
}
