package ethereum

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/goleak"

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

func testConfig() ProviderConfig {
	cfg := DefaultProviderConfig("test")
	cfg.PollInterval = 10 * time.Millisecond
	cfg.RequestsPerSecond = 0
	return cfg
}

func newInProcProvider(t *testing.T, backend *ethtest.Backend) *Provider {
	t.Helper()
	p, err := NewProvider(backend.DialInProc(), testConfig(), logger.NewDiscard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p
}

func TestProvider_Reads(t *testing.T) {
	backend := ethtest.NewBackend(4)
	defer backend.Close()
	p := newInProcProvider(t, backend)
	defer p.Close()

	addr := common.HexToAddress("0xAAA")
	backend.SetHeight(1234)
	backend.SetBalance(addr, big.NewInt(5e17))
	ctx := context.Background()

	n, err := p.BlockNumber(ctx)
	if err != nil || n != 1234 {
		t.Fatalf("expected 1234, got %d (%v)", n, err)
	}

	bal, err := p.BalanceAt(ctx, addr)
	if err != nil || bal.Cmp(big.NewInt(5e17)) != 0 {
		t.Fatalf("expected 5e17, got %v (%v)", bal, err)
	}

	id, err := p.ChainID(ctx)
	if err != nil || id != 4 {
		t.Fatalf("expected chain 4, got %d (%v)", id, err)
	}
}

func TestProvider_WatchBlocksPush(t *testing.T) {
	backend := ethtest.NewBackend(1)
	defer backend.Close()
	p := newInProcProvider(t, backend)
	defer p.Close()

	sub, err := p.WatchBlocks(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Polling() {
		t.Fatal("expected push subscription over in-process transport")
	}

	ch := make(chan uint64, 4)
	bsub := p.SubscribeBlocks(ch)
	defer bsub.Unsubscribe()

	waitFor(t, "head subscriber", func() bool { return backend.HeadSubscribers() == 1 })
	backend.PushHead(77)

	select {
	case n := <-ch:
		if n != 77 {
			t.Errorf("expected 77, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for head")
	}

	sub.Unsubscribe()
	waitFor(t, "head unsubscribe", func() bool { return backend.HeadSubscribers() == 0 })
}

func TestProvider_WatchBlocksPollsOverHTTP(t *testing.T) {
	backend := ethtest.NewBackend(1)
	defer backend.Close()
	srv := backend.HTTPServer()
	defer srv.Close()

	p, err := Dial(context.Background(), srv.URL, testConfig(), logger.NewDiscard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	sub, err := p.WatchBlocks(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.Unsubscribe()
	if !p.Polling() {
		t.Fatal("expected polling over http")
	}

	ch := make(chan uint64, 4)
	bsub := p.SubscribeBlocks(ch)
	defer bsub.Unsubscribe()

	backend.SetHeight(10)
	waitForBlock(t, ch, 10)
	backend.SetHeight(11)
	waitForBlock(t, ch, 11)
}

func TestProvider_ReadErrorWrapped(t *testing.T) {
	backend := ethtest.NewBackend(1)
	p := newInProcProvider(t, backend)
	p.Close()
	backend.Close()

	_, err := p.BlockNumber(context.Background())
	if err == nil {
		t.Fatal("expected error from closed client")
	}
	if apperror.GetCode(err) != apperror.CodeEthereumRPCError {
		t.Errorf("expected rpc error code, got %s", apperror.GetCode(err))
	}
}

func TestDial_InvalidURL(t *testing.T) {
	_, err := Dial(context.Background(), "ftp://nowhere", testConfig(), logger.NewDiscard())
	if apperror.GetCode(err) != apperror.CodeEthereumConnectionFailed {
		t.Errorf("expected connection failed, got %v", err)
	}
}

func waitForBlock(t *testing.T, ch <-chan uint64, want uint64) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case n := <-ch:
			if n == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for block %d", want)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
