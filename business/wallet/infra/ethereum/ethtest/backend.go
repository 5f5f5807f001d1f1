// Package ethtest provides an in-process JSON-RPC node for connector tests.
package ethtest

import (
	"context"
	"math/big"
	"net/http/httptest"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// UserRejectedCode is the wallet error code for a declined prompt.
const UserRejectedCode = 4001

// RPCError is a JSON-RPC error with a code.
type RPCError struct {
	Code int
	Msg  string
}

func (e *RPCError) Error() string  { return e.Msg }
func (e *RPCError) ErrorCode() int { return e.Code }

// Backend is a scripted node serving the eth namespace.
type Backend struct {
	server *rpc.Server

	mu         sync.Mutex
	chainID    uint64
	height     uint64
	balances   map[common.Address]*big.Int
	accounts   []common.Address
	authorized bool
	reject     bool
	down       bool
	heads      map[rpc.ID]*rpc.Notifier
	calls      map[string]int
}

// NewBackend creates a node on chainID at height 1.
func NewBackend(chainID uint64) *Backend {
	b := &Backend{
		server:   rpc.NewServer(),
		chainID:  chainID,
		height:   1,
		balances: make(map[common.Address]*big.Int),
		heads:    make(map[rpc.ID]*rpc.Notifier),
		calls:    make(map[string]int),
	}
	if err := b.server.RegisterName("eth", &ethAPI{b: b}); err != nil {
		panic(err)
	}
	return b
}

// DialInProc returns a client with subscription support.
func (b *Backend) DialInProc() *rpc.Client {
	return rpc.DialInProc(b.server)
}

// HTTPServer serves the node over plain HTTP (no subscriptions). The
// caller closes it.
func (b *Backend) HTTPServer() *httptest.Server {
	return httptest.NewServer(b.server)
}

// Close stops the server and drops every subscription.
func (b *Backend) Close() {
	b.server.Stop()
}

// SetChainID changes the reported chain id.
func (b *Backend) SetChainID(id uint64) {
	b.mu.Lock()
	b.chainID = id
	b.mu.Unlock()
}

// SetHeight changes the reported block height without notifying.
func (b *Backend) SetHeight(n uint64) {
	b.mu.Lock()
	b.height = n
	b.mu.Unlock()
}

// SetBalance sets an account balance in wei.
func (b *Backend) SetBalance(addr common.Address, wei *big.Int) {
	b.mu.Lock()
	b.balances[addr] = new(big.Int).Set(wei)
	b.mu.Unlock()
}

// SetAccounts sets the wallet accounts. Authorized controls whether
// eth_accounts exposes them without a prompt.
func (b *Backend) SetAccounts(authorized bool, accounts ...common.Address) {
	b.mu.Lock()
	b.accounts = accounts
	b.authorized = authorized
	b.mu.Unlock()
}

// RejectRequests makes eth_requestAccounts fail with code 4001.
func (b *Backend) RejectRequests(reject bool) {
	b.mu.Lock()
	b.reject = reject
	b.mu.Unlock()
}

// SetDown makes the wallet methods fail as if nothing were listening.
func (b *Backend) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

// Calls returns how often method was served.
func (b *Backend) Calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

// HeadSubscribers returns the number of open newHeads subscriptions.
func (b *Backend) HeadSubscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.heads)
}

// PushHead advances the height to n and notifies subscribers.
func (b *Backend) PushHead(n uint64) {
	b.mu.Lock()
	b.height = n
	heads := make(map[rpc.ID]*rpc.Notifier, len(b.heads))
	for id, notifier := range b.heads {
		heads[id] = notifier
	}
	b.mu.Unlock()

	header := &types.Header{
		Number:     new(big.Int).SetUint64(n),
		Difficulty: big.NewInt(0),
		Extra:      []byte{},
	}
	for id, notifier := range heads {
		_ = notifier.Notify(id, header)
	}
}

func (b *Backend) count(method string) {
	b.calls[method]++
}

type ethAPI struct {
	b *Backend
}

var errDown = &RPCError{Code: -32603, Msg: "wallet unavailable"}

func (api *ethAPI) ChainId() (*hexutil.Big, error) {
	api.b.mu.Lock()
	defer api.b.mu.Unlock()
	api.b.count("eth_chainId")
	if api.b.down {
		return nil, errDown
	}
	return (*hexutil.Big)(new(big.Int).SetUint64(api.b.chainID)), nil
}

func (api *ethAPI) BlockNumber() hexutil.Uint64 {
	api.b.mu.Lock()
	defer api.b.mu.Unlock()
	api.b.count("eth_blockNumber")
	return hexutil.Uint64(api.b.height)
}

func (api *ethAPI) GetBalance(addr common.Address, _ string) *hexutil.Big {
	api.b.mu.Lock()
	defer api.b.mu.Unlock()
	api.b.count("eth_getBalance")
	bal, ok := api.b.balances[addr]
	if !ok {
		bal = new(big.Int)
	}
	return (*hexutil.Big)(new(big.Int).Set(bal))
}

func (api *ethAPI) Accounts() ([]common.Address, error) {
	api.b.mu.Lock()
	defer api.b.mu.Unlock()
	api.b.count("eth_accounts")
	if api.b.down {
		return nil, errDown
	}
	if !api.b.authorized {
		return []common.Address{}, nil
	}
	return append([]common.Address{}, api.b.accounts...), nil
}

func (api *ethAPI) RequestAccounts() ([]common.Address, error) {
	api.b.mu.Lock()
	defer api.b.mu.Unlock()
	api.b.count("eth_requestAccounts")
	if api.b.down {
		return nil, errDown
	}
	if api.b.reject {
		return nil, &RPCError{Code: UserRejectedCode, Msg: "User rejected the request."}
	}
	api.b.authorized = true
	return append([]common.Address{}, api.b.accounts...), nil
}

func (api *ethAPI) NewHeads(ctx context.Context) (*rpc.Subscription, error) {
	notifier, ok := rpc.NotifierFromContext(ctx)
	if !ok {
		return nil, rpc.ErrNotificationsUnsupported
	}
	sub := notifier.CreateSubscription()

	api.b.mu.Lock()
	api.b.heads[sub.ID] = notifier
	api.b.mu.Unlock()

	go func() {
		<-sub.Err()
		api.b.mu.Lock()
		delete(api.b.heads, sub.ID)
		api.b.mu.Unlock()
	}()

	return sub, nil
}
