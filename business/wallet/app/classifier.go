package app

import (
	"errors"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/tqthu/web3-thu-duc/business/wallet/domain"
)

// eip1193UserRejected is the provider error code for a declined request.
const eip1193UserRejected = 4001

// Classify maps any activation error to exactly one ErrorKind. The error
// itself is kept as the cause.
func Classify(err error) *domain.ConnectionError {
	var ce *domain.ConnectionError
	if errors.As(err, &ce) {
		return ce
	}

	kind := domain.KindUnknown

	var rpcErr rpc.Error
	switch {
	case errors.Is(err, domain.ErrNoProvider):
		kind = domain.KindNoProvider
	case errors.Is(err, domain.ErrUnsupportedChain):
		kind = domain.KindUnsupportedChain
	case errors.Is(err, domain.ErrUserRejected):
		kind = domain.KindUserRejected
	case errors.As(err, &rpcErr) && rpcErr.ErrorCode() == eip1193UserRejected:
		kind = domain.KindUserRejected
	}

	return &domain.ConnectionError{Kind: kind, Cause: err}
}
