package domain

import (
	"github.com/tqthu/web3-thu-duc/internal/apperror"
)

// ErrorKind is the closed set of user-facing activation failures.
type ErrorKind string

const (
	KindNoProvider       ErrorKind = "no_provider"
	KindUnsupportedChain ErrorKind = "unsupported_chain"
	KindUserRejected     ErrorKind = "user_rejected"
	KindUnknown          ErrorKind = "unknown"
)

// Code returns the apperror code the kind is reported under.
func (k ErrorKind) Code() apperror.Code {
	switch k {
	case KindNoProvider:
		return apperror.CodeNoProviderAvailable
	case KindUnsupportedChain:
		return apperror.CodeUnsupportedChain
	case KindUserRejected:
		return apperror.CodeUserRejected
	default:
		return apperror.CodeUnknownError
	}
}

// ConnectionError is a classified activation failure. Cause is kept for
// diagnostics only.
type ConnectionError struct {
	Kind  ErrorKind
	Cause error
}

// Error implements error.
func (e *ConnectionError) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Cause.Error()
}

// Unwrap returns the raw error.
func (e *ConnectionError) Unwrap() error { return e.Cause }

// Message returns the text shown to the user.
func (e *ConnectionError) Message() string {
	return apperror.Message(e.Kind.Code())
}

// Sentinel errors raised by connectors and the state machine. Match with
// errors.Is; AppErrors compare by code.
var (
	ErrNoProvider        = apperror.New(apperror.CodeNoProviderAvailable)
	ErrUnsupportedChain  = apperror.New(apperror.CodeUnsupportedChain)
	ErrUserRejected      = apperror.New(apperror.CodeUserRejected)
	ErrUnknownConnector  = apperror.New(apperror.CodeUnknownConnector)
	ErrAlreadyActivating = apperror.New(apperror.CodeAlreadyActivating)
)
