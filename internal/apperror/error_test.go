package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_IsMatchesByCode(t *testing.T) {
	err := New(CodeUserRejected, WithContext("eth_requestAccounts"))
	wrapped := fmt.Errorf("activate: %w", err)

	if !errors.Is(wrapped, New(CodeUserRejected)) {
		t.Error("expected wrapped error to match by code")
	}
	if errors.Is(wrapped, New(CodeUnsupportedChain)) {
		t.Error("expected codes to differ")
	}
}

func TestAppError_UnwrapCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := New(CodeEthereumConnectionFailed, WithCause(cause))

	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable via errors.Is")
	}
	if got := err.ToLog()["cause"]; got != cause.Error() {
		t.Errorf("expected cause %q in log fields, got %v", cause.Error(), got)
	}
}

func TestWrap_KeepsExistingAppError(t *testing.T) {
	orig := New(CodeNoProviderAvailable)
	got := Wrap(orig, CodeInternalError, "probe")

	if got != orig {
		t.Fatal("expected Wrap to return the existing AppError")
	}
	if got.Context != "probe" {
		t.Errorf("expected context to be filled, got %q", got.Context)
	}
	if Wrap(nil, CodeInternalError, "x") != nil {
		t.Error("expected Wrap(nil) to be nil")
	}
}

func TestGetCode(t *testing.T) {
	if GetCode(errors.New("plain")) != CodeUnknownError {
		t.Error("expected plain errors to map to unknown")
	}
	if GetCode(New(CodeAlreadyActivating)) != CodeAlreadyActivating {
		t.Error("expected code to be extracted")
	}
}

func TestTemporary(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{New(CodeEthereumRPCError), true},
		{New(CodeCircuitOpen), true},
		{fmt.Errorf("poll: %w", New(CodeRateLimitExceeded)), true},
		{New(CodeUserRejected), false},
		{New(CodeUnsupportedChain), false},
		{New(CodeNoProviderAvailable), false},
		{errors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := IsTemporary(tt.err); got != tt.want {
			t.Errorf("IsTemporary(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if New(CodeCircuitOpen).ToLog()["temporary"] != true {
		t.Error("expected temporary flag in log fields")
	}
}

func TestMessage_FallsBackToCode(t *testing.T) {
	if Message(Code("SOMETHING_NEW")) != "SOMETHING_NEW" {
		t.Error("expected unknown codes to render as the code")
	}
	if Message(CodeUnsupportedChain) != "You're connected to an unsupported network." {
		t.Errorf("unexpected message: %q", Message(CodeUnsupportedChain))
	}
}
