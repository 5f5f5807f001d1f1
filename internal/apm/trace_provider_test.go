package apm

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/tqthu/web3-thu-duc/internal/logger"
)

func TestNewTraceProvider_Empty(t *testing.T) {
	tp, err := NewTraceProvider(Config{Provider: EmptyProvider}, logger.NewDiscard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tp.Stop(); err != nil {
		t.Errorf("stop: %v", err)
	}
}

func TestNewTraceProvider_Unknown(t *testing.T) {
	if _, err := NewTraceProvider(Config{Provider: "jaeger"}, logger.NewDiscard()); err == nil {
		t.Error("expected unknown provider to fail")
	}
}

func TestNewTraceProvider_ConsoleExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	var buf bytes.Buffer
	tp, err := NewTraceProvider(Config{
		Provider:    ConsoleProvider,
		ServiceName: "walletd-test",
		Writer:      &buf,
	}, logger.NewDiscard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "machine.activate")
	span.End()

	if err := tp.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !strings.Contains(buf.String(), "machine.activate") {
		t.Errorf("expected exported span, got %q", buf.String())
	}
}
