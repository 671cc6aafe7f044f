package tracing

import (
	"context"
	"testing"

	"github.com/go-logr/stdr"
)

func TestInitTracerProviderWithoutJaegerRequiresNoNetwork(t *testing.T) {
	log := stdr.New(nil)
	tp, err := InitTracerProvider(log, Options{})
	if err != nil {
		t.Fatalf("InitTracerProvider: %v", err)
	}
	defer Shutdown(context.Background(), log, tp)

	ctx, span := StartNewSpan(context.Background(), "test-span")
	span.End()
	if ctx == nil {
		t.Fatal("expected a non-nil context from StartNewSpan")
	}
}
