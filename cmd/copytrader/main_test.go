package main

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"copytrader/internal/config"
	"copytrader/internal/credentials"
	"copytrader/internal/exchange"
	"copytrader/internal/replicate"
	"copytrader/internal/sizing"
	"copytrader/pkg/logging"
)

func newTestDispatcher(t *testing.T) *replicate.Dispatcher {
	t.Helper()
	logger := logging.NewNopLogger()
	registry := exchange.NewRegistry(config.DefaultConfig(), logger)
	store := credentials.NewStore("missing-keys.json", nil, logger)
	engine := replicate.NewEngine(registry, store, sizing.DefaultParams(), logger)
	return replicate.NewDispatcher(registry, engine, logger)
}

func TestCommandLoop_UnblocksOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	defer pw.Close()

	done := make(chan error, 1)
	go func() {
		done <- commandLoop(ctx, newTestDispatcher(t), pr, io.Discard, logging.NewNopLogger())
	}()

	// The reader delivers nothing; cancellation alone must end the loop.
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("commandLoop returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("commandLoop did not return after context cancellation")
	}
}

func TestCommandLoop_EmitsOneResultPerLine(t *testing.T) {
	in := strings.NewReader("not json\n" +
		`{"action": "warp", "symbol": "BTC/USDT"}` + "\n")
	var out strings.Builder

	err := commandLoop(context.Background(), newTestDispatcher(t), in, &out, logging.NewNopLogger())
	if err != nil {
		t.Fatalf("commandLoop: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d result lines, want 2: %q", len(lines), out.String())
	}
	for i, line := range lines {
		if !strings.Contains(line, `"failed"`) {
			t.Errorf("line %d = %q, want a failed result", i, line)
		}
	}
}
