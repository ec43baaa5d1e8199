package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"copytrader/internal/config"
	"copytrader/internal/core"
	apperrors "copytrader/pkg/errors"
	"copytrader/pkg/logging"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.App.LeaderUserID = "leader-1"
	cfg.App.LeaderExchange = "mock"
	return cfg
}

func TestFactory_UnknownExchange(t *testing.T) {
	_, err := New("kraken", &config.ExchangeConfig{}, "user1", logging.NewNopLogger())
	if !errors.Is(err, apperrors.ErrUnknownExchange) {
		t.Errorf("err = %v, want ErrUnknownExchange", err)
	}
}

func TestRegistry_MemoizesPerAccount(t *testing.T) {
	r := NewRegistry(testConfig(), logging.NewNopLogger())
	ctx := context.Background()

	desc := &core.AccountDescriptor{UserID: "follower-1", ExchangeID: "mock"}
	first, err := r.Get(ctx, desc)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	second, err := r.Get(ctx, desc)
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if first != second {
		t.Error("same account must resolve to the same adapter instance")
	}

	other, err := r.Get(ctx, &core.AccountDescriptor{UserID: "follower-2", ExchangeID: "mock"})
	if err != nil {
		t.Fatalf("get other: %v", err)
	}
	if other == first {
		t.Error("different accounts must not share an adapter")
	}
}

func TestRegistry_LeaderResolution(t *testing.T) {
	r := NewRegistry(testConfig(), logging.NewNopLogger())

	leader, err := r.Leader(context.Background())
	if err != nil {
		t.Fatalf("leader: %v", err)
	}
	if leader.UserID() != "leader-1" {
		t.Errorf("leader user = %s, want leader-1", leader.UserID())
	}

	// Same account through Get shares the leader's adapter.
	again, err := r.Get(context.Background(), &core.AccountDescriptor{UserID: "leader-1", ExchangeID: "mock"})
	if err != nil {
		t.Fatalf("get leader: %v", err)
	}
	if again != leader {
		t.Error("leader adapter must be memoized under its account key")
	}
}

func TestRegistry_LeaderNotConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.App.LeaderUserID = ""
	r := NewRegistry(cfg, logging.NewNopLogger())

	_, err := r.Leader(context.Background())
	if !errors.Is(err, apperrors.ErrLeaderNotConfigured) {
		t.Errorf("err = %v, want ErrLeaderNotConfigured", err)
	}
}

func TestRegistry_FailedConnectIsRetried(t *testing.T) {
	var pings atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/ping", func(w http.ResponseWriter, r *http.Request) {
		if pings.Add(1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code": -1000, "msg": "down"}`))
			return
		}
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/fapi/v1/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbols": []}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig()
	cfg.Exchanges["binance"] = config.ExchangeConfig{BaseURL: srv.URL}
	r := NewRegistry(cfg, logging.NewNopLogger())

	desc := &core.AccountDescriptor{UserID: "follower-1", ExchangeID: "binance", APIKey: "k", APISecret: "s"}
	if _, err := r.Get(context.Background(), desc); err == nil {
		t.Fatal("first get should fail while the venue is down")
	}

	adapter, err := r.Get(context.Background(), desc)
	if err != nil {
		t.Fatalf("second get should succeed: %v", err)
	}
	if adapter == nil || adapter.Name() != "binance" {
		t.Errorf("unexpected adapter %v", adapter)
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry(testConfig(), logging.NewNopLogger())
	ctx := context.Background()

	desc := &core.AccountDescriptor{UserID: "follower-1", ExchangeID: "mock"}
	first, err := r.Get(ctx, desc)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	r.CloseAll(ctx)

	second, err := r.Get(ctx, desc)
	if err != nil {
		t.Fatalf("get after close: %v", err)
	}
	if second == first {
		t.Error("CloseAll must drop cached adapters")
	}
}
