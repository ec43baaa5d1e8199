// Package base provides common functionality for exchange adapters
package base

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"copytrader/internal/core"
	apperrors "copytrader/pkg/errors"
	httpclient "copytrader/pkg/http"
	"copytrader/pkg/websocket"
)

// Adapter carries the state every venue adapter shares: identity, a signed
// HTTP client, and the connected gate. Venue packages embed it.
type Adapter struct {
	Name   string
	UserID string
	Logger core.ILogger
	HTTP   *httpclient.Client

	connected atomic.Bool
}

// NewAdapter builds the shared adapter state. The HTTP client is expected to
// carry the venue's signer already.
func NewAdapter(name, userID string, client *httpclient.Client, logger core.ILogger) *Adapter {
	return &Adapter{
		Name:   name,
		UserID: userID,
		Logger: logger.WithFields(map[string]interface{}{"exchange": name, "user_id": userID}),
		HTTP:   client,
	}
}

// MarkConnected records a successful Connect.
func (b *Adapter) MarkConnected() {
	b.connected.Store(true)
}

// MarkClosed records a Close.
func (b *Adapter) MarkClosed() {
	b.connected.Store(false)
}

// RequireConnected returns ErrNotConnected until Connect has succeeded.
func (b *Adapter) RequireConnected() error {
	if !b.connected.Load() {
		return apperrors.ErrNotConnected
	}
	return nil
}

// StartWebSocketStream starts a reconnecting WebSocket stream tied to ctx.
func (b *Adapter) StartWebSocketStream(ctx context.Context, wsURL string, onMessage func([]byte), onConnected func(), streamName string) {
	client := websocket.NewClient(wsURL, onMessage, b.Logger)
	if onConnected != nil {
		client.SetOnConnected(onConnected)
	}
	client.Start()

	go func() {
		<-ctx.Done()
		b.Logger.Info(streamName+" WebSocket stopping", "reason", ctx.Err())
		client.Stop()
	}()

	b.Logger.Info(streamName + " WebSocket started")
}

// ParseDecimal safely parses a string to decimal
func (b *Adapter) ParseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		b.Logger.Warn("failed to parse decimal", "value", s, "error", err)
		return decimal.Zero
	}
	return d
}

// ParseTimestamp safely parses a timestamp in milliseconds
func (b *Adapter) ParseTimestamp(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
