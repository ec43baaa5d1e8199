package core

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Opposite returns the other order side.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// CloseSide returns the order side that reduces a position of this side.
func (s PositionSide) CloseSide() OrderSide {
	if s == PositionLong {
		return SideSell
	}
	return SideBuy
}

// OpenSide returns the order side that opens or increases a position of this side.
func (s PositionSide) OpenSide() OrderSide {
	if s == PositionLong {
		return SideBuy
	}
	return SideSell
}

// OrderType identifies how an order executes.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStopLimit OrderType = "stop_limit"
	OrderTypePostOnly  OrderType = "post_only"
)

// OrderStatus is the canonical lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusClosed   OrderStatus = "closed"
	OrderStatusFailed   OrderStatus = "failed"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusUnknown  OrderStatus = "unknown"
)

// MarginMode selects how margin is allocated for a symbol.
type MarginMode string

const (
	MarginIsolated MarginMode = "isolated"
	MarginCross    MarginMode = "cross"
)

// Action is a leader command verb.
type Action string

const (
	ActionBuy           Action = "buy"
	ActionSell          Action = "sell"
	ActionClosePosition Action = "close_position"
	ActionScaleOut      Action = "scale_out"
	ActionScaleIn       Action = "scale_in"
	ActionSetLeverage   Action = "set_leverage"
	ActionCancel        Action = "cancel"
)

// Position is a canonical snapshot of one open futures position.
// Contracts is always >= 0; direction lives in Side. Contracts == 0 means
// no position and is only ever constructed by the replication engine as a
// placeholder for a full close.
type Position struct {
	Symbol           string          `json:"symbol"`
	Side             PositionSide    `json:"side"`
	Contracts        decimal.Decimal `json:"contracts"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	MarkPrice        decimal.Decimal `json:"mark_price"`
	Leverage         decimal.Decimal `json:"leverage"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price,omitempty"`
	TimestampMS      int64           `json:"timestamp_ms,omitempty"`
	ExchangeID       string          `json:"exchange_id"`
	Raw              json.RawMessage `json:"raw,omitempty"`
}

// Notional returns contracts * entry price.
func (p *Position) Notional() decimal.Decimal {
	return p.Contracts.Mul(p.EntryPrice)
}

// CommandDetails carries the leader's original intent alongside an order so
// downstream consumers can recover it even when the venue reports a
// different effective leverage on the position.
type CommandDetails struct {
	Action   Action          `json:"action"`
	Leverage decimal.Decimal `json:"leverage"`
	Amount   decimal.Decimal `json:"amount"`
}

// Order is a canonical view of one exchange order.
// Invariant: Status == failed implies ID == "" and ErrorMessage set.
type Order struct {
	ID            string          `json:"id,omitempty"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
	Symbol        string          `json:"symbol"`
	Side          OrderSide       `json:"side"`
	Type          OrderType       `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Price         decimal.Decimal `json:"price,omitempty"`
	Filled        decimal.Decimal `json:"filled"`
	AveragePrice  decimal.Decimal `json:"average_price,omitempty"`
	Status        OrderStatus     `json:"status"`
	ReduceOnly    bool            `json:"reduce_only,omitempty"`
	TimestampMS   int64           `json:"timestamp_ms,omitempty"`
	ExchangeID    string          `json:"exchange_id"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	Details       *CommandDetails `json:"command_details,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// FailedOrder builds the synthetic failed order the dispatcher and adapters
// return for business rejects.
func FailedOrder(symbol string, side OrderSide, typ OrderType, amount decimal.Decimal, exchangeID, msg string) *Order {
	return &Order{
		Symbol:       symbol,
		Side:         side,
		Type:         typ,
		Amount:       amount,
		Status:       OrderStatusFailed,
		ExchangeID:   exchangeID,
		ErrorMessage: msg,
	}
}

// OrderRequest is the adapter-level input for placing one order.
type OrderRequest struct {
	Symbol        string
	Type          OrderType
	Side          OrderSide
	Amount        decimal.Decimal
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	ReduceOnly    bool
	PostOnly      bool
	ClientOrderID string
	Details       *CommandDetails
}

// Command is one leader instruction as received from the upstream feed.
type Command struct {
	Action     Action          `json:"action"`
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side,omitempty"`
	Amount     decimal.Decimal `json:"amount,omitempty"`
	Percentage decimal.Decimal `json:"percentage,omitempty"`
	Leverage   decimal.Decimal `json:"leverage,omitempty"`
	MarginMode MarginMode      `json:"margin_mode,omitempty"`
	OrderType  OrderType       `json:"order_type,omitempty"`
	Price      decimal.Decimal `json:"price,omitempty"`
	StopPrice  decimal.Decimal `json:"stop_price,omitempty"`
	PostOnly   bool            `json:"post_only,omitempty"`
	OrderID    string          `json:"order_id,omitempty"`
	Details    *CommandDetails `json:"command_details,omitempty"`
}

// Ticker is a canonical price snapshot for one symbol.
type Ticker struct {
	Symbol      string
	Last        decimal.Decimal
	Mark        decimal.Decimal
	Bid         decimal.Decimal
	Ask         decimal.Decimal
	TimestampMS int64
}

// Price returns the last trade price, falling back to mark price.
func (t *Ticker) Price() decimal.Decimal {
	if t.Last.IsPositive() {
		return t.Last
	}
	return t.Mark
}

// MarketLimits holds the venue tradability constraints for one symbol.
// A zero value means the venue does not define that limit.
type MarketLimits struct {
	MinAmount  decimal.Decimal
	AmountStep decimal.Decimal
	MinCost    decimal.Decimal
}

// AccountDescriptor identifies one authenticated exchange account.
// Secrets are held decrypted in memory only.
type AccountDescriptor struct {
	UserID        string
	ExchangeID    string
	APIKey        string
	APISecret     string
	APIPassphrase string
	CopyEnabled   bool
}

// EventKind tags a LeaderEvent.
type EventKind int

const (
	EventOpen EventKind = iota
	EventPartialClose
	EventFullClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventPartialClose:
		return "partial_close"
	case EventFullClose:
		return "full_close"
	default:
		return "unknown"
	}
}

// LeaderEvent is the replication handoff: one leader order together with the
// post-trade leader position, classified as an open/increase, a partial
// close, or a full close. For a full close Position is nil and
// ClosedContracts carries the filled amount; ClosedSide is the side of the
// position that was closed.
type LeaderEvent struct {
	Kind            EventKind
	Symbol          string
	Order           *Order
	Position        *Position
	ClosedContracts decimal.Decimal
	ClosedSide      PositionSide
}

// CloseFraction returns the fraction of the original leader position that a
// partial-close event reduced, computed against the pre-trade contract count
// (remaining + filled).
func (e *LeaderEvent) CloseFraction() decimal.Decimal {
	if e.Kind != EventPartialClose || e.Position == nil {
		return decimal.Zero
	}
	original := e.Position.Contracts.Add(e.Order.Filled)
	if !original.IsPositive() {
		return decimal.Zero
	}
	return e.Order.Filled.Div(original)
}
