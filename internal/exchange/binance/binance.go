// Package binance provides Binance USDT-margined futures connectivity
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"copytrader/internal/config"
	"copytrader/internal/core"
	"copytrader/internal/exchange/base"
	"copytrader/internal/symbol"
	apperrors "copytrader/pkg/errors"
	httpclient "copytrader/pkg/http"
)

const (
	defaultFuturesURL = "https://fapi.binance.com"
	defaultFuturesWS  = "wss://fstream.binance.com/ws"

	recvWindow = "5000"
)

// positionEpsilon filters the dust rows positionRisk reports for symbols
// that were traded once and closed.
var positionEpsilon = decimal.New(1, -9)

// signer signs private endpoints the Binance way: HMAC-SHA256 over the
// encoded query string, appended as the signature parameter.
type signer struct {
	apiKey    string
	secretKey string
}

func (s *signer) SignRequest(req *http.Request) error {
	req.Header.Set("X-MBX-APIKEY", s.apiKey)

	q := req.URL.Query()
	if q.Get("timestamp") == "" {
		q.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	}
	if q.Get("recvWindow") == "" {
		q.Set("recvWindow", recvWindow)
	}

	mac := hmac.New(sha256.New, []byte(s.secretKey))
	mac.Write([]byte(q.Encode()))
	q.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	req.URL.RawQuery = q.Encode()

	return nil
}

// Exchange implements core.IExchangeAdapter against Binance USDT-M futures.
// One instance serves one authenticated account.
type Exchange struct {
	*base.Adapter

	public  *httpclient.Client // unsigned market-data endpoints
	limiter *rate.Limiter

	mu     sync.RWMutex
	limits map[string]*core.MarketLimits // keyed by canonical symbol
	steps  map[string]decimal.Decimal
}

// New builds an adapter for one Binance futures account. Connect must be
// called before any other method.
func New(cfg *config.ExchangeConfig, userID string, logger core.ILogger) *Exchange {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultFuturesURL
	}

	private := httpclient.NewClient(baseURL, 10*time.Second, &signer{
		apiKey:    cfg.APIKey.Value(),
		secretKey: cfg.SecretKey.Value(),
	})

	return &Exchange{
		Adapter: base.NewAdapter("binance", userID, private, logger),
		public:  httpclient.NewClient(baseURL, 10*time.Second, nil),
		limiter: rate.NewLimiter(rate.Limit(8), 16),
		limits:  make(map[string]*core.MarketLimits),
		steps:   make(map[string]decimal.Decimal),
	}
}

func (e *Exchange) Name() string   { return e.Adapter.Name }
func (e *Exchange) UserID() string { return e.Adapter.UserID }

// Connect verifies reachability and warms the symbol filter cache.
func (e *Exchange) Connect(ctx context.Context) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := e.public.Get(ctx, "/fapi/v1/ping", nil); err != nil {
		return fmt.Errorf("binance ping failed: %w", mapError(err))
	}
	if err := e.fetchExchangeInfo(ctx); err != nil {
		return fmt.Errorf("binance exchange info failed: %w", err)
	}

	e.MarkConnected()
	e.Logger.Info("connected", "markets", e.marketCount())
	return nil
}

func (e *Exchange) marketCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.limits)
}

// Close releases the adapter. Binance REST needs no teardown.
func (e *Exchange) Close(ctx context.Context) error {
	e.MarkClosed()
	return nil
}

// GetAccountValueUSDT returns the account equity: USDT wallet balance plus
// unrealized cross PnL.
func (e *Exchange) GetAccountValueUSDT(ctx context.Context) (decimal.Decimal, error) {
	if err := e.RequireConnected(); err != nil {
		return decimal.Zero, err
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	body, err := e.HTTP.Get(ctx, "/fapi/v2/balance", nil)
	if err != nil {
		return decimal.Zero, mapError(err)
	}

	var balances []struct {
		Asset      string `json:"asset"`
		Balance    string `json:"balance"`
		CrossUnPnl string `json:"crossUnPnl"`
	}
	if err := json.Unmarshal(body, &balances); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode balance response: %w", err)
	}

	for _, b := range balances {
		if b.Asset != "USDT" {
			continue
		}
		return e.ParseDecimal(b.Balance).Add(e.ParseDecimal(b.CrossUnPnl)), nil
	}
	return decimal.Zero, nil
}

// GetPositions returns open positions, optionally filtered to symbols
// (canonical form). Dust below the epsilon threshold is dropped.
func (e *Exchange) GetPositions(ctx context.Context, symbols ...string) ([]*core.Position, error) {
	if err := e.RequireConnected(); err != nil {
		return nil, err
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := map[string]string{}
	if len(symbols) == 1 {
		params["symbol"] = symbol.ToVenue(symbols[0])
	}

	body, err := e.HTTP.Get(ctx, "/fapi/v2/positionRisk", params)
	if err != nil {
		return nil, mapError(err)
	}

	var raw []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		UnRealizedProfit string `json:"unRealizedProfit"`
		LiquidationPrice string `json:"liquidationPrice"`
		Leverage         string `json:"leverage"`
		UpdateTime       int64  `json:"updateTime"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode positionRisk response: %w", err)
	}

	var wanted map[string]bool
	if len(symbols) > 1 {
		wanted = make(map[string]bool, len(symbols))
		for _, s := range symbols {
			wanted[symbol.Canonical(s)] = true
		}
	}

	positions := make([]*core.Position, 0, len(raw))
	for _, p := range raw {
		amt := e.ParseDecimal(p.PositionAmt)
		if amt.Abs().LessThanOrEqual(positionEpsilon) {
			continue
		}

		canonical := symbol.Canonical(p.Symbol)
		if wanted != nil && !wanted[canonical] {
			continue
		}

		side := core.PositionLong
		if amt.IsNegative() {
			side = core.PositionShort
		}

		rawJSON, _ := json.Marshal(p)
		positions = append(positions, &core.Position{
			Symbol:           canonical,
			Side:             side,
			Contracts:        amt.Abs(),
			EntryPrice:       e.ParseDecimal(p.EntryPrice),
			MarkPrice:        e.ParseDecimal(p.MarkPrice),
			Leverage:         e.ParseDecimal(p.Leverage),
			UnrealizedPnL:    e.ParseDecimal(p.UnRealizedProfit),
			LiquidationPrice: e.ParseDecimal(p.LiquidationPrice),
			TimestampMS:      p.UpdateTime,
			ExchangeID:       "binance",
			Raw:              rawJSON,
		})
	}

	return positions, nil
}

// GetTicker returns the last trade price, falling back to the mark price
// when the trade ticker is unavailable for the symbol.
func (e *Exchange) GetTicker(ctx context.Context, sym string) (*core.Ticker, error) {
	if err := e.RequireConnected(); err != nil {
		return nil, err
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	venue := symbol.ToVenue(sym)
	canonical := symbol.Canonical(sym)

	body, err := e.public.Get(ctx, "/fapi/v1/ticker/price", map[string]string{"symbol": venue})
	if err == nil {
		var res struct {
			Price string `json:"price"`
			Time  int64  `json:"time"`
		}
		if err := json.Unmarshal(body, &res); err != nil {
			return nil, fmt.Errorf("failed to decode ticker response: %w", err)
		}
		last := e.ParseDecimal(res.Price)
		if last.IsPositive() {
			return &core.Ticker{Symbol: canonical, Last: last, TimestampMS: res.Time}, nil
		}
	}

	body, err = e.public.Get(ctx, "/fapi/v1/premiumIndex", map[string]string{"symbol": venue})
	if err != nil {
		return nil, mapError(err)
	}
	var res struct {
		MarkPrice string `json:"markPrice"`
		Time      int64  `json:"time"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("failed to decode premiumIndex response: %w", err)
	}
	return &core.Ticker{Symbol: canonical, Mark: e.ParseDecimal(res.MarkPrice), TimestampMS: res.Time}, nil
}

// GetMarketLimits returns the LOT_SIZE and MIN_NOTIONAL filters for a symbol,
// refreshing the exchange info cache on a miss.
func (e *Exchange) GetMarketLimits(ctx context.Context, sym string) (*core.MarketLimits, error) {
	if err := e.RequireConnected(); err != nil {
		return nil, err
	}

	canonical := symbol.Canonical(sym)
	e.mu.RLock()
	limits, ok := e.limits[canonical]
	e.mu.RUnlock()
	if ok {
		return limits, nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := e.fetchExchangeInfo(ctx); err != nil {
		return nil, err
	}

	e.mu.RLock()
	limits, ok = e.limits[canonical]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, sym)
	}
	return limits, nil
}

// NormalizeAmount floors an amount to the symbol's lot step.
func (e *Exchange) NormalizeAmount(ctx context.Context, sym string, amount decimal.Decimal) (decimal.Decimal, error) {
	if _, err := e.GetMarketLimits(ctx, sym); err != nil {
		return decimal.Zero, err
	}

	canonical := symbol.Canonical(sym)
	e.mu.RLock()
	step := e.steps[canonical]
	e.mu.RUnlock()

	if !step.IsPositive() {
		return amount.Truncate(8), nil
	}
	return amount.Div(step).Floor().Mul(step), nil
}

func (e *Exchange) fetchExchangeInfo(ctx context.Context) error {
	body, err := e.public.Get(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return mapError(err)
	}

	var res struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Status  string `json:"status"`
			Filters []struct {
				FilterType  string `json:"filterType"`
				StepSize    string `json:"stepSize"`
				MinQty      string `json:"minQty"`
				MinNotional string `json:"notional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("failed to decode exchangeInfo response: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range res.Symbols {
		if s.Status != "" && s.Status != "TRADING" {
			continue
		}
		limits := &core.MarketLimits{}
		var step decimal.Decimal
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				limits.MinAmount = e.ParseDecimal(f.MinQty)
				step = e.ParseDecimal(f.StepSize)
				limits.AmountStep = step
			case "MIN_NOTIONAL":
				limits.MinCost = e.ParseDecimal(f.MinNotional)
			}
		}
		canonical := symbol.Canonical(s.Symbol)
		e.limits[canonical] = limits
		e.steps[canonical] = step
	}
	return nil
}

// newClientOrderID generates a client order ID inside the venue's
// ^[\.A-Z\:/a-z0-9_-]{1,36}$ constraint: 3-byte prefix plus 32 hex chars.
func newClientOrderID() string {
	u := uuid.New()
	return "ct-" + hex.EncodeToString(u[:])
}

// localReject builds a failed Order for requests that never reach the venue.
func (e *Exchange) localReject(req *core.OrderRequest, clientID, msg string) *core.Order {
	e.Logger.Warn("order rejected locally", "symbol", req.Symbol, "side", req.Side, "reason", msg)
	failed := core.FailedOrder(symbol.Canonical(req.Symbol), req.Side, req.Type, req.Amount, "binance", msg)
	failed.ClientOrderID = clientID
	failed.ReduceOnly = req.ReduceOnly
	failed.Details = req.Details
	return failed
}

// PlaceOrder submits one order. Business rejects (insufficient margin, filter
// violations) come back as a failed Order, not a Go error.
func (e *Exchange) PlaceOrder(ctx context.Context, req *core.OrderRequest) (*core.Order, error) {
	if err := e.RequireConnected(); err != nil {
		return nil, err
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	venue := symbol.ToVenue(req.Symbol)
	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = newClientOrderID()
	}

	// Price-bearing orders without a price are rejected here instead of
	// being sent to the venue with price=0.
	switch req.Type {
	case core.OrderTypeLimit, core.OrderTypePostOnly, core.OrderTypeStopLimit:
		if !req.Price.IsPositive() {
			return e.localReject(req, clientID, fmt.Sprintf("price required for %s order", req.Type)), nil
		}
	}
	if req.Type == core.OrderTypeStopLimit && !req.StopPrice.IsPositive() {
		return e.localReject(req, clientID, "stop price required for stop_limit order"), nil
	}

	params := map[string]string{
		"symbol":           venue,
		"quantity":         req.Amount.String(),
		"newClientOrderId": clientID,
		"newOrderRespType": "RESULT",
	}

	switch req.Side {
	case core.SideBuy:
		params["side"] = "BUY"
	case core.SideSell:
		params["side"] = "SELL"
	default:
		return nil, fmt.Errorf("%w: side %q", apperrors.ErrInvalidOrderParameter, req.Side)
	}

	switch req.Type {
	case core.OrderTypeMarket:
		params["type"] = "MARKET"
	case core.OrderTypeLimit:
		params["type"] = "LIMIT"
		params["price"] = req.Price.String()
		params["timeInForce"] = "GTC"
	case core.OrderTypePostOnly:
		// GTX rests the order or cancels it, never takes.
		params["type"] = "LIMIT"
		params["price"] = req.Price.String()
		params["timeInForce"] = "GTX"
	case core.OrderTypeStopLimit:
		params["type"] = "STOP"
		params["price"] = req.Price.String()
		params["stopPrice"] = req.StopPrice.String()
		params["timeInForce"] = "GTC"
	default:
		return nil, fmt.Errorf("%w: type %q", apperrors.ErrInvalidOrderParameter, req.Type)
	}

	if req.ReduceOnly {
		params["reduceOnly"] = "true"
	}

	body, err := e.HTTP.Post(ctx, "/fapi/v1/order", params)
	if err != nil {
		mapped := mapError(err)
		if errors.Is(mapped, apperrors.ErrDuplicateOrder) {
			if existing, fetchErr := e.getOrder(ctx, venue, clientID); fetchErr == nil {
				return e.toOrder(existing, req), nil
			}
		}
		if isOrderBusinessReject(err, mapped) {
			e.Logger.Warn("order rejected", "symbol", req.Symbol, "side", req.Side, "error", mapped)
			failed := core.FailedOrder(symbol.Canonical(req.Symbol), req.Side, req.Type, req.Amount, "binance", mapped.Error())
			failed.ClientOrderID = clientID
			failed.ReduceOnly = req.ReduceOnly
			failed.Details = req.Details
			return failed, nil
		}
		return nil, mapped
	}

	var raw rawOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}
	return e.toOrder(&raw, req), nil
}

type rawOrder struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	Price         string `json:"price"`
	AvgPrice      string `json:"avgPrice"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	ReduceOnly    bool   `json:"reduceOnly"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	UpdateTime    int64  `json:"updateTime"`
}

func (e *Exchange) toOrder(raw *rawOrder, req *core.OrderRequest) *core.Order {
	rawJSON, _ := json.Marshal(raw)
	return &core.Order{
		ID:            strconv.FormatInt(raw.OrderID, 10),
		ClientOrderID: raw.ClientOrderID,
		Symbol:        symbol.Canonical(raw.Symbol),
		Side:          req.Side,
		Type:          req.Type,
		Amount:        e.ParseDecimal(raw.OrigQty),
		Price:         e.ParseDecimal(raw.Price),
		Filled:        e.ParseDecimal(raw.ExecutedQty),
		AveragePrice:  e.ParseDecimal(raw.AvgPrice),
		Status:        mapOrderStatus(raw.Status),
		ReduceOnly:    raw.ReduceOnly || req.ReduceOnly,
		TimestampMS:   raw.UpdateTime,
		ExchangeID:    "binance",
		Details:       req.Details,
		Raw:           rawJSON,
	}
}

func (e *Exchange) getOrder(ctx context.Context, venueSymbol, clientOrderID string) (*rawOrder, error) {
	body, err := e.HTTP.Get(ctx, "/fapi/v1/order", map[string]string{
		"symbol":            venueSymbol,
		"origClientOrderId": clientOrderID,
	})
	if err != nil {
		return nil, mapError(err)
	}
	var raw rawOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}
	return &raw, nil
}

// CancelOrder cancels an open order by venue order ID.
func (e *Exchange) CancelOrder(ctx context.Context, orderID, sym string) error {
	if err := e.RequireConnected(); err != nil {
		return err
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := e.HTTP.Delete(ctx, "/fapi/v1/order", map[string]string{
		"symbol":  symbol.ToVenue(sym),
		"orderId": orderID,
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

// SetLeverage sets the margin mode and leverage for a symbol. The margin
// mode call reporting "no need to change" counts as success.
func (e *Exchange) SetLeverage(ctx context.Context, sym string, leverage int, mode core.MarginMode) error {
	if err := e.RequireConnected(); err != nil {
		return err
	}
	if leverage < 1 {
		return fmt.Errorf("%w: leverage %d", apperrors.ErrInvalidOrderParameter, leverage)
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}

	venue := symbol.ToVenue(sym)

	marginType := "ISOLATED"
	if mode == core.MarginCross {
		marginType = "CROSSED"
	}
	_, err := e.HTTP.Post(ctx, "/fapi/v1/marginType", map[string]string{
		"symbol":     venue,
		"marginType": marginType,
	})
	if err != nil && !isMarginTypeNoop(err) {
		return fmt.Errorf("failed to set margin type for %s: %w", sym, mapError(err))
	}

	_, err = e.HTTP.Post(ctx, "/fapi/v1/leverage", map[string]string{
		"symbol":   venue,
		"leverage": strconv.Itoa(leverage),
	})
	if err != nil {
		return fmt.Errorf("failed to set leverage for %s: %w", sym, mapError(err))
	}
	return nil
}

// StartMarkPriceStream subscribes to the mark price stream for a symbol and
// feeds updates to the callback. Used for low-latency drift checks.
func (e *Exchange) StartMarkPriceStream(ctx context.Context, sym string, callback func(mark decimal.Decimal, timestampMS int64)) {
	wsURL := defaultFuturesWS
	streamURL := fmt.Sprintf("%s/%s@markPrice", wsURL, strings.ToLower(symbol.ToVenue(sym)))

	e.StartWebSocketStream(ctx, streamURL, func(message []byte) {
		var event struct {
			EventTime int64  `json:"E"`
			MarkPrice string `json:"p"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			e.Logger.Error("failed to unmarshal mark price update", "error", err)
			return
		}
		callback(e.ParseDecimal(event.MarkPrice), event.EventTime)
	}, nil, "MarkPriceStream")
}

type apiBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// mapError translates Binance error codes to standard sentinels so callers
// can branch without knowing venue codes.
func mapError(err error) error {
	var apiErr *httpclient.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	var body apiBody
	if jsonErr := json.Unmarshal(apiErr.Body, &body); jsonErr != nil {
		return err
	}

	switch body.Code {
	case -2014, -2015:
		return fmt.Errorf("%w: %s", apperrors.ErrAuthenticationFailed, body.Msg)
	case -2010, -2019:
		return fmt.Errorf("%w: %s", apperrors.ErrInsufficientFunds, body.Msg)
	case -1003, -1015:
		return fmt.Errorf("%w: %s", apperrors.ErrRateLimitExceeded, body.Msg)
	case -1121:
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, body.Msg)
	case -2012, -4015:
		return fmt.Errorf("%w: %s", apperrors.ErrDuplicateOrder, body.Msg)
	case -2013:
		return fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, body.Msg)
	case -1021:
		return fmt.Errorf("%w: %s", apperrors.ErrTimestampOutOfBounds, body.Msg)
	case -1111, -1013, -4003, -4164:
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidOrderParameter, body.Msg)
	case -2021, -2022:
		return fmt.Errorf("%w: %s", apperrors.ErrOrderRejected, body.Msg)
	}
	return fmt.Errorf("binance error %d: %s", body.Code, body.Msg)
}

// isMarginTypeNoop reports the -4046 "No need to change margin type" reply,
// which means the symbol is already in the requested mode.
func isMarginTypeNoop(err error) bool {
	var apiErr *httpclient.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	var body apiBody
	if jsonErr := json.Unmarshal(apiErr.Body, &body); jsonErr != nil {
		return false
	}
	return body.Code == -4046
}

// isBusinessReject reports errors that mean the venue understood the order
// and said no. These become failed orders rather than Go errors.
func isBusinessReject(err error) bool {
	return errors.Is(err, apperrors.ErrInsufficientFunds) ||
		errors.Is(err, apperrors.ErrInvalidOrderParameter) ||
		errors.Is(err, apperrors.ErrOrderRejected) ||
		errors.Is(err, apperrors.ErrInvalidSymbol)
}

// isOrderBusinessReject widens isBusinessReject for the order endpoint: the
// venue's error catalog is larger than mapError enumerates, and any 4xx
// reply to an order it parsed means the order was refused. Auth, rate-limit
// and clock errors stay Go errors so callers can react to them.
func isOrderBusinessReject(raw, mapped error) bool {
	if isBusinessReject(mapped) {
		return true
	}
	if errors.Is(mapped, apperrors.ErrAuthenticationFailed) ||
		errors.Is(mapped, apperrors.ErrRateLimitExceeded) ||
		errors.Is(mapped, apperrors.ErrTimestampOutOfBounds) ||
		errors.Is(mapped, apperrors.ErrDuplicateOrder) ||
		errors.Is(mapped, apperrors.ErrOrderNotFound) {
		return false
	}
	var apiErr *httpclient.APIError
	if !errors.As(raw, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}

func mapOrderStatus(raw string) core.OrderStatus {
	switch raw {
	case "NEW", "PARTIALLY_FILLED":
		return core.OrderStatusOpen
	case "FILLED":
		return core.OrderStatusClosed
	case "CANCELED", "EXPIRED":
		return core.OrderStatusCanceled
	case "REJECTED":
		return core.OrderStatusFailed
	default:
		return core.OrderStatusUnknown
	}
}
