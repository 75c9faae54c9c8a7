package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"okx-scalper/internal/domain"
)

// LiveBaseURL is OKX's v5 REST endpoint. Demo trading uses
// the same host with an `x-simulated-trading: 1` header rather than a
// separate URL.
const (
	LiveBaseURL = "https://www.okx.com"
)

// Credentials is the API key triple OKX's v5 signing scheme requires.
type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
}

// OKXConfig configures the concrete REST client.
type OKXConfig struct {
	BaseURL     string
	Demo        bool
	Credentials Credentials
}

// OKXClient is the concrete exchange.Client talking to OKX's v5 REST API.
// Every call signs the request per OKX's HMAC-SHA256 scheme: the signature
// covers timestamp+method+requestPath+body, base64-encoded.
type OKXClient struct {
	baseURL string
	demo    bool
	creds   Credentials
	http    *http.Client
}

// NewOKXClient builds a client ready to make signed and public calls.
func NewOKXClient(cfg OKXConfig) *OKXClient {
	base := cfg.BaseURL
	if base == "" {
		base = LiveBaseURL
	}
	return &OKXClient{
		baseURL: base,
		demo:    cfg.Demo,
		creds:   cfg.Credentials,
		http:    &http.Client{Timeout: DefaultCallTimeout},
	}
}

func (c *OKXClient) sign(method, requestPath, body string) (timestamp, signature string) {
	timestamp = time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	mac := hmac.New(sha256.New, []byte(c.creds.SecretKey))
	mac.Write([]byte(timestamp + method + requestPath + body))
	signature = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return
}

func (c *OKXClient) do(ctx context.Context, method, path string, query url.Values, body interface{}, signed bool) ([]byte, error) {
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	var bodyBytes []byte
	var err error
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("exchange: marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("exchange: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.demo {
		req.Header.Set("x-simulated-trading", "1")
	}

	if signed {
		timestamp, signature := c.sign(method, requestPath, string(bodyBytes))
		req.Header.Set("OK-ACCESS-KEY", c.creds.APIKey)
		req.Header.Set("OK-ACCESS-SIGN", signature)
		req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
		req.Header.Set("OK-ACCESS-PASSPHRASE", c.creds.Passphrase)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("exchange: read response: %w", err)
	}

	var env okxEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("exchange: decode response: %w", err)
	}
	if env.Code != "" && env.Code != "0" {
		kind := ClassifyCode(env.Code)
		return nil, &Error{Kind: kind, Code: env.Code, Message: env.Msg, Retryable: kind == KindRateLimited || kind == KindTransient}
	}
	return env.Data, nil
}

// okxEnvelope matches OKX v5's uniform response shape. Data is kept raw so
// each caller can decode into its own element type.
type okxEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *OKXClient) GetKlines(ctx context.Context, symbol, tf string, limit int) ([]domain.Candle, error) {
	q := url.Values{"instId": {symbol}, "bar": {okxBar(tf)}, "limit": {strconv.Itoa(limit)}}
	data, err := c.do(ctx, http.MethodGet, "/api/v5/market/candles", q, nil, false)
	if err != nil {
		return nil, err
	}
	var rows [][]string
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("exchange: decode klines: %w", err)
	}

	candles := make([]domain.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 9 {
			continue
		}
		openMs, _ := strconv.ParseInt(row[0], 10, 64)
		candles = append(candles, domain.Candle{
			Symbol:   symbol,
			OpenTime: time.UnixMilli(openMs).UTC(),
			Open:     parseFloat(row[1]),
			High:     parseFloat(row[2]),
			Low:      parseFloat(row[3]),
			Close:    parseFloat(row[4]),
			Volume:   parseFloat(row[5]),
			Closed:   row[8] == "1",
		})
	}
	return candles, nil
}

func (c *OKXClient) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	q := url.Values{"instId": {symbol}}
	data, err := c.do(ctx, http.MethodGet, "/api/v5/market/ticker", q, nil, false)
	if err != nil {
		return domain.Ticker{}, err
	}
	var rows []struct {
		Last string `json:"last"`
		Bid  string `json:"bidPx"`
		Ask  string `json:"askPx"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return domain.Ticker{}, fmt.Errorf("exchange: decode ticker: %w", err)
	}
	if len(rows) == 0 {
		return domain.Ticker{}, fmt.Errorf("exchange: no ticker rows for %s", symbol)
	}
	return domain.Ticker{
		Last: parseFloat(rows[0].Last),
		Bid:  parseFloat(rows[0].Bid),
		Ask:  parseFloat(rows[0].Ask),
	}, nil
}

func (c *OKXClient) GetOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	q := url.Values{"instId": {symbol}, "sz": {strconv.Itoa(depth)}}
	data, err := c.do(ctx, http.MethodGet, "/api/v5/market/books", q, nil, false)
	if err != nil {
		return domain.OrderBook{}, err
	}
	var rows []struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
		TS   string     `json:"ts"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return domain.OrderBook{}, fmt.Errorf("exchange: decode order book: %w", err)
	}
	if len(rows) == 0 {
		return domain.OrderBook{}, fmt.Errorf("exchange: no order book rows for %s", symbol)
	}

	book := domain.OrderBook{Symbol: symbol}
	for _, b := range rows[0].Bids {
		if len(b) < 2 {
			continue
		}
		book.Bids = append(book.Bids, domain.OrderBookLevel{Price: parseFloat(b[0]), Size: parseFloat(b[1])})
	}
	for _, a := range rows[0].Asks {
		if len(a) < 2 {
			continue
		}
		book.Asks = append(book.Asks, domain.OrderBookLevel{Price: parseFloat(a[0]), Size: parseFloat(a[1])})
	}
	if msInt, err := strconv.ParseInt(rows[0].TS, 10, 64); err == nil {
		book.Timestamp = time.UnixMilli(msInt).UTC()
	}
	return book, nil
}

func (c *OKXClient) SetLeverage(ctx context.Context, symbol string, leverage int, mode MarginMode) error {
	body := map[string]string{
		"instId":  symbol,
		"lever":   strconv.Itoa(leverage),
		"mgnMode": string(mode),
	}
	_, err := c.do(ctx, http.MethodPost, "/api/v5/account/set-leverage", nil, body, true)
	return err
}

func (c *OKXClient) PlaceOrder(ctx context.Context, params OrderParams) (OrderResult, error) {
	body := map[string]string{
		"instId":  params.Symbol,
		"tdMode":  string(MarginIsolated),
		"side":    string(params.Side),
		"ordType": okxOrderType(params.Type, params.PostOnly),
		"sz":      strconv.FormatFloat(params.Quantity, 'f', -1, 64),
	}
	if params.Type == OrderLimit {
		body["px"] = strconv.FormatFloat(params.Price, 'f', -1, 64)
	}
	if params.ReduceOnly {
		body["reduceOnly"] = "true"
	}

	data, err := c.do(ctx, http.MethodPost, "/api/v5/trade/order", nil, body, true)
	if err != nil {
		return OrderResult{}, err
	}
	var rows []struct {
		OrdID   string `json:"ordId"`
		SCode   string `json:"sCode"`
		SMsg    string `json:"sMsg"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return OrderResult{}, fmt.Errorf("exchange: decode place order response: %w", err)
	}
	if len(rows) == 0 {
		return OrderResult{}, fmt.Errorf("exchange: empty place order response")
	}
	if rows[0].SCode != "" && rows[0].SCode != "0" {
		kind := ClassifyCode(rows[0].SCode)
		return OrderResult{}, &Error{Kind: kind, Code: rows[0].SCode, Message: rows[0].SMsg, Retryable: kind == KindTransient}
	}

	return c.GetOrder(ctx, params.Symbol, rows[0].OrdID)
}

func (c *OKXClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]string{"instId": symbol, "ordId": orderID}
	_, err := c.do(ctx, http.MethodPost, "/api/v5/trade/cancel-order", nil, body, true)
	return err
}

func (c *OKXClient) GetOrder(ctx context.Context, symbol, orderID string) (OrderResult, error) {
	q := url.Values{"instId": {symbol}, "ordId": {orderID}}
	data, err := c.do(ctx, http.MethodGet, "/api/v5/trade/order", q, nil, true)
	if err != nil {
		return OrderResult{}, err
	}
	var rows []struct {
		OrdID   string `json:"ordId"`
		State   string `json:"state"`
		AvgPx   string `json:"avgPx"`
		AccFillSz string `json:"accFillSz"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return OrderResult{}, fmt.Errorf("exchange: decode order: %w", err)
	}
	if len(rows) == 0 {
		return OrderResult{}, fmt.Errorf("exchange: order %s not found", orderID)
	}
	return OrderResult{
		OrderID:   rows[0].OrdID,
		Status:    okxOrderStatus(rows[0].State),
		FillPrice: parseFloat(rows[0].AvgPx),
		FillQty:   parseFloat(rows[0].AccFillSz),
	}, nil
}

func (c *OKXClient) GetBalance(ctx context.Context) (Balance, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/v5/account/balance", nil, nil, true)
	if err != nil {
		return Balance{}, err
	}
	var rows []struct {
		TotalEq string `json:"totalEq"`
		Details []struct {
			Ccy       string `json:"ccy"`
			AvailEq   string `json:"availEq"`
			Eq        string `json:"eq"`
		} `json:"details"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return Balance{}, fmt.Errorf("exchange: decode balance: %w", err)
	}
	if len(rows) == 0 {
		return Balance{}, fmt.Errorf("exchange: empty balance response")
	}

	bal := Balance{Equity: parseFloat(rows[0].TotalEq)}
	for _, d := range rows[0].Details {
		if d.Ccy == "USDT" {
			bal.Available = parseFloat(d.AvailEq)
			break
		}
	}
	return bal, nil
}

func (c *OKXClient) GetPositions(ctx context.Context) ([]PositionSnapshot, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/v5/account/positions", url.Values{"instType": {"SWAP"}}, nil, true)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		InstID   string `json:"instId"`
		PosSide  string `json:"posSide"`
		Pos      string `json:"pos"`
		AvgPx    string `json:"avgPx"`
		Lever    string `json:"lever"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("exchange: decode positions: %w", err)
	}

	out := make([]PositionSnapshot, 0, len(rows))
	for _, r := range rows {
		qty := parseFloat(r.Pos)
		if qty == 0 {
			continue
		}
		side := domain.SideLong
		if qty < 0 || r.PosSide == "short" {
			side = domain.SideShort
		}
		lev, _ := strconv.Atoi(r.Lever)
		out = append(out, PositionSnapshot{
			Symbol:     r.InstID,
			Side:       side,
			Quantity:   absFloat(qty),
			EntryPrice: parseFloat(r.AvgPx),
			Leverage:   lev,
		})
	}
	return out, nil
}

func (c *OKXClient) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{"instId": {symbol}}
	data, err := c.do(ctx, http.MethodGet, "/api/v5/public/funding-rate", q, nil, false)
	if err != nil {
		return 0, err
	}
	var rows []struct {
		FundingRate string `json:"fundingRate"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return 0, fmt.Errorf("exchange: decode funding rate: %w", err)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("exchange: no funding rate rows for %s", symbol)
	}
	return parseFloat(rows[0].FundingRate), nil
}

func okxBar(tf string) string {
	return strings.ToLower(tf)
}

func okxOrderType(t OrderType, postOnly bool) string {
	if t == OrderLimit {
		if postOnly {
			return "post_only"
		}
		return "limit"
	}
	return "market"
}

func okxOrderStatus(state string) OrderStatus {
	switch state {
	case "filled":
		return OrderStatusFilled
	case "partially_filled":
		return OrderStatusPartial
	case "canceled":
		return OrderStatusCanceled
	case "live":
		return OrderStatusNew
	default:
		return OrderStatusRejected
	}
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
