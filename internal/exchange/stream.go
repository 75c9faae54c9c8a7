package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"okx-scalper/internal/domain"
	"okx-scalper/internal/logging"
)

// StreamChannel names one of the four WS subscription channels spec.md §6
// requires: tickers, candles:<tf>, orders, positions.
type StreamChannel string

const (
	ChannelTickers   StreamChannel = "tickers"
	ChannelOrders    StreamChannel = "orders"
	ChannelPositions StreamChannel = "positions"
)

// CandleChannel builds the "candles:<tf>" channel name.
func CandleChannel(tf string) StreamChannel {
	return StreamChannel(fmt.Sprintf("candles:%s", tf))
}

// TickHandler receives a live tick pushed on the tickers channel.
type TickHandler func(domain.Tick)

// CandleHandler receives a closed (or in-progress) candle on a candles:<tf> channel.
type CandleHandler func(tf string, candle domain.Candle)

// OrderUpdateHandler receives an order status change.
type OrderUpdateHandler func(symbol, orderID string, status OrderStatus, fillPrice, fillQty float64)

// PositionUpdateHandler receives an exchange-side position update, used for
// reconciliation against the Position Registry.
type PositionUpdateHandler func(PositionSnapshot)

// Stream manages one WebSocket connection to the exchange's market and
// user-data streams, reconnecting with exponential backoff on drop.
type Stream struct {
	url string

	mu            sync.Mutex
	conn          *websocket.Conn
	subscriptions map[StreamChannel][]string // channel -> symbols

	onTick     TickHandler
	onCandle   CandleHandler
	onOrder    OrderUpdateHandler
	onPosition PositionUpdateHandler

	log *logging.Logger

	done   chan struct{}
	closed bool
}

// NewStream creates a Stream for the given WebSocket endpoint. Handlers may
// be set before or after Connect; a nil handler silently drops that
// channel's messages.
func NewStream(wsURL string) *Stream {
	return &Stream{
		url:           wsURL,
		subscriptions: make(map[StreamChannel][]string),
		log:           logging.WithComponent("exchange.stream"),
		done:          make(chan struct{}),
	}
}

func (s *Stream) OnTick(fn TickHandler)         { s.onTick = fn }
func (s *Stream) OnCandle(fn CandleHandler)     { s.onCandle = fn }
func (s *Stream) OnOrder(fn OrderUpdateHandler) { s.onOrder = fn }
func (s *Stream) OnPosition(fn PositionUpdateHandler) { s.onPosition = fn }

// Subscribe registers a channel/symbols pair to be (re-)subscribed on every
// connection attempt, including reconnects.
func (s *Stream) Subscribe(channel StreamChannel, symbols ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[channel] = append(s.subscriptions[channel], symbols...)
}

// Connect dials the stream and subscribes to every registered channel. On
// an unexpected close it reconnects with exponential backoff until Close is
// called.
func (s *Stream) Connect(ctx context.Context) error {
	if err := s.dialAndSubscribe(); err != nil {
		return err
	}
	go s.readLoop(ctx)
	go s.pingLoop(ctx)
	return nil
}

func (s *Stream) dialAndSubscribe() error {
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	subs := make(map[StreamChannel][]string, len(s.subscriptions))
	for ch, syms := range s.subscriptions {
		subs[ch] = syms
	}
	s.mu.Unlock()

	for channel, symbols := range subs {
		msg := map[string]interface{}{
			"op": "subscribe",
			"args": []map[string]string{
				{"channel": string(channel), "instIds": joinSymbols(symbols)},
			},
		}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", channel, err)
		}
	}
	return nil
}

func joinSymbols(symbols []string) string {
	out := ""
	for i, s := range symbols {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

func (s *Stream) readLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			default:
			}
			s.log.WithError(err).Warn("stream disconnected, reconnecting")
			s.reconnect(ctx)
			continue
		}
		s.dispatch(message)
	}
}

func (s *Stream) reconnect(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0 // retry indefinitely until Close
	b.MaxInterval = 30 * time.Second

	_ = backoff.Retry(func() error {
		select {
		case <-s.done:
			return backoff.Permanent(fmt.Errorf("stream closed"))
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		default:
		}
		if err := s.dialAndSubscribe(); err != nil {
			s.log.WithError(err).Warn("stream reconnect attempt failed")
			return err
		}
		s.log.Info("stream reconnected")
		return nil
	}, b)
}

type streamEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

func (s *Stream) dispatch(message []byte) {
	var env streamEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return
	}

	switch {
	case env.Channel == string(ChannelTickers):
		if s.onTick == nil {
			return
		}
		var tick domain.Tick
		if err := json.Unmarshal(env.Data, &tick); err == nil {
			s.onTick(tick)
		}
	case env.Channel == string(ChannelOrders):
		if s.onOrder == nil {
			return
		}
		var upd struct {
			Symbol    string  `json:"symbol"`
			OrderID   string  `json:"orderId"`
			Status    string  `json:"status"`
			FillPrice float64 `json:"fillPrice"`
			FillQty   float64 `json:"fillQty"`
		}
		if err := json.Unmarshal(env.Data, &upd); err == nil {
			s.onOrder(upd.Symbol, upd.OrderID, OrderStatus(upd.Status), upd.FillPrice, upd.FillQty)
		}
	case env.Channel == string(ChannelPositions):
		if s.onPosition == nil {
			return
		}
		var pos PositionSnapshot
		if err := json.Unmarshal(env.Data, &pos); err == nil {
			s.onPosition(pos)
		}
	case len(env.Channel) > 8 && env.Channel[:8] == "candles:":
		if s.onCandle == nil {
			return
		}
		tf := env.Channel[8:]
		var candle domain.Candle
		if err := json.Unmarshal(env.Data, &candle); err == nil {
			s.onCandle(tf, candle)
		}
	}
}

func (s *Stream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if conn != nil {
				_ = conn.WriteMessage(websocket.PingMessage, nil)
			}
		}
	}
}

// Close tears down the stream connection and stops reconnect attempts.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// ParseWSURL validates a configured WebSocket endpoint at startup.
func ParseWSURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid websocket url: %w", err)
	}
	if u.Scheme != "wss" && u.Scheme != "ws" {
		return "", fmt.Errorf("websocket url must use ws:// or wss://, got %q", u.Scheme)
	}
	return u.String(), nil
}
