// Package binance implements the spot reference-price feed: a WebSocket
// client for the public trade stream, normalized into domain.PricePoint
// ticks.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mkarlin/updownbot/internal/domain"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// TradeHandler is called for every trade tick on the subscribed symbol.
type TradeHandler func(domain.PricePoint)

// StateHandler is called on disconnect and after a successful reconnect.
type StateHandler func()

// tradeMessage is the raw trade stream payload.
type tradeMessage struct {
	Event     string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	TradeTime int64  `json:"T"` // milliseconds
}

// WSClient streams trades for one symbol from the exchange's public
// WebSocket API.
type WSClient struct {
	baseURL string
	symbol  string

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	handlerMu     sync.RWMutex
	tradeHandlers []TradeHandler
	onDisconnect  []StateHandler
	onReconnect   []StateHandler

	done chan struct{}
}

// NewWSClient creates a client for the given stream base URL (e.g.
// "wss://stream.binance.com:9443/ws") and lowercase symbol ("btcusdt").
func NewWSClient(baseURL, symbol string) *WSClient {
	return &WSClient{
		baseURL: baseURL,
		symbol:  symbol,
		done:    make(chan struct{}),
	}
}

// Connect dials the per-symbol trade stream and starts the read and ping
// loops. The stream needs no explicit subscription: the endpoint path
// selects it.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("binance/ws: %w", domain.ErrFeedDown)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	url := fmt.Sprintf("%s/%s@trade", w.baseURL, w.symbol)
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("binance/ws: connect: %w", err)
	}
	w.conn = conn

	_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	// The server also pings; answering keeps the read deadline moving.
	w.conn.SetPingHandler(func(appData string) error {
		_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return w.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	go w.readLoop(conn)
	go w.pingLoop(conn)
	return nil
}

// OnTrade registers a handler for normalized trade ticks.
func (w *WSClient) OnTrade(handler TradeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.tradeHandlers = append(w.tradeHandlers, handler)
}

// OnDisconnect registers a handler invoked when the connection drops.
func (w *WSClient) OnDisconnect(handler StateHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.onDisconnect = append(w.onDisconnect, handler)
}

// OnReconnect registers a handler invoked after a successful reconnect.
func (w *WSClient) OnReconnect(handler StateHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.onReconnect = append(w.onReconnect, handler)
}

// Close shuts down the connection and stops the loops.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}
	return nil
}

func (w *WSClient) readLoop(conn *websocket.Conn) {
	for {
		select {
		case <-w.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			select {
			case <-w.done:
				return
			default:
			}
			w.fire(w.disconnectHandlers())
			w.reconnect()
			return
		}
		w.handleMessage(message)
	}
}

func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (w *WSClient) handleMessage(raw []byte) {
	var msg tradeMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Event != "trade" {
		return
	}
	price, err := strconv.ParseFloat(msg.Price, 64)
	if err != nil || price <= 0 {
		return
	}

	point := domain.PricePoint{
		Price: price,
		Time:  time.UnixMilli(msg.TradeTime),
	}

	w.handlerMu.RLock()
	handlers := w.tradeHandlers
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		h(point)
	}
}

// reconnect re-dials with exponential backoff and jitter, then fires the
// reconnect handlers. Blocks until connected or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectBase

	for {
		select {
		case <-w.done:
			return
		case <-time.After(jitter(delay)):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			w.fire(w.reconnectHandlers())
			return
		}

		delay *= 2
		if delay > reconnectMax {
			delay = reconnectMax
		}
	}
}

func (w *WSClient) disconnectHandlers() []StateHandler {
	w.handlerMu.RLock()
	defer w.handlerMu.RUnlock()
	return w.onDisconnect
}

func (w *WSClient) reconnectHandlers() []StateHandler {
	w.handlerMu.RLock()
	defer w.handlerMu.RUnlock()
	return w.onReconnect
}

func (w *WSClient) fire(handlers []StateHandler) {
	for _, h := range handlers {
		h()
	}
}

func jitter(d time.Duration) time.Duration {
	f := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * f)
}
