package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mkarlin/updownbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectBase and reconnectMax bound the exponential backoff.
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// BookHandler is called for every full orderbook snapshot received on the
// book channel.
type BookHandler func(BookMessage)

// StateHandler is called on disconnect and after a successful reconnect, so
// the feed layer can mark and unmark market staleness.
type StateHandler func()

// WSClient is a WebSocket client for the venue's market data feed. It
// manages the connection lifecycle, resubscribes after reconnects, and
// dispatches book snapshots to registered handlers.
type WSClient struct {
	wsURL string

	mu            sync.RWMutex
	conn          *websocket.Conn
	closed        bool
	subscriptions []WSCommand

	handlerMu    sync.RWMutex
	bookHandlers []BookHandler
	onDisconnect []StateHandler
	onReconnect  []StateHandler

	done chan struct{}
}

// NewWSClient creates a client for the given market-data WebSocket URL.
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops. Previously-registered subscriptions are restored.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("polymarket/ws: %w", domain.ErrFeedDown)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}
	w.conn = conn

	_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go w.readLoop(conn)
	go w.pingLoop(conn)

	for _, cmd := range w.subscriptions {
		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("polymarket/ws: restore subscription: %w", err)
		}
	}
	return nil
}

// SubscribeBooks subscribes to orderbook snapshots for the given outcome
// tokens. The subscription survives reconnects.
func (w *WSClient) SubscribeBooks(assetIDs ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("polymarket/ws: not connected")
	}

	cmd := WSCommand{Type: "subscribe", Channel: "book", Assets: assetIDs}
	if err := w.sendCommand(cmd); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe books: %w", err)
	}
	w.subscriptions = append(w.subscriptions, cmd)
	return nil
}

// UnsubscribeBooks drops the book subscription for the given tokens.
func (w *WSClient) UnsubscribeBooks(assetIDs ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("polymarket/ws: not connected")
	}

	cmd := WSCommand{Type: "unsubscribe", Channel: "book", Assets: assetIDs}
	if err := w.sendCommand(cmd); err != nil {
		return fmt.Errorf("polymarket/ws: unsubscribe books: %w", err)
	}

	drop := make(map[string]struct{}, len(assetIDs))
	for _, a := range assetIDs {
		drop[a] = struct{}{}
	}
	filtered := w.subscriptions[:0]
	for _, sub := range w.subscriptions {
		remaining := make([]string, 0, len(sub.Assets))
		for _, a := range sub.Assets {
			if _, gone := drop[a]; !gone {
				remaining = append(remaining, a)
			}
		}
		if len(remaining) > 0 {
			sub.Assets = remaining
			filtered = append(filtered, sub)
		}
	}
	w.subscriptions = filtered
	return nil
}

// OnBook registers a handler for full orderbook snapshots.
func (w *WSClient) OnBook(handler BookHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.bookHandlers = append(w.bookHandlers, handler)
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

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendCommand sends a JSON command. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd WSCommand) error {
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads and dispatches messages for one connection generation. On
// transport failure it fires the disconnect handlers and hands off to
// reconnect.
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

// pingLoop keeps one connection generation alive.
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

// handleMessage routes one raw frame. The feed only consumes full book
// snapshots; other message types are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope struct {
		MsgType string `json:"msg_type"`
		Event   string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}
	msgType := envelope.MsgType
	if msgType == "" {
		msgType = envelope.Event
	}
	if msgType != "book" {
		return
	}

	var book BookMessage
	if err := json.Unmarshal(raw, &book); err != nil {
		return
	}

	w.handlerMu.RLock()
	handlers := w.bookHandlers
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		h(book)
	}
}

// reconnect re-establishes the connection with exponential backoff and
// jitter, then fires the reconnect handlers. Blocks until connected or the
// client is closed.
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

// jitter spreads a delay +-20% so a fleet of clients does not reconnect in
// lockstep.
func jitter(d time.Duration) time.Duration {
	f := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * f)
}
