package derivex

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/pumpshort/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// eventBuffer bounds the inbound event channel.
	eventBuffer = 256
)

// Conn is one live exchange connection. The subscription manager owns the
// lifecycle: it dials, consumes Events until an Err event, and reconnects.
// Implementations must deliver events in wire arrival order.
type Conn interface {
	Subscribe(ctx context.Context, channel Channel, symbol string) error
	Unsubscribe(ctx context.Context, channel Channel, symbol string) error
	RequestSnapshot(ctx context.Context, symbol string) error
	Events() <-chan Event
	Close() error
}

// WSConn is the gorilla/websocket implementation of Conn.
type WSConn struct {
	conn   *websocket.Conn
	events chan Event

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the exchange WebSocket endpoint and starts the read and
// keep-alive loops.
func Dial(ctx context.Context, wsURL string) (*WSConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("derivex: connect: %w", err)
	}

	w := &WSConn{
		conn:   conn,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()
	return w, nil
}

// Subscribe sends one channel-subscribe command for the symbol. The exchange
// acknowledges asynchronously with a Confirmation event.
func (w *WSConn) Subscribe(ctx context.Context, channel Channel, symbol string) error {
	return w.send(Command{Op: "subscribe", Channel: string(channel), Symbol: symbol})
}

// Unsubscribe sends one channel-unsubscribe command for the symbol.
func (w *WSConn) Unsubscribe(ctx context.Context, channel Channel, symbol string) error {
	return w.send(Command{Op: "unsubscribe", Channel: string(channel), Symbol: symbol})
}

// RequestSnapshot asks for a full order-book snapshot over this connection.
func (w *WSConn) RequestSnapshot(ctx context.Context, symbol string) error {
	return w.send(Command{Op: "snapshot", Symbol: symbol})
}

// Events returns the inbound event stream. The channel is closed after an
// Err event once the connection is finished.
func (w *WSConn) Events() <-chan Event { return w.events }

// Close shuts the connection down. Safe to call multiple times.
func (w *WSConn) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.writeMu.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		w.writeMu.Unlock()
		err = w.conn.Close()
	})
	return err
}

func (w *WSConn) send(cmd Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("derivex: marshal command: %w", err)
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("derivex: write %s %s: %w", cmd.Op, cmd.Symbol, err)
	}
	return nil
}

// readLoop parses inbound frames into Events until the connection fails.
func (w *WSConn) readLoop() {
	defer close(w.events)
	for {
		_, payload, err := w.conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			w.emit(Event{Err: fmt.Errorf("derivex: read: %w: %w", domain.ErrWSDisconnect, err)})
			return
		}

		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			// Malformed frames are skipped, not fatal.
			continue
		}

		switch env.Type {
		case "trade":
			w.emit(Event{Trade: env.toTick()})
		case "depth_update":
			w.emit(Event{Depth: env.toDepthUpdate()})
		case "depth_snapshot":
			w.emit(Event{Snapshot: env.toSnapshot()})
		case "subscribed":
			w.emit(Event{Confirmation: &Confirmation{
				Channel: Channel(env.Channel),
				Symbol:  env.Symbol,
			}})
		}
	}
}

func (w *WSConn) emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.done:
	}
}

func (w *WSConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.writeMu.Lock()
			err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			w.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Compile-time interface check.
var _ Conn = (*WSConn)(nil)
