package control

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/function-store/RpiSimpleNDI/internal/logger"
)

// Bridge maintains an outbound WebSocket connection to an upstream relay so
// several receivers can share one remote control endpoint. Commands routed
// through the bridge carry a component_id; HandleMessage drops those
// addressed to other receivers.
type Bridge struct {
	url            string
	plane          *Plane
	reconnectDelay time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	send      chan []byte
	connected bool
}

// NewBridge creates the bridge client; Run must be started for it to
// connect.
func NewBridge(url string, plane *Plane) *Bridge {
	return &Bridge{
		url:            url,
		plane:          plane,
		reconnectDelay: 5 * time.Second,
		send:           make(chan []byte, sendBuffer),
	}
}

// enqueue implements controller. The bridge stays registered while
// disconnected; snapshots queued then are dropped, not errors.
func (b *Bridge) enqueue(msg []byte) bool {
	b.mu.Lock()
	connected := b.connected
	b.mu.Unlock()
	if !connected {
		return true
	}
	select {
	case b.send <- msg:
	default:
	}
	return true
}

// Connected reports whether the bridge link is currently up.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Run dials the bridge and keeps the link alive, reconnecting after a
// fixed delay until the context is canceled.
func (b *Bridge) Run(ctx context.Context) {
	log := logger.WithComponent("bridge")
	b.plane.addController(b)
	defer b.plane.removeController(b)

	for {
		if err := ctx.Err(); err != nil {
			return
		}

		log.Info().Str("url", b.url).Msg("Connecting to bridge")
		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.DialContext(ctx, b.url, nil)
		if err != nil {
			log.Warn().Err(err).Msg("Bridge connect failed")
		} else {
			b.session(ctx, conn)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.reconnectDelay):
		}
	}
}

// session runs one connected bridge link until it drops.
func (b *Bridge) session(ctx context.Context, conn *websocket.Conn) {
	log := logger.WithComponent("bridge")

	b.mu.Lock()
	b.conn = conn
	b.connected = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.conn = nil
		b.connected = false
		b.mu.Unlock()
		conn.Close()
		log.Info().Msg("Bridge disconnected")
	}()

	log.Info().Msg("Connected to bridge")

	// Initial state push so the bridge can route for us immediately
	if data, err := json.Marshal(b.plane.stateResponse()); err == nil {
		b.enqueue(data)
	}

	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			b.plane.HandleMessage(message, func(msg []byte) {
				b.enqueue(msg)
			})
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
			return
		case <-done:
			return
		case msg := <-b.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
