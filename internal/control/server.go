package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/function-store/RpiSimpleNDI/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 20 * time.Second

	// sendBuffer bounds the per-client outbound queue. A controller that
	// falls further behind loses intermediate snapshots, never the stream.
	sendBuffer = 16
)

// Server accepts controller WebSocket connections and a small REST surface
// for one-shot reads.
type Server struct {
	plane    *Plane
	router   *mux.Router
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// NewServer creates the control server. Extra handlers (e.g. a preview
// stream) can be mounted via Handle before Start.
func NewServer(plane *Plane) *Server {
	s := &Server{
		plane:  plane,
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Controllers connect from arbitrary origins on the LAN
				return true
			},
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/ws", s.handleWebSocket)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.handleGetState).Methods("GET")
	api.HandleFunc("/sources", s.handleGetSources).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handle mounts an additional route on the server's router.
func (s *Server) Handle(path string, handler http.Handler) {
	s.router.Handle(path, handler)
}

// Start begins serving on the given port. It returns once the listener
// stops; callers run it in a goroutine.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}

	logger.WithComponent("control").Info().Str("addr", addr).Msg("Control server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the listener and closes controller connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// wsClient is one connected controller.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// enqueue implements controller. It never blocks: when the buffer is full
// the message is dropped for this client only.
func (c *wsClient) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return true // slow client, skip this snapshot
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("control")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
	s.plane.addController(client)

	go s.writePump(client)

	// Push the state so new controllers render without issuing a command
	if data, err := json.Marshal(s.plane.stateResponse()); err == nil {
		client.enqueue(data)
	}

	s.readPump(client, r.RemoteAddr)
}

// readPump consumes controller messages until the connection drops.
func (s *Server) readPump(client *wsClient, remote string) {
	log := logger.WithComponent("control")
	defer func() {
		s.plane.removeController(client)
		close(client.done)
		client.conn.Close()
	}()

	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("remote", remote).Msg("Controller read error")
			}
			return
		}
		s.plane.HandleMessage(message, func(msg []byte) {
			client.enqueue(msg)
		})
	}
}

// writePump serializes all writes to one goroutine per client.
func (s *Server) writePump(client *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case <-client.done:
			client.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
			return
		case msg := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// REST handlers for one-shot reads

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	snap := s.plane.GetSnapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleGetSources(w http.ResponseWriter, r *http.Request) {
	snap := s.plane.GetSnapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]string{"sources": snap.Sources})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}
