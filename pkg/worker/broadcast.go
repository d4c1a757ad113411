package worker

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// writeWait bounds a single write to a dashboard client.
var writeWait = 2 * time.Second

// Broadcaster pushes worker metrics to connected dashboard clients via WebSocket.
type Broadcaster struct {
	mu      sync.Mutex // guards clients
	clients map[*websocket.Conn]bool
	writeMu sync.Mutex // one Broadcast writes at a time
	log     zerolog.Logger
}

func NewBroadcaster(log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		clients: make(map[*websocket.Conn]bool),
		log:     log,
	}
}

// HandleWS is the WebSocket upgrade handler for /ws.
func (b *Broadcaster) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	b.mu.Lock()
	b.clients[conn] = true
	total := len(b.clients)
	b.mu.Unlock()

	b.log.Debug().Int("clients", total).Msg("dashboard client connected")

	// Read loop (to detect disconnect)
	go func() {
		defer b.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (b *Broadcaster) remove(conn *websocket.Conn) {
	b.mu.Lock()
	_, ok := b.clients[conn]
	delete(b.clients, conn)
	remain := len(b.clients)
	b.mu.Unlock()
	if ok {
		conn.Close()
		b.log.Debug().Int("clients", remain).Msg("dashboard client disconnected")
	}
}

// Clients returns the number of connected clients.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Broadcast sends m to all connected WebSocket clients. Writes happen
// outside the client lock, each bounded by writeWait; clients that fail or
// time out are dropped.
func (b *Broadcaster) Broadcast(m WorkerMetrics) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	for _, conn := range b.snapshot() {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			b.log.Debug().Err(err).Msg("dropping slow dashboard client")
			b.remove(conn)
		}
	}
}

func (b *Broadcaster) snapshot() []*websocket.Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	conns := make([]*websocket.Conn, 0, len(b.clients))
	for conn := range b.clients {
		conns = append(conns, conn)
	}
	return conns
}

// Close disconnects every client.
func (b *Broadcaster) Close() {
	for _, conn := range b.snapshot() {
		b.remove(conn)
	}
}
