package companion

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	clientSendBuffer = 16
	writeWait        = 5 * time.Second
)

// hub fans state payloads out to websocket subscribers. New clients
// immediately receive the last payload so they never start blank.
type hub struct {
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte
	done       chan struct{}

	clients map[*wsClient]struct{}
	last    []byte

	log *slog.Logger
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newHub(log *slog.Logger) *hub {
	return &hub{
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 64),
		done:       make(chan struct{}),
		clients:    make(map[*wsClient]struct{}),
		log:        log,
	}
}

func (h *hub) run() {
	for {
		select {
		case <-h.done:
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			if h.last != nil {
				select {
				case c.send <- h.last:
				default:
				}
			}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			h.last = msg
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer: evict rather than stall the hub.
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

func (h *hub) stop() {
	close(h.done)
}

// send queues a payload for broadcast, dropping it if the hub is
// saturated or stopped.
func (h *hub) send(msg []byte) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
	}
}

var upgrader = websocket.Upgrader{
	// The HTTP API answers any origin; the push channel matches.
	CheckOrigin: func(*http.Request) bool { return true },
}

// serveWS upgrades one connection and runs its pumps.
func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, clientSendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump(h)
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump discards inbound traffic; the channel is push-only. Reading
// keeps close and ping frames serviced.
func (c *wsClient) readPump(h *hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
