package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/attendance/internal/camera"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/pkg/dto"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards are served from other origins
	},
}

// Client represents a connected WebSocket client.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	camera string // optional filter
}

type message struct {
	camera string
	data   []byte
}

// Hub fans overlays and attendance events out to WebSocket clients.
// Publishing never blocks the camera workers; messages are dropped when the
// hub is behind.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the hub event loop. It returns when ctx is done, disconnecting
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "filter", client.camera)

		case client := <-h.unregister:
			if h.clients[client] {
				h.drop(client)
				slog.Debug("ws client disconnected")
			}

		case msg := <-h.broadcast:
			for client := range h.clients {
				if client.camera != "" && client.camera != msg.camera {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// slow client
					h.drop(client)
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	observability.WSConnections.Dec()
}

func (h *Hub) publish(event dto.WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal ws event", "type", event.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- message{camera: event.Camera, data: data}:
	default:
		slog.Debug("ws broadcast queue full, dropping", "type", event.Type)
	}
}

// PublishOverlay implements camera.OverlaySink.
func (h *Hub) PublishOverlay(o camera.Overlay) {
	h.publish(dto.WSEvent{Type: dto.WSTypeOverlay, Camera: o.Camera, At: o.At, Data: o})
}

// Notify broadcasts an attendance event.
func (h *Hub) Notify(_ context.Context, ev models.AttendanceEvent) error {
	h.publish(dto.WSEvent{Type: dto.WSTypeAttendance, Camera: ev.Camera, At: ev.At, Data: ev})
	return nil
}

// HandleWS upgrades the request. ?camera=<name> limits the feed to one
// camera.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, 64),
		camera: c.Query("camera"),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	for {
		// incoming messages are ignored; reading detects disconnects
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
