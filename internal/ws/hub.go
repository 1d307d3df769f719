package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/x402arcade/backend/internal/game"
	"github.com/x402arcade/backend/internal/logger"
	"github.com/x402arcade/backend/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket watching a game's leaderboard
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	gameType models.GameType
	send     chan []byte
}

// Hub fans leaderboard events out to the clients watching each game
type Hub struct {
	rooms      map[models.GameType]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        logrus.FieldLogger
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		rooms:      make(map[models.GameType]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        logger.Component(log, "ws"),
	}
}

// Run owns room membership until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, room := range h.rooms {
				for c := range room {
					close(c.send)
				}
			}
			h.rooms = make(map[models.GameType]map[*Client]struct{})
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			room, ok := h.rooms[c.gameType]
			if !ok {
				room = make(map[*Client]struct{})
				h.rooms[c.gameType] = room
			}
			room[c] = struct{}{}
			size := len(room)
			h.mu.Unlock()
			h.log.WithFields(logrus.Fields{"game_type": c.gameType, "room_size": size}).Debug("Client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if room, ok := h.rooms[c.gameType]; ok {
				if _, ok := room[c]; ok {
					delete(room, c)
					close(c.send)
				}
				if len(room) == 0 {
					delete(h.rooms, c.gameType)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends message to every client watching gameType. Slow clients drop the message.
func (h *Hub) Broadcast(gameType models.GameType, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.log.WithError(err).Error("Failed to marshal broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[gameType] {
		select {
		case c.send <- data:
		default:
			h.log.WithField("game_type", gameType).Warn("Client send buffer full, dropping message")
		}
	}
}

// Count returns how many clients watch gameType.
func (h *Hub) Count(gameType models.GameType) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[gameType])
}

// ServeLeaderboard upgrades GET /ws/leaderboard/:gameType.
func (h *Hub) ServeLeaderboard(c *gin.Context) {
	g, err := game.Parse(c.Param("gameType"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	client := &Client{hub: h, conn: conn, gameType: g.Type, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump only watches for close and pong frames; clients never send data.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).Debug("Websocket closed unexpectedly")
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.log.WithError(err).Debug("Websocket write failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
