package peer

import (
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub relays peer hints between connected clients. It stamps every
// forwarded message with the sender's user id and delivers it to the other
// connections watching the chat, optionally narrowed to the listed users.
// It keeps no state beyond the live connections.
type Hub struct {
	logger *zap.Logger

	mu       sync.RWMutex
	clients  map[*hubClient]struct{}
	watchers map[string]map[*hubClient]struct{}
}

type hubClient struct {
	conn  *websocket.Conn
	user  string
	send  chan []byte
	chats map[string]struct{}
}

// NewHub creates an empty relay hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:   logger,
		clients:  make(map[*hubClient]struct{}),
		watchers: make(map[string]map[*hubClient]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the connection until it drops.
// The user query parameter names the connecting peer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		http.Error(w, "missing user", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &hubClient{conn: conn, user: user, send: make(chan []byte, 256), chats: make(map[string]struct{})}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("peer connected", zap.String("user", user))

	go h.writePump(c)
	h.readPump(c)
}

// Clients returns the number of live connections.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	for chat := range c.chats {
		if set, ok := h.watchers[chat]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.watchers, chat)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Info("peer disconnected", zap.String("user", c.user))
}

func (h *Hub) readPump(c *hubClient) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("peer read error", zap.String("user", c.user), zap.Error(err))
			}
			return
		}
		env, err := Decode(data)
		if err != nil {
			h.logger.Debug("bad envelope", zap.String("user", c.user), zap.Error(err))
			continue
		}
		h.route(c, env)
	}
}

func (h *Hub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

func (h *Hub) route(from *hubClient, env Envelope) {
	if len(env.Watch) > 0 {
		h.mu.Lock()
		for _, chat := range env.Watch {
			set, ok := h.watchers[chat]
			if !ok {
				set = make(map[*hubClient]struct{})
				h.watchers[chat] = set
			}
			set[from] = struct{}{}
			from.chats[chat] = struct{}{}
		}
		h.mu.Unlock()
	}
	if env.Message == nil || env.Chat == "" {
		return
	}

	msg := *env.Message
	msg.From = from.user
	data, err := Encode(Envelope{Chat: env.Chat, Message: &msg})
	if err != nil {
		h.logger.Error("encode relay frame", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.watchers[env.Chat] {
		if c == from || (len(env.To) > 0 && !slices.Contains(env.To, c.user)) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Debug("peer buffer full, dropping hint", zap.String("user", c.user))
		}
	}
}
