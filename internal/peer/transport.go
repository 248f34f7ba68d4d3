package peer

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatsync/internal/model"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by Send while the relay connection is down.
// Peer hints are best effort; callers log and move on.
var ErrNotConnected = errors.New("peer relay not connected")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	reconnectDelay = 2 * time.Second
	maxFrameSize   = 65536
)

// WSTransport talks to a relay Hub over a WebSocket. It reconnects until
// its context ends and re-announces the watched chats on every connection.
type WSTransport struct {
	url     string
	user    string
	dialer  *websocket.Dialer
	logger  *zap.Logger
	inbound chan Message

	mu      sync.Mutex
	conn    *websocket.Conn
	watched map[string]struct{}
}

// NewWSTransport creates a transport for the relay at rawURL, identifying
// as user.
func NewWSTransport(rawURL, user string, logger *zap.Logger) *WSTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSTransport{
		url:     rawURL,
		user:    user,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:  logger,
		inbound: make(chan Message, 256),
		watched: make(map[string]struct{}),
	}
}

// Inbound implements Transport.
func (t *WSTransport) Inbound() <-chan Message {
	return t.inbound
}

// Run keeps a relay connection open until ctx ends. The inbound channel is
// closed when Run returns.
func (t *WSTransport) Run(ctx context.Context) {
	defer close(t.inbound)
	for {
		err := t.session(ctx)
		if ctx.Err() != nil {
			return
		}
		t.logger.Debug("relay connection lost", zap.Error(err))
		select {
		case <-time.After(reconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (t *WSTransport) dialURL() (string, error) {
	u, err := url.Parse(t.url)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("user", t.user)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *WSTransport) session(ctx context.Context) error {
	target, err := t.dialURL()
	if err != nil {
		return err
	}
	conn, _, err := t.dialer.DialContext(ctx, target, http.Header{})
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	t.mu.Lock()
	t.conn = conn
	chats := make([]string, 0, len(t.watched))
	for c := range t.watched {
		chats = append(chats, c)
	}
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()
	}()
	t.logger.Info("relay connected", zap.String("url", t.url))

	if len(chats) > 0 {
		if err := t.writeEnvelope(Envelope{Watch: chats}); err != nil {
			return err
		}
	}

	stop := make(chan struct{})
	defer close(stop)
	go t.pinger(conn, stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				t.logger.Warn("relay read error", zap.Error(err))
			}
			return err
		}
		env, err := Decode(data)
		if err != nil || env.Message == nil {
			continue
		}
		select {
		case t.inbound <- *env.Message:
		default:
			t.logger.Debug("inbound peer queue full, dropping hint", zap.String("kind", string(env.Message.Kind)))
		}
	}
}

func (t *WSTransport) pinger(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.mu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			t.mu.Unlock()
			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// Watch asks the relay to forward hints for chats.
func (t *WSTransport) Watch(chats ...model.ChatID) {
	var fresh []string
	t.mu.Lock()
	for _, c := range chats {
		if _, ok := t.watched[c.String()]; !ok {
			t.watched[c.String()] = struct{}{}
			fresh = append(fresh, c.String())
		}
	}
	t.mu.Unlock()
	if len(fresh) == 0 {
		return
	}
	if err := t.writeEnvelope(Envelope{Watch: fresh}); err != nil && !errors.Is(err, ErrNotConnected) {
		t.logger.Debug("watch not sent", zap.Error(err))
	}
}

// Send implements Transport.
func (t *WSTransport) Send(ctx context.Context, peerIDs []string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mctx, err := msg.MessageContext()
	if err != nil {
		return err
	}
	return t.writeEnvelope(Envelope{To: peerIDs, Chat: mctx.Chat.String(), Message: &msg})
}

func (t *WSTransport) writeEnvelope(env Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrNotConnected
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}
