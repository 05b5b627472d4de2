package collab

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"sync"
	"time"

	"storyforge/internal/models"

	"github.com/gorilla/websocket"
)

// Session identifies the local user for one engine lifetime. The credential
// is presented once at dial time; changing it requires a Stop/Start cycle.
type Session struct {
	UserID   string
	Username string
	Avatar   string
}

// Conn is a single live connection to the collaboration server. Events is
// closed when the connection drops, for any reason.
type Conn interface {
	Send(env *models.Envelope) error
	Events() <-chan *models.Envelope
	Close() error
}

// Transport dials collaboration connections. The engine owns reconnection;
// a Transport only has to produce one connection at a time.
type Transport interface {
	Dial(ctx context.Context, session *Session) (Conn, error)
}

// WebSocketTransport dials the server's /ws endpoint with gorilla/websocket.
type WebSocketTransport struct {
	// BaseURL is the ws:// or wss:// URL of the collaboration endpoint,
	// e.g. "ws://localhost:8080/ws".
	BaseURL string

	Dialer *websocket.Dialer
}

// NewWebSocketTransport creates a transport for the given endpoint.
func NewWebSocketTransport(baseURL string) *WebSocketTransport {
	return &WebSocketTransport{
		BaseURL: baseURL,
		Dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Dial opens one websocket connection carrying the session identity as query
// parameters, matching what the server's connection handler expects.
func (t *WebSocketTransport) Dial(ctx context.Context, session *Session) (Conn, error) {
	u, err := url.Parse(t.BaseURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("user_id", session.UserID)
	q.Set("username", session.Username)
	q.Set("avatar", session.Avatar)
	u.RawQuery = q.Encode()

	ws, _, err := t.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	c := &wsConn{
		ws:     ws,
		events: make(chan *models.Envelope, 64),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

type wsConn struct {
	ws     *websocket.Conn
	events chan *models.Envelope
	done   chan struct{}

	writeMu sync.Mutex

	closeOnce sync.Once
}

func (c *wsConn) Send(env *models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Events() <-chan *models.Envelope {
	return c.events
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

// readLoop decodes inbound frames until the connection drops. Malformed
// frames are dropped here so consumers only ever see valid envelopes.
func (c *wsConn) readLoop() {
	defer close(c.events)
	defer c.Close()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("⚠️  Dropping invalid frame: %v", err)
			continue
		}

		// The consumer may stop draining before the buffer empties; a plain
		// send would block past Close and leak this goroutine.
		select {
		case c.events <- &env:
		case <-c.done:
			return
		}
	}
}
