package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// WSClient adapts a websocket connection to the Client interface.
type WSClient struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

func NewWSClient(conn *websocket.Conn) *WSClient {
	return &WSClient{
		id:   uuid.NewString(),
		conn: conn,
	}
}

func (c *WSClient) ID() string {
	return c.id
}

func (c *WSClient) Send(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		c.markClosed()
		return err
	}
	return nil
}

func (c *WSClient) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *WSClient) Close() error {
	c.markClosed()
	return c.conn.Close()
}

func (c *WSClient) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// ReadLoop consumes inbound frames until the connection errors or closes,
// then invokes onClose once. Inbound payloads are ignored; the viewer
// protocol is push-only.
func (c *WSClient) ReadLoop(onClose func()) {
	defer func() {
		c.markClosed()
		c.conn.Close()
		if onClose != nil {
			onClose()
		}
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
