package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

type enqueueResult int

const (
	enqueued enqueueResult = iota
	queueFull
	clientClosed
)

// Client is one live websocket connection. Pushes go through a bounded
// queue drained by the write pump so publishers never block on a socket.
type Client struct {
	conn      *websocket.Conn
	info      ConnInfo
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient wraps conn. A nil conn is allowed for clients that are only
// ever read through Queue.
func NewClient(conn *websocket.Conn, info ConnInfo, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Client{
		conn: conn,
		info: info,
		send: make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
}

func (c *Client) Info() ConnInfo { return c.info }

func (c *Client) UserID() string { return c.info.UserID }

// Queue exposes the outbound frames.
func (c *Client) Queue() <-chan []byte { return c.send }

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) enqueue(payload []byte) enqueueResult {
	select {
	case <-c.done:
		return clientClosed
	default:
	}
	select {
	case c.send <- payload:
		return enqueued
	default:
		return queueFull
	}
}

// Close stops the write pump and closes the socket. Safe to call more than
// once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// writePump drains the queue to the socket and keeps the connection alive
// with pings. It closes the client on the first write error.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
