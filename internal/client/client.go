// Package client is a websocket client for the realtime endpoint. It keeps
// a reconcile.Store in sync with the pushes it receives.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chat-realtime/internal/models"
	"chat-realtime/internal/reconcile"
)

const writeWait = 10 * time.Second

// ErrClosed is returned by writes after the connection has gone away.
var ErrClosed = errors.New("client closed")

// Options configure a Client.
type Options struct {
	// AutoDeliver acknowledges every received message from another user
	// with messageDelivered.
	AutoDeliver bool
	Logger      *zap.Logger
	Dialer      *websocket.Dialer
}

// Client is one authenticated websocket session.
type Client struct {
	conn   *websocket.Conn
	store  *reconcile.Store
	self   string
	opts   Options
	logger *zap.Logger

	writeMu sync.Mutex

	mu       sync.RWMutex
	statuses map[string]models.StatusChange

	errs      chan models.ErrorPayload
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the websocket endpoint at rawURL with token and starts
// applying pushes to store. The store's owner must be the token's user.
func Dial(ctx context.Context, rawURL, token string, store *reconcile.Store, opts Options) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
		conn.Close()
		return nil, fmt.Errorf("dial: unexpected status %d", resp.StatusCode)
	}

	c := &Client{
		conn:     conn,
		store:    store,
		self:     store.Self(),
		opts:     opts,
		logger:   logger,
		statuses: make(map[string]models.StatusChange),
		errs:     make(chan models.ErrorPayload, 32),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Store returns the reconciled view fed by this client.
func (c *Client) Store() *reconcile.Store { return c.store }

// Errors delivers error events addressed to this connection.
func (c *Client) Errors() <-chan models.ErrorPayload { return c.errs }

// Done is closed once the read loop stops.
func (c *Client) Done() <-chan struct{} { return c.done }

// Status returns the last presence change seen for userID.
func (c *Client) Status(userID string) (models.StatusChange, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.statuses[userID]
	return s, ok
}

// Send adds an optimistic entry and submits it. The returned ref
// identifies the entry until the server confirms it.
func (c *Client) Send(d reconcile.Draft) (string, error) {
	ref := c.store.AddOptimistic(d)
	err := c.write(models.EventSend, models.SendPayload{
		Content:        d.Content,
		Sender:         c.self,
		Recipient:      d.Recipient,
		Group:          d.Group,
		FileAttachment: d.FileAttachment,
		Forwarded:      d.Forwarded,
		ClientRef:      ref,
	})
	if err != nil {
		c.store.Fail(ref, err.Error())
		return ref, err
	}
	return ref, nil
}

// JoinGroup subscribes this connection to a group channel.
func (c *Client) JoinGroup(groupID string) error {
	return c.write(models.EventJoinGroup, map[string]string{"groupId": groupID})
}

// MarkDelivered acknowledges delivery of a message.
func (c *Client) MarkDelivered(messageID string) error {
	if err := c.write(models.EventDelivered, models.ReceiptPayload{MessageID: messageID, UserID: c.self}); err != nil {
		return err
	}
	c.store.ApplyReceipt(reconcile.ReceiptDelivered, messageID, c.self)
	return nil
}

// MarkSeen acknowledges reading a message.
func (c *Client) MarkSeen(messageID string) error {
	if err := c.write(models.EventSeen, models.ReceiptPayload{MessageID: messageID, UserID: c.self}); err != nil {
		return err
	}
	c.store.ApplyReceipt(reconcile.ReceiptSeen, messageID, c.self)
	return nil
}

// MarkPeerSeen acknowledges every unseen message in the conversation with
// peer.
func (c *Client) MarkPeerSeen(peer reconcile.Peer) error {
	for _, id := range c.store.UnseenIDs(peer) {
		if err := c.MarkSeen(id); err != nil {
			return err
		}
	}
	return nil
}

// Close sends a close frame and tears down the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) write(event string, data any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	env, err := models.NewEnvelope(event, data)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer c.conn.Close()

	for {
		var env models.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("client read stopped", zap.String("user_id", c.self), zap.Error(err))
			}
			return
		}
		if err := c.apply(env); err != nil {
			c.logger.Warn("client dropped frame", zap.String("event", env.Event), zap.Error(err))
		}
	}
}

func (c *Client) apply(env models.Envelope) error {
	switch env.Event {
	case models.EventReceive:
		var pushed models.PushedMessage
		if err := json.Unmarshal(env.Data, &pushed); err != nil {
			return err
		}
		c.store.ApplyPush(pushed.Message, pushed.ClientRef)
		if c.opts.AutoDeliver && pushed.Sender != c.self && !pushed.DeliveredToUser(c.self) {
			return c.MarkDelivered(pushed.ID)
		}

	case models.EventDelivered, models.EventSeen:
		var receipt models.ReceiptPayload
		if err := json.Unmarshal(env.Data, &receipt); err != nil {
			return err
		}
		kind := reconcile.ReceiptDelivered
		if env.Event == models.EventSeen {
			kind = reconcile.ReceiptSeen
		}
		c.store.ApplyReceipt(kind, receipt.MessageID, receipt.UserID)

	case models.EventEdited:
		var msg models.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return err
		}
		c.store.ApplyEdit(msg)

	case models.EventDeleted:
		var deleted models.DeletedPayload
		if err := json.Unmarshal(env.Data, &deleted); err != nil {
			return err
		}
		c.store.ApplyDelete(deleted.MessageID)

	case models.EventStatusChange:
		var status models.StatusChange
		if err := json.Unmarshal(env.Data, &status); err != nil {
			return err
		}
		c.mu.Lock()
		c.statuses[status.UserID] = status
		c.mu.Unlock()

	case models.EventError:
		var payload models.ErrorPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return err
		}
		if payload.ClientRef != "" {
			c.store.Fail(payload.ClientRef, payload.Code)
		}
		select {
		case c.errs <- payload:
		default:
			c.logger.Warn("client error buffer full", zap.String("code", payload.Code))
		}

	default:
		return fmt.Errorf("unknown event %q", env.Event)
	}
	return nil
}
