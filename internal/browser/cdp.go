package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ignite/outreach/internal/pkg/logger"
)

// DefaultCallTimeout bounds a protocol call whose context has no deadline.
const DefaultCallTimeout = 15 * time.Second

// maxMessageSize admits full-page screenshots.
const maxMessageSize = 64 << 20

// message is one frame of the protocol in either direction.
type message struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ProtocolError  `json:"error,omitempty"`
}

type request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	result json.RawMessage
	err    error
}

type subscriber struct {
	id int64
	fn func(json.RawMessage)
}

// Client speaks the DevTools protocol to one target over a WebSocket.
// Calls may be issued from any goroutine; responses are matched to calls
// by id, so they may arrive in any order.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	nextID  atomic.Int64
	timeout time.Duration

	mu       sync.Mutex
	pending  map[int64]chan response
	subs     map[string][]subscriber
	closed   bool
	closeErr error
	done     chan struct{}
}

// Dial connects to a target's webSocketDebuggerUrl and starts the reader.
func Dial(ctx context.Context, wsURL string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial devtools %s: %w", wsURL, err)
	}
	conn.SetReadLimit(maxMessageSize)

	c := &Client{
		conn:    conn,
		timeout: DefaultCallTimeout,
		pending: make(map[int64]chan response),
		subs:    make(map[string][]subscriber),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// SetDefaultTimeout changes the timeout applied to calls without a deadline.
func (c *Client) SetDefaultTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Call sends method with params and decodes the result into out (which
// may be nil).
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	id := c.nextID.Add(1)
	ch := make(chan response, 1)

	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(request{ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case r := <-ch:
		if r.err != nil {
			var pe *ProtocolError
			if errors.As(r.err, &pe) {
				pe.Method = method
			}
			return r.err
		}
		if out != nil && len(r.result) > 0 {
			if err := json.Unmarshal(r.result, out); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrCallTimeout, method)
		}
		return ctx.Err()
	}
}

// On registers fn for every event named method and returns a function that
// removes it. fn runs on the reader goroutine and must not block; handlers
// that issue calls start their own goroutine.
func (c *Client) On(method string, fn func(params json.RawMessage)) (unsubscribe func()) {
	id := c.nextID.Add(1)
	c.mu.Lock()
	c.subs[method] = append(c.subs[method], subscriber{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		list := c.subs[method]
		for i, s := range list {
			if s.id == id {
				c.subs[method] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	}
}

// WaitEvent blocks until the next event named method, ctx ends, or the
// connection closes.
func (c *Client) WaitEvent(ctx context.Context, method string) (json.RawMessage, error) {
	got := make(chan json.RawMessage, 1)
	unsub := c.On(method, func(p json.RawMessage) {
		select {
		case got <- p:
		default:
		}
	})
	defer unsub()

	select {
	case p := <-got:
		return p, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close closes the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	c.shutdown(errors.New("client closed"))
	return nil
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("devtools: undecodable frame", "error", err)
			continue
		}

		if msg.ID != 0 {
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.mu.Unlock()
			if !ok {
				continue
			}
			if msg.Error != nil {
				ch <- response{err: msg.Error}
			} else {
				ch <- response{result: msg.Result}
			}
			continue
		}

		if msg.Method != "" {
			c.mu.Lock()
			subs := append([]subscriber(nil), c.subs[msg.Method]...)
			c.mu.Unlock()
			for _, s := range subs {
				s.fn(msg.Params)
			}
		}
	}
}

func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = cause
	for id, ch := range c.pending {
		ch <- response{err: fmt.Errorf("%w: %v", ErrClosed, cause)}
		delete(c.pending, id)
	}
	close(c.done)
	c.mu.Unlock()

	_ = c.conn.Close()
}
