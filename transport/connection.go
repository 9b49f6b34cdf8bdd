// Package transport implements the duplex protocol transport (C1): one
// persistent bidirectional framed-JSON socket that multiplexes request/
// response pairs and server-initiated events, with session-scoped routing
// and optional reconnection.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/use-agent/pilot/models"
)

// EventConnectionClosed is fired (with nil params) to every waiter and every
// global-scope subscriber when the socket closes unexpectedly, releasing
// every outstanding waitForEvent.
const EventConnectionClosed = "__connection_closed"

// inboundFrame is the union of the two shapes an inbound frame can take:
// a response (carries ID) or an event (carries Method).
type inboundFrame struct {
	ID        int             `json:"id,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *wireError      `json:"error,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

type wireError struct {
	Message string `json:"message"`
}

// outboundFrame is the shape of every request this transport sends.
type outboundFrame struct {
	ID        int    `json:"id"`
	Method    string `json:"method"`
	Params    any    `json:"params,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// pendingCommand is one in-flight request: a resolver/rejecter pair plus a
// deadline timer, removed from the pending map before it settles.
type pendingCommand struct {
	resultCh chan json.RawMessage
	errCh    chan error
	timer    *time.Timer
	method   string
	session  string
}

// Listener is a subscriber callback for one event key.
type Listener func(params json.RawMessage)

// Connection is the duplex transport. It owns exactly one underlying socket
// at a time; Reconnect, if enabled, replaces it transparently.
type Connection struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger

	reconnect   bool
	backoffBase time.Duration
	backoffMax  time.Duration
	maxRetries  int
	defaultTO   time.Duration

	mu       sync.Mutex
	conn     *websocket.Conn
	nextID   atomic.Int64
	pending  map[int]*pendingCommand
	closing  bool // intentional close; suppresses reconnect
	closed   bool

	listenersMu sync.RWMutex
	listeners   map[string]map[int]Listener
	listenerSeq atomic.Int64

	writeMu sync.Mutex // single-writer-per-socket discipline

	doneCh chan struct{}
}

// Config configures a new Connection.
type Config struct {
	URL                   string
	Logger                *slog.Logger
	Reconnect             bool
	BackoffBase           time.Duration
	BackoffMax            time.Duration
	MaxRetries            int
	DefaultCommandTimeout time.Duration
}

// Dial opens the duplex connection and starts the receive loop.
func Dial(ctx context.Context, cfg Config) (*Connection, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultCommandTimeout <= 0 {
		cfg.DefaultCommandTimeout = 30 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 10 * time.Second
	}

	c := &Connection{
		url:         cfg.URL,
		dialer:      websocket.DefaultDialer,
		logger:      cfg.Logger,
		reconnect:   cfg.Reconnect,
		backoffBase: cfg.BackoffBase,
		backoffMax:  cfg.BackoffMax,
		maxRetries:  cfg.MaxRetries,
		defaultTO:   cfg.DefaultCommandTimeout,
		pending:     make(map[int]*pendingCommand),
		listeners:   make(map[string]map[int]Listener),
		doneCh:      make(chan struct{}),
	}

	conn, _, err := c.dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, models.NewDriverError(models.ErrConnection, "dial failed", err)
	}
	c.conn = conn

	go c.recvLoop()
	return c, nil
}

// Send assigns the next request id, writes the frame, and blocks until a
// response arrives, the timeout elapses, or the connection closes.
// timeout <= 0 uses the configured default.
func (c *Connection) Send(ctx context.Context, method string, params any, sessionID string, timeout time.Duration) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, models.NewDriverError(models.ErrConnection, "send on closed connection", nil).WithOp(method)
	}
	id := int(c.nextID.Add(1))
	if timeout <= 0 {
		timeout = c.defaultTO
	}

	pc := &pendingCommand{
		resultCh: make(chan json.RawMessage, 1),
		errCh:    make(chan error, 1),
		method:   method,
		session:  sessionID,
	}
	c.pending[id] = pc
	c.mu.Unlock()

	frame := outboundFrame{ID: id, Method: method, Params: params, SessionID: sessionID}
	data, err := json.Marshal(frame)
	if err != nil {
		c.removePending(id)
		return nil, models.NewDriverError(models.ErrProtocol, "marshal request", err).WithOp(method)
	}

	c.logger.Debug("cdp:send", "id", id, "method", method, "sessionId", sessionID)

	if err := c.writeRaw(data); err != nil {
		c.removePending(id)
		return nil, models.NewDriverError(models.ErrConnection, "write failed", err).WithOp(method)
	}

	pc.timer = time.AfterFunc(timeout, func() {
		c.mu.Lock()
		_, still := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
		if still {
			msg := fmt.Sprintf("CDP command timeout: %s", method)
			if sessionID != "" {
				msg = fmt.Sprintf("%s (session %s)", msg, sessionID)
			}
			pc.errCh <- models.NewDriverError(models.ErrTimeout, msg, nil).WithOp(method)
		}
	})

	select {
	case res := <-pc.resultCh:
		pc.timer.Stop()
		return res, nil
	case err := <-pc.errCh:
		pc.timer.Stop()
		return nil, err
	case <-ctx.Done():
		c.removePending(id)
		pc.timer.Stop()
		return nil, ctx.Err()
	}
}

func (c *Connection) writeRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Connection) removePending(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// On registers cb under the given event key ("method" or
// "sessionId:method") and returns a handle usable with Off.
func (c *Connection) On(key string, cb Listener) int {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	id := int(c.listenerSeq.Add(1))
	m, ok := c.listeners[key]
	if !ok {
		m = make(map[int]Listener)
		c.listeners[key] = m
	}
	m[id] = cb
	return id
}

// Off removes the listener previously registered by On under key.
func (c *Connection) Off(key string, handle int) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	if m, ok := c.listeners[key]; ok {
		delete(m, handle)
		if len(m) == 0 {
			delete(c.listeners, key)
		}
	}
}

func (c *Connection) emit(key string, params json.RawMessage) {
	c.listenersMu.RLock()
	cbs := make([]Listener, 0, len(c.listeners[key]))
	for _, cb := range c.listeners[key] {
		cbs = append(cbs, cb)
	}
	c.listenersMu.RUnlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("transport: listener panicked", "key", key, "recover", r)
				}
			}()
			cb(params)
		}()
	}
}

// WaitForEvent registers a one-shot listener, a close listener, and a
// deadline timer; whichever fires first wins, and all three are torn down
// together.
func (c *Connection) WaitForEvent(ctx context.Context, key string, predicate func(json.RawMessage) bool, timeout time.Duration) (json.RawMessage, error) {
	resultCh := make(chan json.RawMessage, 1)

	handle := c.On(key, func(params json.RawMessage) {
		if predicate == nil || predicate(params) {
			select {
			case resultCh <- params:
			default:
			}
		}
	})
	closeHandle := c.On(EventConnectionClosed, func(json.RawMessage) {
		select {
		case resultCh <- nil:
		default:
		}
	})
	defer func() {
		c.Off(key, handle)
		c.Off(EventConnectionClosed, closeHandle)
	}()

	if timeout <= 0 {
		timeout = c.defaultTO
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case params := <-resultCh:
		return params, nil
	case <-timer.C:
		return nil, models.NewDriverError(models.ErrTimeout, fmt.Sprintf("waitForEvent timed out: %s", key), nil)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Connection) recvLoop() {
	for {
		conn := c.currentConn()
		if conn == nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("transport: read error", "error", err)
			if c.handleDisconnect() {
				continue // reconnected, resume reading
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("transport: malformed frame", "error", err)
			continue
		}

		if frame.ID != 0 {
			c.resolvePending(frame)
			continue
		}
		if frame.Method != "" {
			c.logger.Debug("cdp:recv", "method", frame.Method, "sessionId", frame.SessionID)
			if frame.SessionID != "" {
				c.emit(frame.SessionID+":"+frame.Method, frame.Params)
			}
			c.emit(frame.Method, frame.Params)
		}
	}
}

func (c *Connection) resolvePending(frame inboundFrame) {
	c.mu.Lock()
	pc, ok := c.pending[frame.ID]
	if ok {
		delete(c.pending, frame.ID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if frame.Error != nil {
		kind := models.ErrProtocol
		if models.IsStaleObjectMessage(frame.Error.Message) {
			kind = models.ErrStaleElement
		}
		pc.errCh <- models.NewDriverError(kind, frame.Error.Message, nil).WithOp(pc.method)
		return
	}
	pc.resultCh <- frame.Result
}

func (c *Connection) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// handleDisconnect rejects every pending command and fires the synthetic
// close event. If reconnection is enabled and this was not an intentional
// close, it attempts the backoff loop and returns true on success.
func (c *Connection) handleDisconnect() bool {
	c.mu.Lock()
	intentional := c.closing
	pending := c.pending
	c.pending = make(map[int]*pendingCommand)
	c.mu.Unlock()

	for _, pc := range pending {
		pc.timer.Stop()
		pc.errCh <- models.NewDriverError(models.ErrConnection, "connection closed", nil).WithOp(pc.method)
	}
	c.emit(EventConnectionClosed, nil)

	if intentional || !c.reconnect {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.doneCh)
		return false
	}

	return c.reconnectLoop()
}

func (c *Connection) reconnectLoop() bool {
	delay := c.backoffBase
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		c.logger.Info("transport: reconnecting", "attempt", attempt, "delay", delay)
		time.Sleep(delay)

		conn, _, err := c.dialer.Dial(c.url, nil)
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()
			c.logger.Info("transport: reconnected", "attempt", attempt)
			return true
		}
		c.logger.Warn("transport: reconnect attempt failed", "attempt", attempt, "error", err)

		delay *= 2
		if delay > c.backoffMax {
			delay = c.backoffMax
		}
	}

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	close(c.doneCh)
	return false
}

// Close marks intent, clears pending commands with a connection-closed
// error, tears down the socket, and clears subscriptions.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	conn := c.conn
	pending := c.pending
	c.pending = make(map[int]*pendingCommand)
	c.closed = true
	c.mu.Unlock()

	for _, pc := range pending {
		pc.timer.Stop()
		pc.errCh <- models.NewDriverError(models.ErrConnection, "connection closed", nil).WithOp(pc.method)
	}

	var err error
	if conn != nil {
		err = conn.Close()
	}

	c.listenersMu.Lock()
	c.listeners = make(map[string]map[int]Listener)
	c.listenersMu.Unlock()

	return err
}

// Done returns a channel closed once the connection has permanently
// stopped (no more reconnect attempts pending).
func (c *Connection) Done() <-chan struct{} {
	return c.doneCh
}
