// Package gorillaws multiplexes RPC calls over one WebSocket connection
// using gorilla/websocket.
package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	gorilla "github.com/gorilla/websocket"

	"github.com/surrealdb/surrealtodo/internal/rand"
	"github.com/surrealdb/surrealtodo/pkg/connection"
	"github.com/surrealdb/surrealtodo/pkg/logger"
)

// CloseMessageCode is sent in the close frame on Close.
const CloseMessageCode = gorilla.CloseNormalClosure

// DefaultDialer is the gorilla default dialer with compression enabled and
// the cbor subprotocol requested.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
	Subprotocols:      []string{"cbor"},
}

type Connection struct {
	*connection.Toolkit

	cfg connection.Config

	conn *gorilla.Conn
	// connLock guards conn and serializes writes.
	connLock sync.Mutex

	// Timeout bounds the wait for a response after the request was written.
	// Zero leaves it to the caller's context.
	Timeout time.Duration

	logger logger.Logger

	// connCloseCh is closed when the connection goes away, stopping readLoop
	// and failing pending and future Sends.
	connCloseCh    chan struct{}
	closeOnce      sync.Once
	connCloseError error
}

var _ connection.Sender = (*Connection)(nil)

func New(cfg *connection.Config) *Connection {
	l := cfg.Logger
	if l == nil {
		l = logger.Nop()
	}
	return &Connection{
		Toolkit:     connection.NewToolkit(),
		cfg:         *cfg,
		Timeout:     cfg.Timeout,
		logger:      l,
		connCloseCh: make(chan struct{}),
	}
}

// Connect dials BaseURL/rpc, then selects the namespace and database and
// authenticates when a token is configured.
func (c *Connection) Connect(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	conn, res, err := DefaultDialer.DialContext(ctx, fmt.Sprintf("%s/rpc", c.cfg.BaseURL), nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	c.connLock.Lock()
	c.conn = conn
	c.connLock.Unlock()

	go c.readLoop(conn)

	if _, err := c.Send(ctx, connection.MethodUse, c.cfg.Namespace, c.cfg.Database); err != nil {
		_ = c.Close(ctx)
		return fmt.Errorf("selecting namespace and database: %w", err)
	}
	if c.cfg.Token != "" {
		if _, err := c.Send(ctx, connection.MethodAuthenticate, c.cfg.Token); err != nil {
			_ = c.Close(ctx)
			return fmt.Errorf("authenticating: %w", err)
		}
	}
	return nil
}

// IsClosed reports whether the connection went away, either through Close
// or because the server dropped it.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.connCloseCh:
		return true
	default:
		return false
	}
}

// Close sends a close frame, bounded by ctx, and closes the socket.
func (c *Connection) Close(ctx context.Context) error {
	if c.IsClosed() {
		return nil
	}
	c.closeWithError(connection.ErrClosed)

	c.connLock.Lock()
	defer c.connLock.Unlock()

	conn := c.conn
	c.conn = nil
	if conn == nil {
		return nil
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	}
	if err := conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(CloseMessageCode, "")); err != nil {
		// Still close locally so nothing leaks.
		c.logger.Debug("failed to write close message", "error", err)
	}

	return conn.Close()
}

// Send writes the request and waits for the response with the same id.
func (c *Connection) Send(ctx context.Context, method string, params ...any) (*connection.RPCResponse[cbor.RawMessage], error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	select {
	case <-c.connCloseCh:
		return nil, c.closeErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	id := rand.NewRequestID(rand.RequestIDLength)
	request := &connection.RPCRequest{
		ID:     id,
		Method: method,
		Params: params,
	}

	responseChan, err := c.CreateResponseChannel(id)
	if err != nil {
		return nil, err
	}
	defer c.RemoveResponseChannel(id)

	if err := c.write(request); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", connection.ErrTimeout, method)
		}
		return nil, ctx.Err()
	case <-c.connCloseCh:
		return nil, c.closeErr()
	case res := <-responseChan:
		if res.Error != nil {
			return nil, res.Error
		}
		return &res, nil
	}
}

func (c *Connection) write(v any) error {
	data, err := connection.Codec.Marshal(v)
	if err != nil {
		return err
	}

	c.connLock.Lock()
	defer c.connLock.Unlock()
	if c.conn == nil {
		return connection.ErrClosed
	}
	err = c.conn.WriteMessage(gorilla.BinaryMessage, data)
	if errors.Is(err, gorilla.ErrCloseSent) {
		c.closeWithError(err)
	}
	return err
}

func (c *Connection) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.connCloseError = err
		close(c.connCloseCh)
	})
}

func (c *Connection) closeErr() error {
	if c.connCloseError == nil {
		return connection.ErrClosed
	}
	return fmt.Errorf("%w: %w", connection.ErrClosed, c.connCloseError)
}

func (c *Connection) readLoop(conn *gorilla.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.handleError(err) {
				return
			}
			continue
		}
		c.handleResponse(data)
	}
}

// handleError reports whether readLoop must stop.
func (c *Connection) handleError(err error) bool {
	switch {
	case c.IsClosed():
		return true
	case errors.Is(err, net.ErrClosed):
		c.closeWithError(net.ErrClosed)
		return true
	case gorilla.IsUnexpectedCloseError(err):
		c.logger.Warn("connection closed by server", "error", err)
		c.closeWithError(io.ErrClosedPipe)
		return true
	}
	var closeErr *gorilla.CloseError
	if errors.As(err, &closeErr) {
		c.closeWithError(io.EOF)
		return true
	}

	c.logger.Error("websocket read failed", "error", err)
	c.closeWithError(err)
	return true
}

func (c *Connection) handleResponse(data []byte) {
	var res connection.RPCResponse[cbor.RawMessage]
	if err := connection.Codec.Unmarshal(data, &res); err != nil {
		c.logger.Error("undecodable message", "error", err)
		return
	}

	id, _ := res.ID.(string)
	if id == "" {
		// Errors for requests the server could not parse carry no id.
		c.logger.Error("response without id", "error", fmt.Sprint(res.Error))
		return
	}
	if !c.Deliver(id, res) {
		c.logger.Warn("response for unknown request", "id", id)
	}
}
