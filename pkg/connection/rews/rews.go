// Package rews keeps a WebSocket sender usable across dropped connections.
// A lost socket is redialed on the next Send and by a background loop.
package rews

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/surrealdb/surrealtodo/pkg/connection"
	"github.com/surrealdb/surrealtodo/pkg/logger"
)

// DefaultCheckInterval is used when CheckInterval is not positive.
const DefaultCheckInterval = 5 * time.Second

// ErrDisconnected is returned by Send while no socket could be dialed. It
// wraps connection.ErrClosed so callers treat it as transient.
var ErrDisconnected = fmt.Errorf("%w: not connected", connection.ErrClosed)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateClosed:
		return "Closed"
	default:
		return "InvalidState"
	}
}

// Conn is one dialable WebSocket connection. gorillaws.Connection is one.
type Conn interface {
	connection.Sender
	Connect(ctx context.Context) error
	IsClosed() bool
}

type Connection[C Conn] struct {
	// NewFunc returns a fresh, not yet connected socket. It is called for
	// the first dial and for every redial.
	NewFunc func() C

	// CheckInterval is how often the background loop looks for a dropped
	// socket.
	CheckInterval time.Duration

	// DialTimeout bounds redials made by the background loop.
	DialTimeout time.Duration

	logger logger.Logger

	// dialMu serializes dials so concurrent Sends share one socket.
	dialMu sync.Mutex

	mu    sync.Mutex
	conn  C
	live  bool
	state State

	once     sync.Once
	closeCh  chan struct{}
	loopDone chan struct{}
}

var _ connection.Sender = (*Connection[Conn])(nil)

func New[C Conn](newConn func() C, checkInterval time.Duration, log logger.Logger) *Connection[C] {
	if log == nil {
		log = logger.Nop()
	}
	return &Connection[C]{
		NewFunc:       newConn,
		CheckInterval: checkInterval,
		DialTimeout:   10 * time.Second,
		logger:        log,
		state:         StateDisconnected,
		closeCh:       make(chan struct{}),
		loopDone:      make(chan struct{}),
	}
}

// Connect makes the first dial and starts the reconnection loop. The loop
// runs even when the dial fails, so an unreachable server at startup is
// picked up once it comes back. The dial error is returned for logging.
func (r *Connection[C]) Connect(ctx context.Context) error {
	if r.State() == StateClosed {
		return connection.ErrClosed
	}
	r.once.Do(func() {
		r.logger.Debug("rews.Connection is starting reconnection loop")
		go r.reconnectionLoop()
	})
	_, err := r.current(ctx)
	return err
}

func (r *Connection[C]) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateConnected && r.conn.IsClosed() {
		return StateDisconnected
	}
	return r.state
}

func (r *Connection[C]) setState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateClosed {
		return
	}
	r.state = s
	r.logger.Debug("rews.Connection state transitioned", "new_state", s)
}

// current returns the live socket, dialing a new one when there is none.
func (r *Connection[C]) current(ctx context.Context) (C, error) {
	var zero C

	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return zero, connection.ErrClosed
	}
	if r.live && !r.conn.IsClosed() {
		conn := r.conn
		r.mu.Unlock()
		return conn, nil
	}
	r.mu.Unlock()

	r.dialMu.Lock()
	defer r.dialMu.Unlock()

	// Another caller may have dialed while we waited.
	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return zero, connection.ErrClosed
	}
	if r.live && !r.conn.IsClosed() {
		conn := r.conn
		r.mu.Unlock()
		return conn, nil
	}
	r.mu.Unlock()

	r.setState(StateConnecting)
	conn := r.NewFunc()
	if err := conn.Connect(ctx); err != nil {
		r.setState(StateDisconnected)
		return zero, fmt.Errorf("%w: %w", ErrDisconnected, err)
	}

	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		_ = conn.Close(ctx)
		return zero, connection.ErrClosed
	}
	r.conn = conn
	r.live = true
	r.mu.Unlock()
	r.setState(StateConnected)
	r.logger.Info("rews.Connection connected")
	return conn, nil
}

// Send forwards to the live socket, redialing first when it was dropped.
func (r *Connection[C]) Send(ctx context.Context, method string, params ...any) (*connection.RPCResponse[cbor.RawMessage], error) {
	conn, err := r.current(ctx)
	if err != nil {
		return nil, err
	}
	return conn.Send(ctx, method, params...)
}

// Close stops the reconnection loop and closes the socket. It is safe to
// call more than once.
func (r *Connection[C]) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return nil
	}
	r.state = StateClosed
	conn, live := r.conn, r.live
	r.live = false
	r.mu.Unlock()

	close(r.closeCh)
	// Without a loop nobody else closes loopDone.
	r.once.Do(func() { close(r.loopDone) })
	select {
	case <-r.loopDone:
	case <-ctx.Done():
		r.logger.Warn("rews.Connection closed before the reconnection loop stopped")
	}

	if !live {
		return nil
	}
	if err := conn.Close(ctx); err != nil && !errors.Is(err, connection.ErrClosed) {
		return err
	}
	return nil
}

func (r *Connection[C]) reconnectionLoop() {
	defer close(r.loopDone)

	interval := DefaultCheckInterval
	if r.CheckInterval > 0 {
		interval = r.CheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.closeCh:
			return
		case <-ticker.C:
		}

		if r.State() != StateDisconnected {
			continue
		}
		r.logger.Info("rews.Connection is attempting to reconnect")
		ctx, cancel := context.WithTimeout(context.Background(), r.DialTimeout)
		if _, err := r.current(ctx); err != nil {
			r.logger.Debug("rews.Connection failed to reconnect", "error", err)
		}
		cancel()
	}
}
