package channel

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrLinkUnavailable marks a dial failure: peer not paired, out of range
	// or not running. Recovered by the reconnect loop, never fatal.
	ErrLinkUnavailable = errors.New("link unavailable")
	// ErrChannelClosed is returned by operations on a closed channel.
	ErrChannelClosed = errors.New("telemetry channel closed")

	errConnClosed = errors.New("transport connection closed")
)

// Conn is one connected period of a point-to-point transport. Message
// boundaries are preserved; ordering within the connection is the
// transport's responsibility.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer establishes transport connections on the initiating (wearable)
// side. The accepting side attaches connections directly via Channel.Run.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Pipe is an in-memory transport used by tests and the embedded simulator.
// One side dials, the other accepts; SetUnavailable simulates the peer going
// out of range.
type Pipe struct {
	mu          sync.Mutex
	unavailable bool
	accepts     chan Conn
}

func NewPipe() *Pipe {
	return &Pipe{accepts: make(chan Conn, 4)}
}

func (p *Pipe) SetUnavailable(v bool) {
	p.mu.Lock()
	p.unavailable = v
	p.mu.Unlock()
}

func (p *Pipe) Dial(ctx context.Context) (Conn, error) {
	p.mu.Lock()
	unavailable := p.unavailable
	p.mu.Unlock()
	if unavailable {
		return nil, ErrLinkUnavailable
	}

	local, remote := newPipePair()
	select {
	case p.accepts <- remote:
		return local, nil
	case <-ctx.Done():
		local.Close()
		return nil, ctx.Err()
	}
}

// Accept blocks until the dialing side connects.
func (p *Pipe) Accept(ctx context.Context) (Conn, error) {
	select {
	case conn := <-p.accepts:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type pipeConn struct {
	inbox  chan []byte
	peer   *pipeConn
	closed chan struct{}
	once   sync.Once
}

func newPipePair() (*pipeConn, *pipeConn) {
	a := &pipeConn{inbox: make(chan []byte, 256), closed: make(chan struct{})}
	b := &pipeConn{inbox: make(chan []byte, 256), closed: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

func (c *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbox:
		return data, nil
	case <-c.closed:
		return nil, errConnClosed
	case <-c.peer.closed:
		return nil, errConnClosed
	}
}

func (c *pipeConn) WriteMessage(data []byte) error {
	select {
	case c.peer.inbox <- data:
		return nil
	case <-c.closed:
		return errConnClosed
	case <-c.peer.closed:
		return errConnClosed
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}
