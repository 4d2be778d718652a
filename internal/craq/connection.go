package craq

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

// State is the lifecycle state of a Connection.
type State int32

const (
	// StateReady means the socket is open and idle.
	StateReady State = iota
	// StateProcessing means one request is outstanding.
	StateProcessing
	// StateNeedNewSocket means the socket failed and must be redialed.
	StateNeedNewSocket
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateProcessing:
		return "PROCESSING"
	case StateNeedNewSocket:
		return "NEED_NEW_SOCKET"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ErrConnectionBusy is returned when dispatching to a connection that is
// not READY.
var ErrConnectionBusy = errors.New("connection not ready")

// DialFunc opens a stream to addr.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// CompletionFunc receives the outcome of one dispatched operation.
// It is called after the connection has left PROCESSING.
type CompletionFunc func(c *Connection, op Operation, resp Response, err error)

// Connection is one socket to the backing store carrying at most one
// outstanding request.
type Connection struct {
	id        int
	endpoint  string
	ioTimeout time.Duration

	mu       sync.Mutex
	state    State
	conn     net.Conn
	reader   *bufio.Reader
	lastUsed time.Time
	buf      []byte
}

// NewConnection creates a connection to endpoint in NEED_NEW_SOCKET state.
func NewConnection(id int, endpoint string, ioTimeout time.Duration) *Connection {
	return &Connection{
		id:        id,
		endpoint:  endpoint,
		ioTimeout: ioTimeout,
		state:     StateNeedNewSocket,
	}
}

// ID returns the connection's slot number.
func (c *Connection) ID() int { return c.id }

// Endpoint returns the address this connection dials.
func (c *Connection) Endpoint() string { return c.endpoint }

// State returns the current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastUsed returns when the connection last finished a request.
func (c *Connection) LastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

// Connect dials a fresh socket. Only valid in NEED_NEW_SOCKET.
func (c *Connection) Connect(ctx context.Context, dial DialFunc) error {
	c.mu.Lock()
	if c.state != StateNeedNewSocket {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := dial(ctx, "tcp", c.endpoint)
	if err != nil {
		return domain.ErrNetwork.WithDetails("dial %s", c.endpoint).WithCause(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateNeedNewSocket {
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.state = StateReady
	return nil
}

// Dispatch sends op and reads its response in the background, then calls
// done. It returns ErrConnectionBusy without touching the socket unless the
// connection is READY.
func (c *Connection) Dispatch(op Operation, done CompletionFunc) error {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return ErrConnectionBusy
	}
	c.state = StateProcessing
	conn, reader := c.conn, c.reader
	c.buf = op.appendTo(c.buf[:0])
	req := c.buf
	c.mu.Unlock()

	go c.roundTrip(conn, reader, req, op, done)
	return nil
}

func (c *Connection) roundTrip(conn net.Conn, reader *bufio.Reader, req []byte, op Operation, done CompletionFunc) {
	resp, err := c.exchange(conn, reader, req, op)

	c.mu.Lock()
	switch {
	case c.conn != conn:
		// Socket closed or replaced while the request was in flight.
		if err == nil {
			err = domain.ErrNetwork.WithDetails("connection closed")
		}
	case err != nil:
		c.resetLocked()
	default:
		c.state = StateReady
		c.lastUsed = time.Now()
	}
	c.mu.Unlock()

	done(c, op, resp, err)
}

func (c *Connection) exchange(conn net.Conn, reader *bufio.Reader, req []byte, op Operation) (Response, error) {
	if c.ioTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.ioTimeout))
	}

	if _, err := conn.Write(req); err != nil {
		return Response{}, classify(err)
	}

	resp, err := ReadResponse(reader)
	if err != nil {
		return Response{}, classify(err)
	}
	if resp.Kind != ResponseError && resp.Key != op.Key {
		return Response{}, domain.ErrProtocol.WithDetails("response for %q, want %q", resp.Key, op.Key)
	}
	if err := checkKind(op, resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// checkKind rejects responses that cannot answer op.
func checkKind(op Operation, resp Response) error {
	switch op.Kind {
	case OpGet:
		switch resp.Kind {
		case ResponseValue, ResponseNotFound:
			return nil
		}
	case OpSet:
		switch resp.Kind {
		case ResponseStored, ResponseNotStored:
			return nil
		}
	}
	if resp.Kind == ResponseError {
		return domain.ErrProtocol.WithDetails("server error: %s", resp.Message)
	}
	return domain.ErrProtocol.WithDetails("%s answered with %s", op.Kind, resp.Kind)
}

func classify(err error) error {
	if IsProtocolError(err) {
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.ErrTimeout.WithCause(err)
	}
	return domain.ErrNetwork.WithCause(err)
}

// Close closes the socket and moves to NEED_NEW_SOCKET.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	return nil
}

func (c *Connection) resetLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
	c.state = StateNeedNewSocket
}
