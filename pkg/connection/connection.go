// Package connection implements the three-socket bundle between two
// peers: one TCP socket each for the REQUEST, NOTICE, and DATA streams.
// Separating small control messages from bulk piece payloads prevents
// request/notice starvation behind a multi-megabyte piece; all three
// sockets share a soft read timeout used for keepalive detection.
package connection

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/sruth/pkg/wire"
)

// SocketCount is the number of parallel TCP sockets per Connection.
const SocketCount = 3

// Stream identifies one of the three sockets of a Connection.
type Stream int

const (
	// StreamRequest carries Requests and the handshake Predicates.
	StreamRequest Stream = iota
	// StreamNotice carries Notices, addenda, and removals.
	StreamNotice
	// StreamData carries Piece payloads.
	StreamData
)

func (s Stream) String() string {
	switch s {
	case StreamRequest:
		return "request"
	case StreamNotice:
		return "notice"
	case StreamData:
		return "data"
	default:
		return "stream(" + strconv.Itoa(int(s)) + ")"
	}
}

// ErrReadTimeout is returned by Read when the socket's soft read timeout
// elapses with no inbound record. Receivers treat it as a keepalive
// tick, not a failure: the connection is only dead when the read fails
// with a real I/O error.
var ErrReadTimeout = errors.New("connection: soft read timeout")

// ErrClosed is returned by Read and Write after Close.
var ErrClosed = errors.New("connection: closed")

// socket is one of the three TCP streams, with independent read and
// write halves. Reads and writes on the same socket are each serialized
// by their own mutex; reads never block writes.
type socket struct {
	conn net.Conn

	readMu sync.Mutex
	br     *bufio.Reader

	writeMu sync.Mutex
	bw      *bufio.Writer
}

// Connection is a bundle of SocketCount TCP sockets between the same two
// endpoints. It is owned by exactly one Peer for its lifetime; Close
// releases all three sockets on every exit path.
type Connection struct {
	id        uuid.UUID
	remote    string
	soTimeout time.Duration

	sockets [SocketCount]*socket

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial opens a client-side Connection to host, connecting the three
// sockets in ascending port order starting at startPort, per the
// construction-order contract the accepting Server relies on to match
// inbound sockets into triples.
func Dial(ctx context.Context, host string, startPort int, soTimeout time.Duration) (*Connection, error) {
	var d net.Dialer
	var conns [SocketCount]net.Conn

	for i := 0; i < SocketCount; i++ {
		addr := net.JoinHostPort(host, strconv.Itoa(startPort+i))
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			for j := 0; j < i; j++ {
				conns[j].Close()
			}
			return nil, fmt.Errorf("connection: dial %s socket %d: %w", addr, i, err)
		}
		conns[i] = c
	}

	return FromSockets(conns, soTimeout), nil
}

// FromSockets bundles three already-established sockets (in
// REQUEST/NOTICE/DATA order) into a Connection. The Server uses this
// once it has matched an inbound triple by remote address.
func FromSockets(conns [SocketCount]net.Conn, soTimeout time.Duration) *Connection {
	c := &Connection{
		id:        uuid.New(),
		remote:    conns[0].RemoteAddr().String(),
		soTimeout: soTimeout,
		closed:    make(chan struct{}),
	}
	for i, nc := range conns {
		c.sockets[i] = &socket{
			conn: nc,
			br:   bufio.NewReader(nc),
			bw:   bufio.NewWriter(nc),
		}
	}
	return c
}

// ID returns the Connection's correlation id, used in logs and traces.
func (c *Connection) ID() string {
	return c.id.String()
}

// Remote returns the remote endpoint of the REQUEST socket.
func (c *Connection) Remote() string {
	return c.remote
}

// RemoteHost returns the host part of Remote.
func (c *Connection) RemoteHost() string {
	host, _, err := net.SplitHostPort(c.remote)
	if err != nil {
		return c.remote
	}
	return host
}

// Write frames rec onto the given stream's socket. Writes on the same
// stream are serialized; writes on different streams proceed in
// parallel.
func (c *Connection) Write(stream Stream, rec wire.Record) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	s := c.sockets[stream]
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := wire.WriteRecord(s.bw, rec); err != nil {
		return err
	}
	return s.bw.Flush()
}

// Read reads the next record from the given stream's socket, waiting at
// most the soft read timeout. A quiet interval returns ErrReadTimeout;
// anything else is a real failure or a decoded record.
func (c *Connection) Read(stream Stream) (wire.Record, error) {
	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}

	s := c.sockets[stream]
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if c.soTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(c.soTimeout)); err != nil {
			return nil, err
		}
	}

	rec, err := wire.ReadRecord(s.br)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() && s.br.Buffered() == 0 {
			return nil, ErrReadTimeout
		}
		return nil, err
	}
	return rec, nil
}

// Close closes all three sockets. Safe to call from any goroutine and
// more than once; a Peer being cancelled closes its Connection to force
// its six tasks out of blocking I/O.
func (c *Connection) Close() error {
	var firstErr error
	c.closeOnce.Do(func() {
		close(c.closed)
		for _, s := range c.sockets {
			if err := s.conn.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}
