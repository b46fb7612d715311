// Package server implements the inbound side of peer connections: it
// binds SOCKET_COUNT consecutive TCP ports, matches inbound sockets into
// per-remote triples, and hands each completed triple to the node as a
// fresh Connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/sruth/internal/logger"
	"github.com/marmos91/sruth/pkg/connection"
)

// tripleTimeout bounds how long a partially assembled triple may wait
// for its remaining sockets before the ones already accepted are closed.
// A client that dialed only one or two sockets and then died would
// otherwise leak them forever.
const tripleTimeout = 30 * time.Second

// ErrNoFreePorts is returned by Listen when no run of SocketCount
// consecutive ports in the configured range could be bound. Fatal: the
// node cannot start without a server.
var ErrNoFreePorts = errors.New("server: no run of consecutive free ports in range")

// ConnectionHandler receives each completed inbound Connection. The
// Server does not wait for it to return; implementations (the Node)
// spawn a Peer and run it on their own executor.
type ConnectionHandler func(conn *connection.Connection)

// pending is a partially assembled triple from one remote host: per
// stream slot, the sockets accepted so far but not yet bundled.
type pending struct {
	slots    [connection.SocketCount][]net.Conn
	deadline time.Time
}

// Server accepts inbound peer sockets on SOCKET_COUNT consecutive
// ports. The port a socket arrives on determines its stream (port-port0
// is the stream index); sockets are matched into triples by remote host.
type Server struct {
	listeners [connection.SocketCount]net.Listener
	firstPort int
	soTimeout time.Duration
	handler   ConnectionHandler

	mu      sync.Mutex
	pending map[string]*pending

	closeOnce sync.Once
}

// Listen binds the first run of SOCKET_COUNT consecutive free ports in
// [portFrom, portTo] on host, trying ascending starting ports.
func Listen(host string, portFrom, portTo int, soTimeout time.Duration, handler ConnectionHandler) (*Server, error) {
	for start := portFrom; start+connection.SocketCount-1 <= portTo; start++ {
		listeners, ok := tryBind(host, start)
		if !ok {
			continue
		}
		return &Server{
			listeners: listeners,
			firstPort: start,
			soTimeout: soTimeout,
			handler:   handler,
			pending:   make(map[string]*pending),
		}, nil
	}
	return nil, fmt.Errorf("%w: [%d, %d]", ErrNoFreePorts, portFrom, portTo)
}

func tryBind(host string, start int) (listeners [connection.SocketCount]net.Listener, ok bool) {
	for i := 0; i < connection.SocketCount; i++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(start+i)))
		if err != nil {
			for j := 0; j < i; j++ {
				listeners[j].Close()
			}
			return listeners, false
		}
		listeners[i] = l
	}
	return listeners, true
}

// FirstPort returns the REQUEST-stream port, the one a Publisher prints
// to stdout and the one clients dial first.
func (s *Server) FirstPort() int {
	return s.firstPort
}

// Serve runs the three accept loops until ctx is cancelled or a listener
// fails. Cancellation closes the listeners, failing the blocked Accept
// calls out cleanly.
func (s *Server) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		s.Close()
		return ctx.Err()
	})

	for i := 0; i < connection.SocketCount; i++ {
		stream := connection.Stream(i)
		g.Go(func() error { return s.acceptLoop(ctx, stream) })
	}

	return g.Wait()
}

func (s *Server) acceptLoop(ctx context.Context, stream connection.Stream) error {
	l := s.listeners[stream]
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("server: accept on %s stream: %w", stream, err)
		}
		s.add(stream, conn)
	}
}

// add slots conn into its remote host's pending triple, completing a
// Connection when all three streams have a socket from that host.
func (s *Server) add(stream connection.Stream, conn net.Conn) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		conn.Close()
		return
	}

	s.mu.Lock()
	s.expireLocked(time.Now())

	p, ok := s.pending[host]
	if !ok {
		p = &pending{}
		s.pending[host] = p
	}
	p.slots[stream] = append(p.slots[stream], conn)
	p.deadline = time.Now().Add(tripleTimeout)

	var triple [connection.SocketCount]net.Conn
	complete := true
	for i := range p.slots {
		if len(p.slots[i]) == 0 {
			complete = false
			break
		}
	}
	if complete {
		for i := range p.slots {
			triple[i] = p.slots[i][0]
			p.slots[i] = p.slots[i][1:]
		}
		empty := true
		for i := range p.slots {
			if len(p.slots[i]) > 0 {
				empty = false
				break
			}
		}
		if empty {
			delete(s.pending, host)
		}
	}
	s.mu.Unlock()

	if complete {
		c := connection.FromSockets(triple, s.soTimeout)
		logger.Debug("inbound connection assembled", "remote", c.Remote(), "id", c.ID())
		s.handler(c)
	}
}

// expireLocked drops pending triples whose deadline passed, closing
// their sockets. Caller holds s.mu.
func (s *Server) expireLocked(now time.Time) {
	for host, p := range s.pending {
		if now.Before(p.deadline) {
			continue
		}
		for i := range p.slots {
			for _, c := range p.slots[i] {
				c.Close()
			}
		}
		delete(s.pending, host)
		logger.Debug("expired incomplete socket triple", "remote", host)
	}
}

// Close shuts the listeners and any partially assembled triples. Safe to
// call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		for _, l := range s.listeners {
			l.Close()
		}
		s.mu.Lock()
		for host, p := range s.pending {
			for i := range p.slots {
				for _, c := range p.slots[i] {
					c.Close()
				}
			}
			delete(s.pending, host)
		}
		s.mu.Unlock()
	})
}
