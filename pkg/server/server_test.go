package server

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/sruth/pkg/connection"
	"github.com/marmos91/sruth/pkg/wire"
)

// listenTest binds a server somewhere in a private test range.
func listenTest(t *testing.T, handler ConnectionHandler) *Server {
	t.Helper()
	s, err := Listen("127.0.0.1", 42000, 42999, time.Second, handler)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestListenFindsConsecutivePorts(t *testing.T) {
	accepted := make(chan *connection.Connection, 1)
	s1 := listenTest(t, func(c *connection.Connection) { accepted <- c })

	// A second server must skip s1's ports and still succeed.
	s2 := listenTest(t, func(c *connection.Connection) { c.Close() })

	if s1.FirstPort() == s2.FirstPort() {
		t.Fatalf("both servers claim port %d", s1.FirstPort())
	}
	if s2.FirstPort() < s1.FirstPort()+connection.SocketCount {
		t.Errorf("second server's range %d overlaps first's starting at %d",
			s2.FirstPort(), s1.FirstPort())
	}
}

func TestTripleAssemblesIntoConnection(t *testing.T) {
	accepted := make(chan *connection.Connection, 1)
	s := listenTest(t, func(c *connection.Connection) { accepted <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Serve(ctx)

	client, err := connection.Dial(ctx, "127.0.0.1", s.FirstPort(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	var serverConn *connection.Connection
	select {
	case serverConn = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("server never assembled the triple")
	}
	defer serverConn.Close()

	// Records written by the client arrive on the matching stream.
	go client.Write(connection.StreamNotice, &wire.RemovalRecord{Path: "x", TimeMillis: 1})

	rec, err := serverConn.Read(connection.StreamNotice)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if _, ok := rec.(*wire.RemovalRecord); !ok {
		t.Fatalf("got %T on notice stream, want *RemovalRecord", rec)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	s := listenTest(t, func(c *connection.Connection) { c.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Serve returned nil after cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop after cancel")
	}
}
