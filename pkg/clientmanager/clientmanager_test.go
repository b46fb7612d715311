package clientmanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/sruth/pkg/archive"
	"github.com/marmos91/sruth/pkg/clearinghouse"
	"github.com/marmos91/sruth/pkg/filter"
	"github.com/marmos91/sruth/pkg/tracker"
)

func newTestHouse(t *testing.T) *clearinghouse.ClearingHouse {
	t.Helper()
	a, err := archive.New(archive.Config{
		RootDir:             t.TempDir(),
		ActiveFileCacheSize: 4,
		PieceSize:           131072,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return clearinghouse.New(a, filter.New(filter.Everything()), nil)
}

func TestClaimBoundsAndDedupes(t *testing.T) {
	cm := New(Config{MaxOutboundPeers: 2}, nil, newTestHouse(t), nil)

	a := tracker.ServerAddr{Host: "h", FirstPort: 1}
	b := tracker.ServerAddr{Host: "h", FirstPort: 4}
	c := tracker.ServerAddr{Host: "h", FirstPort: 7}

	if !cm.claim(a) {
		t.Fatal("first claim refused")
	}
	if cm.claim(a) {
		t.Fatal("same server claimed twice")
	}
	if !cm.claim(b) {
		t.Fatal("second claim refused under budget")
	}
	if cm.claim(c) {
		t.Fatal("claim exceeded MaxOutboundPeers")
	}

	cm.release(a)
	if !cm.claim(c) {
		t.Fatal("released slot not reusable")
	}
}

// TestUnreachableServerIsReported drives the failure path end-to-end:
// the topology names a server nobody runs, the dial fails, and the
// tracker hears about it over UDP.
func TestUnreachableServerIsReported(t *testing.T) {
	tr, err := tracker.NewTracker("127.0.0.1")
	require.NoError(t, err)

	trCtx, trCancel := context.WithCancel(context.Background())
	trDone := make(chan struct{})
	go func() {
		defer close(trDone)
		tr.Run(trCtx)
	}()
	t.Cleanup(func() {
		trCancel()
		<-trDone
	})

	ch := newTestHouse(t)
	arch := ch.Archive()

	// Plant a dead server in the topology.
	dead := tracker.ServerAddr{Host: "127.0.0.1", FirstPort: 1}
	planter := tracker.NewProxy(tr.Addr(), arch, nil)
	_, err = planter.GetNetwork(context.Background(), true, filter.Everything(), dead)
	require.NoError(t, err)
	require.NoError(t, planter.Close())

	proxy := tracker.NewProxy(tr.Addr(), arch, nil)
	t.Cleanup(func() { proxy.Close() })

	self := tracker.ServerAddr{Host: "127.0.0.1", FirstPort: 43900}
	cm := New(Config{
		LocalServer:      self,
		RefreshInterval:  100 * time.Millisecond,
		MaxOutboundPeers: 4,
		SoTimeout:        time.Second,
	}, proxy, ch, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cm.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("client manager did not stop")
		}
	})

	// Eventually a refresh must observe the tracker's eviction of the
	// dead server.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		m, err := proxy.GetNetwork(context.Background(), true, filter.Everything(), self)
		require.NoError(t, err)
		gone := true
		for _, e := range m.Entries {
			for _, s := range e.Servers {
				if s == dead {
					gone = false
				}
			}
		}
		if gone {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("dead server never evicted from topology")
}
