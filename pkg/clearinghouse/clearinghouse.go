// Package clearinghouse implements the node-wide broker reconciling
// local archive state, outstanding piece requests, and peer offerings.
// It owns the local Predicate, guarantees no two peers are concurrently
// asked for the same piece, and fans archive events out to every
// registered peer subject to that peer's remote Predicate.
package clearinghouse

import (
	"sync"

	"github.com/marmos91/sruth/internal/logger"
	"github.com/marmos91/sruth/pkg/archive"
	"github.com/marmos91/sruth/pkg/archivepath"
	"github.com/marmos91/sruth/pkg/fileid"
	"github.com/marmos91/sruth/pkg/filter"
	"github.com/marmos91/sruth/pkg/metrics"
	"github.com/marmos91/sruth/pkg/piece"
)

// PeerHandle is the ClearingHouse's non-owning view of a registered
// Peer: enough to fan out notices and to attribute outstanding requests.
// The ClearingHouse never blocks on a PeerHandle; Send* methods enqueue
// onto the peer's bounded outbound queues and drop when the peer is
// already tearing down.
type PeerHandle interface {
	// ID returns a stable identifier for this peer, unique within the
	// node's lifetime.
	ID() string

	// RemotePredicate returns the predicate the remote side declared at
	// handshake, used to decide which notices interest it.
	RemotePredicate() *filter.Predicate

	// SendNotice offers spec's pieces to the remote side.
	SendNotice(spec piece.FilePieceSpecs)

	// SendRemoval announces that id's file has left the local archive.
	SendRemoval(id fileid.FileId)
}

// specKey identifies one (FileId, pieceIndex) in the outstanding table.
type specKey struct {
	path  archivepath.ArchivePath
	time  int64
	index int
}

func keyOf(info fileid.FileInfo, index int) specKey {
	return specKey{path: info.ID.Path, time: info.ID.Time.Millis(), index: index}
}

// ClearingHouse coordinates all Peers of one node with its Archive. It
// implements archive.DataProductListener so that files appearing via
// PutPiece or the filesystem watcher are offered to interested peers.
type ClearingHouse struct {
	archive *archive.Archive
	pred    *filter.Predicate

	mu          sync.Mutex
	peers       []PeerHandle
	outstanding map[specKey]string // piece -> ID of the one peer asked

	metrics metrics.NodeMetrics
}

// New builds a ClearingHouse over arch owning pred, and registers itself
// for the archive's data-product events. nodeMetrics may be nil.
func New(arch *archive.Archive, pred *filter.Predicate, nodeMetrics metrics.NodeMetrics) *ClearingHouse {
	ch := &ClearingHouse{
		archive:     arch,
		pred:        pred,
		outstanding: make(map[specKey]string),
		metrics:     nodeMetrics,
	}
	pred.OnChanged(func() {
		logger.Debug("local predicate narrowed",
			"unsatisfied", len(pred.UnsatisfiedFilters()))
	})
	arch.AddDataProductListener(ch)
	return ch
}

// LocalPredicate returns the node's predicate. Peers serialize it at
// handshake; they never mutate it directly.
func (ch *ClearingHouse) LocalPredicate() *filter.Predicate {
	return ch.pred
}

// Archive returns the archive this ClearingHouse brokers for.
func (ch *ClearingHouse) Archive() *archive.Archive {
	return ch.archive
}

// Register adds p to the fan-out list.
func (ch *ClearingHouse) Register(p PeerHandle) {
	ch.mu.Lock()
	ch.peers = append(ch.peers, p)
	n := len(ch.peers)
	ch.mu.Unlock()

	if ch.metrics != nil {
		ch.metrics.SetActivePeers(n)
	}
}

// Unregister removes p and reclaims every outstanding request attributed
// to it, returning that demand to the pool: the next Notice naming those
// pieces (from any peer) will trigger a fresh Request.
func (ch *ClearingHouse) Unregister(p PeerHandle) {
	ch.mu.Lock()
	for i, cur := range ch.peers {
		if cur == p {
			ch.peers = append(ch.peers[:i], ch.peers[i+1:]...)
			break
		}
	}
	reclaimed := 0
	for k, owner := range ch.outstanding {
		if owner == p.ID() {
			delete(ch.outstanding, k)
			reclaimed++
		}
	}
	n := len(ch.peers)
	outstanding := len(ch.outstanding)
	ch.mu.Unlock()

	if reclaimed > 0 {
		logger.Debug("reclaimed outstanding requests from departed peer",
			"peer", p.ID(), "count", reclaimed)
	}
	if ch.metrics != nil {
		ch.metrics.SetActivePeers(n)
		ch.metrics.SetOutstandingRequests(outstanding)
	}
}

// ShouldRequest decides whether the peer identified by peerID should
// request (info, index) in response to a Notice. It returns true exactly
// when the piece matches the local predicate, the archive does not
// already hold it, and no request for it is outstanding anywhere; a true
// return records peerID as the one responsible peer ("first to offer"
// wins the tie-break).
func (ch *ClearingHouse) ShouldRequest(info fileid.FileInfo, index int, peerID string) bool {
	if !ch.pred.Matches(info.ID.Path) {
		return false
	}
	if ch.archive.Exists(piece.PieceSpec{Info: info, Index: index}) {
		return false
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	k := keyOf(info, index)
	if _, taken := ch.outstanding[k]; taken {
		return false
	}
	ch.outstanding[k] = peerID

	if ch.metrics != nil {
		ch.metrics.SetOutstandingRequests(len(ch.outstanding))
	}
	return true
}

// PieceArrived delivers a received piece to the archive and settles the
// bookkeeping: all outstanding requests for the piece are cancelled
// locally regardless of which peer supplied it (no cancellation is sent
// on the wire; stale requests silently produce nothing at the remote).
// When the piece completes its file the local predicate's matching
// filter is marked satisfied. The predicate's change callback only logs
// the change: peers are not sent the narrowed predicate and keep the one
// exchanged at handshake.
func (ch *ClearingHouse) PieceArrived(p piece.Piece) (complete bool, err error) {
	complete, err = ch.archive.PutPiece(p)

	ch.mu.Lock()
	delete(ch.outstanding, keyOf(p.Info, p.Index))
	outstanding := len(ch.outstanding)
	ch.mu.Unlock()

	if ch.metrics != nil {
		ch.metrics.SetOutstandingRequests(outstanding)
	}
	if err != nil {
		return false, err
	}

	if complete {
		if matched, ok := ch.pred.MatchingUnsatisfiedFilter(p.Info.ID.Path); ok {
			ch.pred.MarkSatisfied(matched)
		}
	}
	return complete, nil
}

// OutstandingCount returns the current size of the outstanding-request
// table, for the admin surface.
func (ch *ClearingHouse) OutstandingCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.outstanding)
}

// PeerCount returns the number of registered peers, for the admin
// surface.
func (ch *ClearingHouse) PeerCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.peers)
}

func (ch *ClearingHouse) snapshotPeers() []PeerHandle {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]PeerHandle(nil), ch.peers...)
}

// OnFileAppeared implements archive.DataProductListener: a file became
// complete locally (via the last PutPiece or the filesystem watcher), so
// every peer whose remote predicate matches is offered it.
func (ch *ClearingHouse) OnFileAppeared(spec piece.FilePieceSpecs) {
	for _, p := range ch.snapshotPeers() {
		if p.RemotePredicate().Matches(spec.Info.ID.Path) {
			p.SendNotice(spec)
		}
	}
}

// OnFileRemoved implements archive.DataProductListener.
func (ch *ClearingHouse) OnFileRemoved(id fileid.FileId) {
	for _, p := range ch.snapshotPeers() {
		if p.RemotePredicate().Matches(id.Path) {
			p.SendRemoval(id)
		}
	}
}
