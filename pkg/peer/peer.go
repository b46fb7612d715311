// Package peer implements the full-duplex protocol engine run over one
// Connection: a handshake exchanging Predicates followed by six
// concurrent tasks draining and dispatching the REQUEST, NOTICE, and
// DATA streams.
package peer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/sruth/internal/logger"
	"github.com/marmos91/sruth/internal/telemetry"
	"github.com/marmos91/sruth/pkg/bufpool"
	"github.com/marmos91/sruth/pkg/clearinghouse"
	"github.com/marmos91/sruth/pkg/connection"
	"github.com/marmos91/sruth/pkg/fileid"
	"github.com/marmos91/sruth/pkg/filter"
	"github.com/marmos91/sruth/pkg/metrics"
	"github.com/marmos91/sruth/pkg/piece"
	"github.com/marmos91/sruth/pkg/wire"
)

// outboundQueueDepth bounds each of the three outbound queues. A full
// request or piece queue blocks the producing task; a full notice queue
// drops the record instead.
const outboundQueueDepth = 64

// ErrHandshake wraps failures during the Predicate exchange. The peer
// fails; the node survives.
var ErrHandshake = errors.New("peer: handshake failed")

// Peer is the protocol state machine over one Connection. Its six tasks
// (three senders, three receivers) run until the first of them fails or
// the context is cancelled, at which point the Connection is closed,
// forcing the rest out of blocking I/O, and the ClearingHouse reclaims
// whatever requests were still outstanding with the remote.
type Peer struct {
	id   string
	conn *connection.Connection
	ch   *clearinghouse.ClearingHouse

	remotePred *filter.Predicate

	requestQ chan wire.Record
	noticeQ  chan wire.Record
	pieceQ   chan wire.Record

	metrics metrics.NodeMetrics
}

// New builds a Peer over conn, brokered by ch. The Peer takes ownership
// of conn; Run closes it on every exit path. nodeMetrics may be nil.
func New(conn *connection.Connection, ch *clearinghouse.ClearingHouse, nodeMetrics metrics.NodeMetrics) *Peer {
	return &Peer{
		id:       uuid.NewString(),
		conn:     conn,
		ch:       ch,
		requestQ: make(chan wire.Record, outboundQueueDepth),
		noticeQ:  make(chan wire.Record, outboundQueueDepth),
		pieceQ:   make(chan wire.Record, outboundQueueDepth),
		metrics:  nodeMetrics,
	}
}

// ID implements clearinghouse.PeerHandle.
func (p *Peer) ID() string {
	return p.id
}

// RemotePredicate implements clearinghouse.PeerHandle. It returns nil
// until the handshake has completed.
func (p *Peer) RemotePredicate() *filter.Predicate {
	return p.remotePred
}

// SendNotice implements clearinghouse.PeerHandle: offer spec's pieces to
// the remote as a follow-on AddendumSpec. Non-blocking; a full queue
// drops the notice, which is safe because a dropped offer only delays
// the remote until its next Notice round-trip.
func (p *Peer) SendNotice(spec piece.FilePieceSpecs) {
	select {
	case p.noticeQ <- wire.EncodeAddendumSpec(spec):
	default:
		logger.Debug("notice queue full, dropping offer",
			"peer", p.id, "path", spec.Info.ID.Path)
	}
}

// SendRemoval implements clearinghouse.PeerHandle.
func (p *Peer) SendRemoval(id fileid.FileId) {
	select {
	case p.noticeQ <- wire.EncodeRemoval(id):
	default:
		logger.Debug("notice queue full, dropping removal",
			"peer", p.id, "path", id.Path)
	}
}

// Run performs the handshake and then drives the six stream tasks until
// the first failure or cancellation. It always returns a non-nil error
// (io.EOF-style disconnects included) so that callers can log why the
// peer ended; context cancellation comes back as ctx.Err().
func (p *Peer) Run(ctx context.Context) error {
	defer p.conn.Close()

	_, span := telemetry.StartHandshakeSpan(ctx, p.conn.Remote())
	err := p.handshake()
	span.End()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	p.ch.Register(p)
	defer p.ch.Unregister(p)

	p.offerExisting()

	g, ctx := errgroup.WithContext(ctx)

	// Closing the Connection when ctx ends is what actually unblocks
	// the receivers, which sit in socket reads, not channel operations.
	g.Go(func() error {
		<-ctx.Done()
		p.conn.Close()
		return ctx.Err()
	})

	g.Go(func() error { return p.sendLoop(ctx, connection.StreamRequest, p.requestQ) })
	g.Go(func() error { return p.sendLoop(ctx, connection.StreamNotice, p.noticeQ) })
	g.Go(func() error { return p.sendLoop(ctx, connection.StreamData, p.pieceQ) })
	g.Go(func() error { return p.requestReceiver(ctx) })
	g.Go(func() error { return p.noticeReceiver(ctx) })
	g.Go(func() error { return p.pieceReceiver(ctx) })

	return g.Wait()
}

// handshake writes the local Predicate to the REQUEST socket and reads
// the remote's. The exchange is symmetric, so write
// and read run concurrently: both sides write first, and neither may
// depend on the other reading before it writes.
func (p *Peer) handshake() error {
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- p.conn.Write(connection.StreamRequest, wire.EncodePredicate(p.ch.LocalPredicate()))
	}()

	rec, err := p.readRetryTimeout(connection.StreamRequest)
	if err != nil {
		p.conn.Close()
		<-writeErr
		return err
	}
	if err := <-writeErr; err != nil {
		return err
	}
	predRec, ok := rec.(*wire.PredicateRecord)
	if !ok {
		return fmt.Errorf("expected Predicate, got %s", rec.WireType())
	}
	remote, err := wire.DecodePredicate(predRec)
	if err != nil {
		return err
	}

	p.remotePred = remote
	logger.Debug("handshake complete", "peer", p.id, "remote", p.conn.Remote())
	return nil
}

// offerExisting walks the local archive for complete files matching the
// remote predicate and enqueues an initial Notice per file, so a freshly
// connected sink learns about data that predates the connection.
func (p *Peer) offerExisting() {
	if p.remotePred.IsNothing() {
		return
	}
	err := p.ch.Archive().Walk(p.remotePred.Matches, func(info fileid.FileInfo) {
		select {
		case p.noticeQ <- wire.EncodeFilePieceSpecSet(piece.NewFilePieceSpecs(info, true)):
		default:
			logger.Debug("notice queue full during initial offer",
				"peer", p.id, "path", info.ID.Path)
		}
	})
	if err != nil {
		logger.Warn("initial offer walk failed", "peer", p.id, "error", err)
	}
}

// sendLoop drains q onto stream until cancellation.
func (p *Peer) sendLoop(ctx context.Context, stream connection.Stream, q chan wire.Record) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec := <-q:
			start := time.Now()
			if err := p.conn.Write(stream, rec); err != nil {
				return fmt.Errorf("peer: %s send: %w", stream, err)
			}
			if pr, ok := rec.(*wire.PieceRecord); ok {
				if p.metrics != nil {
					p.metrics.RecordPieceTransferred("sent", len(pr.Payload), time.Since(start))
				}
				bufpool.Put(pr.Payload)
			}
		}
	}
}

// readRetryTimeout reads the next record from stream, looping over soft
// read timeouts (keepalive ticks).
func (p *Peer) readRetryTimeout(stream connection.Stream) (wire.Record, error) {
	for {
		rec, err := p.conn.Read(stream)
		if errors.Is(err, connection.ErrReadTimeout) {
			continue
		}
		return rec, err
	}
}

// requestReceiver reads Requests from the REQUEST socket, fetches each
// named piece from the archive, and enqueues present ones onto the DATA
// stream. Absent pieces are dropped silently: the offer the remote acted
// on was stale.
func (p *Peer) requestReceiver(ctx context.Context) error {
	for {
		rec, err := p.readRetryTimeout(connection.StreamRequest)
		if err != nil {
			return fmt.Errorf("peer: request receive: %w", err)
		}

		set, err := decodeSpecSet(rec)
		if err != nil {
			return err
		}

		var fetchErr error
		set.Each(func(info fileid.FileInfo, index int) {
			if fetchErr != nil {
				return
			}
			pc, ok, err := p.ch.Archive().GetPiece(piece.PieceSpec{Info: info, Index: index})
			if err != nil {
				fetchErr = fmt.Errorf("peer: fetch requested piece: %w", err)
				return
			}
			if !ok {
				return // stale request
			}
			select {
			case p.pieceQ <- wire.EncodePiece(pc):
			case <-ctx.Done():
				fetchErr = ctx.Err()
			}
		})
		if fetchErr != nil {
			return fetchErr
		}
	}
}

// noticeReceiver reads Notices (and addenda/removals) from the NOTICE
// socket. Each offered piece that matches the local predicate, is not
// already held, and is not outstanding anywhere becomes a Request on the
// REQUEST stream, with this peer recorded as responsible for it.
func (p *Peer) noticeReceiver(ctx context.Context) error {
	for {
		rec, err := p.readRetryTimeout(connection.StreamNotice)
		if err != nil {
			return fmt.Errorf("peer: notice receive: %w", err)
		}

		if rm, ok := rec.(*wire.RemovalRecord); ok {
			if _, err := wire.DecodeRemoval(rm); err != nil {
				return fmt.Errorf("peer: decode removal: %w", err)
			}
			// A removal notice is informational; the local archive's own
			// TTL/version reconciliation governs local deletion.
			continue
		}

		if p.ch.LocalPredicate().IsNothing() {
			continue // source node: skip request processing entirely
		}

		set, err := decodeSpecSet(rec)
		if err != nil {
			return err
		}

		wanted := map[fileid.FileId]*piece.FilePieceSpecs{}
		var order []fileid.FileId
		set.Each(func(info fileid.FileInfo, index int) {
			if !p.ch.ShouldRequest(info, index, p.id) {
				return
			}
			fps, ok := wanted[info.ID]
			if !ok {
				n := piece.NewFilePieceSpecs(info, false)
				fps = &n
				wanted[info.ID] = fps
				order = append(order, info.ID)
			}
			fps.Bits = fps.Bits.SetBit(index)
		})
		if len(order) == 0 {
			continue
		}

		req := piece.PieceSpecSet{}
		for _, id := range order {
			req.Files = append(req.Files, *wanted[id])
		}
		select {
		case p.requestQ <- wire.EncodePieceSpecSet(req):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pieceReceiver reads Pieces from the DATA socket and hands them to the
// ClearingHouse, which writes them through the archive and settles the
// outstanding-request table. A piece completing its file triggers the
// predicate/notice cascade inside the ClearingHouse.
func (p *Peer) pieceReceiver(ctx context.Context) error {
	for {
		rec, err := p.readRetryTimeout(connection.StreamData)
		if err != nil {
			return fmt.Errorf("peer: piece receive: %w", err)
		}

		pr, ok := rec.(*wire.PieceRecord)
		if !ok {
			return fmt.Errorf("peer: unexpected %s on data stream", rec.WireType())
		}
		pc, err := wire.DecodePiece(pr)
		if err != nil {
			return fmt.Errorf("peer: decode piece: %w", err)
		}

		start := time.Now()
		_, tspan := telemetry.StartPieceTransferSpan(ctx, "received", pc.Info.ID.Path.String(), uint32(pc.Index))
		complete, err := p.ch.PieceArrived(pc)
		tspan.End()
		if err != nil {
			return fmt.Errorf("peer: store piece: %w", err)
		}
		if p.metrics != nil {
			p.metrics.RecordPieceTransferred("received", len(pc.Payload), time.Since(start))
		}
		if complete {
			logger.Info("file complete", "path", pc.Info.ID.Path, "peer", p.id)
		}
	}
}

// decodeSpecSet normalizes the three spec-carrying record shapes into a
// PieceSpecSet. Any other record on a spec stream is a protocol
// violation that fails the peer.
func decodeSpecSet(rec wire.Record) (piece.PieceSpecSet, error) {
	switch r := rec.(type) {
	case *wire.PieceSpecRecord:
		spec, err := wire.DecodePieceSpec(r)
		if err != nil {
			return piece.PieceSpecSet{}, err
		}
		return piece.FromPieceSpec(spec), nil
	case *wire.PieceSpecSetRecord:
		return wire.DecodePieceSpecSet(r)
	case *wire.FilePieceSpecSetRecord:
		fps, err := wire.DecodeFilePieceSpecSet(r)
		if err != nil {
			return piece.PieceSpecSet{}, err
		}
		return piece.FromFilePieceSpecs(fps), nil
	case *wire.AddendumSpecRecord:
		fps, err := wire.DecodeAddendumSpec(r)
		if err != nil {
			return piece.PieceSpecSet{}, err
		}
		return piece.FromFilePieceSpecs(fps), nil
	default:
		return piece.PieceSpecSet{}, fmt.Errorf("peer: unexpected %s on spec stream", rec.WireType())
	}
}
