package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for peer protocol spans.
const (
	AttrPeerAddr    = "peer.addr"
	AttrPeerID      = "peer.id"
	AttrArchivePath = "archive.path"
	AttrArchiveTime = "archive.time"
	AttrPieceIndex  = "piece.index"
	AttrPieceCount  = "piece.count"
	AttrByteCount   = "io.byte_count"
	AttrStream      = "connection.stream"
	AttrTrackerAddr = "tracker.addr"
	AttrCacheResult = "archive.cache_result"
)

// PeerAddr returns an attribute for a peer's network address.
func PeerAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrPeerAddr, addr)
}

// PeerID returns an attribute for a peer's handshake-assigned identifier.
func PeerID(id string) attribute.KeyValue {
	return attribute.String(AttrPeerID, id)
}

// ArchivePath returns an attribute for a file's archive path.
func ArchivePath(path string) attribute.KeyValue {
	return attribute.String(AttrArchivePath, path)
}

// ArchiveTime returns an attribute for a file's archive time, formatted by the caller.
func ArchiveTime(t string) attribute.KeyValue {
	return attribute.String(AttrArchiveTime, t)
}

// PieceIndex returns an attribute for a piece's index within its file.
func PieceIndex(index uint32) attribute.KeyValue {
	return attribute.Int64(AttrPieceIndex, int64(index))
}

// PieceCount returns an attribute for a file's total piece count.
func PieceCount(count uint32) attribute.KeyValue {
	return attribute.Int64(AttrPieceCount, int64(count))
}

// ByteCount returns an attribute for a number of bytes read or written.
func ByteCount(n int) attribute.KeyValue {
	return attribute.Int(AttrByteCount, n)
}

// Stream returns an attribute naming which of the three connection sockets
// (request, notice, data) a span belongs to.
func Stream(name string) attribute.KeyValue {
	return attribute.String(AttrStream, name)
}

// TrackerAddr returns an attribute for the tracker's network address.
func TrackerAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrTrackerAddr, addr)
}

// CacheResult returns an attribute for an archive open-file cache lookup outcome.
func CacheResult(result string) attribute.KeyValue {
	return attribute.String(AttrCacheResult, result)
}

// StartHandshakeSpan starts a span covering a peer connection handshake.
func StartHandshakeSpan(ctx context.Context, peerAddr string) (context.Context, trace.Span) {
	return StartSpan(ctx, "peer.handshake", trace.WithAttributes(PeerAddr(peerAddr)))
}

// StartPieceTransferSpan starts a span covering a single piece send or receive.
// direction is "send" or "receive".
func StartPieceTransferSpan(ctx context.Context, direction, path string, index uint32) (context.Context, trace.Span) {
	return StartSpan(ctx, "piece."+direction, trace.WithAttributes(
		ArchivePath(path),
		PieceIndex(index),
	))
}

// StartArchiveSpan starts a span for an archive store operation
// (open, read, write, promote, delete).
func StartArchiveSpan(ctx context.Context, operation, path string) (context.Context, trace.Span) {
	return StartSpan(ctx, "archive."+operation, trace.WithAttributes(ArchivePath(path)))
}

// StartTrackerSpan starts a span for a tracker proxy round trip
// (getNetwork, reportOffline).
func StartTrackerSpan(ctx context.Context, operation, addr string) (context.Context, trace.Span) {
	return StartSpan(ctx, "tracker."+operation, trace.WithAttributes(TrackerAddr(addr)))
}
