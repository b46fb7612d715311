package logger

import "log/slog"

// Standard field keys for structured logging. Use these keys
// consistently across all log statements so aggregated logs from many
// nodes stay queryable.
const (
	// Distributed tracing
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// Peer & connection
	KeyPeerID       = "peer_id"       // Peer identifier, unique within a node's lifetime
	KeyConnectionID = "connection_id" // Connection correlation id
	KeyRemote       = "remote"        // Remote endpoint address
	KeyStream       = "stream"        // Connection stream: request, notice, data

	// Archive
	KeyPath       = "path"        // ArchivePath of the file involved
	KeyVersion    = "version"     // ArchiveTime identifying the file version
	KeyPieceIndex = "piece_index" // Piece index within its file
	KeyPieceCount = "piece_count" // Total pieces of the file
	KeySize       = "size"        // File or payload size in bytes
	KeyTTL        = "ttl"         // File time-to-live

	// Tracker
	KeyTracker = "tracker" // Tracker TCP address
	KeyServer  = "server"  // A peer server's dialable address

	// Operation metadata
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyCount      = "count"       // Generic count (requests reclaimed, entries evicted, ...)
	KeyOutcome    = "outcome"     // Operation outcome: live, cached, dropped, ...
)

// Field constructors for type safety.

// TraceID returns a slog.Attr for an OpenTelemetry trace ID.
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for an OpenTelemetry span ID.
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// PeerID returns a slog.Attr for a peer identifier.
func PeerID(id string) slog.Attr {
	return slog.String(KeyPeerID, id)
}

// ConnectionID returns a slog.Attr for a connection correlation id.
func ConnectionID(id string) slog.Attr {
	return slog.String(KeyConnectionID, id)
}

// Remote returns a slog.Attr for a remote endpoint address.
func Remote(addr string) slog.Attr {
	return slog.String(KeyRemote, addr)
}

// Stream returns a slog.Attr for a connection stream name.
func Stream(name string) slog.Attr {
	return slog.String(KeyStream, name)
}

// Path returns a slog.Attr for an ArchivePath.
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Version returns a slog.Attr for an ArchiveTime in milliseconds.
func Version(millis int64) slog.Attr {
	return slog.Int64(KeyVersion, millis)
}

// PieceIndex returns a slog.Attr for a piece index.
func PieceIndex(i int) slog.Attr {
	return slog.Int(KeyPieceIndex, i)
}

// PieceCount returns a slog.Attr for a file's total piece count.
func PieceCount(n int) slog.Attr {
	return slog.Int(KeyPieceCount, n)
}

// Size returns a slog.Attr for a byte size.
func Size(n int64) slog.Attr {
	return slog.Int64(KeySize, n)
}

// Tracker returns a slog.Attr for a tracker address.
func Tracker(addr string) slog.Attr {
	return slog.String(KeyTracker, addr)
}

// Server returns a slog.Attr for a peer server address.
func Server(addr string) slog.Attr {
	return slog.String(KeyServer, addr)
}

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Count returns a slog.Attr for a generic count.
func Count(n int) slog.Attr {
	return slog.Int(KeyCount, n)
}

// Outcome returns a slog.Attr for an operation outcome.
func Outcome(o string) slog.Attr {
	return slog.String(KeyOutcome, o)
}
