package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "sruth", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.ServiceVersion)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Enabled = false

	shutdown, err := Init(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	// Should be able to call shutdown without error
	err = shutdown(ctx)
	assert.NoError(t, err)

	// Should not be enabled
	assert.False(t, IsEnabled())
}

func TestTracerReturnsNoOp(t *testing.T) {
	// Reset state
	tracer = nil
	active = false

	// Without initialization, should return no-op tracer
	tr := Tracer()
	require.NotNil(t, tr)
}

func TestStartSpan(t *testing.T) {
	ctx := context.Background()

	// Even without initialization, StartSpan should work (no-op)
	newCtx, span := StartSpan(ctx, "test.operation")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)

	// Should be able to end the span
	span.End()
}

func TestSpanFromContext(t *testing.T) {
	ctx := context.Background()

	// Should return a span even without active span
	span := SpanFromContext(ctx)
	require.NotNil(t, span)
}

func TestAddEvent(t *testing.T) {
	ctx := context.Background()

	// Should not panic with no active span
	require.NotPanics(t, func() {
		AddEvent(ctx, "test.event")
	})
}

func TestRecordError(t *testing.T) {
	ctx := context.Background()

	// Should not panic with nil error
	require.NotPanics(t, func() {
		RecordError(ctx, nil)
	})

	// Should not panic with error
	require.NotPanics(t, func() {
		RecordError(ctx, errors.New("test error"))
	})
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()

	// Should not panic
	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Ok, "success")
	})

	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Error, "failed")
	})
}

func TestSetAttributes(t *testing.T) {
	ctx := context.Background()

	// Should not panic
	require.NotPanics(t, func() {
		SetAttributes(ctx, PeerAddr("192.168.1.1:7331"))
	})
}

func TestTraceID(t *testing.T) {
	ctx := context.Background()

	// Without active span, should return empty string
	traceID := TraceID(ctx)
	assert.Equal(t, "", traceID)
}

func TestSpanID(t *testing.T) {
	ctx := context.Background()

	// Without active span, should return empty string
	spanID := SpanID(ctx)
	assert.Equal(t, "", spanID)
}

func TestAttributeHelpers(t *testing.T) {
	t.Run("PeerAddr", func(t *testing.T) {
		attr := PeerAddr("192.168.1.100:7331")
		assert.Equal(t, AttrPeerAddr, string(attr.Key))
		assert.Equal(t, "192.168.1.100:7331", attr.Value.AsString())
	})

	t.Run("PeerID", func(t *testing.T) {
		attr := PeerID("peer-1")
		assert.Equal(t, AttrPeerID, string(attr.Key))
		assert.Equal(t, "peer-1", attr.Value.AsString())
	})

	t.Run("ArchivePath", func(t *testing.T) {
		attr := ArchivePath("a/b.txt")
		assert.Equal(t, AttrArchivePath, string(attr.Key))
		assert.Equal(t, "a/b.txt", attr.Value.AsString())
	})

	t.Run("PieceIndex", func(t *testing.T) {
		attr := PieceIndex(3)
		assert.Equal(t, AttrPieceIndex, string(attr.Key))
		assert.Equal(t, int64(3), attr.Value.AsInt64())
	})

	t.Run("PieceCount", func(t *testing.T) {
		attr := PieceCount(16)
		assert.Equal(t, AttrPieceCount, string(attr.Key))
		assert.Equal(t, int64(16), attr.Value.AsInt64())
	})

	t.Run("ByteCount", func(t *testing.T) {
		attr := ByteCount(131072)
		assert.Equal(t, AttrByteCount, string(attr.Key))
		assert.Equal(t, int64(131072), attr.Value.AsInt64())
	})

	t.Run("Stream", func(t *testing.T) {
		attr := Stream("data")
		assert.Equal(t, AttrStream, string(attr.Key))
		assert.Equal(t, "data", attr.Value.AsString())
	})

	t.Run("TrackerAddr", func(t *testing.T) {
		attr := TrackerAddr("127.0.0.1:38800")
		assert.Equal(t, AttrTrackerAddr, string(attr.Key))
		assert.Equal(t, "127.0.0.1:38800", attr.Value.AsString())
	})

	t.Run("CacheResult", func(t *testing.T) {
		attr := CacheResult("evicted")
		assert.Equal(t, AttrCacheResult, string(attr.Key))
		assert.Equal(t, "evicted", attr.Value.AsString())
	})
}

func TestStartHandshakeSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartHandshakeSpan(ctx, "192.168.1.100:7331")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}

func TestStartPieceTransferSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartPieceTransferSpan(ctx, "send", "a/b.txt", 0)
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	newCtx2, span2 := StartPieceTransferSpan(ctx, "receive", "a/b.txt", 1)
	require.NotNil(t, newCtx2)
	require.NotNil(t, span2)
	span2.End()
}

func TestStartArchiveSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartArchiveSpan(ctx, "promote", "a/b.txt")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}

func TestStartTrackerSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartTrackerSpan(ctx, "get_network", "127.0.0.1:38800")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}
