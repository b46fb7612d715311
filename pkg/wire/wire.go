// Package wire implements the typed, length-prefixed, self-describing
// record codec shared by peer Connections and the tracker protocol.
// Each record is framed as:
//
//	[4-byte big-endian type tag][4-byte big-endian payload length][XDR-encoded payload]
//
// The payload itself is encoded with github.com/rasky/go-xdr, an RFC 4506
// XDR implementation. Interoperability hinges on the framing and the
// message shapes below, not on any host serialization format.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// Type tags identify the record shape following the length prefix.
type Type uint32

const (
	TypePredicate Type = iota + 1
	TypePieceSpec
	TypePieceSpecSet
	TypeFilePieceSpecSet
	TypeAddendumSpec
	TypePiece
	TypeRemoval
)

func (t Type) String() string {
	switch t {
	case TypePredicate:
		return "Predicate"
	case TypePieceSpec:
		return "PieceSpec"
	case TypePieceSpecSet:
		return "PieceSpecSet"
	case TypeFilePieceSpecSet:
		return "FilePieceSpecSet"
	case TypeAddendumSpec:
		return "AddendumSpec"
	case TypePiece:
		return "Piece"
	case TypeRemoval:
		return "Removal"
	case TypeNetworkRequest:
		return "NetworkRequest"
	case TypeNetworkReply:
		return "NetworkReply"
	case TypeOfflineReport:
		return "OfflineReport"
	default:
		return fmt.Sprintf("Type(%d)", uint32(t))
	}
}

// maxRecordLength guards against a corrupt or hostile length prefix
// causing an unbounded allocation; it comfortably exceeds one piece
// payload plus its framing overhead.
const maxRecordLength = 8 * 1024 * 1024

// Errors returned by the wire codec. Both are data-corruption class
// (§7): the caller should fail the affected Peer, not the node.
var (
	ErrUnknownType    = errors.New("wire: unknown record type tag")
	ErrRecordTooLarge = errors.New("wire: record length exceeds maximum")
)

// Record is any value this package can frame onto a stream.
type Record interface {
	// WireType returns this record's type tag.
	WireType() Type
}

// WriteRecord XDR-encodes rec's payload and writes the framed record to
// w: type tag, length, payload.
func WriteRecord(w io.Writer, rec Record) error {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, rec); err != nil {
		return fmt.Errorf("wire: marshal %s: %w", rec.WireType(), err)
	}

	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(rec.WireType()))
	binary.BigEndian.PutUint32(header[4:8], uint32(buf.Len()))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return nil
}

// ReadRecord reads one framed record from r and decodes it into the
// concrete Record type identified by its tag.
func ReadRecord(r io.Reader) (Record, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	typ := Type(binary.BigEndian.Uint32(header[0:4]))
	length := binary.BigEndian.Uint32(header[4:8])
	if length > maxRecordLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, length)
	}

	lr := io.LimitReader(r, int64(length))

	rec, err := newRecord(typ)
	if err != nil {
		return nil, err
	}
	if _, err := xdr.Unmarshal(lr, rec); err != nil {
		return nil, fmt.Errorf("wire: unmarshal %s: %w", typ, err)
	}
	return rec, nil
}

func newRecord(typ Type) (Record, error) {
	switch typ {
	case TypePredicate:
		return &PredicateRecord{}, nil
	case TypePieceSpec:
		return &PieceSpecRecord{}, nil
	case TypePieceSpecSet:
		return &PieceSpecSetRecord{}, nil
	case TypeFilePieceSpecSet:
		return &FilePieceSpecSetRecord{}, nil
	case TypeAddendumSpec:
		return &AddendumSpecRecord{}, nil
	case TypePiece:
		return &PieceRecord{}, nil
	case TypeRemoval:
		return &RemovalRecord{}, nil
	case TypeNetworkRequest:
		return &NetworkRequestRecord{}, nil
	case TypeNetworkReply:
		return &NetworkReplyRecord{}, nil
	case TypeOfflineReport:
		return &OfflineReportRecord{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint32(typ))
	}
}
