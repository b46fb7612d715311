package wire

import (
	"bytes"
	"testing"

	"github.com/marmos91/sruth/pkg/archivepath"
	"github.com/marmos91/sruth/pkg/archivetime"
	"github.com/marmos91/sruth/pkg/fileid"
	"github.com/marmos91/sruth/pkg/filter"
	"github.com/marmos91/sruth/pkg/piece"
)

func testFileInfo() fileid.FileInfo {
	return fileid.New(archivepath.MustNew("a/b.txt"), archivetime.Now(), 200000, 131072, fileid.NeverExpireTTL)
}

func TestWriteReadPieceRecord(t *testing.T) {
	p := piece.Piece{Info: testFileInfo(), Index: 1, Payload: []byte("hello")}

	var buf bytes.Buffer
	if err := WriteRecord(&buf, EncodePiece(p)); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}

	rec, err := ReadRecord(&buf)
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}

	pr, ok := rec.(*PieceRecord)
	if !ok {
		t.Fatalf("got %T, want *PieceRecord", rec)
	}

	got, err := DecodePiece(pr)
	if err != nil {
		t.Fatalf("DecodePiece: %v", err)
	}
	if got.Info.ID.Path != p.Info.ID.Path || got.Index != p.Index || !bytes.Equal(got.Payload, p.Payload) {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, p)
	}
}

func TestWriteReadPredicateRecord(t *testing.T) {
	pred := filter.New(filter.NewPrefix("a/"), filter.NewPrefix("b/"))

	var buf bytes.Buffer
	if err := WriteRecord(&buf, EncodePredicate(pred)); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}

	rec, err := ReadRecord(&buf)
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}

	pr, ok := rec.(*PredicateRecord)
	if !ok {
		t.Fatalf("got %T, want *PredicateRecord", rec)
	}

	got, err := DecodePredicate(pr)
	if err != nil {
		t.Fatalf("DecodePredicate: %v", err)
	}

	path := archivepath.MustNew("a/x.txt")
	if !got.Matches(path) {
		t.Error("decoded predicate lost its a/ prefix filter")
	}
}

func TestWriteReadPieceSpecSetRecord(t *testing.T) {
	info := testFileInfo()
	set := piece.FromFilePieceSpecs(piece.NewFilePieceSpecs(info, true))

	var buf bytes.Buffer
	if err := WriteRecord(&buf, EncodePieceSpecSet(set)); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}

	rec, err := ReadRecord(&buf)
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}

	sr, ok := rec.(*PieceSpecSetRecord)
	if !ok {
		t.Fatalf("got %T, want *PieceSpecSetRecord", rec)
	}

	got, err := DecodePieceSpecSet(sr)
	if err != nil {
		t.Fatalf("DecodePieceSpecSet: %v", err)
	}

	var count int
	got.Each(func(_ fileid.FileInfo, _ int) { count++ })
	if count != info.PieceCount() {
		t.Errorf("decoded set named %d pieces, want %d", count, info.PieceCount())
	}
}

func TestReadRecordUnknownType(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 99, 0, 0, 0, 0})

	if _, err := ReadRecord(&buf); err == nil {
		t.Error("expected an error for an unknown type tag")
	}
}
