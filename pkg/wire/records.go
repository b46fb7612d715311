package wire

import (
	"time"

	"github.com/marmos91/sruth/pkg/archivepath"
	"github.com/marmos91/sruth/pkg/archivetime"
	"github.com/marmos91/sruth/pkg/fileid"
	"github.com/marmos91/sruth/pkg/filter"
	"github.com/marmos91/sruth/pkg/piece"
)

// FilterRecord is the XDR shape of filter.Filter. Children is populated
// only for KindAnd; it is empty otherwise.
type FilterRecord struct {
	Kind     uint32
	Prefix   string
	Pattern  string
	Children []FilterRecord
}

// PredicateRecord is the XDR shape of filter.Predicate's full snapshot,
// written by each side during the Connection handshake.
type PredicateRecord struct {
	Filters []FilterRecord
}

// WireType implements Record.
func (r *PredicateRecord) WireType() Type { return TypePredicate }

// FileInfoRecord is the XDR shape of fileid.FileInfo.
type FileInfoRecord struct {
	Path       string
	TimeMillis int64
	Size       int64
	PieceSize  int64
	TTLNanos   int64
}

// PieceSpecRecord is the XDR shape of piece.PieceSpec.
type PieceSpecRecord struct {
	Info  FileInfoRecord
	Index uint32
}

// WireType implements Record.
func (r *PieceSpecRecord) WireType() Type { return TypePieceSpec }

// FilePieceSpecsRecord is the XDR shape of piece.FilePieceSpecs. Bits is
// only populated (and only meaningful) when Complete is false.
type FilePieceSpecsRecord struct {
	Info     FileInfoRecord
	Complete bool
	N        uint32
	Bits     []byte
}

// PieceSpecSetRecord is the XDR shape of piece.PieceSpecSet: a Notice or
// Request payload naming pieces across one or more files.
type PieceSpecSetRecord struct {
	Files []FilePieceSpecsRecord
}

// WireType implements Record.
func (r *PieceSpecSetRecord) WireType() Type { return TypePieceSpecSet }

// FilePieceSpecSetRecord is a whole-file notice, as sent by a peer's
// initial offer of existing files after the handshake.
type FilePieceSpecSetRecord struct {
	Spec FilePieceSpecsRecord
}

// WireType implements Record.
func (r *FilePieceSpecSetRecord) WireType() Type { return TypeFilePieceSpecSet }

// AddendumSpecRecord is a follow-on notice for a newly appeared file,
// distinct from the initial handshake notice set.
type AddendumSpecRecord struct {
	Spec FilePieceSpecsRecord
}

// WireType implements Record.
func (r *AddendumSpecRecord) WireType() Type { return TypeAddendumSpec }

// PieceRecord carries one piece's payload.
type PieceRecord struct {
	Info    FileInfoRecord
	Index   uint32
	Payload []byte
}

// WireType implements Record.
func (r *PieceRecord) WireType() Type { return TypePiece }

// RemovalRecord announces that a path has been deleted from the archive.
type RemovalRecord struct {
	Path       string
	TimeMillis int64
}

// WireType implements Record.
func (r *RemovalRecord) WireType() Type { return TypeRemoval }

// --- domain <-> wire conversions ---

// EncodeFileInfo converts a fileid.FileInfo to its wire form.
func EncodeFileInfo(fi fileid.FileInfo) FileInfoRecord {
	return FileInfoRecord{
		Path:       fi.ID.Path.String(),
		TimeMillis: fi.ID.Time.Millis(),
		Size:       fi.Size,
		PieceSize:  fi.PieceSize,
		TTLNanos:   int64(fi.TTL),
	}
}

// DecodeFileInfo converts a wire FileInfoRecord back to a fileid.FileInfo.
func DecodeFileInfo(r FileInfoRecord) (fileid.FileInfo, error) {
	p, err := archivepath.New(r.Path)
	if err != nil {
		return fileid.FileInfo{}, err
	}
	return fileid.FileInfo{
		ID:        fileid.FileId{Path: p, Time: archivetime.ArchiveTime(r.TimeMillis)},
		Size:      r.Size,
		PieceSize: r.PieceSize,
		TTL:       time.Duration(r.TTLNanos),
	}, nil
}

// EncodeFilePieceSpecs converts piece.FilePieceSpecs to its wire form.
func EncodeFilePieceSpecs(f piece.FilePieceSpecs) FilePieceSpecsRecord {
	return FilePieceSpecsRecord{
		Info:     EncodeFileInfo(f.Info),
		Complete: f.Bits.IsComplete(),
		N:        uint32(f.Bits.N()),
		Bits:     f.Bits.Bytes(),
	}
}

// DecodeFilePieceSpecs converts a wire FilePieceSpecsRecord back to
// piece.FilePieceSpecs.
func DecodeFilePieceSpecs(r FilePieceSpecsRecord) (piece.FilePieceSpecs, error) {
	info, err := DecodeFileInfo(r.Info)
	if err != nil {
		return piece.FilePieceSpecs{}, err
	}
	var bits piece.FiniteBitSet
	if r.Complete {
		bits = piece.NewComplete(int(r.N))
	} else {
		bits = piece.FromBytes(int(r.N), r.Bits)
	}
	return piece.FilePieceSpecs{Info: info, Bits: bits}, nil
}

// EncodePieceSpecSet converts piece.PieceSpecSet to its wire form.
func EncodePieceSpecSet(s piece.PieceSpecSet) *PieceSpecSetRecord {
	rec := &PieceSpecSetRecord{Files: make([]FilePieceSpecsRecord, len(s.Files))}
	for i, f := range s.Files {
		rec.Files[i] = EncodeFilePieceSpecs(f)
	}
	return rec
}

// DecodePieceSpecSet converts a wire PieceSpecSetRecord back to
// piece.PieceSpecSet.
func DecodePieceSpecSet(r *PieceSpecSetRecord) (piece.PieceSpecSet, error) {
	set := piece.PieceSpecSet{Files: make([]piece.FilePieceSpecs, len(r.Files))}
	for i, f := range r.Files {
		fps, err := DecodeFilePieceSpecs(f)
		if err != nil {
			return piece.PieceSpecSet{}, err
		}
		set.Files[i] = fps
	}
	return set, nil
}

// EncodeFilter converts a filter.Filter to its wire form, recursively for
// KindAnd.
func EncodeFilter(f filter.Filter) FilterRecord {
	rec := FilterRecord{
		Kind:    uint32(f.Kind()),
		Prefix:  f.Prefix(),
		Pattern: f.Pattern(),
	}
	if children := f.Children(); len(children) > 0 {
		rec.Children = make([]FilterRecord, len(children))
		for i, c := range children {
			rec.Children[i] = EncodeFilter(c)
		}
	}
	return rec
}

// DecodeFilter converts a wire FilterRecord back to a filter.Filter.
func DecodeFilter(r FilterRecord) (filter.Filter, error) {
	var children []filter.Filter
	if len(r.Children) > 0 {
		children = make([]filter.Filter, len(r.Children))
		for i, c := range r.Children {
			cf, err := DecodeFilter(c)
			if err != nil {
				return filter.Filter{}, err
			}
			children[i] = cf
		}
	}
	return filter.FromParts(filter.Kind(r.Kind), r.Prefix, r.Pattern, children)
}

// EncodePredicate converts a filter.Predicate's full snapshot to its wire
// form for the handshake.
func EncodePredicate(p *filter.Predicate) *PredicateRecord {
	snapshot := p.Snapshot()
	rec := &PredicateRecord{Filters: make([]FilterRecord, len(snapshot))}
	for i, f := range snapshot {
		rec.Filters[i] = EncodeFilter(f)
	}
	return rec
}

// DecodePredicate converts a wire PredicateRecord back to a
// filter.Predicate.
func DecodePredicate(r *PredicateRecord) (*filter.Predicate, error) {
	filters := make([]filter.Filter, len(r.Filters))
	for i, fr := range r.Filters {
		f, err := DecodeFilter(fr)
		if err != nil {
			return nil, err
		}
		filters[i] = f
	}
	return filter.New(filters...), nil
}

// EncodePiece converts a piece.Piece to its wire form.
func EncodePiece(p piece.Piece) *PieceRecord {
	return &PieceRecord{
		Info:    EncodeFileInfo(p.Info),
		Index:   uint32(p.Index),
		Payload: p.Payload,
	}
}

// DecodePiece converts a wire PieceRecord back to a piece.Piece.
func DecodePiece(r *PieceRecord) (piece.Piece, error) {
	info, err := DecodeFileInfo(r.Info)
	if err != nil {
		return piece.Piece{}, err
	}
	return piece.Piece{Info: info, Index: int(r.Index), Payload: r.Payload}, nil
}

// EncodePieceSpec converts piece.PieceSpec to its wire form.
func EncodePieceSpec(s piece.PieceSpec) *PieceSpecRecord {
	return &PieceSpecRecord{Info: EncodeFileInfo(s.Info), Index: uint32(s.Index)}
}

// DecodePieceSpec converts a wire PieceSpecRecord back to a
// piece.PieceSpec.
func DecodePieceSpec(r *PieceSpecRecord) (piece.PieceSpec, error) {
	info, err := DecodeFileInfo(r.Info)
	if err != nil {
		return piece.PieceSpec{}, err
	}
	return piece.PieceSpec{Info: info, Index: int(r.Index)}, nil
}

// EncodeFilePieceSpecSet wraps a whole-file notice for the
// FilePieceSpecSet wire type.
func EncodeFilePieceSpecSet(f piece.FilePieceSpecs) *FilePieceSpecSetRecord {
	return &FilePieceSpecSetRecord{Spec: EncodeFilePieceSpecs(f)}
}

// DecodeFilePieceSpecSet unwraps a FilePieceSpecSetRecord.
func DecodeFilePieceSpecSet(r *FilePieceSpecSetRecord) (piece.FilePieceSpecs, error) {
	return DecodeFilePieceSpecs(r.Spec)
}

// EncodeAddendumSpec wraps a follow-on notice for the AddendumSpec wire
// type.
func EncodeAddendumSpec(f piece.FilePieceSpecs) *AddendumSpecRecord {
	return &AddendumSpecRecord{Spec: EncodeFilePieceSpecs(f)}
}

// DecodeAddendumSpec unwraps an AddendumSpecRecord.
func DecodeAddendumSpec(r *AddendumSpecRecord) (piece.FilePieceSpecs, error) {
	return DecodeFilePieceSpecs(r.Spec)
}

// EncodeRemoval builds a RemovalRecord for a deleted FileId.
func EncodeRemoval(id fileid.FileId) *RemovalRecord {
	return &RemovalRecord{Path: id.Path.String(), TimeMillis: id.Time.Millis()}
}

// DecodeRemoval converts a wire RemovalRecord back to a fileid.FileId.
func DecodeRemoval(r *RemovalRecord) (fileid.FileId, error) {
	p, err := archivepath.New(r.Path)
	if err != nil {
		return fileid.FileId{}, err
	}
	return fileid.FileId{Path: p, Time: archivetime.ArchiveTime(r.TimeMillis)}, nil
}
