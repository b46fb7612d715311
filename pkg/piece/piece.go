// Package piece defines the transfer unit (Piece) and the compact,
// serializable descriptions of "which pieces of which file" exchanged
// between peers (PieceSpec / FilePieceSpecs / PieceSpecSet).
package piece

import "github.com/marmos91/sruth/pkg/fileid"

// Size is the fixed byte size of a piece.
const Size = 131072

// Piece is one fixed-size byte range of a file, the unit of transfer.
type Piece struct {
	Info    fileid.FileInfo
	Index   int
	Payload []byte
}

// Offset returns this piece's byte offset within its file.
func (p Piece) Offset() int64 {
	return p.Info.PieceOffset(p.Index)
}

// PieceSpec names a single piece of a single file: (FileInfo, index).
type PieceSpec struct {
	Info  fileid.FileInfo
	Index int
}

// FilePieceSpecs names a set of pieces of a single file via a
// FiniteBitSet. Use NewFilePieceSpecs with allPieces=true for the common
// "whole file" notice emitted by the watcher and by AddendumSpec.
type FilePieceSpecs struct {
	Info fileid.FileInfo
	Bits FiniteBitSet
}

// NewFilePieceSpecs builds a FilePieceSpecs over info's pieces, either
// fully set (allPieces) or empty.
func NewFilePieceSpecs(info fileid.FileInfo, allPieces bool) FilePieceSpecs {
	n := info.PieceCount()
	if allPieces {
		return FilePieceSpecs{Info: info, Bits: NewComplete(n)}
	}
	return FilePieceSpecs{Info: info, Bits: NewPartial(n)}
}

// Contains reports whether index is named by this FilePieceSpecs.
func (f FilePieceSpecs) Contains(index int) bool {
	if index < 0 || index >= f.Bits.N() {
		return false
	}
	return f.Bits.IsSet(index)
}

// Each calls fn once per named piece index, in ascending order.
func (f FilePieceSpecs) Each(fn func(index int)) {
	for i := 0; i < f.Bits.N(); i++ {
		if f.Bits.IsSet(i) {
			fn(i)
		}
	}
}

// PieceSpecSet names pieces across potentially many files: a multi-file
// set. A PieceSpecSet built from one PieceSpec or one FilePieceSpecs
// holds exactly one entry; the wire codec still frames it as a set for a
// uniform Notice/Request message shape.
type PieceSpecSet struct {
	Files []FilePieceSpecs
}

// FromPieceSpec wraps a single (FileInfo, index) pair as a one-file,
// one-bit PieceSpecSet.
func FromPieceSpec(spec PieceSpec) PieceSpecSet {
	fps := NewFilePieceSpecs(spec.Info, false)
	fps.Bits = fps.Bits.SetBit(spec.Index)
	return PieceSpecSet{Files: []FilePieceSpecs{fps}}
}

// FromFilePieceSpecs wraps a single file's spec as a PieceSpecSet.
func FromFilePieceSpecs(fps FilePieceSpecs) PieceSpecSet {
	return PieceSpecSet{Files: []FilePieceSpecs{fps}}
}

// Each calls fn once per (FileInfo, index) pair named anywhere in the
// set, in file-then-index order.
func (s PieceSpecSet) Each(fn func(info fileid.FileInfo, index int)) {
	for _, f := range s.Files {
		f.Each(func(index int) {
			fn(f.Info, index)
		})
	}
}

// Empty reports whether the set holds no files. A set holding only
// files whose bitsets have no bits set is not Empty.
func (s PieceSpecSet) Empty() bool {
	return len(s.Files) == 0
}
