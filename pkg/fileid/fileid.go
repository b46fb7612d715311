// Package fileid defines FileId and FileInfo, the identity and metadata
// of a single version of an archived file.
package fileid

import (
	"time"

	"github.com/marmos91/sruth/pkg/archivepath"
	"github.com/marmos91/sruth/pkg/archivetime"
)

// FileId is the immutable identity of a particular version of a file.
type FileId struct {
	Path archivepath.ArchivePath
	Time archivetime.ArchiveTime
}

// NeverExpireTTL is the sentinel FileInfo.TTL value meaning "never
// expire"; used for files under the reserved admin subtree.
const NeverExpireTTL = time.Duration(-1)

// FileInfo describes one versioned file: its identity, size, the piece
// size pieces of it are cut into, and its time-to-live.
type FileInfo struct {
	ID        FileId
	Size      int64
	PieceSize int64
	TTL       time.Duration
}

// New builds a FileInfo from its parts. The TTL is stored exactly as
// given, also for paths under the admin subtree.
func New(path archivepath.ArchivePath, at archivetime.ArchiveTime, size, pieceSize int64, ttl time.Duration) FileInfo {
	return FileInfo{
		ID:        FileId{Path: path, Time: at},
		Size:      size,
		PieceSize: pieceSize,
		TTL:       ttl,
	}
}

// NeverExpires reports whether TTL < 0, i.e. the file is never
// automatically deleted by the archive's DelayedPathActionQueue.
func (fi FileInfo) NeverExpires() bool {
	return fi.TTL < 0
}

// PieceCount returns ceil(Size/PieceSize), the number of pieces this file
// is broken into. A zero-byte file still has exactly one (empty) piece.
func (fi FileInfo) PieceCount() int {
	if fi.Size <= 0 {
		return 1
	}
	count := fi.Size / fi.PieceSize
	if fi.Size%fi.PieceSize != 0 {
		count++
	}
	return int(count)
}

// PieceOffset returns the byte offset of piece index within the file.
func (fi FileInfo) PieceOffset(index int) int64 {
	return int64(index) * fi.PieceSize
}

// PieceLength returns the payload length of piece index: PieceSize for
// every piece but the last, which may be shorter.
func (fi FileInfo) PieceLength(index int) int64 {
	offset := fi.PieceOffset(index)
	remaining := fi.Size - offset
	if remaining < fi.PieceSize {
		if remaining < 0 {
			return 0
		}
		return remaining
	}
	return fi.PieceSize
}

// ValidIndex reports whether index is within [0, PieceCount()).
func (fi FileInfo) ValidIndex(index int) bool {
	return index >= 0 && index < fi.PieceCount()
}
