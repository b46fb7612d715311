package archive

import (
	"container/list"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"

	"github.com/marmos91/sruth/pkg/archivepath"
	"github.com/marmos91/sruth/pkg/archivetime"
	"github.com/marmos91/sruth/pkg/fileid"
	"github.com/marmos91/sruth/pkg/piece"
)

type diskFileState int

const (
	statePartial diskFileState = iota
	stateComplete
)

// DiskFile is the archive's in-memory record of one ArchivePath's current
// version and on-disk location. While Partial it lives
// under the hidden `.sruth/` mirror with a trailing bitmap; once every
// piece has arrived it is materialized to its visible path and the
// bitmap is dropped.
//
// mu guards handle, bits and state: the fields that change under
// concurrent PutPiece/GetPiece calls for this one file. The archive-wide
// map and LRU bookkeeping are guarded separately, by Archive.mu.
type DiskFile struct {
	mu sync.Mutex

	info   fileid.FileInfo
	state  diskFileState
	bits   piece.FiniteBitSet
	handle *os.File

	lruElem *list.Element // nil when not currently holding an open handle
}

func newDiskFile(info fileid.FileInfo) *DiskFile {
	return &DiskFile{
		info:  info,
		state: statePartial,
		bits:  piece.NewPartial(info.PieceCount()),
	}
}

func (df *DiskFile) isComplete() bool {
	return df.state == stateComplete
}

// hiddenPath returns the staging location for path under root.
func hiddenPath(root string, path archivepath.ArchivePath) string {
	return filepath.Join(root, archivepath.HiddenDir, filepath.FromSlash(path.String()))
}

// visiblePath returns the final, user-visible location for path under root.
func visiblePath(root string, path archivepath.ArchivePath) string {
	return filepath.Join(root, filepath.FromSlash(path.String()))
}

func (df *DiskFile) currentPath(root string) string {
	if df.isComplete() {
		return visiblePath(root, df.info.ID.Path)
	}
	return hiddenPath(root, df.info.ID.Path)
}

// The trailing bitmap persisted after a partial file's payload region
// (bytes [size, eof)): an 8-byte ArchiveTime stamp, a 4-byte bit count,
// then the raw bitmap. The stamp keeps a leftover bitmap from a
// superseded version of the same path from being mistaken for progress
// on the current one; materialization truncates the whole record away.
const trailingHeaderLen = 12

// writeTrailingBitmap persists bits after the payload region of f.
// Never called with a complete set: the piece completing the file
// triggers materialization instead.
func writeTrailingBitmap(f *os.File, info fileid.FileInfo, bits piece.FiniteBitSet) error {
	raw := bits.Bytes()
	buf := make([]byte, trailingHeaderLen+len(raw))
	binary.BigEndian.PutUint64(buf[0:8], uint64(info.ID.Time.Millis()))
	binary.BigEndian.PutUint32(buf[8:12], uint32(bits.N()))
	copy(buf[trailingHeaderLen:], raw)

	_, err := f.WriteAt(buf, info.Size)
	return err
}

// readTrailingBitmap recovers the received-piece bitmap a previous run
// left on a hidden partial file. ok is false when there is no file, no
// trailing record, or the record belongs to a different version or
// piece layout.
func readTrailingBitmap(path string, info fileid.FileInfo) (piece.FiniteBitSet, bool) {
	f, err := os.Open(path)
	if err != nil {
		return piece.FiniteBitSet{}, false
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil || st.Size() < info.Size+trailingHeaderLen {
		return piece.FiniteBitSet{}, false
	}

	buf := make([]byte, st.Size()-info.Size)
	if _, err := f.ReadAt(buf, info.Size); err != nil {
		return piece.FiniteBitSet{}, false
	}

	stamp := archivetime.ArchiveTime(binary.BigEndian.Uint64(buf[0:8]))
	n := int(binary.BigEndian.Uint32(buf[8:12]))
	if !stamp.Equal(info.ID.Time) || n != info.PieceCount() {
		return piece.FiniteBitSet{}, false
	}

	return piece.FromBytes(n, buf[trailingHeaderLen:]), true
}
