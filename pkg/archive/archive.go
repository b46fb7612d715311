// Package archive implements the disk-backed, content-addressed file
// store: a hidden `.sruth/` staging tree for partial files, atomic
// promotion to visible paths once complete, a
// bounded cache of open file handles, TTL-driven deletion, and a
// recursive filesystem watcher that turns externally-dropped files into
// archive events.
package archive

import (
	"container/list"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/marmos91/sruth/internal/logger"
	"github.com/marmos91/sruth/pkg/archivepath"
	"github.com/marmos91/sruth/pkg/archivetime"
	"github.com/marmos91/sruth/pkg/bufpool"
	"github.com/marmos91/sruth/pkg/fileid"
	"github.com/marmos91/sruth/pkg/metrics"
	"github.com/marmos91/sruth/pkg/piece"
)

// DataProductListener is notified when the archive gains or loses a
// file, whether via PutPiece reaching completeness or the filesystem
// watcher observing an externally dropped or removed file. ClearingHouse
// is the production implementation; it turns these into Notices fanned
// out to interested Peers.
type DataProductListener interface {
	OnFileAppeared(spec piece.FilePieceSpecs)
	OnFileRemoved(id fileid.FileId)
}

// Config configures an Archive.
type Config struct {
	RootDir             string
	ActiveFileCacheSize int
	PieceSize           int64
}

// Archive is the disk-backed store for one node's local files.
type Archive struct {
	root      string
	pieceSize int64
	cacheSize int

	mu      sync.Mutex
	byPath  map[archivepath.ArchivePath]*DiskFile
	openLRU *list.List

	listenersMu sync.Mutex
	listeners   []DataProductListener

	queue *DelayedPathActionQueue

	watcher    *watcher
	cancelRoot context.CancelFunc

	metrics metrics.NodeMetrics
}

// New opens (or creates) an Archive rooted at cfg.RootDir. It purges
// stale staging state left over from the hidden tree (except the
// deletion queue's own database) and starts the deletion queue's
// background runner.
func New(cfg Config, nodeMetrics metrics.NodeMetrics) (*Archive, error) {
	if cfg.ActiveFileCacheSize <= 0 {
		return nil, fmt.Errorf("archive: ActiveFileCacheSize must be positive")
	}

	hiddenRoot := filepath.Join(cfg.RootDir, archivepath.HiddenDir)
	if err := os.MkdirAll(hiddenRoot, 0755); err != nil {
		return nil, fmt.Errorf("archive: create hidden root: %w", err)
	}
	if err := os.MkdirAll(cfg.RootDir, 0755); err != nil {
		return nil, fmt.Errorf("archive: create root: %w", err)
	}
	if err := purgeHidden(hiddenRoot); err != nil {
		return nil, err
	}

	queueDir := filepath.Join(hiddenRoot, "fileDeletionQueue")
	queue, err := OpenDelayedPathActionQueue(queueDir, cfg.RootDir)
	if err != nil {
		return nil, err
	}

	a := &Archive{
		root:      cfg.RootDir,
		pieceSize: cfg.PieceSize,
		cacheSize: cfg.ActiveFileCacheSize,
		byPath:    make(map[archivepath.ArchivePath]*DiskFile),
		openLRU:   list.New(),
		queue:     queue,
		metrics:   nodeMetrics,
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancelRoot = cancel
	go queue.Run(ctx)

	return a, nil
}

// purgeHidden clears staging leftovers from the hidden tree at startup.
// Only the deletion queue's database survives a restart; everything else
// under `.sruth` is stale by definition once the in-memory DiskFile map
// is gone.
func purgeHidden(hiddenRoot string) error {
	entries, err := os.ReadDir(hiddenRoot)
	if err != nil {
		return fmt.Errorf("archive: read hidden root: %w", err)
	}
	for _, e := range entries {
		if e.Name() == "fileDeletionQueue" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(hiddenRoot, e.Name())); err != nil {
			return fmt.Errorf("archive: purge hidden entry %s: %w", e.Name(), err)
		}
	}
	return nil
}

// Root returns the archive's root directory.
func (a *Archive) Root() string {
	return a.root
}

// Close stops the watcher and deletion queue runner and closes all open
// handles.
func (a *Archive) Close() error {
	if a.watcher != nil {
		a.watcher.Close()
	}
	a.cancelRoot()

	a.mu.Lock()
	for _, df := range a.byPath {
		df.mu.Lock()
		if df.handle != nil {
			df.handle.Close()
			df.handle = nil
		}
		df.mu.Unlock()
	}
	a.mu.Unlock()

	return a.queue.Close()
}

// AddDataProductListener registers l to receive future file-appeared and
// file-removed events.
func (a *Archive) AddDataProductListener(l DataProductListener) {
	a.listenersMu.Lock()
	defer a.listenersMu.Unlock()
	a.listeners = append(a.listeners, l)
}

// RemoveDataProductListener unregisters l.
func (a *Archive) RemoveDataProductListener(l DataProductListener) {
	a.listenersMu.Lock()
	defer a.listenersMu.Unlock()
	for i, cur := range a.listeners {
		if cur == l {
			a.listeners = append(a.listeners[:i], a.listeners[i+1:]...)
			return
		}
	}
}

func (a *Archive) notifyAppeared(spec piece.FilePieceSpecs) {
	a.listenersMu.Lock()
	ls := append([]DataProductListener(nil), a.listeners...)
	a.listenersMu.Unlock()
	for _, l := range ls {
		l.OnFileAppeared(spec)
	}
}

func (a *Archive) notifyRemoved(id fileid.FileId) {
	a.listenersMu.Lock()
	ls := append([]DataProductListener(nil), a.listeners...)
	a.listenersMu.Unlock()
	for _, l := range ls {
		l.OnFileRemoved(id)
	}
}

// resident looks up the tracked DiskFile for path, applying
// single-active-version reconciliation: if want is newer than the
// resident entry the old one is discarded (cancelling its deletion and
// removing it from the LRU) and a fresh DiskFile is created; if want is
// older, ok is false and the caller should discard the incoming data.
func (a *Archive) resident(want fileid.FileInfo) (df *DiskFile, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur, exists := a.byPath[want.ID.Path]
	if !exists {
		df = a.newResidentLocked(want)
		return df, true
	}

	switch {
	case cur.info.ID.Time == want.ID.Time && cur.info.Size == want.Size:
		return cur, true
	case cur.info.ID.Time == want.ID.Time:
		// Same timestamp, different length: the file changed within one
		// millisecond (typically still being written when first seen).
		// The incoming description is the fresher one; start over, and
		// drop the stale staging file so its bytes and bitmap cannot
		// leak into the new version (their trailing stamps collide).
		a.discardLocked(cur)
		os.Remove(hiddenPath(a.root, want.ID.Path))
		df = a.newResidentLocked(want)
		return df, true
	case want.ID.Time.NewerThan(cur.info.ID.Time):
		a.discardLocked(cur)
		if err := a.queue.Cancel(visiblePath(a.root, cur.info.ID.Path)); err != nil {
			logger.Warn("failed to cancel pending deletion", "path", cur.info.ID.Path, "error", err)
		}
		df = a.newResidentLocked(want)
		return df, true
	default:
		return nil, false
	}
}

// newResidentLocked creates and tracks a fresh DiskFile, recovering any
// received-piece bitmap a previous run persisted on the hidden staging
// file (the trailing record is version-stamped, so a superseded
// version's leftovers are ignored). Caller holds a.mu.
func (a *Archive) newResidentLocked(want fileid.FileInfo) *DiskFile {
	df := newDiskFile(want)
	if bits, ok := readTrailingBitmap(hiddenPath(a.root, want.ID.Path), want); ok {
		df.bits = bits
	}
	a.byPath[want.ID.Path] = df
	return df
}

// discardLocked removes df from the path map and LRU. Caller holds a.mu.
func (a *Archive) discardLocked(df *DiskFile) {
	delete(a.byPath, df.info.ID.Path)
	if df.lruElem != nil {
		a.openLRU.Remove(df.lruElem)
		df.lruElem = nil
	}
}

// PutPiece writes p's payload into the archive, returning true once the
// owning file has become complete. Writes for a stale version of a file
// (superseded by a newer ArchiveTime already resident) are silently
// discarded.
func (a *Archive) PutPiece(p piece.Piece) (complete bool, err error) {
	if !p.Info.ValidIndex(p.Index) {
		return false, fmt.Errorf("archive: piece index %d out of range for %s", p.Index, p.Info.ID.Path)
	}

	df, ok := a.resident(p.Info)
	if !ok {
		return false, nil
	}

	df.mu.Lock()
	defer df.mu.Unlock()

	if df.isComplete() {
		return true, nil
	}

	if err := a.ensureOpen(df); err != nil {
		return false, fmt.Errorf("archive: open %s: %w", p.Info.ID.Path, err)
	}

	if _, err := df.handle.WriteAt(p.Payload, p.Offset()); err != nil {
		return false, fmt.Errorf("archive: write piece %d of %s: %w", p.Index, p.Info.ID.Path, err)
	}

	df.bits = df.bits.SetBit(p.Index)

	if !df.bits.AreAllSet() {
		// Persist progress so a restart resumes from the pieces already
		// received instead of re-requesting the whole file.
		if err := writeTrailingBitmap(df.handle, df.info, df.bits); err != nil {
			return false, fmt.Errorf("archive: persist bitmap for %s: %w", p.Info.ID.Path, err)
		}
		return false, nil
	}

	if err := a.materializeLocked(df); err != nil {
		return false, err
	}
	return true, nil
}

// materializeLocked promotes df from its hidden staging path to its
// final visible path once all of its pieces are present. Caller holds
// df.mu.
func (a *Archive) materializeLocked(df *DiskFile) error {
	if err := df.handle.Truncate(df.info.Size); err != nil {
		return fmt.Errorf("archive: truncate %s: %w", df.info.ID.Path, err)
	}
	if err := df.handle.Close(); err != nil {
		return fmt.Errorf("archive: close %s: %w", df.info.ID.Path, err)
	}
	df.handle = nil
	a.untrack(df)

	hidden := hiddenPath(a.root, df.info.ID.Path)
	visible := visiblePath(a.root, df.info.ID.Path)

	if err := renameCreatingParents(hidden, visible); err != nil {
		return fmt.Errorf("archive: materialize %s: %w", df.info.ID.Path, err)
	}

	// Stamp the file with its ArchiveTime so the on-disk version stays
	// identifiable after a restart empties the in-memory map.
	when := df.info.ID.Time.Time()
	if err := os.Chtimes(visible, when, when); err != nil {
		logger.Warn("failed to stamp archive time", "path", df.info.ID.Path, "error", err)
	}

	df.state = stateComplete
	df.bits = piece.FiniteBitSet{}

	if !df.info.NeverExpires() {
		due := time.Now().Add(df.info.TTL)
		if err := a.queue.Schedule(visible, due); err != nil {
			logger.Warn("failed to schedule TTL deletion", "path", df.info.ID.Path, "error", err)
		}
	}

	a.notifyAppeared(piece.NewFilePieceSpecs(df.info, true))
	return nil
}

// renameCreatingParents renames oldPath to newPath, creating newPath's
// parent directories if the OS reports them missing.
func renameCreatingParents(oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(newPath), 0755); err != nil {
			return err
		}
		return os.Rename(oldPath, newPath)
	}
	return nil
}

func (a *Archive) openFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
}

// GetPiece reads one piece's payload from the archive. ok is false if the
// named file and version are not resident or the piece has not yet
// arrived.
func (a *Archive) GetPiece(spec piece.PieceSpec) (p piece.Piece, ok bool, err error) {
	if !spec.Info.ValidIndex(spec.Index) {
		return piece.Piece{}, false, nil
	}

	a.mu.Lock()
	df, exists := a.byPath[spec.Info.ID.Path]
	a.mu.Unlock()
	if !exists {
		// Files dropped into the root by the operator (and discovered
		// by Walk or the watcher) are never tracked in memory; serve
		// them straight from the visible tree.
		return a.readFromDisk(spec)
	}
	if df.info.ID.Time != spec.Info.ID.Time {
		return piece.Piece{}, false, nil
	}

	df.mu.Lock()
	defer df.mu.Unlock()

	if !df.isComplete() && !df.bits.IsSet(spec.Index) {
		return piece.Piece{}, false, nil
	}

	if err := a.ensureOpen(df); err != nil {
		return piece.Piece{}, false, fmt.Errorf("archive: open %s: %w", spec.Info.ID.Path, err)
	}

	// Pulled from the piece-sized pool: the Peer returns the payload to
	// bufpool once it has been written to the DATA socket.
	buf := bufpool.Get(int(spec.Info.PieceLength(spec.Index)))
	if _, err := df.handle.ReadAt(buf, spec.Info.PieceOffset(spec.Index)); err != nil && err != io.EOF {
		return piece.Piece{}, false, fmt.Errorf("archive: read piece %d of %s: %w", spec.Index, spec.Info.ID.Path, err)
	}

	return piece.Piece{Info: spec.Info, Index: spec.Index, Payload: buf}, true, nil
}

// Exists reports whether the archive holds spec's piece.
func (a *Archive) Exists(spec piece.PieceSpec) bool {
	a.mu.Lock()
	df, exists := a.byPath[spec.Info.ID.Path]
	a.mu.Unlock()
	if !exists {
		return a.existsOnDisk(spec.Info)
	}
	if df.info.ID.Time != spec.Info.ID.Time {
		return false
	}

	df.mu.Lock()
	defer df.mu.Unlock()
	return df.isComplete() || df.bits.IsSet(spec.Index)
}

// existsOnDisk reports whether the exact version info names sits,
// complete, in the visible tree without being tracked in memory.
func (a *Archive) existsOnDisk(info fileid.FileInfo) bool {
	fi, err := os.Stat(visiblePath(a.root, info.ID.Path))
	if err != nil {
		return false
	}
	return fi.Mode().IsRegular() &&
		fi.Size() == info.Size &&
		archivetime.FromTime(fi.ModTime()) == info.ID.Time
}

// readFromDisk serves spec from the visible tree. ok is false when the
// file is absent or the on-disk version (identified by size and modify
// time, exactly as Walk reported it) no longer matches spec's FileId.
func (a *Archive) readFromDisk(spec piece.PieceSpec) (piece.Piece, bool, error) {
	if !a.existsOnDisk(spec.Info) {
		return piece.Piece{}, false, nil
	}

	f, err := os.Open(visiblePath(a.root, spec.Info.ID.Path))
	if err != nil {
		if os.IsNotExist(err) {
			return piece.Piece{}, false, nil
		}
		return piece.Piece{}, false, fmt.Errorf("archive: open %s: %w", spec.Info.ID.Path, err)
	}
	defer f.Close()

	buf := bufpool.Get(int(spec.Info.PieceLength(spec.Index)))
	if _, err := f.ReadAt(buf, spec.Info.PieceOffset(spec.Index)); err != nil && err != io.EOF {
		return piece.Piece{}, false, fmt.Errorf("archive: read piece %d of %s: %w", spec.Index, spec.Info.ID.Path, err)
	}
	return piece.Piece{Info: spec.Info, Index: spec.Index, Payload: buf}, true, nil
}

// KnownPieces returns the archive's current picture of path's file: the
// FiniteBitSet of pieces held for the resident version, if any.
func (a *Archive) KnownPieces(path archivepath.ArchivePath) (piece.FilePieceSpecs, bool) {
	a.mu.Lock()
	df, exists := a.byPath[path]
	a.mu.Unlock()
	if !exists {
		return piece.FilePieceSpecs{}, false
	}

	df.mu.Lock()
	defer df.mu.Unlock()
	if df.isComplete() {
		return piece.NewFilePieceSpecs(df.info, true), true
	}
	return piece.FilePieceSpecs{Info: df.info, Bits: df.bits}, true
}

// Remove deletes id's file from the archive, whether partial or
// complete, and cancels any pending TTL deletion for it.
func (a *Archive) Remove(id fileid.FileId) error {
	a.mu.Lock()
	df, exists := a.byPath[id.Path]
	if exists && df.info.ID.Time == id.Time {
		a.discardLocked(df)
	} else {
		exists = false
	}
	a.mu.Unlock()

	if !exists {
		return nil
	}

	df.mu.Lock()
	path := df.currentPath(a.root)
	if df.handle != nil {
		df.handle.Close()
		df.handle = nil
	}
	wasComplete := df.isComplete()
	df.mu.Unlock()

	if wasComplete {
		if err := a.queue.Cancel(path); err != nil {
			logger.Warn("failed to cancel pending deletion", "path", path, "error", err)
		}
	}

	if err := deletePathAndEmptyAncestors(a.root, path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("archive: remove %s: %w", id.Path, err)
	}

	a.notifyRemoved(id)
	return nil
}

// Save writes data as a whole file at path with the given TTL, bypassing
// the piece protocol entirely. Used for administrative files such as a
// TrackerProxy's cached topology snapshot.
func (a *Archive) Save(path archivepath.ArchivePath, data []byte, ttl time.Duration) error {
	if err := a.Hide(path, data); err != nil {
		return err
	}
	return a.Reveal(path, ttl)
}

// Hide stages data at path's hidden location without making it visible.
func (a *Archive) Hide(path archivepath.ArchivePath, data []byte) error {
	hidden := hiddenPath(a.root, path)
	if err := os.MkdirAll(filepath.Dir(hidden), 0755); err != nil {
		return fmt.Errorf("archive: hide %s: %w", path, err)
	}

	tmp := hidden + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("archive: hide %s: %w", path, err)
	}
	if err := os.Rename(tmp, hidden); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("archive: hide %s: %w", path, err)
	}
	return nil
}

// Reveal atomically promotes a previously Hidden path to visible,
// scheduling a TTL deletion unless ttl is fileid.NeverExpireTTL.
func (a *Archive) Reveal(path archivepath.ArchivePath, ttl time.Duration) error {
	hidden := hiddenPath(a.root, path)
	visible := visiblePath(a.root, path)

	if err := renameCreatingParents(hidden, visible); err != nil {
		return fmt.Errorf("archive: reveal %s: %w", path, err)
	}

	if ttl != fileid.NeverExpireTTL {
		if err := a.queue.Schedule(visible, time.Now().Add(ttl)); err != nil {
			logger.Warn("failed to schedule TTL deletion", "path", path, "error", err)
		}
	}
	return nil
}

// GetDistributedTrackerFiles reads back a tracker topology snapshot
// previously Saved under the admin subtree for trackerAddr, used by
// TrackerProxy as a fallback when the tracker itself is unreachable.
func (a *Archive) GetDistributedTrackerFiles(trackerAddr string) ([]byte, bool, error) {
	path, err := trackerSnapshotPath(trackerAddr)
	if err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(visiblePath(a.root, path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// SaveTrackerSnapshot persists a tracker's topology response to the admin
// subtree with an unbounded TTL, so other nodes' TrackerProxies can fall
// back to it.
func (a *Archive) SaveTrackerSnapshot(trackerAddr string, data []byte) error {
	path, err := trackerSnapshotPath(trackerAddr)
	if err != nil {
		return err
	}
	return a.Save(path, data, fileid.NeverExpireTTL)
}

func trackerSnapshotPath(trackerAddr string) (archivepath.ArchivePath, error) {
	sanitized := filepath.Base(trackerAddr)
	return archivepath.New(archivepath.AdminDir + "/trackers/" + sanitized + ".snapshot")
}

// Walk visits every complete, visible file under the archive root whose
// path matches match, skipping the hidden `.sruth/` subtree entirely.
func (a *Archive) Walk(match func(archivepath.ArchivePath) bool, visit func(fileid.FileInfo)) error {
	return filepath.WalkDir(a.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(a.root, p)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if rel == archivepath.HiddenDir {
				return filepath.SkipDir
			}
			return nil
		}

		ap, err := archivepath.New(filepath.ToSlash(rel))
		if err != nil {
			return nil
		}
		if !match(ap) {
			return nil
		}

		if info, ok := a.KnownPieces(ap); ok && info.Bits.IsComplete() {
			visit(info.Info)
			return nil
		}

		fi, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		visit(fileid.New(ap, archivetime.FromTime(fi.ModTime()), fi.Size(), a.pieceSize, fileid.NeverExpireTTL))
		return nil
	})
}
