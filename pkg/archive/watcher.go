package archive

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/sruth/internal/logger"
	"github.com/marmos91/sruth/pkg/archivepath"
	"github.com/marmos91/sruth/pkg/archivetime"
	"github.com/marmos91/sruth/pkg/fileid"
	"github.com/marmos91/sruth/pkg/piece"
)

// watcher recursively observes the archive's visible tree for files
// dropped or removed by something other than PutPiece, e.g. a
// SourceNode's operator copying files directly into the root.
type watcher struct {
	fsw  *fsnotify.Watcher
	root string
	a    *Archive
	done chan struct{}

	// pending debounces CREATE/WRITE bursts: a file is reported only
	// once it has stopped changing for settleDelay, so a file still
	// being copied in is never offered at a partial size.
	pendingMu sync.Mutex
	pending   map[string]*time.Timer
}

// settleDelay is how long a file must be quiet before the watcher
// reports it.
const settleDelay = 200 * time.Millisecond

// Watch starts (or restarts) the filesystem watcher over the archive's
// visible tree. It is idempotent; calling it twice replaces the prior
// watcher.
func (a *Archive) Watch() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	w := &watcher{
		fsw:     fsw,
		root:    a.root,
		a:       a,
		done:    make(chan struct{}),
		pending: make(map[string]*time.Timer),
	}
	if err := w.addTreeRecursive(a.root); err != nil {
		fsw.Close()
		return err
	}

	if a.watcher != nil {
		a.watcher.Close()
	}
	a.watcher = w
	go w.run()
	return nil
}

func (w *watcher) Close() {
	close(w.done)
	w.fsw.Close()
}

func (w *watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.handleError(err)
		}
	}
}

// handleError processes the watcher's error stream. An overflow means
// events were dropped and files may have been missed, so the whole tree
// is rescanned to restore completeness; anything else is only logged.
func (w *watcher) handleError(err error) {
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		logger.Warn("archive watcher overflowed, rescanning", "root", w.root)
		w.rescan(w.root)
		return
	}
	logger.Warn("archive watcher error", "error", err)
}

func (w *watcher) handle(event fsnotify.Event) {
	if w.isHidden(event.Name) {
		return
	}

	switch {
	case event.Op&fsnotify.Create != 0:
		w.handleCreate(event.Name)
	case event.Op&fsnotify.Write != 0:
		w.scheduleReport(event.Name)
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.handleRemove(event.Name)
	}
}

func (w *watcher) isHidden(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return true
	}
	return rel == archivepath.HiddenDir || strings.HasPrefix(rel, archivepath.HiddenDir+string(filepath.Separator))
}

// handleCreate processes a path appearing in the visible tree. A new
// directory is watched and rescanned for any files it already contains
// (covers both "mkdir then populate" and a directory moved in whole);
// a new regular file not already known to the archive is treated as a
// freshly completed, whole file.
func (w *watcher) handleCreate(path string) {
	fi, err := os.Stat(path)
	if err != nil {
		return // gone again already; nothing to report
	}

	if fi.IsDir() {
		if err := w.addTreeRecursive(path); err != nil {
			logger.Warn("archive watcher failed to watch new directory", "path", path, "error", err)
		}
		w.rescan(path)
		return
	}

	w.scheduleReport(path)
}

// scheduleReport (re)arms path's settle timer. Every CREATE/WRITE event
// pushes the report out another settleDelay; the file is offered once
// it goes quiet.
func (w *watcher) scheduleReport(path string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Reset(settleDelay)
		return
	}
	w.pending[path] = time.AfterFunc(settleDelay, func() {
		w.pendingMu.Lock()
		delete(w.pending, path)
		w.pendingMu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}

		fi, err := os.Stat(path)
		if err != nil || fi.IsDir() {
			return
		}
		w.reportFile(path, fi)
	})
}

func (w *watcher) reportFile(path string, fi os.FileInfo) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return
	}
	ap, err := archivepath.New(filepath.ToSlash(rel))
	if err != nil {
		return
	}

	if _, known := w.a.KnownPieces(ap); known {
		return // already materialized via PutPiece; avoid a duplicate notice
	}

	info := fileid.New(ap, archivetime.FromTime(fi.ModTime()), fi.Size(), w.a.pieceSize, fileid.NeverExpireTTL)
	w.a.notifyAppeared(piece.NewFilePieceSpecs(info, true))
}

func (w *watcher) handleRemove(path string) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return
	}
	ap, err := archivepath.New(filepath.ToSlash(rel))
	if err != nil {
		return
	}

	at := archivetime.Now()
	if info, known := w.a.KnownPieces(ap); known {
		at = info.Info.ID.Time
	}
	w.a.notifyRemoved(fileid.FileId{Path: ap, Time: at})
}

// rescan walks dir reporting every regular file found, used after
// directory-level CREATE events and after an fsnotify overflow forces a
// full resync. Rescanning restores completeness instead of treating a
// dropped event as a silent miss.
func (w *watcher) rescan(dir string) {
	filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		fi, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		w.reportFile(p, fi)
		return nil
	})
}

func (w *watcher) addTreeRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, p)
		if relErr == nil && (rel == archivepath.HiddenDir || strings.HasPrefix(rel, archivepath.HiddenDir+string(filepath.Separator))) {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}
