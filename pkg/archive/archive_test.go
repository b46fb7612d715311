package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/sruth/pkg/archivepath"
	"github.com/marmos91/sruth/pkg/archivetime"
	"github.com/marmos91/sruth/pkg/fileid"
	"github.com/marmos91/sruth/pkg/piece"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	root := t.TempDir()
	a, err := New(Config{RootDir: root, ActiveFileCacheSize: 4, PieceSize: 8}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func testInfo(t *testing.T, path string, size int64) fileid.FileInfo {
	t.Helper()
	ap := archivepath.MustNew(path)
	return fileid.New(ap, archivetime.Now(), size, 8, fileid.NeverExpireTTL)
}

func TestPutPieceCompletesAndMaterializes(t *testing.T) {
	a := newTestArchive(t)
	info := testInfo(t, "docs/readme.txt", 12)

	complete, err := a.PutPiece(piece.Piece{Info: info, Index: 0, Payload: []byte("12345678")})
	if err != nil {
		t.Fatalf("PutPiece(0): %v", err)
	}
	if complete {
		t.Fatal("file reported complete after only one of two pieces")
	}

	complete, err = a.PutPiece(piece.Piece{Info: info, Index: 1, Payload: []byte("1234")})
	if err != nil {
		t.Fatalf("PutPiece(1): %v", err)
	}
	if !complete {
		t.Fatal("file did not report complete after its last piece")
	}

	visible := filepath.Join(a.root, "docs", "readme.txt")
	data, err := os.ReadFile(visible)
	if err != nil {
		t.Fatalf("reading materialized file: %v", err)
	}
	if string(data) != "123456781234" {
		t.Errorf("materialized content = %q, want %q", data, "123456781234")
	}

	hidden := hiddenPath(a.root, info.ID.Path)
	if _, err := os.Stat(hidden); !os.IsNotExist(err) {
		t.Errorf("hidden staging file still exists at %s", hidden)
	}
}

func TestGetPieceAndExists(t *testing.T) {
	a := newTestArchive(t)
	info := testInfo(t, "a.bin", 8)

	spec := piece.PieceSpec{Info: info, Index: 0}
	if a.Exists(spec) {
		t.Fatal("Exists true before any write")
	}

	if _, err := a.PutPiece(piece.Piece{Info: info, Index: 0, Payload: []byte("abcdefgh")}); err != nil {
		t.Fatalf("PutPiece: %v", err)
	}

	if !a.Exists(spec) {
		t.Fatal("Exists false after completing the only piece")
	}

	got, ok, err := a.GetPiece(spec)
	if err != nil || !ok {
		t.Fatalf("GetPiece: ok=%v err=%v", ok, err)
	}
	if string(got.Payload) != "abcdefgh" {
		t.Errorf("GetPiece payload = %q, want %q", got.Payload, "abcdefgh")
	}
}

func TestPutPieceDiscardsStaleVersion(t *testing.T) {
	a := newTestArchive(t)
	path := archivepath.MustNew("v.bin")

	older := fileid.New(path, archivetime.ArchiveTime(1000), 8, 8, fileid.NeverExpireTTL)
	newer := fileid.New(path, archivetime.ArchiveTime(2000), 8, 8, fileid.NeverExpireTTL)

	if _, err := a.PutPiece(piece.Piece{Info: newer, Index: 0, Payload: []byte("newnewne")}); err != nil {
		t.Fatalf("PutPiece(newer): %v", err)
	}

	complete, err := a.PutPiece(piece.Piece{Info: older, Index: 0, Payload: []byte("oldoldol")})
	if err != nil {
		t.Fatalf("PutPiece(older): %v", err)
	}
	if complete {
		t.Fatal("a stale-version write should be silently discarded, not reported complete")
	}

	got, ok, err := a.GetPiece(piece.PieceSpec{Info: newer, Index: 0})
	if err != nil || !ok {
		t.Fatalf("GetPiece(newer): ok=%v err=%v", ok, err)
	}
	if string(got.Payload) != "newnewne" {
		t.Errorf("resident version was overwritten by a stale write: got %q", got.Payload)
	}
}

func TestRemoveDeletesVisibleFile(t *testing.T) {
	a := newTestArchive(t)
	info := testInfo(t, "gone.bin", 4)

	if _, err := a.PutPiece(piece.Piece{Info: info, Index: 0, Payload: []byte("bye!")}); err != nil {
		t.Fatalf("PutPiece: %v", err)
	}

	if err := a.Remove(info.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	visible := filepath.Join(a.root, "gone.bin")
	if _, err := os.Stat(visible); !os.IsNotExist(err) {
		t.Error("file still present after Remove")
	}
}

func TestSaveAndGetDistributedTrackerFiles(t *testing.T) {
	a := newTestArchive(t)

	if err := a.SaveTrackerSnapshot("tracker.example.com:9000", []byte("topology-bytes")); err != nil {
		t.Fatalf("SaveTrackerSnapshot: %v", err)
	}

	data, ok, err := a.GetDistributedTrackerFiles("tracker.example.com:9000")
	if err != nil || !ok {
		t.Fatalf("GetDistributedTrackerFiles: ok=%v err=%v", ok, err)
	}
	if string(data) != "topology-bytes" {
		t.Errorf("got %q, want %q", data, "topology-bytes")
	}
}

func TestLRUEvictsUnderCacheSize(t *testing.T) {
	a := newTestArchive(t) // ActiveFileCacheSize: 4

	var infos []fileid.FileInfo
	for i := 0; i < 6; i++ {
		info := testInfo(t, fmt.Sprintf("f%d.bin", i), 16)
		infos = append(infos, info)
		if _, err := a.PutPiece(piece.Piece{Info: info, Index: 0, Payload: []byte("aaaaaaaa")}); err != nil {
			t.Fatalf("PutPiece(%d,0): %v", i, err)
		}
	}

	a.mu.Lock()
	openCount := a.openLRU.Len()
	a.mu.Unlock()
	if openCount > a.cacheSize {
		t.Errorf("open handle count %d exceeds cache size %d", openCount, a.cacheSize)
	}

	// the earlier files' second pieces must still be writable even though
	// their handles were evicted.
	if _, err := a.PutPiece(piece.Piece{Info: infos[0], Index: 1, Payload: []byte("bbbbbbbb")}); err != nil {
		t.Fatalf("PutPiece after eviction: %v", err)
	}
}

func TestWalkSkipsHiddenTree(t *testing.T) {
	a := newTestArchive(t)
	info := testInfo(t, "visible.bin", 4)
	if _, err := a.PutPiece(piece.Piece{Info: info, Index: 0, Payload: []byte("data")}); err != nil {
		t.Fatalf("PutPiece: %v", err)
	}

	var seen []string
	err := a.Walk(func(archivepath.ArchivePath) bool { return true }, func(fi fileid.FileInfo) {
		seen = append(seen, fi.ID.Path.String())
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}

	if len(seen) != 1 || seen[0] != "visible.bin" {
		t.Errorf("Walk visited %v, want exactly [visible.bin]", seen)
	}
}

func TestDelayedPathActionQueueFiresOnSchedule(t *testing.T) {
	root := t.TempDir()
	q, err := OpenDelayedPathActionQueue(filepath.Join(root, "queue"), root)
	if err != nil {
		t.Fatalf("OpenDelayedPathActionQueue: %v", err)
	}
	defer q.Close()

	target := filepath.Join(root, "to-delete.bin")
	if err := os.WriteFile(target, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	if err := q.Schedule(target, time.Now().Add(10*time.Millisecond)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(target); os.IsNotExist(err) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("scheduled deletion did not fire in time")
}

func TestTTLExpiryRemovesFileAndEmptyAncestors(t *testing.T) {
	a := newTestArchive(t)
	ap := archivepath.MustNew("deep/nested/short.bin")
	info := fileid.New(ap, archivetime.Now(), 8, 8, 300*time.Millisecond)

	complete, err := a.PutPiece(piece.Piece{Info: info, Index: 0, Payload: []byte("12345678")})
	if err != nil || !complete {
		t.Fatalf("PutPiece: complete=%v err=%v", complete, err)
	}

	visible := filepath.Join(a.root, "deep", "nested", "short.bin")
	if _, err := os.Stat(visible); err != nil {
		t.Fatalf("file not materialized: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, fileErr := os.Stat(visible)
		_, dirErr := os.Stat(filepath.Join(a.root, "deep"))
		if os.IsNotExist(fileErr) && os.IsNotExist(dirErr) {
			// Root itself must survive.
			if _, err := os.Stat(a.root); err != nil {
				t.Fatalf("archive root removed: %v", err)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("TTL expiry did not remove the file and its empty ancestors")
}

func TestGetPieceServesOperatorDroppedFiles(t *testing.T) {
	a := newTestArchive(t)

	data := []byte("0123456789ab") // two pieces at pieceSize 8
	full := filepath.Join(a.root, "dropped", "file.bin")
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(full, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// Walk derives the FileId a remote peer would be offered.
	var info fileid.FileInfo
	found := false
	err := a.Walk(func(archivepath.ArchivePath) bool { return true }, func(fi fileid.FileInfo) {
		info = fi
		found = true
	})
	if err != nil || !found {
		t.Fatalf("Walk: found=%v err=%v", found, err)
	}

	if !a.Exists(piece.PieceSpec{Info: info, Index: 1}) {
		t.Fatal("Exists false for an on-disk file")
	}

	p, ok, err := a.GetPiece(piece.PieceSpec{Info: info, Index: 1})
	if err != nil || !ok {
		t.Fatalf("GetPiece: ok=%v err=%v", ok, err)
	}
	if string(p.Payload) != "89ab" {
		t.Errorf("payload = %q, want %q", p.Payload, "89ab")
	}

	// A stale FileId (different time) must not be served.
	stale := info
	stale.ID.Time = info.ID.Time - 1000
	if a.Exists(piece.PieceSpec{Info: stale, Index: 0}) {
		t.Error("Exists true for a stale version")
	}
}

func TestPartialFilePersistsTrailingBitmap(t *testing.T) {
	a := newTestArchive(t)
	info := testInfo(t, "a/b.txt", 16) // two pieces

	if _, err := a.PutPiece(piece.Piece{Info: info, Index: 0, Payload: []byte("12345678")}); err != nil {
		t.Fatalf("PutPiece: %v", err)
	}

	hidden := hiddenPath(a.root, info.ID.Path)
	if _, err := os.Stat(hidden); err != nil {
		t.Fatalf("hidden staging file missing: %v", err)
	}

	bits, ok := readTrailingBitmap(hidden, info)
	if !ok {
		t.Fatal("trailing bitmap not recoverable from hidden file")
	}
	if !bits.IsSet(0) || bits.IsSet(1) {
		t.Errorf("recovered bitmap = {0:%v 1:%v}, want {0:true 1:false}", bits.IsSet(0), bits.IsSet(1))
	}

	// A different version of the same path must not inherit it.
	newer := fileid.New(info.ID.Path, info.ID.Time+1000, 16, 8, fileid.NeverExpireTTL)
	if _, ok := readTrailingBitmap(hidden, newer); ok {
		t.Error("stale trailing bitmap accepted for a newer version")
	}
}

func TestTrailingBitmapResumesAcrossReopen(t *testing.T) {
	a := newTestArchive(t)
	info := testInfo(t, "resume/f.bin", 16)

	if _, err := a.PutPiece(piece.Piece{Info: info, Index: 1, Payload: []byte("87654321")}); err != nil {
		t.Fatalf("PutPiece(1): %v", err)
	}

	// Forget the in-memory state, keeping the hidden file: the next
	// write for the same version must resume from the persisted bitmap
	// rather than starting over.
	a.mu.Lock()
	df := a.byPath[info.ID.Path]
	a.discardLocked(df)
	a.mu.Unlock()
	df.mu.Lock()
	if df.handle != nil {
		df.handle.Close()
		df.handle = nil
	}
	df.mu.Unlock()

	complete, err := a.PutPiece(piece.Piece{Info: info, Index: 0, Payload: []byte("12345678")})
	if err != nil {
		t.Fatalf("PutPiece(0): %v", err)
	}
	if !complete {
		t.Fatal("file did not complete from resumed bitmap")
	}

	data, err := os.ReadFile(visiblePath(a.root, info.ID.Path))
	if err != nil {
		t.Fatalf("reading materialized file: %v", err)
	}
	if string(data) != "1234567887654321" {
		t.Errorf("content = %q, want %q", data, "1234567887654321")
	}
}

type recordingListener struct {
	mu       sync.Mutex
	appeared []piece.FilePieceSpecs
}

func (l *recordingListener) OnFileAppeared(spec piece.FilePieceSpecs) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appeared = append(l.appeared, spec)
}

func (l *recordingListener) OnFileRemoved(fileid.FileId) {}

func (l *recordingListener) appearedPaths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, spec := range l.appeared {
		out = append(out, spec.Info.ID.Path.String())
	}
	return out
}

func TestWatcherRescansOnOverflow(t *testing.T) {
	a := newTestArchive(t)

	// A file that predates the watcher: no CREATE event will ever fire
	// for it, so only an overflow-triggered rescan can surface it.
	full := filepath.Join(a.root, "missed", "file.bin")
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(full, []byte("payload"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := a.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	l := &recordingListener{}
	a.AddDataProductListener(l)

	a.watcher.handleError(fsnotify.ErrEventOverflow)

	paths := l.appearedPaths()
	found := false
	for _, p := range paths {
		if p == "missed/file.bin" {
			found = true
		}
	}
	if !found {
		t.Fatalf("overflow rescan did not report the missed file; reported %v", paths)
	}
}
