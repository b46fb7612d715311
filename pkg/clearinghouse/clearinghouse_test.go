package clearinghouse

import (
	"sync"
	"testing"

	"github.com/marmos91/sruth/pkg/archive"
	"github.com/marmos91/sruth/pkg/archivepath"
	"github.com/marmos91/sruth/pkg/archivetime"
	"github.com/marmos91/sruth/pkg/fileid"
	"github.com/marmos91/sruth/pkg/filter"
	"github.com/marmos91/sruth/pkg/piece"
)

type fakePeer struct {
	id   string
	pred *filter.Predicate

	mu       sync.Mutex
	notices  []piece.FilePieceSpecs
	removals []fileid.FileId
}

func (f *fakePeer) ID() string { return f.id }

func (f *fakePeer) RemotePredicate() *filter.Predicate { return f.pred }

func (f *fakePeer) SendNotice(spec piece.FilePieceSpecs) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, spec)
}

func (f *fakePeer) SendRemoval(id fileid.FileId) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removals = append(f.removals, id)
}

func (f *fakePeer) noticeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notices)
}

func newTestHouse(t *testing.T, pred *filter.Predicate) *ClearingHouse {
	t.Helper()
	a, err := archive.New(archive.Config{
		RootDir:             t.TempDir(),
		ActiveFileCacheSize: 4,
		PieceSize:           8,
	}, nil)
	if err != nil {
		t.Fatalf("archive.New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return New(a, pred, nil)
}

func testInfo(path string, size int64) fileid.FileInfo {
	return fileid.New(archivepath.MustNew(path), archivetime.Now(), size, 8, fileid.NeverExpireTTL)
}

func TestShouldRequestSingleResponsibility(t *testing.T) {
	ch := newTestHouse(t, filter.New(filter.Everything()))
	info := testInfo("f.bin", 8)

	if !ch.ShouldRequest(info, 0, "peer-1") {
		t.Fatal("first offer was not accepted")
	}
	// Second peer offering the same piece must not be asked too.
	if ch.ShouldRequest(info, 0, "peer-2") {
		t.Fatal("piece requested from two peers concurrently")
	}
	if got := ch.OutstandingCount(); got != 1 {
		t.Errorf("OutstandingCount = %d, want 1", got)
	}
}

func TestShouldRequestRespectsPredicate(t *testing.T) {
	ch := newTestHouse(t, filter.New(filter.NewPrefix("images/")))

	if ch.ShouldRequest(testInfo("docs/a.txt", 8), 0, "p") {
		t.Error("requested a piece outside the predicate")
	}
	if !ch.ShouldRequest(testInfo("images/a.png", 8), 0, "p") {
		t.Error("refused a piece inside the predicate")
	}
}

func TestShouldRequestSkipsHeldPieces(t *testing.T) {
	ch := newTestHouse(t, filter.New(filter.Everything()))
	info := testInfo("f.bin", 8)

	if _, err := ch.Archive().PutPiece(piece.Piece{Info: info, Index: 0, Payload: []byte("12345678")}); err != nil {
		t.Fatalf("PutPiece: %v", err)
	}
	if ch.ShouldRequest(info, 0, "p") {
		t.Error("requested a piece the archive already holds")
	}
}

func TestPieceArrivedSettlesOutstanding(t *testing.T) {
	ch := newTestHouse(t, filter.New(filter.Everything()))
	info := testInfo("f.bin", 8)

	ch.ShouldRequest(info, 0, "peer-1")
	complete, err := ch.PieceArrived(piece.Piece{Info: info, Index: 0, Payload: []byte("12345678")})
	if err != nil {
		t.Fatalf("PieceArrived: %v", err)
	}
	if !complete {
		t.Fatal("single-piece file not reported complete")
	}
	if got := ch.OutstandingCount(); got != 0 {
		t.Errorf("OutstandingCount after arrival = %d, want 0", got)
	}
}

func TestUnregisterReclaimsOutstanding(t *testing.T) {
	ch := newTestHouse(t, filter.New(filter.Everything()))
	info := testInfo("f.bin", 8)

	p1 := &fakePeer{id: "peer-1", pred: filter.New(filter.Nothing())}
	ch.Register(p1)
	ch.ShouldRequest(info, 0, "peer-1")

	ch.Unregister(p1)
	if got := ch.OutstandingCount(); got != 0 {
		t.Fatalf("OutstandingCount after unregister = %d, want 0", got)
	}

	// The demand returned to the pool: another peer may now be asked.
	if !ch.ShouldRequest(info, 0, "peer-2") {
		t.Error("reclaimed piece could not be re-requested")
	}
}

func TestFanOutHonorsRemotePredicates(t *testing.T) {
	ch := newTestHouse(t, filter.New(filter.Nothing()))

	images := &fakePeer{id: "images", pred: filter.New(filter.NewPrefix("images/"))}
	everything := &fakePeer{id: "all", pred: filter.New(filter.Everything())}
	ch.Register(images)
	ch.Register(everything)

	info := testInfo("docs/readme.txt", 8)
	if _, err := ch.Archive().PutPiece(piece.Piece{Info: info, Index: 0, Payload: []byte("12345678")}); err != nil {
		t.Fatalf("PutPiece: %v", err)
	}

	if got := everything.noticeCount(); got != 1 {
		t.Errorf("matching peer got %d notices, want 1", got)
	}
	if got := images.noticeCount(); got != 0 {
		t.Errorf("non-matching peer got %d notices, want 0", got)
	}
}

func TestCompletionMarksPredicateSatisfied(t *testing.T) {
	pred := filter.New(filter.NewPrefix("docs/"))
	ch := newTestHouse(t, pred)
	info := testInfo("docs/a.txt", 8)

	ch.ShouldRequest(info, 0, "p")
	if _, err := ch.PieceArrived(piece.Piece{Info: info, Index: 0, Payload: []byte("12345678")}); err != nil {
		t.Fatalf("PieceArrived: %v", err)
	}

	// Satisfied filters are no longer requested.
	if ch.ShouldRequest(testInfo("docs/b.txt", 8), 0, "p") {
		t.Error("satisfied filter still produced a request")
	}
}
