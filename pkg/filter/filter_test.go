package filter

import (
	"testing"

	"github.com/marmos91/sruth/pkg/archivepath"
)

func TestEverythingNothing(t *testing.T) {
	p := archivepath.MustNew("a/b.txt")
	if !Everything().Matches(p) {
		t.Error("Everything() should match everything")
	}
	if Nothing().Matches(p) {
		t.Error("Nothing() should match nothing")
	}
}

func TestPrefixMatches(t *testing.T) {
	f := NewPrefix("a/")
	if !f.Matches(archivepath.MustNew("a/b.txt")) {
		t.Error("expected prefix match")
	}
	if f.Matches(archivepath.MustNew("c/b.txt")) {
		t.Error("expected no prefix match")
	}
}

func TestRegexMatches(t *testing.T) {
	f, err := NewRegex(`\.txt$`)
	if err != nil {
		t.Fatal(err)
	}
	if !f.Matches(archivepath.MustNew("a/b.txt")) {
		t.Error("expected regex match")
	}
	if f.Matches(archivepath.MustNew("a/b.bin")) {
		t.Error("expected no regex match")
	}
}

func TestReduceAbsorbsEverything(t *testing.T) {
	got := Reduce(Everything(), NewPrefix("a/"))
	if got.Kind() != KindPrefix {
		t.Errorf("expected EVERYTHING absorbed, got kind %v", got.Kind())
	}
}

func TestReduceShortCircuitsNothing(t *testing.T) {
	got := Reduce(NewPrefix("a/"), Nothing())
	if got.Kind() != KindNothing {
		t.Errorf("expected NOTHING to short-circuit, got kind %v", got.Kind())
	}
}

func TestReduceIntersection(t *testing.T) {
	got := Reduce(NewPrefix("a/"), NewPrefix("a/b"))
	if got.Kind() != KindAnd {
		t.Fatalf("expected KindAnd, got %v", got.Kind())
	}
	if !got.Matches(archivepath.MustNew("a/b.txt")) {
		t.Error("expected intersection to match a/b.txt")
	}
	if got.Matches(archivepath.MustNew("a/c.txt")) {
		t.Error("expected intersection to reject a/c.txt")
	}
}
