package archivetime

import "testing"

func TestCompareReverseChronological(t *testing.T) {
	older := ArchiveTime(100)
	newer := ArchiveTime(200)

	if Compare(newer, older) >= 0 {
		t.Errorf("Compare(newer, older) = %d, want negative", Compare(newer, older))
	}
	if Compare(older, newer) <= 0 {
		t.Errorf("Compare(older, newer) = %d, want positive", Compare(older, newer))
	}
	if Compare(older, older) != 0 {
		t.Errorf("Compare(older, older) = %d, want 0", Compare(older, older))
	}
}

func TestNewerOlderThan(t *testing.T) {
	older := ArchiveTime(100)
	newer := ArchiveTime(200)

	if !newer.NewerThan(older) {
		t.Error("expected newer.NewerThan(older)")
	}
	if !older.OlderThan(newer) {
		t.Error("expected older.OlderThan(newer)")
	}
}

func TestFromTimeRoundTrip(t *testing.T) {
	at := Now()
	if at.Time().UnixMilli() != at.Millis() {
		t.Error("round trip through Time() changed the millisecond value")
	}
}
