// Package archivetime defines ArchiveTime, the millisecond-resolution
// timestamp associated with a versioned archive file.
package archivetime

import "time"

// ArchiveTime is a millisecond-resolution timestamp. Sorted structures
// that order by ArchiveTime place the freshest version first: newer
// timestamps compare as "less" than older ones. Use Compare, not the raw
// integer value, whenever that ordering matters.
type ArchiveTime int64

// Now returns the current time as an ArchiveTime.
func Now() ArchiveTime {
	return FromTime(time.Now())
}

// FromTime converts a time.Time to an ArchiveTime.
func FromTime(t time.Time) ArchiveTime {
	return ArchiveTime(t.UnixMilli())
}

// Time converts an ArchiveTime back to a time.Time (UTC).
func (t ArchiveTime) Time() time.Time {
	return time.UnixMilli(int64(t)).UTC()
}

// Millis returns the raw millisecond count since the Unix epoch.
func (t ArchiveTime) Millis() int64 {
	return int64(t)
}

// NewerThan reports whether t is chronologically later than other.
func (t ArchiveTime) NewerThan(other ArchiveTime) bool {
	return t > other
}

// OlderThan reports whether t is chronologically earlier than other.
func (t ArchiveTime) OlderThan(other ArchiveTime) bool {
	return t < other
}

// Equal reports whether t and other identify the same version.
func (t ArchiveTime) Equal(other ArchiveTime) bool {
	return t == other
}

// Compare orders ArchiveTimes reverse-chronologically: it returns a
// negative number if a is newer than b, a positive number if a is older,
// and 0 if they are equal. This is the ordering sorted structures (e.g.
// version lists) should use to place the freshest version first.
func Compare(a, b ArchiveTime) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	default:
		return 0
	}
}
