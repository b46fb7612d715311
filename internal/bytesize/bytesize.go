// Package bytesize parses and renders human-readable byte counts for
// configuration fields such as the archive piece size ("128Ki",
// "131072", "1MB").
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a byte count decoded from config. Plain integers, decimal
// units (KB = 1000) and binary units (KiB = 1024) are all accepted;
// unit suffixes are case-insensitive and the trailing "B" is optional
// ("1Ki" == "1KiB").
type ByteSize uint64

const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

// suffixes is ordered longest-first so "kib" wins over "ki" and "k"
// when trimming.
var suffixes = []struct {
	text string
	mult ByteSize
}{
	{"kib", KiB}, {"mib", MiB}, {"gib", GiB}, {"tib", TiB},
	{"kb", KB}, {"mb", MB}, {"gb", GB}, {"tb", TB},
	{"ki", KiB}, {"mi", MiB}, {"gi", GiB}, {"ti", TiB},
	{"k", KB}, {"m", MB}, {"g", GB}, {"t", TB},
	{"b", B},
}

// ParseByteSize converts a string like "1Gi", "100MB" or "131072" into
// a ByteSize.
func ParseByteSize(s string) (ByteSize, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("empty byte size string")
	}

	num := trimmed
	mult := B
	lower := strings.ToLower(trimmed)
	for _, suf := range suffixes {
		if strings.HasSuffix(lower, suf.text) {
			num = strings.TrimSpace(trimmed[:len(trimmed)-len(suf.text)])
			mult = suf.mult
			break
		}
	}
	if num == "" {
		return 0, fmt.Errorf("invalid byte size format: %q", s)
	}

	if strings.Contains(num, ".") {
		f, err := strconv.ParseFloat(num, 64)
		if err != nil || f < 0 {
			return 0, fmt.Errorf("invalid byte size format: %q", s)
		}
		return ByteSize(f * float64(mult)), nil
	}

	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size format: %q", s)
	}
	return ByteSize(n) * mult, nil
}

// UnmarshalText lets ByteSize fields decode directly from config text.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// String renders the size in the largest binary unit that fits.
func (b ByteSize) String() string {
	switch {
	case b >= TiB:
		return fmt.Sprintf("%.2fTiB", float64(b)/float64(TiB))
	case b >= GiB:
		return fmt.Sprintf("%.2fGiB", float64(b)/float64(GiB))
	case b >= MiB:
		return fmt.Sprintf("%.2fMiB", float64(b)/float64(MiB))
	case b >= KiB:
		return fmt.Sprintf("%.2fKiB", float64(b)/float64(KiB))
	default:
		return fmt.Sprintf("%dB", uint64(b))
	}
}

// Uint64 returns the raw byte count.
func (b ByteSize) Uint64() uint64 {
	return uint64(b)
}

// Int64 returns the byte count as an int64 for APIs that size files and
// offsets that way.
func (b ByteSize) Int64() int64 {
	return int64(b)
}
