// Package archivepath canonicalizes and validates the slash-separated,
// archive-relative pathnames used throughout SRUTH.
package archivepath

import (
	"errors"
	"path"
	"strings"
)

// HiddenDir is the reserved subtree name excluded from distribution and
// from the watcher/walk surface.
const HiddenDir = ".sruth"

// AdminDir is the reserved subtree for infinite-TTL administrative files
// such as redistributed tracker topology snapshots.
const AdminDir = "SRUTH"

// Errors returned by New. These are programmer-invariant failures (§7):
// callers are expected to validate user/network input before it reaches
// the archive.
var (
	ErrEmpty      = errors.New("archivepath: path is empty")
	ErrAbsolute   = errors.New("archivepath: path must not be absolute")
	ErrDotSegment = errors.New("archivepath: path must not contain . or .. segments")
	ErrHidden     = errors.New("archivepath: path must not enter the hidden .sruth subtree")
)

// ArchivePath is a canonicalized, slash-separated, non-absolute pathname
// relative to an archive root. Values are comparable and hashable.
type ArchivePath string

// New canonicalizes s into an ArchivePath, rejecting absolute paths, ".."
// segments, and paths entering the hidden .sruth subtree. "." segments
// and repeated slashes are removed by canonicalization.
func New(s string) (ArchivePath, error) {
	if s == "" {
		return "", ErrEmpty
	}

	for _, seg := range strings.Split(strings.ReplaceAll(s, `\`, "/"), "/") {
		if seg == ".." {
			return "", ErrDotSegment
		}
	}

	clean := path.Clean(strings.ReplaceAll(s, `\`, "/"))
	clean = strings.TrimPrefix(clean, "/")

	if path.IsAbs(s) {
		return "", ErrAbsolute
	}

	for _, seg := range strings.Split(clean, "/") {
		if seg == "." || seg == ".." {
			return "", ErrDotSegment
		}
		if seg == HiddenDir {
			return "", ErrHidden
		}
	}

	return ArchivePath(clean), nil
}

// MustNew is New but panics on error; intended for tests and constants.
func MustNew(s string) ArchivePath {
	p, err := New(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the canonical slash-separated pathname.
func (p ArchivePath) String() string {
	return string(p)
}

// IsAdmin reports whether p lies under the reserved admin subtree
// (infinite TTL, e.g. distributed tracker snapshots).
func (p ArchivePath) IsAdmin() bool {
	s := string(p)
	return s == AdminDir || strings.HasPrefix(s, AdminDir+"/")
}

// Dir returns the parent ArchivePath, or "" at the root.
func (p ArchivePath) Dir() ArchivePath {
	d := path.Dir(string(p))
	if d == "." {
		return ""
	}
	return ArchivePath(d)
}

// Base returns the final path element.
func (p ArchivePath) Base() string {
	return path.Base(string(p))
}
