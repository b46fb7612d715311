package logger

import "os"

// isTerminal reports whether f is attached to an interactive terminal,
// deciding whether text output gets ANSI color. A character-device stat
// is portable across platforms and good enough for this purpose; the
// NO_COLOR convention and a dumb TERM opt out explicitly.
func isTerminal(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	st, err := f.Stat()
	if err != nil {
		return false
	}
	return st.Mode()&os.ModeCharDevice != 0
}
