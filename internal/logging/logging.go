// Package logging provides the structured logger used by the daemon-facing
// shmifctl commands (internal/cmd's connpoint and broker): the
// teacher's CLI surface logs with plain fmt.Fprintf to stderr and this
// project keeps that for direct user-facing output (internal/output), but
// a long-running connection point and a privileged broker
// needs leveled, field-structured logs the way the rest of the pack does it
// — adopted from zerolog (SPEC_FULL §2 domain stack).
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing to w (typically os.Stderr), at the
// given level, with a human-readable console writer when attached to a
// terminal and plain JSON lines otherwise — so daemonized parents (run
// under a supervisor, piped to a log file) emit machine-parseable output
// while an interactive `shmifctl connpoint` still reads comfortably.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	var out io.Writer = w
	if f, ok := w.(*os.File); ok && isTerminal(f) {
		out = zerolog.ConsoleWriter{Out: f, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// ParseLevel maps a CLI-facing level name (internal/cmd passes "debug" or
// "info") onto a zerolog.Level, defaulting to Info on anything
// unrecognized, the empty string included, rather than failing startup
// over a typo.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
